// internal/alerts/rabbitmq.go
package alerts

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/Reptitalz/credits-service/internal/payment"
)

// AlertQueue is where critical reconciliation failures land. The on-call
// tooling consumes this queue; if an alert sits here, a human is supposed to
// look at it.
const AlertQueue = "ops.payment-alerts"

// Notifier publishes operator alerts over RabbitMQ. Logging alone is not
// enough for "money collected, nowhere to put it" failures, so these go out
// on a durable queue as well.
type Notifier struct {
	conn *amqp.Connection
	chn  *amqp.Channel
}

func NewNotifier(url string) (*Notifier, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("alerts: dial rabbitmq: %w", err)
	}
	chn, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("alerts: open channel: %w", err)
	}
	// Durable queue so alerts survive a broker restart.
	if _, err := chn.QueueDeclare(AlertQueue, true, false, false, false, nil); err != nil {
		chn.Close()
		conn.Close()
		return nil, fmt.Errorf("alerts: declare queue: %w", err)
	}
	return &Notifier{conn: conn, chn: chn}, nil
}

func (n *Notifier) Close() error {
	if err := n.chn.Close(); err != nil {
		return err
	}
	return n.conn.Close()
}

// PublishAlert satisfies payment.AlertPublisher.
func (n *Notifier) PublishAlert(ctx context.Context, alert payment.OperatorAlert) error {
	body, err := json.Marshal(alert)
	if err != nil {
		return err
	}
	return n.chn.PublishWithContext(
		ctx,
		"",         // default exchange
		AlertQueue, // routing key
		false,      // mandatory
		false,      // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
		},
	)
}

// internal/dlq/redis.go
package dlq

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"

	"github.com/Reptitalz/credits-service/internal/metrics"
)

// Key is the list that holds paid-but-unapplicable webhook payloads. Manual
// reconciliation drains it; this service only ever pushes.
const Key = "payments:unattributable"

// Message wraps the original payload with when and why it was parked.
type Message struct {
	At      time.Time       `json:"at"`
	Error   string          `json:"error"`
	Payload json.RawMessage `json:"payload"`
}

// Client parks raw webhook bodies in a redis list. Satisfies
// payment.DeadLetter.
type Client struct {
	cli *redis.Client
}

func New(addr string) *Client {
	return &Client{cli: redis.NewClient(&redis.Options{Addr: addr})}
}

// Push is best-effort: the payment is already acknowledged to the processor
// by the time we get here, so a failed push degrades to log-only visibility
// rather than failing the request.
func (c *Client) Push(ctx context.Context, payload []byte, cause error) {
	msg := Message{At: time.Now().UTC(), Error: cause.Error(), Payload: json.RawMessage(payload)}
	b, _ := json.Marshal(msg)
	if _, err := c.cli.LPush(ctx, Key, b).Result(); err != nil {
		log.Error().Str("component", "dlq").Err(err).Msg("redis DLQ push failed")
		return
	}
	metrics.DLQCount.Inc()
}

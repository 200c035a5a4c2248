// internal/payment/payment.interfaces.go
package payment

import (
	"context"
)

// ReceiptStore is the persistence boundary of the reconciler. Small interface
// on purpose: the reconciler only ever needs a duplicate lookup and the one
// atomic state transition.
type ReceiptStore interface {
	// GetReceiptByProviderPaymentID looks up an existing receipt. Returns
	// ErrDuplicateReceipt semantics via a found receipt; a missing receipt
	// is (nil, nil), not an error, because "not reconciled yet" is the
	// normal starting state.
	GetReceiptByProviderPaymentID(ctx context.Context, providerPaymentID string) (*Receipt, error)

	// Reconcile performs the atomic unit of work: insert the receipt
	// (conditional on no receipt existing for its ProviderPaymentID) and
	// increment the target account's credits, both or neither.
	//
	// Returns ErrDuplicateReceipt if another delivery won the race, and
	// accounts.ErrAccountNotFound if the decoded account does not exist.
	// Any other error is transient and safe to retry from scratch.
	Reconcile(ctx context.Context, receipt *Receipt) error
}

// AlertPublisher pushes critical reconciliation failures at operators.
// Implemented by the RabbitMQ notifier; mocked in tests.
type AlertPublisher interface {
	PublishAlert(ctx context.Context, alert OperatorAlert) error
}

// EventPublisher is the fire-and-forget outbound side of a successful
// reconciliation. The notification sender downstream consumes these; we do
// not wait for it and a publish failure never fails the reconciliation.
type EventPublisher interface {
	Publish(ctx context.Context, key string, value interface{}) error
}

// DeadLetter captures raw webhook payloads that were genuinely paid but
// cannot be applied (undecodable reference, missing account), so manual
// reconciliation has the full original bytes to work from.
type DeadLetter interface {
	Push(ctx context.Context, payload []byte, cause error)
}

// internal/payment/models.payment.go
package payment

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Standard payment errors.
var (
	// ErrSignatureInvalid means the webhook did not prove it came from the
	// processor. Nothing state-changing may run after this.
	ErrSignatureInvalid = errors.New("payment: webhook signature invalid")

	// ErrMalformedPayload means the body could not be parsed into an event.
	// Mapped to a 400 so the processor knows retrying the identical bytes
	// is pointless.
	ErrMalformedPayload = errors.New("payment: webhook payload malformed")

	// ErrDuplicateReceipt means a receipt already exists for this provider
	// payment id. This is the normal outcome of webhook retries, not a bug.
	ErrDuplicateReceipt = errors.New("payment: receipt already recorded for payment id")

	// ErrGatewayRejected wraps a processor-side rejection of order creation.
	ErrGatewayRejected = errors.New("payment: processor rejected the order")

	// ErrInvalidCreditAmount guards order creation input.
	ErrInvalidCreditAmount = errors.New("payment: credits requested must be a positive integer")
)

// Status is the normalized lifecycle state of an external payment.
type Status string

const (
	StatusApproved Status = "approved"
	StatusPending  Status = "pending"
	StatusDeclined Status = "declined"
	StatusUnknown  Status = "unknown"
)

// NormalizedEvent is the universal language of this subsystem. Whether the
// bytes came from the SPEI gateway or from MercadoPago, by the time they reach
// the reconciler they always look like this.
type NormalizedEvent struct {
	Provider          string // "conekta", "mercadopago"
	ProviderPaymentID string // opaque external id, globally unique per provider
	Status            Status
	OrderReference    string // encoded {accountID, credits, createdAt} triple
	AmountCents       int64
	Currency          string
	PaymentMethod     string // e.g. "spei", "bank_transfer"
	PayerName         string
	PayerEmail        string
}

// Receipt is the durable, append-only record of one reconciled payment.
// ProviderPaymentID is the natural idempotency key: at most one receipt may
// ever exist per id, and the store enforces that with a uniqueness constraint.
// Receipts are created exactly once, inside the same transaction that bumps
// the account balance, and never updated or deleted afterwards.
type Receipt struct {
	ReceiptID         uuid.UUID
	ProviderPaymentID string
	AccountID         string
	Credits           int64
	AmountCents       int64
	Currency          string
	Provider          string
	PaymentMethod     string
	Status            string
	PayerName         string
	CreatedAt         time.Time
}

// OperatorAlert is what we push at a human when a payment cannot be applied.
// These are the failures end users never see directly (their balance just
// silently fails to move), which is exactly why they must not stay buried in
// logs.
type OperatorAlert struct {
	Severity          string    `json:"severity"` // "critical"
	Code              string    `json:"code"`     // "reference_undecodable", "account_missing"
	Provider          string    `json:"provider"`
	ProviderPaymentID string    `json:"provider_payment_id"`
	AccountID         string    `json:"account_id,omitempty"`
	Detail            string    `json:"detail"`
	At                time.Time `json:"at"`
}

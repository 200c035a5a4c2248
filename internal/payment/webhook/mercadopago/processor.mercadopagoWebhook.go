// internal/payment/webhook/mercadopago/processor.mercadopagoWebhook.go
package mercadopago

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/Reptitalz/credits-service/internal/payment"
	"github.com/Reptitalz/credits-service/internal/payment/webhook"
)

const providerName = "mercadopago"

// Header names for the signature scheme. The signature header is a
// comma-separated list of pairs containing at least ts and v1.
const (
	SignatureHeader = "X-Signature"
	RequestIDHeader = "X-Request-Id"
)

// Payment is the full payment object obtained from the follow-up lookup.
// The webhook envelope only carries an id; everything we actually need
// (status, external reference, amount, payer) lives here.
type Payment struct {
	ID                string  `json:"-"`
	Status            string  `json:"status"`
	ExternalReference string  `json:"external_reference"`
	TransactionAmount float64 `json:"transaction_amount"` // major units
	CurrencyID        string  `json:"currency_id"`
	PaymentMethodID   string  `json:"payment_method_id"`
	Payer             struct {
		Email     string `json:"email"`
		FirstName string `json:"first_name"`
		LastName  string `json:"last_name"`
	} `json:"payer"`
}

// PaymentLookup fetches the full payment object for an id from the envelope.
// Implemented by the HTTP client; faked in tests.
type PaymentLookup interface {
	GetPayment(ctx context.Context, paymentID string) (*Payment, error)
}

// Processor verifies and parses webhooks from the bank-transfer gateway.
type Processor struct {
	secret        string
	lookup        PaymentLookup
	allowInsecure bool // skip verification when unconfigured, non-production only
}

func New(secret string, lookup PaymentLookup, allowInsecure bool) *Processor {
	return &Processor{secret: secret, lookup: lookup, allowInsecure: allowInsecure}
}

func (p *Processor) Provider() string { return providerName }

// envelope is the id-only shape: {type, data: {id}}. The id may arrive as a
// JSON string or a bare number depending on the notification channel.
type envelope struct {
	Type string `json:"type"`
	Data struct {
		ID flexID `json:"id"`
	} `json:"data"`
}

// flexID tolerates both "123" and 123.
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "null" {
		s = ""
	}
	*f = flexID(s)
	return nil
}

func (p *Processor) VerifyAndParse(ctx context.Context, payload []byte, headers map[string]string) (*payment.NormalizedEvent, error) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", payment.ErrMalformedPayload, err)
	}

	paymentID := string(env.Data.ID)
	if err := p.verify(paymentID, headers); err != nil {
		return nil, err
	}

	if env.Type == "" {
		return nil, fmt.Errorf("%w: missing event type", payment.ErrMalformedPayload)
	}
	// Only "payment" notifications matter here; merchant_order, plan and
	// the rest are acknowledged and dropped.
	if env.Type != "payment" {
		return nil, nil
	}
	if paymentID == "" {
		return nil, fmt.Errorf("%w: payment event without data.id", payment.ErrMalformedPayload)
	}

	// The envelope is just a pointer. Fetch the real payment; a lookup
	// failure is transient, the processor will redeliver.
	pay, err := p.lookup.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, fmt.Errorf("payment lookup for %s failed: %w", paymentID, err)
	}

	return &payment.NormalizedEvent{
		Provider:          providerName,
		ProviderPaymentID: paymentID,
		Status:            mapStatus(pay.Status),
		OrderReference:    pay.ExternalReference,
		AmountCents:       int64(math.Round(pay.TransactionAmount * 100)),
		Currency:          strings.ToUpper(pay.CurrencyID),
		PaymentMethod:     pay.PaymentMethodID,
		PayerName:         strings.TrimSpace(pay.Payer.FirstName + " " + pay.Payer.LastName),
		PayerEmail:        pay.Payer.Email,
	}, nil
}

// verify checks the ts/v1 pair against an HMAC-SHA256 over the canonical
// manifest "id:<paymentId>;request-id:<reqId>;ts:<ts>;".
func (p *Processor) verify(paymentID string, headers map[string]string) error {
	if p.secret == "" {
		if !p.allowInsecure {
			return fmt.Errorf("%w: no signing secret configured", payment.ErrSignatureInvalid)
		}
		log.Warn().
			Str("component", "webhook").
			Str("provider", providerName).
			Msg("signature verification SKIPPED: no signing secret configured (non-production only)")
		return nil
	}

	sig := headers[SignatureHeader]
	if sig == "" {
		return fmt.Errorf("%w: missing %s header", payment.ErrSignatureInvalid, SignatureHeader)
	}
	pairs := webhook.ParseSignatureHeader(sig)
	ts, v1 := pairs["ts"], pairs["v1"]
	if ts == "" || v1 == "" {
		return fmt.Errorf("%w: signature header missing ts or v1", payment.ErrSignatureInvalid)
	}

	manifest := Manifest(paymentID, headers[RequestIDHeader], ts)
	if !webhook.ValidHMAC([]byte(p.secret), []byte(manifest), v1) {
		return fmt.Errorf("%w: digest mismatch", payment.ErrSignatureInvalid)
	}
	return nil
}

// Manifest builds the canonical string the digest is computed over.
// Exported so order-creation integration tests can sign fixtures.
func Manifest(paymentID, requestID, ts string) string {
	return fmt.Sprintf("id:%s;request-id:%s;ts:%s;", paymentID, requestID, ts)
}

func mapStatus(status string) payment.Status {
	switch status {
	case "approved", "accredited":
		return payment.StatusApproved
	case "pending", "in_process", "authorized":
		return payment.StatusPending
	case "rejected", "cancelled", "refunded", "charged_back":
		return payment.StatusDeclined
	default:
		return payment.StatusUnknown
	}
}

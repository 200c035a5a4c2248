// internal/payment/gateway/conekta_gateway.go
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/Reptitalz/credits-service/internal/accounts"
	"github.com/Reptitalz/credits-service/internal/credits"
	"github.com/Reptitalz/credits-service/internal/payment"
)

// How long an unpaid SPEI order stays payable. Stale orders must not hang
// around collecting dust forever.
const orderTTL = 24 * time.Hour

// requestTimeout bounds the synchronous call to the processor. This sits on
// the user-facing "buy credits" path, so we fail closed rather than hang.
const requestTimeout = 10 * time.Second

// Config is the immutable gateway configuration, built once at startup and
// passed by reference. No module-level client state, no per-request mutation.
type Config struct {
	APIKey              string
	BaseURL             string // processor API root, overridable for tests
	CallbackURL         string // where the processor should send webhooks
	PricePerCreditCents int64   // fixed per-credit price, not per-request
	TaxRate             float64 // e.g. 0.16
	Currency            string  // e.g. "MXN"
}

// Order is what the client needs to complete an out-of-band bank transfer.
type Order struct {
	OrderID               string    `json:"order_id"`
	BankTransferReference string    `json:"bank_transfer_reference"` // CLABE
	BankName              string    `json:"bank_name"`
	AmountDueCents        int64     `json:"amount_due_cents"`
	Currency              string    `json:"currency"`
	ExpiresAt             time.Time `json:"expires_at"`
}

// GatewayError carries the processor's own message where available so the
// caller can decide what to surface. The gateway itself never retries;
// retry policy belongs to whoever called us.
type GatewayError struct {
	StatusCode int
	Message    string
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("processor rejected order (HTTP %d): %s", e.StatusCode, e.Message)
}

func (e *GatewayError) Unwrap() error { return payment.ErrGatewayRejected }

// ConektaGateway builds SPEI payment orders against the card/SPEI processor.
type ConektaGateway struct {
	cfg        Config
	httpClient *http.Client
}

func NewConektaGateway(cfg Config) *ConektaGateway {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.conekta.io"
	}
	return &ConektaGateway{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: requestTimeout},
	}
}

// QuoteCents returns the amount due for a credit pack: credits at the fixed
// per-credit price, plus tax, rounded to the nearest cent.
func (g *ConektaGateway) QuoteCents(creditsRequested int64) int64 {
	subtotal := creditsRequested * g.cfg.PricePerCreditCents
	return int64(math.Round(float64(subtotal) * (1 + g.cfg.TaxRate)))
}

// Processor wire types. Only the fields we read and write.
type orderRequest struct {
	Currency     string            `json:"currency"`
	Metadata     map[string]string `json:"metadata"`
	CustomerInfo struct {
		Name  string `json:"name"`
		Email string `json:"email"`
	} `json:"customer_info"`
	LineItems       []lineItem   `json:"line_items"`
	Charges         []chargeSpec `json:"charges"`
	NotificationURL string       `json:"notification_url,omitempty"`
}

type lineItem struct {
	Name      string `json:"name"`
	UnitPrice int64  `json:"unit_price"`
	Quantity  int64  `json:"quantity"`
}

type chargeSpec struct {
	PaymentMethod struct {
		Type      string `json:"type"`
		ExpiresAt int64  `json:"expires_at"`
	} `json:"payment_method"`
}

type orderResponse struct {
	ID      string `json:"id"`
	Charges struct {
		Data []struct {
			PaymentMethod struct {
				Clabe                string `json:"clabe"`
				ReceivingAccountBank string `json:"receiving_account_bank"`
			} `json:"payment_method"`
		} `json:"data"`
	} `json:"charges"`
}

type orderErrorResponse struct {
	Details []struct {
		Message string `json:"message"`
	} `json:"details"`
}

// CreateOrder submits a SPEI payment order for a credit pack. The encoded
// order reference rides in the processor metadata and comes back in the
// eventual webhook; that round-trip is what ties the payment to the account.
func (g *ConektaGateway) CreateOrder(ctx context.Context, account *accounts.Account, creditsRequested int64) (*Order, error) {
	if creditsRequested <= 0 {
		return nil, payment.ErrInvalidCreditAmount
	}

	total := g.QuoteCents(creditsRequested)
	expiresAt := time.Now().Add(orderTTL)
	reference := credits.EncodeReference(account.ID, creditsRequested)

	var req orderRequest
	req.Currency = g.cfg.Currency
	req.Metadata = map[string]string{"accountRef": reference}
	req.CustomerInfo.Name = account.Name
	req.CustomerInfo.Email = account.Email
	req.LineItems = []lineItem{{
		Name:      fmt.Sprintf("%d assistant credits", creditsRequested),
		UnitPrice: total,
		Quantity:  1,
	}}
	var charge chargeSpec
	charge.PaymentMethod.Type = "spei"
	charge.PaymentMethod.ExpiresAt = expiresAt.Unix()
	req.Charges = []chargeSpec{charge}
	req.NotificationURL = g.cfg.CallbackURL

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal order request: %w", err)
	}

	// Hard deadline for the processor call even if the parent context is
	// more generous.
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.BaseURL+"/orders", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/vnd.conekta-v2.0.0+json")
	httpReq.SetBasicAuth(g.cfg.APIKey, "")

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("order creation request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("order creation read failed: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		gerr := &GatewayError{StatusCode: resp.StatusCode, Message: "order creation failed"}
		var details orderErrorResponse
		if json.Unmarshal(respBody, &details) == nil && len(details.Details) > 0 {
			gerr.Message = details.Details[0].Message
		}
		return nil, gerr
	}

	var created orderResponse
	if err := json.Unmarshal(respBody, &created); err != nil {
		return nil, fmt.Errorf("order creation decode failed: %w", err)
	}
	if len(created.Charges.Data) == 0 {
		return nil, fmt.Errorf("order %s created without bank transfer details", created.ID)
	}

	pm := created.Charges.Data[0].PaymentMethod
	return &Order{
		OrderID:               created.ID,
		BankTransferReference: pm.Clabe,
		BankName:              pm.ReceivingAccountBank,
		AmountDueCents:        total,
		Currency:              g.cfg.Currency,
		ExpiresAt:             expiresAt,
	}, nil
}

// internal/payment/webhook/mercadopago/processor_test.go
package mercadopago

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/Reptitalz/credits-service/internal/payment"
	"github.com/Reptitalz/credits-service/internal/payment/webhook"
)

const (
	testSecret    = "mp_whsec_test"
	testRequestID = "req-7f3a"
	testTS        = "1700000000"
)

// fakeLookup serves canned payment objects keyed by id.
type fakeLookup struct {
	payments map[string]*Payment
	err      error
	calls    int
}

func (f *fakeLookup) GetPayment(ctx context.Context, paymentID string) (*Payment, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	p, ok := f.payments[paymentID]
	if !ok {
		return nil, fmt.Errorf("payment %s not found", paymentID)
	}
	return p, nil
}

func approvedLookup(paymentID string) *fakeLookup {
	pay := &Payment{
		ID:                paymentID,
		Status:            "approved",
		ExternalReference: "acct-1__5__1700000000000",
		TransactionAmount: 580.0,
		CurrencyID:        "mxn",
		PaymentMethodID:   "bank_transfer",
	}
	pay.Payer.Email = "ana@test.mx"
	pay.Payer.FirstName = "Ana"
	pay.Payer.LastName = "Test"
	return &fakeLookup{payments: map[string]*Payment{paymentID: pay}}
}

func signedHeaders(paymentID string) map[string]string {
	manifest := Manifest(paymentID, testRequestID, testTS)
	v1 := webhook.HexHMACSHA256([]byte(testSecret), []byte(manifest))
	return map[string]string{
		SignatureHeader: fmt.Sprintf("ts=%s,v1=%s", testTS, v1),
		RequestIDHeader: testRequestID,
	}
}

func TestVerifyAndParseApprovedPayment(t *testing.T) {
	lookup := approvedLookup("mp_xyz")
	p := New(testSecret, lookup, false)

	body := []byte(`{"type":"payment","data":{"id":"mp_xyz"}}`)
	event, err := p.VerifyAndParse(context.Background(), body, signedHeaders("mp_xyz"))
	if err != nil {
		t.Fatalf("verify+parse failed: %v", err)
	}
	if event == nil {
		t.Fatal("expected an event")
	}
	if event.Provider != "mercadopago" || event.ProviderPaymentID != "mp_xyz" {
		t.Errorf("identity: %+v", event)
	}
	if event.Status != payment.StatusApproved {
		t.Errorf("status: got %s", event.Status)
	}
	if event.OrderReference != "acct-1__5__1700000000000" {
		t.Errorf("order reference: got %q", event.OrderReference)
	}
	if event.AmountCents != 58000 {
		t.Errorf("amount: got %d, want 58000", event.AmountCents)
	}
	if event.Currency != "MXN" {
		t.Errorf("currency: got %q", event.Currency)
	}
	if event.PayerName != "Ana Test" {
		t.Errorf("payer: got %q", event.PayerName)
	}
	if lookup.calls != 1 {
		t.Errorf("expected exactly 1 follow-up lookup, got %d", lookup.calls)
	}
}

func TestNumericDataIDIsAccepted(t *testing.T) {
	lookup := approvedLookup("12345")
	p := New(testSecret, lookup, false)

	// The processor sometimes sends data.id as a bare number.
	body := []byte(`{"type":"payment","data":{"id":12345}}`)
	event, err := p.VerifyAndParse(context.Background(), body, signedHeaders("12345"))
	if err != nil {
		t.Fatalf("verify+parse failed: %v", err)
	}
	if event.ProviderPaymentID != "12345" {
		t.Errorf("payment id: got %q", event.ProviderPaymentID)
	}
}

func TestSignatureMismatchIsRejected(t *testing.T) {
	p := New(testSecret, approvedLookup("mp_xyz"), false)

	tests := []struct {
		name    string
		headers map[string]string
	}{
		{"missing header", map[string]string{}},
		{"missing v1", map[string]string{SignatureHeader: "ts=" + testTS, RequestIDHeader: testRequestID}},
		{"wrong digest", map[string]string{
			SignatureHeader: "ts=" + testTS + ",v1=deadbeef",
			RequestIDHeader: testRequestID,
		}},
		{"signed for another payment id", signedHeaders("mp_other")},
		{"tampered request id", func() map[string]string {
			h := signedHeaders("mp_xyz")
			h[RequestIDHeader] = "req-evil"
			return h
		}()},
	}

	body := []byte(`{"type":"payment","data":{"id":"mp_xyz"}}`)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.VerifyAndParse(context.Background(), body, tt.headers)
			if !errors.Is(err, payment.ErrSignatureInvalid) {
				t.Fatalf("expected ErrSignatureInvalid, got %v", err)
			}
		})
	}
}

func TestNonPaymentTypeIsIgnorable(t *testing.T) {
	lookup := &fakeLookup{}
	p := New(testSecret, lookup, false)

	body := []byte(`{"type":"merchant_order","data":{"id":"mo_1"}}`)
	event, err := p.VerifyAndParse(context.Background(), body, signedHeaders("mo_1"))
	if err != nil {
		t.Fatalf("expected ignorable, got %v", err)
	}
	if event != nil {
		t.Fatalf("expected nil event, got %+v", event)
	}
	if lookup.calls != 0 {
		t.Errorf("no lookup should happen for ignorable types, got %d calls", lookup.calls)
	}
}

func TestLookupFailureIsTransient(t *testing.T) {
	lookup := &fakeLookup{err: errors.New("processor api timeout")}
	p := New(testSecret, lookup, false)

	body := []byte(`{"type":"payment","data":{"id":"mp_xyz"}}`)
	_, err := p.VerifyAndParse(context.Background(), body, signedHeaders("mp_xyz"))
	if err == nil {
		t.Fatal("expected an error")
	}
	// Neither an auth nor a parse reject: the caller maps it to a 5xx so
	// the processor redelivers.
	if errors.Is(err, payment.ErrSignatureInvalid) || errors.Is(err, payment.ErrMalformedPayload) {
		t.Fatalf("lookup failure misclassified: %v", err)
	}
}

func TestMalformedPayloads(t *testing.T) {
	p := New(testSecret, approvedLookup("mp_xyz"), false)

	tests := []struct {
		name string
		body string
	}{
		{"not json", `not json at all`},
		{"missing type", `{"data":{"id":"mp_xyz"}}`},
		{"payment without id", `{"type":"payment","data":{}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Sign for the id the body carries (or empty).
			_, err := p.VerifyAndParse(context.Background(), []byte(tt.body), signedHeaders("mp_xyz"))
			if !errors.Is(err, payment.ErrMalformedPayload) && !errors.Is(err, payment.ErrSignatureInvalid) {
				t.Fatalf("expected a reject, got %v", err)
			}
		})
	}
}

func TestPendingPaymentIsNormalizedNotDropped(t *testing.T) {
	lookup := approvedLookup("mp_pending")
	lookup.payments["mp_pending"].Status = "in_process"
	p := New(testSecret, lookup, false)

	body := []byte(`{"type":"payment","data":{"id":"mp_pending"}}`)
	event, err := p.VerifyAndParse(context.Background(), body, signedHeaders("mp_pending"))
	if err != nil {
		t.Fatalf("verify+parse failed: %v", err)
	}
	if event.Status != payment.StatusPending {
		t.Errorf("status: got %s, want pending", event.Status)
	}
}

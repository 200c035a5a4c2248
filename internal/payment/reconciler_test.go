// internal/payment/reconciler_test.go
package payment_test

import (
	"context"
	"sync"
	"testing"

	"github.com/Reptitalz/credits-service/internal/accounts"
	"github.com/Reptitalz/credits-service/internal/credits"
	"github.com/Reptitalz/credits-service/internal/payment"
	"github.com/Reptitalz/credits-service/internal/store"
)

// --- MOCKS ---

type mockAlerts struct {
	mu     sync.Mutex
	alerts []payment.OperatorAlert
}

func (m *mockAlerts) PublishAlert(ctx context.Context, alert payment.OperatorAlert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts = append(m.alerts, alert)
	return nil
}

func (m *mockAlerts) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.alerts)
}

type mockEvents struct {
	mu        sync.Mutex
	published []string // keys
}

func (m *mockEvents) Publish(ctx context.Context, key string, value interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, key)
	return nil
}

type mockDLQ struct {
	mu     sync.Mutex
	parked [][]byte
}

func (m *mockDLQ) Push(ctx context.Context, payload []byte, cause error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.parked = append(m.parked, payload)
}

// --- HELPERS ---

func approvedEvent(paymentID, reference string) *payment.NormalizedEvent {
	return &payment.NormalizedEvent{
		Provider:          "conekta",
		ProviderPaymentID: paymentID,
		Status:            payment.StatusApproved,
		OrderReference:    reference,
		AmountCents:       11600,
		Currency:          "MXN",
		PaymentMethod:     "spei",
		PayerName:         "Ana Test",
	}
}

func newFixture(t *testing.T) (*store.MemoryStore, *mockAlerts, *mockEvents, *mockDLQ, *payment.ReconcileService) {
	t.Helper()
	st := store.NewMemoryStore()
	al := &mockAlerts{}
	ev := &mockEvents{}
	dq := &mockDLQ{}
	return st, al, ev, dq, payment.NewReconcileService(st, al, ev, dq)
}

// --- TESTS ---

func TestReconcileGrantsCreditsOnce(t *testing.T) {
	st, _, ev, _, svc := newFixture(t)
	st.SeedAccount(&accounts.Account{ID: "A", Email: "a@test.mx", Credits: 5})

	event := approvedEvent("pay_123", credits.EncodeReference("A", 10))

	outcome, err := svc.Process(context.Background(), event, []byte(`{}`))
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if outcome != payment.OutcomeReconciled {
		t.Fatalf("expected reconciled, got %s", outcome)
	}

	acc, _ := st.GetAccount(context.Background(), "A")
	if acc.Credits != 15 {
		t.Errorf("credits: got %d, want 15", acc.Credits)
	}
	receipt, _ := st.GetReceiptByProviderPaymentID(context.Background(), "pay_123")
	if receipt == nil {
		t.Fatal("expected a receipt for pay_123")
	}
	if receipt.Credits != 10 || receipt.AccountID != "A" {
		t.Errorf("unexpected receipt: %+v", receipt)
	}
	if len(ev.published) != 1 {
		t.Errorf("expected 1 credits.granted event, got %d", len(ev.published))
	}

	// Re-deliver the identical webhook. Balance must stay at 15, still one
	// receipt, and the retry is an acknowledged duplicate.
	outcome, err = svc.Process(context.Background(), event, []byte(`{}`))
	if err != nil {
		t.Fatalf("redelivery failed: %v", err)
	}
	if outcome != payment.OutcomeDuplicate {
		t.Fatalf("expected duplicate, got %s", outcome)
	}
	acc, _ = st.GetAccount(context.Background(), "A")
	if acc.Credits != 15 {
		t.Errorf("credits after redelivery: got %d, want 15 (double credit!)", acc.Credits)
	}
	if st.ReceiptCount() != 1 {
		t.Errorf("receipt count after redelivery: got %d, want 1", st.ReceiptCount())
	}
}

func TestReconcileIdempotentUnderConcurrentDeliveries(t *testing.T) {
	st, _, _, _, svc := newFixture(t)
	st.SeedAccount(&accounts.Account{ID: "A", Email: "a@test.mx", Credits: 0})

	ref := credits.EncodeReference("A", 10)

	const deliveries = 25
	var wg sync.WaitGroup
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// Each goroutine builds its own event, same payment id.
			_, err := svc.Process(context.Background(), approvedEvent("pay_conc", ref), []byte(`{}`))
			if err != nil {
				t.Errorf("delivery failed: %v", err)
			}
		}()
	}
	wg.Wait()

	acc, _ := st.GetAccount(context.Background(), "A")
	if acc.Credits != 10 {
		t.Errorf("credits: got %d, want exactly 10 after %d concurrent deliveries", acc.Credits, deliveries)
	}
	if st.ReceiptCount() != 1 {
		t.Errorf("receipt count: got %d, want 1", st.ReceiptCount())
	}
}

func TestReconcileTwoProcessorsSameAccount(t *testing.T) {
	st, _, _, _, svc := newFixture(t)
	st.SeedAccount(&accounts.Account{ID: "A", Email: "a@test.mx", Credits: 0})

	speiEvent := approvedEvent("pay_abc", credits.EncodeReference("A", 10))

	mpEvent := approvedEvent("mp_xyz", credits.EncodeReference("A", 5))
	mpEvent.Provider = "mercadopago"

	for _, ev := range []*payment.NormalizedEvent{speiEvent, mpEvent} {
		if outcome, err := svc.Process(context.Background(), ev, []byte(`{}`)); err != nil || outcome != payment.OutcomeReconciled {
			t.Fatalf("process %s: outcome=%v err=%v", ev.ProviderPaymentID, outcome, err)
		}
	}

	acc, _ := st.GetAccount(context.Background(), "A")
	if acc.Credits != 15 {
		t.Errorf("credits: got %d, want 15", acc.Credits)
	}
	if st.ReceiptCount() != 2 {
		t.Errorf("receipt count: got %d, want 2 distinct receipts", st.ReceiptCount())
	}
}

func TestNonApprovedStatusIsANoOp(t *testing.T) {
	st, al, _, _, svc := newFixture(t)
	st.SeedAccount(&accounts.Account{ID: "A", Email: "a@test.mx", Credits: 5})

	for _, status := range []payment.Status{payment.StatusPending, payment.StatusDeclined, payment.StatusUnknown} {
		event := approvedEvent("pay_pending", credits.EncodeReference("A", 10))
		event.Status = status

		outcome, err := svc.Process(context.Background(), event, []byte(`{}`))
		if err != nil {
			t.Fatalf("status %s: process failed: %v", status, err)
		}
		if outcome != payment.OutcomeIgnored {
			t.Errorf("status %s: expected ignored, got %s", status, outcome)
		}
	}

	acc, _ := st.GetAccount(context.Background(), "A")
	if acc.Credits != 5 {
		t.Errorf("credits mutated by non-approved events: got %d, want 5", acc.Credits)
	}
	if st.ReceiptCount() != 0 {
		t.Errorf("receipts created for non-approved events: %d", st.ReceiptCount())
	}
	if al.count() != 0 {
		t.Errorf("unexpected operator alerts: %d", al.count())
	}
}

func TestUndecodableReferenceIsAckedButAlerted(t *testing.T) {
	st, al, _, dq, svc := newFixture(t)
	st.SeedAccount(&accounts.Account{ID: "A", Email: "a@test.mx", Credits: 5})

	raw := []byte(`{"type":"order.paid"}`)
	event := approvedEvent("pay_bad_ref", "garbage-no-delimiter")

	outcome, err := svc.Process(context.Background(), event, raw)
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if outcome != payment.OutcomeUnattributable {
		t.Fatalf("expected unattributable, got %s", outcome)
	}

	// Money received, attribution lost: no mutation anywhere, but the
	// failure must be operator-visible and the payload parked.
	acc, _ := st.GetAccount(context.Background(), "A")
	if acc.Credits != 5 || st.ReceiptCount() != 0 {
		t.Errorf("state mutated for unattributable event: credits=%d receipts=%d", acc.Credits, st.ReceiptCount())
	}
	if al.count() != 1 {
		t.Fatalf("expected 1 operator alert, got %d", al.count())
	}
	if got := al.alerts[0].Code; got != "reference_undecodable" {
		t.Errorf("alert code: got %q", got)
	}
	if len(dq.parked) != 1 || string(dq.parked[0]) != string(raw) {
		t.Errorf("expected raw payload parked in DLQ, got %d entries", len(dq.parked))
	}
}

func TestMissingAccountAbortsAtomically(t *testing.T) {
	st, al, ev, _, svc := newFixture(t)
	// No account seeded at all.

	event := approvedEvent("pay_ghost", credits.EncodeReference("nobody", 10))

	outcome, err := svc.Process(context.Background(), event, []byte(`{}`))
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if outcome != payment.OutcomeUnattributable {
		t.Fatalf("expected unattributable, got %s", outcome)
	}
	if st.ReceiptCount() != 0 {
		t.Errorf("receipt created despite missing account: %d", st.ReceiptCount())
	}
	if al.count() != 1 {
		t.Fatalf("expected 1 operator alert, got %d", al.count())
	}
	if got := al.alerts[0].Code; got != "account_missing" {
		t.Errorf("alert code: got %q", got)
	}
	// The operator needs the decoded account id to investigate.
	if got := al.alerts[0].AccountID; got != "nobody" {
		t.Errorf("alert account id: got %q, want nobody", got)
	}
	if len(ev.published) != 0 {
		t.Errorf("credits.granted published for a failed grant")
	}
}

func TestApprovedEventWithoutPaymentIDFails(t *testing.T) {
	_, _, _, _, svc := newFixture(t)

	event := approvedEvent("", credits.EncodeReference("A", 10))
	outcome, err := svc.Process(context.Background(), event, []byte(`{}`))
	if err == nil {
		t.Fatal("expected an error for an approved event without a payment id")
	}
	if outcome != payment.OutcomeFailed {
		t.Errorf("expected failed, got %s", outcome)
	}
}

// internal/payment/reconciler.go
package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/Reptitalz/credits-service/internal/accounts"
	"github.com/Reptitalz/credits-service/internal/credits"
	"github.com/Reptitalz/credits-service/internal/metrics"
)

// Outcome is the terminal classification of one webhook delivery.
type Outcome string

const (
	OutcomeReconciled     Outcome = "reconciled"
	OutcomeDuplicate      Outcome = "duplicate"
	OutcomeIgnored        Outcome = "ignored"
	OutcomeUnattributable Outcome = "unattributable"
	OutcomeFailed         Outcome = "failed"
)

// ReconcileService turns a verified, parsed payment event into exactly one
// credit grant. Deliveries are at-least-once and arrive concurrently, so the
// whole design is layered dedupe:
//
//  1. singleflight collapses concurrent identical deliveries in-process,
//  2. a cheap receipt lookup catches the common retry case,
//  3. the store's atomic conditional insert is the real linearization point.
//
// Layers 1 and 2 are optimizations. Only layer 3 is load-bearing.
type ReconcileService struct {
	receipts ReceiptStore
	alerts   AlertPublisher
	events   EventPublisher // may be nil
	dlq      DeadLetter     // may be nil

	sf singleflight.Group
}

func NewReconcileService(receipts ReceiptStore, alerts AlertPublisher, events EventPublisher, dlq DeadLetter) *ReconcileService {
	return &ReconcileService{
		receipts: receipts,
		alerts:   alerts,
		events:   events,
		dlq:      dlq,
	}
}

// creditsGrantedEvent is what downstream consumers (notification sender) see
// after a successful grant. Fire-and-forget.
type creditsGrantedEvent struct {
	ReceiptID         string `json:"receipt_id"`
	AccountID         string `json:"account_id"`
	Credits           int64  `json:"credits"`
	Provider          string `json:"provider"`
	ProviderPaymentID string `json:"provider_payment_id"`
}

// Process runs one delivery through the state machine:
// Classified -> Deduplicated -> Reconciling -> Reconciled | Failed.
//
// rawPayload is the original webhook body, kept only so unattributable paid
// events can be parked with their full bytes for manual reconciliation.
//
// A non-nil error means the failure is transient and the caller should answer
// 5xx so the processor retries. Every other outcome, including the ugly
// unattributable ones, is acknowledged with 2xx to stop retry storms.
func (s *ReconcileService) Process(ctx context.Context, event *NormalizedEvent, rawPayload []byte) (Outcome, error) {
	// Classification. Anything not an approved payment is acknowledged and
	// dropped, otherwise the processor retries it forever.
	if event.Status != StatusApproved {
		metrics.WebhooksIgnored.Inc()
		log.Debug().
			Str("component", "reconciler").
			Str("provider", event.Provider).
			Str("payment_id", event.ProviderPaymentID).
			Str("status", string(event.Status)).
			Msg("ignoring non-approved event")
		return OutcomeIgnored, nil
	}
	if event.ProviderPaymentID == "" {
		return OutcomeFailed, fmt.Errorf("%w: approved event without payment id", ErrMalformedPayload)
	}

	// Concurrent duplicates of the same payment id share one execution.
	key := "reconcile_" + event.Provider + "_" + event.ProviderPaymentID
	v, err, _ := s.sf.Do(key, func() (interface{}, error) {
		return s.reconcile(ctx, event, rawPayload)
	})
	if err != nil {
		metrics.WebhooksFailed.Inc()
		return OutcomeFailed, err
	}
	return v.(Outcome), nil
}

func (s *ReconcileService) reconcile(ctx context.Context, event *NormalizedEvent, rawPayload []byte) (Outcome, error) {
	// Deduplication, cheap path. Webhook retries are the steady state, so
	// the common case must be one indexed read and an info log.
	existing, err := s.receipts.GetReceiptByProviderPaymentID(ctx, event.ProviderPaymentID)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("receipt lookup failed: %w", err)
	}
	if existing != nil {
		metrics.WebhooksDuplicate.Inc()
		log.Info().
			Str("component", "reconciler").
			Str("provider", event.Provider).
			Str("payment_id", event.ProviderPaymentID).
			Msg("already reconciled, acknowledging retry")
		return OutcomeDuplicate, nil
	}

	// Attribution. If the reference does not decode we have collected money
	// we cannot apply. Acknowledge (the payload will never get better), but
	// make the failure impossible to miss.
	ref, err := credits.DecodeReference(event.OrderReference)
	if err != nil {
		s.raiseUnattributable(ctx, event, rawPayload, "reference_undecodable", "", err)
		return OutcomeUnattributable, nil
	}

	receipt := &Receipt{
		ReceiptID:         uuid.New(),
		ProviderPaymentID: event.ProviderPaymentID,
		AccountID:         ref.AccountID,
		Credits:           ref.Credits,
		AmountCents:       event.AmountCents,
		Currency:          event.Currency,
		Provider:          event.Provider,
		PaymentMethod:     event.PaymentMethod,
		Status:            string(StatusApproved),
		PayerName:         event.PayerName,
		CreatedAt:         time.Now().UTC(),
	}

	// The atomic unit: insert receipt + increment balance, both or neither.
	start := time.Now()
	err = s.receipts.Reconcile(ctx, receipt)
	metrics.ReconcileLatency.Observe(time.Since(start).Seconds())

	switch {
	case err == nil:
		// fall through to success path below

	case errors.Is(err, ErrDuplicateReceipt):
		// Another delivery won the race between our lookup and the insert.
		metrics.WebhooksDuplicate.Inc()
		log.Info().
			Str("component", "reconciler").
			Str("payment_id", event.ProviderPaymentID).
			Msg("lost reconcile race, receipt already present")
		return OutcomeDuplicate, nil

	case errors.Is(err, accounts.ErrAccountNotFound):
		// A real payment with no destination. Transaction already rolled
		// back; nothing was mutated.
		s.raiseUnattributable(ctx, event, rawPayload, "account_missing", ref.AccountID,
			fmt.Errorf("account %s: %w", ref.AccountID, err))
		return OutcomeUnattributable, nil

	default:
		// Transient store failure. Safe to 5xx: the idempotency check
		// re-runs from scratch on the processor's retry.
		return OutcomeFailed, fmt.Errorf("reconcile transaction failed: %w", err)
	}

	metrics.WebhooksReconciled.Inc()
	log.Info().
		Str("component", "reconciler").
		Str("provider", event.Provider).
		Str("payment_id", event.ProviderPaymentID).
		Str("account_id", ref.AccountID).
		Int64("credits", ref.Credits).
		Msg("payment reconciled, credits granted")

	// Fire-and-forget fan-out. A publish failure must not undo or fail a
	// reconciliation that already committed.
	if s.events != nil {
		grant := creditsGrantedEvent{
			ReceiptID:         receipt.ReceiptID.String(),
			AccountID:         receipt.AccountID,
			Credits:           receipt.Credits,
			Provider:          receipt.Provider,
			ProviderPaymentID: receipt.ProviderPaymentID,
		}
		if err := s.events.Publish(ctx, receipt.AccountID, grant); err != nil {
			log.Warn().
				Str("component", "reconciler").
				Str("payment_id", event.ProviderPaymentID).
				Err(err).
				Msg("credits.granted publish failed")
		}
	}
	return OutcomeReconciled, nil
}

// raiseUnattributable handles the single worst failure mode of this service:
// money collected with no account to apply it to. Ack to the processor, but
// alert operators through a channel that is not just a log line, and park the
// raw payload so manual reconciliation has everything.
func (s *ReconcileService) raiseUnattributable(ctx context.Context, event *NormalizedEvent, rawPayload []byte, code, accountID string, cause error) {
	metrics.WebhooksUnattributable.Inc()
	log.Error().
		Str("component", "reconciler").
		Str("provider", event.Provider).
		Str("payment_id", event.ProviderPaymentID).
		Str("code", code).
		Str("account_id", accountID).
		Err(cause).
		Msg("CRITICAL: paid event cannot be applied, manual reconciliation required")

	if s.dlq != nil {
		s.dlq.Push(ctx, rawPayload, cause)
	}
	if s.alerts != nil {
		alert := OperatorAlert{
			Severity:          "critical",
			Code:              code,
			Provider:          event.Provider,
			ProviderPaymentID: event.ProviderPaymentID,
			AccountID:         accountID,
			Detail:            cause.Error(),
			At:                time.Now().UTC(),
		}
		if err := s.alerts.PublishAlert(ctx, alert); err != nil {
			log.Error().
				Str("component", "reconciler").
				Str("payment_id", event.ProviderPaymentID).
				Err(err).
				Msg("operator alert publish failed, alert only visible in logs")
		}
	}
}

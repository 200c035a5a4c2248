// internal/server/server.go
package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/Reptitalz/credits-service/internal/accounts"
	"github.com/Reptitalz/credits-service/internal/payment"
	"github.com/Reptitalz/credits-service/internal/payment/gateway"
	"github.com/Reptitalz/credits-service/internal/payment/webhook"
)

// Webhook bodies should be small; anything past this is suspicious.
const maxWebhookBody = 1 << 20 // 1 MiB

// Server owns the inbound HTTP surface: one webhook endpoint per processor
// plus the thin user-facing order-creation route.
//
// processors maps a route name to its webhook processor. A nil value means
// the processor is known but its credentials are not configured; those
// deliveries get a 503 so the processor keeps retrying until someone fixes
// the deployment, instead of a 404 that looks like we never heard of it.
type Server struct {
	processors map[string]webhook.Processor
	reconciler *payment.ReconcileService
	gateway    *gateway.ConektaGateway
	accounts   accounts.Store
}

func New(
	processors map[string]webhook.Processor,
	reconciler *payment.ReconcileService,
	gw *gateway.ConektaGateway,
	accountStore accounts.Store,
) *Server {
	return &Server{
		processors: processors,
		reconciler: reconciler,
		gateway:    gw,
		accounts:   accountStore,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Post("/webhooks/{processor}", s.handleWebhook)
	r.Post("/orders", s.handleCreateOrder)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return r
}

// webhookAck is the 2xx body for every acknowledged delivery, whether acted
// on, ignored, duplicate, or parked for manual reconciliation. The processor
// only cares that we received it.
type webhookAck struct {
	Received bool `json:"received"`
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "processor")
	proc, known := s.processors[name]
	if !known {
		writeJSONError(w, http.StatusNotFound, "unknown processor")
		return
	}
	if proc == nil {
		// Configuration error, not a data error.
		writeJSONError(w, http.StatusServiceUnavailable, "processor not configured")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "unreadable body")
		return
	}

	event, err := proc.VerifyAndParse(r.Context(), body, headerMap(r))
	if err != nil {
		switch {
		case errors.Is(err, payment.ErrSignatureInvalid):
			log.Warn().
				Str("component", "server").
				Str("provider", name).
				Err(err).
				Msg("webhook rejected: signature invalid")
			writeJSONError(w, http.StatusBadRequest, "invalid signature")
		case errors.Is(err, payment.ErrMalformedPayload):
			// 400, never 500: a 5xx invites futile retries of bytes
			// that will never parse.
			log.Warn().
				Str("component", "server").
				Str("provider", name).
				Err(err).
				Msg("webhook rejected: malformed payload")
			writeJSONError(w, http.StatusBadRequest, "malformed payload")
		default:
			// Transient (e.g. the follow-up payment lookup failed).
			// 5xx so the processor redelivers.
			log.Error().
				Str("component", "server").
				Str("provider", name).
				Err(err).
				Msg("webhook processing failed transiently")
			writeJSONError(w, http.StatusInternalServerError, "temporary failure")
		}
		return
	}
	if event == nil {
		// Authentic but not a type we act on.
		writeJSON(w, http.StatusOK, webhookAck{Received: true})
		return
	}

	if _, err := s.reconciler.Process(r.Context(), event, body); err != nil {
		log.Error().
			Str("component", "server").
			Str("provider", name).
			Str("payment_id", event.ProviderPaymentID).
			Err(err).
			Msg("reconciliation failed transiently")
		writeJSONError(w, http.StatusInternalServerError, "temporary failure")
		return
	}
	writeJSON(w, http.StatusOK, webhookAck{Received: true})
}

type createOrderRequest struct {
	AccountID string `json:"account_id"`
	Credits   int64  `json:"credits"`
}

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.AccountID == "" {
		writeJSONError(w, http.StatusBadRequest, "account_id is required")
		return
	}

	account, err := s.accounts.GetAccount(r.Context(), req.AccountID)
	if err != nil {
		if errors.Is(err, accounts.ErrAccountNotFound) {
			writeJSONError(w, http.StatusNotFound, "account not found")
			return
		}
		log.Error().Str("component", "server").Err(err).Msg("account lookup failed")
		writeJSONError(w, http.StatusInternalServerError, "temporary failure")
		return
	}

	order, err := s.gateway.CreateOrder(r.Context(), account, req.Credits)
	if err != nil {
		var gerr *gateway.GatewayError
		switch {
		case errors.Is(err, payment.ErrInvalidCreditAmount):
			writeJSONError(w, http.StatusBadRequest, err.Error())
		case errors.As(err, &gerr):
			// Surface the processor's own message; no automatic retry.
			writeJSONError(w, http.StatusBadGateway, gerr.Message)
		default:
			log.Error().
				Str("component", "server").
				Str("account_id", req.AccountID).
				Err(err).
				Msg("order creation failed")
			writeJSONError(w, http.StatusInternalServerError, "temporary failure")
		}
		return
	}
	writeJSON(w, http.StatusCreated, order)
}

// headerMap flattens the request headers to first values, keyed by the
// canonical name the processors look up.
func headerMap(r *http.Request) map[string]string {
	h := make(map[string]string, len(r.Header))
	for k := range r.Header {
		h[http.CanonicalHeaderKey(k)] = r.Header.Get(k)
	}
	return h
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

package handlers

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/atelierstore/api/internal/platform/httpx"
	"github.com/atelierstore/api/internal/services"
)

const (
	maxWebhookBody        = 1 << 20
	stripeSignatureHeader = "Stripe-Signature"
)

// WebhookHandlers receives payment provider callbacks.
type WebhookHandlers struct {
	reconciler services.ReconciliationService
}

// NewWebhookHandlers constructs the webhook endpoints.
func NewWebhookHandlers(reconciler services.ReconciliationService) *WebhookHandlers {
	return &WebhookHandlers{reconciler: reconciler}
}

// Routes registers webhook endpoints under the provided router.
func (h *WebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/payments/{provider}", h.handlePaymentWebhook)
}

type webhookResponse struct {
	Received bool   `json:"received"`
	Outcome  string `json:"outcome,omitempty"`
}

func (h *WebhookHandlers) handlePaymentWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.reconciler == nil {
		httpx.WriteError(ctx, w, httpx.NewError("webhooks_unavailable", "webhook processing unavailable", http.StatusServiceUnavailable))
		return
	}

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "failed to read webhook payload", http.StatusBadRequest))
		return
	}

	outcome, err := h.reconciler.ProcessWebhook(ctx, services.ProcessWebhookCommand{
		Provider:        strings.TrimSpace(chi.URLParam(r, "provider")),
		Payload:         payload,
		SignatureHeader: r.Header.Get(stripeSignatureHeader),
	})
	if err != nil {
		switch {
		case errors.Is(err, services.ErrWebhookUnauthorized):
			httpx.WriteError(ctx, w, httpx.NewError("invalid_signature", "webhook signature verification failed", http.StatusUnauthorized))
		case errors.Is(err, services.ErrWebhookInProgress):
			// Tell the provider to redeliver once the concurrent attempt settles.
			httpx.WriteError(ctx, w, httpx.NewError("event_in_progress", "event is being processed", http.StatusConflict))
		default:
			httpx.WriteError(ctx, w, httpx.NewError("webhook_error", "failed to process webhook", http.StatusInternalServerError))
		}
		return
	}

	writeJSONResponse(w, http.StatusOK, webhookResponse{
		Received: true,
		Outcome:  string(outcome),
	})
}

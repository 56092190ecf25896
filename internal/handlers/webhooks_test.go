package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/atelierstore/api/internal/services"
)

type stubReconciler struct {
	cmd     services.ProcessWebhookCommand
	outcome services.WebhookOutcome
	err     error
}

func (s *stubReconciler) ProcessWebhook(_ context.Context, cmd services.ProcessWebhookCommand) (services.WebhookOutcome, error) {
	s.cmd = cmd
	if s.err != nil {
		return "", s.err
	}
	return s.outcome, nil
}

func newWebhookRouter(reconciler services.ReconciliationService) chi.Router {
	r := chi.NewRouter()
	NewWebhookHandlers(reconciler).Routes(r)
	return r
}

func TestPaymentWebhookAcknowledgesAppliedEvent(t *testing.T) {
	reconciler := &stubReconciler{outcome: services.WebhookOutcomeApplied}
	router := newWebhookRouter(reconciler)

	req := httptest.NewRequest(http.MethodPost, "/payments/stripe", strings.NewReader(`{"id":"evt_1"}`))
	req.Header.Set("Stripe-Signature", "t=1,v1=abc")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp webhookResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Received || resp.Outcome != "applied" {
		t.Fatalf("unexpected response %+v", resp)
	}

	if reconciler.cmd.Provider != "stripe" {
		t.Fatalf("expected provider from path, got %q", reconciler.cmd.Provider)
	}
	if reconciler.cmd.SignatureHeader != "t=1,v1=abc" {
		t.Fatalf("expected signature header forwarded, got %q", reconciler.cmd.SignatureHeader)
	}
	if string(reconciler.cmd.Payload) != `{"id":"evt_1"}` {
		t.Fatalf("expected raw payload forwarded, got %q", reconciler.cmd.Payload)
	}
}

func TestPaymentWebhookRejectsBadSignature(t *testing.T) {
	router := newWebhookRouter(&stubReconciler{err: services.ErrWebhookUnauthorized})

	req := httptest.NewRequest(http.MethodPost, "/payments/stripe", strings.NewReader("{}"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestPaymentWebhookSignalsConcurrentProcessing(t *testing.T) {
	router := newWebhookRouter(&stubReconciler{err: services.ErrWebhookInProgress})

	req := httptest.NewRequest(http.MethodPost, "/payments/stripe", strings.NewReader("{}"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestPaymentWebhookDuplicateStillAcknowledged(t *testing.T) {
	router := newWebhookRouter(&stubReconciler{outcome: services.WebhookOutcomeDuplicate})

	req := httptest.NewRequest(http.MethodPost, "/payments/stripe", strings.NewReader("{}"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for duplicates, got %d", rec.Code)
	}
}

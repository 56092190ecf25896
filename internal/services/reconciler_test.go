package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/atelierstore/api/internal/domain"
	"github.com/atelierstore/api/internal/payments"
	"github.com/atelierstore/api/internal/platform/idempotency"
)

type fakeVerifier struct {
	event payments.WebhookEvent
	err   error
}

func (f *fakeVerifier) VerifyWebhook(string, []byte, string) (payments.WebhookEvent, error) {
	if f.err != nil {
		return payments.WebhookEvent{}, f.err
	}
	return f.event, nil
}

type memoryEventStore struct {
	records map[string]idempotency.Record
}

func newMemoryEventStore() *memoryEventStore {
	return &memoryEventStore{records: map[string]idempotency.Record{}}
}

func (m *memoryEventStore) Reserve(_ context.Context, key, fingerprint string, now time.Time, _ time.Duration) (idempotency.Reservation, error) {
	if record, ok := m.records[key]; ok {
		if record.Status == idempotency.StatusCompleted {
			return idempotency.Reservation{State: idempotency.ReservationStateCompleted, Record: record}, nil
		}
		return idempotency.Reservation{State: idempotency.ReservationStatePending, Record: record}, nil
	}
	record := idempotency.Record{Key: key, Fingerprint: fingerprint, Status: idempotency.StatusPending, CreatedAt: now}
	m.records[key] = record
	return idempotency.Reservation{State: idempotency.ReservationStateNew, Record: record}, nil
}

func (m *memoryEventStore) SaveResponse(_ context.Context, key, fingerprint string, resp idempotency.Response, now time.Time, _ time.Duration) error {
	m.records[key] = idempotency.Record{
		Key:            key,
		Fingerprint:    fingerprint,
		Status:         idempotency.StatusCompleted,
		ResponseStatus: resp.Status,
		ResponseBody:   resp.Body,
		UpdatedAt:      now,
	}
	return nil
}

func (m *memoryEventStore) Release(_ context.Context, key, _ string) error {
	delete(m.records, key)
	return nil
}

func (m *memoryEventStore) CleanupExpired(context.Context, time.Time, int) (int, error) {
	return 0, nil
}

func awaitingOrder() domain.Order {
	order := payableOrder()
	order.Status = domain.OrderStatusAwaitingPayment
	order.Promotion = &domain.AppliedPromotion{
		PromotionID: "promo_pct",
		Code:        "SAVE15",
		Type:        domain.PromotionTypePercentage,
		Discount:    900,
	}
	return order
}

func succeededEvent() payments.WebhookEvent {
	return payments.WebhookEvent{
		ID:           "evt_01",
		Kind:         payments.EventPaymentSucceeded,
		RawType:      "checkout.session.completed",
		OrderID:      "ord_1",
		SessionID:    "cs_42",
		IntentID:     "pi_42",
		AmountTotal:  6110,
		Currency:     "usd",
		ReceiptEmail: "buyer@example.com",
	}
}

func newTestReconciler(t *testing.T, deps ReconcilerDeps) ReconciliationService {
	t.Helper()
	if deps.Payments == nil {
		deps.Payments = &fakeVerifier{event: succeededEvent()}
	}
	if deps.Orders == nil {
		deps.Orders = newFakeOrderRepo(awaitingOrder())
	}
	if deps.Events == nil {
		deps.Events = newMemoryEventStore()
	}
	if deps.Clock == nil {
		deps.Clock = fixedClock
	}
	svc, err := NewReconciler(deps)
	if err != nil {
		t.Fatalf("NewReconciler: %v", err)
	}
	return svc
}

func TestProcessWebhookRejectsBadSignature(t *testing.T) {
	svc := newTestReconciler(t, ReconcilerDeps{
		Payments: &fakeVerifier{err: payments.ErrInvalidSignature},
	})

	_, err := svc.ProcessWebhook(context.Background(), ProcessWebhookCommand{Payload: []byte("{}")})
	if !errors.Is(err, ErrWebhookUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}

func TestProcessWebhookAppliesPayment(t *testing.T) {
	repo := newFakeOrderRepo(awaitingOrder())
	promos := newFakePromotionStore(activePercentPromotion())
	events := &capturedEvents{}
	svc := newTestReconciler(t, ReconcilerDeps{
		Orders:     repo,
		Promotions: promos,
		Publisher:  events,
	})

	outcome, err := svc.ProcessWebhook(context.Background(), ProcessWebhookCommand{Payload: []byte("{}")})
	if err != nil {
		t.Fatalf("ProcessWebhook: %v", err)
	}
	if outcome != WebhookOutcomeApplied {
		t.Fatalf("expected applied, got %s", outcome)
	}

	order := repo.orders["ord_1"]
	if order.Status != domain.OrderStatusPaid {
		t.Fatalf("expected paid, got %s", order.Status)
	}
	if order.PaidAt == nil || !order.PaidAt.Equal(fixedClock()) {
		t.Fatalf("expected PaidAt from the clock, got %v", order.PaidAt)
	}
	if order.PaymentRef == nil || order.PaymentRef.PaymentIntentID != "pi_42" || order.PaymentRef.ReceiptEmail != "buyer@example.com" {
		t.Fatalf("expected payment reference update, got %+v", order.PaymentRef)
	}

	if len(promos.redeemed) != 1 || promos.redeemed[0] != "promo_pct/user_1/ord_1" {
		t.Fatalf("expected one redemption, got %v", promos.redeemed)
	}
	if len(events.messages) != 1 || events.messages[0].Type != "order.paid" {
		t.Fatalf("expected order.paid event, got %+v", events.messages)
	}
}

func TestProcessWebhookDeduplicatesByEventID(t *testing.T) {
	repo := newFakeOrderRepo(awaitingOrder())
	promos := newFakePromotionStore(activePercentPromotion())
	store := newMemoryEventStore()
	svc := newTestReconciler(t, ReconcilerDeps{
		Orders:     repo,
		Promotions: promos,
		Events:     store,
	})

	if _, err := svc.ProcessWebhook(context.Background(), ProcessWebhookCommand{Payload: []byte("{}")}); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	outcome, err := svc.ProcessWebhook(context.Background(), ProcessWebhookCommand{Payload: []byte("{}")})
	if err != nil {
		t.Fatalf("second delivery: %v", err)
	}
	if outcome != WebhookOutcomeDuplicate {
		t.Fatalf("expected duplicate, got %s", outcome)
	}
	if len(promos.redeemed) != 1 {
		t.Fatalf("expected a single redemption across deliveries, got %d", len(promos.redeemed))
	}
}

func TestProcessWebhookIgnoresUnhandledKinds(t *testing.T) {
	store := newMemoryEventStore()
	svc := newTestReconciler(t, ReconcilerDeps{
		Payments: &fakeVerifier{event: payments.WebhookEvent{
			ID:      "evt_02",
			Kind:    payments.EventUnhandled,
			RawType: "customer.created",
		}},
		Events: store,
	})

	outcome, err := svc.ProcessWebhook(context.Background(), ProcessWebhookCommand{Payload: []byte("{}")})
	if err != nil {
		t.Fatalf("ProcessWebhook: %v", err)
	}
	if outcome != WebhookOutcomeIgnored {
		t.Fatalf("expected ignored, got %s", outcome)
	}
	if len(store.records) != 0 {
		t.Fatalf("unhandled events should not reserve markers")
	}
}

func TestProcessWebhookAcknowledgesUnknownOrder(t *testing.T) {
	event := succeededEvent()
	event.OrderID = "ord_ghost"
	svc := newTestReconciler(t, ReconcilerDeps{
		Payments: &fakeVerifier{event: event},
	})

	outcome, err := svc.ProcessWebhook(context.Background(), ProcessWebhookCommand{Payload: []byte("{}")})
	if err != nil {
		t.Fatalf("ProcessWebhook: %v", err)
	}
	if outcome != WebhookOutcomeIgnored {
		t.Fatalf("expected ignored for unknown order, got %s", outcome)
	}
}

func TestProcessWebhookAcknowledgesSettledOrder(t *testing.T) {
	order := awaitingOrder()
	order.Status = domain.OrderStatusPaid
	svc := newTestReconciler(t, ReconcilerDeps{
		Orders: newFakeOrderRepo(order),
	})

	outcome, err := svc.ProcessWebhook(context.Background(), ProcessWebhookCommand{Payload: []byte("{}")})
	if err != nil {
		t.Fatalf("ProcessWebhook: %v", err)
	}
	if outcome != WebhookOutcomeIgnored {
		t.Fatalf("expected ignored for settled order, got %s", outcome)
	}
}

func TestProcessWebhookRecordsPaymentFailure(t *testing.T) {
	repo := newFakeOrderRepo(awaitingOrder())
	events := &capturedEvents{}
	svc := newTestReconciler(t, ReconcilerDeps{
		Payments: &fakeVerifier{event: payments.WebhookEvent{
			ID:             "evt_05",
			Kind:           payments.EventPaymentFailed,
			RawType:        "payment_intent.payment_failed",
			OrderID:        "ord_1",
			FailureMessage: "card_declined",
		}},
		Orders:    repo,
		Publisher: events,
	})

	outcome, err := svc.ProcessWebhook(context.Background(), ProcessWebhookCommand{Payload: []byte("{}")})
	if err != nil {
		t.Fatalf("ProcessWebhook: %v", err)
	}
	if outcome != WebhookOutcomeApplied {
		t.Fatalf("expected applied, got %s", outcome)
	}

	order := repo.orders["ord_1"]
	if order.Status != domain.OrderStatusPaymentFailed {
		t.Fatalf("expected payment_failed, got %s", order.Status)
	}
	if order.FailureReason != "card_declined" {
		t.Fatalf("expected failure reason recorded, got %q", order.FailureReason)
	}
	if len(events.messages) != 1 || events.messages[0].Type != "order.payment_failed" {
		t.Fatalf("expected failure event, got %+v", events.messages)
	}
}

func TestProcessWebhookSessionExpiredDefaultsReason(t *testing.T) {
	repo := newFakeOrderRepo(awaitingOrder())
	svc := newTestReconciler(t, ReconcilerDeps{
		Payments: &fakeVerifier{event: payments.WebhookEvent{
			ID:      "evt_06",
			Kind:    payments.EventSessionExpired,
			RawType: "checkout.session.expired",
			OrderID: "ord_1",
		}},
		Orders: repo,
	})

	if _, err := svc.ProcessWebhook(context.Background(), ProcessWebhookCommand{Payload: []byte("{}")}); err != nil {
		t.Fatalf("ProcessWebhook: %v", err)
	}
	if reason := repo.orders["ord_1"].FailureReason; reason != "checkout session expired" {
		t.Fatalf("expected default expiry reason, got %q", reason)
	}
}

func TestProcessWebhookRedemptionConflictKeepsOrderPaid(t *testing.T) {
	repo := newFakeOrderRepo(awaitingOrder())
	promos := newFakePromotionStore(activePercentPromotion())
	promos.redeemErr = &stubConflictError{msg: "usage exhausted"}
	svc := newTestReconciler(t, ReconcilerDeps{
		Orders:     repo,
		Promotions: promos,
	})

	outcome, err := svc.ProcessWebhook(context.Background(), ProcessWebhookCommand{Payload: []byte("{}")})
	if err != nil {
		t.Fatalf("ProcessWebhook: %v", err)
	}
	if outcome != WebhookOutcomeApplied {
		t.Fatalf("expected applied despite redemption conflict, got %s", outcome)
	}
	if repo.orders["ord_1"].Status != domain.OrderStatusPaid {
		t.Fatalf("expected order to stay paid")
	}
}

func TestProcessWebhookReleasesMarkerOnFailure(t *testing.T) {
	store := newMemoryEventStore()
	svc := newTestReconciler(t, ReconcilerDeps{
		Orders: &failingOrderRepo{err: errors.New("firestore unavailable")},
		Events: store,
	})

	if _, err := svc.ProcessWebhook(context.Background(), ProcessWebhookCommand{Payload: []byte("{}")}); err == nil {
		t.Fatalf("expected transition failure to surface")
	}
	if len(store.records) != 0 {
		t.Fatalf("expected marker to be released so redelivery can retry")
	}
}

func TestProcessWebhookRetriesRedemptionOnRedelivery(t *testing.T) {
	repo := newFakeOrderRepo(awaitingOrder())
	promos := newFakePromotionStore(activePercentPromotion())
	promos.redeemErr = errors.New("firestore unavailable")
	store := newMemoryEventStore()
	svc := newTestReconciler(t, ReconcilerDeps{
		Orders:     repo,
		Promotions: promos,
		Events:     store,
	})

	// The paid transition commits but the usage increment fails. The delivery
	// must fail so the marker is released and the provider redelivers.
	if _, err := svc.ProcessWebhook(context.Background(), ProcessWebhookCommand{Payload: []byte("{}")}); err == nil {
		t.Fatalf("expected redemption failure to surface")
	}
	if repo.orders["ord_1"].Status != domain.OrderStatusPaid {
		t.Fatalf("expected order to stay paid")
	}
	if len(store.records) != 0 {
		t.Fatalf("expected marker release after redemption failure")
	}

	// Redelivery finds the order already paid and finishes the redemption.
	promos.redeemErr = nil
	outcome, err := svc.ProcessWebhook(context.Background(), ProcessWebhookCommand{Payload: []byte("{}")})
	if err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if outcome != WebhookOutcomeIgnored {
		t.Fatalf("expected ignored on redelivery, got %s", outcome)
	}
	if len(promos.redeemed) != 1 || promos.redeemed[0] != "promo_pct/user_1/ord_1" {
		t.Fatalf("expected redemption completed on redelivery, got %v", promos.redeemed)
	}
}

type failingOrderRepo struct{ err error }

func (f *failingOrderRepo) Insert(context.Context, domain.Order) error {
	return f.err
}

func (f *failingOrderRepo) Get(context.Context, string) (domain.Order, error) {
	return domain.Order{}, f.err
}

func (f *failingOrderRepo) Transition(context.Context, string, []domain.OrderStatus, func(*domain.Order) error) (domain.Order, error) {
	return domain.Order{}, f.err
}

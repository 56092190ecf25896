package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	domain "github.com/atelierstore/api/internal/domain"
	"github.com/atelierstore/api/internal/payments"
	"github.com/atelierstore/api/internal/platform/idempotency"
	"github.com/atelierstore/api/internal/repositories"
)

const (
	eventKeyPrefix      = "psp-event:"
	defaultEventKeepTTL = 72 * time.Hour
)

var (
	// ErrWebhookUnauthorized indicates the payload failed signature verification.
	ErrWebhookUnauthorized = errors.New("reconciler: webhook signature rejected")
	// ErrWebhookInProgress indicates a concurrent delivery of the same event is
	// still being processed; the provider should redeliver later.
	ErrWebhookInProgress = errors.New("reconciler: event is being processed")
)

// webhookVerifier abstracts payments.Manager for easier testing.
type webhookVerifier interface {
	VerifyWebhook(preferred string, payload []byte, signatureHeader string) (payments.WebhookEvent, error)
}

// ReconcilerDeps wires the dependencies of the reconciliation service.
type ReconcilerDeps struct {
	Payments   webhookVerifier
	Orders     repositories.OrderRepository
	Promotions repositories.PromotionRepository
	Events     idempotency.Store
	Publisher  OrderEventPublisher
	EventTTL   time.Duration
	Clock      func() time.Time
	Logger     func(ctx context.Context, event string, fields map[string]any)
}

// reconciler applies verified provider events to order state. Every decision
// is idempotent on the provider event id so redeliveries are harmless.
type reconciler struct {
	payments   webhookVerifier
	orders     repositories.OrderRepository
	promotions repositories.PromotionRepository
	events     idempotency.Store
	publisher  OrderEventPublisher
	eventTTL   time.Duration
	now        func() time.Time
	logger     func(ctx context.Context, event string, fields map[string]any)
}

// NewReconciler constructs a ReconciliationService validating required dependencies.
func NewReconciler(deps ReconcilerDeps) (ReconciliationService, error) {
	if deps.Payments == nil {
		return nil, errors.New("reconciler: payment manager is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("reconciler: order repository is required")
	}
	if deps.Events == nil {
		return nil, errors.New("reconciler: event store is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	ttl := deps.EventTTL
	if ttl <= 0 {
		ttl = defaultEventKeepTTL
	}
	return &reconciler{
		payments:   deps.Payments,
		orders:     deps.Orders,
		promotions: deps.Promotions,
		events:     deps.Events,
		publisher:  deps.Publisher,
		eventTTL:   ttl,
		now: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// ProcessWebhook verifies, deduplicates, and applies one provider delivery.
func (r *reconciler) ProcessWebhook(ctx context.Context, cmd ProcessWebhookCommand) (WebhookOutcome, error) {
	if r == nil || r.orders == nil {
		return "", errors.New("reconciler: not initialised")
	}

	event, err := r.payments.VerifyWebhook(cmd.Provider, cmd.Payload, cmd.SignatureHeader)
	if err != nil {
		if errors.Is(err, payments.ErrInvalidSignature) {
			r.logger(ctx, "reconciler.signature_rejected", map[string]any{"provider": cmd.Provider})
			return "", fmt.Errorf("%w: %v", ErrWebhookUnauthorized, err)
		}
		return "", err
	}

	if event.Kind == payments.EventUnhandled {
		r.logger(ctx, "reconciler.event_ignored", map[string]any{
			"eventId": event.ID,
			"type":    event.RawType,
		})
		return WebhookOutcomeIgnored, nil
	}

	key := eventKeyPrefix + event.ID
	now := r.now()
	reservation, err := r.events.Reserve(ctx, key, event.ID, now, r.eventTTL)
	if err != nil {
		return "", fmt.Errorf("reconciler: reserve event: %w", err)
	}
	switch reservation.State {
	case idempotency.ReservationStateCompleted:
		r.logger(ctx, "reconciler.event_duplicate", map[string]any{"eventId": event.ID})
		return WebhookOutcomeDuplicate, nil
	case idempotency.ReservationStatePending:
		return "", ErrWebhookInProgress
	}

	outcome, err := r.apply(ctx, event)
	if err != nil {
		// Release so the provider's redelivery can try again.
		if releaseErr := r.events.Release(ctx, key, event.ID); releaseErr != nil {
			r.logger(ctx, "reconciler.release_failed", map[string]any{
				"eventId": event.ID,
				"error":   releaseErr.Error(),
			})
		}
		return "", err
	}

	if err := r.events.SaveResponse(ctx, key, event.ID, idempotency.Response{
		Status: http.StatusOK,
		Body:   []byte(string(outcome)),
	}, r.now(), r.eventTTL); err != nil {
		// The order state already moved; the worst case on a lost marker is a
		// duplicate delivery hitting the status guard.
		r.logger(ctx, "reconciler.marker_failed", map[string]any{
			"eventId": event.ID,
			"error":   err.Error(),
		})
	}
	return outcome, nil
}

func (r *reconciler) apply(ctx context.Context, event payments.WebhookEvent) (WebhookOutcome, error) {
	orderID := strings.TrimSpace(event.OrderID)
	if orderID == "" {
		r.logger(ctx, "reconciler.order_reference_missing", map[string]any{
			"eventId": event.ID,
			"type":    event.RawType,
		})
		return WebhookOutcomeIgnored, nil
	}

	switch event.Kind {
	case payments.EventPaymentSucceeded:
		return r.applyPaymentSucceeded(ctx, event, orderID)
	case payments.EventPaymentFailed, payments.EventSessionExpired:
		return r.applyPaymentFailed(ctx, event, orderID)
	default:
		return WebhookOutcomeIgnored, nil
	}
}

func (r *reconciler) applyPaymentSucceeded(ctx context.Context, event payments.WebhookEvent, orderID string) (WebhookOutcome, error) {
	now := r.now()
	order, err := r.orders.Transition(ctx, orderID,
		[]domain.OrderStatus{domain.OrderStatusAwaitingPayment, domain.OrderStatusCreated},
		func(o *domain.Order) error {
			if event.AmountTotal > 0 && event.AmountTotal != o.Total {
				r.logger(ctx, "reconciler.amount_mismatch", map[string]any{
					"orderId":  o.ID,
					"expected": o.Total,
					"received": event.AmountTotal,
				})
			}
			o.Status = domain.OrderStatusPaid
			o.PaidAt = &now
			o.UpdatedAt = now
			if o.PaymentRef == nil {
				o.PaymentRef = &domain.PaymentReference{}
			}
			if event.SessionID != "" {
				o.PaymentRef.SessionID = event.SessionID
			}
			if event.IntentID != "" {
				o.PaymentRef.PaymentIntentID = event.IntentID
			}
			if event.ReceiptEmail != "" {
				o.PaymentRef.ReceiptEmail = event.ReceiptEmail
			}
			return nil
		})
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsConflict() {
			return r.settleStaleSuccess(ctx, event, orderID)
		}
		return r.disposeTransitionError(ctx, event, orderID, err)
	}

	if err := r.redeemPromotion(ctx, order); err != nil {
		// The event marker is released by the caller; the provider's
		// redelivery retries the redemption against the now-paid order.
		return "", err
	}

	r.logger(ctx, "reconciler.order_paid", map[string]any{
		"orderId": order.ID,
		"eventId": event.ID,
	})
	r.publish(ctx, order, "order.paid", event)
	return WebhookOutcomeApplied, nil
}

func (r *reconciler) applyPaymentFailed(ctx context.Context, event payments.WebhookEvent, orderID string) (WebhookOutcome, error) {
	now := r.now()
	reason := event.FailureMessage
	if reason == "" && event.Kind == payments.EventSessionExpired {
		reason = "checkout session expired"
	}

	order, err := r.orders.Transition(ctx, orderID,
		[]domain.OrderStatus{domain.OrderStatusAwaitingPayment, domain.OrderStatusCreated},
		func(o *domain.Order) error {
			o.Status = domain.OrderStatusPaymentFailed
			o.FailureReason = reason
			o.UpdatedAt = now
			return nil
		})
	if err != nil {
		return r.disposeTransitionError(ctx, event, orderID, err)
	}

	r.logger(ctx, "reconciler.payment_failed", map[string]any{
		"orderId": order.ID,
		"eventId": event.ID,
		"reason":  reason,
	})
	r.publish(ctx, order, "order.payment_failed", event)
	return WebhookOutcomeApplied, nil
}

// disposeTransitionError acknowledges deliveries that cannot change anything.
// Unknown orders and already-settled orders are logged anomalies, not errors;
// failing them would make the provider redeliver forever.
func (r *reconciler) disposeTransitionError(ctx context.Context, event payments.WebhookEvent, orderID string, err error) (WebhookOutcome, error) {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			r.logger(ctx, "reconciler.unknown_order", map[string]any{
				"orderId": orderID,
				"eventId": event.ID,
			})
			return WebhookOutcomeIgnored, nil
		case repoErr.IsConflict():
			r.logger(ctx, "reconciler.stale_event", map[string]any{
				"orderId": orderID,
				"eventId": event.ID,
				"type":    event.RawType,
			})
			return WebhookOutcomeIgnored, nil
		}
	}
	return "", err
}

// settleStaleSuccess handles a success event for an order that already left
// the payable statuses. When the order is paid, the promotion redemption is
// retried anyway: a delivery that failed after the paid transition committed
// finishes the increment here on redelivery, and Redeem is idempotent per
// order so an already-counted redemption is a no-op.
func (r *reconciler) settleStaleSuccess(ctx context.Context, event payments.WebhookEvent, orderID string) (WebhookOutcome, error) {
	order, err := r.orders.Get(ctx, orderID)
	if err != nil {
		return "", err
	}
	if order.Status == domain.OrderStatusPaid {
		if err := r.redeemPromotion(ctx, order); err != nil {
			return "", err
		}
	}
	r.logger(ctx, "reconciler.stale_event", map[string]any{
		"orderId": orderID,
		"eventId": event.ID,
		"type":    event.RawType,
	})
	return WebhookOutcomeIgnored, nil
}

// redeemPromotion moves the usage counters once payment is confirmed. A
// conflict means the caps were exhausted between pricing and payment; the
// order stays paid and the anomaly is logged for review. Any other failure is
// returned so the delivery fails and the redemption is retried on redelivery.
func (r *reconciler) redeemPromotion(ctx context.Context, order domain.Order) error {
	if order.Promotion == nil || r.promotions == nil {
		return nil
	}
	err := r.promotions.Redeem(ctx, order.Promotion.PromotionID, order.UserID, order.ID)
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsConflict() {
		r.logger(ctx, "reconciler.redemption_cap_exceeded", map[string]any{
			"orderId":     order.ID,
			"promotionId": order.Promotion.PromotionID,
		})
		return nil
	}
	r.logger(ctx, "reconciler.redemption_failed", map[string]any{
		"orderId":     order.ID,
		"promotionId": order.Promotion.PromotionID,
		"error":       err.Error(),
	})
	return fmt.Errorf("reconciler: redeem promotion for order %s: %w", order.ID, err)
}

func (r *reconciler) publish(ctx context.Context, order domain.Order, eventType string, event payments.WebhookEvent) {
	if r.publisher == nil {
		return
	}
	if _, err := r.publisher.PublishOrderEvent(ctx, OrderEventMessage{
		Type:       eventType,
		OrderID:    order.ID,
		UserID:     order.UserID,
		Status:     string(order.Status),
		Total:      order.Total,
		Currency:   order.Currency,
		EventID:    event.ID,
		OccurredAt: r.now(),
		Detail:     event.FailureMessage,
	}); err != nil {
		r.logger(ctx, "reconciler.publish_failed", map[string]any{
			"orderId": order.ID,
			"type":    eventType,
			"error":   err.Error(),
		})
	}
}

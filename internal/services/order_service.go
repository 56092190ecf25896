package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/atelierstore/api/internal/domain"
	"github.com/atelierstore/api/internal/payments"
	"github.com/atelierstore/api/internal/repositories"
)

var (
	// ErrOrderInvalidInput indicates missing or malformed request parameters.
	ErrOrderInvalidInput = errors.New("orders: invalid input")
	// ErrOrderNotFound indicates the order does not exist.
	ErrOrderNotFound = errors.New("orders: order not found")
	// ErrOrderForbidden indicates the caller may not view the order.
	ErrOrderForbidden = errors.New("orders: access denied")
	// ErrOrderInvalidTransition indicates the current status does not admit the requested change.
	ErrOrderInvalidTransition = errors.New("orders: invalid status transition")
	// ErrOrderRefundFailed indicates the provider refund attempt failed.
	ErrOrderRefundFailed = errors.New("orders: refund failed")
)

// orderRefundManager abstracts payments.Manager for easier testing.
type orderRefundManager interface {
	Refund(ctx context.Context, preferred string, req payments.RefundRequest) (payments.PaymentDetails, error)
}

// OrderServiceDeps wires the dependencies of the order service.
type OrderServiceDeps struct {
	Orders    repositories.OrderRepository
	Payments  orderRefundManager
	Publisher OrderEventPublisher
	Clock     func() time.Time
	Logger    func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders    repositories.OrderRepository
	payments  orderRefundManager
	publisher OrderEventPublisher
	now       func() time.Time
	logger    func(ctx context.Context, event string, fields map[string]any)
}

// NewOrderService constructs an OrderService validating required dependencies.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &orderService{
		orders:    deps.Orders,
		payments:  deps.Payments,
		publisher: deps.Publisher,
		now: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

func (s *orderService) Get(ctx context.Context, cmd GetOrderCommand) (Order, error) {
	if s == nil || s.orders == nil {
		return Order{}, errors.New("order service: not initialised")
	}
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return Order{}, s.translateError(err)
	}
	if !cmd.Admin && order.UserID != strings.TrimSpace(cmd.UserID) {
		return Order{}, ErrOrderForbidden
	}
	return order, nil
}

// MarkFulfilled moves a paid order to fulfilled.
func (s *orderService) MarkFulfilled(ctx context.Context, orderID, actorID string) (Order, error) {
	if s == nil || s.orders == nil {
		return Order{}, errors.New("order service: not initialised")
	}
	id := strings.TrimSpace(orderID)
	if id == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	now := s.now()
	order, err := s.orders.Transition(ctx, id,
		[]domain.OrderStatus{domain.OrderStatusPaid},
		func(o *domain.Order) error {
			o.Status = domain.OrderStatusFulfilled
			o.FulfilledAt = &now
			o.UpdatedAt = now
			return nil
		})
	if err != nil {
		return Order{}, s.translateError(err)
	}

	s.logger(ctx, "orders.fulfilled", map[string]any{"orderId": order.ID, "actorId": actorID})
	s.publish(ctx, order, "order.fulfilled", "")
	return order, nil
}

// Refund refunds the captured payment at the provider and then moves the
// order to refunded. The provider call comes first so a failed refund leaves
// the order in paid.
func (s *orderService) Refund(ctx context.Context, cmd RefundOrderCommand) (Order, error) {
	if s == nil || s.orders == nil {
		return Order{}, errors.New("order service: not initialised")
	}
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return Order{}, s.translateError(err)
	}
	if order.Status != domain.OrderStatusPaid {
		return Order{}, fmt.Errorf("%w: status %s", ErrOrderInvalidTransition, order.Status)
	}
	if order.PaymentRef == nil || order.PaymentRef.PaymentIntentID == "" {
		return Order{}, fmt.Errorf("%w: order has no captured payment", ErrOrderInvalidTransition)
	}
	if s.payments == nil {
		return Order{}, errors.New("order service: payment manager is required for refunds")
	}

	_, err = s.payments.Refund(ctx, order.PaymentRef.Provider, payments.RefundRequest{
		IntentID: order.PaymentRef.PaymentIntentID,
		Reason:   strings.TrimSpace(cmd.Reason),
		Metadata: map[string]string{
			payments.MetadataOrderIDKey: order.ID,
		},
	})
	if err != nil {
		s.logger(ctx, "orders.refund_failed", map[string]any{
			"orderId": order.ID,
			"error":   err.Error(),
		})
		return Order{}, fmt.Errorf("%w: %v", ErrOrderRefundFailed, err)
	}

	now := s.now()
	updated, err := s.orders.Transition(ctx, order.ID,
		[]domain.OrderStatus{domain.OrderStatusPaid},
		func(o *domain.Order) error {
			o.Status = domain.OrderStatusRefunded
			o.RefundedAt = &now
			o.UpdatedAt = now
			return nil
		})
	if err != nil {
		return Order{}, s.translateError(err)
	}

	s.logger(ctx, "orders.refunded", map[string]any{
		"orderId": updated.ID,
		"actorId": cmd.ActorID,
		"reason":  cmd.Reason,
	})
	s.publish(ctx, updated, "order.refunded", cmd.Reason)
	return updated, nil
}

// publish pushes a lifecycle event. Publish failures are logged and dropped,
// the order document remains the source of truth.
func (s *orderService) publish(ctx context.Context, order Order, eventType, detail string) {
	if s.publisher == nil {
		return
	}
	if _, err := s.publisher.PublishOrderEvent(ctx, OrderEventMessage{
		Type:       eventType,
		OrderID:    order.ID,
		UserID:     order.UserID,
		Status:     string(order.Status),
		Total:      order.Total,
		Currency:   order.Currency,
		OccurredAt: s.now(),
		Detail:     detail,
	}); err != nil {
		s.logger(ctx, "orders.publish_failed", map[string]any{
			"orderId": order.ID,
			"type":    eventType,
			"error":   err.Error(),
		})
	}
}

func (s *orderService) translateError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return ErrOrderNotFound
		case repoErr.IsConflict():
			return ErrOrderInvalidTransition
		}
	}
	return err
}

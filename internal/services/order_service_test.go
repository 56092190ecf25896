package services

import (
	"context"
	"errors"
	"testing"

	domain "github.com/atelierstore/api/internal/domain"
	"github.com/atelierstore/api/internal/payments"
)

type fakeRefundManager struct {
	req   payments.RefundRequest
	err   error
	calls int
}

func (f *fakeRefundManager) Refund(_ context.Context, _ string, req payments.RefundRequest) (payments.PaymentDetails, error) {
	f.calls++
	f.req = req
	if f.err != nil {
		return payments.PaymentDetails{}, f.err
	}
	return payments.PaymentDetails{Status: payments.StatusRefunded}, nil
}

type capturedEvents struct {
	messages []OrderEventMessage
	err      error
}

func (c *capturedEvents) PublishOrderEvent(_ context.Context, message OrderEventMessage) (string, error) {
	if c.err != nil {
		return "", c.err
	}
	c.messages = append(c.messages, message)
	return "msg_1", nil
}

func paidOrder() domain.Order {
	return domain.Order{
		ID:       "ord_1",
		UserID:   "user_1",
		Status:   domain.OrderStatusPaid,
		Currency: "usd",
		Total:    6110,
		PaymentRef: &domain.PaymentReference{
			Provider:        "stripe",
			SessionID:       "cs_1",
			PaymentIntentID: "pi_1",
		},
	}
}

func newTestOrders(t *testing.T, deps OrderServiceDeps) OrderService {
	t.Helper()
	if deps.Orders == nil {
		deps.Orders = newFakeOrderRepo(paidOrder())
	}
	if deps.Clock == nil {
		deps.Clock = fixedClock
	}
	svc, err := NewOrderService(deps)
	if err != nil {
		t.Fatalf("NewOrderService: %v", err)
	}
	return svc
}

func TestGetOrderEnforcesOwnership(t *testing.T) {
	svc := newTestOrders(t, OrderServiceDeps{})

	if _, err := svc.Get(context.Background(), GetOrderCommand{OrderID: "ord_1", UserID: "user_1"}); err != nil {
		t.Fatalf("owner should read the order: %v", err)
	}
	if _, err := svc.Get(context.Background(), GetOrderCommand{OrderID: "ord_1", UserID: "user_2"}); !errors.Is(err, ErrOrderForbidden) {
		t.Fatalf("expected forbidden for non-owner, got %v", err)
	}
	if _, err := svc.Get(context.Background(), GetOrderCommand{OrderID: "ord_1", UserID: "user_2", Admin: true}); err != nil {
		t.Fatalf("admin should read any order: %v", err)
	}
	if _, err := svc.Get(context.Background(), GetOrderCommand{OrderID: "ord_missing", Admin: true}); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestMarkFulfilledRequiresPaidStatus(t *testing.T) {
	repo := newFakeOrderRepo(paidOrder())
	events := &capturedEvents{}
	svc := newTestOrders(t, OrderServiceDeps{Orders: repo, Publisher: events})

	order, err := svc.MarkFulfilled(context.Background(), "ord_1", "admin_1")
	if err != nil {
		t.Fatalf("MarkFulfilled: %v", err)
	}
	if order.Status != domain.OrderStatusFulfilled {
		t.Fatalf("expected fulfilled, got %s", order.Status)
	}
	if order.FulfilledAt == nil || !order.FulfilledAt.Equal(fixedClock()) {
		t.Fatalf("expected fulfilment timestamp, got %v", order.FulfilledAt)
	}
	if len(events.messages) != 1 || events.messages[0].Type != "order.fulfilled" {
		t.Fatalf("expected one fulfilment event, got %+v", events.messages)
	}

	// A second attempt finds the order already fulfilled.
	if _, err := svc.MarkFulfilled(context.Background(), "ord_1", "admin_1"); !errors.Is(err, ErrOrderInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
}

func TestRefundCallsProviderThenTransitions(t *testing.T) {
	repo := newFakeOrderRepo(paidOrder())
	refunds := &fakeRefundManager{}
	events := &capturedEvents{}
	svc := newTestOrders(t, OrderServiceDeps{Orders: repo, Payments: refunds, Publisher: events})

	order, err := svc.Refund(context.Background(), RefundOrderCommand{OrderID: "ord_1", Reason: "requested_by_customer", ActorID: "admin_1"})
	if err != nil {
		t.Fatalf("Refund: %v", err)
	}
	if order.Status != domain.OrderStatusRefunded {
		t.Fatalf("expected refunded, got %s", order.Status)
	}
	if refunds.calls != 1 || refunds.req.IntentID != "pi_1" {
		t.Fatalf("expected one refund call for pi_1, got %+v", refunds.req)
	}
	if refunds.req.Metadata[payments.MetadataOrderIDKey] != "ord_1" {
		t.Fatalf("expected order id metadata on refund, got %v", refunds.req.Metadata)
	}
	if len(events.messages) != 1 || events.messages[0].Type != "order.refunded" {
		t.Fatalf("expected one refund event, got %+v", events.messages)
	}
}

func TestRefundFailureLeavesOrderPaid(t *testing.T) {
	repo := newFakeOrderRepo(paidOrder())
	refunds := &fakeRefundManager{err: errors.New("stripe rejected the refund")}
	svc := newTestOrders(t, OrderServiceDeps{Orders: repo, Payments: refunds})

	_, err := svc.Refund(context.Background(), RefundOrderCommand{OrderID: "ord_1"})
	if !errors.Is(err, ErrOrderRefundFailed) {
		t.Fatalf("expected refund failure, got %v", err)
	}
	if repo.orders["ord_1"].Status != domain.OrderStatusPaid {
		t.Fatalf("expected order to stay paid after provider failure")
	}
}

func TestRefundRejectsUnpaidOrder(t *testing.T) {
	order := paidOrder()
	order.Status = domain.OrderStatusAwaitingPayment
	svc := newTestOrders(t, OrderServiceDeps{Orders: newFakeOrderRepo(order), Payments: &fakeRefundManager{}})

	if _, err := svc.Refund(context.Background(), RefundOrderCommand{OrderID: "ord_1"}); !errors.Is(err, ErrOrderInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
}

package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/atelierstore/api/internal/domain"
	"github.com/atelierstore/api/internal/platform/auth"
	"github.com/atelierstore/api/internal/services"
)

type stubOrderService struct {
	getCmd     services.GetOrderCommand
	refundCmd  services.RefundOrderCommand
	order      domain.Order
	getErr     error
	fulfillErr error
	refundErr  error
}

func (s *stubOrderService) Get(_ context.Context, cmd services.GetOrderCommand) (domain.Order, error) {
	s.getCmd = cmd
	if s.getErr != nil {
		return domain.Order{}, s.getErr
	}
	return s.order, nil
}

func (s *stubOrderService) MarkFulfilled(_ context.Context, orderID, _ string) (domain.Order, error) {
	if s.fulfillErr != nil {
		return domain.Order{}, s.fulfillErr
	}
	order := s.order
	order.ID = orderID
	order.Status = domain.OrderStatusFulfilled
	return order, nil
}

func (s *stubOrderService) Refund(_ context.Context, cmd services.RefundOrderCommand) (domain.Order, error) {
	s.refundCmd = cmd
	if s.refundErr != nil {
		return domain.Order{}, s.refundErr
	}
	order := s.order
	order.Status = domain.OrderStatusRefunded
	return order, nil
}

func sampleOrder() domain.Order {
	return domain.Order{
		ID:        "ord_1",
		Number:    "ORD-000001",
		UserID:    "user_1",
		Status:    domain.OrderStatusCreated,
		Currency:  "usd",
		Subtotal:  6000,
		Discount:  900,
		Shipping:  500,
		Tax:       510,
		Total:     6110,
		CreatedAt: time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC),
	}
}

func newOrderRouter(checkout services.CheckoutService, orders services.OrderService) chi.Router {
	r := chi.NewRouter()
	NewOrderHandlers(nil, checkout, orders).Routes(r)
	return r
}

func TestCreateOrderEndpoint(t *testing.T) {
	checkout := &stubCheckoutService{order: sampleOrder()}
	router := newOrderRouter(checkout, &stubOrderService{})

	body := `{"currency":"usd","items":[{"productId":"prod_a","quantity":2,"unitPrice":2500}],"promotionCode":"SAVE15"}`
	req := withIdentity(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body)), "user_1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp orderResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.ID != "ord_1" || resp.Status != "created" || resp.Total != 6110 {
		t.Fatalf("unexpected response %+v", resp)
	}
	if checkout.orderCmd.UserID != "user_1" || checkout.orderCmd.PromotionCode != "SAVE15" {
		t.Fatalf("unexpected command %+v", checkout.orderCmd)
	}
}

func TestCreateOrderEndpointPromotionRejected(t *testing.T) {
	checkout := &stubCheckoutService{orderErr: &services.PromotionRejectedError{Code: "NOPE", Reason: services.RejectionInvalidCode}}
	router := newOrderRouter(checkout, &stubOrderService{})

	body := `{"currency":"usd","items":[{"productId":"prod_a","quantity":1,"unitPrice":100}],"promotionCode":"NOPE"}`
	req := withIdentity(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body)), "user_1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}
}

func TestGetOrderEndpointOwner(t *testing.T) {
	orders := &stubOrderService{order: sampleOrder()}
	router := newOrderRouter(&stubCheckoutService{}, orders)

	req := withIdentity(httptest.NewRequest(http.MethodGet, "/ord_1", nil), "user_1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if orders.getCmd.UserID != "user_1" || orders.getCmd.Admin {
		t.Fatalf("unexpected command %+v", orders.getCmd)
	}
}

func TestGetOrderEndpointStaffBypassesOwnership(t *testing.T) {
	orders := &stubOrderService{order: sampleOrder()}
	router := newOrderRouter(&stubCheckoutService{}, orders)

	req := withIdentity(httptest.NewRequest(http.MethodGet, "/ord_1", nil), "staff_1", auth.RoleStaff)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !orders.getCmd.Admin {
		t.Fatalf("expected admin flag for staff role")
	}
}

func TestGetOrderEndpointForbidden(t *testing.T) {
	orders := &stubOrderService{getErr: services.ErrOrderForbidden}
	router := newOrderRouter(&stubCheckoutService{}, orders)

	req := withIdentity(httptest.NewRequest(http.MethodGet, "/ord_1", nil), "user_2")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func newAdminOrderRouter(orders services.OrderService) chi.Router {
	r := chi.NewRouter()
	NewAdminOrderHandlers(nil, orders).Routes(r)
	return r
}

func TestAdminFulfillEndpoint(t *testing.T) {
	orders := &stubOrderService{order: sampleOrder()}
	router := newAdminOrderRouter(orders)

	req := withIdentity(httptest.NewRequest(http.MethodPost, "/orders/ord_1/fulfill", nil), "admin_1", auth.RoleAdmin)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp orderResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "fulfilled" {
		t.Fatalf("expected fulfilled status, got %q", resp.Status)
	}
}

func TestAdminFulfillEndpointConflict(t *testing.T) {
	orders := &stubOrderService{fulfillErr: services.ErrOrderInvalidTransition}
	router := newAdminOrderRouter(orders)

	req := withIdentity(httptest.NewRequest(http.MethodPost, "/orders/ord_1/fulfill", nil), "admin_1", auth.RoleAdmin)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestAdminRefundEndpoint(t *testing.T) {
	orders := &stubOrderService{order: sampleOrder()}
	router := newAdminOrderRouter(orders)

	body := `{"reason":"requested_by_customer"}`
	req := withIdentity(httptest.NewRequest(http.MethodPost, "/orders/ord_1/refund", strings.NewReader(body)), "admin_1", auth.RoleAdmin)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if orders.refundCmd.Reason != "requested_by_customer" || orders.refundCmd.ActorID != "admin_1" {
		t.Fatalf("unexpected refund command %+v", orders.refundCmd)
	}
}

func TestAdminRefundEndpointProviderFailure(t *testing.T) {
	orders := &stubOrderService{refundErr: services.ErrOrderRefundFailed}
	router := newAdminOrderRouter(orders)

	req := withIdentity(httptest.NewRequest(http.MethodPost, "/orders/ord_1/refund", nil), "admin_1", auth.RoleAdmin)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rec.Code)
	}
}

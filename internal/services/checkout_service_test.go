package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/atelierstore/api/internal/domain"
	"github.com/atelierstore/api/internal/payments"
	"github.com/atelierstore/api/internal/repositories"
)

type stubConflictError struct{ msg string }

func (e *stubConflictError) Error() string       { return e.msg }
func (e *stubConflictError) IsNotFound() bool    { return false }
func (e *stubConflictError) IsConflict() bool    { return true }
func (e *stubConflictError) IsUnavailable() bool { return false }

type fakeOrderRepo struct {
	orders map[string]domain.Order
}

func newFakeOrderRepo(orders ...domain.Order) *fakeOrderRepo {
	repo := &fakeOrderRepo{orders: map[string]domain.Order{}}
	for _, order := range orders {
		repo.orders[order.ID] = order
	}
	return repo
}

func (f *fakeOrderRepo) Insert(_ context.Context, order domain.Order) error {
	if _, exists := f.orders[order.ID]; exists {
		return &stubConflictError{msg: "order exists"}
	}
	f.orders[order.ID] = order
	return nil
}

func (f *fakeOrderRepo) Get(_ context.Context, orderID string) (domain.Order, error) {
	order, ok := f.orders[orderID]
	if !ok {
		return domain.Order{}, &stubNotFoundError{msg: "order not found"}
	}
	return order, nil
}

func (f *fakeOrderRepo) Transition(_ context.Context, orderID string, from []domain.OrderStatus, mutate func(*domain.Order) error) (domain.Order, error) {
	order, ok := f.orders[orderID]
	if !ok {
		return domain.Order{}, &stubNotFoundError{msg: "order not found"}
	}
	allowed := false
	for _, status := range from {
		if order.Status == status {
			allowed = true
			break
		}
	}
	if !allowed {
		return domain.Order{}, &stubConflictError{msg: "status not allowed"}
	}
	if err := mutate(&order); err != nil {
		return domain.Order{}, err
	}
	f.orders[orderID] = order
	return order, nil
}

type fakeCounter struct {
	next int64
	err  error
}

func (f *fakeCounter) Next(context.Context, string, int64) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.next++
	return f.next, nil
}

func (f *fakeCounter) Configure(context.Context, string, repositories.CounterConfig) error {
	return nil
}

type fakeSessionManager struct {
	req     payments.CheckoutSessionRequest
	session payments.CheckoutSession
	err     error
	calls   int
}

func (f *fakeSessionManager) CreateCheckoutSession(_ context.Context, _ string, req payments.CheckoutSessionRequest) (payments.CheckoutSession, error) {
	f.calls++
	f.req = req
	if f.err != nil {
		return payments.CheckoutSession{}, f.err
	}
	return f.session, nil
}

type stubPricing struct {
	priced PricedCart
	err    error
}

func (s stubPricing) PriceCart(context.Context, PriceCartCommand) (PricedCart, error) {
	return s.priced, s.err
}

func newTestCheckout(t *testing.T, deps CheckoutServiceDeps) CheckoutService {
	t.Helper()
	if deps.Pricing == nil {
		deps.Pricing = stubPricing{priced: PricedCart{Currency: "usd", Subtotal: 1000, Total: 1000}}
	}
	if deps.Orders == nil {
		deps.Orders = newFakeOrderRepo()
	}
	if deps.Payments == nil {
		deps.Payments = &fakeSessionManager{session: payments.CheckoutSession{ID: "cs_1", Provider: "stripe"}}
	}
	if deps.Clock == nil {
		deps.Clock = fixedClock
	}
	svc, err := NewCheckoutService(deps)
	if err != nil {
		t.Fatalf("NewCheckoutService: %v", err)
	}
	return svc
}

func TestCreateOrderPersistsPricedCart(t *testing.T) {
	repo := newFakeOrderRepo()
	pricing := stubPricing{priced: PricedCart{
		Currency: "usd",
		Subtotal: 6000,
		Discount: 900,
		Shipping: 500,
		Tax:      510,
		Total:    6110,
		Items: []domain.PricedLineItem{
			{ProductID: "prod_a", Quantity: 2, UnitPrice: 2500, Extended: 5000, Discount: 750},
			{ProductID: "prod_b", Quantity: 1, UnitPrice: 1000, Extended: 1000, Discount: 150},
		},
		Promotion: &domain.AppliedPromotion{PromotionID: "promo_pct", Code: "SAVE15", Type: domain.PromotionTypePercentage, Discount: 900},
	}}
	svc := newTestCheckout(t, CheckoutServiceDeps{
		Pricing:     pricing,
		Orders:      repo,
		Counters:    &fakeCounter{},
		IDGenerator: func() string { return "ord_test" },
	})

	order, err := svc.CreateOrder(context.Background(), CreateOrderCommand{
		UserID:        "user_1",
		Currency:      "usd",
		Items:         []CartLineItem{{ProductID: "prod_a", Quantity: 2, UnitPrice: 2500}},
		PromotionCode: "SAVE15",
	})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}

	if order.ID != "ord_test" || order.Number != "ORD-000001" {
		t.Fatalf("unexpected identifiers %q %q", order.ID, order.Number)
	}
	if order.Status != domain.OrderStatusCreated {
		t.Fatalf("expected created status, got %s", order.Status)
	}
	if order.Total != 6110 || order.Discount != 900 {
		t.Fatalf("unexpected totals %+v", order)
	}
	if order.Promotion == nil || order.Promotion.Code != "SAVE15" {
		t.Fatalf("expected promotion snapshot, got %+v", order.Promotion)
	}
	if _, ok := repo.orders["ord_test"]; !ok {
		t.Fatalf("expected order to be persisted")
	}
}

func TestCreateOrderPropagatesPromotionRejection(t *testing.T) {
	svc := newTestCheckout(t, CheckoutServiceDeps{
		Pricing: stubPricing{err: &PromotionRejectedError{Code: "NOPE", Reason: RejectionInvalidCode}},
	})

	_, err := svc.CreateOrder(context.Background(), CreateOrderCommand{
		UserID: "user_1",
		Items:  []CartLineItem{{ProductID: "prod_a", Quantity: 1, UnitPrice: 100}},
	})
	if !errors.Is(err, ErrPromotionRejected) {
		t.Fatalf("expected promotion rejection to pass through, got %v", err)
	}
}

func TestCreateOrderRequiresUser(t *testing.T) {
	svc := newTestCheckout(t, CheckoutServiceDeps{})
	if _, err := svc.CreateOrder(context.Background(), CreateOrderCommand{}); !errors.Is(err, ErrCheckoutInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func payableOrder() domain.Order {
	return domain.Order{
		ID:       "ord_1",
		UserID:   "user_1",
		Status:   domain.OrderStatusCreated,
		Currency: "usd",
		Subtotal: 6000,
		Discount: 900,
		Shipping: 500,
		Tax:      510,
		Total:    6110,
		Items: []domain.PricedLineItem{
			{ProductID: "prod_a", Name: "Ceramic mug", SKU: "MUG-1", Quantity: 2, UnitPrice: 2500, Extended: 5000, Discount: 750},
			{ProductID: "prod_b", Quantity: 1, UnitPrice: 1000, Extended: 1000, Discount: 150},
		},
	}
}

func TestCreateSessionIssuesProviderSession(t *testing.T) {
	repo := newFakeOrderRepo(payableOrder())
	expires := time.Date(2025, 3, 10, 13, 0, 0, 0, time.UTC)
	manager := &fakeSessionManager{session: payments.CheckoutSession{
		ID:          "cs_42",
		Provider:    "stripe",
		RedirectURL: "https://checkout.stripe.test/cs_42",
		IntentID:    "pi_42",
		ExpiresAt:   expires,
	}}
	svc := newTestCheckout(t, CheckoutServiceDeps{Orders: repo, Payments: manager})

	session, err := svc.CreateSession(context.Background(), CreateSessionCommand{
		OrderID:    "ord_1",
		UserID:     "user_1",
		SuccessURL: "https://shop.test/success",
		CancelURL:  "https://shop.test/cancel",
	})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	if session.SessionID != "cs_42" || session.OrderID != "ord_1" {
		t.Fatalf("unexpected session %+v", session)
	}
	if session.ExpiresAt == nil || !session.ExpiresAt.Equal(expires) {
		t.Fatalf("expected expiry to be carried over, got %v", session.ExpiresAt)
	}

	if manager.req.Metadata[payments.MetadataOrderIDKey] != "ord_1" {
		t.Fatalf("expected order id metadata, got %v", manager.req.Metadata)
	}
	var sum int64
	for _, item := range manager.req.Items {
		if item.Amount <= 0 {
			t.Fatalf("line item %q has non-positive amount %d", item.Name, item.Amount)
		}
		sum += item.Amount
	}
	if sum != 6110 {
		t.Fatalf("expected line items to sum to order total, got %d", sum)
	}

	stored := repo.orders["ord_1"]
	if stored.Status != domain.OrderStatusAwaitingPayment {
		t.Fatalf("expected awaiting_payment, got %s", stored.Status)
	}
	if stored.PaymentRef == nil || stored.PaymentRef.SessionID != "cs_42" || stored.PaymentRef.PaymentIntentID != "pi_42" {
		t.Fatalf("expected payment reference, got %+v", stored.PaymentRef)
	}
}

func TestCreateSessionRejectsForeignOrder(t *testing.T) {
	repo := newFakeOrderRepo(payableOrder())
	svc := newTestCheckout(t, CheckoutServiceDeps{Orders: repo})

	_, err := svc.CreateSession(context.Background(), CreateSessionCommand{
		OrderID:    "ord_1",
		UserID:     "user_other",
		SuccessURL: "https://shop.test/s",
		CancelURL:  "https://shop.test/c",
	})
	if !errors.Is(err, ErrCheckoutForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestCreateSessionRejectsPaidOrder(t *testing.T) {
	order := payableOrder()
	order.Status = domain.OrderStatusPaid
	svc := newTestCheckout(t, CheckoutServiceDeps{Orders: newFakeOrderRepo(order)})

	_, err := svc.CreateSession(context.Background(), CreateSessionCommand{
		OrderID:    "ord_1",
		UserID:     "user_1",
		SuccessURL: "https://shop.test/s",
		CancelURL:  "https://shop.test/c",
	})
	if !errors.Is(err, ErrCheckoutOrderNotPayable) {
		t.Fatalf("expected not payable, got %v", err)
	}
}

func TestCreateSessionUnknownOrder(t *testing.T) {
	svc := newTestCheckout(t, CheckoutServiceDeps{})
	_, err := svc.CreateSession(context.Background(), CreateSessionCommand{
		OrderID:    "ord_missing",
		SuccessURL: "https://shop.test/s",
		CancelURL:  "https://shop.test/c",
	})
	if !errors.Is(err, ErrCheckoutOrderNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCreateSessionDoesNotRetryProvider(t *testing.T) {
	repo := newFakeOrderRepo(payableOrder())
	manager := &fakeSessionManager{err: errors.New("stripe unavailable")}
	svc := newTestCheckout(t, CheckoutServiceDeps{Orders: repo, Payments: manager})

	_, err := svc.CreateSession(context.Background(), CreateSessionCommand{
		OrderID:    "ord_1",
		UserID:     "user_1",
		SuccessURL: "https://shop.test/s",
		CancelURL:  "https://shop.test/c",
	})
	if !errors.Is(err, ErrCheckoutPaymentFailed) {
		t.Fatalf("expected payment failure, got %v", err)
	}
	if manager.calls != 1 {
		t.Fatalf("expected exactly one provider call, got %d", manager.calls)
	}
	if repo.orders["ord_1"].Status != domain.OrderStatusCreated {
		t.Fatalf("expected order untouched after provider failure")
	}
}

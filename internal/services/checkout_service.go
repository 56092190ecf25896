package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/atelierstore/api/internal/domain"
	"github.com/atelierstore/api/internal/payments"
	"github.com/atelierstore/api/internal/repositories"
)

const (
	orderIDPrefix      = "ord_"
	orderNumberCounter = "orders"
	orderNumberFormat  = "ORD-%06d"
)

var (
	// ErrCheckoutInvalidInput indicates the caller supplied invalid input parameters.
	ErrCheckoutInvalidInput = errors.New("checkout: invalid input")
	// ErrCheckoutUnavailable indicates checkout dependencies are currently unavailable.
	ErrCheckoutUnavailable = errors.New("checkout: unavailable")
	// ErrCheckoutOrderNotFound indicates the referenced order does not exist.
	ErrCheckoutOrderNotFound = errors.New("checkout: order not found")
	// ErrCheckoutForbidden indicates the caller does not own the order.
	ErrCheckoutForbidden = errors.New("checkout: order belongs to another user")
	// ErrCheckoutOrderNotPayable indicates the order status does not admit a new session.
	ErrCheckoutOrderNotPayable = errors.New("checkout: order is not payable")
	// ErrCheckoutPaymentFailed indicates the PSP session could not be created.
	ErrCheckoutPaymentFailed = errors.New("checkout: payment session failed")
)

// checkoutSessionManager abstracts payments.Manager for easier testing.
type checkoutSessionManager interface {
	CreateCheckoutSession(ctx context.Context, preferred string, req payments.CheckoutSessionRequest) (payments.CheckoutSession, error)
}

// CheckoutServiceDeps wires the dependencies required by the checkout service.
type CheckoutServiceDeps struct {
	Pricing     PricingService
	Orders      repositories.OrderRepository
	Counters    repositories.CounterRepository
	Payments    checkoutSessionManager
	Provider    string
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type checkoutService struct {
	pricing  PricingService
	orders   repositories.OrderRepository
	counters repositories.CounterRepository
	payments checkoutSessionManager
	provider string
	now      func() time.Time
	newID    func() string
	logger   func(ctx context.Context, event string, fields map[string]any)
}

// NewCheckoutService constructs a CheckoutService validating required dependencies.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	if deps.Pricing == nil {
		return nil, errors.New("checkout service: pricing service is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("checkout service: order repository is required")
	}
	if deps.Payments == nil {
		return nil, errors.New("checkout service: payment manager is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return orderIDPrefix + ulid.Make().String()
		}
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &checkoutService{
		pricing:  deps.Pricing,
		orders:   deps.Orders,
		counters: deps.Counters,
		payments: deps.Payments,
		provider: strings.TrimSpace(deps.Provider),
		now: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

// CreateOrder prices the cart and persists the result as an order in the
// created state. The promotion is not redeemed here; usage counters only move
// once payment is confirmed.
func (s *checkoutService) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error) {
	if s == nil || s.orders == nil {
		return Order{}, ErrCheckoutUnavailable
	}
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return Order{}, fmt.Errorf("%w: user id is required", ErrCheckoutInvalidInput)
	}

	priced, err := s.pricing.PriceCart(ctx, PriceCartCommand{
		UserID:        userID,
		Currency:      cmd.Currency,
		Items:         cmd.Items,
		PromotionCode: cmd.PromotionCode,
	})
	if err != nil {
		return Order{}, err
	}

	now := s.now()
	order := Order{
		ID:        s.newID(),
		Number:    s.nextOrderNumber(ctx),
		UserID:    userID,
		Status:    domain.OrderStatusCreated,
		Currency:  priced.Currency,
		Subtotal:  priced.Subtotal,
		Discount:  priced.Discount,
		Shipping:  priced.Shipping,
		Tax:       priced.Tax,
		Total:     priced.Total,
		Items:     priced.Items,
		Promotion: priced.Promotion,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.orders.Insert(ctx, order); err != nil {
		return Order{}, s.translateOrderError(err)
	}
	s.logger(ctx, "checkout.order_created", map[string]any{
		"orderId": order.ID,
		"number":  order.Number,
		"total":   order.Total,
	})
	return order, nil
}

// CreateSession issues exactly one provider checkout session for the order and
// moves it to awaiting_payment. Provider failures are returned to the caller
// unretried.
func (s *checkoutService) CreateSession(ctx context.Context, cmd CreateSessionCommand) (PaymentSession, error) {
	if s == nil || s.orders == nil || s.payments == nil {
		return PaymentSession{}, ErrCheckoutUnavailable
	}

	orderID := strings.TrimSpace(cmd.OrderID)
	successURL := strings.TrimSpace(cmd.SuccessURL)
	cancelURL := strings.TrimSpace(cmd.CancelURL)
	if orderID == "" {
		return PaymentSession{}, fmt.Errorf("%w: order id is required", ErrCheckoutInvalidInput)
	}
	if successURL == "" || cancelURL == "" {
		return PaymentSession{}, fmt.Errorf("%w: success and cancel urls are required", ErrCheckoutInvalidInput)
	}

	order, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return PaymentSession{}, s.translateOrderError(err)
	}
	if userID := strings.TrimSpace(cmd.UserID); userID != "" && order.UserID != userID {
		return PaymentSession{}, ErrCheckoutForbidden
	}
	if order.Status != domain.OrderStatusCreated && order.Status != domain.OrderStatusAwaitingPayment {
		return PaymentSession{}, fmt.Errorf("%w: status %s", ErrCheckoutOrderNotPayable, order.Status)
	}

	items, err := sessionLineItems(order)
	if err != nil {
		return PaymentSession{}, err
	}

	session, err := s.payments.CreateCheckoutSession(ctx, s.provider, payments.CheckoutSessionRequest{
		Amount:        order.Total,
		Currency:      order.Currency,
		CustomerEmail: strings.TrimSpace(cmd.CustomerEmail),
		SuccessURL:    successURL,
		CancelURL:     cancelURL,
		Locale:        strings.TrimSpace(cmd.Locale),
		Metadata: map[string]string{
			payments.MetadataOrderIDKey: order.ID,
		},
		IdempotencyKey: strings.TrimSpace(cmd.IdempotencyKey),
		Items:          items,
	})
	if err != nil {
		s.logger(ctx, "checkout.session_failed", map[string]any{
			"orderId": order.ID,
			"error":   err.Error(),
		})
		return PaymentSession{}, fmt.Errorf("%w: %v", ErrCheckoutPaymentFailed, err)
	}

	updated, err := s.orders.Transition(ctx, order.ID,
		[]domain.OrderStatus{domain.OrderStatusCreated, domain.OrderStatusAwaitingPayment},
		func(o *domain.Order) error {
			o.Status = domain.OrderStatusAwaitingPayment
			o.PaymentRef = &domain.PaymentReference{
				Provider:        session.Provider,
				SessionID:       session.ID,
				PaymentIntentID: session.IntentID,
			}
			o.UpdatedAt = s.now()
			return nil
		})
	if err != nil {
		return PaymentSession{}, s.translateOrderError(err)
	}

	s.logger(ctx, "checkout.session_created", map[string]any{
		"orderId":   updated.ID,
		"sessionId": session.ID,
		"provider":  session.Provider,
	})

	result := PaymentSession{
		SessionID: session.ID,
		URL:       session.RedirectURL,
		OrderID:   updated.ID,
	}
	if !session.ExpiresAt.IsZero() {
		expires := session.ExpiresAt
		result.ExpiresAt = &expires
	}
	return result, nil
}

// nextOrderNumber issues a human-readable order number. Counter failures fall
// back to the order id so checkout never blocks on the sequence document.
func (s *checkoutService) nextOrderNumber(ctx context.Context) string {
	if s.counters == nil {
		return ""
	}
	seq, err := s.counters.Next(ctx, orderNumberCounter, 1)
	if err != nil {
		s.logger(ctx, "checkout.order_number_unavailable", map[string]any{"error": err.Error()})
		return ""
	}
	return fmt.Sprintf(orderNumberFormat, seq)
}

// sessionLineItems converts the order into provider line items whose sum
// equals the order total. Discounts are folded into the goods lines.
func sessionLineItems(order Order) ([]payments.CheckoutLineItem, error) {
	if order.Total <= 0 {
		return nil, fmt.Errorf("%w: order total must be positive", ErrCheckoutOrderNotPayable)
	}

	items := make([]payments.CheckoutLineItem, 0, len(order.Items)+2)
	for _, line := range order.Items {
		amount := line.Extended - line.Discount
		if amount < 0 {
			return nil, fmt.Errorf("%w: line %s has negative amount", ErrCheckoutInvalidInput, line.ProductID)
		}
		if amount == 0 {
			continue
		}
		name := line.Name
		if name == "" {
			name = line.ProductID
		}
		items = append(items, payments.CheckoutLineItem{
			Name:     name,
			SKU:      line.SKU,
			Quantity: 1,
			Amount:   amount,
			Currency: order.Currency,
		})
	}

	shippingDiscount := int64(0)
	if order.Promotion != nil && order.Promotion.Type == domain.PromotionTypeFreeShipping {
		shippingDiscount = order.Promotion.Discount
	}
	if net := order.Shipping - shippingDiscount; net > 0 {
		items = append(items, payments.CheckoutLineItem{
			Name:     "Shipping",
			Quantity: 1,
			Amount:   net,
			Currency: order.Currency,
		})
	}
	if order.Tax > 0 {
		items = append(items, payments.CheckoutLineItem{
			Name:     "Tax",
			Quantity: 1,
			Amount:   order.Tax,
			Currency: order.Currency,
		})
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: no payable line items", ErrCheckoutOrderNotPayable)
	}
	return items, nil
}

func (s *checkoutService) translateOrderError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return ErrCheckoutOrderNotFound
		case repoErr.IsConflict():
			return ErrCheckoutOrderNotPayable
		case repoErr.IsUnavailable():
			return ErrCheckoutUnavailable
		}
	}
	return err
}

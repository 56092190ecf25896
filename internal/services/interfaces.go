package services

import (
	"context"
	"time"

	domain "github.com/atelierstore/api/internal/domain"
)

// Domain aliases keep service signatures concise while the canonical types
// live in the domain package.
type (
	// Promotion mirrors domain.Promotion.
	Promotion = domain.Promotion
	// PromotionType mirrors domain.PromotionType.
	PromotionType = domain.PromotionType
	// CartLineItem mirrors domain.CartLineItem.
	CartLineItem = domain.CartLineItem
	// CartContext mirrors domain.CartContext.
	CartContext = domain.CartContext
	// PricedCart mirrors domain.PricedCart.
	PricedCart = domain.PricedCart
	// AppliedPromotion mirrors domain.AppliedPromotion.
	AppliedPromotion = domain.AppliedPromotion
	// Order mirrors domain.Order.
	Order = domain.Order
	// OrderStatus mirrors domain.OrderStatus.
	OrderStatus = domain.OrderStatus
	// PaymentSession mirrors domain.PaymentSession.
	PaymentSession = domain.PaymentSession
	// Pagination mirrors domain.Pagination.
	Pagination = domain.Pagination
)

// PromotionList is one page of promotions plus the continuation token.
type PromotionList struct {
	Promotions    []Promotion
	NextPageToken string
}

// PromotionInput carries the writable promotion fields for admin mutations.
type PromotionInput struct {
	Code            string
	Name            string
	Description     string
	Type            PromotionType
	PercentValue    int64
	AmountValue     int64
	Currency        string
	BuyXGetY        *domain.BuyXGetY
	MinPurchase     int64
	MaxDiscount     int64
	MaxUsage        int64
	MaxUsagePerUser int64
	StartsAt        *time.Time
	EndsAt          *time.Time
	IsActive        *bool
	Applicability   domain.PromotionApplicability
}

// ListPromotionsCommand parameterises admin promotion listings.
type ListPromotionsCommand struct {
	IncludeDisabled bool
	PageSize        int
	PageToken       string
}

// RedeemPromotionCommand applies a confirmed redemption to the usage counters.
type RedeemPromotionCommand struct {
	PromotionID string
	UserID      string
	OrderID     string
}

// PromotionService owns promotion catalog reads and admin mutations.
type PromotionService interface {
	// ListRedeemable returns promotions shoppers can currently redeem.
	ListRedeemable(ctx context.Context, page Pagination) (PromotionList, error)
	// GetRedeemableByCode resolves a code case-insensitively and only
	// returns promotions that are currently redeemable.
	GetRedeemableByCode(ctx context.Context, code string) (Promotion, error)

	Create(ctx context.Context, input PromotionInput) (Promotion, error)
	Update(ctx context.Context, promotionID string, input PromotionInput) (Promotion, error)
	// Disable soft-disables the promotion; it never deletes the document.
	Disable(ctx context.Context, promotionID string) error
	Get(ctx context.Context, promotionID string) (Promotion, error)
	List(ctx context.Context, cmd ListPromotionsCommand) (PromotionList, error)

	// Redeem performs the transactional conditional usage increment. It is
	// called only once payment is confirmed, never at pricing time.
	Redeem(ctx context.Context, cmd RedeemPromotionCommand) error
}

// PriceCartCommand asks the engine for a deterministic cart quote.
type PriceCartCommand struct {
	UserID        string
	Currency      string
	Items         []CartLineItem
	PromotionCode string
}

// PricingService quotes carts. Pricing never mutates promotion state.
type PricingService interface {
	PriceCart(ctx context.Context, cmd PriceCartCommand) (PricedCart, error)
}

// CreateOrderCommand turns a cart into a persisted order awaiting checkout.
type CreateOrderCommand struct {
	UserID        string
	Currency      string
	Items         []CartLineItem
	PromotionCode string
}

// CreateSessionCommand requests a provider checkout session for an order.
type CreateSessionCommand struct {
	OrderID        string
	UserID         string
	SuccessURL     string
	CancelURL      string
	CustomerEmail  string
	Locale         string
	IdempotencyKey string
}

// CheckoutService prices carts into orders and issues payment sessions.
type CheckoutService interface {
	CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error)
	// CreateSession creates exactly one provider session per call. The
	// service never retries the provider; callers own retry policy via
	// idempotency keys.
	CreateSession(ctx context.Context, cmd CreateSessionCommand) (PaymentSession, error)
}

// GetOrderCommand fetches an order with caller context for authorisation.
type GetOrderCommand struct {
	OrderID string
	UserID  string
	Admin   bool
}

// RefundOrderCommand triggers a provider refund and the refunded transition.
type RefundOrderCommand struct {
	OrderID string
	Reason  string
	ActorID string
}

// OrderService reads orders and applies post-payment transitions.
type OrderService interface {
	Get(ctx context.Context, cmd GetOrderCommand) (Order, error)
	MarkFulfilled(ctx context.Context, orderID, actorID string) (Order, error)
	Refund(ctx context.Context, cmd RefundOrderCommand) (Order, error)
}

// ProcessWebhookCommand carries a raw provider webhook for reconciliation.
type ProcessWebhookCommand struct {
	Provider        string
	Payload         []byte
	SignatureHeader string
}

// WebhookOutcome reports how the reconciler disposed of an event.
type WebhookOutcome string

const (
	// WebhookOutcomeApplied means the event advanced an order.
	WebhookOutcomeApplied WebhookOutcome = "applied"
	// WebhookOutcomeDuplicate means the event id was already processed.
	WebhookOutcomeDuplicate WebhookOutcome = "duplicate"
	// WebhookOutcomeIgnored means the event type or target is not ours; it is
	// acknowledged so the provider stops retrying.
	WebhookOutcomeIgnored WebhookOutcome = "ignored"
)

// ReconciliationService consumes verified provider events and keeps order
// state consistent with payment state.
type ReconciliationService interface {
	ProcessWebhook(ctx context.Context, cmd ProcessWebhookCommand) (WebhookOutcome, error)
}

// OrderEventMessage is the payload published on order lifecycle changes.
type OrderEventMessage struct {
	Type       string    `json:"type"`
	OrderID    string    `json:"orderId"`
	UserID     string    `json:"userId,omitempty"`
	Status     string    `json:"status"`
	Total      int64     `json:"total,omitempty"`
	Currency   string    `json:"currency,omitempty"`
	EventID    string    `json:"eventId,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
	Detail     string    `json:"detail,omitempty"`
}

// OrderEventPublisher fans order lifecycle events out to downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, message OrderEventMessage) (string, error)
}

// ShippingQuoter prices the shipping component for a cart.
type ShippingQuoter interface {
	Quote(ctx context.Context, cart CartContext) (int64, error)
}

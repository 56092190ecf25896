package domain

import (
	"time"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// SortOrder indicates ascending or descending ordering for list queries.
type SortOrder string

const (
	// SortAsc sorts results in ascending order.
	SortAsc SortOrder = "asc"
	// SortDesc sorts results in descending order.
	SortDesc SortOrder = "desc"
)

// PromotionType enumerates the supported discount mechanics.
type PromotionType string

const (
	// PromotionTypePercentage discounts a percentage of the eligible subtotal.
	PromotionTypePercentage PromotionType = "percentage"
	// PromotionTypeFixedAmount discounts a fixed amount in minor units.
	PromotionTypeFixedAmount PromotionType = "fixed_amount"
	// PromotionTypeFreeShipping waives the shipping charge.
	PromotionTypeFreeShipping PromotionType = "free_shipping"
	// PromotionTypeBuyXGetY discounts the cheapest matched units in buy-x-get-y groups.
	PromotionTypeBuyXGetY PromotionType = "buy_x_get_y"
)

// BuyXGetY holds the group mechanics for buy_x_get_y promotions.
// GetDiscountPercent defaults to 100 (free) when zero.
type BuyXGetY struct {
	BuyQuantity        int
	GetQuantity        int
	GetDiscountPercent int64
}

// PromotionApplicability restricts a promotion to subsets of the catalog.
// Empty include sets mean the promotion applies to every product.
type PromotionApplicability struct {
	ProductIDs         []string
	CategoryIDs        []string
	ExcludedProductIDs []string
	ExcludedCategories []string
}

// Empty reports whether no targeting rules are set, meaning the promotion
// applies to every line item.
func (a PromotionApplicability) Empty() bool {
	return len(a.ProductIDs) == 0 && len(a.CategoryIDs) == 0 &&
		len(a.ExcludedProductIDs) == 0 && len(a.ExcludedCategories) == 0
}

// Promotion is the persisted promotion document. Monetary fields are minor
// units; PercentValue is whole percents for percentage promotions.
type Promotion struct {
	ID              string
	Code            string
	Name            string
	Description     string
	Type            PromotionType
	PercentValue    int64
	AmountValue     int64
	Currency        string
	BuyXGetY        *BuyXGetY
	MinPurchase     int64
	MaxDiscount     int64
	MaxUsage        int64
	UsageCount      int64
	MaxUsagePerUser int64
	StartsAt        *time.Time
	EndsAt          *time.Time
	IsActive        bool
	Applicability   PromotionApplicability
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// CartLineItem is one priced entry of the cart submitted for quoting.
type CartLineItem struct {
	ProductID   string
	SKU         string
	Name        string
	CategoryIDs []string
	Quantity    int
	UnitPrice   int64
	Currency    string
}

// CartContext bundles everything promotion evaluation and pricing need.
type CartContext struct {
	UserID         string
	Currency       string
	Items          []CartLineItem
	ShippingQuote  int64
	UserUsageCount int64
}

// AppliedPromotion is the snapshot of a promotion at pricing time.
type AppliedPromotion struct {
	PromotionID string
	Code        string
	Type        PromotionType
	Discount    int64
}

// PricedCart is the deterministic pricing output for a cart.
// Total = Subtotal - Discount + Shipping + Tax, floored per component.
type PricedCart struct {
	Currency  string
	Subtotal  int64
	Discount  int64
	Shipping  int64
	Tax       int64
	Total     int64
	Items     []PricedLineItem
	Promotion *AppliedPromotion
	PricedAt  time.Time
}

// PricedLineItem carries the per-line extension and discount allocation.
type PricedLineItem struct {
	ProductID string
	SKU       string
	Name      string
	Quantity  int
	UnitPrice int64
	Extended  int64
	Discount  int64
}

// OrderStatus tracks the payment-centric order lifecycle.
type OrderStatus string

const (
	// OrderStatusCreated is the initial state after pricing is accepted.
	OrderStatusCreated OrderStatus = "created"
	// OrderStatusAwaitingPayment means a checkout session was issued.
	OrderStatusAwaitingPayment OrderStatus = "awaiting_payment"
	// OrderStatusPaid means the provider confirmed payment.
	OrderStatusPaid OrderStatus = "paid"
	// OrderStatusFulfilled is the terminal happy-path state.
	OrderStatusFulfilled OrderStatus = "fulfilled"
	// OrderStatusRefunded is the terminal refund state.
	OrderStatusRefunded OrderStatus = "refunded"
	// OrderStatusPaymentFailed records a failed or expired payment attempt.
	OrderStatusPaymentFailed OrderStatus = "payment_failed"
)

// Order is the persisted order document built from a priced cart.
type Order struct {
	ID            string
	Number        string
	UserID        string
	Status        OrderStatus
	Currency      string
	Subtotal      int64
	Discount      int64
	Shipping      int64
	Tax           int64
	Total         int64
	Items         []PricedLineItem
	Promotion     *AppliedPromotion
	PaymentRef    *PaymentReference
	FailureReason string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	PaidAt        *time.Time
	FulfilledAt   *time.Time
	RefundedAt    *time.Time
}

// PaymentReference links an order to its provider-side objects.
type PaymentReference struct {
	Provider        string
	SessionID       string
	PaymentIntentID string
	ReceiptEmail    string
}

// PaymentSession is the provider checkout session surfaced to clients.
type PaymentSession struct {
	SessionID string
	URL       string
	OrderID   string
	ExpiresAt *time.Time
}

// PaymentEvent is the normalized form of a provider webhook event.
type PaymentEvent struct {
	ID              string
	Type            string
	OrderID         string
	SessionID       string
	PaymentIntentID string
	AmountTotal     int64
	Currency        string
	ReceiptEmail    string
	FailureMessage  string
	OccurredAt      time.Time
}

// PromotionRedemption records one user's redemption tally for a promotion.
type PromotionRedemption struct {
	PromotionID string
	UserID      string
	Count       int64
	UpdatedAt   time.Time
}

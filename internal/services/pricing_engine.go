package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	domain "github.com/atelierstore/api/internal/domain"
	"github.com/atelierstore/api/internal/repositories"
)

var (
	// ErrCartPricingInvalidInput signals bad request data such as missing cart items or negative prices.
	ErrCartPricingInvalidInput = errors.New("cart pricing: invalid input")
	// ErrCartPricingCurrencyMismatch is returned when items use multiple currencies.
	ErrCartPricingCurrencyMismatch = errors.New("cart pricing: currency mismatch")
	// ErrPromotionRejected wraps promotion rejections surfaced during pricing.
	ErrPromotionRejected = errors.New("cart pricing: promotion rejected")
)

// RejectionInvalidCode is the rejection reason used when the code resolves to
// no promotion at all.
const RejectionInvalidCode domain.IneligibilityReason = "invalid_code"

// PromotionRejectedError reports why a supplied code could not be applied.
// It unwraps to ErrPromotionRejected so callers can match with errors.Is.
type PromotionRejectedError struct {
	Code   string
	Reason domain.IneligibilityReason
}

// Error implements the error interface.
func (e *PromotionRejectedError) Error() string {
	return fmt.Sprintf("cart pricing: promotion %s rejected: %s", e.Code, e.Reason)
}

// Unwrap ties the structured rejection to the package sentinel.
func (e *PromotionRejectedError) Unwrap() error { return ErrPromotionRejected }

// CartPricingEngineDeps bundles the collaborators of the pricing engine.
type CartPricingEngineDeps struct {
	Promotions         repositories.PromotionRepository
	Redemptions        repositories.RedemptionRepository
	Shipping           ShippingQuoter
	TaxRateBasisPoints int64
	Now                func() time.Time
	Logger             func(ctx context.Context, event string, fields map[string]any)
}

// CartPricingEngine produces deterministic cart quotes. All arithmetic is in
// minor units; pricing reads promotion state but never mutates it.
type CartPricingEngine struct {
	promotions  repositories.PromotionRepository
	redemptions repositories.RedemptionRepository
	shipping    ShippingQuoter
	taxRateBps  int64
	now         func() time.Time
	logger      func(ctx context.Context, event string, fields map[string]any)
}

// NewCartPricingEngine validates dependencies and builds the engine.
func NewCartPricingEngine(deps CartPricingEngineDeps) (*CartPricingEngine, error) {
	if deps.Promotions == nil {
		return nil, errors.New("cart pricing engine: promotion repository is required")
	}
	if deps.TaxRateBasisPoints < 0 {
		return nil, errors.New("cart pricing engine: tax rate must not be negative")
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &CartPricingEngine{
		promotions:  deps.Promotions,
		redemptions: deps.Redemptions,
		shipping:    deps.Shipping,
		taxRateBps:  deps.TaxRateBasisPoints,
		now: func() time.Time {
			return now().UTC()
		},
		logger: logger,
	}, nil
}

// PriceCart quotes the cart: subtotal, promotion discount, shipping, tax on
// the discounted goods amount, and the floored grand total.
func (e *CartPricingEngine) PriceCart(ctx context.Context, cmd PriceCartCommand) (PricedCart, error) {
	if e == nil {
		return PricedCart{}, errors.New("cart pricing engine: not initialised")
	}

	currency, err := validatePricingInput(cmd)
	if err != nil {
		return PricedCart{}, err
	}

	var subtotal int64
	items := make([]domain.PricedLineItem, 0, len(cmd.Items))
	for _, item := range cmd.Items {
		quantity := int64(item.Quantity)
		if item.UnitPrice > 0 && quantity > 0 && item.UnitPrice > math.MaxInt64/quantity {
			return PricedCart{}, fmt.Errorf("%w: line %s subtotal overflow", ErrCartPricingInvalidInput, item.ProductID)
		}
		extended := item.UnitPrice * quantity
		if extended > 0 && subtotal > math.MaxInt64-extended {
			return PricedCart{}, fmt.Errorf("%w: cart subtotal overflow", ErrCartPricingInvalidInput)
		}
		subtotal += extended
		items = append(items, domain.PricedLineItem{
			ProductID: item.ProductID,
			SKU:       item.SKU,
			Name:      item.Name,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			Extended:  extended,
		})
	}

	cart := CartContext{
		UserID:   cmd.UserID,
		Currency: currency,
		Items:    cmd.Items,
	}

	shippingQuote := int64(0)
	if e.shipping != nil {
		quote, err := e.shipping.Quote(ctx, cart)
		if err != nil {
			return PricedCart{}, fmt.Errorf("cart pricing: shipping quote: %w", err)
		}
		if quote < 0 {
			return PricedCart{}, fmt.Errorf("%w: shipping amount cannot be negative", ErrCartPricingInvalidInput)
		}
		shippingQuote = quote
	}
	cart.ShippingQuote = shippingQuote

	var applied *domain.AppliedPromotion
	var goodsDiscount, shippingDiscount int64
	code := strings.ToUpper(strings.TrimSpace(cmd.PromotionCode))
	if code != "" {
		promotion, result, err := e.evaluatePromotion(ctx, code, &cart)
		if err != nil {
			return PricedCart{}, err
		}

		goodsDiscount = result.Goods
		shippingDiscount = result.Shipping
		if goodsDiscount > subtotal {
			e.logger(ctx, "pricing.discount_clamped", map[string]any{"code": code, "subtotal": subtotal, "discount": goodsDiscount})
			goodsDiscount = subtotal
		}
		if shippingDiscount > shippingQuote {
			shippingDiscount = shippingQuote
		}

		alloc := allocateByWeight(goodsDiscount, matchedWeights(items, result.MatchedLines))
		for i, lineIdx := range result.MatchedLines {
			items[lineIdx].Discount = alloc[i]
		}

		applied = &domain.AppliedPromotion{
			PromotionID: promotion.ID,
			Code:        promotion.Code,
			Type:        promotion.Type,
			Discount:    goodsDiscount + shippingDiscount,
		}
	}

	netSubtotal := subtotal - goodsDiscount
	if netSubtotal < 0 {
		netSubtotal = 0
	}
	tax := domain.TaxOn(netSubtotal, e.taxRateBps)

	total := netSubtotal + (shippingQuote - shippingDiscount) + tax
	if total < 0 {
		total = 0
	}

	return PricedCart{
		Currency:  currency,
		Subtotal:  subtotal,
		Discount:  goodsDiscount + shippingDiscount,
		Shipping:  shippingQuote,
		Tax:       tax,
		Total:     total,
		Items:     items,
		Promotion: applied,
		PricedAt:  e.now(),
	}, nil
}

func (e *CartPricingEngine) evaluatePromotion(ctx context.Context, code string, cart *CartContext) (domain.Promotion, domain.DiscountResult, error) {
	promotion, err := e.promotions.GetByCode(ctx, code)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return domain.Promotion{}, domain.DiscountResult{}, &PromotionRejectedError{Code: code, Reason: RejectionInvalidCode}
		}
		return domain.Promotion{}, domain.DiscountResult{}, err
	}

	if e.redemptions != nil && strings.TrimSpace(cart.UserID) != "" {
		count, err := e.redemptions.CountForUser(ctx, promotion.ID, cart.UserID)
		if err != nil {
			return domain.Promotion{}, domain.DiscountResult{}, err
		}
		cart.UserUsageCount = count
	}

	eligibility := promotion.Eligibility(*cart, e.now())
	if !eligibility.Eligible {
		e.logger(ctx, "pricing.promotion_rejected", map[string]any{"code": code, "reason": string(eligibility.Reason)})
		return domain.Promotion{}, domain.DiscountResult{}, &PromotionRejectedError{Code: code, Reason: eligibility.Reason}
	}

	return promotion, promotion.Discount(*cart), nil
}

func validatePricingInput(cmd PriceCartCommand) (string, error) {
	if len(cmd.Items) == 0 {
		return "", fmt.Errorf("%w: cart has no items", ErrCartPricingInvalidInput)
	}

	currency := strings.ToLower(strings.TrimSpace(cmd.Currency))
	for _, item := range cmd.Items {
		if item.Quantity <= 0 {
			return "", fmt.Errorf("%w: line %s quantity must be positive", ErrCartPricingInvalidInput, item.ProductID)
		}
		if item.UnitPrice <= 0 {
			return "", fmt.Errorf("%w: line %s unit price must be positive", ErrCartPricingInvalidInput, item.ProductID)
		}
		itemCurrency := strings.ToLower(strings.TrimSpace(item.Currency))
		if itemCurrency == "" {
			continue
		}
		if currency == "" {
			currency = itemCurrency
			continue
		}
		if itemCurrency != currency {
			return "", ErrCartPricingCurrencyMismatch
		}
	}
	if currency == "" {
		return "", fmt.Errorf("%w: currency is required", ErrCartPricingInvalidInput)
	}
	return currency, nil
}

func matchedWeights(items []domain.PricedLineItem, matched []int) []int64 {
	weights := make([]int64, len(matched))
	for i, idx := range matched {
		weights[i] = items[idx].Extended
	}
	return weights
}

// allocateByWeight splits amount across weights proportionally, assigning the
// leftover minor units to the largest remainders first so the parts always sum
// to the whole.
func allocateByWeight(amount int64, weights []int64) []int64 {
	if len(weights) == 0 {
		return nil
	}
	allocations := make([]int64, len(weights))
	if amount == 0 {
		return allocations
	}
	totalWeight := int64(0)
	for _, w := range weights {
		if w > 0 {
			totalWeight += w
		}
	}
	if totalWeight == 0 {
		base := amount / int64(len(weights))
		remainder := amount % int64(len(weights))
		for i := range weights {
			allocations[i] = base
			if remainder > 0 {
				allocations[i]++
				remainder--
			}
		}
		return allocations
	}

	remainderPairs := make([]struct {
		idx       int
		remainder int64
	}, len(weights))

	distributed := int64(0)
	for i, w := range weights {
		if w < 0 {
			w = 0
		}
		share := (amount * w) / totalWeight
		allocations[i] = share
		distributed += share
		remainderPairs[i] = struct {
			idx       int
			remainder int64
		}{idx: i, remainder: (amount * w) % totalWeight}
	}

	remainder := amount - distributed
	if remainder <= 0 {
		return allocations
	}

	sort.SliceStable(remainderPairs, func(i, j int) bool {
		if remainderPairs[i].remainder == remainderPairs[j].remainder {
			return remainderPairs[i].idx < remainderPairs[j].idx
		}
		return remainderPairs[i].remainder > remainderPairs[j].remainder
	})

	for _, entry := range remainderPairs {
		if remainder == 0 {
			break
		}
		allocations[entry.idx]++
		remainder--
	}

	return allocations
}

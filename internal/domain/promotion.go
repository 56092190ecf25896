package domain

import "time"

// IneligibilityReason identifies why a promotion rejected a cart. Reasons are
// first-class values so callers can surface precise messages to shoppers.
type IneligibilityReason string

const (
	// ReasonInactive means the promotion is disabled.
	ReasonInactive IneligibilityReason = "inactive"
	// ReasonNotStarted means the promotion window has not opened yet.
	ReasonNotStarted IneligibilityReason = "not_started"
	// ReasonExpired means the promotion window has closed.
	ReasonExpired IneligibilityReason = "expired"
	// ReasonMinPurchaseNotMet means the cart subtotal is below the threshold.
	ReasonMinPurchaseNotMet IneligibilityReason = "min_purchase_not_met"
	// ReasonUsageLimitReached means the global redemption cap is exhausted.
	ReasonUsageLimitReached IneligibilityReason = "usage_limit_reached"
	// ReasonUserLimitReached means this user already redeemed the maximum times.
	ReasonUserLimitReached IneligibilityReason = "user_limit_reached"
	// ReasonNotApplicable means no cart item matches the applicability sets.
	ReasonNotApplicable IneligibilityReason = "not_applicable"
)

// EligibilityResult is the outcome of evaluating a promotion against a cart.
type EligibilityResult struct {
	Eligible bool
	Reason   IneligibilityReason
}

// DiscountResult splits the computed discount into its goods and shipping
// components and records which cart lines contributed.
type DiscountResult struct {
	Goods        int64
	Shipping     int64
	MatchedLines []int
}

func eligible() EligibilityResult { return EligibilityResult{Eligible: true} }

func ineligible(reason IneligibilityReason) EligibilityResult {
	return EligibilityResult{Reason: reason}
}

// EffectiveMaxUsagePerUser returns the per-user cap, defaulting to one.
func (p *Promotion) EffectiveMaxUsagePerUser() int64 {
	if p.MaxUsagePerUser > 0 {
		return p.MaxUsagePerUser
	}
	return 1
}

// Eligibility runs the ordered eligibility checks for a cart. The evaluation
// is pure: it reads only the promotion, the cart context, and the supplied
// clock instant, and the first failing check wins.
func (p *Promotion) Eligibility(cart CartContext, now time.Time) EligibilityResult {
	if !p.IsActive {
		return ineligible(ReasonInactive)
	}
	if p.StartsAt != nil && now.Before(*p.StartsAt) {
		return ineligible(ReasonNotStarted)
	}
	if p.EndsAt != nil && !now.Before(*p.EndsAt) {
		return ineligible(ReasonExpired)
	}
	if p.MinPurchase > 0 && cart.Subtotal() < p.MinPurchase {
		return ineligible(ReasonMinPurchaseNotMet)
	}
	if p.MaxUsage > 0 && p.UsageCount >= p.MaxUsage {
		return ineligible(ReasonUsageLimitReached)
	}
	if cart.UserUsageCount >= p.EffectiveMaxUsagePerUser() {
		return ineligible(ReasonUserLimitReached)
	}
	if len(p.matchedLines(cart.Items)) == 0 {
		return ineligible(ReasonNotApplicable)
	}
	return eligible()
}

// Redeemable reports whether the promotion can currently be offered to
// shoppers: active, inside its window, and with global usage headroom.
func (p *Promotion) Redeemable(now time.Time) bool {
	if !p.IsActive {
		return false
	}
	if p.StartsAt != nil && now.Before(*p.StartsAt) {
		return false
	}
	if p.EndsAt != nil && !now.Before(*p.EndsAt) {
		return false
	}
	if p.MaxUsage > 0 && p.UsageCount >= p.MaxUsage {
		return false
	}
	return true
}

// Discount computes the discount for an already-eligible cart. Percentage and
// fixed-amount promotions apply to the matched subset of lines when
// applicability sets are present; free_shipping discounts only the shipping
// component; buy_x_get_y discounts the cheapest matched units per full group.
// The goods component never exceeds the matched subtotal and respects
// MaxDiscount when set.
func (p *Promotion) Discount(cart CartContext) DiscountResult {
	matched := p.matchedLines(cart.Items)
	if len(matched) == 0 {
		return DiscountResult{}
	}

	var matchedSubtotal int64
	for _, idx := range matched {
		item := cart.Items[idx]
		matchedSubtotal += item.UnitPrice * int64(item.Quantity)
	}

	result := DiscountResult{MatchedLines: matched}
	switch p.Type {
	case PromotionTypePercentage:
		result.Goods = MulDivHalfEven(matchedSubtotal, p.PercentValue, 100)
	case PromotionTypeFixedAmount:
		result.Goods = p.AmountValue
	case PromotionTypeFreeShipping:
		result.Shipping = cart.ShippingQuote
	case PromotionTypeBuyXGetY:
		result.Goods = p.buyXGetYDiscount(cart.Items, matched)
	}

	if result.Goods > matchedSubtotal {
		result.Goods = matchedSubtotal
	}
	if p.MaxDiscount > 0 && result.Goods > p.MaxDiscount {
		result.Goods = p.MaxDiscount
	}
	if result.Goods < 0 {
		result.Goods = 0
	}
	return result
}

// buyXGetYDiscount discounts the cheapest matched units. For every full group
// of buy+get matched units, get units are discounted at GetDiscountPercent
// (100 when unset), always taking the lowest-priced units first.
func (p *Promotion) buyXGetYDiscount(items []CartLineItem, matched []int) int64 {
	rule := p.BuyXGetY
	if rule == nil || rule.BuyQuantity <= 0 || rule.GetQuantity <= 0 {
		return 0
	}
	groupSize := rule.BuyQuantity + rule.GetQuantity

	var units []int64
	for _, idx := range matched {
		item := items[idx]
		for i := 0; i < item.Quantity; i++ {
			units = append(units, item.UnitPrice)
		}
	}
	groups := len(units) / groupSize
	if groups == 0 {
		return 0
	}
	discountUnits := groups * rule.GetQuantity

	sortInt64s(units)

	percent := rule.GetDiscountPercent
	if percent <= 0 || percent > 100 {
		percent = 100
	}

	var discount int64
	for i := 0; i < discountUnits && i < len(units); i++ {
		discount += MulDivHalfEven(units[i], percent, 100)
	}
	return discount
}

// matchedLines returns the indexes of cart lines the promotion applies to.
// Exclusions are checked first; empty include sets match every line.
func (p *Promotion) matchedLines(items []CartLineItem) []int {
	app := p.Applicability
	excludedProducts := toSet(app.ExcludedProductIDs)
	excludedCategories := toSet(app.ExcludedCategories)
	includeProducts := toSet(app.ProductIDs)
	includeCategories := toSet(app.CategoryIDs)

	matched := make([]int, 0, len(items))
	for idx, item := range items {
		if item.Quantity <= 0 {
			continue
		}
		if _, ok := excludedProducts[item.ProductID]; ok {
			continue
		}
		if anyInSet(item.CategoryIDs, excludedCategories) {
			continue
		}
		if len(includeProducts) == 0 && len(includeCategories) == 0 {
			matched = append(matched, idx)
			continue
		}
		if _, ok := includeProducts[item.ProductID]; ok {
			matched = append(matched, idx)
			continue
		}
		if anyInSet(item.CategoryIDs, includeCategories) {
			matched = append(matched, idx)
		}
	}
	return matched
}

// Subtotal returns the undiscounted cart goods total in minor units.
func (c CartContext) Subtotal() int64 {
	var total int64
	for _, item := range c.Items {
		if item.Quantity <= 0 {
			continue
		}
		total += item.UnitPrice * int64(item.Quantity)
	}
	return total
}

func toSet(values []string) map[string]struct{} {
	if len(values) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		if v == "" {
			continue
		}
		set[v] = struct{}{}
	}
	return set
}

func anyInSet(values []string, set map[string]struct{}) bool {
	if len(set) == 0 {
		return false
	}
	for _, v := range values {
		if _, ok := set[v]; ok {
			return true
		}
	}
	return false
}

func sortInt64s(values []int64) {
	// insertion sort keeps the hot path allocation-free for small carts
	for i := 1; i < len(values); i++ {
		for j := i; j > 0 && values[j] < values[j-1]; j-- {
			values[j], values[j-1] = values[j-1], values[j]
		}
	}
}

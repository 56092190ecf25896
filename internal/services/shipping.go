package services

import (
	"context"
	"errors"
)

// FlatRateShippingConfig describes the storefront's flat shipping policy.
type FlatRateShippingConfig struct {
	// Amount is the flat shipping charge in minor units.
	Amount int64
	// FreeThreshold waives shipping once the goods subtotal reaches it.
	// Zero disables the waiver.
	FreeThreshold int64
}

// FlatRateShipping quotes a fixed shipping amount with an optional
// free-shipping threshold on the goods subtotal.
type FlatRateShipping struct {
	amount        int64
	freeThreshold int64
}

// NewFlatRateShipping builds the quoter from config.
func NewFlatRateShipping(cfg FlatRateShippingConfig) (*FlatRateShipping, error) {
	if cfg.Amount < 0 {
		return nil, errors.New("shipping: amount must not be negative")
	}
	if cfg.FreeThreshold < 0 {
		return nil, errors.New("shipping: free threshold must not be negative")
	}
	return &FlatRateShipping{amount: cfg.Amount, freeThreshold: cfg.FreeThreshold}, nil
}

// Quote implements ShippingQuoter.
func (q *FlatRateShipping) Quote(_ context.Context, cart CartContext) (int64, error) {
	if q == nil {
		return 0, errors.New("shipping: quoter is not initialised")
	}
	if q.freeThreshold > 0 && cart.Subtotal() >= q.freeThreshold {
		return 0, nil
	}
	return q.amount, nil
}

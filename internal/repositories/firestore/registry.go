package firestore

import (
	"context"
	"errors"

	pfirestore "github.com/atelierstore/api/internal/platform/firestore"
	"github.com/atelierstore/api/internal/repositories"
)

// Registry bundles the Firestore-backed repositories behind the repositories.Registry contract.
type Registry struct {
	provider   *pfirestore.Provider
	promotions *PromotionRepository
	orders     *OrderRepository
	counters   *CounterRepository
}

// NewRegistry constructs the Firestore repository registry from a shared provider.
func NewRegistry(provider *pfirestore.Provider) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("registry requires firestore provider")
	}
	promotions, err := NewPromotionRepository(provider)
	if err != nil {
		return nil, err
	}
	orders, err := NewOrderRepository(provider)
	if err != nil {
		return nil, err
	}
	counters, err := NewCounterRepository(provider)
	if err != nil {
		return nil, err
	}
	return &Registry{
		provider:   provider,
		promotions: promotions,
		orders:     orders,
		counters:   counters,
	}, nil
}

// Close releases the underlying Firestore client.
func (r *Registry) Close(ctx context.Context) error {
	if r == nil || r.provider == nil {
		return nil
	}
	return r.provider.Close(ctx)
}

// Promotions returns the promotion repository.
func (r *Registry) Promotions() repositories.PromotionRepository { return r.promotions }

// Redemptions returns the per-user redemption reader.
func (r *Registry) Redemptions() repositories.RedemptionRepository { return r.promotions }

// Orders returns the order repository.
func (r *Registry) Orders() repositories.OrderRepository { return r.orders }

// Counters returns the sequence counter repository.
func (r *Registry) Counters() repositories.CounterRepository { return r.counters }

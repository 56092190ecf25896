package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/atelierstore/api/internal/payments"
	"github.com/atelierstore/api/internal/platform/config"
	"github.com/atelierstore/api/internal/platform/idempotency"
	"github.com/atelierstore/api/internal/repositories"
	"github.com/atelierstore/api/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Promotions services.PromotionService
	Pricing    services.PricingService
	Checkout   services.CheckoutService
	Orders     services.OrderService
	Reconciler services.ReconciliationService
}

// Dependencies carries the externally constructed infrastructure the services build on.
type Dependencies struct {
	Registry  repositories.Registry
	Payments  *payments.Manager
	Publisher services.OrderEventPublisher
	Events    idempotency.Store
	Clock     func() time.Time
	Logger    *zap.Logger
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// NewContainer constructs the runtime dependencies. Production wiring provides real
// implementations, while tests can supply in-memory registries and fakes.
func NewContainer(ctx context.Context, cfg config.Config, deps Dependencies) (*Container, error) {
	if deps.Registry == nil {
		return nil, errors.New("repositories registry is required")
	}
	if deps.Payments == nil {
		return nil, errors.New("payment manager is required")
	}

	svc, err := buildServices(cfg, deps)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: deps.Registry,
		Services:     svc,
	}, nil
}

// Close releases resources such as repository clients.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(cfg config.Config, deps Dependencies) (Services, error) {
	var svc Services

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	reg := deps.Registry

	promotionSvc, err := services.NewPromotionService(services.PromotionServiceDeps{
		Promotions: reg.Promotions(),
		Clock:      clock,
		Logger:     zapEventLogger(logger.Named("promotions")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build promotion service: %w", err)
	}
	svc.Promotions = promotionSvc

	shipping, err := services.NewFlatRateShipping(services.FlatRateShippingConfig{
		Amount:        cfg.Pricing.ShippingFlatRate,
		FreeThreshold: cfg.Pricing.FreeShippingThreshold,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build shipping quoter: %w", err)
	}

	pricing, err := services.NewCartPricingEngine(services.CartPricingEngineDeps{
		Promotions:         reg.Promotions(),
		Redemptions:        reg.Redemptions(),
		Shipping:           shipping,
		TaxRateBasisPoints: cfg.Pricing.TaxRateBasisPoints,
		Now:                clock,
		Logger:             zapEventLogger(logger.Named("pricing")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build pricing engine: %w", err)
	}
	svc.Pricing = pricing

	checkoutSvc, err := services.NewCheckoutService(services.CheckoutServiceDeps{
		Pricing:  pricing,
		Orders:   reg.Orders(),
		Counters: reg.Counters(),
		Payments: deps.Payments,
		Provider: cfg.PSP.DefaultProvider,
		Clock:    clock,
		Logger:   zapEventLogger(logger.Named("checkout")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build checkout service: %w", err)
	}
	svc.Checkout = checkoutSvc

	orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:    reg.Orders(),
		Payments:  deps.Payments,
		Publisher: deps.Publisher,
		Clock:     clock,
		Logger:    zapEventLogger(logger.Named("orders")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orderSvc

	if deps.Events != nil {
		reconcilerSvc, err := services.NewReconciler(services.ReconcilerDeps{
			Payments:   deps.Payments,
			Orders:     reg.Orders(),
			Promotions: reg.Promotions(),
			Events:     deps.Events,
			Publisher:  deps.Publisher,
			Clock:      clock,
			Logger:     zapEventLogger(logger.Named("reconciler")),
		})
		if err != nil {
			return Services{}, fmt.Errorf("build reconciler: %w", err)
		}
		svc.Reconciler = reconcilerSvc
	}

	return svc, nil
}

func zapEventLogger(logger *zap.Logger) func(ctx context.Context, event string, fields map[string]any) {
	return func(_ context.Context, event string, fields map[string]any) {
		zFields := make([]zap.Field, 0, len(fields)+1)
		zFields = append(zFields, zap.String("event", event))
		for k, v := range fields {
			zFields = append(zFields, zap.Any(k, v))
		}
		logger.Info("service event", zFields...)
	}
}

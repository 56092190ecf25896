package repositories

import (
	"context"
	"time"

	domain "github.com/atelierstore/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Promotions() PromotionRepository
	Redemptions() RedemptionRepository
	Orders() OrderRepository
	Counters() CounterRepository
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// PromotionFilter narrows promotion list queries.
type PromotionFilter struct {
	IncludeDisabled bool
	PageSize        int
	PageToken       string
}

// PromotionPage is one page of promotion list results.
type PromotionPage struct {
	Promotions    []domain.Promotion
	NextPageToken string
}

// PromotionRepository persists promotion documents. Codes are stored
// normalised (upper case, trimmed) so lookups are case-insensitive.
type PromotionRepository interface {
	Insert(ctx context.Context, promotion domain.Promotion) error
	Update(ctx context.Context, promotion domain.Promotion) error
	// Disable soft-disables the promotion; documents are never deleted so
	// historical orders keep their reference.
	Disable(ctx context.Context, promotionID string, at time.Time) error
	GetByID(ctx context.Context, promotionID string) (domain.Promotion, error)
	GetByCode(ctx context.Context, normalizedCode string) (domain.Promotion, error)
	List(ctx context.Context, filter PromotionFilter) (PromotionPage, error)

	// Redeem increments usageCount and the caller's per-user tally in one
	// transaction. It re-checks MaxUsage and the per-user cap inside the
	// transaction and returns a RepositoryError with IsConflict when either
	// cap is exhausted, leaving both counters untouched. Redeeming the same
	// order twice is a no-op, so confirmations may be retried safely.
	Redeem(ctx context.Context, promotionID, userID, orderID string) error
}

// RedemptionRepository reads per-user redemption tallies.
type RedemptionRepository interface {
	CountForUser(ctx context.Context, promotionID, userID string) (int64, error)
}

// OrderRepository persists order documents and guards status transitions.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	Get(ctx context.Context, orderID string) (domain.Order, error)

	// Transition loads the order in a transaction, verifies its status is one
	// of from, applies mutate, and writes the result. A RepositoryError with
	// IsConflict is returned when the current status is not in from.
	Transition(ctx context.Context, orderID string, from []domain.OrderStatus, mutate func(*domain.Order) error) (domain.Order, error)
}

// CounterConfig captures optional counter settings applied via Configure.
type CounterConfig struct {
	Step         int64
	MaxValue     *int64
	InitialValue *int64
}

// CounterRepository issues monotonically increasing sequence numbers.
type CounterRepository interface {
	// Next returns the next value for the counter, creating it on first use.
	Next(ctx context.Context, counterID string, step int64) (int64, error)
	// Configure adjusts counter settings such as step size or max value.
	Configure(ctx context.Context, counterID string, cfg CounterConfig) error
}

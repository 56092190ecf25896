package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/atelierstore/api/internal/platform/httpx"
)

const defaultCleanupBatchSize = 200

// ExpiredEventCleaner removes expired idempotency markers in batches.
type ExpiredEventCleaner interface {
	CleanupExpired(ctx context.Context, now time.Time, limit int) (int, error)
}

// MaintenanceHandlers exposes scheduler-invoked housekeeping endpoints.
type MaintenanceHandlers struct {
	cleaner   ExpiredEventCleaner
	batchSize int
	clock     func() time.Time
}

// NewMaintenanceHandlers constructs the internal maintenance endpoints.
func NewMaintenanceHandlers(cleaner ExpiredEventCleaner, batchSize int, clock func() time.Time) *MaintenanceHandlers {
	if batchSize <= 0 {
		batchSize = defaultCleanupBatchSize
	}
	if clock == nil {
		clock = time.Now
	}
	return &MaintenanceHandlers{
		cleaner:   cleaner,
		batchSize: batchSize,
		clock:     clock,
	}
}

// Routes registers maintenance endpoints under the provided router.
func (h *MaintenanceHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/idempotency/cleanup", h.cleanupIdempotency)
}

type cleanupResponse struct {
	Removed int `json:"removed"`
}

func (h *MaintenanceHandlers) cleanupIdempotency(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.cleaner == nil {
		httpx.WriteError(ctx, w, httpx.NewError("maintenance_unavailable", "cleanup unavailable", http.StatusServiceUnavailable))
		return
	}

	removed, err := h.cleaner.CleanupExpired(ctx, h.clock().UTC(), h.batchSize)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("cleanup_failed", "failed to remove expired records", http.StatusInternalServerError))
		return
	}
	writeJSONResponse(w, http.StatusOK, cleanupResponse{Removed: removed})
}

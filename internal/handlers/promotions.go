package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/atelierstore/api/internal/domain"
	"github.com/atelierstore/api/internal/platform/httpx"
	"github.com/atelierstore/api/internal/platform/pagination"
	"github.com/atelierstore/api/internal/services"
)

const (
	defaultPromotionPageSize = 20
	maxPromotionPageSize     = 100
)

// PromotionHandlers exposes the public promotion catalog.
type PromotionHandlers struct {
	promotions services.PromotionService
}

// NewPromotionHandlers constructs the public promotion endpoints.
func NewPromotionHandlers(promotions services.PromotionService) *PromotionHandlers {
	return &PromotionHandlers{promotions: promotions}
}

// Routes registers the public promotion endpoints.
func (h *PromotionHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/promotions", h.listRedeemable)
	r.Get("/promotions/{code}", h.getByCode)
}

// publicPromotionResponse is the shopper-facing promotion shape. Usage
// counters and caps stay internal.
type publicPromotionResponse struct {
	ID           string `json:"id"`
	Code         string `json:"code"`
	Name         string `json:"name"`
	Description  string `json:"description,omitempty"`
	Type         string `json:"type"`
	PercentValue int64  `json:"percentValue,omitempty"`
	AmountValue  int64  `json:"amountValue,omitempty"`
	Currency     string `json:"currency,omitempty"`
	MinPurchase  int64  `json:"minPurchase,omitempty"`
	EndsAt       string `json:"endsAt,omitempty"`
}

type publicPromotionListResponse struct {
	Promotions    []publicPromotionResponse `json:"promotions"`
	NextPageToken string                    `json:"nextPageToken,omitempty"`
}

func (h *PromotionHandlers) listRedeemable(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.promotions == nil {
		httpx.WriteError(ctx, w, httpx.NewError("promotions_unavailable", "promotion service unavailable", http.StatusServiceUnavailable))
		return
	}

	page := domain.Pagination{
		PageSize:  parsePageSize(r.URL.Query().Get("pageSize")),
		PageToken: strings.TrimSpace(r.URL.Query().Get("pageToken")),
	}

	list, err := h.promotions.ListRedeemable(ctx, page)
	if err != nil {
		writePromotionError(ctx, w, err)
		return
	}

	resp := publicPromotionListResponse{
		Promotions:    make([]publicPromotionResponse, 0, len(list.Promotions)),
		NextPageToken: list.NextPageToken,
	}
	for _, promo := range list.Promotions {
		resp.Promotions = append(resp.Promotions, toPublicPromotion(promo))
	}
	writeJSONResponse(w, http.StatusOK, resp)
}

func (h *PromotionHandlers) getByCode(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.promotions == nil {
		httpx.WriteError(ctx, w, httpx.NewError("promotions_unavailable", "promotion service unavailable", http.StatusServiceUnavailable))
		return
	}

	promo, err := h.promotions.GetRedeemableByCode(ctx, chi.URLParam(r, "code"))
	if err != nil {
		writePromotionError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, toPublicPromotion(promo))
}

func toPublicPromotion(promo domain.Promotion) publicPromotionResponse {
	resp := publicPromotionResponse{
		ID:           promo.ID,
		Code:         promo.Code,
		Name:         promo.Name,
		Description:  promo.Description,
		Type:         string(promo.Type),
		PercentValue: promo.PercentValue,
		AmountValue:  promo.AmountValue,
		Currency:     promo.Currency,
		MinPurchase:  promo.MinPurchase,
	}
	if promo.EndsAt != nil {
		resp.EndsAt = promo.EndsAt.UTC().Format(time.RFC3339)
	}
	return resp
}

func parsePageSize(raw string) int {
	return pagination.ClampPageSize(raw, defaultPromotionPageSize, maxPromotionPageSize)
}

func writePromotionError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrPromotionInvalidCode), errors.Is(err, services.ErrPromotionInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrPromotionNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("promotion_not_found", "promotion not found", http.StatusNotFound))
	case errors.Is(err, services.ErrPromotionNotRedeemable):
		httpx.WriteError(ctx, w, httpx.NewError("promotion_not_redeemable", "promotion cannot currently be redeemed", http.StatusGone))
	case errors.Is(err, services.ErrPromotionCodeTaken):
		httpx.WriteError(ctx, w, httpx.NewError("promotion_code_taken", "promotion code already in use", http.StatusConflict))
	case errors.Is(err, services.ErrPromotionExhausted):
		httpx.WriteError(ctx, w, httpx.NewError("promotion_exhausted", "promotion usage limit reached", http.StatusConflict))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("promotion_error", "failed to process promotion request", http.StatusInternalServerError))
	}
}

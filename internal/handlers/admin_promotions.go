package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/atelierstore/api/internal/domain"
	"github.com/atelierstore/api/internal/platform/auth"
	"github.com/atelierstore/api/internal/platform/httpx"
	"github.com/atelierstore/api/internal/services"
)

const maxAdminPromotionBody = 32 * 1024

// AdminPromotionHandlers exposes promotion CRUD for staff and admin roles.
type AdminPromotionHandlers struct {
	authn      *auth.Authenticator
	promotions services.PromotionService
}

// NewAdminPromotionHandlers constructs the admin promotion endpoints.
func NewAdminPromotionHandlers(authn *auth.Authenticator, promotions services.PromotionService) *AdminPromotionHandlers {
	return &AdminPromotionHandlers{authn: authn, promotions: promotions}
}

// Routes registers the admin promotion endpoints.
func (h *AdminPromotionHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	group := r
	if h.authn != nil {
		group = group.With(h.authn.RequireFirebaseAuth(auth.RoleStaff, auth.RoleAdmin))
	}
	group.Get("/promotions", h.list)
	group.Post("/promotions", h.create)
	group.Get("/promotions/{promotionId}", h.get)
	group.Put("/promotions/{promotionId}", h.update)
	group.Delete("/promotions/{promotionId}", h.disable)
}

type promotionPayload struct {
	Code            string                        `json:"code"`
	Name            string                        `json:"name"`
	Description     string                        `json:"description"`
	Type            string                        `json:"type"`
	PercentValue    int64                         `json:"percentValue"`
	AmountValue     int64                         `json:"amountValue"`
	Currency        string                        `json:"currency"`
	BuyXGetY        *buyXGetYPayload              `json:"buyXGetY"`
	MinPurchase     int64                         `json:"minPurchase"`
	MaxDiscount     int64                         `json:"maxDiscount"`
	MaxUsage        int64                         `json:"maxUsage"`
	MaxUsagePerUser int64                         `json:"maxUsagePerUser"`
	StartsAt        *time.Time                    `json:"startsAt"`
	EndsAt          *time.Time                    `json:"endsAt"`
	IsActive        *bool                         `json:"isActive"`
	Applicability   *promotionApplicabilityPayload `json:"applicability"`
}

type buyXGetYPayload struct {
	BuyQuantity        int   `json:"buyQuantity"`
	GetQuantity        int   `json:"getQuantity"`
	GetDiscountPercent int64 `json:"getDiscountPercent"`
}

type promotionApplicabilityPayload struct {
	ProductIDs         []string `json:"productIds"`
	CategoryIDs        []string `json:"categoryIds"`
	ExcludedProductIDs []string `json:"excludedProductIds"`
	ExcludedCategories []string `json:"excludedCategories"`
}

type adminPromotionResponse struct {
	ID              string                         `json:"id"`
	Code            string                         `json:"code"`
	Name            string                         `json:"name"`
	Description     string                         `json:"description,omitempty"`
	Type            string                         `json:"type"`
	PercentValue    int64                          `json:"percentValue,omitempty"`
	AmountValue     int64                          `json:"amountValue,omitempty"`
	Currency        string                         `json:"currency,omitempty"`
	BuyXGetY        *buyXGetYPayload               `json:"buyXGetY,omitempty"`
	MinPurchase     int64                          `json:"minPurchase,omitempty"`
	MaxDiscount     int64                          `json:"maxDiscount,omitempty"`
	MaxUsage        int64                          `json:"maxUsage,omitempty"`
	UsageCount      int64                          `json:"usageCount"`
	MaxUsagePerUser int64                          `json:"maxUsagePerUser,omitempty"`
	StartsAt        *time.Time                     `json:"startsAt,omitempty"`
	EndsAt          *time.Time                     `json:"endsAt,omitempty"`
	IsActive        bool                           `json:"isActive"`
	Applicability   *promotionApplicabilityPayload `json:"applicability,omitempty"`
	CreatedAt       time.Time                      `json:"createdAt"`
	UpdatedAt       time.Time                      `json:"updatedAt"`
}

type adminPromotionListResponse struct {
	Promotions    []adminPromotionResponse `json:"promotions"`
	NextPageToken string                   `json:"nextPageToken,omitempty"`
}

func (h *AdminPromotionHandlers) list(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.promotions == nil {
		httpx.WriteError(ctx, w, httpx.NewError("promotions_unavailable", "promotion service unavailable", http.StatusServiceUnavailable))
		return
	}

	query := r.URL.Query()
	list, err := h.promotions.List(ctx, services.ListPromotionsCommand{
		IncludeDisabled: strings.EqualFold(query.Get("includeDisabled"), "true"),
		PageSize:        parsePageSize(query.Get("pageSize")),
		PageToken:       strings.TrimSpace(query.Get("pageToken")),
	})
	if err != nil {
		writePromotionError(ctx, w, err)
		return
	}

	resp := adminPromotionListResponse{
		Promotions:    make([]adminPromotionResponse, 0, len(list.Promotions)),
		NextPageToken: list.NextPageToken,
	}
	for _, promo := range list.Promotions {
		resp.Promotions = append(resp.Promotions, toAdminPromotion(promo))
	}
	writeJSONResponse(w, http.StatusOK, resp)
}

func (h *AdminPromotionHandlers) create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.promotions == nil {
		httpx.WriteError(ctx, w, httpx.NewError("promotions_unavailable", "promotion service unavailable", http.StatusServiceUnavailable))
		return
	}

	var payload promotionPayload
	if err := decodeJSONBody(r, maxAdminPromotionBody, &payload); err != nil {
		writeBodyError(w, r, err)
		return
	}

	promo, err := h.promotions.Create(ctx, payloadToInput(payload))
	if err != nil {
		writePromotionError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, toAdminPromotion(promo))
}

func (h *AdminPromotionHandlers) get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.promotions == nil {
		httpx.WriteError(ctx, w, httpx.NewError("promotions_unavailable", "promotion service unavailable", http.StatusServiceUnavailable))
		return
	}

	promo, err := h.promotions.Get(ctx, chi.URLParam(r, "promotionId"))
	if err != nil {
		writePromotionError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, toAdminPromotion(promo))
}

func (h *AdminPromotionHandlers) update(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.promotions == nil {
		httpx.WriteError(ctx, w, httpx.NewError("promotions_unavailable", "promotion service unavailable", http.StatusServiceUnavailable))
		return
	}

	var payload promotionPayload
	if err := decodeJSONBody(r, maxAdminPromotionBody, &payload); err != nil {
		writeBodyError(w, r, err)
		return
	}

	promo, err := h.promotions.Update(ctx, chi.URLParam(r, "promotionId"), payloadToInput(payload))
	if err != nil {
		writePromotionError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, toAdminPromotion(promo))
}

func (h *AdminPromotionHandlers) disable(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.promotions == nil {
		httpx.WriteError(ctx, w, httpx.NewError("promotions_unavailable", "promotion service unavailable", http.StatusServiceUnavailable))
		return
	}

	if err := h.promotions.Disable(ctx, chi.URLParam(r, "promotionId")); err != nil {
		writePromotionError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func payloadToInput(payload promotionPayload) services.PromotionInput {
	input := services.PromotionInput{
		Code:            payload.Code,
		Name:            payload.Name,
		Description:     payload.Description,
		Type:            domain.PromotionType(strings.TrimSpace(payload.Type)),
		PercentValue:    payload.PercentValue,
		AmountValue:     payload.AmountValue,
		Currency:        payload.Currency,
		MinPurchase:     payload.MinPurchase,
		MaxDiscount:     payload.MaxDiscount,
		MaxUsage:        payload.MaxUsage,
		MaxUsagePerUser: payload.MaxUsagePerUser,
		StartsAt:        payload.StartsAt,
		EndsAt:          payload.EndsAt,
		IsActive:        payload.IsActive,
	}
	if payload.BuyXGetY != nil {
		input.BuyXGetY = &domain.BuyXGetY{
			BuyQuantity:        payload.BuyXGetY.BuyQuantity,
			GetQuantity:        payload.BuyXGetY.GetQuantity,
			GetDiscountPercent: payload.BuyXGetY.GetDiscountPercent,
		}
	}
	if payload.Applicability != nil {
		input.Applicability = domain.PromotionApplicability{
			ProductIDs:         payload.Applicability.ProductIDs,
			CategoryIDs:        payload.Applicability.CategoryIDs,
			ExcludedProductIDs: payload.Applicability.ExcludedProductIDs,
			ExcludedCategories: payload.Applicability.ExcludedCategories,
		}
	}
	return input
}

func toAdminPromotion(promo domain.Promotion) adminPromotionResponse {
	resp := adminPromotionResponse{
		ID:              promo.ID,
		Code:            promo.Code,
		Name:            promo.Name,
		Description:     promo.Description,
		Type:            string(promo.Type),
		PercentValue:    promo.PercentValue,
		AmountValue:     promo.AmountValue,
		Currency:        promo.Currency,
		MinPurchase:     promo.MinPurchase,
		MaxDiscount:     promo.MaxDiscount,
		MaxUsage:        promo.MaxUsage,
		UsageCount:      promo.UsageCount,
		MaxUsagePerUser: promo.MaxUsagePerUser,
		StartsAt:        promo.StartsAt,
		EndsAt:          promo.EndsAt,
		IsActive:        promo.IsActive,
		CreatedAt:       promo.CreatedAt,
		UpdatedAt:       promo.UpdatedAt,
	}
	if promo.BuyXGetY != nil {
		resp.BuyXGetY = &buyXGetYPayload{
			BuyQuantity:        promo.BuyXGetY.BuyQuantity,
			GetQuantity:        promo.BuyXGetY.GetQuantity,
			GetDiscountPercent: promo.BuyXGetY.GetDiscountPercent,
		}
	}
	if !promo.Applicability.Empty() {
		resp.Applicability = &promotionApplicabilityPayload{
			ProductIDs:         promo.Applicability.ProductIDs,
			CategoryIDs:        promo.Applicability.CategoryIDs,
			ExcludedProductIDs: promo.Applicability.ExcludedProductIDs,
			ExcludedCategories: promo.Applicability.ExcludedCategories,
		}
	}
	return resp
}

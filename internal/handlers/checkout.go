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
	"github.com/atelierstore/api/internal/services"

	"github.com/atelierstore/api/internal/platform/auth"
)

const maxCheckoutRequestBody = 64 * 1024

// CheckoutHandlers exposes cart pricing and payment session endpoints.
type CheckoutHandlers struct {
	authn    *auth.Authenticator
	pricing  services.PricingService
	checkout services.CheckoutService
	limiter  RateLimiter
}

// NewCheckoutHandlers constructs checkout handlers guarded by Firebase authentication.
func NewCheckoutHandlers(authn *auth.Authenticator, pricing services.PricingService, checkout services.CheckoutService, limiter RateLimiter) *CheckoutHandlers {
	return &CheckoutHandlers{
		authn:    authn,
		pricing:  pricing,
		checkout: checkout,
		limiter:  limiter,
	}
}

// Routes registers checkout endpoints under the provided router.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	group := r
	if h.authn != nil {
		group = group.With(h.authn.RequireFirebaseAuth())
	}
	group.Post("/price", h.priceCart)
	group.Post("/session", h.createSession)
}

type cartLinePayload struct {
	ProductID   string   `json:"productId"`
	SKU         string   `json:"sku"`
	Name        string   `json:"name"`
	CategoryIDs []string `json:"categoryIds"`
	Quantity    int      `json:"quantity"`
	UnitPrice   int64    `json:"unitPrice"`
	Currency    string   `json:"currency"`
}

type priceCartRequest struct {
	Currency      string            `json:"currency"`
	Items         []cartLinePayload `json:"items"`
	PromotionCode string            `json:"promotionCode"`
}

type pricedLineResponse struct {
	ProductID string `json:"productId"`
	SKU       string `json:"sku,omitempty"`
	Name      string `json:"name,omitempty"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unitPrice"`
	Extended  int64  `json:"extended"`
	Discount  int64  `json:"discount,omitempty"`
}

type appliedPromotionResponse struct {
	PromotionID string `json:"promotionId"`
	Code        string `json:"code"`
	Type        string `json:"type"`
	Discount    int64  `json:"discount"`
}

type pricedCartResponse struct {
	Currency  string                    `json:"currency"`
	Subtotal  int64                     `json:"subtotal"`
	Discount  int64                     `json:"discount"`
	Shipping  int64                     `json:"shipping"`
	Tax       int64                     `json:"tax"`
	Total     int64                     `json:"total"`
	Items     []pricedLineResponse      `json:"items"`
	Promotion *appliedPromotionResponse `json:"promotion,omitempty"`
	PricedAt  string                    `json:"pricedAt"`
}

type createOrderRequest struct {
	Currency      string            `json:"currency"`
	Items         []cartLinePayload `json:"items"`
	PromotionCode string            `json:"promotionCode"`
}

type orderResponse struct {
	ID            string                    `json:"id"`
	Number        string                    `json:"number,omitempty"`
	Status        string                    `json:"status"`
	Currency      string                    `json:"currency"`
	Subtotal      int64                     `json:"subtotal"`
	Discount      int64                     `json:"discount"`
	Shipping      int64                     `json:"shipping"`
	Tax           int64                     `json:"tax"`
	Total         int64                     `json:"total"`
	Items         []pricedLineResponse      `json:"items"`
	Promotion     *appliedPromotionResponse `json:"promotion,omitempty"`
	FailureReason string                    `json:"failureReason,omitempty"`
	CreatedAt     string                    `json:"createdAt"`
	PaidAt        string                    `json:"paidAt,omitempty"`
	FulfilledAt   string                    `json:"fulfilledAt,omitempty"`
	RefundedAt    string                    `json:"refundedAt,omitempty"`
}

type checkoutSessionRequest struct {
	OrderID        string `json:"orderId"`
	SuccessURL     string `json:"successUrl"`
	CancelURL      string `json:"cancelUrl"`
	CustomerEmail  string `json:"customerEmail"`
	Locale         string `json:"locale"`
	IdempotencyKey string `json:"idempotencyKey"`
}

type checkoutSessionResponse struct {
	SessionID string `json:"sessionId"`
	URL       string `json:"url"`
	OrderID   string `json:"orderId"`
	ExpiresAt string `json:"expiresAt,omitempty"`
}

func (h *CheckoutHandlers) priceCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.pricing == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "pricing service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	if h.limiter != nil && !h.limiter.Allow(identity.UID) {
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many pricing requests", http.StatusTooManyRequests))
		return
	}

	var req priceCartRequest
	if err := decodeJSONBody(r, maxCheckoutRequestBody, &req); err != nil {
		writeBodyError(w, r, err)
		return
	}

	priced, err := h.pricing.PriceCart(ctx, services.PriceCartCommand{
		UserID:        identity.UID,
		Currency:      req.Currency,
		Items:         toCartItems(req.Items),
		PromotionCode: req.PromotionCode,
	})
	if err != nil {
		writePricingError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, toPricedCartResponse(priced))
}

func (h *CheckoutHandlers) createSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	var req checkoutSessionRequest
	if err := decodeJSONBody(r, maxCheckoutRequestBody, &req); err != nil {
		writeBodyError(w, r, err)
		return
	}
	if strings.TrimSpace(req.OrderID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "orderId is required", http.StatusBadRequest))
		return
	}

	session, err := h.checkout.CreateSession(ctx, services.CreateSessionCommand{
		OrderID:        req.OrderID,
		UserID:         identity.UID,
		SuccessURL:     req.SuccessURL,
		CancelURL:      req.CancelURL,
		CustomerEmail:  defaultEmail(req.CustomerEmail, identity.Email),
		Locale:         defaultLocale(req.Locale, identity.Locale),
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}

	resp := checkoutSessionResponse{
		SessionID: session.SessionID,
		URL:       session.URL,
		OrderID:   session.OrderID,
	}
	if session.ExpiresAt != nil {
		resp.ExpiresAt = session.ExpiresAt.UTC().Format(time.RFC3339)
	}
	writeJSONResponse(w, http.StatusOK, resp)
}

func toCartItems(payloads []cartLinePayload) []domain.CartLineItem {
	items := make([]domain.CartLineItem, 0, len(payloads))
	for _, payload := range payloads {
		items = append(items, domain.CartLineItem{
			ProductID:   strings.TrimSpace(payload.ProductID),
			SKU:         strings.TrimSpace(payload.SKU),
			Name:        strings.TrimSpace(payload.Name),
			CategoryIDs: payload.CategoryIDs,
			Quantity:    payload.Quantity,
			UnitPrice:   payload.UnitPrice,
			Currency:    strings.TrimSpace(payload.Currency),
		})
	}
	return items
}

func toPricedCartResponse(priced domain.PricedCart) pricedCartResponse {
	resp := pricedCartResponse{
		Currency: priced.Currency,
		Subtotal: priced.Subtotal,
		Discount: priced.Discount,
		Shipping: priced.Shipping,
		Tax:      priced.Tax,
		Total:    priced.Total,
		Items:    make([]pricedLineResponse, 0, len(priced.Items)),
		PricedAt: priced.PricedAt.UTC().Format(time.RFC3339),
	}
	for _, item := range priced.Items {
		resp.Items = append(resp.Items, pricedLineResponse{
			ProductID: item.ProductID,
			SKU:       item.SKU,
			Name:      item.Name,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			Extended:  item.Extended,
			Discount:  item.Discount,
		})
	}
	if priced.Promotion != nil {
		resp.Promotion = &appliedPromotionResponse{
			PromotionID: priced.Promotion.PromotionID,
			Code:        priced.Promotion.Code,
			Type:        string(priced.Promotion.Type),
			Discount:    priced.Promotion.Discount,
		}
	}
	return resp
}

func toOrderResponse(order domain.Order) orderResponse {
	resp := orderResponse{
		ID:            order.ID,
		Number:        order.Number,
		Status:        string(order.Status),
		Currency:      order.Currency,
		Subtotal:      order.Subtotal,
		Discount:      order.Discount,
		Shipping:      order.Shipping,
		Tax:           order.Tax,
		Total:         order.Total,
		Items:         make([]pricedLineResponse, 0, len(order.Items)),
		FailureReason: order.FailureReason,
		CreatedAt:     order.CreatedAt.UTC().Format(time.RFC3339),
	}
	for _, item := range order.Items {
		resp.Items = append(resp.Items, pricedLineResponse{
			ProductID: item.ProductID,
			SKU:       item.SKU,
			Name:      item.Name,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			Extended:  item.Extended,
			Discount:  item.Discount,
		})
	}
	if order.Promotion != nil {
		resp.Promotion = &appliedPromotionResponse{
			PromotionID: order.Promotion.PromotionID,
			Code:        order.Promotion.Code,
			Type:        string(order.Promotion.Type),
			Discount:    order.Promotion.Discount,
		}
	}
	if order.PaidAt != nil {
		resp.PaidAt = order.PaidAt.UTC().Format(time.RFC3339)
	}
	if order.FulfilledAt != nil {
		resp.FulfilledAt = order.FulfilledAt.UTC().Format(time.RFC3339)
	}
	if order.RefundedAt != nil {
		resp.RefundedAt = order.RefundedAt.UTC().Format(time.RFC3339)
	}
	return resp
}

func defaultEmail(requested, fallback string) string {
	if v := strings.TrimSpace(requested); v != "" {
		return v
	}
	return strings.TrimSpace(fallback)
}

func defaultLocale(requested, fallback string) string {
	if v := strings.TrimSpace(requested); v != "" {
		return v
	}
	return strings.TrimSpace(fallback)
}

func writePricingError(ctx context.Context, w http.ResponseWriter, err error) {
	var rejection *services.PromotionRejectedError
	switch {
	case errors.As(err, &rejection):
		httpx.WriteError(ctx, w, httpx.NewError("promotion_rejected", "promotion code cannot be applied", http.StatusUnprocessableEntity).
			WithDetails(map[string]any{"reason": string(rejection.Reason)}))
	case errors.Is(err, services.ErrCartPricingCurrencyMismatch):
		httpx.WriteError(ctx, w, httpx.NewError("currency_mismatch", "cart items use multiple currencies", http.StatusBadRequest))
	case errors.Is(err, services.ErrCartPricingInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("pricing_error", "failed to price cart", http.StatusInternalServerError))
	}
}

func writeCheckoutError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrCheckoutInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCheckoutOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCheckoutForbidden):
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", "order belongs to another user", http.StatusForbidden))
	case errors.Is(err, services.ErrCheckoutOrderNotPayable):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_payable", "order cannot accept a payment session", http.StatusConflict))
	case errors.Is(err, services.ErrCheckoutPaymentFailed):
		httpx.WriteError(ctx, w, httpx.NewError("payment_failed", "payment session could not be created", http.StatusBadGateway))
	case errors.Is(err, services.ErrCheckoutUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("checkout_error", "failed to process checkout request", http.StatusInternalServerError))
	}
}

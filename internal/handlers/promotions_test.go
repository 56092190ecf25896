package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/atelierstore/api/internal/domain"
	"github.com/atelierstore/api/internal/services"
)

type fakePromotionService struct {
	listPage      domain.Pagination
	listCmd       services.ListPromotionsCommand
	lookedUpCode  string
	createdInput  services.PromotionInput
	updatedID     string
	disabledID    string
	promotion     domain.Promotion
	promotions    []domain.Promotion
	nextPageToken string
	err           error
}

func (f *fakePromotionService) ListRedeemable(_ context.Context, page domain.Pagination) (services.PromotionList, error) {
	f.listPage = page
	if f.err != nil {
		return services.PromotionList{}, f.err
	}
	return services.PromotionList{Promotions: f.promotions, NextPageToken: f.nextPageToken}, nil
}

func (f *fakePromotionService) GetRedeemableByCode(_ context.Context, code string) (domain.Promotion, error) {
	f.lookedUpCode = code
	if f.err != nil {
		return domain.Promotion{}, f.err
	}
	return f.promotion, nil
}

func (f *fakePromotionService) Create(_ context.Context, input services.PromotionInput) (domain.Promotion, error) {
	f.createdInput = input
	if f.err != nil {
		return domain.Promotion{}, f.err
	}
	return f.promotion, nil
}

func (f *fakePromotionService) Update(_ context.Context, promotionID string, input services.PromotionInput) (domain.Promotion, error) {
	f.updatedID = promotionID
	f.createdInput = input
	if f.err != nil {
		return domain.Promotion{}, f.err
	}
	return f.promotion, nil
}

func (f *fakePromotionService) Disable(_ context.Context, promotionID string) error {
	f.disabledID = promotionID
	return f.err
}

func (f *fakePromotionService) Get(_ context.Context, _ string) (domain.Promotion, error) {
	if f.err != nil {
		return domain.Promotion{}, f.err
	}
	return f.promotion, nil
}

func (f *fakePromotionService) List(_ context.Context, cmd services.ListPromotionsCommand) (services.PromotionList, error) {
	f.listCmd = cmd
	if f.err != nil {
		return services.PromotionList{}, f.err
	}
	return services.PromotionList{Promotions: f.promotions, NextPageToken: f.nextPageToken}, nil
}

func (f *fakePromotionService) Redeem(context.Context, services.RedeemPromotionCommand) error {
	return f.err
}

func samplePromotion() domain.Promotion {
	ends := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	return domain.Promotion{
		ID:           "promo_pct",
		Code:         "SAVE15",
		Name:         "Spring sale",
		Type:         domain.PromotionTypePercentage,
		PercentValue: 15,
		MinPurchase:  1000,
		MaxUsage:     100,
		UsageCount:   7,
		EndsAt:       &ends,
		IsActive:     true,
		CreatedAt:    time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
		UpdatedAt:    time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
	}
}

func newPublicPromotionRouter(svc services.PromotionService) chi.Router {
	r := chi.NewRouter()
	NewPromotionHandlers(svc).Routes(r)
	return r
}

func TestListRedeemablePromotionsEndpoint(t *testing.T) {
	svc := &fakePromotionService{promotions: []domain.Promotion{samplePromotion()}, nextPageToken: "tok_2"}
	router := newPublicPromotionRouter(svc)

	req := httptest.NewRequest(http.MethodGet, "/promotions?pageSize=5&pageToken=tok_1", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp publicPromotionListResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Promotions) != 1 || resp.Promotions[0].Code != "SAVE15" {
		t.Fatalf("unexpected promotions %+v", resp.Promotions)
	}
	if resp.NextPageToken != "tok_2" {
		t.Fatalf("expected continuation token, got %q", resp.NextPageToken)
	}
	if svc.listPage.PageSize != 5 || svc.listPage.PageToken != "tok_1" {
		t.Fatalf("unexpected pagination %+v", svc.listPage)
	}
}

func TestListRedeemablePromotionsClampsPageSize(t *testing.T) {
	svc := &fakePromotionService{}
	router := newPublicPromotionRouter(svc)

	req := httptest.NewRequest(http.MethodGet, "/promotions?pageSize=5000", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if svc.listPage.PageSize != maxPromotionPageSize {
		t.Fatalf("expected clamped page size %d, got %d", maxPromotionPageSize, svc.listPage.PageSize)
	}
}

func TestGetPromotionByCodeEndpoint(t *testing.T) {
	svc := &fakePromotionService{promotion: samplePromotion()}
	router := newPublicPromotionRouter(svc)

	req := httptest.NewRequest(http.MethodGet, "/promotions/save15", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if svc.lookedUpCode != "save15" {
		t.Fatalf("expected raw code forwarded, got %q", svc.lookedUpCode)
	}
	var resp publicPromotionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Code != "SAVE15" || resp.PercentValue != 15 {
		t.Fatalf("unexpected response %+v", resp)
	}
	if resp.EndsAt != "2025-04-01T00:00:00Z" {
		t.Fatalf("unexpected endsAt %q", resp.EndsAt)
	}
	// Usage counters must never leak into the public payload.
	if strings.Contains(rec.Body.String(), "usageCount") {
		t.Fatalf("usage counters leaked: %s", rec.Body.String())
	}
}

func TestGetPromotionByCodeNotFound(t *testing.T) {
	router := newPublicPromotionRouter(&fakePromotionService{err: services.ErrPromotionNotFound})

	req := httptest.NewRequest(http.MethodGet, "/promotions/NOPE", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestGetPromotionByCodeNotRedeemable(t *testing.T) {
	router := newPublicPromotionRouter(&fakePromotionService{err: services.ErrPromotionNotRedeemable})

	req := httptest.NewRequest(http.MethodGet, "/promotions/OLD", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusGone {
		t.Fatalf("expected 410, got %d", rec.Code)
	}
}

package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/atelierstore/api/internal/domain"
	pfirestore "github.com/atelierstore/api/internal/platform/firestore"
	"github.com/atelierstore/api/internal/platform/pagination"
	"github.com/atelierstore/api/internal/repositories"
)

const (
	promotionsCollection  = "promotions"
	redemptionsCollection = "redemptions"
)

type buyXGetYDocument struct {
	BuyQuantity        int   `firestore:"buyQuantity"`
	GetQuantity        int   `firestore:"getQuantity"`
	GetDiscountPercent int64 `firestore:"getDiscountPercent"`
}

type promotionDocument struct {
	Code               string            `firestore:"code"`
	CodeNormalized     string            `firestore:"codeNormalized"`
	Name               string            `firestore:"name"`
	Description        string            `firestore:"description,omitempty"`
	Type               string            `firestore:"type"`
	PercentValue       int64             `firestore:"percentValue,omitempty"`
	AmountValue        int64             `firestore:"amountValue,omitempty"`
	Currency           string            `firestore:"currency,omitempty"`
	BuyXGetY           *buyXGetYDocument `firestore:"buyXGetY,omitempty"`
	MinPurchase        int64             `firestore:"minPurchase,omitempty"`
	MaxDiscount        int64             `firestore:"maxDiscount,omitempty"`
	MaxUsage           int64             `firestore:"maxUsage,omitempty"`
	UsageCount         int64             `firestore:"usageCount"`
	MaxUsagePerUser    int64             `firestore:"maxUsagePerUser,omitempty"`
	StartsAt           *time.Time        `firestore:"startsAt,omitempty"`
	EndsAt             *time.Time        `firestore:"endsAt,omitempty"`
	IsActive           bool              `firestore:"isActive"`
	ProductIDs         []string          `firestore:"productIds,omitempty"`
	CategoryIDs        []string          `firestore:"categoryIds,omitempty"`
	ExcludedProductIDs []string          `firestore:"excludedProductIds,omitempty"`
	ExcludedCategories []string          `firestore:"excludedCategories,omitempty"`
	CreatedAt          time.Time         `firestore:"createdAt"`
	UpdatedAt          time.Time         `firestore:"updatedAt"`
}

type redemptionDocument struct {
	Count       int64     `firestore:"count"`
	LastOrderID string    `firestore:"lastOrderId,omitempty"`
	UpdatedAt   time.Time `firestore:"updatedAt"`
}

// PromotionRepository implements repositories.PromotionRepository backed by Firestore.
// Per-user redemption tallies live in a redemptions subcollection keyed by user id
// so the global counter and the user tally can move in one transaction.
type PromotionRepository struct {
	provider   *pfirestore.Provider
	promotions *pfirestore.BaseRepository[promotionDocument]
	clock      func() time.Time
}

// NewPromotionRepository constructs a Firestore-backed promotion repository.
func NewPromotionRepository(provider *pfirestore.Provider) (*PromotionRepository, error) {
	if provider == nil {
		return nil, errors.New("promotion repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[promotionDocument](provider, promotionsCollection, nil)
	return &PromotionRepository{
		provider:   provider,
		promotions: base,
		clock:      time.Now,
	}, nil
}

// Insert persists a new promotion, rejecting duplicate codes.
func (r *PromotionRepository) Insert(ctx context.Context, promotion domain.Promotion) error {
	if r == nil || r.provider == nil {
		return errors.New("promotion repository not initialised")
	}
	id := strings.TrimSpace(promotion.ID)
	if id == "" {
		return repositories.NewPromotionError(repositories.PromotionErrorInvalidInput, "promotion id is required", nil)
	}
	normalized := normalizeCode(promotion.Code)
	if normalized == "" {
		return repositories.NewPromotionError(repositories.PromotionErrorInvalidInput, "promotion code is required", nil)
	}

	if existing, err := r.GetByCode(ctx, normalized); err == nil && existing.ID != id {
		return repositories.NewPromotionError(repositories.PromotionErrorDuplicateCode, fmt.Sprintf("code %s already in use", normalized), nil)
	} else if err != nil && !isNotFoundErr(err) {
		return err
	}

	ref, err := r.promotions.DocumentRef(ctx, id)
	if err != nil {
		return err
	}
	_, err = ref.Create(ctx, encodePromotion(promotion))
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return repositories.NewPromotionError(repositories.PromotionErrorDuplicateCode, fmt.Sprintf("promotion %s already exists", id), err)
		}
		return pfirestore.WrapError("promotions.insert", err)
	}
	return nil
}

// Update overwrites the promotion document, preserving the stored usage count.
func (r *PromotionRepository) Update(ctx context.Context, promotion domain.Promotion) error {
	if r == nil || r.provider == nil {
		return errors.New("promotion repository not initialised")
	}
	id := strings.TrimSpace(promotion.ID)
	if id == "" {
		return repositories.NewPromotionError(repositories.PromotionErrorInvalidInput, "promotion id is required", nil)
	}

	return r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.promotions.DocumentRef(ctx, id)
		if err != nil {
			return err
		}
		snapshot, err := tx.Get(ref)
		if err != nil {
			return pfirestore.WrapError("promotions.update", err)
		}
		var current promotionDocument
		if err := snapshot.DataTo(&current); err != nil {
			return fmt.Errorf("firestore promotions decode %s: %w", id, err)
		}

		doc := encodePromotion(promotion)
		doc.UsageCount = current.UsageCount
		doc.CreatedAt = current.CreatedAt
		return tx.Set(ref, doc)
	})
}

// Disable soft-disables a promotion without deleting the document.
func (r *PromotionRepository) Disable(ctx context.Context, promotionID string, at time.Time) error {
	if r == nil || r.provider == nil {
		return errors.New("promotion repository not initialised")
	}
	_, err := r.promotions.Update(ctx, strings.TrimSpace(promotionID), []firestore.Update{
		{Path: "isActive", Value: false},
		{Path: "updatedAt", Value: at.UTC()},
	})
	return err
}

// GetByID fetches a promotion document by its identifier.
func (r *PromotionRepository) GetByID(ctx context.Context, promotionID string) (domain.Promotion, error) {
	if r == nil || r.provider == nil {
		return domain.Promotion{}, errors.New("promotion repository not initialised")
	}
	doc, err := r.promotions.Get(ctx, strings.TrimSpace(promotionID))
	if err != nil {
		return domain.Promotion{}, err
	}
	return decodePromotion(doc.ID, doc.Data), nil
}

// GetByCode fetches a promotion by its normalised code.
func (r *PromotionRepository) GetByCode(ctx context.Context, normalizedCode string) (domain.Promotion, error) {
	if r == nil || r.provider == nil {
		return domain.Promotion{}, errors.New("promotion repository not initialised")
	}
	code := normalizeCode(normalizedCode)
	if code == "" {
		return domain.Promotion{}, repositories.NewPromotionError(repositories.PromotionErrorInvalidInput, "promotion code is required", nil)
	}

	docs, err := r.promotions.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("codeNormalized", "==", code).Limit(1)
	})
	if err != nil {
		return domain.Promotion{}, err
	}
	if len(docs) == 0 {
		return domain.Promotion{}, pfirestore.WrapError("promotions.getByCode", status.Error(codes.NotFound, fmt.Sprintf("promotion code %s not found", code)))
	}
	return decodePromotion(docs[0].ID, docs[0].Data), nil
}

// List returns a page of promotions ordered by creation time, newest first.
func (r *PromotionRepository) List(ctx context.Context, filter repositories.PromotionFilter) (repositories.PromotionPage, error) {
	if r == nil || r.provider == nil {
		return repositories.PromotionPage{}, errors.New("promotion repository not initialised")
	}
	pageSize := filter.PageSize
	if pageSize <= 0 {
		pageSize = pagination.DefaultPageSize
	}

	cursor, err := pagination.DecodeToken(filter.PageToken)
	if err != nil {
		return repositories.PromotionPage{}, repositories.NewPromotionError(repositories.PromotionErrorInvalidInput, "invalid page token", err)
	}

	docs, err := r.promotions.Query(ctx, func(q firestore.Query) firestore.Query {
		if !filter.IncludeDisabled {
			q = q.Where("isActive", "==", true)
		}
		q = q.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Asc)
		if len(cursor.StartAfter) > 0 {
			q = q.StartAfter(cursor.StartAfter...)
		}
		return q.Limit(pageSize + 1)
	})
	if err != nil {
		return repositories.PromotionPage{}, err
	}

	page := repositories.PromotionPage{}
	for i, doc := range docs {
		if i == pageSize {
			break
		}
		page.Promotions = append(page.Promotions, decodePromotion(doc.ID, doc.Data))
	}
	if len(docs) > pageSize {
		last := docs[pageSize-1]
		token, err := pagination.EncodeToken(pagination.Cursor{StartAfter: []any{last.Data.CreatedAt, last.ID}})
		if err != nil {
			return repositories.PromotionPage{}, err
		}
		page.NextPageToken = token
	}
	return page, nil
}

// Redeem applies the conditional usage increments inside one transaction.
// It is idempotent per order: a redelivered confirmation for an order that
// already moved the counters leaves them untouched.
func (r *PromotionRepository) Redeem(ctx context.Context, promotionID, userID, orderID string) error {
	if r == nil || r.provider == nil {
		return errors.New("promotion repository not initialised")
	}
	id := strings.TrimSpace(promotionID)
	user := strings.TrimSpace(userID)
	order := strings.TrimSpace(orderID)
	if id == "" || user == "" {
		return repositories.NewPromotionError(repositories.PromotionErrorInvalidInput, "promotion id and user id are required", nil)
	}

	now := r.now()
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		promoRef, err := r.promotions.DocumentRef(ctx, id)
		if err != nil {
			return err
		}
		redemptionRef := promoRef.Collection(redemptionsCollection).Doc(user)

		promoSnap, err := tx.Get(promoRef)
		if err != nil {
			return pfirestore.WrapError("promotions.redeem", err)
		}
		var promo promotionDocument
		if err := promoSnap.DataTo(&promo); err != nil {
			return fmt.Errorf("firestore promotions decode %s: %w", id, err)
		}

		var redemption redemptionDocument
		redemptionSnap, err := tx.Get(redemptionRef)
		switch status.Code(err) {
		case codes.NotFound:
			// first redemption for this user
		case codes.OK:
			if err := redemptionSnap.DataTo(&redemption); err != nil {
				return fmt.Errorf("firestore redemptions decode %s/%s: %w", id, user, err)
			}
		default:
			return pfirestore.WrapError("promotions.redeem", err)
		}

		if order != "" && redemption.LastOrderID == order {
			// This order already moved the counters; nothing to do.
			return nil
		}

		if promo.MaxUsage > 0 && promo.UsageCount >= promo.MaxUsage {
			return repositories.NewPromotionError(repositories.PromotionErrorExhausted, fmt.Sprintf("promotion %s usage cap %d reached", id, promo.MaxUsage), nil)
		}

		perUserCap := promo.MaxUsagePerUser
		if perUserCap <= 0 {
			perUserCap = 1
		}
		if redemption.Count >= perUserCap {
			return repositories.NewPromotionError(repositories.PromotionErrorUserLimit, fmt.Sprintf("promotion %s per-user cap %d reached for %s", id, perUserCap, user), nil)
		}

		if err := tx.Update(promoRef, []firestore.Update{
			{Path: "usageCount", Value: firestore.Increment(1)},
			{Path: "updatedAt", Value: now},
		}); err != nil {
			return err
		}
		redemption.Count++
		redemption.LastOrderID = order
		redemption.UpdatedAt = now
		return tx.Set(redemptionRef, redemption)
	})
	if err != nil {
		var promoErr *repositories.PromotionError
		if errors.As(err, &promoErr) {
			return promoErr
		}
		return pfirestore.WrapError("promotions.redeem", err)
	}
	return nil
}

// CountForUser reads the redemption tally kept under the promotion document.
func (r *PromotionRepository) CountForUser(ctx context.Context, promotionID, userID string) (int64, error) {
	if r == nil || r.provider == nil {
		return 0, errors.New("promotion repository not initialised")
	}
	promoRef, err := r.promotions.DocumentRef(ctx, strings.TrimSpace(promotionID))
	if err != nil {
		return 0, err
	}

	snap, err := promoRef.Collection(redemptionsCollection).Doc(strings.TrimSpace(userID)).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return 0, nil
		}
		return 0, pfirestore.WrapError("redemptions.countForUser", err)
	}
	var doc redemptionDocument
	if err := snap.DataTo(&doc); err != nil {
		return 0, fmt.Errorf("firestore redemptions decode: %w", err)
	}
	return doc.Count, nil
}

func (r *PromotionRepository) now() time.Time {
	if r != nil && r.clock != nil {
		return r.clock().UTC()
	}
	return time.Now().UTC()
}

func encodePromotion(p domain.Promotion) promotionDocument {
	doc := promotionDocument{
		Code:               strings.TrimSpace(p.Code),
		CodeNormalized:     normalizeCode(p.Code),
		Name:               p.Name,
		Description:        p.Description,
		Type:               string(p.Type),
		PercentValue:       p.PercentValue,
		AmountValue:        p.AmountValue,
		Currency:           strings.ToLower(strings.TrimSpace(p.Currency)),
		MinPurchase:        p.MinPurchase,
		MaxDiscount:        p.MaxDiscount,
		MaxUsage:           p.MaxUsage,
		UsageCount:         p.UsageCount,
		MaxUsagePerUser:    p.MaxUsagePerUser,
		StartsAt:           normalizeTimePtr(p.StartsAt),
		EndsAt:             normalizeTimePtr(p.EndsAt),
		IsActive:           p.IsActive,
		ProductIDs:         p.Applicability.ProductIDs,
		CategoryIDs:        p.Applicability.CategoryIDs,
		ExcludedProductIDs: p.Applicability.ExcludedProductIDs,
		ExcludedCategories: p.Applicability.ExcludedCategories,
		CreatedAt:          p.CreatedAt.UTC(),
		UpdatedAt:          p.UpdatedAt.UTC(),
	}
	if p.BuyXGetY != nil {
		doc.BuyXGetY = &buyXGetYDocument{
			BuyQuantity:        p.BuyXGetY.BuyQuantity,
			GetQuantity:        p.BuyXGetY.GetQuantity,
			GetDiscountPercent: p.BuyXGetY.GetDiscountPercent,
		}
	}
	return doc
}

func decodePromotion(id string, doc promotionDocument) domain.Promotion {
	promo := domain.Promotion{
		ID:              id,
		Code:            doc.Code,
		Name:            doc.Name,
		Description:     doc.Description,
		Type:            domain.PromotionType(doc.Type),
		PercentValue:    doc.PercentValue,
		AmountValue:     doc.AmountValue,
		Currency:        doc.Currency,
		MinPurchase:     doc.MinPurchase,
		MaxDiscount:     doc.MaxDiscount,
		MaxUsage:        doc.MaxUsage,
		UsageCount:      doc.UsageCount,
		MaxUsagePerUser: doc.MaxUsagePerUser,
		StartsAt:        doc.StartsAt,
		EndsAt:          doc.EndsAt,
		IsActive:        doc.IsActive,
		Applicability: domain.PromotionApplicability{
			ProductIDs:         doc.ProductIDs,
			CategoryIDs:        doc.CategoryIDs,
			ExcludedProductIDs: doc.ExcludedProductIDs,
			ExcludedCategories: doc.ExcludedCategories,
		},
		CreatedAt: doc.CreatedAt,
		UpdatedAt: doc.UpdatedAt,
	}
	if doc.BuyXGetY != nil {
		promo.BuyXGetY = &domain.BuyXGetY{
			BuyQuantity:        doc.BuyXGetY.BuyQuantity,
			GetQuantity:        doc.BuyXGetY.GetQuantity,
			GetDiscountPercent: doc.BuyXGetY.GetDiscountPercent,
		}
	}
	return promo
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func normalizeTimePtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	utc := t.UTC()
	return &utc
}

func isNotFoundErr(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

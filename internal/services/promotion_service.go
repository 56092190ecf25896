package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/atelierstore/api/internal/domain"
	"github.com/atelierstore/api/internal/repositories"
)

const promotionIDPrefix = "promo_"

// PromotionServiceDeps bundles dependencies required to construct a PromotionService implementation.
type PromotionServiceDeps struct {
	Promotions  repositories.PromotionRepository
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type promotionService struct {
	repo   repositories.PromotionRepository
	clock  func() time.Time
	newID  func() string
	logger func(ctx context.Context, event string, fields map[string]any)
}

// NewPromotionService wires a PromotionService backed by the provided repositories.
func NewPromotionService(deps PromotionServiceDeps) (PromotionService, error) {
	if deps.Promotions == nil {
		return nil, ErrPromotionRepositoryMissing
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return promotionIDPrefix + ulid.Make().String()
		}
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &promotionService{
		repo:   deps.Promotions,
		clock:  func() time.Time { return clock().UTC() },
		newID:  idGen,
		logger: logger,
	}, nil
}

func (s *promotionService) ListRedeemable(ctx context.Context, page Pagination) (PromotionList, error) {
	if s == nil || s.repo == nil {
		return PromotionList{}, ErrPromotionRepositoryMissing
	}
	result, err := s.repo.List(ctx, repositories.PromotionFilter{
		PageSize:  page.PageSize,
		PageToken: page.PageToken,
	})
	if err != nil {
		return PromotionList{}, translatePromotionError(err)
	}

	now := s.clock()
	list := PromotionList{NextPageToken: result.NextPageToken}
	for _, promo := range result.Promotions {
		if promo.Redeemable(now) {
			list.Promotions = append(list.Promotions, promo)
		}
	}
	return list, nil
}

func (s *promotionService) GetRedeemableByCode(ctx context.Context, code string) (Promotion, error) {
	if s == nil || s.repo == nil {
		return Promotion{}, ErrPromotionRepositoryMissing
	}
	normalized := strings.ToUpper(strings.TrimSpace(code))
	if normalized == "" {
		return Promotion{}, ErrPromotionInvalidCode
	}

	promotion, err := s.repo.GetByCode(ctx, normalized)
	if err != nil {
		return Promotion{}, translatePromotionError(err)
	}
	if !promotion.Redeemable(s.clock()) {
		return Promotion{}, ErrPromotionNotRedeemable
	}
	return promotion, nil
}

func (s *promotionService) Create(ctx context.Context, input PromotionInput) (Promotion, error) {
	if s == nil || s.repo == nil {
		return Promotion{}, ErrPromotionRepositoryMissing
	}
	if err := validatePromotionInput(input); err != nil {
		return Promotion{}, err
	}

	now := s.clock()
	promotion := promotionFromInput(input)
	promotion.ID = s.newID()
	promotion.UsageCount = 0
	promotion.CreatedAt = now
	promotion.UpdatedAt = now
	if input.IsActive == nil {
		promotion.IsActive = true
	}

	if err := s.repo.Insert(ctx, promotion); err != nil {
		return Promotion{}, translatePromotionError(err)
	}
	s.logger(ctx, "promotions.created", map[string]any{
		"promotionId": promotion.ID,
		"code":        promotion.Code,
		"type":        string(promotion.Type),
	})
	return promotion, nil
}

func (s *promotionService) Update(ctx context.Context, promotionID string, input PromotionInput) (Promotion, error) {
	if s == nil || s.repo == nil {
		return Promotion{}, ErrPromotionRepositoryMissing
	}
	id := strings.TrimSpace(promotionID)
	if id == "" {
		return Promotion{}, fmt.Errorf("%w: promotion id is required", ErrPromotionInvalidInput)
	}
	if err := validatePromotionInput(input); err != nil {
		return Promotion{}, err
	}

	existing, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return Promotion{}, translatePromotionError(err)
	}

	promotion := promotionFromInput(input)
	promotion.ID = existing.ID
	promotion.UsageCount = existing.UsageCount
	promotion.CreatedAt = existing.CreatedAt
	promotion.UpdatedAt = s.clock()
	if input.IsActive == nil {
		promotion.IsActive = existing.IsActive
	}

	if err := s.repo.Update(ctx, promotion); err != nil {
		return Promotion{}, translatePromotionError(err)
	}
	s.logger(ctx, "promotions.updated", map[string]any{
		"promotionId": promotion.ID,
		"code":        promotion.Code,
	})
	return promotion, nil
}

func (s *promotionService) Disable(ctx context.Context, promotionID string) error {
	if s == nil || s.repo == nil {
		return ErrPromotionRepositoryMissing
	}
	id := strings.TrimSpace(promotionID)
	if id == "" {
		return fmt.Errorf("%w: promotion id is required", ErrPromotionInvalidInput)
	}
	if err := s.repo.Disable(ctx, id, s.clock()); err != nil {
		return translatePromotionError(err)
	}
	s.logger(ctx, "promotions.disabled", map[string]any{"promotionId": id})
	return nil
}

func (s *promotionService) Get(ctx context.Context, promotionID string) (Promotion, error) {
	if s == nil || s.repo == nil {
		return Promotion{}, ErrPromotionRepositoryMissing
	}
	id := strings.TrimSpace(promotionID)
	if id == "" {
		return Promotion{}, fmt.Errorf("%w: promotion id is required", ErrPromotionInvalidInput)
	}
	promotion, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return Promotion{}, translatePromotionError(err)
	}
	return promotion, nil
}

func (s *promotionService) List(ctx context.Context, cmd ListPromotionsCommand) (PromotionList, error) {
	if s == nil || s.repo == nil {
		return PromotionList{}, ErrPromotionRepositoryMissing
	}
	result, err := s.repo.List(ctx, repositories.PromotionFilter{
		IncludeDisabled: cmd.IncludeDisabled,
		PageSize:        cmd.PageSize,
		PageToken:       cmd.PageToken,
	})
	if err != nil {
		return PromotionList{}, translatePromotionError(err)
	}
	return PromotionList{
		Promotions:    result.Promotions,
		NextPageToken: result.NextPageToken,
	}, nil
}

func (s *promotionService) Redeem(ctx context.Context, cmd RedeemPromotionCommand) error {
	if s == nil || s.repo == nil {
		return ErrPromotionRepositoryMissing
	}
	if strings.TrimSpace(cmd.PromotionID) == "" || strings.TrimSpace(cmd.UserID) == "" {
		return fmt.Errorf("%w: promotion id and user id are required", ErrPromotionInvalidInput)
	}
	if err := s.repo.Redeem(ctx, cmd.PromotionID, cmd.UserID, cmd.OrderID); err != nil {
		return translatePromotionError(err)
	}
	s.logger(ctx, "promotions.redeemed", map[string]any{
		"promotionId": cmd.PromotionID,
		"orderId":     cmd.OrderID,
	})
	return nil
}

func validatePromotionInput(input PromotionInput) error {
	if strings.TrimSpace(input.Code) == "" {
		return fmt.Errorf("%w: code is required", ErrPromotionInvalidInput)
	}
	if strings.TrimSpace(input.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrPromotionInvalidInput)
	}

	switch input.Type {
	case domain.PromotionTypePercentage:
		if input.PercentValue <= 0 || input.PercentValue > 100 {
			return fmt.Errorf("%w: percent value must be within 1..100", ErrPromotionInvalidInput)
		}
	case domain.PromotionTypeFixedAmount:
		if input.AmountValue <= 0 {
			return fmt.Errorf("%w: amount value must be positive", ErrPromotionInvalidInput)
		}
	case domain.PromotionTypeFreeShipping:
		// no value fields required
	case domain.PromotionTypeBuyXGetY:
		rule := input.BuyXGetY
		if rule == nil || rule.BuyQuantity <= 0 || rule.GetQuantity <= 0 {
			return fmt.Errorf("%w: buy and get quantities must be positive", ErrPromotionInvalidInput)
		}
		if rule.GetDiscountPercent < 0 || rule.GetDiscountPercent > 100 {
			return fmt.Errorf("%w: get discount percent must be within 0..100", ErrPromotionInvalidInput)
		}
	default:
		return fmt.Errorf("%w: unknown promotion type %q", ErrPromotionInvalidInput, input.Type)
	}

	if input.MinPurchase < 0 || input.MaxDiscount < 0 || input.MaxUsage < 0 || input.MaxUsagePerUser < 0 {
		return fmt.Errorf("%w: caps must not be negative", ErrPromotionInvalidInput)
	}
	if input.StartsAt != nil && input.EndsAt != nil && !input.StartsAt.Before(*input.EndsAt) {
		return fmt.Errorf("%w: startsAt must precede endsAt", ErrPromotionInvalidInput)
	}
	return nil
}

func promotionFromInput(input PromotionInput) Promotion {
	promotion := Promotion{
		Code:            strings.ToUpper(strings.TrimSpace(input.Code)),
		Name:            strings.TrimSpace(input.Name),
		Description:     strings.TrimSpace(input.Description),
		Type:            input.Type,
		PercentValue:    input.PercentValue,
		AmountValue:     input.AmountValue,
		Currency:        strings.ToLower(strings.TrimSpace(input.Currency)),
		MinPurchase:     input.MinPurchase,
		MaxDiscount:     input.MaxDiscount,
		MaxUsage:        input.MaxUsage,
		MaxUsagePerUser: input.MaxUsagePerUser,
		StartsAt:        input.StartsAt,
		EndsAt:          input.EndsAt,
		Applicability:   input.Applicability,
	}
	if input.BuyXGetY != nil {
		rule := *input.BuyXGetY
		promotion.BuyXGetY = &rule
	}
	if input.IsActive != nil {
		promotion.IsActive = *input.IsActive
	}
	return promotion
}

func translatePromotionError(err error) error {
	if err == nil {
		return nil
	}

	var promoErr *repositories.PromotionError
	if errors.As(err, &promoErr) {
		switch promoErr.Code {
		case repositories.PromotionErrorDuplicateCode:
			return ErrPromotionCodeTaken
		case repositories.PromotionErrorExhausted, repositories.PromotionErrorUserLimit:
			return ErrPromotionExhausted
		case repositories.PromotionErrorInvalidInput:
			return fmt.Errorf("%w: %s", ErrPromotionInvalidInput, promoErr.Message)
		}
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return ErrPromotionNotFound
		case repoErr.IsConflict():
			return ErrPromotionExhausted
		}
	}
	return err
}

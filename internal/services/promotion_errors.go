package services

import "errors"

var (
	// ErrPromotionRepositoryMissing indicates the promotion repository dependency is absent.
	ErrPromotionRepositoryMissing = errors.New("promotion service: repository is not configured")
	// ErrPromotionInvalidCode signals the supplied promotion code is missing or malformed.
	ErrPromotionInvalidCode = errors.New("promotion service: invalid promotion code")
	// ErrPromotionNotFound indicates no promotion exists for the provided code or id.
	ErrPromotionNotFound = errors.New("promotion service: promotion not found")
	// ErrPromotionNotRedeemable indicates the promotion exists but cannot currently be offered.
	ErrPromotionNotRedeemable = errors.New("promotion service: promotion not redeemable")
	// ErrPromotionInvalidInput flags admin payloads that fail validation.
	ErrPromotionInvalidInput = errors.New("promotion service: invalid promotion input")
	// ErrPromotionCodeTaken indicates another promotion already owns the code.
	ErrPromotionCodeTaken = errors.New("promotion service: promotion code already in use")
	// ErrPromotionExhausted indicates a redemption lost the race for the final usages.
	ErrPromotionExhausted = errors.New("promotion service: promotion usage exhausted")
)

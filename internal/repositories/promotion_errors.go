package repositories

import "fmt"

// PromotionErrorCode enumerates failure reasons for promotion persistence operations.
type PromotionErrorCode string

const (
	// PromotionErrorUnknown represents an unspecified failure.
	PromotionErrorUnknown PromotionErrorCode = "promotion_unknown"
	// PromotionErrorInvalidInput indicates the caller supplied invalid arguments.
	PromotionErrorInvalidInput PromotionErrorCode = "promotion_invalid_input"
	// PromotionErrorDuplicateCode indicates another promotion already owns the code.
	PromotionErrorDuplicateCode PromotionErrorCode = "promotion_duplicate_code"
	// PromotionErrorExhausted indicates the global usage cap was reached during redemption.
	PromotionErrorExhausted PromotionErrorCode = "promotion_exhausted"
	// PromotionErrorUserLimit indicates the per-user cap was reached during redemption.
	PromotionErrorUserLimit PromotionErrorCode = "promotion_user_limit"
)

// PromotionError wraps promotion-specific failures with machine readable codes.
// Exhausted, user-limit, and duplicate-code failures report as conflicts so the
// service layer can translate them without inspecting codes.
type PromotionError struct {
	Op      string
	Code    PromotionErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *PromotionError) Error() string {
	if e == nil {
		return ""
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

// Unwrap exposes the underlying error, if any.
func (e *PromotionError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// IsNotFound implements RepositoryError.
func (e *PromotionError) IsNotFound() bool { return false }

// IsConflict implements RepositoryError.
func (e *PromotionError) IsConflict() bool {
	if e == nil {
		return false
	}
	switch e.Code {
	case PromotionErrorExhausted, PromotionErrorUserLimit, PromotionErrorDuplicateCode:
		return true
	}
	return false
}

// IsUnavailable implements RepositoryError.
func (e *PromotionError) IsUnavailable() bool { return false }

// NewPromotionError constructs a typed promotion error.
func NewPromotionError(code PromotionErrorCode, message string, err error) *PromotionError {
	if message == "" {
		message = string(code)
	}
	return &PromotionError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

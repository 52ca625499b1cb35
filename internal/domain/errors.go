package domain

import "errors"

var (
	ErrValidation         = errors.New("validation failed")
	ErrNotFound           = errors.New("not found")
	ErrForbidden          = errors.New("forbidden")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrInvalidTransition  = errors.New("invalid status transition")
	ErrProductUnavailable = errors.New("product unavailable")
	ErrInvalidCarrier     = errors.New("invalid carrier")
	ErrConflictRetry      = errors.New("order was modified concurrently, retry")
)

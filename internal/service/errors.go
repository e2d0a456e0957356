package service

import (
	"errors"
	"fmt"
)

var (
	ErrInsufficientCredits = errors.New("insufficient credits, payment required")
	ErrNotFound            = errors.New("not found")
	ErrAssetMissing        = errors.New("asset is missing from storage")
	ErrNotRetryable        = errors.New("asset is not in a retryable state")
)

// ValidationError rejects a request before any credit or row is touched.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

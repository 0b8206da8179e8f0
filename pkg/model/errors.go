package model

import (
	"errors"
	"fmt"
)

var (
	ErrDuplicateActive  = errors.New("a record with this name already exists")
	ErrNotFound         = errors.New("record not found")
	ErrForbidden        = errors.New("you do not have permission to modify this record")
	ErrStoreUnavailable = errors.New("record store unavailable")
)

// ValidationError is returned for input that failed validation. Reason is safe to show users.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

// ProviderError carries the message the DNS provider returned for a failed call.
type ProviderError struct {
	Message string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("dns provider error: %s", e.Message)
}

func IsValidationError(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

func IsProviderError(err error) bool {
	var p *ProviderError
	return errors.As(err, &p)
}

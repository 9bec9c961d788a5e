package model

import (
	"errors"
	"fmt"
)

// Sentinel errors for common cases.
// Use errors.Is() to check against these.
var (
	ErrNotFound       = errors.New("not found")
	ErrInvalidRequest = errors.New("invalid request")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrUpstreamError  = errors.New("upstream error")
	ErrRateLimited    = errors.New("rate limited")
)

// WarehouseConflictCode is the marker the cart API puts in 400 bodies when an
// add would mix warehouses. It is also the code cartd uses for 409 responses.
const WarehouseConflictCode = "WAREHOUSE_CONFLICT"

// APIError represents a structured error for API responses.
// Implements error interface and supports unwrapping.
type APIError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"-"` // HTTP status, not serialized
	Err        error  `json:"-"` // Wrapped error, not serialized
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// NewNotFoundError creates a 404 error for missing resources.
func NewNotFoundError(resource string) *APIError {
	return &APIError{
		Code:       "NOT_FOUND",
		Message:    fmt.Sprintf("%s not found", resource),
		StatusCode: 404,
		Err:        ErrNotFound,
	}
}

// NewValidationError creates a 400 error for invalid input.
func NewValidationError(field, reason string) *APIError {
	return &APIError{
		Code:       "VALIDATION_ERROR",
		Message:    fmt.Sprintf("invalid %s: %s", field, reason),
		StatusCode: 400,
		Err:        ErrInvalidRequest,
	}
}

// NewUnauthorizedError creates a 401 error for auth failures.
func NewUnauthorizedError(reason string) *APIError {
	return &APIError{
		Code:       "UNAUTHORIZED",
		Message:    reason,
		StatusCode: 401,
		Err:        ErrUnauthorized,
	}
}

// NewUpstreamError creates a 502 error for backend failures.
func NewUpstreamError(service string, err error) *APIError {
	return &APIError{
		Code:       "UPSTREAM_ERROR",
		Message:    fmt.Sprintf("%s request failed", service),
		StatusCode: 502,
		Err:        fmt.Errorf("%w: %v", ErrUpstreamError, err),
	}
}

// NewInternalError creates a 500 error for unexpected failures.
func NewInternalError(err error) *APIError {
	return &APIError{
		Code:       "INTERNAL_ERROR",
		Message:    "an internal error occurred",
		StatusCode: 500,
		Err:        err,
	}
}

// NewRateLimitError creates a 429 error for rate limiting.
func NewRateLimitError(service string) *APIError {
	return &APIError{
		Code:       "RATE_LIMITED",
		Message:    fmt.Sprintf("%s rate limit exceeded, please retry later", service),
		StatusCode: 429,
		Err:        ErrRateLimited,
	}
}

// WarehouseConflictError is returned when a product's warehouse differs from the
// warehouse already anchoring the cart. The client-side pre-check and the
// server's 400 response both produce this type.
type WarehouseConflictError struct {
	Existing string // Display name of the cart's anchor warehouse
	Incoming string // Display name of the rejected product's warehouse
}

func (e *WarehouseConflictError) Error() string {
	return fmt.Sprintf("items from %s already in cart", e.Existing)
}

// PartialSyncError reports a sync where only some local lines were accepted.
// The sync still succeeded; the accepted lines are the new cart.
type PartialSyncError struct {
	Synced      []CartItem
	Conflicting []CartItem
}

func (e *PartialSyncError) Error() string {
	return SyncMessage(len(e.Synced), len(e.Conflicting))
}

// SyncMessage renders the single user-facing message for a sync outcome.
func SyncMessage(synced, conflicting int) string {
	msg := fmt.Sprintf("%d %s synced", synced, pluralItem(synced))
	if conflicting > 0 {
		msg += fmt.Sprintf(", %d %s could not be synced due to warehouse conflict",
			conflicting, pluralItem(conflicting))
	}
	return msg
}

func pluralItem(n int) string {
	if n == 1 {
		return "item"
	}
	return "items"
}

// IsWarehouseConflict reports whether err carries a warehouse conflict.
func IsWarehouseConflict(err error) bool {
	var conflict *WarehouseConflictError
	return errors.As(err, &conflict)
}

// AsWarehouseConflict extracts the conflict from an error chain.
func AsWarehouseConflict(err error) (*WarehouseConflictError, bool) {
	var conflict *WarehouseConflictError
	ok := errors.As(err, &conflict)
	return conflict, ok
}

// IsPartialSync reports whether err is a partially successful sync.
func IsPartialSync(err error) bool {
	var partial *PartialSyncError
	return errors.As(err, &partial)
}

// IsUnauthorized reports whether err is an authentication failure.
func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}

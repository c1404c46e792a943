package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// Machine-readable error codes carried on the wire.
const (
	CodeValidation        = "VALIDATION_FAILED"
	CodeCredentialMissing = "CREDENTIAL_MISSING"
	CodeCredentialInvalid = "CREDENTIAL_INVALID"
	CodeGraphForbidden    = "GRAPH_FORBIDDEN"
	CodePlanLimit         = "PLAN_LIMIT_EXCEEDED"
	CodeRateLimited       = "RATE_LIMITED"
	CodeStoreUnavailable  = "STORE_UNAVAILABLE"
	CodeStoreFailure      = "STORE_FAILURE"
	CodeInternal          = "INTERNAL_ERROR"
)

// Sentinel errors.
var (
	ErrMissingField      = errors.New("missing required field")
	ErrInvalidField      = errors.New("invalid field")
	ErrMissingCredential = errors.New("missing credential")
	ErrInvalidCredential = errors.New("invalid credential")
	ErrGraphForbidden    = errors.New("graph not accessible with this credential")
	ErrMonthlyQuota      = errors.New("monthly usage quota exhausted")
	ErrRateLimited       = errors.New("request rate limit exceeded")
	ErrStoreUnavailable  = errors.New("graph store unavailable")
	ErrStoreQuery        = errors.New("graph store query failed")
	ErrUnknownFacet      = errors.New("unknown facet")
)

// Coded is implemented by every error that maps onto the wire contract.
type Coded interface {
	error
	Code() string
	Status() int
	Retryable() bool
}

// ValidationError wraps a sentinel with context.
type ValidationError struct {
	Field   string
	Value   string
	Wrapped error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s (value=%q)", e.Wrapped, e.Field, e.Value)
}

func (e *ValidationError) Unwrap() error   { return e.Wrapped }
func (e *ValidationError) Code() string    { return CodeValidation }
func (e *ValidationError) Status() int     { return http.StatusBadRequest }
func (e *ValidationError) Retryable() bool { return false }

// NewValidationError creates a ValidationError.
func NewValidationError(field, value string, wrapped error) *ValidationError {
	return &ValidationError{Field: field, Value: value, Wrapped: wrapped}
}

// AuthError rejects a request before any store work.
type AuthError struct {
	Fingerprint string
	Wrapped     error
}

func (e *AuthError) Error() string {
	if e.Fingerprint == "" {
		return fmt.Sprintf("auth: %s", e.Wrapped)
	}
	return fmt.Sprintf("auth: %s (key=%s)", e.Wrapped, e.Fingerprint)
}

func (e *AuthError) Unwrap() error   { return e.Wrapped }
func (e *AuthError) Retryable() bool { return false }

func (e *AuthError) Code() string {
	switch {
	case errors.Is(e.Wrapped, ErrMissingCredential):
		return CodeCredentialMissing
	case errors.Is(e.Wrapped, ErrGraphForbidden):
		return CodeGraphForbidden
	default:
		return CodeCredentialInvalid
	}
}

func (e *AuthError) Status() int {
	if errors.Is(e.Wrapped, ErrGraphForbidden) {
		return http.StatusForbidden
	}
	return http.StatusUnauthorized
}

// PlanLimitError is returned when a tenant exhausted its plan.
type PlanLimitError struct {
	TenantID string
	Plan     string
	Wrapped  error
}

func (e *PlanLimitError) Error() string {
	return fmt.Sprintf("plan %s: tenant %s: %s", e.Plan, e.TenantID, e.Wrapped)
}

func (e *PlanLimitError) Unwrap() error   { return e.Wrapped }
func (e *PlanLimitError) Status() int     { return http.StatusTooManyRequests }
func (e *PlanLimitError) Retryable() bool { return errors.Is(e.Wrapped, ErrRateLimited) }

func (e *PlanLimitError) Code() string {
	if errors.Is(e.Wrapped, ErrRateLimited) {
		return CodeRateLimited
	}
	return CodePlanLimit
}

// StoreError wraps a graph store failure. Op names the failing query; the
// underlying driver error stays in Cause and is never shown to callers.
type StoreError struct {
	Op          string
	Unavailable bool
	Cause       error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store: %s: %v", e.Op, e.Cause)
}

func (e *StoreError) Unwrap() []error {
	if e.Unavailable {
		return []error{ErrStoreUnavailable, e.Cause}
	}
	return []error{ErrStoreQuery, e.Cause}
}

func (e *StoreError) Retryable() bool { return true }

func (e *StoreError) Code() string {
	if e.Unavailable {
		return CodeStoreUnavailable
	}
	return CodeStoreFailure
}

func (e *StoreError) Status() int {
	if e.Unavailable {
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// PublicMessage is the caller-facing message for err. Store failures never
// leak their cause.
func PublicMessage(err error) string {
	var se *StoreError
	if errors.As(err, &se) {
		if se.Unavailable {
			return "graph store temporarily unavailable; retry later"
		}
		return "graph store query failed; retry later"
	}
	var c Coded
	if errors.As(err, &c) {
		return c.Error()
	}
	return "internal error"
}

// Classify returns the code, HTTP status and retryability of err.
func Classify(err error) (code string, status int, retryable bool) {
	var c Coded
	if errors.As(err, &c) {
		return c.Code(), c.Status(), c.Retryable()
	}
	return CodeInternal, http.StatusInternalServerError, false
}

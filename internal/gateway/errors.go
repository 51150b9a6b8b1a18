package gateway

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/MrWong99/voxroad/internal/resilience"
)

// StatusKind classifies gateway failures so the client can decide whether to
// retry later or abandon the turn.
type StatusKind string

const (
	// StatusValidation covers missing or oversized audio/text input.
	StatusValidation StatusKind = "validation"

	// StatusBudgetExceeded means the session has used up its audio budget.
	StatusBudgetExceeded StatusKind = "budget_exceeded"

	// StatusRateLimited means the per-minute request window is exhausted.
	StatusRateLimited StatusKind = "rate_limited"

	// StatusBreakerOpen means the upstream circuit breaker is open.
	StatusBreakerOpen StatusKind = "breaker_open"

	// StatusUpstreamFailure means the upstream STT/TTS call itself failed.
	StatusUpstreamFailure StatusKind = "upstream_failure"
)

// StatusError is the typed error crossing the gateway boundary.
type StatusError struct {
	Kind StatusKind
	Msg  string
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	return fmt.Sprintf("gateway: %s: %s", e.Kind, e.Msg)
}

// HTTPStatus maps the status kind to an HTTP response code.
func (e *StatusError) HTTPStatus() int {
	switch e.Kind {
	case StatusValidation:
		return http.StatusBadRequest
	case StatusBudgetExceeded:
		return http.StatusForbidden
	case StatusRateLimited:
		return http.StatusTooManyRequests
	case StatusBreakerOpen:
		return http.StatusServiceUnavailable
	case StatusUpstreamFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// validationError builds a StatusError of kind validation.
func validationError(format string, args ...any) *StatusError {
	return &StatusError{Kind: StatusValidation, Msg: fmt.Sprintf(format, args...)}
}

// fromGuardError translates a resilience.Guard rejection into a StatusError.
// A nil input returns nil.
func fromGuardError(err error) *StatusError {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, resilience.ErrBreakerOpen):
		return &StatusError{Kind: StatusBreakerOpen, Msg: "upstream temporarily unavailable"}
	case errors.Is(err, resilience.ErrRateLimited):
		return &StatusError{Kind: StatusRateLimited, Msg: "request rate exceeded"}
	case errors.Is(err, resilience.ErrBudgetExceeded):
		return &StatusError{Kind: StatusBudgetExceeded, Msg: "session audio budget exhausted"}
	default:
		return &StatusError{Kind: StatusUpstreamFailure, Msg: err.Error()}
	}
}

package envelope

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Kind is the stable, machine-readable error code carried in every error
// body. Clients branch on Kind, never on the message.
type Kind string

const (
	KindInvalidAPIKey       Kind = "INVALID_API_KEY"
	KindTierUpgradeRequired Kind = "TIER_UPGRADE_REQUIRED"
	KindRateLimitExceeded   Kind = "RATE_LIMIT_EXCEEDED"
	KindDataNotFound        Kind = "DATA_NOT_FOUND"
	KindScenarioNotFound    Kind = "SCENARIO_NOT_FOUND"
	KindInternal            Kind = "INTERNAL_ERROR"
	KindFetch               Kind = "FETCH_ERROR"
	KindTimeout             Kind = "TIMEOUT"
)

var kindStatus = map[Kind]int{
	KindInvalidAPIKey:       http.StatusUnauthorized,
	KindTierUpgradeRequired: http.StatusForbidden,
	KindRateLimitExceeded:   http.StatusTooManyRequests,
	KindDataNotFound:        http.StatusNotFound,
	KindScenarioNotFound:    http.StatusNotFound,
	KindInternal:            http.StatusInternalServerError,
	KindFetch:               http.StatusInternalServerError,
	KindTimeout:             http.StatusGatewayTimeout,
}

// Kinds returns the full error taxonomy.
func Kinds() []Kind {
	return []Kind{
		KindInvalidAPIKey,
		KindTierUpgradeRequired,
		KindRateLimitExceeded,
		KindDataNotFound,
		KindScenarioNotFound,
		KindInternal,
		KindFetch,
		KindTimeout,
	}
}

func (k Kind) Known() bool {
	_, ok := kindStatus[k]
	return ok
}

// Status maps a kind to its HTTP status. Unknown kinds are server errors.
func (k Kind) Status() int {
	if s, ok := kindStatus[k]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// Error is a failure that already knows how it should be rendered.
type Error struct {
	Kind    Kind
	Message string
	Extra   map[string]any
	cause   error
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Newf(kind Kind, format string, args ...any) *Error {
	return New(kind, fmt.Sprintf(format, args...))
}

// Wrap attaches a cause to a new error of the given kind. The cause is kept
// for errors.Is/As but never rendered.
func Wrap(kind Kind, err error, message string) *Error {
	return &Error{Kind: kind, Message: message, cause: err}
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

func (e *Error) Status() int {
	return e.Kind.Status()
}

// With adds a field that is flattened into the error body.
func (e *Error) With(key string, value any) *Error {
	if e.Extra == nil {
		e.Extra = make(map[string]any)
	}
	e.Extra[key] = value
	return e
}

// From converts any error into an *Error. Typed errors pass through,
// deadline errors become TIMEOUT and everything else is INTERNAL_ERROR
// with the original message surfaced.
func From(err error) *Error {
	if err == nil {
		return nil
	}

	var e *Error
	if errors.As(err, &e) {
		return e
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return Wrap(KindTimeout, err, "Request timed out")
	}

	return Wrap(KindInternal, err, err.Error())
}

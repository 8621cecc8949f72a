// Package relayerr defines the error taxonomy shared by every core
// component. Retryability is a property of the error's Kind, never of a
// Go error type switch — callers branch on Kind, not on sentinel identity.
package relayerr

import (
	"errors"
	"fmt"
)

// Kind classifies an outcome per the taxonomy in the publish pipeline design.
type Kind int

const (
	// KindUnknown is never returned deliberately; seeing it means a code
	// path forgot to classify its error.
	KindUnknown Kind = iota
	// KindValidation is bad input, rejected at ingress.
	KindValidation
	// KindAuthRevoked means the account's token is no longer valid.
	KindAuthRevoked
	// KindAuthExpired means the account's token needs a refresh, not a
	// full revocation — it is retryable, so the workflow requeues the post
	// with backoff (up to MaxAttempts) rather than failing it at once.
	KindAuthExpired
	// KindRateLimited is a platform 429; feeds the circuit breaker.
	KindRateLimited
	// KindTransient is network/5xx/timeout; retried with backoff.
	KindTransient
	// KindPermanentPlatform is content rejected by policy/moderation.
	KindPermanentPlatform
	// KindBudgetDenied means a budget reservation was refused.
	KindBudgetDenied
	// KindIntegrity is a signature mismatch or duplicate event id.
	KindIntegrity
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthRevoked:
		return "auth_revoked"
	case KindAuthExpired:
		return "auth_expired"
	case KindRateLimited:
		return "rate_limited"
	case KindTransient:
		return "transient"
	case KindPermanentPlatform:
		return "permanent_platform"
	case KindBudgetDenied:
		return "budget_denied"
	case KindIntegrity:
		return "integrity_violation"
	default:
		return "unknown"
	}
}

// Retryable reports whether the workflow engine should requeue the post
// with backoff rather than moving it to a terminal failed state.
func (k Kind) Retryable() bool {
	switch k {
	case KindRateLimited, KindTransient, KindAuthExpired:
		return true
	default:
		return false
	}
}

// Error is the error type every core component returns for domain-level
// failures. Programmer errors (nil pointer, index out of range) are left
// as ordinary panics — Error is only for expected, classified outcomes.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// As reports whether err is (or wraps) a *Error and, if so, returns it.
func As(err error) (*Error, bool) {
	var target *Error
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

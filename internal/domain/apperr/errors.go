// Package apperr defines the typed errors returned by the approval core.
//
// Every error carries a Kind that callers branch on with errors.Is against
// the exported sentinels, and a human-readable reason.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an application error.
type Kind string

const (
	KindNoTierConfigured      Kind = "NO_TIER_CONFIGURED"
	KindBudgetExceeded        Kind = "BUDGET_EXCEEDED"
	KindPreApprovalRequired   Kind = "PRE_APPROVAL_REQUIRED"
	KindInvalidState          Kind = "INVALID_STATE"
	KindUnauthorizedApprover  Kind = "UNAUTHORIZED_APPROVER"
	KindAlreadyUsed           Kind = "ALREADY_USED"
	KindValidation            Kind = "VALIDATION"
	KindNotFound              Kind = "NOT_FOUND"
	KindCategoryLimitExceeded Kind = "CATEGORY_LIMIT_EXCEEDED"
	KindStaleState            Kind = "STALE_STATE"
	KindCollaboratorFailure   Kind = "COLLABORATOR_FAILURE"
)

// Sentinels for errors.Is. An *Error matches the sentinel of its kind.
var (
	ErrNoTierConfigured      = &Error{Kind: KindNoTierConfigured}
	ErrBudgetExceeded        = &Error{Kind: KindBudgetExceeded}
	ErrPreApprovalRequired   = &Error{Kind: KindPreApprovalRequired}
	ErrInvalidState          = &Error{Kind: KindInvalidState}
	ErrUnauthorizedApprover  = &Error{Kind: KindUnauthorizedApprover}
	ErrAlreadyUsed           = &Error{Kind: KindAlreadyUsed}
	ErrValidation            = &Error{Kind: KindValidation}
	ErrNotFound              = &Error{Kind: KindNotFound}
	ErrCategoryLimitExceeded = &Error{Kind: KindCategoryLimitExceeded}
	ErrStaleState            = &Error{Kind: KindStaleState}
	ErrCollaboratorFailure   = &Error{Kind: KindCollaboratorFailure}
)

// Error is a classified application error.
type Error struct {
	Kind   Kind
	Reason string
	Err    error
}

func (e *Error) Error() string {
	switch {
	case e.Reason == "" && e.Err == nil:
		return string(e.Kind)
	case e.Err == nil:
		return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
	case e.Reason == "":
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Reason, e.Err)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so errors.Is(err, ErrStaleState)
// holds for every stale-state error regardless of reason.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// New returns an error of the given kind.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

// Wrap returns an error of the given kind wrapping cause.
func Wrap(kind Kind, cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Reason: fmt.Sprintf(format, args...), Err: cause}
}

// KindOf returns the kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return ""
}

func NoTierConfigured(format string, args ...interface{}) *Error {
	return New(KindNoTierConfigured, format, args...)
}

func BudgetExceeded(format string, args ...interface{}) *Error {
	return New(KindBudgetExceeded, format, args...)
}

func PreApprovalRequired(format string, args ...interface{}) *Error {
	return New(KindPreApprovalRequired, format, args...)
}

func InvalidState(format string, args ...interface{}) *Error {
	return New(KindInvalidState, format, args...)
}

func Unauthorized(format string, args ...interface{}) *Error {
	return New(KindUnauthorizedApprover, format, args...)
}

func AlreadyUsed(format string, args ...interface{}) *Error {
	return New(KindAlreadyUsed, format, args...)
}

func Validation(format string, args ...interface{}) *Error {
	return New(KindValidation, format, args...)
}

func NotFound(format string, args ...interface{}) *Error {
	return New(KindNotFound, format, args...)
}

func CategoryLimitExceeded(format string, args ...interface{}) *Error {
	return New(KindCategoryLimitExceeded, format, args...)
}

func StaleState(format string, args ...interface{}) *Error {
	return New(KindStaleState, format, args...)
}

// Collaborator wraps a failure of an external collaborator (ledger, audit
// sink, directory). Callers may retry.
func Collaborator(name string, cause error) *Error {
	return Wrap(KindCollaboratorFailure, cause, "%s unavailable", name)
}

// Package xmpp defines the protocol-facing types the crawler operates
// on: service discovery results, data forms, result set paging, rooms
// and pub/sub nodes. The actual wire session is injected behind the
// Client interface so that components can be tested against fakes.
package xmpp

import (
	"errors"
	"fmt"
)

// Condition is a protocol-level error condition reported by a remote
// entity in response to a query.
type Condition string

const (
	ConditionBadRequest            Condition = "bad-request"
	ConditionConflict              Condition = "conflict"
	ConditionFeatureNotImplemented Condition = "feature-not-implemented"
	ConditionForbidden             Condition = "forbidden"
	ConditionGone                  Condition = "gone"
	ConditionInternalServerError   Condition = "internal-server-error"
	ConditionItemNotFound          Condition = "item-not-found"
	ConditionNotAcceptable         Condition = "not-acceptable"
	ConditionNotAllowed            Condition = "not-allowed"
	ConditionNotAuthorized         Condition = "not-authorized"
	ConditionPolicyViolation       Condition = "policy-violation"
	ConditionRegistrationRequired  Condition = "registration-required"
	ConditionRemoteServerNotFound  Condition = "remote-server-not-found"
	ConditionRemoteServerTimeout   Condition = "remote-server-timeout"
	ConditionResourceConstraint    Condition = "resource-constraint"
	ConditionServiceUnavailable    Condition = "service-unavailable"
)

// ErrorType is the coarse handling class of a stanza error.
type ErrorType string

const (
	ErrorTypeAuth     ErrorType = "auth"
	ErrorTypeCancel   ErrorType = "cancel"
	ErrorTypeModify   ErrorType = "modify"
	ErrorTypeWait     ErrorType = "wait"
	ErrorTypeContinue ErrorType = "continue"
)

// Error is a stanza error received from a remote entity.
type Error struct {
	Type      ErrorType
	Condition Condition
	Text      string
}

func (e *Error) Error() string {
	if e.Text != "" {
		return fmt.Sprintf("%s (%s): %s", e.Condition, e.Type, e.Text)
	}
	return fmt.Sprintf("%s (%s)", e.Condition, e.Type)
}

// NewError builds a stanza error with the canonical type for the
// condition.
func NewError(condition Condition, text string) *Error {
	return &Error{Type: typeForCondition(condition), Condition: condition, Text: text}
}

func typeForCondition(condition Condition) ErrorType {
	switch condition {
	case ConditionBadRequest, ConditionPolicyViolation, ConditionNotAcceptable:
		return ErrorTypeModify
	case ConditionForbidden, ConditionNotAuthorized, ConditionRegistrationRequired:
		return ErrorTypeAuth
	case ConditionInternalServerError, ConditionRemoteServerTimeout, ConditionResourceConstraint:
		return ErrorTypeWait
	default:
		return ErrorTypeCancel
	}
}

// ConditionOf extracts the stanza error condition from err, if it
// carries one.
func ConditionOf(err error) (Condition, bool) {
	var stanzaErr *Error
	if errors.As(err, &stanzaErr) {
		return stanzaErr.Condition, true
	}
	return "", false
}

// IsAddressGone reports whether the error indicates that the queried
// address no longer exists, as opposed to being temporarily
// unreachable.
func IsAddressGone(err error) bool {
	condition, ok := ConditionOf(err)
	return ok && (condition == ConditionItemNotFound || condition == ConditionGone)
}

// IsAccessDenied reports whether the error indicates the queried entity
// rejected us outright.
func IsAccessDenied(err error) bool {
	condition, ok := ConditionOf(err)
	if !ok {
		return false
	}
	switch condition {
	case ConditionForbidden, ConditionNotAuthorized, ConditionNotAllowed, ConditionNotAcceptable:
		return true
	}
	return false
}

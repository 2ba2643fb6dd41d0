// Package apperr defines the recoverable error taxonomy carried by results.
//
// These errors describe expected outcomes (bad input, missing rows, version
// conflicts, business rule breaches). Infrastructure failures are not modelled
// here; they travel as ordinary wrapped Go errors.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an Error for callers and the transport boundary.
type Kind string

const (
	KindValidation           Kind = "validation"
	KindNotFound             Kind = "not_found"
	KindConflict             Kind = "conflict"
	KindUnauthorized         Kind = "unauthorized"
	KindForbidden            Kind = "forbidden"
	KindDomainRuleViolation  Kind = "domain_rule_violation"
	KindInsufficientResource Kind = "insufficient_resource"
)

// Error is a typed, recoverable failure.
type Error struct {
	Kind    Kind
	Code    string
	Message string

	// NotFound payload
	Entity string
	ID     string

	// DomainRuleViolation payload
	Rule string

	// InsufficientResource payload
	ResourceID string
	Requested  int64
	Available  int64
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindNotFound:
		return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
	case KindInsufficientResource:
		return fmt.Sprintf("insufficient %s: requested %d, available %d", e.ResourceID, e.Requested, e.Available)
	}
	if e.Code != "" {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Is matches another *Error of the same kind (and code when the target sets one),
// so errors.Is(err, &apperr.Error{Kind: apperr.KindConflict}) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Code == "" || t.Code == e.Code
}

func NotFound(entity, id string) *Error {
	return &Error{Kind: KindNotFound, Code: "not_found", Entity: entity, ID: id}
}

func Validation(code, message string) *Error {
	return &Error{Kind: KindValidation, Code: code, Message: message}
}

func Conflict(code, message string) *Error {
	return &Error{Kind: KindConflict, Code: code, Message: message}
}

func Unauthorized() *Error {
	return &Error{Kind: KindUnauthorized, Code: "unauthorized", Message: "authentication required"}
}

func Forbidden(message string) *Error {
	return &Error{Kind: KindForbidden, Code: "forbidden", Message: message}
}

func DomainRuleViolation(rule, message string) *Error {
	return &Error{Kind: KindDomainRuleViolation, Code: rule, Rule: rule, Message: message}
}

func InsufficientResource(resourceID string, requested, available int64) *Error {
	return &Error{
		Kind:       KindInsufficientResource,
		Code:       "insufficient_resource",
		ResourceID: resourceID,
		Requested:  requested,
		Available:  available,
	}
}

// As extracts an *Error from err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// HasKind reports whether err's chain contains an *Error of kind k.
func HasKind(err error, k Kind) bool {
	e, ok := As(err)
	return ok && e.Kind == k
}

// HTTPStatus maps err to a transport status. Anything that is not an *Error
// is an unexpected failure and maps to 500.
func HTTPStatus(err error) int {
	e, ok := As(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindDomainRuleViolation, KindInsufficientResource:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// Package result carries the outcome of a command or query.
//
// A success never carries an error and a failure never carries a value.
// Reading the value of a failed Value is a programming error and panics.
package result

import (
	"github.com/wolfeidau/stockroom/internal/apperr"
)

// Failable is an Outcome that can build a failure of its own type. It lets
// generic stages short-circuit without knowing the concrete outcome.
type Failable[O any] interface {
	Outcome
	FailWith(err *apperr.Error) O
}

// Outcome is satisfied by Result and every Value[T].
type Outcome interface {
	IsSuccess() bool
	Err() *apperr.Error
}

// Result is the outcome of a command that returns no value.
type Result struct {
	err *apperr.Error
}

func Success() Result {
	return Result{}
}

// Failure panics when err is nil: a failure must say why it failed.
func Failure(err *apperr.Error) Result {
	if err == nil {
		panic("result: failure without error")
	}
	return Result{err: err}
}

func (r Result) IsSuccess() bool { return r.err == nil }

func (r Result) IsFailure() bool { return r.err != nil }

func (r Result) Err() *apperr.Error { return r.err }

func (Result) FailWith(err *apperr.Error) Result { return Failure(err) }

// FromError turns a recoverable *apperr.Error into a failed Result. Any other
// non-nil error is returned unchanged as an infrastructure failure.
func FromError(err error) (Result, error) {
	if err == nil {
		return Success(), nil
	}
	if ae, ok := apperr.As(err); ok {
		return Failure(ae), nil
	}
	return Result{}, err
}

// Value is the outcome of a command or query that returns a T.
type Value[T any] struct {
	value T
	err   *apperr.Error
}

func Ok[T any](v T) Value[T] {
	return Value[T]{value: v}
}

// Fail panics when err is nil.
func Fail[T any](err *apperr.Error) Value[T] {
	if err == nil {
		panic("result: failure without error")
	}
	return Value[T]{err: err}
}

func (r Value[T]) IsSuccess() bool { return r.err == nil }

func (r Value[T]) IsFailure() bool { return r.err != nil }

func (r Value[T]) Err() *apperr.Error { return r.err }

func (Value[T]) FailWith(err *apperr.Error) Value[T] { return Fail[T](err) }

// ValueFromError is FromError for outcomes carrying a T. A nil err has no
// value to succeed with, so it panics like Fail.
func ValueFromError[T any](err error) (Value[T], error) {
	if err == nil {
		panic("result: value outcome from a nil error")
	}
	if ae, ok := apperr.As(err); ok {
		return Fail[T](ae), nil
	}
	return Value[T]{}, err
}

// Value returns the success value and panics on a failure.
func (r Value[T]) Value() T {
	if r.err != nil {
		panic("result: value accessed on failure: " + r.err.Error())
	}
	return r.value
}

// Result drops the value, keeping success or failure.
func (r Value[T]) Result() Result {
	return Result{err: r.err}
}

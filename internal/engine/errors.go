package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
)

// StoreError represents a failure detected while a store runs.
//
// Store errors include:
//   - Closed store: an intent or side job was submitted after Close
//   - Handler failure: an intent handler returned an error
//   - Handler panic: an intent handler, side job or bootstrapper panicked
//   - Bootstrap failure: the bootstrapper returned an error
//   - Debug check: a misuse caught with debug checks enabled
//
// Cancellation is never wrapped in a StoreError. Handlers that return
// context.Canceled are reported as cancelled, not failed.
type StoreError struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Store is the name of the store that produced the error.
	Store string

	// Intent is the name of the intent (or side job key) being processed.
	Intent string

	// Err is the underlying cause, if any.
	Err error
}

// ErrorCode categorizes store errors.
type ErrorCode string

const (
	// ErrCodeStoreClosed indicates the store no longer accepts work.
	ErrCodeStoreClosed ErrorCode = "STORE_CLOSED"

	// ErrCodeHandlerFailed indicates an intent handler returned an error.
	ErrCodeHandlerFailed ErrorCode = "HANDLER_FAILED"

	// ErrCodeHandlerPanic indicates a handler panicked.
	ErrCodeHandlerPanic ErrorCode = "HANDLER_PANIC"

	// ErrCodeSideJobFailed indicates a side job returned an error.
	ErrCodeSideJobFailed ErrorCode = "SIDE_JOB_FAILED"

	// ErrCodeBootstrapFailed indicates the bootstrapper returned an error.
	ErrCodeBootstrapFailed ErrorCode = "BOOTSTRAP_FAILED"

	// ErrCodeDebugCheck indicates a debug check caught a misuse.
	ErrCodeDebugCheck ErrorCode = "DEBUG_CHECK"

	// ErrCodeSuperseded indicates a pending intent was replaced before it ran.
	ErrCodeSuperseded ErrorCode = "SUPERSEDED"
)

// Sentinels for errors.Is. A sentinel matches any StoreError with the same code.
var (
	ErrStoreClosed = &StoreError{Code: ErrCodeStoreClosed, Message: "store closed"}
	ErrSuperseded  = &StoreError{Code: ErrCodeSuperseded, Message: "intent superseded"}
)

// Error implements the error interface.
func (e *StoreError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	switch {
	case e.Store != "" && e.Intent != "":
		msg = fmt.Sprintf("%s (store=%s, intent=%s)", msg, e.Store, e.Intent)
	case e.Store != "":
		msg = fmt.Sprintf("%s (store=%s)", msg, e.Store)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *StoreError) Unwrap() error {
	return e.Err
}

// Is reports whether target is a StoreError with the same code.
func (e *StoreError) Is(target error) bool {
	var t *StoreError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// IsClosedError returns true if the error reports a closed store.
// Uses errors.As to handle wrapped errors.
func IsClosedError(err error) bool {
	return hasCode(err, ErrCodeStoreClosed)
}

// IsPanicError returns true if the error wraps a recovered panic.
func IsPanicError(err error) bool {
	return hasCode(err, ErrCodeHandlerPanic)
}

// IsDebugCheckError returns true if the error was raised by a debug check.
func IsDebugCheckError(err error) bool {
	return hasCode(err, ErrCodeDebugCheck)
}

// IsCancellation returns true if err is a context cancellation.
// Cancellation always propagates and is never routed to the exception handler.
func IsCancellation(err error) bool {
	return errors.Is(err, context.Canceled)
}

func hasCode(err error, code ErrorCode) bool {
	var se *StoreError
	if errors.As(err, &se) {
		return se.Code == code
	}
	return false
}

func newClosedError(store, intent string) *StoreError {
	return &StoreError{
		Code:    ErrCodeStoreClosed,
		Message: "store closed",
		Store:   store,
		Intent:  intent,
	}
}

func newHandlerError(store, intent string, err error) *StoreError {
	return &StoreError{
		Code:    ErrCodeHandlerFailed,
		Message: "intent handler failed",
		Store:   store,
		Intent:  intent,
		Err:     err,
	}
}

func newDebugError(store, intent, message string) *StoreError {
	return &StoreError{
		Code:    ErrCodeDebugCheck,
		Message: message,
		Store:   store,
		Intent:  intent,
	}
}

// recoverInto runs fn, converting a panic into a HANDLER_PANIC error.
func recoverInto(store, intent string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &StoreError{
				Code:    ErrCodeHandlerPanic,
				Message: "handler panicked",
				Store:   store,
				Intent:  intent,
				Err:     fmt.Errorf("panic: %v\n%s", r, debug.Stack()),
			}
		}
	}()
	return fn()
}

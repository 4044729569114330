package fedicrawl

import "fmt"

// ErrorCode enumerates the kinds of error this module's components raise.
type ErrorCode int

const (
	// Unknown is an unclassified error.
	Unknown ErrorCode = iota
	// BusyStore indicates the registry was locked by another writer; retry.
	BusyStore
	// StoreFatal indicates a non-retryable registry failure (schema/I-O).
	StoreFatal
	// TimeOverflow indicates a scheduler timestamp computation overflowed.
	TimeOverflow
	// ProtocolViolation indicates a checker subprocess emitted an illegal event sequence.
	ProtocolViolation
	// BadDomain indicates a candidate hostname failed validation.
	BadDomain
	// ChildSpawnFailed indicates the checker subprocess could not be started.
	ChildSpawnFailed
)

// Error is this module's error type: a code, the wrapped cause, and optional context data.
type Error struct {
	Code     ErrorCode
	Err      error
	UserData any
}

// Error implements the error interface.
func (e Error) Error() string {
	return fmt.Errorf("error code: %d, user data: %v, details: %w", e.Code, e.UserData, e.Err).Error()
}

// Unwrap lets errors.Is/errors.As see through to the wrapped cause.
func (e Error) Unwrap() error {
	return e.Err
}

// NewError builds an Error with no extra user data.
func NewError(code ErrorCode, err error) Error {
	return Error{Code: code, Err: err}
}

// NewErrorWithData builds an Error carrying additional context, e.g. the hostname involved.
func NewErrorWithData(code ErrorCode, err error, userData any) Error {
	return Error{Code: code, Err: err, UserData: userData}
}

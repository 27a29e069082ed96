// Package errcode is the error taxonomy of the ledger. Every rejection
// carries a stable string code, a stable number, and a human message.
package errcode

import (
	"errors"
	"fmt"
)

// Code is the machine-checkable name of a rejection.
type Code string

const (
	UnauthorizedAgent    Code = "UnauthorizedAgent"
	UnauthorizedOwner    Code = "UnauthorizedOwner"
	PositionPaused       Code = "PositionPaused"
	PositionClosed       Code = "PositionClosed"
	PositionNotPaused    Code = "PositionNotPaused"
	MaxPositionsExceeded Code = "MaxPositionsExceeded"
	InvalidHealthFactor  Code = "InvalidHealthFactor"
	InvalidThresholds    Code = "InvalidThresholds"
	HealthFactorHealthy  Code = "HealthFactorHealthy"
	RebalanceCooldown    Code = "RebalanceCooldown"
	InvalidProtocol      Code = "InvalidProtocol"

	NotFound           Code = "NotFound"
	AlreadyExists      Code = "AlreadyExists"
	ArithmeticOverflow Code = "ArithmeticOverflow"
	InvalidArgument    Code = "InvalidArgument"
	Unauthenticated    Code = "Unauthenticated"

	Internal Code = "Internal"
)

// Class groups codes by the kind of rejection.
type Class uint8

const (
	ClassInternal Class = iota
	ClassAuthorization
	ClassState
	ClassValidation
	ClassPolicy
	ClassStorage
)

// Error is a terminal rejection of an operation.
type Error struct {
	Code    Code
	Number  int
	Class   Class
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Code, e.Number, e.Message)
}

// Is matches any *Error with the same code, so a re-messaged error still
// satisfies errors.Is against its sentinel.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// Withf returns a copy of e with a more specific message.
func (e *Error) Withf(format string, args ...any) *Error {
	cp := *e
	cp.Message = fmt.Sprintf(format, args...)
	return &cp
}

var (
	ErrUnauthorizedAgent    = &Error{UnauthorizedAgent, 6000, ClassAuthorization, "Unauthorized: only the agent authority can perform this action"}
	ErrUnauthorizedOwner    = &Error{UnauthorizedOwner, 6001, ClassAuthorization, "Unauthorized: only the position owner can perform this action"}
	ErrPositionPaused       = &Error{PositionPaused, 6002, ClassState, "Position is currently paused"}
	ErrPositionClosed       = &Error{PositionClosed, 6003, ClassState, "Position is already closed"}
	ErrPositionNotPaused    = &Error{PositionNotPaused, 6004, ClassState, "Position is not paused"}
	ErrMaxPositionsExceeded = &Error{MaxPositionsExceeded, 6005, ClassPolicy, "Maximum positions per user exceeded"}
	ErrInvalidHealthFactor  = &Error{InvalidHealthFactor, 6006, ClassValidation, "Invalid health factor: must be greater than 0"}
	ErrInvalidThresholds    = &Error{InvalidThresholds, 6007, ClassValidation, "Invalid threshold: warn must be greater than critical"}
	ErrHealthFactorHealthy  = &Error{HealthFactorHealthy, 6008, ClassPolicy, "Health factor is healthy, no rebalance needed"}
	ErrRebalanceCooldown    = &Error{RebalanceCooldown, 6009, ClassPolicy, "Rebalance cooldown not elapsed"}
	ErrInvalidProtocol      = &Error{InvalidProtocol, 6010, ClassValidation, "Invalid protocol specified"}

	ErrNotFound           = &Error{NotFound, 6100, ClassStorage, "Record not found"}
	ErrAlreadyExists      = &Error{AlreadyExists, 6101, ClassStorage, "Record already exists at the derived address"}
	ErrArithmeticOverflow = &Error{ArithmeticOverflow, 6102, ClassInternal, "Counter arithmetic overflow"}
	ErrInvalidArgument    = &Error{InvalidArgument, 6103, ClassValidation, "Invalid argument"}
	ErrUnauthenticated    = &Error{Unauthenticated, 6104, ClassAuthorization, "Request signature missing or invalid"}
)

// CodeOf returns the code carried by err, or Internal for foreign errors.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return Internal
}

// As extracts the *Error carried by err.
func As(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}

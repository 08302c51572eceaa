// Unified error handling for the motor dyno service
//
// Copyright (C) 2026  Motor-Dyno Project
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents the category of error
type ErrorCode string

const (
	// Configuration errors: bad settings or unknown motor presets. These
	// fail at construction; a component carrying one never starts.
	ErrConfig      ErrorCode = "CONFIG"
	ErrConfigMotor ErrorCode = "CONFIG_MOTOR"

	// Validation errors: control commands outside physical ranges. The
	// prior loop state is left untouched.
	ErrValidation ErrorCode = "VALIDATION"

	// Transport errors: publish or delivery failures to a subscriber.
	// These never terminate a session.
	ErrTransport ErrorCode = "TRANSPORT"

	// Simulation errors: unexpected failures inside a tick. These end the
	// owning session only.
	ErrSimulation     ErrorCode = "SIMULATION"
	ErrSimulationInit ErrorCode = "SIMULATION_INIT"

	// Protocol errors: undecodable wire messages.
	ErrProtocol ErrorCode = "PROTOCOL"

	// Session errors: registry limits and lookups.
	ErrSessionLimit    ErrorCode = "SESSION_LIMIT"
	ErrSessionNotFound ErrorCode = "SESSION_NOT_FOUND"
)

// DynoError is the unified error type for the service
type DynoError struct {
	// Code is the error category
	Code ErrorCode

	// Message is a human-readable error description
	Message string

	// SessionID names the owning session when applicable
	SessionID string

	// Err wraps the underlying error
	Err error

	// Context provides additional context
	Context map[string]interface{}
}

// Error implements the error interface
func (e *DynoError) Error() string {
	if e.SessionID != "" {
		return fmt.Sprintf("[%s:%s] %s", e.Code, e.SessionID, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *DynoError) Unwrap() error {
	return e.Err
}

// SetSession attaches the owning session ID
func (e *DynoError) SetSession(sessionID string) *DynoError {
	e.SessionID = sessionID
	return e
}

// SetContext adds additional context
func (e *DynoError) SetContext(key string, value interface{}) *DynoError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// New creates a new DynoError
func New(code ErrorCode, message string) *DynoError {
	return &DynoError{
		Code:    code,
		Message: message,
	}
}

// Newf creates a new DynoError with a formatted message
func Newf(code ErrorCode, format string, args ...interface{}) *DynoError {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap wraps an existing error with a category and message
func Wrap(err error, code ErrorCode, message string) *DynoError {
	return &DynoError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// CodeOf returns the category of an error, or "" when it carries none.
func CodeOf(err error) ErrorCode {
	var de *DynoError
	if stderrors.As(err, &de) {
		return de.Code
	}
	return ""
}

// IsValidation reports whether err is a validation error
func IsValidation(err error) bool {
	return CodeOf(err) == ErrValidation
}

// IsConfig reports whether err is a configuration error
func IsConfig(err error) bool {
	c := CodeOf(err)
	return c == ErrConfig || c == ErrConfigMotor
}

// IsNotFound reports whether err is a session lookup failure
func IsNotFound(err error) bool {
	return CodeOf(err) == ErrSessionNotFound
}

// Validation creates a validation error for an out-of-range field
func Validation(field string, reason string) *DynoError {
	return New(ErrValidation, fmt.Sprintf("%s: %s", field, reason)).
		SetContext("field", field)
}

// UnknownMotor creates a configuration error for an unknown motor preset
func UnknownMotor(motorID string) *DynoError {
	return Newf(ErrConfigMotor, "unknown motor id %q", motorID).
		SetContext("motor_id", motorID)
}

// SessionLimit creates an error for the concurrent session ceiling
func SessionLimit(max int) *DynoError {
	return Newf(ErrSessionLimit, "maximum concurrent sessions (%d) exceeded", max)
}

// SessionNotFound creates an error for a missing session
func SessionNotFound(sessionID string) *DynoError {
	return Newf(ErrSessionNotFound, "session %q not found", sessionID).
		SetSession(sessionID)
}

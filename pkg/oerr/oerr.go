// Package oerr defines the wire-visible error taxonomy of the orchestration
// engine. Every error that crosses a public boundary carries one of these
// codes so callers can switch on failure class without string matching.
package oerr

import (
	"errors"
	"fmt"
)

// Code classifies an orchestration failure.
type Code string

const (
	CodeDuplicateID            Code = "DuplicateId"
	CodeInvalidDefinition      Code = "InvalidDefinition"
	CodeNotFound               Code = "NotFound"
	CodeSchemaValidationFailed Code = "SchemaValidationFailed"
	CodeMigrationFailed        Code = "MigrationFailed"
	CodeCompressionFailed      Code = "CompressionFailed"
	CodeDecompressionFailed    Code = "DecompressionFailed"
	CodeCheckpointPutFailed    Code = "CheckpointPutFailed"
	CodeCheckpointReadFailed   Code = "CheckpointReadFailed"
	CodePlanInvalid            Code = "PlanInvalid"
	CodeStageTimeout           Code = "StageTimeout"
	CodeStageFailed            Code = "StageFailed"
	CodeRateLimited            Code = "RateLimited"
	CodeCancelled              Code = "Cancelled"
	CodeToolFailed             Code = "ToolFailed"
)

// Error is a coded orchestration error with the component and action that
// produced it.
type Error struct {
	Code      Code
	Component string
	Action    string
	Message   string
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s:%s] %s: %s: %v", e.Component, e.Action, e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s:%s] %s: %s", e.Component, e.Action, e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a coded error.
func New(code Code, component, action, message string) *Error {
	return &Error{Code: code, Component: component, Action: action, Message: message}
}

// Wrap creates a coded error wrapping an underlying cause.
func Wrap(code Code, component, action, message string, err error) *Error {
	return &Error{Code: code, Component: component, Action: action, Message: message, Err: err}
}

// CodeOf extracts the error code, or empty string for uncoded errors.
func CodeOf(err error) Code {
	var oe *Error
	if errors.As(err, &oe) {
		return oe.Code
	}
	return ""
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	return CodeOf(err) == code
}

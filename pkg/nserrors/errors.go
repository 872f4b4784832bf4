// pkg/nserrors/errors.go
package nserrors

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors returned by operator-facing capture calls.
var (
	ErrAlreadyRunning    = errors.New("capture is already running")
	ErrNotRunning        = errors.New("no capture is running")
	ErrInterfaceRequired = errors.New("no capture interface available")
)

// Severity mirrors the severity levels used across the pipeline.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// PipelineError represents a structured error from a pipeline component.
// Recoverable errors are retried or degraded; unrecoverable ones surface
// to the caller.
type PipelineError struct {
	Component   string                 `json:"component"`
	ErrorType   string                 `json:"error_type"`
	Message     string                 `json:"message"`
	Details     map[string]interface{} `json:"details,omitempty"`
	Timestamp   time.Time              `json:"timestamp"`
	Severity    Severity               `json:"severity"`
	Recoverable bool                   `json:"recoverable"`
	Cause       error                  `json:"-"`
}

// Error implements the error interface
func (pe *PipelineError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", pe.Component, pe.ErrorType, pe.Message)
}

// Unwrap returns the underlying cause
func (pe *PipelineError) Unwrap() error {
	return pe.Cause
}

// NewCaptureError reports a capture subprocess failure.
func NewCaptureError(message string, cause error) *PipelineError {
	return &PipelineError{
		Component:   "capture",
		ErrorType:   "subprocess",
		Message:     message,
		Timestamp:   time.Now(),
		Severity:    SeverityHigh,
		Recoverable: true,
		Cause:       cause,
	}
}

// NewStorageError reports a transient storage write failure.
func NewStorageError(message string, cause error, details map[string]interface{}) *PipelineError {
	return &PipelineError{
		Component:   "storage",
		ErrorType:   "write",
		Message:     message,
		Details:     details,
		Timestamp:   time.Now(),
		Severity:    SeverityMedium,
		Recoverable: true,
		Cause:       cause,
	}
}

// NewInputError reports a malformed frame or packet that was discarded.
func NewInputError(component, message string) *PipelineError {
	return &PipelineError{
		Component:   component,
		ErrorType:   "input",
		Message:     message,
		Timestamp:   time.Now(),
		Severity:    SeverityLow,
		Recoverable: true,
	}
}

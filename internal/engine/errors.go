package engine

import "fmt"

// Error types for the categories of failures a run can hit.
const (
	ErrInputRead     = "INPUT_READ_ERROR"
	ErrParseFailed   = "PARSE_ERROR"
	ErrOutputWrite   = "OUTPUT_WRITE_ERROR"
	ErrReportWrite   = "REPORT_WRITE_ERROR"
	ErrConfigLoad    = "CONFIG_LOAD_ERROR"
	ErrConfigInvalid = "CONFIG_VALIDATION_ERROR"
)

// RunError is a structured error with a type code and optional context.
type RunError struct {
	Type    string
	Message string
	Cause   error
	Context map[string]interface{}
}

func (e *RunError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *RunError) Unwrap() error {
	return e.Cause
}

// NewError creates a new RunError.
func NewError(errorType, message string) *RunError {
	return &RunError{
		Type:    errorType,
		Message: message,
		Context: make(map[string]interface{}),
	}
}

// WrapError creates a new RunError wrapping an existing error.
func WrapError(errorType, message string, cause error) *RunError {
	return &RunError{
		Type:    errorType,
		Message: message,
		Cause:   cause,
		Context: make(map[string]interface{}),
	}
}

// WithContext adds context information to the error.
func (e *RunError) WithContext(key string, value interface{}) *RunError {
	e.Context[key] = value
	return e
}

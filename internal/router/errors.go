package router

import "fmt"

// ValidationError covers request-validation 422s: bounds violations,
// empty inputs, incompatible flag combinations, and grammars that fail
// to compile. Chat-template failures are reported as TemplateError.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// NewValidationError is a convenience constructor mirroring the original
// router's fmt.Sprintf-built ValidationError variants.
func NewValidationError(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// TemplateError wraps a failure rendering the chat template (422).
type TemplateError struct {
	Message string
}

func (e *TemplateError) Error() string { return e.Message }

// OverloadedError is returned when the admission semaphore is exhausted (429).
type OverloadedError struct{}

func (e *OverloadedError) Error() string { return "model is overloaded" }

// GenerationError wraps a shard-reported failure during prefill/decode (424).
type GenerationError struct {
	Kind    string
	Message string
}

func (e *GenerationError) Error() string { return e.Message }

// IncompleteGenerationError is raised when a stream closed without ever
// sending a terminal StreamEnd item — an unreachable-in-theory scheduler
// bug, surfaced as a 500 rather than panicking the process.
type IncompleteGenerationError struct{}

func (e *IncompleteGenerationError) Error() string { return "incomplete generation" }

// ErrorType returns the stable `error_type` string the HTTP layer embeds
// in ErrorResponse.
func ErrorType(err error) string {
	switch err.(type) {
	case *ValidationError:
		return "validation"
	case *TemplateError:
		return "template_error"
	case *OverloadedError:
		return "overloaded"
	case *GenerationError:
		return "generation"
	case *IncompleteGenerationError:
		return "incomplete_generation"
	default:
		return "unknown"
	}
}

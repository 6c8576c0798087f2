package store

import (
	"errors"
	"fmt"
)

// Standard store error types shared by all implementations.
var (
	// ErrTemplateNotFound indicates no template is registered under the given id.
	ErrTemplateNotFound = errors.New("template not found")

	// ErrInvalidTemplate indicates a template failed registration validation:
	// missing fields, a dangling dependency reference, or a dependency cycle.
	ErrInvalidTemplate = errors.New("invalid template")

	// ErrWorkflowNotFound indicates no workflow instance exists for the given id.
	ErrWorkflowNotFound = errors.New("workflow not found")
)

// TemplateError wraps template catalog errors with operation context.
type TemplateError struct {
	Op         string // Operation being performed (e.g. "Register", "Lookup")
	TemplateID string
	Err        error
}

func (e *TemplateError) Error() string {
	return fmt.Sprintf("%s operation failed for template %s: %v", e.Op, e.TemplateID, e.Err)
}

func (e *TemplateError) Unwrap() error {
	return e.Err
}

func (e *TemplateError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewTemplateError creates a new template error with context.
func NewTemplateError(op, templateID string, err error) *TemplateError {
	return &TemplateError{
		Op:         op,
		TemplateID: templateID,
		Err:        err,
	}
}

// IsTemplateNotFound checks if an error indicates a missing template.
func IsTemplateNotFound(err error) bool {
	return errors.Is(err, ErrTemplateNotFound)
}

// IsInvalidTemplate checks if an error indicates a template that failed validation.
func IsInvalidTemplate(err error) bool {
	return errors.Is(err, ErrInvalidTemplate)
}

// IsWorkflowNotFound checks if an error indicates a missing workflow instance.
func IsWorkflowNotFound(err error) bool {
	return errors.Is(err, ErrWorkflowNotFound)
}

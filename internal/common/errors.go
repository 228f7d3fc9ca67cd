package common

import (
	"errors"
	"strings"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrValidation       = errors.New("validation failed")
	ErrGateNotSatisfied = errors.New("required uploads missing")
	ErrStorage          = errors.New("storage failure")
	ErrIdentity         = errors.New("identity rejected the operation")
	ErrDelivery         = errors.New("email delivery failed")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrAlreadyExists    = errors.New("already exists")
	ErrInternal         = errors.New("internal error")
)

// ValidationCode identifies which input rule was violated.
type ValidationCode string

const (
	CodeUnsupportedImageType    ValidationCode = "unsupported_image_type"
	CodeUnsupportedDocumentType ValidationCode = "unsupported_document_type"
	CodeMissingFile             ValidationCode = "missing_file"
	CodeInvalidFileName         ValidationCode = "invalid_file_name"
	CodeInvalidField            ValidationCode = "invalid_field"
	CodePasswordPolicy          ValidationCode = "password_policy"
	CodeIdentity                ValidationCode = "identity"
)

// ValidationError carries user facing messages. It matches ErrValidation.
type ValidationError struct {
	Code     ValidationCode
	Messages []string
	Err      error
}

func NewValidationError(code ValidationCode, messages ...string) *ValidationError {
	return &ValidationError{Code: code, Messages: messages}
}

func (e *ValidationError) Error() string {
	if len(e.Messages) == 0 {
		return string(e.Code)
	}
	return strings.Join(e.Messages, "; ")
}

func (e *ValidationError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrValidation, e.Err}
	}
	return []error{ErrValidation}
}

// AsValidation extracts a ValidationError from an error chain.
func AsValidation(err error) (*ValidationError, bool) {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return verr, true
	}
	return nil, false
}

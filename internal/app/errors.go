package app

import (
	"errors"
	"fmt"
	"net/http"

	"colorcraft/api/internal/validate"
)

type DomainError struct {
	Status      int
	Code        string
	Message     string
	Details     any
	FieldErrors map[string]string
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

var (
	errForbidden          = domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	errSelfModification   = domainError(http.StatusConflict, "SELF_MODIFICATION", "You cannot change your own role or deactivate yourself", nil)
	errConversationClosed = domainError(http.StatusConflict, "CONVERSATION_CLOSED", "Conversation is closed", nil)
	errAlreadyConverted   = domainError(http.StatusConflict, "ALREADY_CONVERTED", "Lead has already been converted", nil)
)

func fieldError(field, message string) *DomainError {
	return validationError(validate.FieldErrors{field: message})
}

func validationError(fields validate.FieldErrors) *DomainError {
	return &DomainError{
		Status:      http.StatusUnprocessableEntity,
		Code:        "VALIDATION_ERROR",
		Message:     "Validation failed",
		FieldErrors: fields,
	}
}

// check runs struct validation and converts field failures into a 422.
func check(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var fields validate.FieldErrors
	if errors.As(err, &fields) {
		return validationError(fields)
	}
	return err
}

package app

import (
	"errors"
	"fmt"
	"net/http"

	"blogdesk/api/internal/errs"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
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

var kindStatus = map[errs.Kind]int{
	errs.Validation:    http.StatusUnprocessableEntity,
	errs.Concurrency:   http.StatusConflict,
	errs.StateConflict: http.StatusConflict,
	errs.NotFound:      http.StatusNotFound,
	errs.Network:       http.StatusBadGateway,
	errs.Parse:         http.StatusUnprocessableEntity,
}

// mapError turns an error into the response status and body fields. Kinded errors answer
// with their kind as the code; anything else is a 500 whose cause stays in the log.
func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	var kinded *errs.Error
	if errors.As(err, &kinded) {
		status, ok := kindStatus[kinded.Kind]
		if !ok {
			status = http.StatusInternalServerError
		}
		message := kinded.Message
		if message == "" {
			message = kinded.Error()
		}
		return status, string(kinded.Kind), message, nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}

/*
Package errs provides custom error types and application-level error code constants.

This file defines the CustomError struct, which implements the standard Go error interface
and carries a gateway code, a user-friendly message and an HTTP status code.
*/
package errs

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"agora/internal/pkg/logx"
)

// CustomError is the custom error structure used throughout the application.
type CustomError struct {
	// Code is the gateway error code (see constants definition).
	Code int `json:"code"`

	// Message is the user-friendly error description.
	Message string `json:"message"`

	// Status is the HTTP status code corresponding to this error.
	Status int `json:"-"`
}

// Error implements the standard Go error interface.
func (e *CustomError) Error() string {
	return fmt.Sprintf("Error Code %d (HTTP %d): %s", e.Code, e.Status, e.Message)
}

// Is reports whether target is a CustomError with the same code, so that
// errors.Is(err, errs.NewError(errs.ErrInvalidToken)) works on wrapped errors.
func (e *CustomError) Is(target error) bool {
	var t *CustomError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// NewError constructs a new *CustomError from a predefined error code.
// The optional details fill printf placeholders in the message template. For
// ErrUnknown, an error passed as the first detail is logged instead.
// Unknown codes yield ErrUnknown.
func NewError(code int, details ...any) *CustomError {
	templateErr, ok := errorMap[code]

	if !ok {
		logx.Error(
			fmt.Errorf("attempted to create an error with an unknown code in errorMap"),
			"Unknown error code requested",
			"requested_code", code,
		)

		unknownErr := errorMap[ErrUnknown]
		return &unknownErr
	}

	customErr := templateErr

	if customErr.Status == 0 {
		customErr.Status = http.StatusOK
	}

	if code == ErrUnknown && len(details) > 0 {
		if originalErr, ok := details[0].(error); ok {
			logx.Error(originalErr, "Handling ErrUnknown with underlying error")
		}
	} else if len(details) > 0 {
		if strings.Contains(customErr.Message, "%") {
			customErr.Message = fmt.Sprintf(customErr.Message, details...)
		} else {
			logx.Warn("Details provided for error, but message template has no formatting placeholders. Details ignored.",
				"code", code)
		}
	}

	return &customErr
}

// CodeOf extracts the gateway code from err, or ErrUnknown when err is not a CustomError.
func CodeOf(err error) int {
	var customErr *CustomError
	if errors.As(err, &customErr) {
		return customErr.Code
	}
	return ErrUnknown
}

// Package apperr is the error taxonomy shared by every HTTP handler. Known
// failures carry a status, a stable machine code and a client message; the
// echo error handler renders them and turns anything else into a generic 500.
package apperr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ehr/checkin/internal/platform/db"
)

const (
	CodeValidation      = "VALIDATION_ERROR"
	CodePatientNotFound = "PATIENT_NOT_FOUND"
	CodeNotFound        = "NOT_FOUND"
	CodeAlreadyComplete = "ALREADY_COMPLETED"
	CodeFileTooLarge    = "FILE_TOO_LARGE"
	CodeTooManyFiles    = "TOO_MANY_FILES"
	CodeInvalidFileType = "INVALID_FILE_TYPE"
	CodeConstraint      = "CONSTRAINT_VIOLATION"
	CodeBusy            = "DATABASE_BUSY"
	CodeInvalidJSON     = "INVALID_JSON"
	CodeRouteNotFound   = "ROUTE_NOT_FOUND"
	CodeUnauthorized    = "UNAUTHORIZED"
	CodeForbidden       = "FORBIDDEN"
	CodeRateLimited     = "RATE_LIMITED"
	CodeTimeout         = "REQUEST_TIMEOUT"
	CodeInternal        = "INTERNAL_ERROR"

	CodeInvalidPatientID    = "INVALID_PATIENT_ID"
	CodeInvalidSubmissionID = "INVALID_SUBMISSION_ID"
	CodeSubmissionNotFound  = "SUBMISSION_NOT_FOUND"
	CodeInvalidStatus       = "INVALID_STATUS"
)

// Error is a classified failure. The JSON form is the response body.
type Error struct {
	Status  int    `json:"-"`
	Title   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    string `json:"code"`
	Details any    `json:"details,omitempty"`
	Err     error  `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Title, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Title)
}

func (e *Error) Unwrap() error { return e.Err }

// Validation enumerates every failing field in details.
func Validation(details any) *Error {
	return &Error{
		Status:  http.StatusBadRequest,
		Title:   "Validation failed",
		Message: "Please correct the following errors",
		Code:    CodeValidation,
		Details: details,
	}
}

// BadRequest is a 400 with a caller-chosen code, used for invalid path
// identifiers and query parameters.
func BadRequest(code, title, message string) *Error {
	return &Error{Status: http.StatusBadRequest, Title: title, Message: message, Code: code}
}

// InvalidPatientID rejects a patient id path parameter that is not a
// positive integer.
func InvalidPatientID() *Error {
	return BadRequest(CodeInvalidPatientID, "Invalid patient ID", "Patient ID must be a positive integer")
}

func NotFound(code, title string) *Error {
	return &Error{Status: http.StatusNotFound, Title: title, Code: code}
}

func PatientNotFound() *Error {
	return NotFound(CodePatientNotFound, "Patient not found")
}

// Conflict reports a duplicate completion. It is a 400, not a 409, because
// existing clients branch on that status.
func Conflict(title string) *Error {
	return &Error{Status: http.StatusBadRequest, Title: title, Code: CodeAlreadyComplete}
}

func PayloadTooLarge(message string) *Error {
	return &Error{Status: http.StatusRequestEntityTooLarge, Title: "File too large", Message: message, Code: CodeFileTooLarge}
}

func TooManyFiles(max int) *Error {
	return &Error{
		Status:  http.StatusBadRequest,
		Title:   "Too many files",
		Message: fmt.Sprintf("Maximum %d files allowed", max),
		Code:    CodeTooManyFiles,
	}
}

func InvalidFileType(message string) *Error {
	return &Error{Status: http.StatusBadRequest, Title: "Invalid file type", Message: message, Code: CodeInvalidFileType}
}

func StoreConstraint(err error) *Error {
	return &Error{
		Status:  http.StatusBadRequest,
		Title:   "Database constraint violation",
		Message: "The provided data violates database constraints",
		Code:    CodeConstraint,
		Err:     err,
	}
}

func StoreBusy(err error) *Error {
	return &Error{
		Status:  http.StatusServiceUnavailable,
		Title:   "Database temporarily unavailable",
		Message: "Please try again in a moment",
		Code:    CodeBusy,
		Err:     err,
	}
}

func InvalidJSON(err error) *Error {
	return &Error{
		Status:  http.StatusBadRequest,
		Title:   "Invalid JSON format",
		Message: "Please check your request body format",
		Code:    CodeInvalidJSON,
		Err:     err,
	}
}

func RouteNotFound(method, path string) *Error {
	return &Error{
		Status:  http.StatusNotFound,
		Title:   "Route not found",
		Message: fmt.Sprintf("Cannot %s %s", method, path),
		Code:    CodeRouteNotFound,
	}
}

func Unhandled(err error) *Error {
	return &Error{
		Status:  http.StatusInternalServerError,
		Title:   "Internal server error",
		Message: "An unexpected error occurred",
		Code:    CodeInternal,
		Err:     err,
	}
}

// Classify maps known error shapes into the taxonomy. The second result is
// false for errors that should be treated as unhandled.
func Classify(err error) (*Error, bool) {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr, true
	}

	switch {
	case errors.Is(err, db.ErrConstraint):
		return StoreConstraint(err), true
	case errors.Is(err, db.ErrBusy):
		return StoreBusy(err), true
	case errors.Is(err, context.DeadlineExceeded):
		return &Error{
			Status:  http.StatusServiceUnavailable,
			Title:   "Request timed out",
			Message: "Please try again in a moment",
			Code:    CodeTimeout,
			Err:     err,
		}, true
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return InvalidJSON(err), true
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		return fromHTTPError(he), true
	}
	return nil, false
}

func fromHTTPError(he *echo.HTTPError) *Error {
	msg := fmt.Sprintf("%v", he.Message)
	switch he.Code {
	case http.StatusUnauthorized:
		return &Error{Status: he.Code, Title: "Unauthorized", Message: msg, Code: CodeUnauthorized, Err: he}
	case http.StatusForbidden:
		return &Error{Status: he.Code, Title: "Forbidden", Message: msg, Code: CodeForbidden, Err: he}
	case http.StatusRequestEntityTooLarge:
		return PayloadTooLarge(msg)
	case http.StatusTooManyRequests:
		return &Error{Status: he.Code, Title: "Too many requests", Message: "Please slow down and try again later", Code: CodeRateLimited, Err: he}
	case http.StatusServiceUnavailable:
		return &Error{Status: he.Code, Title: "Service unavailable", Message: msg, Code: CodeTimeout, Err: he}
	case http.StatusBadRequest:
		if he.Internal != nil {
			if classified, ok := Classify(he.Internal); ok {
				return classified
			}
		}
		return &Error{Status: he.Code, Title: "Bad request", Message: msg, Code: CodeValidation, Err: he}
	case http.StatusNotFound:
		return &Error{Status: he.Code, Title: "Not found", Message: msg, Code: CodeNotFound, Err: he}
	}
	return &Error{Status: he.Code, Title: http.StatusText(he.Code), Message: msg, Code: CodeInternal, Err: he}
}

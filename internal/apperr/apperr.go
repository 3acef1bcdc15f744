package apperr

import (
	"errors"
	"fmt"
)

type Code string

const (
	CodeValidation            Code = "VALIDATION_ERROR"
	CodeConflict              Code = "CONFLICT"
	CodeNotFound              Code = "NOT_FOUND"
	CodeAlreadyVerified       Code = "ALREADY_VERIFIED"
	CodeInvalidCode           Code = "INVALID_CODE"
	CodeInvalidCredentials    Code = "INVALID_CREDENTIALS"
	CodeUnverified            Code = "UNVERIFIED"
	CodeInvalidOrExpiredToken Code = "INVALID_OR_EXPIRED_TOKEN"
	CodeNotification          Code = "NOTIFICATION_FAILURE"
	CodePersistence           Code = "PERSISTENCE_FAILURE"
)

// Error is the error value returned by the account and trajet services.
// PrincipalID is only set for UNVERIFIED so callers can offer a resend.
type Error struct {
	Code        Code
	Message     string
	PrincipalID string
	Cause       error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches another *Error by code, so errors.Is(err, apperr.New(CodeNotFound, ""))
// and the helpers below work on wrapped values.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Wrap(err error, code Code, message string) *Error {
	return &Error{Code: code, Message: message, Cause: err}
}

func Validation(message string) *Error {
	return New(CodeValidation, message)
}

func NotFound(message string) *Error {
	return New(CodeNotFound, message)
}

func Persistence(err error) *Error {
	return Wrap(err, CodePersistence, "storage operation failed")
}

func Notification(err error) *Error {
	return Wrap(err, CodeNotification, "could not deliver email")
}

func Unverified(principalID string) *Error {
	return &Error{
		Code:        CodeUnverified,
		Message:     "email not verified, please verify your email first",
		PrincipalID: principalID,
	}
}

// CodeOf returns the code carried by err, or "" when err is not an *Error.
func CodeOf(err error) Code {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

func Has(err error, code Code) bool {
	return CodeOf(err) == code
}

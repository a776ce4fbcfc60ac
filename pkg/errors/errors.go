package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// Code is the machine-readable code carried in error responses.
type Code string

const (
	CodeInvalidInput       Code = "InvalidInput"
	CodeRoomNotFound       Code = "RoomNotFound"
	CodeRoomAlreadyExists  Code = "RoomAlreadyExists"
	CodeRoomFull           Code = "RoomFull"
	CodeRateLimited        Code = "RateLimited"
	CodeInternal           Code = "Internal"
	CodeServiceUnavailable Code = "ServiceUnavailable"
)

// AppError is an error that knows how to present itself over HTTP.
type AppError struct {
	Code    Code
	Message string
	Status  int
	Cause   error
	Details map[string]any
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error { return e.Cause }

// Is matches any AppError carrying the same code.
func (e *AppError) Is(target error) bool {
	var other *AppError
	return stderrors.As(target, &other) && other.Code == e.Code
}

// With attaches a detail rendered in the response body.
func (e *AppError) With(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

func New(code Code, status int, message string) *AppError {
	return &AppError{Code: code, Status: status, Message: message}
}

func Wrap(err error, code Code, status int, message string) *AppError {
	return &AppError{Code: code, Status: status, Message: message, Cause: err}
}

func InvalidInput(message string) *AppError {
	return New(CodeInvalidInput, http.StatusBadRequest, message)
}

func RateLimited() *AppError {
	return New(CodeRateLimited, http.StatusTooManyRequests, "Rate limit exceeded")
}

func ServiceUnavailable(message string) *AppError {
	return New(CodeServiceUnavailable, http.StatusServiceUnavailable, message)
}

// As returns the first AppError in err's chain, or nil.
func As(err error) *AppError {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}
	return nil
}

// Rule turns errors matching Target into an AppError. An empty Message
// exposes the matched error's own text.
type Rule struct {
	Target  error
	Code    Code
	Status  int
	Message string
}

// Mapper resolves arbitrary errors to AppErrors by walking its rules in
// order. Errors that are already AppErrors pass through unchanged.
type Mapper struct {
	rules    []Rule
	fallback Rule
}

func NewMapper(rules ...Rule) *Mapper {
	return &Mapper{
		rules:    rules,
		fallback: Rule{Code: CodeInternal, Status: http.StatusInternalServerError, Message: "Internal server error"},
	}
}

func (m *Mapper) Map(err error) *AppError {
	if appErr := As(err); appErr != nil {
		return appErr
	}
	for _, r := range m.rules {
		if stderrors.Is(err, r.Target) {
			return m.apply(r, err)
		}
	}
	return m.apply(m.fallback, err)
}

func (m *Mapper) apply(r Rule, err error) *AppError {
	msg := r.Message
	if msg == "" {
		msg = err.Error()
	}
	return Wrap(err, r.Code, r.Status, msg)
}

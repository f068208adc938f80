package domain

import (
	"errors"
	"fmt"
)

// Sample rejection kinds. They never cross the transport boundary as errors;
// the engine maps them onto ack reasons.
var (
	ErrInvalidSample = errors.New("invalid sample")
	ErrUnknownRider  = errors.New("unknown rider")
	ErrSpeedRejected = errors.New("implied speed above ceiling")
	ErrCorruptState  = errors.New("corrupt snapshot")
)

// ReasonFor maps a rejection error onto its ack reason.
func ReasonFor(err error) Reason {
	switch {
	case errors.Is(err, ErrUnknownRider):
		return ReasonUnknownRider
	case errors.Is(err, ErrSpeedRejected):
		return ReasonSpeed
	default:
		return ReasonInvalid
	}
}

// AppError is the base error type surfaced by the HTTP layer.
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
	Cause   error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error { return e.Cause }

func ErrNotFound(entity, id string) *AppError {
	return &AppError{Code: "NOT_FOUND", Message: fmt.Sprintf("%s %s not found", entity, id), Status: 404}
}

func ErrConflict(msg string) *AppError {
	return &AppError{Code: "CONFLICT", Message: msg, Status: 409}
}

func ErrValidation(msg string) *AppError {
	return &AppError{Code: "VALIDATION_ERROR", Message: msg, Status: 400}
}

func ErrUnauthorized(msg string) *AppError {
	return &AppError{Code: "UNAUTHORIZED", Message: msg, Status: 401}
}

func ErrInternal(msg string, cause error) *AppError {
	return &AppError{Code: "INTERNAL_ERROR", Message: msg, Status: 500, Cause: cause}
}

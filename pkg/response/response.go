package response

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

type Response struct {
	ResponseError `json:"error,omitzero"`
}

type ResponseError struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details []Shortfall `json:"details,omitempty"`
}

// Error Codes
type ErrCode string

var (
	FAILED_REQUEST            ErrCode = "REQUEST_FAILED"
	BAD_REQUEST               ErrCode = "FAILED_TO_DECODE"
	NOT_FOUND                 ErrCode = "NOT_FOUND"
	LOCKED                    ErrCode = "LOCKED"
	UNAUTHORIZED              ErrCode = "UNAUTHORIZED"
	ALREADY_EXISTS            ErrCode = "ALREADY_EXISTS"
	TIME_RANGE_INVALID        ErrCode = "TIME_RANGE_INVALID"
	OUTSIDE_WORK_HOURS        ErrCode = "OUTSIDE_WORK_HOURS"
	RESOURCE_OVERLAP          ErrCode = "RESOURCE_OVERLAP"
	CLIENT_COUNT_OUT_OF_RANGE ErrCode = "CLIENT_COUNT_OUT_OF_RANGE"
	TRAINER_NOT_ATTACHED      ErrCode = "TRAINER_NOT_ATTACHED_TO_CENTER"
	INSUFFICIENT_BALANCE      ErrCode = "INSUFFICIENT_BALANCE"
	INVALID_STATE_TRANSITION  ErrCode = "INVALID_STATE_TRANSITION"
	PERMISSION_DENIED         ErrCode = "PERMISSION_DENIED"
)

var (
	ErrBadRequest             = errors.New("bad request")
	ErrNotFound               = errors.New("resource not found")
	ErrLocked                 = errors.New("resource is locked")
	ErrUnauthorized           = errors.New("unauthorized")
	ErrAlreadyExists          = errors.New("already exists")
	ErrTimeRangeInvalid       = errors.New("time range invalid")
	ErrOutsideWorkHours       = errors.New("outside work hours")
	ErrResourceOverlap        = errors.New("resource overlap")
	ErrClientCountOutOfRange  = errors.New("client count out of range")
	ErrTrainerNotAttached     = errors.New("trainer not attached to center")
	ErrInsufficientBalance    = errors.New("insufficient balance")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrPermissionDenied       = errors.New("permission denied")
)

// Shortfall is one under-funded client of an approve or complete attempt.
type Shortfall struct {
	ClientID string `json:"client_id"`
	Balance  int64  `json:"balance"`
	Required int64  `json:"required"`
}

// ValidationError is a guard failure. errors.Is matches it against Kind.
type ValidationError struct {
	Kind       error
	Reason     string
	Shortfalls []Shortfall
}

func (e *ValidationError) Error() string {
	if e.Reason == "" {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %s", e.Kind.Error(), e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return e.Kind
}

func Invalid(kind error, format string, args ...any) *ValidationError {
	return &ValidationError{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

func InsufficientBalance(shortfalls []Shortfall) *ValidationError {
	parts := make([]string, 0, len(shortfalls))
	for _, s := range shortfalls {
		parts = append(parts, fmt.Sprintf("client %s has %d, needs %d", s.ClientID, s.Balance, s.Required))
	}

	return &ValidationError{
		Kind:       ErrInsufficientBalance,
		Reason:     strings.Join(parts, "; "),
		Shortfalls: shortfalls,
	}
}

func Error(code, msg string) Response {
	return Response{
		ResponseError: ResponseError{
			Code:    code,
			Message: msg,
		},
	}
}

var kinds = []struct {
	err    error
	code   ErrCode
	status int
}{
	{ErrBadRequest, BAD_REQUEST, http.StatusBadRequest},
	{ErrUnauthorized, UNAUTHORIZED, http.StatusUnauthorized},
	{ErrNotFound, NOT_FOUND, http.StatusNotFound},
	{ErrLocked, LOCKED, http.StatusLocked},
	{ErrAlreadyExists, ALREADY_EXISTS, http.StatusConflict},
	{ErrPermissionDenied, PERMISSION_DENIED, http.StatusForbidden},
	{ErrTimeRangeInvalid, TIME_RANGE_INVALID, http.StatusBadRequest},
	{ErrClientCountOutOfRange, CLIENT_COUNT_OUT_OF_RANGE, http.StatusBadRequest},
	{ErrOutsideWorkHours, OUTSIDE_WORK_HOURS, http.StatusUnprocessableEntity},
	{ErrTrainerNotAttached, TRAINER_NOT_ATTACHED, http.StatusUnprocessableEntity},
	{ErrInsufficientBalance, INSUFFICIENT_BALANCE, http.StatusUnprocessableEntity},
	{ErrResourceOverlap, RESOURCE_OVERLAP, http.StatusConflict},
	{ErrInvalidStateTransition, INVALID_STATE_TRANSITION, http.StatusConflict},
}

// FromError maps an engine error to an HTTP status and error body.
// Unknown errors become 500 with the fallback message.
func FromError(err error, fallback string) (int, Response) {
	for _, k := range kinds {
		if !errors.Is(err, k.err) {
			continue
		}

		resp := Error(string(k.code), k.err.Error())

		var verr *ValidationError
		if errors.As(err, &verr) {
			resp.Message = verr.Error()
			resp.Details = verr.Shortfalls
		}

		return k.status, resp
	}

	return http.StatusInternalServerError, Error(string(FAILED_REQUEST), fallback)
}

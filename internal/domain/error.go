package domain

import (
	"context"
	"errors"
	"fmt"
)

// ErrorCode is the stable failure kind carried by every reported error.
type ErrorCode string

const (
	CodeMissingCredential       ErrorCode = "MISSING_CREDENTIAL"
	CodeInvalidCredentialFormat ErrorCode = "INVALID_CREDENTIAL_FORMAT"
	CodeToolUnavailable         ErrorCode = "TOOL_UNAVAILABLE"
	CodeTransportFault          ErrorCode = "TRANSPORT_FAULT"
	CodeTimeout                 ErrorCode = "TIMEOUT"
	CodeToolLoopExceeded        ErrorCode = "TOOL_LOOP_EXCEEDED"
	CodeApprovalDenied          ErrorCode = "APPROVAL_DENIED"
	CodeCanceled                ErrorCode = "CANCELED"
	CodeInvalidArgument         ErrorCode = "INVALID_ARGUMENT"
	CodeNotFound                ErrorCode = "NOT_FOUND"
	CodeFailedPrecond           ErrorCode = "FAILED_PRECONDITION"
	CodeInternal                ErrorCode = "INTERNAL"
)

var (
	ErrServerNotFound     = errors.New("tool server not found")
	ErrEndpointRequired   = errors.New("tool server endpoint is required")
	ErrToolNotOffered     = errors.New("tool not offered for this turn")
	ErrRunInProgress      = errors.New("run already in progress")
	ErrRunNotReset        = errors.New("run must be reset before it can execute again")
	ErrApprovalNotPending = errors.New("no pending approval for call id")
	ErrRegistryDisabled   = errors.New("tool registry is disabled")
)

type Error struct {
	Code      ErrorCode
	Op        string
	Message   string
	Cause     error
	Retryable bool
	Meta      map[string]string
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Message
	if msg == "" && e.Cause != nil {
		msg = e.Cause.Error()
	}
	if e.Op == "" {
		if msg == "" {
			return string(e.Code)
		}
		return fmt.Sprintf("%s: %s", e.Code, msg)
	}
	if msg == "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Code)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Code, msg)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

func E(code ErrorCode, op, msg string, cause error) *Error {
	if msg == "" && cause != nil {
		msg = cause.Error()
	}
	return &Error{
		Code:    code,
		Op:      op,
		Message: msg,
		Cause:   cause,
	}
}

func Wrap(code ErrorCode, op string, err error) *Error {
	if err == nil {
		return nil
	}
	var existing *Error
	if errors.As(err, &existing) {
		if existing.Op != "" || op == "" {
			return existing
		}
		return &Error{
			Code:      existing.Code,
			Op:        op,
			Message:   existing.Message,
			Cause:     existing.Cause,
			Retryable: existing.Retryable,
			Meta:      existing.Meta,
		}
	}
	if derived, ok := CodeFrom(err); ok {
		code = derived
	}
	return E(code, op, "", err)
}

func CodeFrom(err error) (ErrorCode, bool) {
	if err == nil {
		return "", false
	}
	var domainErr *Error
	if errors.As(err, &domainErr) && domainErr.Code != "" {
		return domainErr.Code, true
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return CodeTimeout, true
	case errors.Is(err, context.Canceled):
		return CodeCanceled, true
	case errors.Is(err, ErrServerNotFound), errors.Is(err, ErrApprovalNotPending):
		return CodeNotFound, true
	case errors.Is(err, ErrEndpointRequired):
		return CodeInvalidArgument, true
	case errors.Is(err, ErrToolNotOffered), errors.Is(err, ErrRegistryDisabled):
		return CodeToolUnavailable, true
	case errors.Is(err, ErrRunInProgress), errors.Is(err, ErrRunNotReset):
		return CodeFailedPrecond, true
	default:
		return "", false
	}
}

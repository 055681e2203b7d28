package qdma

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode is the high-level category attached to every Error.
type ErrorCode string

const (
	ErrCodeInvalidParameter  ErrorCode = "invalid parameter"
	ErrCodeInvalidState      ErrorCode = "invalid state"
	ErrCodeResourceExhausted ErrorCode = "resource exhausted"
	ErrCodeHardwareError     ErrorCode = "hardware error"
	ErrCodeCancelled         ErrorCode = "cancelled"
	ErrCodeTimeout           ErrorCode = "timeout"
	ErrCodeNotSupported      ErrorCode = "not supported"
)

// Error is a structured QDMA error with enough context to identify which
// device, queue, and operation failed.
type Error struct {
	Op    string    // operation that failed, e.g. "QueuePair.Add", "enqueue_mm_request"
	DevID uint32    // device/function id (0 if not applicable)
	Queue int       // absolute queue index (-1 if not applicable)
	Code  ErrorCode // high-level error category
	Msg   string    // human-readable message
	Inner error     // wrapped error
}

func (e *Error) Error() string {
	var parts []string
	if e.Op != "" {
		parts = append(parts, fmt.Sprintf("op=%s", e.Op))
	}
	if e.DevID != 0 {
		parts = append(parts, fmt.Sprintf("dev=%d", e.DevID))
	}
	if e.Queue >= 0 {
		parts = append(parts, fmt.Sprintf("queue=%d", e.Queue))
	}

	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}

	if len(parts) > 0 {
		return fmt.Sprintf("qdma: %s (%s)", msg, strings.Join(parts, " "))
	}
	return fmt.Sprintf("qdma: %s", msg)
}

// Unwrap returns the wrapped error for errors.Is/errors.As support.
func (e *Error) Unwrap() error { return e.Inner }

// Is supports errors.Is comparison against another *Error by code.
func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}
	if te, ok := target.(*Error); ok {
		return e.Code == te.Code
	}
	return false
}

// NewError creates a structured error with no device/queue context.
func NewError(op string, code ErrorCode, msg string) *Error {
	return &Error{Op: op, Queue: -1, Code: code, Msg: msg}
}

// NewQueueError creates a structured error scoped to a specific queue.
func NewQueueError(op string, devID uint32, queue int, code ErrorCode, msg string) *Error {
	return &Error{Op: op, DevID: devID, Queue: queue, Code: code, Msg: msg}
}

// WrapError wraps an existing error with QDMA operation context,
// preserving an inner *Error's code/device/queue if present.
func WrapError(op string, code ErrorCode, inner error) *Error {
	if inner == nil {
		return nil
	}
	if qe, ok := inner.(*Error); ok {
		return &Error{
			Op:    op,
			DevID: qe.DevID,
			Queue: qe.Queue,
			Code:  qe.Code,
			Msg:   qe.Msg,
			Inner: qe.Inner,
		}
	}
	return &Error{Op: op, Queue: -1, Code: code, Msg: inner.Error(), Inner: inner}
}

// IsCode reports whether err is a *Error with the given code.
func IsCode(err error, code ErrorCode) bool {
	var qe *Error
	if errors.As(err, &qe) {
		return qe.Code == code
	}
	return false
}

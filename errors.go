package immortal

import (
	"errors"
	"fmt"

	"github.com/ehrlich-b/go-immortal/internal/engine"
	"github.com/ehrlich-b/go-immortal/internal/handshake"
	"github.com/ehrlich-b/go-immortal/internal/netio"
	"github.com/ehrlich-b/go-immortal/internal/ring"
	"github.com/ehrlich-b/go-immortal/internal/wire"
)

// Error is a structured runtime error with operation context. Every error in
// the taxonomy is fatal at the runtime level: the Coordinator is the source
// of truth, so recovery always means restarting from a durable log position
// rather than patching up local state.
type Error struct {
	Op    string    // Operation that failed (e.g. "HANDSHAKE", "DISPATCH")
	Dest  string    // Destination name ("" if not applicable)
	Seq   int64     // Log sequence id (-1 if not applicable)
	Code  ErrorCode // High-level error category
	Msg   string    // Human-readable message
	Inner error     // Wrapped error
}

// Error implements the error interface
func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}
	ctx := ""
	if e.Op != "" {
		ctx = fmt.Sprintf(" (op=%s)", e.Op)
	}
	return fmt.Sprintf("immortal: %s%s", msg, ctx)
}

// Unwrap returns the wrapped error for errors.Is/As support
func (e *Error) Unwrap() error {
	return e.Inner
}

// Is supports comparison against another *Error by code.
func (e *Error) Is(target error) bool {
	if te, ok := target.(*Error); ok {
		return e.Code == te.Code
	}
	return false
}

// ErrorCode represents high-level error categories
type ErrorCode string

const (
	ErrCodeInvalidVarint   ErrorCode = "invalid varint"
	ErrCodeShortRead       ErrorCode = "short read"
	ErrCodeUnexpectedEOF   ErrorCode = "unexpected end of payload"
	ErrCodeUnknownTag      ErrorCode = "unknown message tag"
	ErrCodeProtocolError   ErrorCode = "protocol error"
	ErrCodeNotImplemented  ErrorCode = "not implemented"
	ErrCodeSocketError     ErrorCode = "socket error"
	ErrCodeTooLarge        ErrorCode = "reservation exceeds buffer capacity"
	ErrCodeOversizedRecord ErrorCode = "oversized record"
)

// NewError creates a new structured error
func NewError(op string, code ErrorCode, msg string) *Error {
	return &Error{Op: op, Seq: -1, Code: code, Msg: msg}
}

// WrapError wraps an error from the internal packages, classifying it into
// the runtime taxonomy.
func WrapError(op string, inner error) *Error {
	if inner == nil {
		return nil
	}
	if ie, ok := inner.(*Error); ok {
		out := *ie
		out.Op = op
		return &out
	}
	return &Error{
		Op:    op,
		Seq:   -1,
		Code:  classify(inner),
		Msg:   inner.Error(),
		Inner: inner,
	}
}

func classify(err error) ErrorCode {
	switch {
	case errors.Is(err, wire.ErrInvalidVarint):
		return ErrCodeInvalidVarint
	case errors.Is(err, wire.ErrShortRead), errors.Is(err, netio.ErrShortRead):
		return ErrCodeShortRead
	case errors.Is(err, wire.ErrUnexpectedEOF):
		return ErrCodeUnexpectedEOF
	case errors.Is(err, wire.ErrUnknownTag):
		return ErrCodeUnknownTag
	case errors.Is(err, handshake.ErrProtocol):
		return ErrCodeProtocolError
	case errors.Is(err, handshake.ErrRecoveryUnimplemented):
		return ErrCodeNotImplemented
	case errors.Is(err, ring.ErrTooLarge):
		return ErrCodeTooLarge
	case errors.Is(err, engine.ErrOversizedRecord):
		return ErrCodeOversizedRecord
	default:
		return ErrCodeSocketError
	}
}

// IsCode checks if an error matches a specific error code
func IsCode(err error, code ErrorCode) bool {
	var re *Error
	if errors.As(err, &re) {
		return re.Code == code
	}
	return false
}

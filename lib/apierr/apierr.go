package apierr

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
)

// --------------------------------------------------------------------------
// Error Kinds and Codes
// --------------------------------------------------------------------------

// Kind splits every failure into the two classes the datafront reacts to.
type Kind uint8

const (
	// KindFatal errors stay on the failed query, singleton or action until the
	// caller explicitly retries.
	KindFatal Kind = iota
	// KindRetriable errors are expected to go away on their own (network
	// failures, timeouts, server-signaled "try again").
	KindRetriable
)

func (k Kind) String() string {
	switch k {
	case KindFatal:
		return "fatal"
	case KindRetriable:
		return "retriable"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

const (
	CodeUnavailable     = "UNAVAILABLE"
	CodeTimeout         = "TIMEOUT"
	CodeTryAgain        = "TRY_AGAIN"
	CodeInvalidArgument = "INVALID_ARGUMENT"
	CodeUnauthorized    = "UNAUTHORIZED"
	CodeNotFound        = "NOT_FOUND"
	CodeUnknown         = "UNKNOWN"
)

// UnexpectedMessage is the placeholder message of errors the decoder does not recognize.
const UnexpectedMessage = "unexpected error"

// codeKinds lists every code the decoder recognizes
var codeKinds = map[string]Kind{
	CodeUnavailable:     KindRetriable,
	CodeTimeout:         KindRetriable,
	CodeTryAgain:        KindRetriable,
	CodeInvalidArgument: KindFatal,
	CodeUnauthorized:    KindFatal,
	CodeNotFound:        KindFatal,
}

// ErrConnection is wrapped by transports for every failure of the underlying
// connection. Classify treats it as retriable.
var ErrConnection = errors.New("connection unavailable")

// --------------------------------------------------------------------------
// Error
// --------------------------------------------------------------------------

// Error is the normalized error shape surfaced by queries, singletons and actions.
type Error struct {
	Kind    Kind
	Code    string
	Message string

	// Retry re-runs the failed operation. It is only set on retriable errors
	// that were bound to an operation via Bind.
	Retry func()

	cause error
}

// New creates an error of the given kind.
func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Retriable creates a retriable error.
func Retriable(code, message string) *Error {
	return New(KindRetriable, code, message)
}

// Fatal creates a fatal error.
func Fatal(code, message string) *Error {
	return New(KindFatal, code, message)
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Retriable reports whether the error is of KindRetriable.
func (e *Error) Retriable() bool {
	return e.Kind == KindRetriable
}

// Bind returns a copy of e whose Retry calls retry. Fatal errors never carry a
// retry callback, so Bind on a fatal error returns a copy with Retry unset.
func (e *Error) Bind(retry func()) *Error {
	c := *e
	c.Retry = nil
	if c.Kind == KindRetriable {
		c.Retry = retry
	}
	return &c
}

// --------------------------------------------------------------------------
// Decoding and Classification
// --------------------------------------------------------------------------

// Decode turns a server-reported error into an Error. Known codes keep their
// kind. Unknown codes flagged retriable by the server become TRY_AGAIN, every
// other unknown code is normalized to a fatal UNKNOWN error with a placeholder
// message.
func Decode(code, message string, retriable bool) *Error {
	if kind, ok := codeKinds[code]; ok {
		if message == "" {
			message = code
		}
		return New(kind, code, message)
	}
	if retriable {
		return Retriable(CodeTryAgain, message)
	}
	return &Error{
		Kind:    KindFatal,
		Code:    CodeUnknown,
		Message: UnexpectedMessage,
		cause:   fmt.Errorf("%s: %s", code, message),
	}
}

// Classify maps any error onto an Error. Errors that already are an Error are
// returned unchanged. Connection and timeout failures are retriable, everything
// else is fatal with the placeholder message.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}

	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &Error{Kind: KindRetriable, Code: CodeTimeout, Message: "request timed out", cause: err}
	case errors.Is(err, ErrConnection),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, net.ErrClosed),
		errors.Is(err, context.Canceled):
		return &Error{Kind: KindRetriable, Code: CodeUnavailable, Message: err.Error(), cause: err}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		code := CodeUnavailable
		if netErr.Timeout() {
			code = CodeTimeout
		}
		return &Error{Kind: KindRetriable, Code: code, Message: err.Error(), cause: err}
	}

	return &Error{Kind: KindFatal, Code: CodeUnknown, Message: UnexpectedMessage, cause: err}
}

// IsRetriable reports whether err classifies as retriable.
func IsRetriable(err error) bool {
	e := Classify(err)
	return e != nil && e.Retriable()
}

// CodeOf returns the code err classifies to, or "" for nil.
func CodeOf(err error) string {
	e := Classify(err)
	if e == nil {
		return ""
	}
	return e.Code
}

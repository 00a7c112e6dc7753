package matchproto

import "errors"

// Error codes that are not owned by the match state machine.
const (
	CodeBadRequest = "bad_request"
	CodeNoMatch    = "no_match"
	CodeInMatch    = "in_match"
	CodeClosing    = "server_closing"
	CodeInternal   = "internal"
)

// Error is a protocol-level failure with a stable code.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Code != "" {
		return e.Code
	}
	return "protocol error"
}

// Is matches on code so wrapped copies compare equal to the sentinels below.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Code == e.Code
	}
	return false
}

var (
	ErrNoMatch = &Error{Code: CodeNoMatch, Message: "not in a match"}
	ErrInMatch = &Error{Code: CodeInMatch, Message: "already in a match"}
	ErrClosing = &Error{Code: CodeClosing, Message: "server is shutting down"}
)

// BadRequest wraps a decode or validation failure.
func BadRequest(msg string) error { return &Error{Code: CodeBadRequest, Message: msg} }

type coded interface{ Code() string }

// CodeOf maps an error to its wire code. Unknown errors map to "internal".
func CodeOf(err error) string {
	if err == nil {
		return ""
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Code
	}
	var c coded
	if errors.As(err, &c) {
		return c.Code()
	}
	return CodeInternal
}

// ErrorPayload converts err into the outbound error frame.
func ErrorPayload(err error) Envelope {
	return Envelope{Type: TypeError, Data: ErrorData{Code: CodeOf(err), Message: err.Error()}}
}

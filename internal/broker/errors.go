package broker

import "errors"

// ErrorCode is one of the three error kinds a broker operation can report.
type ErrorCode string

const (
	ErrBadRequest     ErrorCode = "BAD_REQUEST"
	ErrTopicNotFound  ErrorCode = "TOPIC_NOT_FOUND"
	ErrAlreadyExists  ErrorCode = "ALREADY_EXISTS"
	ErrInternal       ErrorCode = "INTERNAL"
)

// Error is a broker operation failure carrying one of the ErrorCode kinds.
// ProtocolHandler and httpapi both type-assert to this to pick a response
// shape without re-deriving the kind from a string.
type Error struct {
	Code    ErrorCode
	Message string
}

func (e *Error) Error() string { return string(e.Code) + ": " + e.Message }

func newErr(code ErrorCode, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

// AsBrokerError extracts a *Error from err, if any.
func AsBrokerError(err error) (*Error, bool) {
	var be *Error
	if errors.As(err, &be) {
		return be, true
	}
	return nil, false
}

// Package apperr defines the typed error kinds that cross the HTTP edge.
package apperr

import "fmt"

// Kind classifies an error for the purpose of choosing an HTTP status code.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindAuthentication
	KindAuthorization
	KindNotFound
	KindConflict
	KindRateLimit
	KindMultipart
	KindCrypto
	KindStorage
)

// Error is the typed error every handler returns. A single gin middleware
// maps it to (status, body) at the edge; nothing downstream of a handler
// should format an HTTP response directly.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func Validation(msg string) *Error       { return New(KindValidation, msg) }
func Authentication(msg string) *Error   { return New(KindAuthentication, msg) }
func Authorization(msg string) *Error    { return New(KindAuthorization, msg) }
func NotFound(msg string) *Error         { return New(KindNotFound, msg) }
func Conflict(msg string) *Error         { return New(KindConflict, msg) }
func RateLimit(msg string) *Error        { return New(KindRateLimit, msg) }
func Multipart(msg string, err error) *Error {
	return Wrap(KindMultipart, msg, err)
}
func Crypto(msg string, err error) *Error {
	return Wrap(KindCrypto, msg, err)
}
func Storage(msg string, err error) *Error {
	return Wrap(KindStorage, msg, err)
}
func Internal(msg string, err error) *Error {
	return Wrap(KindInternal, msg, err)
}

// As reports whether err is an *Error and returns it.
func As(err error) (*Error, bool) {
	e, ok := err.(*Error)
	return e, ok
}

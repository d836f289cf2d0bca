// Package common defines sentinel errors and small helpers shared by the
// mailvault server, its repositories and the admin tool. Callers should use
// errors.Is to match these values.
package common

import "errors"

var (
	// repository specific errors
	ErrorNotFound      = errors.New("not found")
	ErrorAlreadyExists = errors.New("already exists")

	// pipeline outcomes
	ErrorNotAllowed         = errors.New("sender not allowed")
	ErrorQuotaExceeded      = errors.New("quota exceeded")
	ErrorTooLarge           = errors.New("item exceeds size ceiling")
	ErrorInvalidAddress     = errors.New("invalid address")
	ErrorCorruptItem        = errors.New("corrupt item")
	ErrorInsufficientCredit = errors.New("insufficient credit")

	ErrorInternal     = errors.New("internal error")
	ErrorNotSupported = errors.New("not supported")
)

// permanentError marks a failure that must not be retried.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so that IsPermanent reports true for it and for any
// error that wraps it. A nil err stays nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err, or anything it wraps, was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

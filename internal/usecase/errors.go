package usecase

import (
	"errors"
	"fmt"
)

type ErrorCode string

const (
	ErrorDiscovery ErrorCode = "DISCOVERY_FAILED"
	ErrorLoad      ErrorCode = "LOAD_FAILED"
	ErrorWrite     ErrorCode = "WRITE_FAILED"
	ErrorLease     ErrorCode = "LEASE_FAILED"
)

// ErrPassInProgress is returned by RunPass when another process holds the
// pass lease.
var ErrPassInProgress = errors.New("usecase: pass already in progress")

type Error struct {
	Code   ErrorCode
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("usecase: %s (%s)", e.Code, e.Reason)
	}
	return fmt.Sprintf("usecase: %s (%s): %v", e.Code, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newError(code ErrorCode, reason string, err error) *Error {
	return &Error{Code: code, Reason: reason, Err: err}
}

// CodeOf returns the code of the first *Error in err's chain.
func CodeOf(err error) (ErrorCode, bool) {
	var ue *Error
	if !errors.As(err, &ue) {
		return "", false
	}
	return ue.Code, true
}

package truedlspeed

import (
	"github.com/pkg/errors"
)

var (
	ErrConnection      = errors.New("connection error")
	ErrProbeLaunch     = errors.New("probe launch error")
	ErrStreamRead      = errors.New("stream read error")
	ErrCancelledByUser = errors.New("cancelled by user")
	ErrInvalidTarget   = errors.New("invalid target")
)

// SessionError ties a failure to one of the error kinds above so callers
// can branch with errors.Is while keeping the underlying cause.
type SessionError struct {
	Kind error
	Err  error
}

func newSessionError(kind error, cause error, message string) *SessionError {
	return &SessionError{
		Kind: kind,
		Err:  errors.Wrap(cause, message),
	}
}

func (e *SessionError) Error() string {
	if e.Err == nil {
		return e.Kind.Error()
	}
	return e.Kind.Error() + ": " + e.Err.Error()
}

func (e *SessionError) Unwrap() error { return e.Err }

func (e *SessionError) Cause() error { return e.Err }

func (e *SessionError) Is(target error) bool { return target == e.Kind }

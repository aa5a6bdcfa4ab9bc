package bridge

import "errors"

// ErrUnreachable means the network runtime itself is down or cannot
// be reached. Non-critical reads degrade to fallbacks on it instead
// of propagating.
var ErrUnreachable = errors.New("network runtime unreachable")

// ErrNotFound means the runtime holds no result for the request. For
// content lookups this is a normal outcome, not a failure.
var ErrNotFound = errors.New("not found")

// TransientError wraps a failure that is expected to succeed on retry.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// PermanentError wraps a failure that retrying will not help.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// MarkTransient marks an error as transient.
func MarkTransient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// MarkPermanent marks an error as permanent.
func MarkPermanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether the error is marked permanent.
func IsPermanent(err error) bool {
	var perm *PermanentError
	return errors.As(err, &perm)
}

// IsTransient reports whether a failed command should be retried.
// Anything not explicitly permanent counts as transient, so unknown
// failure shapes from new runtime versions default to the retry path.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	return !IsPermanent(err)
}

// IsUnreachable reports whether the runtime itself was unreachable.
func IsUnreachable(err error) bool {
	return errors.Is(err, ErrUnreachable)
}

// IsNotFound reports whether the runtime answered "no such result".
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

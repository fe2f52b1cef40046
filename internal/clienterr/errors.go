// Package clienterr defines the failure taxonomy shared by the session, dispatch and task layers.
// Every failure, including a task wait timeout, is an ordinary returned error.
package clienterr

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Sentinel errors; callers match them with errors.Is.
var (
	// ErrUnauthenticated is returned when credentials are expired or rejected. Recoverable via refresh or a new login.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrValidationFailed is returned when a token set is malformed or expired beyond tolerance.
	ErrValidationFailed = errors.New("token set validation failed")
	// ErrMalformedCredential is returned when an encoded login credential cannot be decoded or lacks an identifier.
	ErrMalformedCredential = errors.New("malformed credential")
	// ErrTransport is returned when the request never produced an HTTP response.
	ErrTransport = errors.New("transport error")
	// ErrNoTaskID is returned when the server accepted a task-starting command but returned no task id.
	ErrNoTaskID = errors.New("server returned no task id")
	// ErrTimeout is returned when a task wait exceeds its deadline.
	ErrTimeout = errors.New("timeout")
	// ErrForbidden is returned when the command policy denies a command for the current roles.
	ErrForbidden = errors.New("command not permitted for current roles")
)

// ApplicationError is a business error string reported by the server or embedded in a completed task.
type ApplicationError struct {
	Message string
}

func (e *ApplicationError) Error() string {
	return e.Message
}

// TimeoutError reports a task that did not complete within the configured timeout.
type TimeoutError struct {
	TaskID  string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("task %s did not complete within %s", e.TaskID, e.Timeout)
}

// Is makes errors.Is(err, ErrTimeout) true for a *TimeoutError.
func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

// Validation wraps a descriptive rule violation so it matches ErrValidationFailed.
func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidationFailed, fmt.Sprintf(format, args...))
}

// Canceled reports whether err stems from a cancelled or expired context rather than a server decision.
func Canceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// Rejected turns a server-reported error from an auth exchange into ErrUnauthenticated, keeping the
// ApplicationError reachable with errors.As. Other errors are returned unchanged.
func Rejected(err error) error {
	var appErr *ApplicationError
	if errors.As(err, &appErr) && !errors.Is(err, ErrUnauthenticated) {
		return fmt.Errorf("%w: %w", ErrUnauthenticated, err)
	}
	return err
}

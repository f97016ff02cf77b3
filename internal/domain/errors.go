package domain

import (
	"errors"
	"fmt"
)

// ValidationError reports a malformed recurrence rule or schedule input.
// It is always actionable by the end user.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid input: " + e.Reason
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Invalid is a shorthand constructor for ValidationError.
func Invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// NotFoundError is returned when an entity does not exist or is outside
// the caller's owner scope.
type NotFoundError struct {
	Entity string
	ID     int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Entity, e.ID)
}

// AlreadyResolvedError is returned when resolving an instance that is no longer pending.
type AlreadyResolvedError struct {
	InstanceID int64
	Status     InstanceStatus
}

func (e *AlreadyResolvedError) Error() string {
	return fmt.Sprintf("notification %d already %s", e.InstanceID, e.Status)
}

// DependencyError wraps a persistence or job-submission failure.
// Partial is set when a schedule row was written but the instance queue
// could not be brought in line with it.
type DependencyError struct {
	Op      string
	Err     error
	Partial bool
}

func (e *DependencyError) Error() string {
	if e.Partial {
		return fmt.Sprintf("%s (partially applied): %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *DependencyError) Unwrap() error {
	return e.Err
}

// Dependency wraps err into a DependencyError unless it already carries a domain error.
func Dependency(op string, err error) error {
	if err == nil {
		return nil
	}
	if IsUserError(err) {
		return err
	}
	var dep *DependencyError
	if errors.As(err, &dep) {
		return err
	}
	return &DependencyError{Op: op, Err: err}
}

// IsUserError reports whether err is something the end user can act on,
// as opposed to an internal failure.
func IsUserError(err error) bool {
	var (
		ve *ValidationError
		nf *NotFoundError
		ar *AlreadyResolvedError
	)
	return errors.As(err, &ve) || errors.As(err, &nf) || errors.As(err, &ar)
}

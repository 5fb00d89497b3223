package domain

import (
	"errors"
	"fmt"
)

// Error categories. Backends wrap these so callers can branch with errors.Is
// and keep "absent" distinct from "broken".
var (
	// ErrPrecondition marks invalid references, wrong kinds and misuse of the API.
	ErrPrecondition = errors.New("precondition violated")
	// ErrNotFound marks unknown ids, folders and objects.
	ErrNotFound = errors.New("not found")
	// ErrReadOnly is returned by mutating calls on a read-only database.
	ErrReadOnly = errors.New("database is read-only")
	// ErrUnsupported marks a feature the backend does not provide.
	ErrUnsupported = errors.New("unsupported operation")
	// ErrNotInitialized is returned when a database is used before Init or after Shutdown.
	ErrNotInitialized = errors.New("database is not initialized")
)

// NotFoundError reports a missing entity of a known kind.
type NotFoundError struct {
	Kind DataType
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

// Is lets errors.Is(err, ErrNotFound) match.
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// NotFound builds a NotFoundError for id.
func NotFound(id EntityID) error {
	return &NotFoundError{Kind: id.Type(), ID: id.String()}
}

// Preconditionf formats a precondition failure.
func Preconditionf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrPrecondition, fmt.Sprintf(format, args...))
}

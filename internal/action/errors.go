package action

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is matched by every *NotFoundError.
	ErrNotFound = errors.New("action not found")
	// ErrNotStreamable is returned when a handler's result is not guaranteed text.
	ErrNotStreamable = errors.New("action should implement the streamable capability")
)

// NotFoundError reports a failed resolution.
//
// Exactly one of Path or TypeName is set: Path when the definition file is
// missing, TypeName when the definition exists but yields no usable handler.
type NotFoundError struct {
	Path     string
	TypeName string
	Err      error
}

func (e *NotFoundError) Error() string {
	switch {
	case e.Path != "":
		return fmt.Sprintf("action file %s not found", e.Path)
	case e.Err != nil:
		return fmt.Sprintf("type %s not found: %v", e.TypeName, e.Err)
	default:
		return fmt.Sprintf("type %s not found", e.TypeName)
	}
}

func (e *NotFoundError) Unwrap() error { return e.Err }

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// NotStreamable wraps ErrNotStreamable with the logical path that was dispatched.
func NotStreamable(path string) error {
	return fmt.Errorf("%s: %w", path, ErrNotStreamable)
}

package executor

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

var (
	ErrTaskNotFound  = errors.New("task not found")
	ErrDuplicateTask = errors.New("task already registered")
	ErrCycle         = errors.New("task graph contains a cycle")
	ErrUnsafeClean   = errors.New("refusing to clean path outside the working tree")
)

// FilesystemError is a failed write to a destination. It fails the current
// task but never the watch session.
type FilesystemError struct {
	Op   string
	Path string
	Err  error
}

func (e *FilesystemError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *FilesystemError) Unwrap() error { return e.Err }

// AggregateError carries every failure of a parallel group, in declaration
// order of the failing children.
type AggregateError struct {
	Errors []error
}

func (e *AggregateError) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, err := range e.Errors {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("%d task(s) failed: %s", len(e.Errors), strings.Join(msgs, "; "))
}

func (e *AggregateError) Unwrap() []error { return e.Errors }

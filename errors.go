package effection

import (
	"fmt"
	"runtime/debug"
)

// PanicError wraps a panic recovered from an operation body or a cleanup
// action so it can travel the ordinary error path: the task moves to
// erroring and the parent sees the wrapped panic as the task's error.
type PanicError struct {
	Value any
	Stack []byte
}

func newPanicError(v any) *PanicError {
	return &PanicError{Value: v, Stack: debug.Stack()}
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Unwrap exposes the panic value when it was itself an error, so errors.Is
// and errors.As see through the wrapper.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

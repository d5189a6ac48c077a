package effection

import "context"

// taskContextKey is a unique type used as a key for storing Task values in
// a context.
type taskContextKey struct{}

// withTaskContext creates a new context with the task value stored in it.
// This allows the task to be retrieved from the context later.
func withTaskContext(ctx context.Context, t *Task) context.Context {
	return context.WithValue(ctx, taskContextKey{}, t)
}

// TaskFromContext retrieves the Task bound to a context. Returns the task
// and a boolean indicating whether one was found.
func TaskFromContext(ctx context.Context) (*Task, bool) {
	t, ok := ctx.Value(taskContextKey{}).(*Task)
	return t, ok
}

// MustTaskFromContext retrieves the Task bound to a context, panicking if
// not found. Useful when the caller expects the context to definitely come
// from a running operation.
func MustTaskFromContext(ctx context.Context) *Task {
	t, ok := TaskFromContext(ctx)
	if !ok {
		panic("effection: task not found in context")
	}
	return t
}

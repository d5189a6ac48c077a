package effection

import "context"

// Resource acquires an externally owned value and exposes it for the scope
// of a task. Init may register release work with Ensure before returning
// the acquired value; release is then guaranteed by the owning task's
// shutdown, not by caller discipline.
type Resource[T any] interface {
	Init(ctx context.Context, tk *Task) (T, error)
}

// ResourceFunc adapts a function to the Resource interface.
type ResourceFunc[T any] func(ctx context.Context, tk *Task) (T, error)

func (f ResourceFunc[T]) Init(ctx context.Context, tk *Task) (T, error) {
	return f(ctx, tk)
}

// Use acquires r within tk's scope and returns the acquired value. The
// value stays valid until tk shuts down, at which point any cleanup that
// Init registered runs.
func Use[T any](tk *Task, r Resource[T]) (T, error) {
	return r.Init(tk.ctx, tk)
}

package effection

import "context"

// Blocking runs fn on its own goroutine and suspends the task until fn
// returns. It is the bridge for non-cooperative work: fn observes
// cancellation through its context, which ends the instant the task enters
// shutdown. If the task is halted while fn is in flight, the task is
// redirected into shutdown immediately and fn's eventual result is dropped.
//
// The number of in-flight Blocking goroutines per scheduler is bounded; see
// WithBlockingLimit.
func Blocking[T any](tk *Task, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	s := tk.sched
	if s.current != tk {
		panic("effection: Blocking outside the running task")
	}

	ctx := tk.ctx
	if tk.shuttingDown {
		// The task context is already cancelled during shutdown, and the
		// scheduler's base context may be too when that is what triggered the
		// halt. Teardown work must still bridge out, so it runs against an
		// uncancellable context carrying the base context's values.
		ctx = context.WithoutCancel(s.ctx)
	}

	notify := s.notifier()
	token := tk.waitToken()
	go func() {
		if err := s.sem.Acquire(ctx, 1); err != nil {
			notify(func() { s.deliver(tk, token, resumption{err: err}) })
			return
		}
		defer s.sem.Release(1)

		v, err := fn(ctx)
		notify(func() { s.deliver(tk, token, resumption{val: v, err: err}) })
	}()

	r := tk.park()
	if r.halt && !tk.shuttingDown {
		tk.unwind()
	}
	if r.err != nil {
		return zero, r.err
	}
	if v, ok := r.val.(T); ok {
		return v, nil
	}
	return zero, nil
}

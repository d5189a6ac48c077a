package effection

// CleanupFunc is a cleanup action bound to one task. It runs exactly once,
// during the owning task's shutdown phase, regardless of how the task
// terminates. A cleanup action may itself suspend; the owning shutdown does
// not resolve until that suspension resolves. A non-nil error flips the
// task's outcome to errored.
type CleanupFunc func(tk *Task) error

// Ensure registers fn on the calling task's cleanup stack and returns
// immediately. Actions run in strict reverse order of registration.
func (t *Task) Ensure(fn CleanupFunc) {
	if fn == nil {
		panic("effection: Ensure with nil cleanup")
	}
	if t.state.Terminal() {
		panic("effection: Ensure on a terminal task")
	}
	t.cleanups = append(t.cleanups, fn)
}

// runCleanups pops the cleanup stack in reverse registration order. A
// failing or panicking action flips the outcome to errored but never stops
// the remaining actions; every registered action runs.
func (t *Task) runCleanups() {
	for len(t.cleanups) > 0 {
		n := len(t.cleanups) - 1
		fn := t.cleanups[n]
		t.cleanups = t.cleanups[:n]

		t.fail(t.runCleanup(fn))
		t.sched.metrics.cleanups.Inc()
	}
}

func (t *Task) runCleanup(fn CleanupFunc) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = newPanicError(p)
		}
	}()
	return fn(t)
}

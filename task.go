package effection

import (
	"context"
	"errors"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
	"github.com/webriots/coro"
)

// Operation is a suspendable unit of work driven by a Task. The context is
// cancelled the instant the task enters its shutdown phase. An operation
// suspends by calling Task methods (Await, Halt, Sleep, Suspend, Blocking),
// never by blocking the OS thread, and terminates with a value or an error.
type Operation func(ctx context.Context, tk *Task) (any, error)

// void is the coroutine yield type; tasks communicate with the scheduler
// only through resumptions, so nothing flows the other way.
type void struct{}

// haltUnwind is panicked at a suspension point to abandon ordinary
// execution and redirect the task into shutdown. The trampoline recovers it.
type haltUnwind struct{}

// waiter is a task parked in Await or Halt until another task terminates.
type waiter struct {
	task  *Task
	token uint64
}

// Task is the runtime unit: it drives one operation inside a resumable
// coroutine, owns zero or more child tasks, and cannot reach a terminal
// state while any child is non-terminal.
type Task struct {
	id     string
	sched  *Scheduler
	op     Operation
	parent *Task

	ctx       context.Context
	ctxCancel context.CancelFunc

	resume  func(resumption) bool
	suspend func() resumption

	state    State
	result   any
	err      error
	children []*Task
	cleanups []CleanupFunc
	signals  []*Signal
	waiters  []waiter

	// slot holds the pending resumption while the task sits on the run
	// queue; wakeSeq invalidates stale external wakeups.
	slot    resumption
	queued  bool
	wakeSeq uint64

	haltRequested bool
	shuttingDown  bool
	unwound       bool
}

func newTask(s *Scheduler, op Operation, parent *Task) *Task {
	t := &Task{
		id:     ulid.Make().String(),
		sched:  s,
		op:     op,
		parent: parent,
		state:  Pending,
	}

	// The task context carries the values of its parent's context but is
	// cancelled only at this task's own shutdown entry. The halt cascade
	// already enforces subtree ordering; inheriting cancellation here would
	// let a bridged call observe cancellation and raise before the cascade
	// reaches its task.
	base := s.ctx
	if parent != nil {
		base = parent.ctx
	}
	t.ctx, t.ctxCancel = context.WithCancel(withTaskContext(context.WithoutCancel(base), t))

	// Every coroutine is driven to completion by the run loop, so the
	// cancel half of the pair is never needed.
	resume, _ := coro.New(
		func(_ func(void) resumption, suspend func() resumption) (z void) {
			t.suspend = suspend
			t.main()
			return
		},
	)
	t.resume = func(r resumption) bool {
		_, ok := resume(r)
		return ok
	}

	s.tasks[t.id] = t
	s.metrics.spawned.Inc()
	s.metrics.active.Inc()
	s.log.WithFields(logrus.Fields{"task_id": t.id}).Debug("task spawned")
	return t
}

// ID returns the task's unique identifier.
func (t *Task) ID() string { return t.id }

// State returns the task's current lifecycle state.
func (t *Task) State() State { return t.state }

// Result returns the task's terminal value and error. Before the task is
// terminal both are nil; a halted task yields neither value nor error.
func (t *Task) Result() (any, error) {
	if !t.state.Terminal() {
		return nil, nil
	}
	return t.result, t.err
}

// Context returns the task's context. It is cancelled the instant the task
// enters any shutdown phase, for bridging to context-aware APIs.
func (t *Task) Context() context.Context { return t.ctx }

// Spawn starts op as a child of t, bound to t's lifetime: halting or
// destroying t halts the child first. The child starts in Pending and runs
// when the scheduler next takes control.
func (t *Task) Spawn(op Operation) *Task {
	if op == nil {
		panic("effection: Spawn with nil operation")
	}
	if t.sched.current != t {
		panic("effection: Spawn outside the running task")
	}
	if t.shuttingDown || t.state.Terminal() {
		panic("effection: Spawn on a task in shutdown")
	}

	child := newTask(t.sched, op, t)
	t.children = append(t.children, child)
	t.sched.ready(child, resumption{})
	return child
}

// Await suspends caller until t is terminal. It returns t's value when t
// completed, re-raises t's error unchanged when t errored, and yields
// neither value nor error when t halted.
func (t *Task) Await(caller *Task) (any, error) {
	t.checkCaller(caller)
	if t == caller {
		panic("effection: task cannot await itself")
	}
	if t.state.Terminal() {
		return t.result, t.err
	}

	t.waiters = append(t.waiters, waiter{task: caller, token: caller.waitToken()})
	r := caller.park()
	if r.halt && !caller.shuttingDown {
		caller.unwind()
	}
	return r.val, r.err
}

// Halt cancels t and suspends caller until t and every descendant are
// terminal. Repeated halts coalesce into one shutdown sequence; cleanup
// never re-runs. Halt returns nil unless t's teardown errored.
func (t *Task) Halt(caller *Task) error {
	t.checkCaller(caller)
	t.sched.requestHalt(t)
	if t.state.Terminal() {
		return t.err
	}

	t.waiters = append(t.waiters, waiter{task: caller, token: caller.waitToken()})
	r := caller.park()
	if r.halt && !caller.shuttingDown {
		caller.unwind()
	}
	return r.err
}

// Sleep suspends the task for at least d. Halting the task preempts the
// sleep; during the shutdown phase the full duration always elapses.
func (t *Task) Sleep(d time.Duration) {
	if t.sched.current != t {
		panic("effection: Sleep outside the running task")
	}

	notify := t.sched.notifier()
	token := t.waitToken()
	timer := time.AfterFunc(d, func() {
		notify(func() { t.sched.deliver(t, token, resumption{}) })
	})

	r := t.park()
	if r.halt && !t.shuttingDown {
		timer.Stop()
		t.unwind()
	}
}

// Suspend parks the task until it is halted. It never returns normally:
// the task resumes only to be redirected into shutdown.
func (t *Task) Suspend() {
	if t.sched.current != t {
		panic("effection: Suspend outside the running task")
	}
	if t.shuttingDown {
		panic("effection: Suspend during shutdown would never resume")
	}
	for {
		r := t.park()
		if r.halt && !t.shuttingDown {
			t.unwind()
		}
	}
}

func (t *Task) checkCaller(caller *Task) {
	if caller == nil {
		panic("effection: nil calling task")
	}
	if caller.sched != t.sched {
		panic("effection: calling task belongs to another scheduler")
	}
}

// waitToken marks the start of a wait. External wakeups present the token
// back to the scheduler; a token from a preempted wait no longer matches.
func (t *Task) waitToken() uint64 { return t.wakeSeq }

// park suspends the coroutine until the scheduler delivers a resumption. A
// task whose halt was requested while it was running does not suspend at
// all: the halt applies at this, its next suspension point.
func (t *Task) park() resumption {
	if t.sched.current != t {
		panic("effection: suspension outside the running task")
	}
	if t.haltRequested && !t.shuttingDown {
		return resumption{halt: true}
	}
	return t.suspend()
}

// unwind abandons ordinary execution. The panic is recovered by the task's
// trampoline, which then runs the shutdown cascade.
func (t *Task) unwind() {
	panic(haltUnwind{})
}

// main is the body of the task's coroutine: it runs the operation, then the
// shutdown cascade, and leaves the task terminal before returning. Body,
// child halts, and cleanup all execute here, resumed only by the scheduler.
func (t *Task) main() {
	if !t.haltRequested {
		t.transition(Running)
		val, err := t.runBody()
		switch {
		case t.unwound:
			// Preempted at a suspension point; the shutdown state was
			// already set when the halt or error was requested.
		case err != nil:
			t.enterShutdown(Erroring, err)
		default:
			t.result = val
			t.enterShutdown(Completing, nil)
		}
	}

	t.shuttingDown = true
	t.haltChildren()
	t.runCleanups()

	term := t.state.terminal()
	if term != Completed {
		t.result = nil
	}
	t.transition(term)
	t.finish()
}

// runBody executes the operation, converting panics to errors and the
// unwind sentinel to the unwound flag.
func (t *Task) runBody() (val any, err error) {
	defer func() {
		if p := recover(); p != nil {
			if _, ok := p.(haltUnwind); ok {
				t.unwound = true
				return
			}
			err = newPanicError(p)
		}
	}()
	return t.op(t.ctx, t)
}

// haltChildren drives every child to a terminal state: siblings in spawn
// order, each fully terminal before the next, so grandchildren finish
// before children. Even successful completion cancels leftover children.
func (t *Task) haltChildren() {
	for len(t.children) > 0 {
		c := t.children[0]
		t.sched.requestHalt(c)
		for !c.state.Terminal() {
			t.park()
		}
	}
}

// enterShutdown moves the task into a transitional shutdown state, firing
// its cancellation signals and cancelling its context before any cleanup
// can run. On a task already shutting down only the error is folded in.
func (t *Task) enterShutdown(to State, err error) {
	if !t.state.shutdownPhase() && !t.state.Terminal() {
		t.transition(to)
		for _, sg := range t.signals {
			sg.fire()
		}
		t.signals = nil
		t.ctxCancel()
	}
	t.fail(err)
}

// fail folds err into the task's outcome. The first error becomes the
// result error and wins precedence; later errors are joined into its chain
// so teardown failures are never dropped. An error during completing or
// halting escalates the outcome to erroring.
func (t *Task) fail(err error) {
	if err == nil {
		return
	}
	if t.err == nil {
		t.err = err
	} else if t.err != err {
		t.err = errors.Join(t.err, err)
	}
	if t.state == Completing || t.state == Halting {
		t.transition(Erroring)
	}
}

func (t *Task) transition(to State) {
	from := t.state
	t.state = to
	t.sched.log.WithFields(logrus.Fields{
		"task_id": t.id,
		"from":    from.String(),
		"to":      to.String(),
	}).Debug("task transition")
}

// finish runs after the terminal transition: it releases the arena slot,
// settles waiters, detaches from the parent, propagates an errored outcome
// upward, and wakes a parent parked in its own shutdown cascade. A halted
// child never alters its parent.
func (t *Task) finish() {
	s := t.sched

	delete(s.tasks, t.id)
	s.metrics.active.Dec()
	s.metrics.terminated.WithLabelValues(outcomeLabel(t.state)).Inc()
	s.log.WithFields(logrus.Fields{
		"task_id": t.id,
		"outcome": t.state.String(),
	}).Debug("task terminal")

	for _, w := range t.waiters {
		s.deliver(w.task, w.token, resumption{val: t.result, err: t.err})
	}
	t.waiters = nil

	p := t.parent
	if p == nil || p.state.Terminal() {
		return
	}

	for i, c := range p.children {
		if c == t {
			p.children = append(p.children[:i], p.children[i+1:]...)
			break
		}
	}

	if t.state == Errored {
		if p.shuttingDown {
			p.fail(t.err)
		} else {
			s.forceError(p, t.err)
		}
	}
	if p.shuttingDown {
		s.ready(p, resumption{})
	}
}

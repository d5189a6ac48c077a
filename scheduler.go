package effection

import (
	"context"
	"io"
	"sync"

	"github.com/gammazero/deque"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
)

// DefaultBlockingLimit bounds how many Blocking calls across one scheduler
// may run host goroutines at the same time.
const DefaultBlockingLimit = 128

// resumption is what a suspended task is resumed with: a value or error to
// deliver, or a halt redirecting the task into shutdown.
type resumption struct {
	val  any
	err  error
	halt bool
}

// merge folds a later wakeup into a pending one. A halt always survives the
// merge; the first value and error win.
func (r *resumption) merge(o resumption) {
	if o.halt {
		r.halt = true
	}
	if r.err == nil {
		r.err = o.err
	}
	if r.val == nil {
		r.val = o.val
	}
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger for task lifecycle events. The default logger
// discards all output.
func WithLogger(l *logrus.Logger) Option {
	return func(s *Scheduler) { s.log = logrus.NewEntry(l) }
}

// WithRegisterer registers the scheduler's metrics with r.
func WithRegisterer(r prometheus.Registerer) Option {
	return func(s *Scheduler) { s.reg = r }
}

// WithBlockingLimit sets the concurrency bound for Blocking calls.
func WithBlockingLimit(n int64) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.limit = n
		}
	}
}

// Scheduler owns the task tree and is the sole authority mutating task
// state. All task bodies run on the goroutine that called Run, resumed one
// at a time from the run queue, so every transition is observed atomically
// and no child can outlive a terminal parent.
type Scheduler struct {
	log     *logrus.Entry
	reg     prometheus.Registerer
	metrics *metrics
	limit   int64
	sem     *semaphore.Weighted

	ctx     context.Context
	runq    deque.Deque[*Task]
	wake    chan func()
	tasks   map[string]*Task
	current *Task
	root    *Task

	mu      sync.Mutex // guards running, root, and done across goroutines
	running bool
	done    chan struct{}
}

// New creates a Scheduler. A scheduler runs one tree at a time and may be
// reused for sequential Run calls; create one per test for isolation.
func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		wake:  make(chan func(), DefaultBlockingLimit),
		tasks: make(map[string]*Task),
		limit: DefaultBlockingLimit,
	}

	quiet := logrus.New()
	quiet.SetOutput(io.Discard)
	s.log = logrus.NewEntry(quiet)

	for _, opt := range opts {
		opt(s)
	}

	s.sem = semaphore.NewWeighted(s.limit)
	s.metrics = newMetrics(s.reg)

	closed := make(chan struct{})
	close(closed)
	s.done = closed
	return s
}

// Run spawns op as the root task and drives the whole tree until the root
// is terminal, which by construction means every descendant is terminal
// and every cleanup action has run. It returns the root's value, the root's
// error re-raised unchanged, or neither when the root was halted.
//
// Cancelling ctx halts the root, so external context cancellation bridges
// into one cooperative shutdown of the tree.
func (s *Scheduler) Run(ctx context.Context, op Operation) (any, error) {
	if op == nil {
		panic("effection: Run with nil operation")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		panic("effection: scheduler is already running")
	}
	s.running = true
	s.done = make(chan struct{})
	s.mu.Unlock()

	// Drop events left over from a previous run; their deliveries are
	// token-guarded no-ops but must not block senders' buffer space.
drain:
	for {
		select {
		case <-s.wake:
		default:
			break drain
		}
	}

	s.ctx = ctx
	s.tasks = make(map[string]*Task)
	root := newTask(s, op, nil)

	s.mu.Lock()
	s.root = root
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		close(s.done)
		s.mu.Unlock()
	}()

	s.ready(root, resumption{})

	done := ctx.Done()
	for !root.state.Terminal() {
		// External events first, so halts coalesce promptly.
		select {
		case fn := <-s.wake:
			fn()
			continue
		default:
		}

		if s.runq.Len() == 0 {
			select {
			case fn := <-s.wake:
				fn()
			case <-done:
				done = nil
				s.requestHalt(root)
			}
			continue
		}

		s.step(s.runq.PopFront())
	}

	return root.result, root.err
}

// Shutdown requests a halt of the root task. It is safe to call from any
// goroutine and returns without waiting for the halt to finish; requests
// arriving when no tree is running are dropped.
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	wake, done, root := s.wake, s.done, s.root
	s.mu.Unlock()

	if root == nil {
		return
	}
	select {
	case wake <- func() {
		if !root.state.Terminal() {
			s.requestHalt(root)
		}
	}:
	case <-done:
	}
}

// ActiveTasks returns the number of tasks that have not reached a terminal
// state. Intended for inspection after Run or from within task code.
func (s *Scheduler) ActiveTasks() int { return len(s.tasks) }

// notifier returns a function that hands events to the run loop from other
// goroutines; events arriving after the run has finished are dropped. Must
// be created on the loop thread.
func (s *Scheduler) notifier() func(fn func()) {
	wake, done := s.wake, s.done
	return func(fn func()) {
		select {
		case wake <- fn:
		case <-done:
		}
	}
}

// ready merges a resumption into the task's pending slot and queues it.
func (s *Scheduler) ready(t *Task, r resumption) {
	t.slot.merge(r)
	if !t.queued {
		t.queued = true
		s.runq.PushBack(t)
	}
}

// deliver hands an externally produced resumption to a suspended task. The
// token guards against wakeups for a wait that was already preempted or
// resumed; stale wakeups are dropped.
func (s *Scheduler) deliver(t *Task, token uint64, r resumption) {
	if t.state.Terminal() || token != t.wakeSeq {
		return
	}
	s.ready(t, r)
}

// step resumes one task with its pending resumption. Bumping the wake
// sequence first invalidates any in-flight wakeup for the wait that is
// being resumed.
func (s *Scheduler) step(t *Task) {
	t.queued = false
	r := t.slot
	t.slot = resumption{}
	t.wakeSeq++

	s.current = t
	t.resume(r)
	s.current = nil
}

// requestHalt moves t into its shutdown sequence. Halting is idempotent: a
// second request on a task already shutting down coalesces into the
// in-progress sequence, and halting never propagates to the parent.
func (s *Scheduler) requestHalt(t *Task) {
	if t.state.Terminal() || t.haltRequested {
		return
	}
	t.haltRequested = true
	if t.state.shutdownPhase() {
		// Already completing or erroring; the cascade in progress stands.
		return
	}
	t.enterShutdown(Halting, nil)
	if s.current != t {
		s.ready(t, resumption{halt: true})
	}
}

// forceError drives a running task into erroring with err, preempting its
// body at the next suspension point. Used when a child's errored outcome
// surfaces to its parent.
func (s *Scheduler) forceError(t *Task, err error) {
	if t.state.Terminal() {
		return
	}
	t.enterShutdown(Erroring, err)
	if t.haltRequested {
		return
	}
	t.haltRequested = true
	if s.current != t {
		s.ready(t, resumption{halt: true})
	}
}

package effection

import "sync"

// Signal is a derived, read-only, one-shot cancellation notification bound
// to exactly one task. It fires the instant that task enters any shutdown
// phase, strictly before the task's own cleanup stack runs, giving
// listeners a chance to cancel non-cooperative work before release.
//
// Unlike task state, a Signal is safe to observe from any goroutine.
type Signal struct {
	noCopy noCopy

	mu    sync.Mutex
	done  chan struct{}
	fired bool
	next  int
	subs  []subscriber
}

type subscriber struct {
	id int
	fn func()
}

func newSignal() *Signal {
	return &Signal{done: make(chan struct{})}
}

// CancellationSignal returns a one-shot signal bound to this task. A signal
// created after the task already entered shutdown fires immediately.
func (t *Task) CancellationSignal() *Signal {
	sg := newSignal()
	if t.state.shutdownPhase() || t.state.Terminal() {
		sg.fire()
		return sg
	}
	t.signals = append(t.signals, sg)
	return sg
}

// Done returns a channel closed when the signal fires.
func (sg *Signal) Done() <-chan struct{} { return sg.done }

// Fired reports whether the signal has fired.
func (sg *Signal) Fired() bool {
	sg.mu.Lock()
	defer sg.mu.Unlock()
	return sg.fired
}

// Subscribe registers fn to run when the signal fires; if the signal has
// already fired, fn runs immediately. The returned function cancels the
// subscription.
func (sg *Signal) Subscribe(fn func()) (cancel func()) {
	sg.mu.Lock()
	if sg.fired {
		sg.mu.Unlock()
		fn()
		return func() {}
	}
	id := sg.next
	sg.next++
	sg.subs = append(sg.subs, subscriber{id: id, fn: fn})
	sg.mu.Unlock()

	return func() {
		sg.mu.Lock()
		defer sg.mu.Unlock()
		for i, sub := range sg.subs {
			if sub.id == id {
				sg.subs = append(sg.subs[:i], sg.subs[i+1:]...)
				return
			}
		}
	}
}

// fire delivers the one-shot notification. Later calls are no-ops, so a
// signal fires exactly once per bound task across every termination path.
func (sg *Signal) fire() {
	sg.mu.Lock()
	if sg.fired {
		sg.mu.Unlock()
		return
	}
	sg.fired = true
	subs := sg.subs
	sg.subs = nil
	close(sg.done)
	sg.mu.Unlock()

	for _, sub := range subs {
		sub.fn()
	}
}

package effection

// State is the lifecycle state of a Task. A task moves from Pending through
// Running into exactly one transitional shutdown state, and from there to
// that state's terminal counterpart. Terminal states are final.
type State uint8

const (
	// Pending means the task has been created but not yet scheduled.
	Pending State = iota
	// Running means the task's operation is executing or suspended.
	Running
	// Completing means the operation finished with a value and the task is
	// halting leftover children and running its cleanup stack.
	Completing
	// Halting means the task was cancelled and is shutting down.
	Halting
	// Erroring means the task is shutting down because of an error.
	Erroring
	// Completed means the task finished with a value.
	Completed
	// Halted means the task was cancelled; a halt is not a failure.
	Halted
	// Errored means the task finished carrying an error.
	Errored
)

// Terminal reports whether s is a final state.
func (s State) Terminal() bool {
	return s >= Completed
}

// shutdownPhase reports whether s is one of the transitional shutdown
// states. Cancellation signals fire when a task enters such a state.
func (s State) shutdownPhase() bool {
	return s == Completing || s == Halting || s == Erroring
}

// terminal returns the terminal counterpart of a transitional state.
func (s State) terminal() State {
	switch s {
	case Completing:
		return Completed
	case Halting:
		return Halted
	case Erroring:
		return Errored
	}
	panic("effection: no terminal counterpart for state " + s.String())
}

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Running:
		return "running"
	case Completing:
		return "completing"
	case Halting:
		return "halting"
	case Erroring:
		return "erroring"
	case Completed:
		return "completed"
	case Halted:
		return "halted"
	case Errored:
		return "errored"
	}
	return "unknown"
}

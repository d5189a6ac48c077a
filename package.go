// Package effection is a structured-concurrency runtime: cooperative tasks
// organized into a parent/child tree with deterministic cancellation,
// upward error propagation, and guaranteed cleanup on every termination
// path. Task bodies never run in parallel; they suspend and are resumed by
// a single scheduler, so state transitions are observed atomically.
//
// Key components:
//
//   - Task: the runtime unit. A task drives one Operation, owns its child
//     tasks, and exposes Halt, Await, and its observable State. Halting a
//     task halts its whole subtree before the halt completes; a task's
//     error forces its parent into erroring, while a halt never does.
//
//   - Scheduler: owns the task tree and is the sole authority mutating
//     task state. Run drives the tree until the root task is terminal.
//
//   - Ensure: registers a cleanup action on the calling task, guaranteed
//     to run exactly once during that task's shutdown, in reverse order of
//     registration. Cleanup actions may themselves suspend.
//
//   - Resource: an acquire/use/release pattern built on Ensure, so release
//     is guaranteed by the runtime rather than caller discipline.
//
//   - Signal: a one-shot cancellation broadcast that fires the instant its
//     task enters shutdown, for bridging to non-cooperative APIs.
//
//   - Blocking: runs a non-cooperative function on its own goroutine
//     beneath a suspension point, cancelled through the task's context.
package effection

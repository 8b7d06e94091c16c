// Package workflow implements the step state machine that sequences a
// research session: a resumable executor driving a typed Context through
// registered step handlers, validating every transition against a
// closed, startup-validated step registry.
//
// # Steps and Transitions
//
// A [Step] declares its identifier, whether it is repeatable, the set of
// legal next-step targets, and whether it is a human checkpoint. Its
// [Handler] returns exactly one [Transition]:
//
//	Continue(next) — move to next (must be a declared branch target)
//	Repeat()       — re-enter the same step (repeatable steps only)
//	Branch(target) — runtime-chosen move within the declared targets
//	Suspend(reason)— checkpoint and hand control back, non-blocking
//	Fail(err)      — halt with error, pre-step context preserved
//	Halt(reason)   — deliberate domain halt, not an error
//
// Transitions are explicit, exhaustively-matched values — never inferred
// from fall-through code paths. A Continue or Branch to a target outside
// the step's declared set halts the instance with an invalid-transition
// error rather than executing it.
//
// # Context
//
// [Context] is a typed key/value store owned by exactly one instance.
// Typed reads via [Value] fail fast with [MissingKeyError] instead of
// returning defaults. Snapshot/Restore round-trips it through gob for
// checkpointing.
//
// # Checkpoints and Resume
//
// The executor checkpoints after every applied step: current step,
// context snapshot, history, outstanding task ids, as one atomic write.
// [Executor.Resume] restores all of it and re-enters the suspended step
// with the decision folded into Context under [DecisionKey]. A corrupt
// checkpoint is fatal — it is never silently reinitialized.
//
// # Auto mode
//
// An instance created with autoMode resolves every Suspend through the
// configured default decision (halt or approve) instead of waiting for
// input, so the same state machine serves interactive sessions and
// unattended batch runs.
//
// # Task dispatch
//
// Step handlers offload long-running external work (literature searches,
// scoring calls, full-text fetches) through [Dispatcher]: Dispatch
// enqueues a task for the worker pool, Await/Gather fold results back
// into the handler. Handlers obtain their executing instance via
// [InstanceFromContext]. Dispatched task ids ride along in checkpoints
// so a resumed instance re-subscribes to work already in flight.
package workflow

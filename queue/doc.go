// Package queue provides admission control for the task queue: a bounded
// depth gate applied at enqueue time and a token-bucket rate limit
// applied at claim time.
//
// # Backpressure
//
// The queue holds at most MaxDepth unfinished tasks. When the gate is
// full, what happens to an enqueue depends on the configured policy:
//
//   - [conductor.BackpressureReject]: Admit returns [conductor.ErrQueueFull] immediately.
//     The caller decides whether to retry later.
//   - [conductor.BackpressureBlock]: Admit blocks until a slot frees up or the caller's
//     context is cancelled.
//
// A slot is held from successful enqueue until the task reaches a
// terminal state (completed, dead, or cancelled). The executor and
// reaper call [Gate.Release] on those transitions.
//
//	g := queue.NewGate(queue.Config{MaxDepth: 1000, Policy: conductor.BackpressureReject})
//	if err := g.Admit(ctx); err != nil {
//	    return err // conductor.ErrQueueFull under BackpressureReject
//	}
//	if err := store.EnqueueTask(ctx, t); err != nil {
//	    g.Release() // slot was never used
//	    return err
//	}
//
// # Claim throttling
//
// ClaimRate bounds how fast the worker pool drains the queue, which in
// turn bounds the request rate against the external services the task
// handlers call. The pool checks [Gate.AllowClaim] before each claim
// round; a denied round is retried on the next poll tick.
//
// After a restart, call [Gate.Prime] with the store's current unfinished
// task count so the in-memory depth matches the durable queue.
package queue

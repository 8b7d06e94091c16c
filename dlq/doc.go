// Package dlq provides the dead letter queue for tasks that have
// exhausted their attempt budget. It supports inspection, replay, and
// purging.
//
// When a task fails and MaxAttempts has been reached, the executor calls
// [Service.Push] to move it into the DLQ. The original payload, error
// message, and attempt counts are preserved for debugging.
//
// # Entry
//
// An [Entry] captures:
//   - TaskID / TaskName / InstanceID: original task identity
//   - Payload: the raw JSON payload at time of failure
//   - Error: the final error message
//   - Attempts / MaxAttempts: exhausted attempt budget
//   - FailedAt: when the terminal failure occurred
//   - ReplayedAt: set when the entry is replayed (nil if not yet replayed)
//
// # Service
//
// [Service] wraps the DLQ store with high-level operations:
//
//	svc := dlq.NewService(store, taskStore)
//
//	// Push is called automatically by the executor on terminal failure.
//	svc.Push(ctx, deadTask, err)
//
//	// Access the underlying store for list/get/purge/count.
//	svc.DLQStore().ListDLQ(ctx, dlq.ListOpts{Limit: 50})
//
// # Replay
//
// Replaying an entry re-enqueues the original task with the same payload,
// a fresh ID, and a reset attempt count. Replay sets ReplayedAt on the
// DLQ entry so operators can tell resolved entries from open ones.
package dlq

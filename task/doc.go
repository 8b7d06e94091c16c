// Package task defines the task entity, state machine, typed definitions,
// and store interface.
//
// # Task Entity
//
// A [Task] represents a unit of dispatchable work. It embeds
// [conductor.Entity] for timestamps, carries a typed payload (JSON), and
// progresses through a state machine:
//
//	pending → running → completed
//	pending → running → retrying → running → ...
//	pending → running → dead (attempt budget exhausted)
//	pending → cancelled
//
// Fields of note:
//   - Priority: high/normal/low; higher is always claimed first
//   - MaxAttempts / Attempts: total attempt budget, including attempts
//     lost to lease expiry
//   - IdempotencyKey: rejects duplicate enqueues while a live task with
//     the same key exists
//   - RunAt: earliest time the task may be claimed
//   - LeaseExpiresAt: visibility deadline while running
//
// # Defining a Task
//
// Use [Definition] with a typed handler. The payload is JSON-serialized
// at enqueue time and deserialized before the handler runs; the handler's
// result bytes are persisted on the task:
//
//	var ScoreAbstract = task.NewDefinition("score_abstract",
//	    func(ctx context.Context, input ScoreInput) ([]byte, error) {
//	        s, err := scorer.Score(ctx, input.Abstract, input.Question)
//	        if err != nil {
//	            return nil, err
//	        }
//	        return json.Marshal(s)
//	    },
//	    task.WithPriority(task.PriorityHigh),
//	)
//
// # Registry
//
// [Registry] maps task names to type-erased [HandlerFunc] values.
// Register definitions at startup via [RegisterDefinition]:
//
//	task.RegisterDefinition(registry, ScoreAbstract)
//	task.RegisterDefinition(registry, FetchFullText)
//
// The engine package provides higher-level engine.Register and
// engine.Enqueue wrappers.
package task

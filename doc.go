// Package conductor is the workflow orchestration core of a
// biomedical-literature research assistant. It sequences
// language-model-backed research steps through a resumable state
// machine, backed by a durable priority task queue and a bounded
// worker pool.
//
// Conductor is a library, not a service. Construct an Orchestrator,
// give it a store, register step and task handlers, and call Run.
//
// # Quick Start
//
//	orc, err := conductor.New(
//	    conductor.WithStore(memStore),
//	    conductor.WithConcurrency(8),
//	)
//
// # Architecture
//
// Conductor follows a composable store pattern where each subsystem
// (task, workflow, dlq) defines its own store interface. A single
// backend implements all of them.
//
// The workflow executor runs one research instance at a time through
// registered steps. Step handlers return explicit Transition values
// (continue, repeat, branch, suspend, fail, halt); the executor
// validates every transition against the step registry, so an illegal
// branch is a checked error rather than a silent fall-through. Long
// operations — literature searches, scoring calls, citation extraction —
// are dispatched as tasks into the queue and drained concurrently by
// the worker pool, with retry, backoff, and dead-lettering.
//
// All entity IDs use TypeID — type-prefixed, K-sortable, UUIDv7-based,
// compile-time safe identifiers.
package conductor

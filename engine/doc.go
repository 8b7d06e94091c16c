// Package engine wires all Conductor subsystems together and provides
// the primary application-level API for registering and running work.
//
// The engine package exists to break a fundamental import cycle: the
// root conductor package defines Entity and Config (imported by task,
// workflow, etc.) and therefore cannot import those packages back.
// Engine sits above all subsystem packages and below the application
// layer.
//
// # Building an Engine
//
//	o, err := conductor.New(
//	    conductor.WithStore(st),
//	    conductor.WithConcurrency(8),
//	    conductor.WithBackpressure(1000, conductor.BackpressureReject),
//	)
//
//	eng, err := engine.Build(o, "plan_search",
//	    engine.WithExtension(stream.NewBroker(logger)),
//	    engine.WithBackoff(backoff.NewFullJitter(time.Second, time.Minute)),
//	)
//
// # Registering Work
//
//	// Task handlers (closed set, checked at claim time)
//	engine.Register(eng, searchPubmed)
//
//	// Workflow steps (closed set, validated by Start)
//	eng.RegisterStep(workflow.Step{ID: "plan_search", BranchTargets: ...}, planSearch)
//
// # Running
//
//	if err := eng.Start(ctx); err != nil { ... }     // validates steps, starts workers
//	outcome, err := eng.Run(ctx, seed, false)        // new instance
//	outcome, err = eng.Resume(ctx, instID, "approve") // suspended instance
//	os.Exit(outcome.ExitCode())
package engine

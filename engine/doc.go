// Package engine wires all Conveyor subsystems together. It owns the
// job registry, hook registry, notification broker, middleware chain,
// and worker pool, and exposes the submit/query/subscribe operations
// that make up the public surface of the system.
//
// This package exists to break the import cycle: the root conveyor
// package defines Entity and Config (imported by job, queue, etc.) and
// so cannot import those packages back. The engine package sits above
// all subsystem packages and below the application layer.
//
// Typical usage:
//
//	cfg, _ := conveyor.FromEnv()
//	eng, err := engine.New(cfg, memory.New(), queue.NewMemory(cfg.QueueCapacity), logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	engine.Register(eng, job.NewDefinition("email:send", sendEmail))
//
//	if err := eng.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer eng.Stop(ctx)
//
//	j, err := engine.Submit(ctx, eng, "acme", "email:send", EmailPayload{To: "ops@acme.test"})
package engine

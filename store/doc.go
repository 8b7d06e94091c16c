// Package store defines the aggregate persistence interface.
//
// Each subsystem (task, workflow, dlq) defines its own store interface.
// The composite [Store] composes them all. A single backend need only
// implement Store to satisfy every subsystem's persistence contract.
//
// The composite interface:
//
//	type Store interface {
//	    task.Store
//	    workflow.Store
//	    dlq.Store
//
//	    Migrate(ctx context.Context) error
//	    Ping(ctx context.Context) error
//	    Close() error
//	}
//
// # Available Backends
//
//   - store/memory — in-memory store for development and testing
//   - store/bun — PostgreSQL backend using the Bun ORM
//
// # Usage
//
//	import (
//	    "github.com/uptrace/bun"
//	    "github.com/uptrace/bun/dialect/pgdialect"
//	    "github.com/uptrace/bun/driver/pgdriver"
//	    bunstore "github.com/medscribe/conductor/store/bun"
//	)
//
//	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
//	db := bun.NewDB(sqldb, pgdialect.New())
//	s := bunstore.New(db)
//	defer s.Close()
//
// # Migrations
//
// Call Migrate once at startup to create or update the schema:
//
//	if err := s.Migrate(ctx); err != nil {
//	    log.Fatal(err)
//	}
package store

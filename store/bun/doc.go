// Package bunstore implements store.Store using the Bun ORM with
// PostgreSQL dialect. This is the durable backend for production
// deployments: claims use SELECT FOR UPDATE SKIP LOCKED, bulk state
// updates and stats run as single statements, and the idempotency
// guarantee rides on a partial unique index.
//
// The caller owns the *bun.DB lifecycle — bunstore never closes it.
// Pass the db handle through the constructor:
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
//	store := bunstore.New(db)
//	store.Migrate(ctx)
package bunstore

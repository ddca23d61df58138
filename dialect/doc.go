// Package dialect defines the narrow contract between the strata core and
// the relational store that executes its queries.
//
// The core never talks to database/sql directly. It compiles queries and
// hands them to a Driver, an interface small enough to be satisfied by a
// real connection pool, a transaction, or a test double:
//
//	type Driver interface {
//	    Exec(ctx context.Context, query string, args, v any) error
//	    Query(ctx context.Context, query string, args, v any) error
//	    Tx(ctx context.Context) (Tx, error)
//	    Close() error
//	    Dialect() string
//	}
//
// The supported dialects are identified by constants:
//
//	dialect.Postgres = "postgres"
//	dialect.MySQL    = "mysql"
//	dialect.SQLite   = "sqlite"
//
// The dialect/sql sub-package provides the database/sql-backed
// implementation together with the SQL statement builder.
//
// Wrapping a driver with Debug logs every operation:
//
//	drv, err := sql.Open(dialect.SQLite, "file:data.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	sess := strata.NewSession(dialect.Debug(drv))
package dialect

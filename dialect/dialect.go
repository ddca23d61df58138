package dialect

import (
	"context"
	"fmt"
	"log"
)

// Dialect names of the supported relational stores.
const (
	MySQL    = "mysql"
	SQLite   = "sqlite"
	Postgres = "postgres"
)

// ExecQuerier wraps the two standard database operations.
//
// The `v` argument is a pointer to the operation result: *sql.Result for
// Exec, *sql.Rows (wrapped) for Query. It stays untyped so transactions
// and connections share one contract.
type ExecQuerier interface {
	// Exec executes a query that does not return records.
	Exec(ctx context.Context, query string, args, v any) error
	// Query executes a query that returns rows.
	Query(ctx context.Context, query string, args, v any) error
}

// Driver is the minimum interface a storage driver must implement.
type Driver interface {
	ExecQuerier
	// Tx starts and returns a new transaction.
	Tx(ctx context.Context) (Tx, error)
	// Close closes the underlying connection.
	Close() error
	// Dialect returns the dialect name of the driver.
	Dialect() string
}

// Tx is a driver-level transaction.
type Tx interface {
	ExecQuerier
	Commit() error
	Rollback() error
}

// NopTx returns a Tx that executes on the driver without transaction
// semantics. Commit and Rollback are no-ops.
func NopTx(d Driver) Tx {
	return nopTx{d}
}

type nopTx struct {
	Driver
}

func (nopTx) Commit() error   { return nil }
func (nopTx) Rollback() error { return nil }

// Logger is the logging function the debug driver reports through.
// The standard logger satisfies it via log.Println.
type Logger func(...any)

// DebugDriver is a driver that logs all driver operations.
type DebugDriver struct {
	Driver
	log Logger
}

// Debug wraps the given driver and logs every operation through the given
// loggers. When none is supplied, it defaults to log.Println.
func Debug(d Driver, logger ...Logger) Driver {
	drv := &DebugDriver{d, log.Println}
	if len(logger) == 1 {
		drv.log = logger[0]
	}
	return drv
}

// Exec logs its params and calls the underlying driver Exec method.
func (d *DebugDriver) Exec(ctx context.Context, query string, args, v any) error {
	d.log(fmt.Sprintf("driver.Exec: query=%v args=%v", query, args))
	return d.Driver.Exec(ctx, query, args, v)
}

// Query logs its params and calls the underlying driver Query method.
func (d *DebugDriver) Query(ctx context.Context, query string, args, v any) error {
	d.log(fmt.Sprintf("driver.Query: query=%v args=%v", query, args))
	return d.Driver.Query(ctx, query, args, v)
}

// Tx starts a transaction and wraps it with the same logger.
func (d *DebugDriver) Tx(ctx context.Context) (Tx, error) {
	tx, err := d.Driver.Tx(ctx)
	if err != nil {
		return nil, err
	}
	d.log("driver.Tx: started")
	return &DebugTx{tx, d.log}, nil
}

// DebugTx is a transaction that logs all transaction operations.
type DebugTx struct {
	Tx
	log Logger
}

// Exec logs its params and calls the underlying transaction Exec method.
func (d *DebugTx) Exec(ctx context.Context, query string, args, v any) error {
	d.log(fmt.Sprintf("Tx.Exec: query=%v args=%v", query, args))
	return d.Tx.Exec(ctx, query, args, v)
}

// Query logs its params and calls the underlying transaction Query method.
func (d *DebugTx) Query(ctx context.Context, query string, args, v any) error {
	d.log(fmt.Sprintf("Tx.Query: query=%v args=%v", query, args))
	return d.Tx.Query(ctx, query, args, v)
}

// Commit logs and commits the underlying transaction.
func (d *DebugTx) Commit() error {
	d.log("Tx.Commit")
	return d.Tx.Commit()
}

// Rollback logs and rolls back the underlying transaction.
func (d *DebugTx) Rollback() error {
	d.log("Tx.Rollback")
	return d.Tx.Rollback()
}

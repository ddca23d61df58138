package strata_test

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumenmed/strata"
	"github.com/lumenmed/strata/dialect"
)

func stagedPatient(t *testing.T, sess *strata.Session) *strata.Record {
	t.Helper()
	reg := newRegistry(t)
	rec := strata.NewRecord(lookup(t, reg, "Patient"))
	require.NoError(t, rec.Set("name", "Jane"))
	sess.Add(rec)
	return rec
}

// TestRunnerManagedCommit checks that an autocommit run wraps the work
// in its own transaction and commits it.
func TestRunnerManagedCommit(t *testing.T) {
	t.Parallel()

	sess, mock := newMockSession(t, dialect.MySQL)
	runner := strata.NewTxRunner(sess,
		strata.WithAutocommit(true),
		strata.WithRefreshOnCommit(false),
		strata.WithTxLogger(discardLogger))

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO patients (name) VALUES (?)").
		WithArgs("Jane").
		WillReturnResult(sqlmock.NewResult(3, 1))
	mock.ExpectCommit()

	var rec *strata.Record
	got, err := runner.Run(context.Background(), func(context.Context) (*strata.Record, error) {
		rec = stagedPatient(t, sess)
		return rec, nil
	})
	require.NoError(t, err)
	assert.Same(t, rec, got)
	assert.Equal(t, int64(3), rec.PrimaryKey())
	assert.False(t, sess.InTransaction())
	require.NoError(t, mock.ExpectationsWereMet())
}

// TestRunnerManagedDecline checks that a declined hook rolls back and
// yields neither a record nor an error.
func TestRunnerManagedDecline(t *testing.T) {
	t.Parallel()

	sess, mock := newMockSession(t, dialect.MySQL)
	runner := strata.NewTxRunner(sess,
		strata.WithAutocommit(true),
		strata.WithTxLogger(discardLogger))

	mock.ExpectBegin()
	mock.ExpectRollback()

	got, err := runner.Run(context.Background(), func(context.Context) (*strata.Record, error) {
		return nil, strata.NewHookDeclinedError("Patient", "before_create")
	})
	assert.Nil(t, got)
	assert.NoError(t, err)
	assert.False(t, sess.InTransaction())
	require.NoError(t, mock.ExpectationsWereMet())
}

// TestRunnerManagedAbsorbsStoreError checks that constraint violations
// inside a managed run are rolled back and swallowed.
func TestRunnerManagedAbsorbsStoreError(t *testing.T) {
	t.Parallel()

	sess, mock := newMockSession(t, dialect.MySQL)
	var logged []any
	runner := strata.NewTxRunner(sess,
		strata.WithAutocommit(true),
		strata.WithRefreshOnCommit(false),
		strata.WithTxLogger(func(v ...any) { logged = append(logged, v...) }))

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO patients (name) VALUES (?)").
		WithArgs("Jane").
		WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry"})
	mock.ExpectRollback()

	got, err := runner.Run(context.Background(), func(ctx context.Context) (*strata.Record, error) {
		rec := stagedPatient(t, sess)
		if ferr := sess.Flush(ctx); ferr != nil {
			return nil, ferr
		}
		return rec, nil
	})
	assert.Nil(t, got)
	assert.NoError(t, err)
	assert.NotEmpty(t, logged)
	require.NoError(t, mock.ExpectationsWereMet())
}

// TestRunnerManagedPropagatesOtherErrors checks that non-store failures
// roll back and surface to the caller.
func TestRunnerManagedPropagatesOtherErrors(t *testing.T) {
	t.Parallel()

	sess, mock := newMockSession(t, dialect.MySQL)
	runner := strata.NewTxRunner(sess,
		strata.WithAutocommit(true),
		strata.WithTxLogger(discardLogger))
	boom := errors.New("boom")

	mock.ExpectBegin()
	mock.ExpectRollback()

	got, err := runner.Run(context.Background(), func(context.Context) (*strata.Record, error) {
		return nil, boom
	})
	assert.Nil(t, got)
	assert.ErrorIs(t, err, boom)
	require.NoError(t, mock.ExpectationsWereMet())
}

// TestRunnerEnlistedFlushes checks that a run inside a caller-owned
// transaction flushes without committing.
func TestRunnerEnlistedFlushes(t *testing.T) {
	t.Parallel()

	sess, mock := newMockSession(t, dialect.MySQL)
	runner := strata.NewTxRunner(sess, strata.WithTxLogger(discardLogger))

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO patients (name) VALUES (?)").
		WithArgs("Jane").
		WillReturnResult(sqlmock.NewResult(3, 1))
	mock.ExpectRollback()

	require.NoError(t, sess.Begin(context.Background()))
	got, err := runner.Run(context.Background(), func(context.Context) (*strata.Record, error) {
		return stagedPatient(t, sess), nil
	})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, sess.InTransaction(), "the owner keeps the transaction open")

	require.NoError(t, sess.Rollback())
	require.NoError(t, mock.ExpectationsWereMet())
}

// TestRunnerEnlistedDecline checks that a decline inside a caller-owned
// transaction surfaces without rolling the owner back.
func TestRunnerEnlistedDecline(t *testing.T) {
	t.Parallel()

	sess, mock := newMockSession(t, dialect.MySQL)
	runner := strata.NewTxRunner(sess, strata.WithTxLogger(discardLogger))

	mock.ExpectBegin()
	mock.ExpectRollback()

	require.NoError(t, sess.Begin(context.Background()))
	got, err := runner.Run(context.Background(), func(context.Context) (*strata.Record, error) {
		return nil, nil
	})
	assert.Nil(t, got)
	assert.ErrorIs(t, err, strata.ErrHookDeclined)
	assert.True(t, sess.InTransaction())

	require.NoError(t, sess.Rollback())
	require.NoError(t, mock.ExpectationsWereMet())
}

// TestRunnerEnlistedStoreErrorRollsBack checks that store failures under
// a caller-owned transaction roll back once and propagate.
func TestRunnerEnlistedStoreErrorRollsBack(t *testing.T) {
	t.Parallel()

	sess, mock := newMockSession(t, dialect.MySQL)
	runner := strata.NewTxRunner(sess, strata.WithTxLogger(discardLogger))

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO patients (name) VALUES (?)").
		WithArgs("Jane").
		WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry"})
	mock.ExpectRollback()

	require.NoError(t, sess.Begin(context.Background()))
	stagedPatient(t, sess)
	got, err := runner.Run(context.Background(), func(ctx context.Context) (*strata.Record, error) {
		return nil, sess.Flush(ctx)
	})
	assert.Nil(t, got)
	assert.True(t, strata.IsConstraintError(err))
	assert.False(t, sess.InTransaction())
	require.NoError(t, mock.ExpectationsWereMet())
}

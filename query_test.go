package strata_test

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumenmed/strata"
	"github.com/lumenmed/strata/dialect"
)

const studyColumns = "studies.id, studies.accession, studies.status, studies.cost, studies.patient_id"

// TestStatementFirst checks SQL compilation and hydration through the
// statement backend.
func TestStatementFirst(t *testing.T) {
	t.Parallel()

	sess, mock := newMockSession(t, dialect.MySQL)
	reg := newRegistry(t)
	study := lookup(t, reg, "Study")

	mock.ExpectQuery("SELECT " + studyColumns + " FROM studies WHERE studies.accession = ? LIMIT 1").
		WithArgs("A1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "accession", "status", "cost", "patient_id"}).
			AddRow(1, "A1", "final", "150.50", 5))

	rec, err := strata.NewQuery(sess, reg, study).
		Where(strata.Filter{"accession": "A1"}).
		First(context.Background())
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, int64(1), rec.PrimaryKey())
	status, _ := rec.Get("status")
	assert.Equal(t, "final", status)
	cost, _ := rec.Get("cost")
	assert.Equal(t, "150.50", cost)
	require.NoError(t, mock.ExpectationsWereMet())
}

// TestStatementFirstEmpty checks that no match yields nil without error.
func TestStatementFirstEmpty(t *testing.T) {
	t.Parallel()

	sess, mock := newMockSession(t, dialect.MySQL)
	reg := newRegistry(t)
	study := lookup(t, reg, "Study")

	mock.ExpectQuery("SELECT " + studyColumns + " FROM studies WHERE studies.id = ? LIMIT 1").
		WithArgs(99).
		WillReturnRows(sqlmock.NewRows([]string{"id", "accession", "status", "cost", "patient_id"}))

	rec, err := strata.NewQuery(sess, reg, study).
		Where(strata.Filter{"id": 99}).
		First(context.Background())
	require.NoError(t, err)
	assert.Nil(t, rec)
	require.NoError(t, mock.ExpectationsWereMet())
}

// TestStatementToOneJoin checks the join clause direction for to-one
// relations: the foreign key lives on the root table.
func TestStatementToOneJoin(t *testing.T) {
	t.Parallel()

	sess, mock := newMockSession(t, dialect.MySQL)
	reg := newRegistry(t)
	study := lookup(t, reg, "Study")

	mock.ExpectQuery("SELECT " + studyColumns + " FROM studies JOIN patients ON studies.patient_id = patients.id WHERE patients.name = ?").
		WithArgs("Jane").
		WillReturnRows(sqlmock.NewRows([]string{"id", "accession", "status", "cost", "patient_id"}))

	_, err := strata.NewQuery(sess, reg, study).
		Where(strata.Filter{"patient.name": "Jane"}).
		All(context.Background())
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

// TestStatementAggregateOrdering checks that descending order through a
// to-many relation groups by the root key and orders by the per-group
// maximum.
func TestStatementAggregateOrdering(t *testing.T) {
	t.Parallel()

	sess, mock := newMockSession(t, dialect.MySQL)
	reg := newRegistry(t)
	study := lookup(t, reg, "Study")

	mock.ExpectQuery("SELECT " + studyColumns + " FROM studies LEFT JOIN series ON series.study_id = studies.id GROUP BY studies.id ORDER BY MAX(series.modality) DESC").
		WillReturnRows(sqlmock.NewRows([]string{"id", "accession", "status", "cost", "patient_id"}))

	_, err := strata.NewQuery(sess, reg, study).
		OrderBy("-series.modality").
		All(context.Background())
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

// TestStatementAscendingAggregate checks the MIN counterpart.
func TestStatementAscendingAggregate(t *testing.T) {
	t.Parallel()

	sess, mock := newMockSession(t, dialect.MySQL)
	reg := newRegistry(t)
	study := lookup(t, reg, "Study")

	mock.ExpectQuery("SELECT " + studyColumns + " FROM studies LEFT JOIN series ON series.study_id = studies.id GROUP BY studies.id ORDER BY MIN(series.modality)").
		WillReturnRows(sqlmock.NewRows([]string{"id", "accession", "status", "cost", "patient_id"}))

	_, err := strata.NewQuery(sess, reg, study).
		OrderBy("series.modality").
		All(context.Background())
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

// TestStatementCountDistinct checks that a fanning join does not inflate
// the count.
func TestStatementCountDistinct(t *testing.T) {
	t.Parallel()

	sess, mock := newMockSession(t, dialect.MySQL)
	reg := newRegistry(t)
	study := lookup(t, reg, "Study")

	mock.ExpectQuery("SELECT COUNT(DISTINCT studies.id) FROM studies JOIN series ON series.study_id = studies.id WHERE series.modality = ?").
		WithArgs("CT").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	n, err := strata.NewQuery(sess, reg, study).
		Where(strata.Filter{"series.modality": "CT"}).
		Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

// TestStatementLimitOffset checks pagination clause rendering.
func TestStatementLimitOffset(t *testing.T) {
	t.Parallel()

	sess, mock := newMockSession(t, dialect.MySQL)
	reg := newRegistry(t)
	study := lookup(t, reg, "Study")

	mock.ExpectQuery("SELECT " + studyColumns + " FROM studies ORDER BY studies.id DESC LIMIT 10 OFFSET 20").
		WillReturnRows(sqlmock.NewRows([]string{"id", "accession", "status", "cost", "patient_id"}))

	_, err := strata.NewQuery(sess, reg, study).
		OrderBy("-id").
		Limit(10).
		Offset(20).
		All(context.Background())
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

// TestCursorBackendSelection checks that a handle with only the cursor
// capability receives specs instead of SQL.
func TestCursorBackendSelection(t *testing.T) {
	t.Parallel()

	reg := newRegistry(t)
	study := lookup(t, reg, "Study")
	fake := &fakeCursorSession{rows: func(spec *strata.QuerySpec) []map[string]any {
		return []map[string]any{{"id": 1, "accession": "A1", "status": "draft", "cost": nil, "patient_id": 5}}
	}}

	rec, err := strata.NewQuery(fake, reg, study).
		Where(strata.Filter{"id": 1}).
		First(context.Background())
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, int64(1), rec.PrimaryKey())

	require.Len(t, fake.specs, 1)
	spec := fake.specs[0]
	assert.Equal(t, "studies", spec.Table)
	require.NotNil(t, spec.Limit)
	assert.Equal(t, 1, *spec.Limit)
	assert.Equal(t, strata.OpEQ, spec.Pred.Op)
}

// TestCursorCount checks count handling through the cursor backend.
func TestCursorCount(t *testing.T) {
	t.Parallel()

	reg := newRegistry(t)
	study := lookup(t, reg, "Study")
	fake := &fakeCursorSession{rows: func(spec *strata.QuerySpec) []map[string]any {
		require.True(t, spec.CountOnly)
		return []map[string]any{{"count": int64(7)}}
	}}

	n, err := strata.NewQuery(fake, reg, study).Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, n)
}

// TestCursorExists checks the existence probe selects only the key and
// caps at one row.
func TestCursorExists(t *testing.T) {
	t.Parallel()

	reg := newRegistry(t)
	study := lookup(t, reg, "Study")
	fake := &fakeCursorSession{rows: func(spec *strata.QuerySpec) []map[string]any {
		require.Len(t, spec.Columns, 1)
		require.Equal(t, "id", spec.Columns[0].Key)
		return []map[string]any{{"id": 1}}
	}}

	ok, err := strata.NewQuery(fake, reg, study).
		Where(strata.Filter{"status": "final"}).
		Exists(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
}

// TestBackendDetectionFails checks that a handle without either
// capability is rejected.
func TestBackendDetectionFails(t *testing.T) {
	t.Parallel()

	reg := newRegistry(t)
	study := lookup(t, reg, "Study")
	q := strata.NewQuery(struct{}{}, reg, study)
	assert.True(t, strata.IsConfigurationError(q.Err()))

	_, err := q.First(context.Background())
	assert.True(t, strata.IsConfigurationError(err))
}

// TestIncludeEagerLoading checks relation loading through secondary IN
// queries: one per relation, fan-out attached as slices.
func TestIncludeEagerLoading(t *testing.T) {
	t.Parallel()

	reg := newRegistry(t)
	study := lookup(t, reg, "Study")
	fake := &fakeCursorSession{}
	fake.rows = func(spec *strata.QuerySpec) []map[string]any {
		switch spec.Table {
		case "studies":
			return []map[string]any{
				{"id": 1, "accession": "A1", "status": "final", "cost": nil, "patient_id": 5},
				{"id": 2, "accession": "A2", "status": "draft", "cost": nil, "patient_id": 5},
			}
		case "series":
			require.Equal(t, strata.OpIn, spec.Pred.Op)
			require.Equal(t, "series.study_id", spec.Pred.Col.String())
			return []map[string]any{
				{"id": 10, "modality": "CT", "study_id": 1},
				{"id": 11, "modality": "MR", "study_id": 1},
				{"id": 12, "modality": "US", "study_id": 2},
			}
		case "patients":
			require.Equal(t, strata.OpIn, spec.Pred.Op)
			return []map[string]any{
				{"id": 5, "name": "Jane", "email": nil, "created_at": nil, "updated_at": nil,
					"deleted_at": nil, "deleted_by": nil, "deletion_reason": nil},
			}
		}
		t.Fatalf("unexpected table %s", spec.Table)
		return nil
	}

	recs, err := strata.NewQuery(fake, reg, study).
		Include("series", "patient").
		All(context.Background())
	require.NoError(t, err)
	require.Len(t, recs, 2)

	// One base query plus one per relation.
	assert.Len(t, fake.specs, 3)

	kids, ok := recs[0].Related("series")
	require.True(t, ok)
	series := kids.([]*strata.Record)
	require.Len(t, series, 2)
	m0, _ := series[0].Get("modality")
	assert.Equal(t, "CT", m0)

	kids, _ = recs[1].Related("series")
	assert.Len(t, kids.([]*strata.Record), 1)

	parent, ok := recs[0].Related("patient")
	require.True(t, ok)
	name, _ := parent.(*strata.Record).Get("name")
	assert.Equal(t, "Jane", name)
}

// TestProjectionAlias checks aliased projections land in the record's
// extras and the root key is force-selected.
func TestProjectionAlias(t *testing.T) {
	t.Parallel()

	reg := newRegistry(t)
	study := lookup(t, reg, "Study")
	fake := &fakeCursorSession{rows: func(spec *strata.QuerySpec) []map[string]any {
		require.Len(t, spec.Columns, 2)
		require.Equal(t, "id", spec.Columns[0].Key)
		require.Equal(t, "Acc", spec.Columns[1].Key)
		return []map[string]any{{"id": 1, "Acc": "A1"}}
	}}

	rec, err := strata.NewQuery(fake, reg, study).
		Project("accession as Acc").
		First(context.Background())
	require.NoError(t, err)
	v, ok := rec.Extra("Acc")
	require.True(t, ok)
	assert.Equal(t, "A1", v)
	assert.Equal(t, int64(1), rec.PrimaryKey())
}

// TestQueryCache checks that identical queries are served from the cache
// after the first execution.
func TestQueryCache(t *testing.T) {
	t.Parallel()

	reg := newRegistry(t)
	study := lookup(t, reg, "Study")
	calls := 0
	fake := &fakeCursorSession{rows: func(spec *strata.QuerySpec) []map[string]any {
		calls++
		return []map[string]any{{"id": 1, "accession": "A1", "status": "final", "cost": nil, "patient_id": 5}}
	}}
	cache := strata.NewMemCache()

	for i := 0; i < 3; i++ {
		recs, err := strata.NewQuery(fake, reg, study).
			Where(strata.Filter{"status": "final"}).
			UseCache(cache, 0).
			All(context.Background())
		require.NoError(t, err)
		require.Len(t, recs, 1)
		assert.Equal(t, int64(1), recs[0].PrimaryKey())
	}
	assert.Equal(t, 1, calls)
}

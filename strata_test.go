package strata_test

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/lumenmed/strata"
	"github.com/lumenmed/strata/dialect"
	dsql "github.com/lumenmed/strata/dialect/sql"
	"github.com/lumenmed/strata/schema"
	"github.com/lumenmed/strata/schema/edge"
	"github.com/lumenmed/strata/schema/field"
)

// newRegistry builds the shared Patient/Study/Series fixture. Patients
// carry the soft-delete columns; studies fan out into series and point
// back at their patient.
func newRegistry(t *testing.T) *schema.Registry {
	t.Helper()
	patient := schema.MustNew("Patient",
		schema.Fields(
			field.Int("id").PrimaryKey(),
			field.String("name"),
			field.String("email").Unique().Nillable(),
			field.Time("created_at"),
			field.Time("updated_at"),
			field.Time("deleted_at").Nillable(),
			field.String("deleted_by").Nillable(),
			field.String("deletion_reason").Nillable(),
		),
		schema.Edges(
			edge.To("studies", "Study").Ref("patient_id"),
		),
	)
	study := schema.MustNew("Study",
		schema.Fields(
			field.Int("id").PrimaryKey(),
			field.String("accession").Unique(),
			field.Enum("status").Values("draft", "final"),
			field.Decimal("cost").Nillable(),
			field.Int("patient_id"),
		),
		schema.Edges(
			edge.To("patient", "Patient").Unique().Field("patient_id"),
			edge.To("series", "Series").Ref("study_id"),
		),
	)
	series := schema.MustNew("Series",
		schema.Fields(
			field.Int("id").PrimaryKey(),
			field.String("modality"),
			field.Int("study_id"),
		),
	)
	reg := schema.NewRegistry()
	require.NoError(t, reg.Register(patient, study, series))
	return reg
}

func lookup(t *testing.T, reg *schema.Registry, name string) *schema.Descriptor {
	t.Helper()
	sc, ok := reg.Lookup(name)
	require.True(t, ok, "schema %s not registered", name)
	return sc
}

// newMockSession returns a session over a sqlmock connection matching
// SQL text exactly.
func newMockSession(t *testing.T, dialectName string) (*strata.Session, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return strata.NewSession(dsql.OpenDB(dialectName, db)), mock
}

// fakeCursorSession implements the cursor capability and records every
// spec it receives. rows dispatches result sets per spec.
type fakeCursorSession struct {
	specs []*strata.QuerySpec
	rows  func(spec *strata.QuerySpec) []map[string]any
}

func (s *fakeCursorSession) OpenCursor(_ context.Context, spec *strata.QuerySpec) (strata.Cursor, error) {
	s.specs = append(s.specs, spec)
	var rows []map[string]any
	if s.rows != nil {
		rows = s.rows(spec)
	}
	return &sliceCursor{rows: rows}, nil
}

type sliceCursor struct {
	rows []map[string]any
	i    int
}

func (c *sliceCursor) Next() bool {
	if c.i >= len(c.rows) {
		return false
	}
	c.i++
	return true
}

func (c *sliceCursor) Row() map[string]any { return c.rows[c.i-1] }
func (c *sliceCursor) Err() error          { return nil }
func (c *sliceCursor) Close() error        { return nil }

// discardLogger keeps transaction noise out of test output.
func discardLogger(...any) {}

var (
	_ strata.CursorQuerier = (*fakeCursorSession)(nil)
	_ dialect.Logger       = discardLogger
)

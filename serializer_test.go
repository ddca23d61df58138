package strata_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumenmed/strata"
	"github.com/lumenmed/strata/schema"
)

func buildStudy(t *testing.T, reg *schema.Registry) *strata.Record {
	t.Helper()
	rec := strata.NewRecord(lookup(t, reg, "Study"))
	require.NoError(t, rec.Set("id", int64(4)))
	require.NoError(t, rec.Set("accession", "A1"))
	require.NoError(t, rec.Set("status", "final"))
	require.NoError(t, rec.Set("cost", "123.45"))
	require.NoError(t, rec.Set("patient_id", int64(1)))
	return rec
}

func buildSeries(t *testing.T, reg *schema.Registry, id int64, modality string) *strata.Record {
	t.Helper()
	rec := strata.NewRecord(lookup(t, reg, "Series"))
	require.NoError(t, rec.Set("id", id))
	require.NoError(t, rec.Set("modality", modality))
	require.NoError(t, rec.Set("study_id", int64(4)))
	return rec
}

// TestSerializeOwnColumns checks the default rendering and the typed
// primitives: decimals as floats, times in RFC 3339.
func TestSerializeOwnColumns(t *testing.T) {
	t.Parallel()

	reg := newRegistry(t)
	rec := strata.NewRecord(lookup(t, reg, "Patient"))
	require.NoError(t, rec.Set("id", int64(5)))
	require.NoError(t, rec.Set("name", "Jane"))
	require.NoError(t, rec.Set("created_at", time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC)))

	out, err := strata.Serialize(rec, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(5), out["id"])
	assert.Equal(t, "Jane", out["name"])
	assert.Equal(t, "2026-03-01T10:30:00.000Z", out["created_at"])
	assert.Nil(t, out["email"])
}

// TestSerializeDecimalAsFloat checks fixed-point rendering.
func TestSerializeDecimalAsFloat(t *testing.T) {
	t.Parallel()

	reg := newRegistry(t)
	out, err := strata.Serialize(buildStudy(t, reg), []string{"accession", "cost"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 123.45, out["cost"])
}

// TestSerializeAlias checks "field as Alias" output names, with the
// model prefix stripped.
func TestSerializeAlias(t *testing.T) {
	t.Parallel()

	reg := newRegistry(t)
	out, err := strata.Serialize(buildStudy(t, reg),
		[]string{"Study.accession as Accession", "status"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "A1", out["Accession"])
	assert.Equal(t, "final", out["status"])
	_, present := out["accession"]
	assert.False(t, present)
}

// TestSerializeFansOutToMany checks that a leaf behind a to-many
// relation collects one value per child record.
func TestSerializeFansOutToMany(t *testing.T) {
	t.Parallel()

	reg := newRegistry(t)
	rec := buildStudy(t, reg)
	rec.SetRelated("series", []*strata.Record{
		buildSeries(t, reg, 10, "CT"),
		buildSeries(t, reg, 11, "MR"),
	})

	out, err := strata.Serialize(rec, []string{"accession", "series.modality"}, nil)
	require.NoError(t, err)
	assert.Equal(t, []any{"CT", "MR"}, out["series.modality"])
}

// TestSerializeUnloadedRelation checks that walking an unloaded relation
// fails rather than issuing a query.
func TestSerializeUnloadedRelation(t *testing.T) {
	t.Parallel()

	reg := newRegistry(t)
	_, err := strata.Serialize(buildStudy(t, reg), []string{"series.modality"}, nil)
	assert.True(t, strata.IsNotLoaded(err))
}

// TestSerializeSlimInclude checks that an include with no requested
// fields nests the identity map.
func TestSerializeSlimInclude(t *testing.T) {
	t.Parallel()

	reg := newRegistry(t)
	rec := buildStudy(t, reg)
	patient := strata.NewRecord(lookup(t, reg, "Patient"))
	require.NoError(t, patient.Set("id", int64(1)))
	require.NoError(t, patient.Set("name", "Jane"))
	rec.SetRelated("patient", patient)

	out, err := strata.Serialize(rec, []string{"accession"}, []string{"patient"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"id": int64(1), "label": "Jane"}, out["patient"])
}

// TestSerializeIncludeWithFields checks that requested dotted leaves
// shape the nested include, aliases included.
func TestSerializeIncludeWithFields(t *testing.T) {
	t.Parallel()

	reg := newRegistry(t)
	rec := buildStudy(t, reg)
	rec.SetRelated("series", []*strata.Record{
		buildSeries(t, reg, 10, "CT"),
	})

	out, err := strata.Serialize(rec,
		[]string{"accession", "series.modality as Modality"}, []string{"series"})
	require.NoError(t, err)
	items, ok := out["series"].([]map[string]any)
	require.True(t, ok)
	require.Len(t, items, 1)
	assert.Equal(t, map[string]any{"Modality": "CT"}, items[0])
}

// TestSerializeMissingToOne checks that an include loaded as absent
// renders null.
func TestSerializeMissingToOne(t *testing.T) {
	t.Parallel()

	reg := newRegistry(t)
	rec := buildStudy(t, reg)
	rec.SetRelated("patient", (*strata.Record)(nil))

	out, err := strata.Serialize(rec, []string{"accession"}, []string{"patient"})
	require.NoError(t, err)
	assert.Nil(t, out["patient"])
}

// TestSerializeMany checks batch rendering keeps input order.
func TestSerializeMany(t *testing.T) {
	t.Parallel()

	reg := newRegistry(t)
	a := buildStudy(t, reg)
	b := strata.NewRecord(lookup(t, reg, "Study"))
	require.NoError(t, b.Set("id", int64(5)))
	require.NoError(t, b.Set("accession", "B2"))

	out, err := strata.SerializeMany([]*strata.Record{a, b}, []string{"accession"}, nil)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "A1", out[0]["accession"])
	assert.Equal(t, "B2", out[1]["accession"])
}

// TestSerializeJoinedExtras checks that values projected through joins
// satisfy dotted paths without the relation being loaded.
func TestSerializeJoinedExtras(t *testing.T) {
	t.Parallel()

	reg := newRegistry(t)
	rec := buildStudy(t, reg)
	rec.SetExtra("patient.name", "Jane")

	out, err := strata.Serialize(rec, []string{"accession", "patient.name"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "Jane", out["patient.name"])
}

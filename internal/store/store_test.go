package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/greenwave.report/internal/flow"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpenRunsMigrations(t *testing.T) {
	db := openTestDB(t)

	for _, table := range []string{"stream_samples", "analyses", "signal_decisions"} {
		var name string
		err := db.QueryRow(
			`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table,
		).Scan(&name)
		require.NoError(t, err, "table %s missing", table)
	}
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reopen.db")

	db, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	// Reopening an already-migrated database must not fail.
	db, err = Open(path)
	require.NoError(t, err)
	db.Close()
}

func TestRecordAndListStreamSamples(t *testing.T) {
	db := openTestDB(t)

	for i := int64(0); i < 5; i++ {
		err := db.RecordStreamSample("sess-1", flow.Sample{Bucket: 100 + i, Rate: float64(i) * 1.5})
		require.NoError(t, err)
	}
	require.NoError(t, db.RecordStreamSample("sess-2", flow.Sample{Bucket: 100, Rate: 9}))

	samples, err := db.ListStreamSamples("sess-1", 0)
	require.NoError(t, err)
	require.Len(t, samples, 5)
	assert.Equal(t, int64(100), samples[0].Bucket)
	assert.Equal(t, int64(104), samples[4].Bucket)
	assert.InDelta(t, 6.0, samples[4].Rate, 1e-9)

	limited, err := db.ListStreamSamples("sess-1", 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	none, err := db.ListStreamSamples("absent", 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestRecordAnalysisGeneratesID(t *testing.T) {
	db := openTestDB(t)

	rec := &AnalysisRecord{
		Source:            "clip.mp4",
		VehiclesPerSecond: 3.2,
		RateOfChange:      0.1,
		VehicleCount:      14,
		DataPoints:        8,
		AnnotatedPath:     "results/annotated_clip.mp4",
	}
	require.NoError(t, db.RecordAnalysis(rec))
	assert.NotEmpty(t, rec.AnalysisID)

	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM analyses`).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestRecordDecision(t *testing.T) {
	db := openTestDB(t)

	rec := &DecisionRecord{
		Lane:         "north",
		VehicleCount: 12,
		Rate:         2.5,
		Slope:        -0.2,
		Emergency:    true,
		GreenSeconds: 48,
	}
	require.NoError(t, db.RecordDecision(rec))
	assert.NotEmpty(t, rec.DecisionID)

	var lane string
	var green int
	var emergency bool
	err := db.QueryRow(
		`SELECT lane, green_seconds, emergency FROM signal_decisions WHERE decision_id = ?`,
		rec.DecisionID,
	).Scan(&lane, &green, &emergency)
	require.NoError(t, err)
	assert.Equal(t, "north", lane)
	assert.Equal(t, 48, green)
	assert.True(t, emergency)
}

// Package store persists rate samples, analysis runs, and signal
// decisions to sqlite as write-behind telemetry. The in-memory rolling
// window remains the operational source of truth; this store exists for
// debugging and report tooling.
package store

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/greenwave.report/internal/flow"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// DB wraps the sqlite handle.
type DB struct {
	*sql.DB
}

// Open opens (creating if needed) the sqlite database at path and runs
// all pending migrations.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	src, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("load embedded migrations: %w", err)
	}
	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("prepare migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("prepare migrations: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		db.Close()
		return nil, fmt.Errorf("migration up failed: %w", err)
	}

	return &DB{db}, nil
}

// retryOnBusy retries a write a few times when sqlite reports the
// database is locked by a concurrent writer.
func retryOnBusy(fn func() error) error {
	var err error
	for attempt := 0; attempt < 5; attempt++ {
		err = fn()
		if err == nil || !strings.Contains(err.Error(), "database is locked") {
			return err
		}
		time.Sleep(time.Duration(attempt+1) * 10 * time.Millisecond)
	}
	return err
}

// RecordStreamSample persists one closed bucket's smoothed rate for a
// live session.
func (db *DB) RecordStreamSample(sessionID string, s flow.Sample) error {
	return retryOnBusy(func() error {
		_, err := db.Exec(
			`INSERT INTO stream_samples (session_id, bucket, rate) VALUES (?, ?, ?)`,
			sessionID, s.Bucket, s.Rate,
		)
		return err
	})
}

// ListStreamSamples returns a session's persisted samples in bucket order.
func (db *DB) ListStreamSamples(sessionID string, limit int) ([]flow.Sample, error) {
	if limit <= 0 {
		limit = 600
	}
	rows, err := db.Query(
		`SELECT bucket, rate FROM stream_samples
		 WHERE session_id = ? ORDER BY bucket ASC LIMIT ?`,
		sessionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query stream samples: %w", err)
	}
	defer rows.Close()

	var out []flow.Sample
	for rows.Next() {
		var s flow.Sample
		if err := rows.Scan(&s.Bucket, &s.Rate); err != nil {
			return nil, fmt.Errorf("scan stream sample: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// AnalysisRecord summarises one offline video analysis run.
type AnalysisRecord struct {
	AnalysisID        string
	Source            string
	VehiclesPerSecond float64
	RateOfChange      float64
	VehicleCount      int
	DataPoints        int
	AnnotatedPath     string
}

// RecordAnalysis persists an analysis summary, generating an id if unset.
func (db *DB) RecordAnalysis(rec *AnalysisRecord) error {
	if rec.AnalysisID == "" {
		rec.AnalysisID = uuid.New().String()
	}
	return retryOnBusy(func() error {
		_, err := db.Exec(
			`INSERT INTO analyses (
				analysis_id, source, vehicles_per_second, rate_of_change,
				vehicle_count, data_points, annotated_path
			) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			rec.AnalysisID, rec.Source, rec.VehiclesPerSecond, rec.RateOfChange,
			rec.VehicleCount, rec.DataPoints, rec.AnnotatedPath,
		)
		return err
	})
}

// DecisionRecord is one persisted green-time decision.
type DecisionRecord struct {
	DecisionID   string
	Lane         string
	VehicleCount int
	Rate         float64
	Slope        float64
	Emergency    bool
	GreenSeconds int
}

// RecordDecision persists a signal decision, generating an id if unset.
func (db *DB) RecordDecision(rec *DecisionRecord) error {
	if rec.DecisionID == "" {
		rec.DecisionID = uuid.New().String()
	}
	return retryOnBusy(func() error {
		_, err := db.Exec(
			`INSERT INTO signal_decisions (
				decision_id, lane, vehicle_count, rate, slope, emergency, green_seconds
			) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			rec.DecisionID, rec.Lane, rec.VehicleCount, rec.Rate, rec.Slope,
			rec.Emergency, rec.GreenSeconds,
		)
		return err
	})
}

// Package ledger records population runs in a SQLite database inside the
// experiment output directory: one row per run, per birth and per throughput
// sample.
package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"tolrun/internal/population"
)

// FileName is the database file created in the output directory.
const FileName = "tolrun.db"

// RunInfo describes a run when it starts.
type RunInfo struct {
	WorldAddress   string
	PopulationSize int
	Seed           uint64
	Started        time.Time
}

// Store is a ledger database. It implements population.Recorder for the run
// started last.
type Store struct {
	db     *sql.DB
	path   string
	logger *zap.Logger

	mu    sync.Mutex
	runID string
}

var _ population.Recorder = (*Store)(nil)

// Open creates dir if needed and opens the ledger inside it.
func Open(dir string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	path := filepath.Join(dir, FileName)

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, path: path, logger: logger}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	logger.Debug("ledger opened", zap.String("path", path))
	return s, nil
}

func (s *Store) initialize() error {
	runsTable := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		world_address TEXT NOT NULL,
		population_size INTEGER NOT NULL,
		seed INTEGER NOT NULL,
		started_at TEXT NOT NULL
	);
	`

	birthsTable := `
	CREATE TABLE IF NOT EXISTS births (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL REFERENCES runs(id),
		idx INTEGER NOT NULL,
		robot_id TEXT NOT NULL,
		robot_name TEXT NOT NULL,
		tree_id TEXT NOT NULL,
		x REAL NOT NULL,
		y REAL NOT NULL,
		z REAL NOT NULL,
		bbox_min_z REAL NOT NULL,
		parents TEXT,
		birth_time REAL NOT NULL,
		UNIQUE(run_id, idx)
	);
	CREATE INDEX IF NOT EXISTS idx_births_run ON births(run_id);
	`

	samplesTable := `
	CREATE TABLE IF NOT EXISTS samples (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL REFERENCES runs(id),
		seq INTEGER NOT NULL,
		simulated REAL NOT NULL,
		real_seconds REAL NOT NULL,
		factor REAL NOT NULL,
		sim_time REAL NOT NULL,
		taken_at TEXT NOT NULL,
		UNIQUE(run_id, seq)
	);
	CREATE INDEX IF NOT EXISTS idx_samples_run ON samples(run_id);
	`

	for _, table := range []string{runsTable, birthsTable, samplesTable} {
		if _, err := s.db.Exec(table); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}
	return nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// BeginRun records a new run and makes it the target of later births and
// samples.
func (s *Store) BeginRun(ctx context.Context, info RunInfo) (string, error) {
	if info.Started.IsZero() {
		info.Started = time.Now()
	}
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, world_address, population_size, seed, started_at) VALUES (?, ?, ?, ?, ?)`,
		id, info.WorldAddress, info.PopulationSize, int64(info.Seed), info.Started.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return "", fmt.Errorf("failed to record run: %w", err)
	}

	s.mu.Lock()
	s.runID = id
	s.mu.Unlock()
	s.logger.Info("run started", zap.String("run", id))
	return id, nil
}

func (s *Store) currentRun() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runID == "" {
		return "", fmt.Errorf("no run in progress")
	}
	return s.runID, nil
}

// RecordBirth stores a completed birth.
func (s *Store) RecordBirth(ctx context.Context, b population.Birth) error {
	run, err := s.currentRun()
	if err != nil {
		return err
	}
	parents, err := json.Marshal(b.Robot.Parents)
	if err != nil {
		return fmt.Errorf("failed to marshal parents: %w", err)
	}
	pos := b.Robot.Pose.Position
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO births (run_id, idx, robot_id, robot_name, tree_id, x, y, z, bbox_min_z, parents, birth_time)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run, b.Index, b.Robot.ID, b.Robot.Name, b.TreeID, pos.X, pos.Y, pos.Z, b.BBox.Min.Z,
		string(parents), b.Robot.BirthTime.Seconds())
	if err != nil {
		return fmt.Errorf("failed to record birth %d: %w", b.Index, err)
	}
	return nil
}

// RecordSample stores a throughput sample.
func (s *Store) RecordSample(ctx context.Context, smp population.Sample) error {
	run, err := s.currentRun()
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO samples (run_id, seq, simulated, real_seconds, factor, sim_time, taken_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run, smp.Seq, smp.Simulated, smp.Real.Seconds(), smp.Factor, smp.SimTime.Seconds(),
		smp.Taken.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to record sample %d: %w", smp.Seq, err)
	}
	return nil
}

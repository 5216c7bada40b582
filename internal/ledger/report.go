package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// RunSummary aggregates one run.
type RunSummary struct {
	ID             string
	WorldAddress   string
	PopulationSize int
	Seed           uint64
	Started        time.Time
	Births         int
	Samples        int
	MeanFactor     float64
}

// BirthRow is a stored birth.
type BirthRow struct {
	Index     int
	RobotID   string
	RobotName string
	TreeID    string
	X, Y, Z   float64
	BBoxMinZ  float64
	Parents   []string
	BirthTime float64
}

// SampleRow is a stored throughput sample.
type SampleRow struct {
	Seq         int
	Simulated   float64
	RealSeconds float64
	Factor      float64
	SimTime     float64
	Taken       time.Time
}

// Runs lists every run, oldest first.
func (s *Store) Runs(ctx context.Context) ([]RunSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.world_address, r.population_size, r.seed, r.started_at,
			(SELECT COUNT(*) FROM births b WHERE b.run_id = r.id),
			(SELECT COUNT(*) FROM samples m WHERE m.run_id = r.id),
			(SELECT AVG(m.factor) FROM samples m WHERE m.run_id = r.id)
		FROM runs r
		ORDER BY r.started_at, r.rowid`)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var (
			r       RunSummary
			seed    int64
			started string
			mean    sql.NullFloat64
		)
		if err := rows.Scan(&r.ID, &r.WorldAddress, &r.PopulationSize, &seed, &started, &r.Births, &r.Samples, &mean); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		r.Seed = uint64(seed)
		if r.Started, err = time.Parse(time.RFC3339Nano, started); err != nil {
			return nil, fmt.Errorf("run %s: bad start time: %w", r.ID, err)
		}
		r.MeanFactor = mean.Float64
		out = append(out, r)
	}
	return out, rows.Err()
}

// Births returns the births of a run in birth order.
func (s *Store) Births(ctx context.Context, runID string) ([]BirthRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT idx, robot_id, robot_name, tree_id, x, y, z, bbox_min_z, parents, birth_time
		FROM births WHERE run_id = ? ORDER BY idx`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query births: %w", err)
	}
	defer rows.Close()

	var out []BirthRow
	for rows.Next() {
		var (
			b       BirthRow
			parents sql.NullString
		)
		if err := rows.Scan(&b.Index, &b.RobotID, &b.RobotName, &b.TreeID, &b.X, &b.Y, &b.Z, &b.BBoxMinZ, &parents, &b.BirthTime); err != nil {
			return nil, fmt.Errorf("failed to scan birth: %w", err)
		}
		if parents.Valid && parents.String != "" {
			if err := json.Unmarshal([]byte(parents.String), &b.Parents); err != nil {
				return nil, fmt.Errorf("birth %d: bad parents: %w", b.Index, err)
			}
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// Samples returns the throughput samples of a run in order.
func (s *Store) Samples(ctx context.Context, runID string) ([]SampleRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, simulated, real_seconds, factor, sim_time, taken_at
		FROM samples WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query samples: %w", err)
	}
	defer rows.Close()

	var out []SampleRow
	for rows.Next() {
		var (
			m     SampleRow
			taken string
		)
		if err := rows.Scan(&m.Seq, &m.Simulated, &m.RealSeconds, &m.Factor, &m.SimTime, &taken); err != nil {
			return nil, fmt.Errorf("failed to scan sample: %w", err)
		}
		if m.Taken, err = time.Parse(time.RFC3339Nano, taken); err != nil {
			return nil, fmt.Errorf("sample %d: bad timestamp: %w", m.Seq, err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

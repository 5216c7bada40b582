package ledger

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tolrun/internal/population"
	"tolrun/internal/robot"
	"tolrun/internal/simtime"
)

func openStore(t *testing.T) (*Store, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "out")
	s, err := Open(dir, nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, dir
}

func birthAt(i int, x, y float64) population.Birth {
	return population.Birth{
		Index: i,
		Robot: robot.Robot{
			ID:        "id-" + string(rune('a'+i)),
			Name:      "robot_" + string(rune('1'+i)),
			TreeID:    "tree",
			Pose:      robot.NewPose(robot.Vector3{X: x, Y: y, Z: 0.5}),
			BirthTime: simtime.FromSeconds(float64(i)),
		},
		TreeID: "tree",
		BBox:   robot.BoundingBox{Min: robot.Vector3{Z: -0.3}, Max: robot.Vector3{Z: 0.1}},
	}
}

func TestOpenCreatesDatabase(t *testing.T) {
	s, dir := openStore(t)
	assert.Equal(t, filepath.Join(dir, FileName), s.Path())
	assert.FileExists(t, s.Path())

	runs, err := s.Runs(context.Background())
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestRecordWithoutRunFails(t *testing.T) {
	s, _ := openStore(t)
	err := s.RecordBirth(context.Background(), birthAt(0, 2, 0))
	assert.ErrorContains(t, err, "no run in progress")
}

func TestRunRoundTrip(t *testing.T) {
	s, _ := openStore(t)
	ctx := context.Background()

	started := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	run, err := s.BeginRun(ctx, RunInfo{WorldAddress: "ws://w/world", PopulationSize: 2, Seed: 12345, Started: started})
	require.NoError(t, err)

	b0 := birthAt(0, 2, 0)
	b1 := birthAt(1, 0, -2)
	b1.Robot.Parents = []string{"robot_1"}
	require.NoError(t, s.RecordBirth(ctx, b0))
	require.NoError(t, s.RecordBirth(ctx, b1))

	for i, f := range []float64{2, 4} {
		require.NoError(t, s.RecordSample(ctx, population.Sample{
			Seq:       i,
			Simulated: 1,
			Real:      time.Duration(float64(time.Second) / f),
			Factor:    f,
			SimTime:   simtime.FromSeconds(10 + float64(i)),
			Taken:     started.Add(time.Duration(i+1) * time.Second),
		}))
	}

	runs, err := s.Runs(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, run, runs[0].ID)
	assert.Equal(t, uint64(12345), runs[0].Seed)
	assert.True(t, started.Equal(runs[0].Started))
	assert.Equal(t, 2, runs[0].Births)
	assert.Equal(t, 2, runs[0].Samples)
	assert.InDelta(t, 3.0, runs[0].MeanFactor, 1e-9)

	births, err := s.Births(ctx, run)
	require.NoError(t, err)
	require.Len(t, births, 2)
	assert.Equal(t, 2.0, births[0].X)
	assert.Equal(t, -2.0, births[1].Y)
	assert.Equal(t, -0.3, births[1].BBoxMinZ)
	assert.Nil(t, births[0].Parents)
	assert.Equal(t, []string{"robot_1"}, births[1].Parents)
	assert.Equal(t, 1.0, births[1].BirthTime)

	samples, err := s.Samples(ctx, run)
	require.NoError(t, err)
	require.Len(t, samples, 2)
	assert.Equal(t, 4.0, samples[1].Factor)
	assert.InDelta(t, 0.25, samples[1].RealSeconds, 1e-9)
	assert.Equal(t, 11.0, samples[1].SimTime)
}

func TestRunsAreSeparated(t *testing.T) {
	s, dir := openStore(t)
	ctx := context.Background()

	first, err := s.BeginRun(ctx, RunInfo{PopulationSize: 1})
	require.NoError(t, err)
	require.NoError(t, s.RecordBirth(ctx, birthAt(0, 2, 0)))

	second, err := s.BeginRun(ctx, RunInfo{PopulationSize: 1})
	require.NoError(t, err)
	require.NoError(t, s.RecordBirth(ctx, birthAt(0, -2, 0)))
	require.NotEqual(t, first, second)

	// Reopening keeps earlier runs.
	require.NoError(t, s.Close())
	s2, err := Open(dir, nil)
	require.NoError(t, err)
	defer s2.Close()

	runs, err := s2.Runs(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 2)

	births, err := s2.Births(ctx, second)
	require.NoError(t, err)
	require.Len(t, births, 1)
	assert.Equal(t, -2.0, births[0].X)
}

func TestDuplicateBirthRejected(t *testing.T) {
	s, _ := openStore(t)
	ctx := context.Background()
	_, err := s.BeginRun(ctx, RunInfo{PopulationSize: 1})
	require.NoError(t, err)

	require.NoError(t, s.RecordBirth(ctx, birthAt(0, 2, 0)))
	assert.Error(t, s.RecordBirth(ctx, birthAt(0, 2, 0)))
}

func TestCorruptTimestampsAreReported(t *testing.T) {
	s, _ := openStore(t)
	ctx := context.Background()

	run, err := s.BeginRun(ctx, RunInfo{WorldAddress: "ws://w", PopulationSize: 1})
	require.NoError(t, err)
	require.NoError(t, s.RecordSample(ctx, population.Sample{Seq: 0, Simulated: 1, Real: time.Second, Factor: 1, Taken: time.Now()}))

	_, err = s.db.ExecContext(ctx, `UPDATE samples SET taken_at = 'yesterday' WHERE run_id = ?`, run)
	require.NoError(t, err)
	_, err = s.Samples(ctx, run)
	assert.ErrorContains(t, err, "sample 0: bad timestamp")

	_, err = s.db.ExecContext(ctx, `UPDATE runs SET started_at = 'not a time' WHERE id = ?`, run)
	require.NoError(t, err)
	_, err = s.Runs(ctx)
	assert.ErrorContains(t, err, "bad start time")
}

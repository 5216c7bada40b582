package population

import (
	"context"
	"time"

	"tolrun/internal/robot"
	"tolrun/internal/simtime"
)

// Birth describes one completed birth of the initial population.
type Birth struct {
	Index  int
	Robot  robot.Robot
	TreeID string
	BBox   robot.BoundingBox
}

// Sample is one throughput measurement: how much simulated time passed per
// unit of real time.
type Sample struct {
	Seq       int
	Simulated float64 // simulated seconds
	Real      time.Duration
	Factor    float64
	SimTime   simtime.Time
	Taken     time.Time
}

func newSample(seq int, simulated float64, before, after time.Time, at simtime.Time) Sample {
	elapsed := after.Sub(before)
	s := Sample{Seq: seq, Simulated: simulated, Real: elapsed, SimTime: at, Taken: after}
	if elapsed > 0 {
		s.Factor = simulated / elapsed.Seconds()
	}
	return s
}

// Recorder persists births and samples.
type Recorder interface {
	RecordBirth(ctx context.Context, b Birth) error
	RecordSample(ctx context.Context, s Sample) error
}

// NopRecorder discards everything.
type NopRecorder struct{}

func (NopRecorder) RecordBirth(context.Context, Birth) error   { return nil }
func (NopRecorder) RecordSample(context.Context, Sample) error { return nil }

// Package population runs an insertion experiment: it has the world generate
// a population, births every candidate one after another with a simulated
// delay in between, and then reports the simulation speed forever.
package population

import (
	"context"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"tolrun/internal/birth"
	"tolrun/internal/pacing"
	"tolrun/internal/robot"
	"tolrun/internal/simtime"
)

// World is what a run needs from the world connection.
type World interface {
	simtime.Clock
	pacing.Suspender
	birth.Inserter
	Pause(ctx context.Context, paused bool) error
	GeneratePopulation(ctx context.Context, n int) ([]robot.Tree, []robot.BoundingBox, error)
}

// Config holds the experiment constants.
type Config struct {
	PopulationSize  int
	InterBirthDelay float64 // simulated seconds between births
	MonitorInterval float64 // simulated seconds per throughput sample
	PollInterval    time.Duration
	Radius          float64
	DropHeight      float64
	Seed            uint64
}

// DefaultConfig returns the reference experiment settings.
func DefaultConfig() Config {
	return Config{
		PopulationSize:  40,
		InterBirthDelay: 1.0,
		MonitorInterval: 1.0,
		PollInterval:    pacing.DefaultPollInterval,
		Radius:          birth.DefaultRadius,
		DropHeight:      birth.DefaultDropHeight,
		Seed:            12345,
	}
}

// Controller drives population runs. A Controller keeps no state between
// runs beyond its configuration; each Run starts from a fresh random source.
type Controller struct {
	cfg      Config
	logger   *zap.Logger
	recorder Recorder
	out      io.Writer
	now      func() time.Time
	onState  func(State)

	state atomic.Int32
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the controller logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithRecorder sets where births and throughput samples are recorded.
func WithRecorder(r Recorder) Option {
	return func(c *Controller) {
		if r != nil {
			c.recorder = r
		}
	}
}

// WithOutput sets the writer receiving progress lines and speed factors.
func WithOutput(w io.Writer) Option {
	return func(c *Controller) { c.out = w }
}

// WithRealClock replaces time.Now for measuring real elapsed time.
func WithRealClock(now func() time.Time) Option {
	return func(c *Controller) {
		if now != nil {
			c.now = now
		}
	}
}

// WithStateHook registers fn to be called on every state transition.
func WithStateHook(fn func(State)) Option {
	return func(c *Controller) { c.onState = fn }
}

// New returns a Controller for cfg.
func New(cfg Config, opts ...Option) *Controller {
	c := &Controller{
		cfg:      cfg,
		logger:   zap.NewNop(),
		recorder: NopRecorder{},
		out:      io.Discard,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns the phase of the current or last run.
func (c *Controller) State() State {
	return State(c.state.Load())
}

func (c *Controller) setState(s State) {
	c.state.Store(int32(s))
	c.logger.Info("state", zap.Stringer("state", s))
	if c.onState != nil {
		c.onState(s)
	}
}

// Run executes an experiment against w. It only returns with an error: the
// monitoring phase has no natural end, so a run stops when ctx is cancelled
// or a world call fails. Errors are not retried.
func (c *Controller) Run(ctx context.Context, w World) error {
	if err := c.cfg.validate(); err != nil {
		return err
	}
	c.setState(StateInitializing)

	pacer := pacing.New(w, w,
		pacing.WithPollInterval(c.cfg.PollInterval),
		pacing.WithLogger(c.logger.Named("pacing")))
	births := birth.New(rand.New(rand.NewPCG(c.cfg.Seed, c.cfg.Seed)), c.logger.Named("birth"))
	births.Radius = c.cfg.Radius
	births.DropHeight = c.cfg.DropHeight

	if err := w.Pause(ctx, true); err != nil {
		return fmt.Errorf("pause world: %w", err)
	}
	trees, bboxes, err := w.GeneratePopulation(ctx, c.cfg.PopulationSize)
	if err != nil {
		return fmt.Errorf("generate population: %w", err)
	}
	if len(trees) != len(bboxes) {
		return fmt.Errorf("generate population: %d trees but %d bounding boxes", len(trees), len(bboxes))
	}
	if len(trees) > c.cfg.PopulationSize {
		trees, bboxes = trees[:c.cfg.PopulationSize], bboxes[:c.cfg.PopulationSize]
	}
	c.setState(StatePaused)

	if err := w.Pause(ctx, false); err != nil {
		return fmt.Errorf("unpause world: %w", err)
	}
	c.setState(StateInserting)

	for i := range trees {
		ins, err := births.Birth(ctx, w, trees[i], bboxes[i], nil)
		if err != nil {
			return fmt.Errorf("birth %d/%d: %w", i+1, len(trees), err)
		}
		r, err := ins.Wait(ctx)
		if err != nil {
			return fmt.Errorf("birth %d/%d: wait for insertion: %w", i+1, len(trees), err)
		}
		c.logger.Info("robot born",
			zap.Int("index", i),
			zap.String("robot", r.Name),
			zap.String("tree", trees[i].ID))
		c.record(ctx, func(ctx context.Context) error {
			return c.recorder.RecordBirth(ctx, Birth{Index: i, Robot: r, TreeID: trees[i].ID, BBox: bboxes[i]})
		})

		if err := pacer.Sleep(ctx, c.cfg.InterBirthDelay); err != nil {
			return fmt.Errorf("pace after birth %d: %w", i+1, err)
		}
	}

	fmt.Fprintln(c.out, "Inserted all robots")
	c.setState(StateMonitoring)

	for seq := 0; ; seq++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("monitor: %w", err)
		}
		before := c.now()
		if err := pacer.Sleep(ctx, c.cfg.MonitorInterval); err != nil {
			return fmt.Errorf("monitor: %w", err)
		}
		after := c.now()

		s := newSample(seq, c.cfg.MonitorInterval, before, after, w.CurrentTime())
		if s.Real <= 0 {
			c.logger.Debug("no real time elapsed, sample dropped", zap.Int("seq", seq))
			continue
		}
		c.logger.Debug("throughput", zap.Float64("factor", s.Factor), zap.Duration("real", s.Real))
		fmt.Fprintf(c.out, "%.6f\n", s.Factor)
		c.record(ctx, func(ctx context.Context) error {
			return c.recorder.RecordSample(ctx, s)
		})
	}
}

func (cfg Config) validate() error {
	if !(cfg.MonitorInterval > 0) || math.IsInf(cfg.MonitorInterval, 0) {
		return fmt.Errorf("monitor interval must be positive and finite, got %g", cfg.MonitorInterval)
	}
	if !(cfg.InterBirthDelay >= 0) || math.IsInf(cfg.InterBirthDelay, 0) {
		return fmt.Errorf("inter-birth delay must be non-negative and finite, got %g", cfg.InterBirthDelay)
	}
	return nil
}

// record stores ledger entries. Ledger failures are logged and do not stop
// the experiment.
func (c *Controller) record(ctx context.Context, fn func(context.Context) error) {
	if err := fn(ctx); err != nil {
		c.logger.Warn("ledger write failed", zap.Error(err))
	}
}

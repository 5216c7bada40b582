// Package pacing delays the caller by amounts of simulated time.
//
// Simulated time only advances through updates the world connection receives
// while the caller is suspended, so a Pacer polls: it suspends for a short
// real-time interval, re-reads the clock, and repeats until enough simulated
// time has passed. The real duration of a Sleep is therefore at least
// seconds/speed-factor and may overshoot by up to one poll interval.
package pacing

import (
	"context"
	"time"

	"go.uber.org/zap"

	"tolrun/internal/simtime"
)

// DefaultPollInterval is the real-time floor between clock polls.
const DefaultPollInterval = 50 * time.Millisecond

// Suspender yields the caller for at least d of real time. Implementations
// backed by a network connection return an error when the connection fails
// so a pacing loop cannot outlive its world.
type Suspender interface {
	Suspend(ctx context.Context, d time.Duration) error
}

// TimerSuspender suspends on a real timer.
type TimerSuspender struct{}

// Suspend waits for d or until ctx is done.
func (TimerSuspender) Suspend(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pacer sleeps in simulated time.
type Pacer struct {
	clock   simtime.Clock
	suspend Suspender
	poll    time.Duration
	logger  *zap.Logger
}

// Option configures a Pacer.
type Option func(*Pacer)

// WithPollInterval overrides DefaultPollInterval. Non-positive values are ignored.
func WithPollInterval(d time.Duration) Option {
	return func(p *Pacer) {
		if d > 0 {
			p.poll = d
		}
	}
}

// WithLogger sets the logger used for pacing diagnostics.
func WithLogger(l *zap.Logger) Option {
	return func(p *Pacer) {
		if l != nil {
			p.logger = l
		}
	}
}

// New returns a Pacer reading clock and yielding through s.
func New(clock simtime.Clock, s Suspender, opts ...Option) *Pacer {
	p := &Pacer{
		clock:   clock,
		suspend: s,
		poll:    DefaultPollInterval,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// PollInterval returns the real-time interval between clock polls.
func (p *Pacer) PollInterval() time.Duration {
	return p.poll
}

// Sleep returns once at least seconds of simulated time have elapsed since
// the call began. If the clock never advances Sleep only returns when the
// suspender fails, e.g. because ctx was cancelled or the world disconnected.
func (p *Pacer) Sleep(ctx context.Context, seconds float64) error {
	start := p.clock.CurrentTime()
	remain := seconds
	polls := 0

	for remain > 0 {
		if err := p.suspend.Suspend(ctx, p.poll); err != nil {
			return err
		}
		polls++
		remain = seconds - simtime.Elapsed(p.clock, start)
	}

	p.logger.Debug("simulated sleep done",
		zap.Float64("seconds", seconds),
		zap.Int("polls", polls),
		zap.Stringer("start", start))
	return nil
}

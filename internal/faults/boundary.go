package faults

import (
	"context"
	"fmt"
	"io"

	"go.uber.org/zap"
)

// Shutdown messages shown to the operator.
const (
	MsgDisconnect = "Got disconnect / connection reset - shutting down."
	MsgRefused    = "Connection refused, are the world and the analyzer loaded?"
	MsgInterrupt  = "Got Ctrl+C, shutting down."
)

// Boundary is the top-level handler around a whole run. It turns transport
// failures and interrupts into a clean shutdown and lets logic faults through.
type Boundary struct {
	Logger *zap.Logger
	// Out receives the operator-facing shutdown message. Nil discards it.
	Out io.Writer
}

// NewBoundary returns a Boundary writing shutdown messages to out.
func NewBoundary(logger *zap.Logger, out io.Writer) *Boundary {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Boundary{Logger: logger, Out: out}
}

// Run executes fn and applies the shutdown policy to its result. It returns
// nil for clean outcomes and the original error for logic faults.
func (b *Boundary) Run(ctx context.Context, fn func(context.Context) error) error {
	err := Cause(ctx, fn(ctx))
	if err == nil {
		return nil
	}
	return b.Handle(err)
}

// Handle applies the shutdown policy to err.
func (b *Boundary) Handle(err error) error {
	if err == nil {
		return nil
	}
	logger := b.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	kind := Classify(err)
	switch kind {
	case KindDisconnect:
		logger.Info("world connection lost", zap.Error(err))
		b.say(MsgDisconnect)
		return nil
	case KindRefused:
		logger.Warn("world connection refused", zap.Error(err))
		b.say(MsgRefused)
		return nil
	case KindInterrupt:
		logger.Info("interrupted", zap.Error(err))
		b.say(MsgInterrupt)
		return nil
	}

	logger.Error("run failed", zap.Error(err))
	return err
}

func (b *Boundary) say(msg string) {
	if b.Out == nil {
		return
	}
	fmt.Fprintln(b.Out, msg)
}

// Package simworld is a small stand-in for a physics world. It speaks the
// controller protocol over websockets, advances a simulated clock at a
// configurable speed, generates random populations and "inserts" robots
// after a settle delay. It is meant for dry runs and tests, not physics.
package simworld

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Config tunes the simulated world.
type Config struct {
	// SpeedFactor is simulated seconds per real second.
	SpeedFactor float64
	// TickHz is how often the clock advances and is broadcast.
	TickHz int
	// SettleTicks is how many ticks an insertion takes to complete.
	SettleTicks int
	// MinBoxZ and MaxBoxZ bound the generated bounding box floor (Min.Z).
	MinBoxZ float64
	MaxBoxZ float64
	Seed    uint64
}

// DefaultConfig returns a world running at real time.
func DefaultConfig() Config {
	return Config{
		SpeedFactor: 1.0,
		TickHz:      40,
		SettleTicks: 2,
		MinBoxZ:     -0.5,
		MaxBoxZ:     -0.05,
		Seed:        1,
	}
}

func (c Config) tick() time.Duration {
	hz := c.TickHz
	if hz <= 0 {
		hz = 40
	}
	return time.Second / time.Duration(hz)
}

// Server accepts controller connections. Every connection gets its own world.
type Server struct {
	cfg      Config
	logger   *zap.Logger
	upgrader websocket.Upgrader

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	closed   bool
	sessions int
	nextID   int
	wg       sync.WaitGroup
}

// NewServer returns a server for cfg.
func NewServer(cfg Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:    cfg,
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		ctx:    ctx,
		cancel: cancel,
	}
}

// ServeHTTP upgrades the request and runs a world session until either side
// goes away.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		http.Error(w, "world shutting down", http.StatusServiceUnavailable)
		return
	}
	s.wg.Add(1)
	s.sessions++
	s.nextID++
	id := s.nextID
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.sessions--
		s.mu.Unlock()
		s.wg.Done()
	}()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("upgrade failed", zap.Error(err))
		return
	}

	sess := newSession(id, conn, s.cfg, s.logger.With(zap.Int("session", id)))
	if err := sess.run(s.ctx); err != nil {
		s.logger.Debug("session ended", zap.Int("session", id), zap.Error(err))
	}
}

// Sessions returns the number of live connections.
func (s *Server) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions
}

// Close drops every connection without a close handshake and waits for the
// sessions to finish. Controllers see this as a connection reset.
func (s *Server) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cancel()
	s.wg.Wait()
	return nil
}

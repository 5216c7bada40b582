package simworld

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"tolrun/internal/protocol"
	"tolrun/internal/robot"
	"tolrun/internal/simtime"
)

const writeWait = 5 * time.Second

type pendingInsert struct {
	id        string
	req       protocol.Insert
	ticksLeft int
}

// session is one world bound to one connection. All state is owned by the
// loop goroutine; the reader only forwards frames through the inbox.
type session struct {
	id     int
	conn   *websocket.Conn
	cfg    Config
	logger *zap.Logger
	inbox  chan protocol.Envelope
	rng    *rand.Rand

	now     simtime.Time
	paused  bool
	params  protocol.WorldParams
	births  int
	pending []pendingInsert
}

func newSession(id int, conn *websocket.Conn, cfg Config, logger *zap.Logger) *session {
	seed := cfg.Seed + uint64(id)
	return &session{
		id:     id,
		conn:   conn,
		cfg:    cfg,
		logger: logger,
		inbox:  make(chan protocol.Envelope, 256),
		rng:    rand.New(rand.NewPCG(seed, seed)),
	}
}

func (s *session) run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.readLoop(gctx)
	})
	g.Go(func() error {
		defer s.conn.Close()
		return s.loop(gctx)
	})
	return g.Wait()
}

func (s *session) readLoop(ctx context.Context) error {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		env, err := protocol.DecodeEnvelope(data)
		if err != nil {
			s.logger.Warn("dropping malformed frame", zap.Error(err))
			continue
		}
		select {
		case s.inbox <- env:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *session) loop(ctx context.Context) error {
	tick := s.cfg.tick()
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case env := <-s.inbox:
			if err := s.handle(env); err != nil {
				return err
			}
		case <-ticker.C:
			if err := s.step(tick); err != nil {
				return err
			}
		}
	}
}

// step advances the clock by one tick, broadcasts it and settles insertions.
// Insertions settle while paused too, so a paused world can still be
// populated.
func (s *session) step(tick time.Duration) error {
	if !s.paused {
		s.now = s.now.Add(tick.Seconds() * s.cfg.SpeedFactor)
	}
	if err := s.send(protocol.MsgTime, "", protocol.TimeUpdate{Time: s.now}); err != nil {
		return err
	}

	remaining := s.pending[:0]
	for _, p := range s.pending {
		p.ticksLeft--
		if p.ticksLeft > 0 {
			remaining = append(remaining, p)
			continue
		}
		if err := s.complete(p); err != nil {
			return err
		}
	}
	s.pending = remaining
	return nil
}

func (s *session) complete(p pendingInsert) error {
	s.births++
	r := robot.Robot{
		ID:        uuid.NewString(),
		Name:      fmt.Sprintf("robot_%d", s.births),
		TreeID:    p.req.Tree.ID,
		Pose:      p.req.Pose,
		Parents:   p.req.Parents,
		BirthTime: s.now,
	}
	s.logger.Debug("robot inserted", zap.String("robot", r.Name), zap.String("tree", r.TreeID))
	return s.send(protocol.MsgInserted, p.id, protocol.Inserted{Robot: r})
}

func (s *session) handle(env protocol.Envelope) error {
	switch env.T {
	case protocol.MsgHello:
		hello, err := protocol.DecodePayload[protocol.Hello](env)
		if err != nil {
			return s.reject(env.ID, err)
		}
		if hello.V != protocol.Version {
			return s.reject(env.ID, fmt.Errorf("unsupported protocol version %d", hello.V))
		}
		s.params = hello.Params
		s.logger.Info("controller connected", zap.Float64("max_lifetime", hello.Params.MaxLifetime))
		return s.send(protocol.MsgWelcome, env.ID, protocol.Welcome{Time: s.now, Paused: s.paused})

	case protocol.MsgPause:
		p, err := protocol.DecodePayload[protocol.Pause](env)
		if err != nil {
			return s.reject(env.ID, err)
		}
		s.paused = p.Paused
		return s.send(protocol.MsgAck, env.ID, nil)

	case protocol.MsgGenerate:
		g, err := protocol.DecodePayload[protocol.Generate](env)
		if err != nil {
			return s.reject(env.ID, err)
		}
		if g.N <= 0 {
			return s.reject(env.ID, fmt.Errorf("population size must be positive, got %d", g.N))
		}
		return s.send(protocol.MsgResult, env.ID, s.generate(g.N))

	case protocol.MsgInsert:
		req, err := protocol.DecodePayload[protocol.Insert](env)
		if err != nil {
			return s.reject(env.ID, err)
		}
		if len(req.Tree.Body) == 0 {
			return s.reject(env.ID, errors.New("tree has no body"))
		}
		s.pending = append(s.pending, pendingInsert{id: env.ID, req: req, ticksLeft: max(s.cfg.SettleTicks, 1)})
		return s.send(protocol.MsgAck, env.ID, nil)
	}
	return s.reject(env.ID, fmt.Errorf("unknown message type %q", env.T))
}

// generate produces n random candidates. Part counts honour the min/max
// parts sent in the handshake.
func (s *session) generate(n int) protocol.Population {
	minParts, maxParts := s.params.MinParts, s.params.MaxParts
	if minParts <= 0 {
		minParts = 1
	}
	if maxParts < minParts {
		maxParts = minParts + 9
	}

	pop := protocol.Population{
		Trees:  make([]robot.Tree, n),
		BBoxes: make([]robot.BoundingBox, n),
	}
	for i := 0; i < n; i++ {
		parts := minParts + s.rng.IntN(maxParts-minParts+1)
		body, _ := json.Marshal(map[string]any{"type": "Core", "parts": parts})
		brain, _ := json.Marshal(map[string]any{"oscillators": parts - 1})

		floor := s.cfg.MinBoxZ + s.rng.Float64()*(s.cfg.MaxBoxZ-s.cfg.MinBoxZ)
		half := 0.05 * float64(parts)
		pop.Trees[i] = robot.Tree{ID: uuid.NewString(), Body: body, Brain: brain}
		pop.BBoxes[i] = robot.BoundingBox{
			Min: robot.Vector3{X: -half, Y: -half, Z: floor},
			Max: robot.Vector3{X: half, Y: half, Z: floor + 0.1},
		}
	}
	return pop
}

func (s *session) reject(id string, err error) error {
	s.logger.Debug("rejecting request", zap.String("id", id), zap.Error(err))
	return s.send(protocol.MsgError, id, protocol.Error{Message: err.Error()})
}

func (s *session) send(t, id string, payload any) error {
	b, err := protocol.Encode(t, id, payload)
	if err != nil {
		return err
	}
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := s.conn.WriteMessage(websocket.TextMessage, b); err != nil {
		return fmt.Errorf("write %s: %w", t, err)
	}
	return nil
}

// Package world connects to a simulated world over a websocket and exposes
// the operations a population run needs: pausing, population generation,
// robot insertion and the world's simulated clock.
//
// A Client owns one reader goroutine. It keeps the clock up to date and
// completes outstanding requests while callers are blocked, so callers should
// yield through Suspend rather than sleeping on their own.
package world

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"tolrun/internal/faults"
	"tolrun/internal/protocol"
	"tolrun/internal/robot"
	"tolrun/internal/simtime"
)

const (
	writeWait    = 10 * time.Second
	maxFrameSize = 16 << 20
)

// Config describes how to reach and set up a world.
type Config struct {
	Address        string
	DialTimeout    time.Duration
	RequestTimeout time.Duration
	Params         protocol.WorldParams
}

// RemoteError is a request the world rejected.
type RemoteError struct {
	Op      string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("world rejected %s: %s", e.Op, e.Message)
}

// Client is a connection to one world.
type Client struct {
	simtime.Tracker

	cfg    Config
	conn   *websocket.Conn
	logger *zap.Logger

	writeMu sync.Mutex

	mu         sync.Mutex
	pending    map[string]chan protocol.Envelope
	insertions map[string]*robot.Insertion

	done       chan struct{}
	err        error
	failOnce   sync.Once
	closeOnce  sync.Once
	readerDone chan struct{}
}

// Dial connects to the world at cfg.Address and completes the handshake.
// Refused connections are reported as faults.KindRefused.
func Dial(ctx context.Context, cfg Config, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Address == "" {
		return nil, fmt.Errorf("world address required")
	}

	dialer := websocket.Dialer{HandshakeTimeout: cfg.DialTimeout}
	conn, resp, err := dialer.DialContext(ctx, cfg.Address, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, faults.ClassifyTransport("dial "+cfg.Address, err)
	}
	conn.SetReadLimit(maxFrameSize)

	c := &Client{
		cfg:        cfg,
		conn:       conn,
		logger:     logger,
		pending:    make(map[string]chan protocol.Envelope),
		insertions: make(map[string]*robot.Insertion),
		done:       make(chan struct{}),
		readerDone: make(chan struct{}),
	}
	go c.readLoop()

	reply, err := c.request(ctx, protocol.MsgHello, protocol.Hello{V: protocol.Version, Params: cfg.Params})
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("handshake: %w", err)
	}
	welcome, err := protocol.DecodePayload[protocol.Welcome](reply)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("handshake: %w", err)
	}
	c.Observe(welcome.Time)

	logger.Info("connected to world",
		zap.String("address", cfg.Address),
		zap.Stringer("time", welcome.Time),
		zap.Bool("paused", welcome.Paused))
	return c, nil
}

// Done is closed when the connection is lost or closed.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns why the connection ended, or nil while it is alive.
func (c *Client) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

// Close shuts the connection down and waits for the reader to exit.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		c.fail(faults.Disconnect("close", errors.New("client closed")))
		c.conn.Close()
	})
	<-c.readerDone
	return nil
}

// Suspend yields for d of real time. It returns early with the connection
// error if the world goes away, or with ctx's error on cancellation.
func (c *Client) Suspend(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return c.err
	}
}

// Pause pauses or resumes the world's physics.
func (c *Client) Pause(ctx context.Context, paused bool) error {
	_, err := c.request(ctx, protocol.MsgPause, protocol.Pause{Paused: paused})
	if err != nil {
		return fmt.Errorf("pause(%v): %w", paused, err)
	}
	c.logger.Debug("world pause", zap.Bool("paused", paused))
	return nil
}

// GeneratePopulation asks the world's generator for n candidates.
func (c *Client) GeneratePopulation(ctx context.Context, n int) ([]robot.Tree, []robot.BoundingBox, error) {
	reply, err := c.request(ctx, protocol.MsgGenerate, protocol.Generate{N: n})
	if err != nil {
		return nil, nil, fmt.Errorf("generate %d: %w", n, err)
	}
	pop, err := protocol.DecodePayload[protocol.Population](reply)
	if err != nil {
		return nil, nil, fmt.Errorf("generate %d: %w", n, err)
	}
	return pop.Trees, pop.BBoxes, nil
}

// Insert submits tree for insertion at pose. It returns once the world
// acknowledged the request; the returned insertion completes when the robot
// is in the world.
func (c *Client) Insert(ctx context.Context, tree robot.Tree, pose robot.Pose, parents []string) (*robot.Insertion, error) {
	id := uuid.NewString()
	ins := robot.NewInsertion()

	c.mu.Lock()
	c.insertions[id] = ins
	c.mu.Unlock()

	_, err := c.requestWithID(ctx, id, protocol.MsgInsert, protocol.Insert{Tree: tree, Pose: pose, Parents: parents})
	if err != nil {
		c.mu.Lock()
		delete(c.insertions, id)
		c.mu.Unlock()
		return nil, err
	}
	return ins, nil
}

func (c *Client) request(ctx context.Context, t string, payload any) (protocol.Envelope, error) {
	return c.requestWithID(ctx, uuid.NewString(), t, payload)
}

// requestWithID sends one request and waits for the reply carrying id.
func (c *Client) requestWithID(ctx context.Context, id, t string, payload any) (protocol.Envelope, error) {
	if c.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.RequestTimeout)
		defer cancel()
	}

	reply := make(chan protocol.Envelope, 1)
	c.mu.Lock()
	c.pending[id] = reply
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	if err := c.send(t, id, payload); err != nil {
		return protocol.Envelope{}, err
	}

	select {
	case env := <-reply:
		if env.T == protocol.MsgError {
			msg, _ := protocol.DecodePayload[protocol.Error](env)
			return env, &RemoteError{Op: t, Message: msg.Message}
		}
		return env, nil
	case <-ctx.Done():
		return protocol.Envelope{}, fmt.Errorf("%s: %w", t, ctx.Err())
	case <-c.done:
		return protocol.Envelope{}, c.err
	}
}

func (c *Client) send(t, id string, payload any) error {
	b, err := protocol.Encode(t, id, payload)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.Err(); err != nil {
		return err
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
		return transportError("write", err)
	}
	return nil
}

func (c *Client) readLoop() {
	defer close(c.readerDone)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.fail(transportError("read", err))
			return
		}
		env, err := protocol.DecodeEnvelope(data)
		if err != nil {
			c.logger.Warn("dropping malformed frame", zap.Error(err))
			continue
		}
		c.dispatch(env)
	}
}

func (c *Client) dispatch(env protocol.Envelope) {
	switch env.T {
	case protocol.MsgTime:
		upd, err := protocol.DecodePayload[protocol.TimeUpdate](env)
		if err != nil {
			c.logger.Warn("bad time update", zap.Error(err))
			return
		}
		c.Observe(upd.Time)
	case protocol.MsgInserted:
		ins := c.takeInsertion(env.ID)
		if ins == nil {
			c.logger.Debug("insertion for unknown request", zap.String("id", env.ID))
			return
		}
		done, err := protocol.DecodePayload[protocol.Inserted](env)
		ins.Resolve(done.Robot, err)
	default:
		c.mu.Lock()
		reply, ok := c.pending[env.ID]
		c.mu.Unlock()
		if ok {
			select {
			case reply <- env:
			default:
				c.logger.Debug("duplicate reply", zap.String("type", env.T), zap.String("id", env.ID))
			}
			return
		}
		// An error for an insert that was already acknowledged fails the insertion.
		if env.T == protocol.MsgError {
			if ins := c.takeInsertion(env.ID); ins != nil {
				msg, _ := protocol.DecodePayload[protocol.Error](env)
				ins.Resolve(robot.Robot{}, &RemoteError{Op: protocol.MsgInsert, Message: msg.Message})
				return
			}
		}
		c.logger.Debug("unsolicited frame", zap.String("type", env.T), zap.String("id", env.ID))
	}
}

func (c *Client) takeInsertion(id string) *robot.Insertion {
	c.mu.Lock()
	defer c.mu.Unlock()
	ins, ok := c.insertions[id]
	if ok {
		delete(c.insertions, id)
	}
	return ins
}

// fail records the first connection error and fails everything waiting.
func (c *Client) fail(err error) {
	c.failOnce.Do(func() {
		c.err = err
		close(c.done)

		c.mu.Lock()
		insertions := c.insertions
		c.insertions = make(map[string]*robot.Insertion)
		c.mu.Unlock()
		for _, ins := range insertions {
			ins.Resolve(robot.Robot{}, err)
		}
		c.logger.Debug("world connection ended", zap.Error(err))
	})
}

// transportError tags err as a transport fault. Errors from the websocket
// connection that do not match a known network condition still mean the
// connection is unusable, so they are reported as disconnects.
func transportError(op string, err error) error {
	if faults.Classify(err).Transport() {
		return faults.ClassifyTransport(op, err)
	}
	return faults.Disconnect(op, err)
}

package world

import (
	"context"
	"errors"
	"net"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"tolrun/internal/faults"
	"tolrun/internal/protocol"
	"tolrun/internal/robot"
	"tolrun/internal/simworld"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type testWorld struct {
	sim *simworld.Server
	srv *httptest.Server
	url string
}

func startWorld(t *testing.T, speed float64) *testWorld {
	t.Helper()
	cfg := simworld.DefaultConfig()
	cfg.SpeedFactor = speed
	cfg.TickHz = 100
	sim := simworld.NewServer(cfg, zap.NewNop())
	srv := httptest.NewServer(sim)
	tw := &testWorld{sim: sim, srv: srv, url: "ws" + strings.TrimPrefix(srv.URL, "http")}
	t.Cleanup(func() {
		sim.Close()
		srv.Close()
	})
	return tw
}

func dial(t *testing.T, tw *testWorld) *Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := Dial(ctx, Config{
		Address:        tw.url,
		DialTimeout:    2 * time.Second,
		RequestTimeout: 5 * time.Second,
		Params:         protocol.WorldParams{MaxLifetime: 999999, InitialAgeMu: 500, InitialAgeSigma: 500},
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

// waitFor suspends on the client until cond holds.
func waitFor(t *testing.T, c *Client, cond func() bool) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for !cond() {
		require.NoError(t, c.Suspend(ctx, 10*time.Millisecond))
	}
}

func TestClientTracksWorldClock(t *testing.T) {
	tw := startWorld(t, 5)
	c := dial(t, tw)

	start := c.CurrentTime()
	waitFor(t, c, func() bool { return c.Elapsed(start) >= 0.5 })
	assert.True(t, c.Reported())
}

func TestClientPauseFreezesClock(t *testing.T) {
	tw := startWorld(t, 5)
	c := dial(t, tw)
	ctx := context.Background()

	require.NoError(t, c.Pause(ctx, true))
	frozen := c.CurrentTime()
	require.NoError(t, c.Suspend(ctx, 100*time.Millisecond))
	assert.Equal(t, frozen, c.CurrentTime())

	require.NoError(t, c.Pause(ctx, false))
	waitFor(t, c, func() bool { return frozen.Before(c.CurrentTime()) })
}

func TestClientGeneratePopulation(t *testing.T) {
	tw := startWorld(t, 1)
	c := dial(t, tw)

	trees, bboxes, err := c.GeneratePopulation(context.Background(), 12)
	require.NoError(t, err)
	require.Len(t, trees, 12)
	require.Len(t, bboxes, 12)

	seen := make(map[string]bool)
	for i, tree := range trees {
		assert.NotEmpty(t, tree.Body)
		assert.False(t, seen[tree.ID], "duplicate tree id")
		seen[tree.ID] = true
		assert.Less(t, bboxes[i].Min.Z, 0.0)
		assert.Less(t, bboxes[i].Min.Z, bboxes[i].Max.Z)
	}
}

func TestClientInsertResolves(t *testing.T) {
	tw := startWorld(t, 1)
	c := dial(t, tw)
	ctx := context.Background()

	require.NoError(t, c.Pause(ctx, true))
	tree := robot.Tree{ID: "spider", Body: []byte(`{"type":"Core"}`)}
	pose := robot.NewPose(robot.Vector3{X: 2, Z: 0.7})

	ins, err := c.Insert(ctx, tree, pose, []string{"robot_0"})
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	r, err := ins.Wait(waitCtx)
	require.NoError(t, err)
	assert.Equal(t, "robot_1", r.Name)
	assert.Equal(t, "spider", r.TreeID)
	assert.Equal(t, pose, r.Pose)
	assert.Equal(t, []string{"robot_0"}, r.Parents)
	assert.NotEmpty(t, r.ID)
}

func TestClientRemoteRejection(t *testing.T) {
	tw := startWorld(t, 1)
	c := dial(t, tw)
	ctx := context.Background()

	_, _, err := c.GeneratePopulation(ctx, 0)
	var remote *RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, protocol.MsgGenerate, remote.Op)
	assert.Equal(t, faults.KindLogic, faults.Classify(err))

	_, err = c.Insert(ctx, robot.Tree{ID: "empty"}, robot.NewPose(robot.Vector3{}), nil)
	require.ErrorAs(t, err, &remote)

	// The connection survives rejected requests.
	require.NoError(t, c.Pause(ctx, false))
	assert.NoError(t, c.Err())
}

func TestDialRefused(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	_, err = Dial(context.Background(), Config{Address: "ws://" + addr + "/world", DialTimeout: time.Second}, nil)
	require.Error(t, err)
	assert.Equal(t, faults.KindRefused, faults.Classify(err))
}

func TestDialRequiresAddress(t *testing.T) {
	_, err := Dial(context.Background(), Config{}, nil)
	require.Error(t, err)
	assert.Equal(t, faults.KindLogic, faults.Classify(err))
}

func TestWorldShutdownIsDisconnect(t *testing.T) {
	tw := startWorld(t, 1)
	c := dial(t, tw)
	ctx := context.Background()

	require.NoError(t, c.Pause(ctx, true))
	tw.sim.Close()

	select {
	case <-c.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("client did not notice the world going away")
	}

	err := c.Suspend(ctx, time.Hour)
	require.Error(t, err)
	assert.Equal(t, faults.KindDisconnect, faults.Classify(err))
	assert.Equal(t, faults.KindDisconnect, faults.Classify(c.Err()))

	_, err = c.Insert(ctx, robot.Tree{ID: "late", Body: []byte(`{}`)}, robot.NewPose(robot.Vector3{}), nil)
	assert.Equal(t, faults.KindDisconnect, faults.Classify(err))
}

func TestCloseFailsOutstandingInsertions(t *testing.T) {
	tw := startWorld(t, 1)
	c := dial(t, tw)

	ins := robot.NewInsertion()
	c.mu.Lock()
	c.insertions["dangling"] = ins
	c.mu.Unlock()

	require.NoError(t, c.Close())
	_, err := ins.Wait(context.Background())
	require.Error(t, err)
	assert.Equal(t, faults.KindDisconnect, faults.Classify(err))
	assert.True(t, errors.Is(c.Err(), err) || c.Err() == err)
}

func TestSuspendHonoursContext(t *testing.T) {
	tw := startWorld(t, 1)
	c := dial(t, tw)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, c.Suspend(ctx, time.Hour), context.Canceled)
}

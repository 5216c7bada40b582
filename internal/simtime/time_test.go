package simtime

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimeSub(t *testing.T) {
	a := Time{Sec: 10, Nsec: 500_000_000}
	b := Time{Sec: 8, Nsec: 750_000_000}

	assert.InDelta(t, 1.75, a.Sub(b), 1e-12)
	assert.InDelta(t, -1.75, b.Sub(a), 1e-12)
	assert.Zero(t, a.Sub(a))
}

func TestFromSecondsNormalizes(t *testing.T) {
	got := FromSeconds(2.25)
	assert.Equal(t, Time{Sec: 2, Nsec: 250_000_000}, got)

	neg := FromSeconds(-0.5)
	assert.Equal(t, Time{Sec: -1, Nsec: 500_000_000}, neg)
	assert.InDelta(t, -0.5, neg.Seconds(), 1e-12)
}

func TestTimeAddCarries(t *testing.T) {
	start := Time{Sec: 1, Nsec: 900_000_000}
	got := start.Add(0.2)
	assert.Equal(t, int64(2), got.Sec)
	assert.InDelta(t, 100_000_000, got.Nsec, 1)
	assert.True(t, start.Before(got))
	assert.False(t, got.Before(start))
}

func TestTrackerDefaultsToEpoch(t *testing.T) {
	var tr Tracker
	assert.True(t, tr.CurrentTime().IsZero())
	assert.False(t, tr.Reported())

	tr.Observe(Time{Sec: 3})
	require.True(t, tr.Reported())
	assert.InDelta(t, 3.0, tr.Elapsed(Time{}), 1e-12)
	assert.InDelta(t, 1.0, Elapsed(&tr, Time{Sec: 2}), 1e-12)
}

func TestTrackerDoesNotEnforceMonotonicity(t *testing.T) {
	var tr Tracker
	tr.Observe(Time{Sec: 5})
	tr.Observe(Time{Sec: 4})
	assert.Equal(t, Time{Sec: 4}, tr.CurrentTime())
	assert.InDelta(t, -1.0, tr.Elapsed(Time{Sec: 5}), 1e-12)
}

func TestTrackerConcurrentObserve(t *testing.T) {
	var tr Tracker
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := int64(1); i <= 1000; i++ {
			tr.Observe(Time{Sec: i})
		}
	}()
	for i := 0; i < 1000; i++ {
		_ = tr.CurrentTime()
	}
	wg.Wait()
	assert.Equal(t, Time{Sec: 1000}, tr.CurrentTime())
}

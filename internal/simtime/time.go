// Package simtime models the simulated clock reported by a physics world.
//
// Simulated time is owned by the world connection; everything else only
// reads it. Time values are ordered and subtractable, and the difference of
// two values is a real-valued number of simulated seconds.
package simtime

import (
	"fmt"
	"math"
	"sync/atomic"
)

const nsecPerSec = 1_000_000_000

// Time is a simulated timestamp in the world's {sec, nsec} representation.
// The zero value is the epoch used before the world reports any time.
type Time struct {
	Sec  int64 `json:"sec"`
	Nsec int64 `json:"nsec"`
}

// FromSeconds builds a normalized Time from a floating point number of seconds.
func FromSeconds(s float64) Time {
	sec := math.Floor(s)
	nsec := math.Round((s - sec) * nsecPerSec)
	return Time{Sec: int64(sec), Nsec: int64(nsec)}.normalize()
}

func (t Time) normalize() Time {
	if t.Nsec >= nsecPerSec || t.Nsec <= -nsecPerSec {
		t.Sec += t.Nsec / nsecPerSec
		t.Nsec %= nsecPerSec
	}
	if t.Nsec < 0 {
		t.Sec--
		t.Nsec += nsecPerSec
	}
	return t
}

// Seconds returns t as floating point seconds since the epoch.
func (t Time) Seconds() float64 {
	return float64(t.Sec) + float64(t.Nsec)/nsecPerSec
}

// Sub returns t-u in simulated seconds.
func (t Time) Sub(u Time) float64 {
	return float64(t.Sec-u.Sec) + float64(t.Nsec-u.Nsec)/nsecPerSec
}

// Add returns t advanced by s simulated seconds.
func (t Time) Add(s float64) Time {
	d := FromSeconds(s)
	return Time{Sec: t.Sec + d.Sec, Nsec: t.Nsec + d.Nsec}.normalize()
}

// Before reports whether t is earlier than u.
func (t Time) Before(u Time) bool {
	t, u = t.normalize(), u.normalize()
	return t.Sec < u.Sec || (t.Sec == u.Sec && t.Nsec < u.Nsec)
}

// IsZero reports whether t is the epoch.
func (t Time) IsZero() bool {
	return t.Sec == 0 && t.Nsec == 0
}

func (t Time) String() string {
	return fmt.Sprintf("%d.%09ds", t.Sec, t.Nsec)
}

// Clock reports the most recently observed simulated time.
type Clock interface {
	CurrentTime() Time
}

// Elapsed returns the simulated seconds that passed on clock since start.
func Elapsed(clock Clock, start Time) float64 {
	return clock.CurrentTime().Sub(start)
}

// Tracker holds the last simulated time reported by the world. One goroutine
// observes updates while others read; the zero Tracker reports the epoch.
type Tracker struct {
	last atomic.Pointer[Time]
}

// Observe records t as the world's latest reported time. Ordering is not
// checked; the world is trusted to move forward.
func (tr *Tracker) Observe(t Time) {
	t = t.normalize()
	tr.last.Store(&t)
}

// CurrentTime returns the last observed time, or the zero Time if the world
// has not reported one yet.
func (tr *Tracker) CurrentTime() Time {
	if p := tr.last.Load(); p != nil {
		return *p
	}
	return Time{}
}

// Reported reports whether any time has been observed.
func (tr *Tracker) Reported() bool {
	return tr.last.Load() != nil
}

// Elapsed returns simulated seconds since start according to the tracker.
func (tr *Tracker) Elapsed(start Time) float64 {
	return Elapsed(tr, start)
}

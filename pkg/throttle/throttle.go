// Package throttle rate-limits outbound lines with a linear decay model.
//
// The accumulated send weight sits on a line y = k*x + m, where x is the
// number of seconds since the reference time t0 and k is negative. Every
// permitted send lifts m by a fixed increment; once y reaches the burst
// ceiling, sends are refused until the line decays back under it.
package throttle

import (
	"time"

	"github.com/benbjohnson/clock"
)

// Mode selects the constants for the network being spoken to.
type Mode int

const (
	// ModeDefault is the standard server policy: k=-1.2, burst=3.
	ModeDefault Mode = iota
	// ModeLoose is for platforms with per-message pacing: k=-1, burst=1.
	ModeLoose
	// ModeFast is the explicitly requested high-rate mode: k=-3, burst=10.
	// It is the only mode in which the fast outbound tier is drained.
	ModeFast
)

type Throttle struct {
	k         float64
	burst     float64
	increment float64

	m      float64
	t0     time.Time
	primed bool

	clk clock.Clock
}

func CreateThrottle(mode Mode, clk clock.Clock) *Throttle {
	if clk == nil {
		clk = clock.New()
	}

	t := &Throttle{
		k:         -1.2,
		burst:     3.0,
		increment: 1.0,
		clk:       clk,
	}

	switch mode {
	case ModeLoose:
		t.k = -1.0
		t.burst = 1.0
	case ModeFast:
		t.k = -3.0
		t.burst = 10.0
	}

	return t
}

// height computes the current y, resetting the line when it has fully
// decayed. Never returns a negative value.
func (t *Throttle) height() float64 {
	now := t.clk.Now()
	if !t.primed {
		t.primed = true
		t.t0 = now
	}

	x := now.Sub(t.t0).Seconds()
	y := t.k*x + t.m

	if y < 0 {
		t.t0 = now
		t.m = 0
		y = 0
	}

	return y
}

// TrySend asks whether one line may leave right now. When permitted it also
// accounts for the send. When refused, the returned height is the current y,
// which the caller can map to a wait hint.
func (t *Throttle) TrySend() (ok bool, height float64) {
	y := t.height()
	if y >= t.burst {
		return false, y
	}

	t.m = y + t.increment
	t.t0 = t.clk.Now()
	return true, y
}

// AccountOnly adds a send's weight without gating, for traffic pushed
// through a throttle-bypass path. Keeps the decay model accurate.
func (t *Throttle) AccountOnly() {
	y := t.height()
	t.m = y + t.increment
	t.t0 = t.clk.Now()
}

// Weight reports the current accumulated weight m.
func (t *Throttle) Weight() float64 {
	return t.m
}

func (t *Throttle) Burst() float64 {
	return t.burst
}

// WaitHint converts a refused-send height into a concrete delay until the
// line decays back under the burst ceiling.
func (t *Throttle) WaitHint(height float64) time.Duration {
	over := height - t.burst + t.increment
	if over <= 0 {
		return 0
	}
	return time.Duration(over / -t.k * float64(time.Second))
}

// Reset returns the throttle to its initial state. Called on reconnect.
func (t *Throttle) Reset() {
	t.m = 0
	t.primed = false
	t.t0 = time.Time{}
}

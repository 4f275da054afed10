package throttle

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestThrottle_BurstThenRefusal(t *testing.T) {
	mock := clock.NewMock()
	th := CreateThrottle(ModeDefault, mock)

	// Four lines at effectively the same instant: three pass, the fourth
	// is refused with the current height as the hint.
	ok, y := th.TrySend()
	require.True(t, ok)
	assert.InDelta(t, 0.0, y, 1e-9)
	assert.InDelta(t, 1.0, th.Weight(), 1e-9)

	ok, y = th.TrySend()
	require.True(t, ok)
	assert.InDelta(t, 1.0, y, 1e-9)
	assert.InDelta(t, 2.0, th.Weight(), 1e-9)

	ok, y = th.TrySend()
	require.True(t, ok)
	assert.InDelta(t, 2.0, y, 1e-9)
	assert.InDelta(t, 3.0, th.Weight(), 1e-9)

	ok, y = th.TrySend()
	require.False(t, ok)
	assert.InDelta(t, 3.0, y, 1e-9)
}

func TestThrottle_DecayReopens(t *testing.T) {
	mock := clock.NewMock()
	th := CreateThrottle(ModeDefault, mock)

	for i := 0; i < 3; i++ {
		ok, _ := th.TrySend()
		require.True(t, ok)
	}
	ok, _ := th.TrySend()
	require.False(t, ok)

	// After one second the line has decayed by 1.2 and a send fits again.
	mock.Add(1 * time.Second)
	ok, y := th.TrySend()
	assert.True(t, ok)
	assert.InDelta(t, 1.8, y, 1e-9)
}

func TestThrottle_WeightNeverNegative(t *testing.T) {
	mock := clock.NewMock()
	th := CreateThrottle(ModeDefault, mock)

	ok, _ := th.TrySend()
	require.True(t, ok)

	// Long idle: the line decays far below zero and must reset cleanly.
	mock.Add(1 * time.Hour)
	ok, y := th.TrySend()
	require.True(t, ok)
	assert.InDelta(t, 0.0, y, 1e-9)
	assert.GreaterOrEqual(t, th.Weight(), 0.0)
}

func TestThrottle_AccountOnly(t *testing.T) {
	mock := clock.NewMock()
	th := CreateThrottle(ModeDefault, mock)

	// Bypass traffic raises the weight exactly like a real send, so the
	// next gated send sees the accumulated height.
	th.AccountOnly()
	th.AccountOnly()
	th.AccountOnly()

	ok, y := th.TrySend()
	require.False(t, ok)
	assert.InDelta(t, 3.0, y, 1e-9)
}

func TestThrottle_Modes(t *testing.T) {
	mock := clock.NewMock()

	loose := CreateThrottle(ModeLoose, mock)
	ok, _ := loose.TrySend()
	require.True(t, ok)
	ok, _ = loose.TrySend()
	assert.False(t, ok, "loose mode permits a single line per window")

	fast := CreateThrottle(ModeFast, mock)
	sent := 0
	for i := 0; i < 20; i++ {
		if ok, _ := fast.TrySend(); ok {
			sent++
		}
	}
	assert.Equal(t, 10, sent, "fast mode bursts to ten lines")
}

func TestThrottle_Reset(t *testing.T) {
	mock := clock.NewMock()
	th := CreateThrottle(ModeDefault, mock)

	for i := 0; i < 4; i++ {
		th.TrySend()
	}
	th.Reset()

	ok, y := th.TrySend()
	assert.True(t, ok)
	assert.InDelta(t, 0.0, y, 1e-9)
}

func TestThrottle_WaitHint(t *testing.T) {
	mock := clock.NewMock()
	th := CreateThrottle(ModeDefault, mock)

	for i := 0; i < 3; i++ {
		th.TrySend()
	}
	ok, y := th.TrySend()
	require.False(t, ok)

	hint := th.WaitHint(y)
	assert.Greater(t, hint, time.Duration(0))

	// Once the hinted delay has elapsed, the send goes through.
	mock.Add(hint)
	ok, _ = th.TrySend()
	assert.True(t, ok)
}

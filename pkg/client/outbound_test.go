package client

import (
	"bytes"
	"testing"

	"github.com/benbjohnson/clock"
	kerrors "github.com/kestrelbot/kestrel/pkg/errors"
	"github.com/kestrelbot/kestrel/pkg/throttle"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestSender(mode throttle.Mode) (*Sender, *clock.Mock) {
	mock := clock.NewMock()
	th := throttle.CreateThrottle(mode, mock)
	return CreateSender(th, mode, zap.NewNop()), mock
}

func TestSender_DrainStopsAtBurst(t *testing.T) {
	s, _ := newTestSender(throttle.ModeDefault)
	var out bytes.Buffer

	for i := 0; i < 4; i++ {
		require.NoError(t, s.Push(TierNormal, OutgoingLine{Text: "PRIVMSG #ch :hi"}))
	}

	sent, hint, err := s.Drain(&out)
	require.NoError(t, err)
	assert.Equal(t, 3, sent, "three lines fit in the default burst")
	assert.InDelta(t, 3.0, hint, 1e-9, "refusal hands back the current height")
	assert.Equal(t, 1, s.Pending())
}

func TestSender_PriorityDrainsFirst(t *testing.T) {
	s, _ := newTestSender(throttle.ModeDefault)
	var out bytes.Buffer

	require.NoError(t, s.Push(TierNormal, OutgoingLine{Text: "second"}))
	require.NoError(t, s.Push(TierPriority, OutgoingLine{Text: "first", Quiet: true}))

	sent, _, err := s.Drain(&out)
	require.NoError(t, err)
	require.Equal(t, 2, sent)
	assert.Equal(t, "first\r\nsecond\r\n", out.String())
}

func TestSender_FastTierRequiresFastMode(t *testing.T) {
	s, _ := newTestSender(throttle.ModeDefault)
	require.NoError(t, s.Push(TierFast, OutgoingLine{Text: "x"}))
	assert.Len(t, s.normal, 1, "fast pushes fold into normal outside fast mode")

	fast, _ := newTestSender(throttle.ModeFast)
	require.NoError(t, fast.Push(TierFast, OutgoingLine{Text: "x"}))
	assert.Len(t, fast.fast, 1)
}

func TestSender_BufferFull(t *testing.T) {
	s, _ := newTestSender(throttle.ModeDefault)
	for i := 0; i < tierCapacity; i++ {
		require.NoError(t, s.Push(TierNormal, OutgoingLine{Text: "x"}))
	}

	err := s.Push(TierNormal, OutgoingLine{Text: "overflow"})
	var full *kerrors.BufferFull
	require.ErrorAs(t, err, &full)
	assert.Equal(t, "normal", full.Tier)
}

func TestSender_ImmediateBypassStillAccounts(t *testing.T) {
	s, _ := newTestSender(throttle.ModeDefault)
	var out bytes.Buffer

	// Three bypass sends exhaust the burst budget for gated traffic.
	for i := 0; i < 3; i++ {
		require.NoError(t, s.SendImmediate(&out, "NOTICE #ch :urgent"))
	}

	require.NoError(t, s.Push(TierNormal, OutgoingLine{Text: "gated"}))
	sent, hint, err := s.Drain(&out)
	require.NoError(t, err)
	assert.Equal(t, 0, sent)
	assert.InDelta(t, 3.0, hint, 1e-9)
}

func TestSender_ResetClearsBuffersAndThrottle(t *testing.T) {
	s, _ := newTestSender(throttle.ModeDefault)
	var out bytes.Buffer

	for i := 0; i < 5; i++ {
		s.Push(TierNormal, OutgoingLine{Text: "x"})
	}
	s.Drain(&out)
	s.Reset()

	assert.Equal(t, 0, s.Pending())
	require.NoError(t, s.Push(TierNormal, OutgoingLine{Text: "fresh"}))
	sent, _, err := s.Drain(&out)
	require.NoError(t, err)
	assert.Equal(t, 1, sent, "reset must reopen the throttle")
}

package plugin

import (
	"strings"
	"testing"

	"github.com/kestrelbot/kestrel/internal/identity"
	"github.com/kestrelbot/kestrel/pkg/mailbox"
	"github.com/kestrelbot/kestrel/pkg/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newCoreForTest(t *testing.T) (*CoreHandler, *[]any) {
	t.Helper()
	var posted []any
	deps := Deps{
		Logger:   zap.NewNop(),
		Identity: identity.CreateState("kestrel"),
		Post: func(msg any) error {
			posted = append(posted, msg)
			return nil
		},
	}
	return CreateCoreHandler(deps, 1), &posted
}

func parseLine(t *testing.T, line string) *wire.Event {
	t.Helper()
	ev, err := wire.CreateLineParser().Parse(line)
	require.NoError(t, err)
	return ev
}

func TestCore_AnswersPing(t *testing.T) {
	h, posted := newCoreForTest(t)

	require.NoError(t, h.OnEvent(parseLine(t, "PING :gateway")))

	require.Len(t, *posted, 1)
	assert.Equal(t, mailbox.Pong{Target: "gateway"}, (*posted)[0])
}

func TestCore_NickInUseRetriesWithAlternate(t *testing.T) {
	h, posted := newCoreForTest(t)

	require.NoError(t, h.OnEvent(parseLine(t, ":irc.example.org 433 * kestrel :Nickname is already in use")))

	require.Len(t, *posted, 1)
	sendLine, ok := (*posted)[0].(mailbox.SendLine)
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(sendLine.Text, "NICK kestrel_"), "got %q", sendLine.Text)
	assert.Len(t, h.Waits().Events["001"], 1, "a confirmation wait parks on the welcome numeric")
}

func TestCore_PostprocessTracksIdentity(t *testing.T) {
	h, _ := newCoreForTest(t)

	require.NoError(t, h.Postprocess(parseLine(t, ":irc.example.org 001 kestrel_abc :Welcome")))
	assert.Equal(t, "kestrel_abc", h.identity.Nick())

	require.NoError(t, h.Postprocess(parseLine(t, ":kestrel_abc!u@h JOIN :#lobby")))
	assert.Equal(t, []string{"#lobby"}, h.identity.Channels())

	// Someone else's join must not touch our state.
	require.NoError(t, h.Postprocess(parseLine(t, ":alice!u@h JOIN :#other")))
	assert.Equal(t, []string{"#lobby"}, h.identity.Channels())

	require.NoError(t, h.Postprocess(parseLine(t, ":kestrel_abc!u@h PART #lobby :bye")))
	assert.Empty(t, h.identity.Channels())

	require.NoError(t, h.Postprocess(parseLine(t, ":kestrel_abc!u@h NICK :kestrel")))
	assert.Equal(t, "kestrel", h.identity.Nick())
}

func TestCore_KeepaliveArmsOnceAndRearmsAfterFiring(t *testing.T) {
	h, posted := newCoreForTest(t)

	require.NoError(t, h.Periodic(100))
	require.NoError(t, h.Periodic(110))
	require.Len(t, h.Waits().Timed, 1, "one keepalive wait at a time")

	wait := h.Waits().Timed[0]
	assert.Equal(t, int64(100+keepaliveInterval), wait.At)

	require.NoError(t, wait.Resume(wait.At))
	require.Len(t, *posted, 1)
	sendLine, ok := (*posted)[0].(mailbox.SendLine)
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(sendLine.Text, "PING :"))
	assert.True(t, sendLine.Quiet)

	// After the probe fires the next periodic pass arms a fresh one.
	h.Waits().Timed = nil
	require.NoError(t, h.Periodic(300))
	require.Len(t, h.Waits().Timed, 1)
	assert.Equal(t, int64(300+keepaliveInterval), h.Waits().Timed[0].At)
}

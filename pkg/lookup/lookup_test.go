package lookup

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/kestrelbot/kestrel/pkg/plugin"
	"github.com/kestrelbot/kestrel/pkg/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubHandler struct {
	waits *plugin.Waits
}

func newStubHandler() *stubHandler {
	return &stubHandler{waits: plugin.CreateWaits()}
}

func (h *stubHandler) Name() string                  { return "stub" }
func (h *stubHandler) Postprocess(*wire.Event) error { return nil }
func (h *stubHandler) OnEvent(*wire.Event) error     { return nil }
func (h *stubHandler) Periodic(int64) error          { return nil }
func (h *stubHandler) OnBusMessage(string, any)      {}
func (h *stubHandler) Waits() *plugin.Waits          { return h.waits }

func newTestQueue(t *testing.T, clk clock.Clock) *Queue {
	t.Helper()
	q, err := CreateQueue(QueueParams{Logger: zap.NewNop(), Clock: clk})
	require.NoError(t, err)
	return q
}

func collectPush(lines *[]string) func(string) error {
	return func(line string) error {
		*lines = append(*lines, line)
		return nil
	}
}

func TestQueue_ManyRequestsOneLookup(t *testing.T) {
	mock := clock.NewMock()
	q := newTestQueue(t, mock)
	h := newStubHandler()

	for i := 0; i < 5; i++ {
		h.waits.RequestLookup(plugin.LookupRequest{Subject: "alice"})
	}

	var lines []string
	q.Flush([]plugin.Handler{h}, collectPush(&lines))
	q.Flush([]plugin.Handler{h}, collectPush(&lines))

	require.Equal(t, []string{"WHOIS alice"}, lines)
	// Requests are not consumed; the handler matches results itself.
	assert.Len(t, h.waits.Lookups["alice"], 5)
}

func TestQueue_CooldownElapsedEmitsAgain(t *testing.T) {
	mock := clock.NewMock()
	q := newTestQueue(t, mock)
	h := newStubHandler()
	h.waits.RequestLookup(plugin.LookupRequest{Subject: "bob"})

	var lines []string
	q.Flush([]plugin.Handler{h}, collectPush(&lines))

	mock.Add(DefaultCooldown - time.Second)
	q.Flush([]plugin.Handler{h}, collectPush(&lines))
	require.Len(t, lines, 1, "inside the cooldown window nothing is emitted")

	mock.Add(2 * time.Second)
	q.Flush([]plugin.Handler{h}, collectPush(&lines))
	assert.Equal(t, []string{"WHOIS bob", "WHOIS bob"}, lines)
}

func TestQueue_SubjectsAreCaseFolded(t *testing.T) {
	mock := clock.NewMock()
	q := newTestQueue(t, mock)

	h1 := newStubHandler()
	h1.waits.RequestLookup(plugin.LookupRequest{Subject: "Carol"})
	h2 := newStubHandler()
	h2.waits.RequestLookup(plugin.LookupRequest{Subject: "carol"})

	var lines []string
	q.Flush([]plugin.Handler{h1, h2}, collectPush(&lines))

	assert.Len(t, lines, 1, "same subject across handlers emits once")
}

func TestQueue_DistinctSubjectsEachEmit(t *testing.T) {
	mock := clock.NewMock()
	q := newTestQueue(t, mock)
	h := newStubHandler()
	h.waits.RequestLookup(plugin.LookupRequest{Subject: "dave"})
	h.waits.RequestLookup(plugin.LookupRequest{Subject: "erin"})

	var lines []string
	q.Flush([]plugin.Handler{h}, collectPush(&lines))

	assert.ElementsMatch(t, []string{"WHOIS dave", "WHOIS erin"}, lines)
}

func TestQueue_EmptyRequestListIsPruned(t *testing.T) {
	mock := clock.NewMock()
	q := newTestQueue(t, mock)
	h := newStubHandler()
	h.waits.Lookups["ghost"] = nil

	var lines []string
	q.Flush([]plugin.Handler{h}, collectPush(&lines))

	assert.Empty(t, lines)
	_, has := h.waits.Lookups["ghost"]
	assert.False(t, has)
}

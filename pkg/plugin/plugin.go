// Package plugin defines the capability contract every handler implements
// and the suspended-continuation types the scheduler drives. Handlers run
// synchronously on the dispatcher goroutine; anything long-running must be
// parked as a continuation and resumed later.
package plugin

import (
	"github.com/kestrelbot/kestrel/internal/identity"
	"github.com/kestrelbot/kestrel/pkg/wire"
	"go.uber.org/zap"
)

// Handler is the capability contract consumed by the dispatcher.
//
// For every inbound event, Postprocess runs for all handlers before any
// handler's OnEvent runs. Periodic fires once per dispatch iteration.
// OnBusMessage is the out-of-band broadcast channel, independent of
// protocol events.
type Handler interface {
	Name() string

	// Postprocess may mutate the shared identity state; it marks the
	// state dirty so the dispatcher commits and propagates the change.
	Postprocess(ev *wire.Event) error

	OnEvent(ev *wire.Event) error

	Periodic(now int64) error

	OnBusMessage(header string, payload any)

	// Waits exposes the handler-owned continuation lists and pending
	// lookup requests for the scheduler and dedup queue to walk.
	Waits() *Waits
}

// EventWait is a continuation suspended on a future event type. Resume
// receives the triggering event; returning done=true (or any error) removes
// the wait from its list. A wait that still has work returns done=false and
// stays registered.
type EventWait struct {
	Resume func(ev *wire.Event) (done bool, err error)
}

// TimedWait is a continuation suspended until a wall-clock deadline. Once
// due it is resumed exactly once and always removed, error or not.
type TimedWait struct {
	At     int64 // unix seconds
	Resume func(now int64) error
}

// LookupRequest is one pending identity lookup for a subject. Requests stay
// queued through the dedup queue's cooldown window; the owning handler
// matches the eventual result event back against them.
type LookupRequest struct {
	Subject   string
	Submitted int64
	Data      any
}

// Waits holds everything a handler can suspend on. Owned by the handler,
// read and mutated by the scheduler and dedup queue on the dispatcher
// goroutine only.
type Waits struct {
	// Events maps an event-type tag to the continuations awaiting it.
	Events map[string][]*EventWait

	Timed []*TimedWait

	// Lookups maps a subject name to its pending lookup requests.
	Lookups map[string][]LookupRequest
}

func CreateWaits() *Waits {
	return &Waits{
		Events:  make(map[string][]*EventWait),
		Lookups: make(map[string][]LookupRequest),
	}
}

// AwaitEvent registers a continuation for the given event-type tag.
func (w *Waits) AwaitEvent(tag string, resume func(ev *wire.Event) (bool, error)) {
	w.Events[tag] = append(w.Events[tag], &EventWait{Resume: resume})
}

// AwaitTime registers a continuation for the given unix-seconds deadline.
func (w *Waits) AwaitTime(at int64, resume func(now int64) error) {
	w.Timed = append(w.Timed, &TimedWait{At: at, Resume: resume})
}

// RequestLookup queues an identity lookup for the subject.
func (w *Waits) RequestLookup(req LookupRequest) {
	w.Lookups[req.Subject] = append(w.Lookups[req.Subject], req)
}

// Deps is what the registry hands each handler factory at build time.
type Deps struct {
	Logger   *zap.Logger
	Identity *identity.State

	// Post delivers a command to the dispatcher's mailbox. Never blocks;
	// returns an error when the mailbox is full.
	Post func(msg any) error
}

// Factory builds one handler. The registry is assembled statically at
// startup; handlers are rebuilt from it on reconnect and on reload.
type Factory func(deps Deps) (Handler, error)

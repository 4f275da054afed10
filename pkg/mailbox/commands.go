package mailbox

import "github.com/google/uuid"

// Commands understood by the dispatcher. Anything else pulled from the
// mailbox is logged as unknown and discarded.

// SendLine queues text on the normal outbound tier, gated by the throttle.
type SendLine struct {
	Text  string
	Quiet bool
}

// SendImmediate writes text straight to the socket, bypassing the throttle.
// The send is still accounted against the rate-limit model.
type SendImmediate struct {
	Text string
}

// Pong answers a server liveness probe on the priority tier.
type Pong struct {
	Target string
}

// Quit requests a clean shutdown after a best-effort farewell line.
type Quit struct {
	Reason string
	Quiet  bool
}

// Reconnect tears down the current connection and dials again.
type Reconnect struct{}

// SaveConfig asks the configuration boundary to persist itself.
type SaveConfig struct{}

// ReloadHandlers rebuilds the handler set from the static registry.
type ReloadHandlers struct{}

// BusMessage is broadcast to every handler's OnBusMessage hook. The ID
// correlates the broadcast across log lines; CreateBusMessage assigns it.
type BusMessage struct {
	ID      uuid.UUID
	Header  string
	Payload any
}

func CreateBusMessage(header string, payload any) BusMessage {
	return BusMessage{
		ID:      uuid.New(),
		Header:  header,
		Payload: payload,
	}
}

// NamedHandler is the inspection-only view of a handler returned by
// PeekHandlers.
type NamedHandler interface {
	Name() string
}

// PeekHandlers requests a snapshot of the live handler set. The reply send
// is non-blocking; size the channel accordingly.
type PeekHandlers struct {
	Reply chan<- []NamedHandler
}

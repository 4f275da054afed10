// Package mailbox is the one permitted channel for other goroutines to
// influence the connection: a bounded, non-blocking command inbox the
// dispatcher drains once per loop iteration.
package mailbox

import (
	"time"

	"github.com/benbjohnson/clock"
	kerrors "github.com/kestrelbot/kestrel/pkg/errors"
)

const DefaultCapacity = 128

// DrainBudget bounds one drain pass so a chatty producer cannot starve
// network I/O.
const DrainBudget = 1 * time.Second

type Mailbox struct {
	ch  chan any
	clk clock.Clock
}

func CreateMailbox(capacity int, clk clock.Clock) *Mailbox {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Mailbox{
		ch:  make(chan any, capacity),
		clk: clk,
	}
}

// Post enqueues a command without blocking. Safe from any goroutine.
func (m *Mailbox) Post(msg any) error {
	select {
	case m.ch <- msg:
		return nil
	default:
		return &kerrors.MailboxFull{Capacity: cap(m.ch)}
	}
}

// Take pulls one immediately-available command, reporting false when the
// inbox is empty.
func (m *Mailbox) Take() (any, bool) {
	select {
	case msg := <-m.ch:
		return msg, true
	default:
		return nil, false
	}
}

// Drain feeds immediately-available commands to fn until the inbox is empty
// or the budget has elapsed, whichever comes first. Returns the number of
// commands handled.
func (m *Mailbox) Drain(budget time.Duration, fn func(msg any) bool) int {
	start := m.clk.Now()
	n := 0
	for {
		msg, ok := m.Take()
		if !ok {
			return n
		}
		n++
		if !fn(msg) {
			return n
		}
		if m.clk.Now().Sub(start) >= budget {
			return n
		}
	}
}

func (m *Mailbox) Len() int {
	return len(m.ch)
}

package client

import (
	"io"

	kerrors "github.com/kestrelbot/kestrel/pkg/errors"
	"github.com/kestrelbot/kestrel/pkg/throttle"
	"go.uber.org/zap"
)

// OutgoingLine is one pending outbound line. Immutable once constructed.
type OutgoingLine struct {
	Text string
	// Quiet suppresses the echo log for the line.
	Quiet bool
}

type Tier int

const (
	TierPriority Tier = iota
	TierNormal
	// TierFast is drained only under the fast throttle mode; lines
	// pushed to it otherwise land on the normal tier.
	TierFast
)

const tierCapacity = 256

// Sender owns the tiered outbound buffers and drains them through the
// throttle. Single-writer: only the dispatcher goroutine touches it.
type Sender struct {
	log *zap.Logger
	th  *throttle.Throttle

	fastTier bool

	priority []OutgoingLine
	normal   []OutgoingLine
	fast     []OutgoingLine
}

func CreateSender(th *throttle.Throttle, mode throttle.Mode, logger *zap.Logger) *Sender {
	return &Sender{
		log:      logger.With(zap.String("component", "sender")),
		th:       th,
		fastTier: mode == throttle.ModeFast,
	}
}

func (s *Sender) Push(tier Tier, line OutgoingLine) error {
	if tier == TierFast && !s.fastTier {
		tier = TierNormal
	}

	var buf *[]OutgoingLine
	var name string
	switch tier {
	case TierPriority:
		buf, name = &s.priority, "priority"
	case TierFast:
		buf, name = &s.fast, "fast"
	default:
		buf, name = &s.normal, "normal"
	}

	if len(*buf) >= tierCapacity {
		return &kerrors.BufferFull{Tier: name, Capacity: tierCapacity}
	}
	*buf = append(*buf, line)
	return nil
}

func (s *Sender) Pending() int {
	return len(s.priority) + len(s.normal) + len(s.fast)
}

// front picks the next line to leave, priority tier first.
func (s *Sender) front() (*[]OutgoingLine, OutgoingLine, bool) {
	if len(s.priority) > 0 {
		return &s.priority, s.priority[0], true
	}
	if len(s.normal) > 0 {
		return &s.normal, s.normal[0], true
	}
	if s.fastTier && len(s.fast) > 0 {
		return &s.fast, s.fast[0], true
	}
	return nil, OutgoingLine{}, false
}

// Drain sends buffered lines while the throttle allows. When the throttle
// refuses, the current height is returned as a wait hint; a write error is
// fatal for the connection.
func (s *Sender) Drain(w io.Writer) (sent int, hint float64, err error) {
	for {
		buf, line, ok := s.front()
		if !ok {
			return sent, 0, nil
		}

		permitted, height := s.th.TrySend()
		if !permitted {
			return sent, height, nil
		}

		if err := s.write(w, line); err != nil {
			// The line was accounted but never left; it stays queued
			// for the next connection's fresh throttle.
			return sent, 0, err
		}

		*buf = (*buf)[1:]
		sent++
	}
}

// SendImmediate bypasses the buffers and the throttle gate, still
// accounting the send so the decay model stays accurate.
func (s *Sender) SendImmediate(w io.Writer, text string) error {
	s.th.AccountOnly()
	return s.write(w, OutgoingLine{Text: text})
}

func (s *Sender) write(w io.Writer, line OutgoingLine) error {
	if _, err := io.WriteString(w, line.Text+"\r\n"); err != nil {
		return err
	}
	if !line.Quiet {
		s.log.Info("Line sent", zap.String("line", line.Text))
	}
	return nil
}

// Reset drops all buffered lines and resets the throttle. Called before
// each reconnect attempt.
func (s *Sender) Reset() {
	s.priority = nil
	s.normal = nil
	s.fast = nil
	s.th.Reset()
}

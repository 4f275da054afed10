// Package sched resumes handler-owned suspended continuations: event-keyed
// waits fire when a matching event is dispatched, timed waits fire once
// their deadline passes. All resumption happens on the dispatcher goroutine.
package sched

import (
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/kestrelbot/kestrel/pkg/plugin"
	"github.com/kestrelbot/kestrel/pkg/wire"
	"go.uber.org/zap"
)

// DefaultCheckInterval is the cadence for walking timed waits when nothing
// is close to firing. The scheduler lowers the next check to the earliest
// pending deadline so latency stays bounded without checking every tick.
const DefaultCheckInterval = 3 * time.Second

type SchedulerParams struct {
	CheckInterval time.Duration
	Logger        *zap.Logger
	Clock         clock.Clock
}

type Scheduler struct {
	log *zap.Logger
	clk clock.Clock

	checkInterval time.Duration
	nextTimedAt   time.Time
}

func CreateScheduler(params SchedulerParams) *Scheduler {
	logger := params.Logger
	if logger == nil {
		logger = zap.Must(zap.NewDevelopment())
	}
	clk := params.Clock
	if clk == nil {
		clk = clock.New()
	}
	interval := params.CheckInterval
	if interval <= 0 {
		interval = DefaultCheckInterval
	}

	return &Scheduler{
		log:           logger.With(zap.String("component", "scheduler")),
		clk:           clk,
		checkInterval: interval,
	}
}

// ResumeEventWaits runs every continuation parked on the event's type tag,
// for every handler. Terminal and failed continuations are removed; a
// failure is logged and never retried. Waits registered during resumption
// are kept for future events, not fired for this one.
func (s *Scheduler) ResumeEventWaits(handlers []plugin.Handler, ev *wire.Event) {
	for _, h := range handlers {
		waits := h.Waits()
		pending := waits.Events[ev.Type]
		if len(pending) == 0 {
			continue
		}

		// Resumptions may register fresh waits for the same tag; those
		// land in a clean slice and are merged back afterwards.
		delete(waits.Events, ev.Type)

		kept := pending[:0]
		for _, w := range pending {
			done, err := s.resumeEvent(w, ev)
			if err != nil {
				s.log.Warn("Event continuation failed, removing",
					zap.String("handler", h.Name()),
					zap.String("eventType", ev.Type),
					zap.Error(err))
				continue
			}
			if !done {
				kept = append(kept, w)
			}
		}

		merged := append(kept, waits.Events[ev.Type]...)
		if len(merged) > 0 {
			waits.Events[ev.Type] = merged
		} else {
			delete(waits.Events, ev.Type)
		}
	}
}

func (s *Scheduler) resumeEvent(w *plugin.EventWait, ev *wire.Event) (done bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			done = true
			err = fmt.Errorf("continuation panicked: %v", r)
		}
	}()
	return w.Resume(ev)
}

// TickTimedWaits walks every handler's timed continuations when the check
// cadence says so. A due wait is resumed exactly once and removed whether
// or not it fails; removal is an O(1) swap with the slice tail.
func (s *Scheduler) TickTimedWaits(handlers []plugin.Handler) {
	now := s.clk.Now()
	if now.Before(s.nextTimedAt) {
		return
	}

	nowUnix := now.Unix()
	var earliest int64

	for _, h := range handlers {
		waits := h.Waits()
		for i := 0; i < len(waits.Timed); {
			w := waits.Timed[i]
			if w.At > nowUnix {
				if earliest == 0 || w.At < earliest {
					earliest = w.At
				}
				i++
				continue
			}

			last := len(waits.Timed) - 1
			waits.Timed[i] = waits.Timed[last]
			waits.Timed[last] = nil
			waits.Timed = waits.Timed[:last]

			if err := s.resumeTimed(w, nowUnix); err != nil {
				s.log.Warn("Timed continuation failed",
					zap.String("handler", h.Name()),
					zap.Int64("deadline", w.At),
					zap.Error(err))
			}
		}
	}

	next := now.Add(s.checkInterval)
	if earliest != 0 {
		at := time.Unix(earliest, 0)
		if at.Before(next) {
			next = at
		}
	}
	s.nextTimedAt = next
}

func (s *Scheduler) resumeTimed(w *plugin.TimedWait, now int64) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("continuation panicked: %v", r)
		}
	}()
	return w.Resume(now)
}

// Package lookup dedupes identity (WHOIS) lookups: however many requests
// handlers queue for a subject, at most one lookup command leaves per
// cooldown window. Requests stay pending in the owning handler's map until
// the handler matches the result event back to them.
package lookup

import (
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/kestrelbot/kestrel/pkg/plugin"
	"go.uber.org/zap"
)

const (
	DefaultCooldown = 30 * time.Second

	// recordCacheSize bounds the last-lookup table so week-long uptimes
	// on busy networks cannot grow it without limit.
	recordCacheSize = 512
)

type QueueParams struct {
	Cooldown time.Duration
	Logger   *zap.Logger
	Clock    clock.Clock
}

type Queue struct {
	log      *zap.Logger
	clk      clock.Clock
	cooldown time.Duration

	lastLookup *lru.Cache[string, time.Time]
}

func CreateQueue(params QueueParams) (*Queue, error) {
	logger := params.Logger
	if logger == nil {
		logger = zap.Must(zap.NewDevelopment())
	}
	clk := params.Clock
	if clk == nil {
		clk = clock.New()
	}
	cooldown := params.Cooldown
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}

	cache, err := lru.New[string, time.Time](recordCacheSize)
	if err != nil {
		return nil, err
	}

	return &Queue{
		log:        logger.With(zap.String("component", "lookupQueue")),
		clk:        clk,
		cooldown:   cooldown,
		lastLookup: cache,
	}, nil
}

// Flush walks every handler's pending lookup requests and emits one lookup
// command per subject whose cooldown has elapsed. push sends the command
// line through the throttled outbound path.
func (q *Queue) Flush(handlers []plugin.Handler, push func(line string) error) {
	now := q.clk.Now()
	emitted := make(map[string]struct{})

	for _, h := range handlers {
		for subject, reqs := range h.Waits().Lookups {
			if len(reqs) == 0 {
				delete(h.Waits().Lookups, subject)
				continue
			}

			key := strings.ToLower(subject)
			if _, dup := emitted[key]; dup {
				continue
			}
			if last, ok := q.lastLookup.Get(key); ok && now.Sub(last) < q.cooldown {
				continue
			}

			if err := push("WHOIS " + subject); err != nil {
				q.log.Warn("Could not emit identity lookup",
					zap.String("subject", subject),
					zap.Error(err))
				continue
			}

			q.lastLookup.Add(key, now)
			emitted[key] = struct{}{}
			q.log.Debug("Identity lookup issued",
				zap.String("subject", subject),
				zap.Int("pendingRequests", len(reqs)))
		}
	}
}

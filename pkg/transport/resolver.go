package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/benbjohnson/clock"
	kerrors "github.com/kestrelbot/kestrel/pkg/errors"
	"github.com/miekg/dns"
	"go.uber.org/zap"
)

type ResolveState int

const (
	ResolvePre ResolveState = iota
	ResolveSuccess
	ResolveTransientError
	ResolveFatalError
)

// ResolveAttempt is one tagged result yielded per Pump call.
type ResolveAttempt struct {
	State     ResolveState
	Endpoints []Endpoint
	Err       error
	// Delay is the backoff that will be slept before the next attempt,
	// set on transient errors.
	Delay time.Duration
}

// LookupFunc resolves a hostname to IP addresses. Swappable for tests.
type LookupFunc func(ctx context.Context, host string) ([]net.IP, error)

type ResolverParams struct {
	Host   string
	Port   int
	Family Family

	// MaxAttempts bounds resolution retries; 0 means retry forever.
	MaxAttempts int

	// InitialRetryDelay seeds the backoff between transient failures.
	// Grows by ~1.2x per failure, capped at ten minutes.
	InitialRetryDelay time.Duration

	// DNSServer, when set (host or host:port), bypasses the system
	// resolver and queries that server directly.
	DNSServer string

	// Lookup overrides the resolution call entirely. Tests use this.
	Lookup LookupFunc

	AttemptTimeout time.Duration

	Logger *zap.Logger
	Clock  clock.Clock
}

type Resolver struct {
	params ResolverParams
	log    *zap.Logger
	clk    clock.Clock

	lookup LookupFunc

	started  bool
	finished bool
	attempts int
	delay    time.Duration
	pending  time.Duration // backoff to sleep before the next attempt
	lastErr  error
}

func CreateResolver(params ResolverParams) *Resolver {
	logger := params.Logger
	if logger == nil {
		logger = zap.Must(zap.NewDevelopment())
	}
	clk := params.Clock
	if clk == nil {
		clk = clock.New()
	}
	if params.InitialRetryDelay <= 0 {
		params.InitialRetryDelay = 5 * time.Second
	}
	if params.AttemptTimeout <= 0 {
		params.AttemptTimeout = 10 * time.Second
	}

	r := &Resolver{
		params: params,
		log:    logger.With(zap.String("component", "resolver"), zap.String("host", params.Host)),
		clk:    clk,
	}

	r.lookup = params.Lookup
	if r.lookup == nil {
		if params.DNSServer != "" {
			r.lookup = directDNSLookup(params.DNSServer, params.Family)
		} else {
			r.lookup = systemLookup
		}
	}

	return r
}

// Pump advances the resolution state machine by one step and yields the
// resulting attempt. The first call yields a pre record; after a transient
// failure the next call sleeps the backoff (interruptible) before retrying.
func (r *Resolver) Pump(ctx context.Context) ResolveAttempt {
	if !r.started {
		r.started = true
		return ResolveAttempt{State: ResolvePre}
	}
	if r.finished {
		return ResolveAttempt{State: ResolveFatalError, Err: r.fatalErr()}
	}

	if r.pending > 0 {
		if ctx.Err() != nil {
			return r.fatal(ctx.Err())
		}
		d := r.pending
		r.pending = 0
		if err := sleepInterruptible(ctx, r.clk, d); err != nil {
			return r.fatal(err)
		}
		if ctx.Err() != nil {
			return r.fatal(ctx.Err())
		}
	}

	attemptCtx, release := context.WithTimeout(ctx, r.params.AttemptTimeout)
	ips, err := r.lookup(attemptCtx, r.params.Host)
	release()
	r.attempts++

	if err != nil {
		r.lastErr = err
		if !isTransientResolveError(err) {
			r.log.Error("Resolution failed fatally", zap.Error(err))
			return r.fatal(err)
		}
		return r.transient(err)
	}

	endpoints := filterFamily(ips, r.params.Family, r.params.Port)
	if len(endpoints) == 0 {
		err := fmt.Errorf("no addresses for requested family")
		r.lastErr = err
		return r.transient(err)
	}

	r.finished = true
	r.log.Info("Host resolved", zap.Int("endpoints", len(endpoints)))
	return ResolveAttempt{State: ResolveSuccess, Endpoints: endpoints}
}

func (r *Resolver) transient(err error) ResolveAttempt {
	if r.params.MaxAttempts > 0 && r.attempts >= r.params.MaxAttempts {
		r.log.Error("Resolution attempts exhausted",
			zap.Int("attempts", r.attempts), zap.Error(err))
		return r.fatal(&kerrors.ResolutionFailed{
			Host:     r.params.Host,
			Attempts: r.attempts,
			Last:     err,
		})
	}

	if r.delay == 0 {
		r.delay = r.params.InitialRetryDelay
	} else {
		r.delay = nextBackoff(r.delay, 1.2)
	}
	r.pending = r.delay

	r.log.Warn("Transient resolution failure, will retry",
		zap.Duration("delay", r.delay), zap.Error(err))
	return ResolveAttempt{State: ResolveTransientError, Err: err, Delay: r.delay}
}

func (r *Resolver) fatal(err error) ResolveAttempt {
	r.finished = true
	r.lastErr = err
	return ResolveAttempt{State: ResolveFatalError, Err: err}
}

func (r *Resolver) fatalErr() error {
	if r.lastErr != nil {
		return r.lastErr
	}
	return &kerrors.ResolutionFailed{Host: r.params.Host, Attempts: r.attempts}
}

func isTransientResolveError(err error) bool {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		if dnsErr.IsNotFound {
			return false
		}
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	// Unknown resolution faults are retried; only a definitive
	// name-not-found aborts.
	return true
}

func filterFamily(ips []net.IP, family Family, port int) []Endpoint {
	endpoints := make([]Endpoint, 0, len(ips))
	for _, ip := range ips {
		isV4 := ip.To4() != nil
		if family == FamilyIPv4 && !isV4 {
			continue
		}
		if family == FamilyIPv6 && isV4 {
			continue
		}
		endpoints = append(endpoints, Endpoint{IP: ip, Port: port})
	}
	return endpoints
}

func systemLookup(ctx context.Context, host string) ([]net.IP, error) {
	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, err
	}
	ips := make([]net.IP, 0, len(addrs))
	for _, a := range addrs {
		ips = append(ips, a.IP)
	}
	return ips, nil
}

// directDNSLookup queries an explicit DNS server, for split-horizon setups
// where the system resolver gives the wrong answer.
func directDNSLookup(server string, family Family) LookupFunc {
	if _, _, err := net.SplitHostPort(server); err != nil {
		server = net.JoinHostPort(server, "53")
	}

	return func(ctx context.Context, host string) ([]net.IP, error) {
		client := &dns.Client{}
		fqdn := dns.Fqdn(host)

		var ips []net.IP
		var lastErr error

		query := func(qtype uint16) {
			msg := &dns.Msg{}
			msg.SetQuestion(fqdn, qtype)
			resp, _, err := client.ExchangeContext(ctx, msg, server)
			if err != nil {
				lastErr = err
				return
			}
			if resp.Rcode == dns.RcodeNameError {
				lastErr = &net.DNSError{Err: "no such host", Name: host, IsNotFound: true}
				return
			}
			for _, rr := range resp.Answer {
				switch record := rr.(type) {
				case *dns.A:
					ips = append(ips, record.A)
				case *dns.AAAA:
					ips = append(ips, record.AAAA)
				}
			}
		}

		if family != FamilyIPv6 {
			query(dns.TypeA)
		}
		if family != FamilyIPv4 {
			query(dns.TypeAAAA)
		}

		if len(ips) == 0 {
			if lastErr != nil {
				return nil, lastErr
			}
			return nil, &net.DNSError{Err: "no answers", Name: host, IsTemporary: true}
		}
		return ips, nil
	}
}

package transport

import (
	"context"
	"errors"
	"net"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	kerrors "github.com/kestrelbot/kestrel/pkg/errors"
	"go.uber.org/zap"
)

type ConnectState int

const (
	// ConnectPre is the informational record emitted before each dial.
	ConnectPre ConnectState = iota
	Connected
	// ConnectRetrySame means the same endpoint will be redialed after
	// the reported delay (one extra chance on a dial timeout).
	ConnectRetrySame
	// ConnectNextEndpoint means the connector moves on, sleeping the
	// reported delay first. The delay only grows when a full round of
	// the endpoint list has failed.
	ConnectNextEndpoint
	// FamilyDisabled means an IPv6-specific failure removed all
	// remaining IPv6 endpoints without consuming a retry round.
	FamilyDisabled
	NoMoreEndpoints
	ConnectFatalError
)

type ConnectAttempt struct {
	State    ConnectState
	Endpoint Endpoint
	Conn     Conn
	Err      error
	Delay    time.Duration
}

type ConnectorParams struct {
	Endpoints []Endpoint

	// RetryForever restarts from the first endpoint with growing backoff
	// after the list is exhausted. When false, exhaustion is fatal.
	RetryForever bool

	// InitialRoundDelay seeds the per-round backoff. Grows 1.5x per
	// failed round, capped at ten minutes.
	InitialRoundDelay time.Duration

	DialTimeout time.Duration

	// Dial defaults to a plain TCP dial.
	Dial DialFunc

	Logger *zap.Logger
	Clock  clock.Clock
}

type Connector struct {
	params ConnectorParams
	log    *zap.Logger
	clk    clock.Clock
	dial   DialFunc

	endpoints []Endpoint
	index     int
	announced bool
	redialed  bool
	finished  bool

	roundDelay time.Duration
	pending    time.Duration
	tried      int
}

func CreateConnector(params ConnectorParams) *Connector {
	logger := params.Logger
	if logger == nil {
		logger = zap.Must(zap.NewDevelopment())
	}
	clk := params.Clock
	if clk == nil {
		clk = clock.New()
	}
	if params.InitialRoundDelay <= 0 {
		params.InitialRoundDelay = 10 * time.Second
	}
	if params.DialTimeout <= 0 {
		params.DialTimeout = 30 * time.Second
	}

	dial := params.Dial
	if dial == nil {
		dial = TCPDial(params.DialTimeout)
	}

	endpoints := make([]Endpoint, len(params.Endpoints))
	copy(endpoints, params.Endpoints)

	return &Connector{
		params:    params,
		log:       logger.With(zap.String("component", "connector")),
		clk:       clk,
		dial:      dial,
		endpoints: endpoints,
	}
}

// Pump advances the connection state machine one step. Each dial is
// preceded by an informational pre record; sleeps happen inside the call
// but are interruptible.
func (c *Connector) Pump(ctx context.Context) ConnectAttempt {
	if c.finished {
		return ConnectAttempt{State: ConnectFatalError, Err: &kerrors.NoMoreEndpoints{Tried: c.tried}}
	}
	if len(c.endpoints) == 0 {
		c.finished = true
		return ConnectAttempt{State: NoMoreEndpoints, Err: &kerrors.NoMoreEndpoints{Tried: c.tried}}
	}

	ep := c.endpoints[c.index]

	if !c.announced {
		c.announced = true
		c.log.Info("Attempting connection", zap.String("endpoint", ep.Addr()))
		return ConnectAttempt{State: ConnectPre, Endpoint: ep}
	}

	if c.pending > 0 {
		d := c.pending
		c.pending = 0
		if err := sleepInterruptible(ctx, c.clk, d); err != nil {
			c.finished = true
			return ConnectAttempt{State: ConnectFatalError, Endpoint: ep, Err: err}
		}
	}
	if ctx.Err() != nil {
		c.finished = true
		return ConnectAttempt{State: ConnectFatalError, Endpoint: ep, Err: ctx.Err()}
	}

	dialCtx, release := context.WithTimeout(ctx, c.params.DialTimeout)
	conn, err := c.dial(dialCtx, ep)
	release()
	c.tried++

	if err == nil {
		c.finished = true
		c.log.Info("Connected", zap.String("endpoint", ep.Addr()))
		return ConnectAttempt{State: Connected, Endpoint: ep, Conn: conn}
	}

	if ep.IsIPv6() && isIPv6Unreachable(err) {
		return c.disableIPv6(ep, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() && !c.redialed {
		c.redialed = true
		c.pending = time.Second
		c.log.Warn("Dial timed out, retrying same endpoint",
			zap.String("endpoint", ep.Addr()), zap.Error(err))
		return ConnectAttempt{State: ConnectRetrySame, Endpoint: ep, Err: err, Delay: c.pending}
	}

	return c.advance(ep, err)
}

// disableIPv6 drops every remaining IPv6 endpoint. Not counted as a retry
// round; the next pump dials the next IPv4 endpoint immediately.
func (c *Connector) disableIPv6(failed Endpoint, err error) ConnectAttempt {
	kept := make([]Endpoint, 0, len(c.endpoints))
	var index int
	for i, ep := range c.endpoints {
		if ep.IsIPv6() {
			continue
		}
		if i < c.index {
			index++
		}
		kept = append(kept, ep)
	}

	c.endpoints = kept
	if index >= len(kept) {
		index = 0
	}
	c.index = index
	c.announced = false
	c.redialed = false

	c.log.Warn("IPv6 unreachable, disabling IPv6 endpoints",
		zap.String("endpoint", failed.Addr()),
		zap.Int("remaining", len(kept)),
		zap.Error(err))
	return ConnectAttempt{State: FamilyDisabled, Endpoint: failed, Err: err}
}

func (c *Connector) advance(failed Endpoint, err error) ConnectAttempt {
	c.announced = false
	c.redialed = false
	c.index++

	if c.index < len(c.endpoints) {
		c.log.Warn("Connection failed, trying next endpoint",
			zap.String("endpoint", failed.Addr()), zap.Error(err))
		return ConnectAttempt{State: ConnectNextEndpoint, Endpoint: failed, Err: err}
	}

	// Full round exhausted.
	if !c.params.RetryForever {
		c.finished = true
		c.log.Error("All endpoints failed", zap.Int("tried", c.tried), zap.Error(err))
		return ConnectAttempt{State: NoMoreEndpoints, Endpoint: failed, Err: &kerrors.NoMoreEndpoints{Tried: c.tried}}
	}

	c.index = 0
	if c.roundDelay == 0 {
		c.roundDelay = c.params.InitialRoundDelay
	} else {
		c.roundDelay = nextBackoff(c.roundDelay, 1.5)
	}
	c.pending = c.roundDelay

	c.log.Warn("Endpoint list exhausted, backing off before next round",
		zap.Duration("delay", c.roundDelay), zap.Error(err))
	return ConnectAttempt{State: ConnectNextEndpoint, Endpoint: failed, Err: err, Delay: c.roundDelay}
}

func isIPv6Unreachable(err error) bool {
	return errors.Is(err, syscall.ENETUNREACH) ||
		errors.Is(err, syscall.EHOSTUNREACH) ||
		errors.Is(err, syscall.EADDRNOTAVAIL) ||
		errors.Is(err, syscall.EAFNOSUPPORT)
}

// TCPDial is the default dial path.
func TCPDial(timeout time.Duration) DialFunc {
	return func(ctx context.Context, ep Endpoint) (Conn, error) {
		dialer := &net.Dialer{Timeout: timeout}
		conn, err := dialer.DialContext(ctx, "tcp", ep.Addr())
		if err != nil {
			return nil, err
		}
		return conn.(*net.TCPConn), nil
	}
}

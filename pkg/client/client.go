// Package client contains the dispatcher: the single goroutine that owns
// the socket, the throttle, the outbound buffers and all per-tick state. It
// pumps the transport state machines, feeds parsed events to handlers,
// ticks the scheduler and the lookup queue, and drains the command mailbox.
package client

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/benbjohnson/clock"
	"github.com/kestrelbot/kestrel/internal/identity"
	"github.com/kestrelbot/kestrel/pkg/lookup"
	"github.com/kestrelbot/kestrel/pkg/mailbox"
	"github.com/kestrelbot/kestrel/pkg/plugin"
	"github.com/kestrelbot/kestrel/pkg/sched"
	"github.com/kestrelbot/kestrel/pkg/throttle"
	"github.com/kestrelbot/kestrel/pkg/transport"
	"github.com/kestrelbot/kestrel/pkg/wire"
	"go.uber.org/zap"
)

// next is the dispatcher's loop verdict. Quit and reconnect decisions travel
// up the call stack as values, never as panics.
type next int

const (
	nextContinue next = iota
	nextRetry
	nextSuccess
	nextFailure
)

// idlePause bounds the spin rate when a loop iteration made no progress.
const idlePause = 20 * time.Millisecond

type Client struct {
	cfg Config
	log *zap.Logger
	clk clock.Clock

	mail     *mailbox.Mailbox
	identity *identity.State
	sender   *Sender
	sched    *sched.Scheduler
	lookups  *lookup.Queue
	parser   wire.Parser

	handlers []plugin.Handler

	everConnected bool
}

func CreateClient(cfg Config) (*Client, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.Must(zap.NewDevelopment())
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.New()
	}
	parser := cfg.Parser
	if parser == nil {
		parser = wire.CreateLineParser()
	}
	if cfg.Registry == nil {
		cfg.Registry = plugin.CreateRegistry()
	}

	th := throttle.CreateThrottle(cfg.ThrottleMode, clk)

	lookups, err := lookup.CreateQueue(lookup.QueueParams{
		Cooldown: cfg.LookupCooldown,
		Logger:   logger,
		Clock:    clk,
	})
	if err != nil {
		return nil, err
	}

	return &Client{
		cfg:      cfg,
		log:      logger.With(zap.String("component", "dispatcher")),
		clk:      clk,
		mail:     mailbox.CreateMailbox(cfg.MailboxCapacity, clk),
		identity: identity.CreateState(cfg.Nick),
		sender:   CreateSender(th, cfg.ThrottleMode, logger),
		sched: sched.CreateScheduler(sched.SchedulerParams{
			Logger: logger,
			Clock:  clk,
		}),
		lookups: lookups,
		parser:  parser,
	}, nil
}

// Mailbox is the only way other goroutines may influence the connection.
func (c *Client) Mailbox() *mailbox.Mailbox {
	return c.mail
}

// Run drives the full connection lifecycle until a clean shutdown (nil) or
// a fatal failure. Reconnects according to the configured policy.
func (c *Client) Run(ctx context.Context) error {
	if err := c.buildHandlers(); err != nil {
		return err
	}

	for {
		if ctx.Err() != nil {
			if c.everConnected {
				return nil
			}
			return ctx.Err()
		}

		endpoints, err := c.resolve(ctx)
		if err != nil {
			return c.maybeCleanShutdown(ctx, err)
		}

		conn, err := c.connect(ctx, endpoints)
		if err != nil {
			return c.maybeCleanShutdown(ctx, err)
		}

		c.everConnected = true
		verdict, connErr := c.runConnection(ctx, conn)
		conn.Close()

		switch verdict {
		case nextSuccess:
			return nil
		case nextFailure:
			return connErr
		case nextRetry:
			if !c.cfg.ReconnectOnFailure {
				if connErr == nil {
					connErr = fmt.Errorf("connection lost")
				}
				return connErr
			}
			c.log.Info("Reconnecting", zap.Error(connErr))
			c.resetForReconnect()
		}
	}
}

// maybeCleanShutdown maps a cancellation-driven failure onto a clean exit
// when a connection was established at least once this run.
func (c *Client) maybeCleanShutdown(ctx context.Context, err error) error {
	if ctx.Err() != nil && c.everConnected {
		return nil
	}
	return err
}

// resetForReconnect clears per-connection state. Handlers are rebuilt so a
// fresh connection starts from a clean contract.
func (c *Client) resetForReconnect() {
	c.sender.Reset()
	if err := c.buildHandlers(); err != nil {
		// Keep the previous handler set; reconnect with it instead of
		// dying mid-flight.
		c.log.Error("Handler re-init failed, keeping previous set", zap.Error(err))
	}
}

func (c *Client) buildHandlers() error {
	handlers, err := c.cfg.Registry.Build(plugin.Deps{
		Logger:   c.log,
		Identity: c.identity,
		Post:     c.mail.Post,
	})
	if err != nil {
		return err
	}
	c.handlers = handlers
	return nil
}

func (c *Client) resolve(ctx context.Context) ([]transport.Endpoint, error) {
	resolver := transport.CreateResolver(transport.ResolverParams{
		Host:        c.cfg.Host,
		Port:        c.cfg.Port,
		Family:      c.cfg.Family,
		MaxAttempts: c.cfg.MaxResolveAttempts,
		DNSServer:   c.cfg.DNSServer,
		Logger:      c.log,
		Clock:       c.clk,
	})

	for {
		att := resolver.Pump(ctx)
		switch att.State {
		case transport.ResolveSuccess:
			return att.Endpoints, nil
		case transport.ResolveFatalError:
			return nil, att.Err
		}
	}
}

func (c *Client) connect(ctx context.Context, endpoints []transport.Endpoint) (transport.Conn, error) {
	var dial transport.DialFunc
	if c.cfg.GatewayURL != "" {
		wsDial, err := transport.WebSocketDial(c.cfg.GatewayURL, c.cfg.DialTimeout)
		if err != nil {
			return nil, err
		}
		dial = wsDial
	}

	connector := transport.CreateConnector(transport.ConnectorParams{
		Endpoints:    endpoints,
		RetryForever: c.cfg.RetryForever,
		DialTimeout:  c.cfg.DialTimeout,
		Dial:         dial,
		Logger:       c.log,
		Clock:        c.clk,
	})

	for {
		att := connector.Pump(ctx)
		switch att.State {
		case transport.Connected:
			return att.Conn, nil
		case transport.NoMoreEndpoints, transport.ConnectFatalError:
			return nil, att.Err
		}
	}
}

// register queues the session registration lines on the priority tier.
func (c *Client) register() {
	user := c.cfg.User
	if user == "" {
		user = c.cfg.Nick
	}
	realName := c.cfg.RealName
	if realName == "" {
		realName = c.cfg.Nick
	}

	for _, text := range []string{
		"NICK " + c.cfg.Nick,
		fmt.Sprintf("USER %s 0 * :%s", user, realName),
	} {
		if err := c.sender.Push(TierPriority, OutgoingLine{Text: text}); err != nil {
			c.log.Error("Failed to queue registration line",
				zap.String("line", text), zap.Error(err))
		}
	}
}

// runConnection is the per-connection dispatch loop.
func (c *Client) runConnection(ctx context.Context, conn transport.Conn) (next, error) {
	listener := transport.CreateListener(transport.ListenerParams{
		Conn:        conn,
		IdleTimeout: c.cfg.IdleTimeout,
		Logger:      c.log,
	})
	listener.Start(ctx)

	c.register()

	var lastErr error
	for {
		if ctx.Err() != nil {
			// Opportunistic farewell; not guaranteed to reach the wire.
			c.sender.SendImmediate(conn, "QUIT :shutting down")
			return nextSuccess, nil
		}

		if listener.Done() {
			return nextRetry, lastErr
		}

		now := c.clk.Now().Unix()
		for _, h := range c.handlers {
			c.guardHook("periodic", h, "", func() error { return h.Periodic(now) })
		}

		progressed := false
		att := listener.Pump()
		switch att.State {
		case transport.HasLine:
			c.handleLine(string(att.Line))
			progressed = true
		case transport.ListenWarning:
			c.log.Warn("Recoverable socket fault", zap.Error(att.Err))
		case transport.ListenTimeout, transport.ListenError:
			c.log.Warn("Connection read failed", zap.Error(att.Err))
			return nextRetry, att.Err
		}

		c.sched.TickTimedWaits(c.handlers)

		c.lookups.Flush(c.handlers, func(line string) error {
			return c.sender.Push(TierNormal, OutgoingLine{Text: line})
		})

		verdict, err := c.drainMailbox(conn)
		if verdict != nextContinue {
			return verdict, err
		}

		sent, _, writeErr := c.sender.Drain(conn)
		if writeErr != nil {
			c.log.Warn("Outbound write failed", zap.Error(writeErr))
			return nextRetry, writeErr
		}

		if !progressed && sent == 0 {
			if err := c.pause(ctx); err != nil {
				lastErr = err
			}
		}
	}
}

func (c *Client) pause(ctx context.Context) error {
	timer := c.clk.Timer(idlePause)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// handleLine parses one raw line and pushes the event through the handler
// chain: every handler's Postprocess first, then every OnEvent, then the
// scheduler's event-resumption pass.
func (c *Client) handleLine(line string) {
	ev, err := c.parser.Parse(line)
	if err != nil {
		// One sanitize-and-reparse retry for undecodable input, then
		// the line is dropped.
		sanitized := strings.ToValidUTF8(line, string(utf8.RuneError))
		if sanitized != line {
			ev, err = c.parser.Parse(sanitized)
		}
		if err != nil {
			c.log.Warn("Discarding unparseable line", zap.String("line", line), zap.Error(err))
			return
		}
	}

	for _, h := range c.handlers {
		c.guardHook("postprocess", h, ev.Raw, func() error { return h.Postprocess(ev) })
	}

	if c.identity.Dirty() {
		version := c.identity.Commit()
		c.log.Debug("Identity updated",
			zap.String("nick", c.identity.Nick()),
			zap.Uint64("version", version))
	}

	for _, h := range c.handlers {
		c.guardHook("onEvent", h, ev.Raw, func() error { return h.OnEvent(ev) })
	}

	c.sched.ResumeEventWaits(c.handlers, ev)
}

// guardHook runs one handler hook, containing panics and logging failures
// so one broken handler never takes down the others.
func (c *Client) guardHook(hook string, h plugin.Handler, eventRaw string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("Handler hook panicked",
				zap.String("hook", hook),
				zap.String("handler", h.Name()),
				zap.String("event", eventRaw),
				zap.Any("panic", r))
		}
	}()

	if err := fn(); err != nil {
		c.log.Warn("Handler hook failed",
			zap.String("hook", hook),
			zap.String("handler", h.Name()),
			zap.String("event", eventRaw),
			zap.Error(err))
	}
}

// drainMailbox executes immediately-available commands within the bounded
// drain budget.
func (c *Client) drainMailbox(conn transport.Conn) (next, error) {
	verdict := nextContinue

	c.mail.Drain(mailbox.DrainBudget, func(msg any) bool {
		switch cmd := msg.(type) {
		case mailbox.SendLine:
			if err := c.sender.Push(TierNormal, OutgoingLine{Text: cmd.Text, Quiet: cmd.Quiet}); err != nil {
				c.log.Warn("Dropping outbound line", zap.Error(err))
			}

		case mailbox.SendImmediate:
			if err := c.sender.SendImmediate(conn, cmd.Text); err != nil {
				c.log.Warn("Immediate send failed", zap.Error(err))
			}

		case mailbox.Pong:
			if err := c.sender.Push(TierPriority, OutgoingLine{Text: "PONG :" + cmd.Target, Quiet: true}); err != nil {
				c.log.Warn("Dropping pong reply", zap.String("target", cmd.Target), zap.Error(err))
			}

		case mailbox.Quit:
			text := "QUIT"
			if cmd.Reason != "" {
				text += " :" + cmd.Reason
			}
			if !cmd.Quiet {
				c.log.Info("Quit requested", zap.String("reason", cmd.Reason))
			}
			c.sender.SendImmediate(conn, text)
			verdict = nextSuccess
			return false

		case mailbox.Reconnect:
			c.log.Info("Reconnect requested")
			verdict = nextRetry
			return false

		case mailbox.SaveConfig:
			if c.cfg.Saver == nil {
				c.log.Warn("No configuration saver wired, ignoring save request")
				break
			}
			if err := c.cfg.Saver.Save(); err != nil {
				c.log.Error("Configuration save failed", zap.Error(err))
			}

		case mailbox.ReloadHandlers:
			if err := c.buildHandlers(); err != nil {
				c.log.Error("Handler reload failed, keeping previous set", zap.Error(err))
			} else {
				c.log.Info("Handlers reloaded", zap.Int("count", len(c.handlers)))
			}

		case mailbox.BusMessage:
			c.log.Debug("Broadcasting bus message",
				zap.Stringer("id", cmd.ID),
				zap.String("header", cmd.Header))
			for _, h := range c.handlers {
				func() {
					defer func() {
						if r := recover(); r != nil {
							c.log.Error("Bus message handler panicked",
								zap.Stringer("id", cmd.ID),
								zap.String("handler", h.Name()),
								zap.String("header", cmd.Header),
								zap.Any("panic", r))
						}
					}()
					h.OnBusMessage(cmd.Header, cmd.Payload)
				}()
			}

		case mailbox.PeekHandlers:
			snapshot := make([]mailbox.NamedHandler, 0, len(c.handlers))
			for _, h := range c.handlers {
				snapshot = append(snapshot, h)
			}
			select {
			case cmd.Reply <- snapshot:
			default:
				c.log.Warn("Peek reply channel full, dropping snapshot")
			}

		default:
			c.log.Warn("Discarding unknown mailbox command", zap.Any("command", msg))
		}
		return true
	})

	return verdict, nil
}

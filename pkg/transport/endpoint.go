// Package transport owns the connection lifecycle: resolving the server
// hostname into endpoints, dialing them with backoff, and reading lines off
// the live socket. The three phases are cooperative state machines: each
// Pump call yields exactly one tagged attempt record, and every internal
// sleep is interruptible through the context.
package transport

import (
	"context"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/benbjohnson/clock"
)

// Family restricts which address families the resolver keeps.
type Family int

const (
	FamilyAny Family = iota
	FamilyIPv4
	FamilyIPv6
)

// Endpoint is one dialable address produced by the resolver.
type Endpoint struct {
	IP   net.IP
	Port int
}

func (e Endpoint) Addr() string {
	return net.JoinHostPort(e.IP.String(), strconv.Itoa(e.Port))
}

func (e Endpoint) IsIPv6() bool {
	return e.IP.To4() == nil
}

// Conn is the line-carrying connection the connector yields. *net.TCPConn
// satisfies it directly; the WebSocket path wraps a gorilla connection.
type Conn interface {
	io.ReadWriteCloser
	SetReadDeadline(t time.Time) error
}

// DialFunc attempts one connection against one endpoint.
type DialFunc func(ctx context.Context, ep Endpoint) (Conn, error)

// maxBackoff caps every retry delay in this package.
const maxBackoff = 10 * time.Minute

// nextBackoff grows a retry delay by the given multiplier, capped.
func nextBackoff(current time.Duration, multiplier float64) time.Duration {
	next := time.Duration(float64(current) * multiplier)
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}

// sleepInterruptible waits for d or until the context is cancelled,
// whichever comes first.
func sleepInterruptible(ctx context.Context, clk clock.Clock, d time.Duration) error {
	timer := clk.Timer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

package client

import (
	"time"

	"github.com/benbjohnson/clock"
	"github.com/kestrelbot/kestrel/pkg/plugin"
	"github.com/kestrelbot/kestrel/pkg/throttle"
	"github.com/kestrelbot/kestrel/pkg/transport"
	"github.com/kestrelbot/kestrel/pkg/wire"
	"go.uber.org/zap"
)

// ConfigSaver is the persistence boundary behind the save-configuration
// command. Loading and on-disk format live outside this module.
type ConfigSaver interface {
	Save() error
}

type Config struct {
	Host string
	Port int

	// GatewayURL, when set, connects through a WebSocket chat gateway
	// instead of raw TCP. Resolution still runs against Host.
	GatewayURL string

	Nick     string
	User     string
	RealName string

	Family transport.Family

	// DNSServer bypasses the system resolver when set.
	DNSServer string

	// MaxResolveAttempts bounds resolution retries; 0 retries forever.
	MaxResolveAttempts int

	// RetryForever keeps cycling the endpoint list with backoff instead
	// of giving up when every endpoint has failed.
	RetryForever bool

	// ReconnectOnFailure re-dials after a dead connection instead of
	// exiting.
	ReconnectOnFailure bool

	ThrottleMode throttle.Mode

	IdleTimeout    time.Duration
	DialTimeout    time.Duration
	LookupCooldown time.Duration

	MailboxCapacity int

	Registry *plugin.Registry

	// Parser defaults to the built-in minimal line parser.
	Parser wire.Parser

	// Saver may be nil; save-configuration is then a logged no-op.
	Saver ConfigSaver

	Logger *zap.Logger
	Clock  clock.Clock
}

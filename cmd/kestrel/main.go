// Main package for the kestrel chat client binary
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kestrelbot/kestrel/pkg/client"
	"github.com/kestrelbot/kestrel/pkg/plugin"
	"github.com/kestrelbot/kestrel/pkg/throttle"
	"github.com/kestrelbot/kestrel/pkg/transport"
	"go.uber.org/zap"
)

func main() {
	logger := zap.Must(zap.NewProduction())
	if os.Getenv("APP_ENV") != "production" {
		logger = zap.Must(zap.NewDevelopment())
	}
	defer logger.Sync()

	//
	// Flags
	host := flag.String("host", "", "Chat server hostname to connect to")
	port := flag.Int("port", 6667, "Chat server port")
	gatewayURL := flag.String("gateway-url", "", "WebSocket gateway URL; when set the connection tunnels through it instead of raw TCP")
	nick := flag.String("nick", "kestrel", "Nickname to register with")
	user := flag.String("user", "", "Username for registration; defaults to the nickname")
	realName := flag.String("real-name", "", "Real name for registration; defaults to the nickname")

	family := flag.String("family", "any", "Address family preference: any, ipv4, or ipv6")
	dnsServer := flag.String("dns-server", "", "Explicit DNS server address, bypassing the system resolver")
	maxResolveAttempts := flag.Int("max-resolve-attempts", 0, "Give up resolution after this many attempts; 0 retries forever")

	retryForever := flag.Bool("retry-forever", true, "Keep cycling the endpoint list with backoff instead of giving up")
	reconnect := flag.Bool("reconnect", true, "Reconnect after a dead connection instead of exiting")

	throttleMode := flag.String("throttle", "default", "Outbound throttle mode: default, loose, or fast")
	idleTimeout := flag.Duration("idle-timeout", 5*time.Minute, "Declare the connection dead after this long without a line")
	dialTimeout := flag.Duration("dial-timeout", 30*time.Second, "Per-endpoint dial timeout")

	flag.Parse()

	if *host == "" {
		logger.Error("No chat server host given, use -host")
		os.Exit(1)
	}

	shutdownCtx, shutdownRelease := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer shutdownRelease()

	registry := plugin.CreateRegistry()
	registry.Register("core", func(deps plugin.Deps) (plugin.Handler, error) {
		return plugin.CreateCoreHandler(deps, time.Now().UnixNano()), nil
	})

	chatClient, err := client.CreateClient(client.Config{
		Host:               *host,
		Port:               *port,
		GatewayURL:         *gatewayURL,
		Nick:               *nick,
		User:               *user,
		RealName:           *realName,
		Family:             parseFamily(logger, *family),
		DNSServer:          *dnsServer,
		MaxResolveAttempts: *maxResolveAttempts,
		RetryForever:       *retryForever,
		ReconnectOnFailure: *reconnect,
		ThrottleMode:       parseThrottleMode(logger, *throttleMode),
		IdleTimeout:        *idleTimeout,
		DialTimeout:        *dialTimeout,
		Registry:           registry,
		Logger:             logger,
	})
	if err != nil {
		logger.Error("Failed to create chat client", zap.Error(err))
		os.Exit(1)
	}

	if err := chatClient.Run(shutdownCtx); err != nil {
		logger.Error("Chat client exited with error", zap.Error(err))
		os.Exit(1)
	}
}

func parseFamily(logger *zap.Logger, name string) transport.Family {
	switch name {
	case "any":
		return transport.FamilyAny
	case "ipv4":
		return transport.FamilyIPv4
	case "ipv6":
		return transport.FamilyIPv6
	default:
		logger.Warn("Unknown address family, using any", zap.String("family", name))
		return transport.FamilyAny
	}
}

func parseThrottleMode(logger *zap.Logger, name string) throttle.Mode {
	switch name {
	case "default":
		return throttle.ModeDefault
	case "loose":
		return throttle.ModeLoose
	case "fast":
		return throttle.ModeFast
	default:
		logger.Warn("Unknown throttle mode, using default", zap.String("mode", name))
		return throttle.ModeDefault
	}
}

package plugin

import (
	"fmt"

	"github.com/kestrelbot/kestrel/internal/identity"
	"github.com/kestrelbot/kestrel/pkg/mailbox"
	utils "github.com/kestrelbot/kestrel/pkg/util"
	"github.com/kestrelbot/kestrel/pkg/wire"
	"go.uber.org/zap"
)

// keepaliveInterval is how often the core handler probes the server when
// the connection is otherwise quiet.
const keepaliveInterval = 90

// CoreHandler keeps the session alive: it answers PING, tracks the client's
// own nickname and channels through the identity store, and falls back to a
// random-suffix alternate nick when the configured one is taken.
type CoreHandler struct {
	log      *zap.Logger
	identity *identity.State
	post     func(msg any) error

	waits     *Waits
	suffixGen *utils.SuffixGenerator

	baseNick    string
	keepaliveAt int64
}

func CreateCoreHandler(deps Deps, seed int64) *CoreHandler {
	return &CoreHandler{
		log:       deps.Logger.With(zap.String("handler", "core")),
		identity:  deps.Identity,
		post:      deps.Post,
		waits:     CreateWaits(),
		suffixGen: utils.CreateSuffixGenerator(seed),
		baseNick:  deps.Identity.Nick(),
	}
}

func (h *CoreHandler) Name() string {
	return "core"
}

func (h *CoreHandler) Waits() *Waits {
	return h.waits
}

func (h *CoreHandler) Postprocess(ev *wire.Event) error {
	switch ev.Type {
	case "001":
		// The welcome numeric names the nick the server settled on.
		if len(ev.Args) > 0 {
			h.identity.SetNick(ev.Args[0])
		}
	case "NICK":
		if h.identity.IsSelf(ev.SourceNick()) {
			h.identity.SetNick(ev.LastArg())
		}
	case "JOIN":
		if h.identity.IsSelf(ev.SourceNick()) {
			h.identity.Join(ev.LastArg())
		}
	case "PART":
		if h.identity.IsSelf(ev.SourceNick()) && len(ev.Args) > 0 {
			h.identity.Part(ev.Args[0])
		}
	}
	return nil
}

func (h *CoreHandler) OnEvent(ev *wire.Event) error {
	switch ev.Type {
	case "PING":
		return h.post(mailbox.Pong{Target: ev.LastArg()})
	case "433":
		return h.onNickInUse()
	}
	return nil
}

// onNickInUse retries registration under an alternate nick and parks a
// continuation on the welcome numeric to confirm it stuck.
func (h *CoreHandler) onNickInUse() error {
	alt := fmt.Sprintf("%s_%s", h.baseNick, h.suffixGen.GetRandomSuffix(3))
	h.log.Warn("Nickname in use, retrying with alternate", zap.String("alternate", alt))

	h.waits.AwaitEvent("001", func(ev *wire.Event) (bool, error) {
		h.log.Info("Registered under alternate nickname", zap.String("nick", h.identity.Nick()))
		return true, nil
	})

	return h.post(mailbox.SendLine{Text: "NICK " + alt})
}

func (h *CoreHandler) Periodic(now int64) error {
	if h.keepaliveAt != 0 {
		return nil
	}

	h.keepaliveAt = now + keepaliveInterval
	h.waits.AwaitTime(h.keepaliveAt, func(fireNow int64) error {
		h.keepaliveAt = 0
		return h.post(mailbox.SendLine{
			Text:  fmt.Sprintf("PING :%d", fireNow),
			Quiet: true,
		})
	})
	return nil
}

func (h *CoreHandler) OnBusMessage(header string, payload any) {
	h.log.Debug("Bus message received", zap.String("header", header), zap.Any("payload", payload))
}

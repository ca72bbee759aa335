package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aliveriver/turnbot/internal/assemble"
	"github.com/aliveriver/turnbot/internal/bus"
	"github.com/aliveriver/turnbot/internal/channels"
	"github.com/aliveriver/turnbot/internal/classify"
	"github.com/aliveriver/turnbot/internal/config"
	"github.com/aliveriver/turnbot/internal/debounce"
	"github.com/aliveriver/turnbot/internal/history"
	"github.com/aliveriver/turnbot/internal/maintenance"
	"github.com/aliveriver/turnbot/internal/persona"
	"github.com/aliveriver/turnbot/internal/providers"
)

// stack bundles everything one running bot instance needs.
type stack struct {
	cfg         *config.Config
	bus         *bus.MessageBus
	histories   *history.Store
	personas    *persona.Store
	selector    *providers.Selector
	classifier  *classify.Classifier
	assembler   *assemble.Assembler
	interceptor *debounce.Interceptor
	commands    *commandHandler
}

// buildStack wires the bot from config. The returned stack is not yet
// running; callers start the interceptor and outbound dispatch loops.
func buildStack(cfg *config.Config) *stack {
	s := &stack{
		cfg:        cfg,
		bus:        bus.NewMessageBus(100),
		histories:  history.NewStore(cfg.History.DataDir),
		personas:   persona.NewStore(cfg.Persona.Path),
		selector:   providers.NewSelectorFromConfig(cfg.Providers),
		classifier: classify.NewClassifier(cfg.Debounce.CommandPrefixes),
	}

	s.assembler = assemble.NewAssembler(assemble.Options{
		Bus:       s.bus,
		Personas:  s.personas,
		Histories: s.histories,
		Selector:  s.selector,
		Separator: cfg.Debounce.MergeSeparator,
	})

	s.interceptor = debounce.NewInterceptor(debounce.Options{
		Bus:        s.bus,
		Classifier: s.classifier,
		Window:     time.Duration(cfg.Debounce.DebounceSeconds * float64(time.Second)),
		Enabled:    cfg.Debounce.Enabled,
		Forward:    s.forward,
		Flush:      s.assembler.Process,
	})

	s.commands = &commandHandler{
		bus:         s.bus,
		histories:   s.histories,
		interceptor: s.interceptor,
	}
	return s
}

// forward handles messages released by the interceptor: commands go to
// the command handler, everything else runs as its own turn.
func (s *stack) forward(msg bus.InboundMessage) {
	cm := s.classifier.Classify(msg)
	if cm.IsCommand {
		s.commands.Handle(msg, cm)
		return
	}
	s.assembler.ProcessSingle(context.Background(), msg, cm)
}

// addConfiguredChannels registers every channel that has credentials.
func addConfiguredChannels(mgr *channels.Manager, cfg *config.Config) {
	add := func(name string, chCfg any) {
		raw, err := json.Marshal(chCfg)
		if err != nil {
			slog.Error("failed to encode channel config", "channel", name, "error", err)
			return
		}
		if err := mgr.AddChannel(name, raw); err != nil {
			slog.Error("failed to add channel", "channel", name, "error", err)
		}
	}
	if cfg.Channels.Telegram.Token != "" {
		add("telegram", cfg.Channels.Telegram)
	}
	if cfg.Channels.Discord.Token != "" {
		add("discord", cfg.Channels.Discord)
	}
	if cfg.Channels.Slack.BotToken != "" {
		add("slack", cfg.Channels.Slack)
	}
}

func runBot() {
	setupLogging()

	cfg, err := loadConfig()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	s := buildStack(cfg)
	mgr := channels.NewManager(s.bus)
	addConfiguredChannels(mgr, cfg)

	flusher, err := maintenance.NewService(cfg.Maintenance.FlushSchedule, s.histories)
	if err != nil {
		slog.Error("failed to schedule maintenance", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := mgr.StartAll(ctx); err != nil {
		slog.Error("failed to start channels", "error", err)
		os.Exit(1)
	}
	flusher.Start()
	slog.Info("turnbot started",
		"debounce_enabled", cfg.Debounce.Enabled,
		"debounce_seconds", cfg.Debounce.DebounceSeconds,
		"channels", channels.RegisteredNames())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.interceptor.Run(gctx)
	})
	g.Go(func() error {
		s.bus.DispatchOutbound(gctx)
		return gctx.Err()
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		slog.Error("bot stopped with error", "error", err)
	}

	flusher.Stop()
	if err := mgr.StopAll(); err != nil {
		slog.Error("failed to stop channels cleanly", "error", err)
	}
	slog.Info("turnbot stopped")
}

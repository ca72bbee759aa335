package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/aliveriver/turnbot/internal/bus"
)

func chatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Chat with the bot from the terminal",
		Long: "Starts an interactive session on stdin. Messages typed in quick " +
			"succession are merged into a single model turn, same as on a real channel.",
		Run: func(cmd *cobra.Command, args []string) {
			runChat()
		},
	}
}

func runChat() {
	setupLogging()

	cfg, err := loadConfig()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	s := buildStack(cfg)
	s.bus.Subscribe("cli", func(msg bus.OutboundMessage) error {
		if msg.Type == "error" {
			fmt.Printf("\n[error] %s\n> ", msg.Content)
			return nil
		}
		fmt.Printf("\nbot: %s\n> ", msg.Content)
		return nil
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.interceptor.Run(gctx)
	})
	g.Go(func() error {
		s.bus.DispatchOutbound(gctx)
		return gctx.Err()
	})

	fmt.Printf("turnbot %s interactive chat. Ctrl-D to quit, /help for commands.\n> ", Version)
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			fmt.Print("> ")
			continue
		}
		s.bus.PublishInbound(bus.InboundMessage{
			Channel:  "cli",
			SenderID: "local",
			ChatID:   "local",
			Content:  line,
			Segments: []bus.Segment{{Kind: bus.SegmentText, Text: line}},
			Scope:    bus.ScopeDirect,
		})
		fmt.Print("> ")
	}

	stop()
	if err := g.Wait(); err != nil && err != context.Canceled {
		slog.Error("chat stopped with error", "error", err)
	}
	fmt.Println()
}

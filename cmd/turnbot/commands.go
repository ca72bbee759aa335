package main

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/aliveriver/turnbot/internal/bus"
	"github.com/aliveriver/turnbot/internal/classify"
	"github.com/aliveriver/turnbot/internal/debounce"
	"github.com/aliveriver/turnbot/internal/history"
)

const helpText = `Available commands:
/help   - show this message
/status - show bot status
/reset  - clear this conversation's history`

// commandHandler answers slash commands. Commands skip aggregation, so
// they land here individually even while a debounce round is running.
type commandHandler struct {
	bus         *bus.MessageBus
	histories   *history.Store
	interceptor *debounce.Interceptor
}

func (h *commandHandler) Handle(msg bus.InboundMessage, cm classify.ClassifiedMessage) {
	cmd := strings.Fields(cm.Text)
	if len(cmd) == 0 {
		return
	}

	var reply string
	switch strings.TrimLeft(cmd[0], "/!") {
	case "help":
		reply = helpText
	case "status":
		reply = fmt.Sprintf("turnbot %s, %d conversation(s) collecting", Version, h.interceptor.ActiveSessions())
	case "reset":
		if err := h.histories.Update(msg.ConversationKey(), nil); err != nil {
			slog.Warn("failed to reset history", "conversation", msg.ConversationKey(), "error", err)
			reply = "Failed to clear history."
		} else {
			reply = "Conversation history cleared."
		}
	default:
		reply = fmt.Sprintf("Unknown command %q. Try /help.", cmd[0])
	}

	h.bus.PublishOutbound(bus.OutboundMessage{
		Channel: msg.Channel,
		ChatID:  msg.ChatID,
		Content: reply,
		Type:    "text",
	})
}

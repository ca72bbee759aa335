package channels

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/aliveriver/turnbot/internal/bus"
)

func init() {
	Register("telegram", newTelegramChannel)
}

type telegramConfig struct {
	Token        string   `json:"token"`
	AllowedUsers []string `json:"allowedUsers"`
}

type TelegramChannel struct {
	bot          *tgbotapi.BotAPI
	bus          *bus.MessageBus
	allowedUsers map[string]bool
	stopCh       chan struct{}
}

func newTelegramChannel(cfg json.RawMessage, msgBus *bus.MessageBus) (Channel, error) {
	var tcfg telegramConfig
	if err := json.Unmarshal(cfg, &tcfg); err != nil {
		return nil, fmt.Errorf("failed to parse telegram config: %w", err)
	}
	bot, err := tgbotapi.NewBotAPI(tcfg.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	allowed := make(map[string]bool, len(tcfg.AllowedUsers))
	for _, u := range tcfg.AllowedUsers {
		allowed[u] = true
	}
	return &TelegramChannel{
		bot:          bot,
		bus:          msgBus,
		allowedUsers: allowed,
		stopCh:       make(chan struct{}),
	}, nil
}

func (c *TelegramChannel) Name() string { return "telegram" }

func (c *TelegramChannel) Start(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := c.bot.GetUpdatesChan(u)

	go func() {
		for {
			select {
			case update, ok := <-updates:
				if !ok {
					return
				}
				if update.Message == nil {
					continue
				}
				senderID := strconv.FormatInt(update.Message.From.ID, 10)
				if !c.IsAllowed(senderID) {
					slog.Warn("telegram: message from disallowed user", "senderID", senderID)
					continue
				}
				c.bus.PublishInbound(c.toInbound(update.Message, senderID))
			case <-ctx.Done():
				c.bot.StopReceivingUpdates()
				return
			case <-c.stopCh:
				c.bot.StopReceivingUpdates()
				return
			}
		}
	}()
	return nil
}

// toInbound decomposes a telegram message into ordered segments. A photo
// message carries the largest size variant as the image locator, with the
// caption (if any) as a trailing text segment.
func (c *TelegramChannel) toInbound(m *tgbotapi.Message, senderID string) bus.InboundMessage {
	scope := bus.ScopeGroup
	if m.Chat.IsPrivate() {
		scope = bus.ScopeDirect
	}

	var segments []bus.Segment
	if m.Text != "" {
		segments = append(segments, bus.Segment{Kind: bus.SegmentText, Text: m.Text})
	}
	if len(m.Photo) > 0 {
		// Telegram sends ascending size variants; the last is the largest.
		ps := m.Photo[len(m.Photo)-1]
		ref := ps.FileID
		if url, err := c.bot.GetFileDirectURL(ps.FileID); err == nil {
			ref = url
		} else {
			slog.Warn("telegram: failed to resolve photo url, keeping file id", "error", err)
		}
		segments = append(segments, bus.Segment{Kind: bus.SegmentImage, ImageURL: ref})
	}
	if m.Caption != "" {
		segments = append(segments, bus.Segment{Kind: bus.SegmentText, Text: m.Caption})
	}
	if m.Sticker != nil {
		segments = append(segments, bus.Segment{Kind: bus.SegmentOther})
	}

	return bus.InboundMessage{
		Channel:  "telegram",
		SenderID: senderID,
		ChatID:   strconv.FormatInt(m.Chat.ID, 10),
		Content:  m.Text,
		Segments: segments,
		Scope:    scope,
	}
}

func (c *TelegramChannel) Stop() error {
	close(c.stopCh)
	return nil
}

func (c *TelegramChannel) Send(msg bus.OutboundMessage) error {
	chatID, err := strconv.ParseInt(msg.ChatID, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram: invalid chatID %q: %w", msg.ChatID, err)
	}
	m := tgbotapi.NewMessage(chatID, msg.Content)
	_, err = c.bot.Send(m)
	return err
}

func (c *TelegramChannel) IsAllowed(senderID string) bool {
	if len(c.allowedUsers) == 0 {
		return true
	}
	return c.allowedUsers[senderID]
}

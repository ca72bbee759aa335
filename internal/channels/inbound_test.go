package channels

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/slack-go/slack/slackevents"

	"github.com/aliveriver/turnbot/internal/bus"
)

func TestTelegramToInbound(t *testing.T) {
	ch := &TelegramChannel{}

	tests := []struct {
		name      string
		msg       *tgbotapi.Message
		wantScope bus.Scope
		wantKinds []bus.SegmentKind
		wantText  string
	}{
		{
			name: "private text",
			msg: &tgbotapi.Message{
				Text: "hello",
				Chat: &tgbotapi.Chat{ID: 1, Type: "private"},
			},
			wantScope: bus.ScopeDirect,
			wantKinds: []bus.SegmentKind{bus.SegmentText},
			wantText:  "hello",
		},
		{
			name: "group text",
			msg: &tgbotapi.Message{
				Text: "hi all",
				Chat: &tgbotapi.Chat{ID: 2, Type: "group"},
			},
			wantScope: bus.ScopeGroup,
			wantKinds: []bus.SegmentKind{bus.SegmentText},
			wantText:  "hi all",
		},
		{
			name: "sticker only",
			msg: &tgbotapi.Message{
				Chat:    &tgbotapi.Chat{ID: 3, Type: "private"},
				Sticker: &tgbotapi.Sticker{FileID: "st1"},
			},
			wantScope: bus.ScopeDirect,
			wantKinds: []bus.SegmentKind{bus.SegmentOther},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := ch.toInbound(tc.msg, "u1")
			if got.Channel != "telegram" || got.SenderID != "u1" {
				t.Errorf("addressing = %s/%s", got.Channel, got.SenderID)
			}
			if got.Scope != tc.wantScope {
				t.Errorf("scope = %q, want %q", got.Scope, tc.wantScope)
			}
			if len(got.Segments) != len(tc.wantKinds) {
				t.Fatalf("got %d segments, want %d", len(got.Segments), len(tc.wantKinds))
			}
			for i, k := range tc.wantKinds {
				if got.Segments[i].Kind != k {
					t.Errorf("segment[%d].Kind = %q, want %q", i, got.Segments[i].Kind, k)
				}
			}
			if got.Content != tc.wantText {
				t.Errorf("content = %q, want %q", got.Content, tc.wantText)
			}
		})
	}
}

func TestDiscordToInbound(t *testing.T) {
	msg := func(guildID, content string, attachments ...*discordgo.MessageAttachment) *discordgo.MessageCreate {
		return &discordgo.MessageCreate{
			Message: &discordgo.Message{
				GuildID:     guildID,
				ChannelID:   "chan1",
				Content:     content,
				Author:      &discordgo.User{ID: "u1"},
				Attachments: attachments,
			},
		}
	}

	t.Run("dm is direct scope", func(t *testing.T) {
		got := toDiscordInbound(msg("", "hi"))
		if got.Scope != bus.ScopeDirect {
			t.Errorf("scope = %q, want direct", got.Scope)
		}
	})

	t.Run("guild message is group scope", func(t *testing.T) {
		got := toDiscordInbound(msg("g1", "hi"))
		if got.Scope != bus.ScopeGroup {
			t.Errorf("scope = %q, want group", got.Scope)
		}
	})

	t.Run("image attachment becomes image segment", func(t *testing.T) {
		got := toDiscordInbound(msg("", "look",
			&discordgo.MessageAttachment{ContentType: "image/png", URL: "https://cdn/img.png"},
			&discordgo.MessageAttachment{ContentType: "application/pdf", URL: "https://cdn/doc.pdf"},
		))
		if len(got.Segments) != 3 {
			t.Fatalf("got %d segments, want 3", len(got.Segments))
		}
		if got.Segments[0].Kind != bus.SegmentText || got.Segments[0].Text != "look" {
			t.Errorf("segment[0] = %+v", got.Segments[0])
		}
		if got.Segments[1].Kind != bus.SegmentImage || got.Segments[1].ImageURL != "https://cdn/img.png" {
			t.Errorf("segment[1] = %+v", got.Segments[1])
		}
		if got.Segments[2].Kind != bus.SegmentOther {
			t.Errorf("segment[2] = %+v", got.Segments[2])
		}
	})
}

func TestSlackStartReturnsPromptly(t *testing.T) {
	// StartAll runs each adapter's Start on the caller's goroutine, so a
	// Start that blocks until shutdown would wedge the whole bot.
	ch, err := newSlackChannel(
		json.RawMessage(`{"botToken":"xoxb-test","appToken":"xapp-test"}`),
		bus.NewMessageBus(4),
	)
	if err != nil {
		t.Fatalf("newSlackChannel: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- ch.Start(ctx) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Start: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return; it must run its connection in the background")
	}
}

func TestSlackToInbound(t *testing.T) {
	tests := []struct {
		name      string
		event     *slackevents.MessageEvent
		wantScope bus.Scope
	}{
		{
			name:      "im channel type",
			event:     &slackevents.MessageEvent{User: "u1", Channel: "C123", ChannelType: "im", Text: "hi"},
			wantScope: bus.ScopeDirect,
		},
		{
			name:      "d-prefixed channel id",
			event:     &slackevents.MessageEvent{User: "u1", Channel: "D042", Text: "hi"},
			wantScope: bus.ScopeDirect,
		},
		{
			name:      "public channel",
			event:     &slackevents.MessageEvent{User: "u1", Channel: "C042", ChannelType: "channel", Text: "hi"},
			wantScope: bus.ScopeGroup,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := toSlackInbound(tc.event)
			if got.Scope != tc.wantScope {
				t.Errorf("scope = %q, want %q", got.Scope, tc.wantScope)
			}
			if got.Channel != "slack" || got.ChatID != tc.event.Channel {
				t.Errorf("addressing = %s/%s", got.Channel, got.ChatID)
			}
			if len(got.Segments) != 1 || got.Segments[0].Text != "hi" {
				t.Errorf("segments = %+v", got.Segments)
			}
		})
	}
}

package assemble

import (
	"context"
	"log/slog"

	"github.com/tidwall/gjson"

	"github.com/aliveriver/turnbot/internal/bus"
	"github.com/aliveriver/turnbot/internal/classify"
	"github.com/aliveriver/turnbot/internal/debounce"
	"github.com/aliveriver/turnbot/internal/history"
	"github.com/aliveriver/turnbot/internal/persona"
	"github.com/aliveriver/turnbot/internal/providers"
)

// PersonaStore resolves the system prompt serving a conversation.
// *persona.Store is the production implementation.
type PersonaStore interface {
	DefaultPersona(ctx context.Context, conversationKey string) (*persona.Descriptor, error)
}

// HistoryStore reads and writes per-conversation chat history.
// *history.Store is the production implementation.
type HistoryStore interface {
	History(key string) ([]history.Entry, error)
	Update(key string, entries []history.Entry) error
}

// ProviderSelector picks the completion provider for a conversation, nil
// when none is configured.
type ProviderSelector interface {
	ForConversation(key string) providers.Provider
}

// replyFields are probed in order on the provider's raw payload before
// falling back to the normalized content. Different backends surface the
// reply text under different names.
var replyFields = []string{"completion_text", "result", "content", "text", "message"}

// Options configures an Assembler.
type Options struct {
	Bus       *bus.MessageBus
	Personas  PersonaStore
	Histories HistoryStore
	Selector  ProviderSelector
	Separator string // joins buffered fragments into one prompt
}

// Assembler turns a finished debounce buffer into one provider request
// and publishes the reply. Persona and history lookups are best-effort;
// only the provider call itself can fail the turn.
type Assembler struct {
	bus       *bus.MessageBus
	personas  PersonaStore
	histories HistoryStore
	selector  ProviderSelector
	separator string
}

// NewAssembler creates an Assembler from opts.
func NewAssembler(opts Options) *Assembler {
	sep := opts.Separator
	if sep == "" {
		sep = "\n"
	}
	return &Assembler{
		bus:       opts.Bus,
		personas:  opts.Personas,
		histories: opts.Histories,
		selector:  opts.Selector,
		separator: sep,
	}
}

// Process merges buf and runs the full turn for the conversation that
// origin belongs to, publishing either the reply or a user-facing error
// message. An empty buffer is a no-op. It matches debounce.FlushFunc.
func (a *Assembler) Process(ctx context.Context, origin bus.InboundMessage, buf *debounce.Buffer) {
	merged := buf.Merge(a.separator)
	if merged == "" {
		return
	}

	reply, err := a.Assemble(ctx, origin.ConversationKey(), merged, buf.ImageRefs())
	if err != nil {
		slog.Error("turn assembly failed",
			"conversation", origin.ConversationKey(), "error", err)
		a.publish(origin, UserMessage(err), "error")
		return
	}
	a.publish(origin, reply, "text")
}

// ProcessSingle runs one already-classified message as its own turn,
// bypassing aggregation. Used for messages that never entered a session.
func (a *Assembler) ProcessSingle(ctx context.Context, msg bus.InboundMessage, cm classify.ClassifiedMessage) {
	buf := debounce.NewBuffer()
	buf.Append(cm)
	a.Process(ctx, msg, buf)
}

// Assemble runs merged prompt -> persona -> history -> provider -> reply
// extraction -> history persist for one conversation and returns the
// reply text.
func (a *Assembler) Assemble(ctx context.Context, conversationKey, merged string, imageRefs []string) (string, error) {
	provider := a.selector.ForConversation(conversationKey)
	if provider == nil {
		return "", ErrProviderUnavailable
	}

	systemPrompt := ""
	if d, err := a.personas.DefaultPersona(ctx, conversationKey); err != nil {
		slog.Warn("persona lookup failed, continuing without",
			"conversation", conversationKey, "error", err)
	} else if d != nil {
		systemPrompt = d.Prompt
	}

	entries, err := a.histories.History(conversationKey)
	if err != nil {
		slog.Warn("history lookup failed, continuing with empty history",
			"conversation", conversationKey, "error", err)
		entries = nil
	}

	resp, err := provider.Complete(ctx, providers.CompletionRequest{
		Prompt:       merged,
		Context:      entriesToMessages(entries),
		SystemPrompt: systemPrompt,
		ImageURLs:    imageRefs,
	})
	if err != nil {
		return "", &RequestError{Provider: provider.Name(), Cause: err}
	}

	reply := ExtractReplyText(resp)
	if reply == "" {
		return "", ErrEmptyResponse
	}

	updated := append(entries,
		history.Entry{Role: "user", Content: merged},
		history.Entry{Role: "assistant", Content: reply},
	)
	if err := a.histories.Update(conversationKey, updated); err != nil {
		// The reply already exists; losing one history write must not
		// turn a successful turn into a user-visible failure.
		slog.Warn("history persist failed",
			"conversation", conversationKey, "error", err)
	}
	return reply, nil
}

// ExtractReplyText pulls the reply out of a provider response, probing
// the known raw payload fields first and falling back to the normalized
// content.
func ExtractReplyText(resp *providers.CompletionResponse) string {
	if resp == nil {
		return ""
	}
	if len(resp.Raw) > 0 && gjson.ValidBytes(resp.Raw) {
		for _, field := range replyFields {
			if v := gjson.GetBytes(resp.Raw, field); v.Type == gjson.String && v.String() != "" {
				return v.String()
			}
		}
	}
	return resp.Content
}

func (a *Assembler) publish(origin bus.InboundMessage, content, typ string) {
	a.bus.PublishOutbound(bus.OutboundMessage{
		Channel: origin.Channel,
		ChatID:  origin.ChatID,
		Content: content,
		Type:    typ,
	})
}

func entriesToMessages(entries []history.Entry) []providers.Message {
	if len(entries) == 0 {
		return nil
	}
	out := make([]providers.Message, 0, len(entries))
	for _, e := range entries {
		out = append(out, providers.Message{Role: e.Role, Content: e.Content})
	}
	return out
}

package debounce

import (
	"context"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/aliveriver/turnbot/internal/bus"
	"github.com/aliveriver/turnbot/internal/classify"
)

// MessageClassifier normalizes raw inbound messages. *classify.Classifier
// is the production implementation.
type MessageClassifier interface {
	Classify(msg bus.InboundMessage) classify.ClassifiedMessage
}

// FlushFunc receives a finished buffer for assembly and reply delivery.
// origin is the message that started the round (carries channel/chat
// addressing for the reply).
type FlushFunc func(ctx context.Context, origin bus.InboundMessage, buf *Buffer)

// ForwardFunc releases a message to normal downstream handling, untouched.
type ForwardFunc func(msg bus.InboundMessage)

// Options configures an Interceptor.
type Options struct {
	Bus        *bus.MessageBus
	Classifier MessageClassifier
	Window     time.Duration // rolling debounce window; <= 0 disables interception
	Enabled    bool
	Forward    ForwardFunc
	Flush      FlushFunc
}

// Interceptor sits between the message bus and downstream handling. Rapid
// consecutive direct messages from one conversation are collected into a
// session and flushed as one merged turn; commands, group messages, and
// everything when disabled pass through untouched.
type Interceptor struct {
	bus        *bus.MessageBus
	classifier MessageClassifier
	window     time.Duration
	enabled    bool
	forward    ForwardFunc
	flush      FlushFunc

	mu     sync.Mutex
	active map[string]*session // conversation key -> collecting session
}

// NewInterceptor creates an Interceptor from opts.
func NewInterceptor(opts Options) *Interceptor {
	return &Interceptor{
		bus:        opts.Bus,
		classifier: opts.Classifier,
		window:     opts.Window,
		enabled:    opts.Enabled,
		forward:    opts.Forward,
		flush:      opts.Flush,
		active:     make(map[string]*session),
	}
}

// Run consumes inbound messages from the bus until ctx is cancelled.
func (i *Interceptor) Run(ctx context.Context) error {
	for {
		msg, err := i.bus.ConsumeInbound(ctx)
		if err != nil {
			return err
		}
		i.Handle(ctx, msg)
	}
}

// RouteDecision reports what Handle did with a message.
type RouteDecision int

const (
	// RouteCollected: the message entered a session (new or existing).
	RouteCollected RouteDecision = iota
	// RoutePassedThrough: the message was released downstream untouched.
	RoutePassedThrough
	// RouteIgnored: the message was empty and dropped.
	RouteIgnored
)

// Handle routes one inbound message: into the conversation's collecting
// session if one exists, into a new session for a qualifying direct
// message, or straight downstream otherwise.
func (i *Interceptor) Handle(ctx context.Context, msg bus.InboundMessage) RouteDecision {
	if !i.enabled || i.window <= 0 || msg.Scope != bus.ScopeDirect {
		i.forward(msg)
		return RoutePassedThrough
	}

	cm := i.safeClassify(msg)
	if cm.Empty() {
		// Neither starts nor extends a round; an active session's timer
		// is deliberately not reset.
		return RouteIgnored
	}

	d := delivery{msg: msg, cm: cm}
	key := msg.ConversationKey()

	i.mu.Lock()
	if s, ok := i.active[key]; ok && !s.done {
		select {
		case s.inbox <- d:
			i.mu.Unlock()
			return RouteCollected
		default:
			// Inbox saturated; release the message rather than block the
			// consumer loop with the registry lock held.
			i.mu.Unlock()
			slog.Warn("debounce: session inbox full, releasing message",
				"conversation", key)
			i.forward(msg)
			return RoutePassedThrough
		}
	}

	if cm.IsCommand {
		// No active round to interrupt; commands bypass aggregation.
		i.mu.Unlock()
		i.forward(msg)
		return RoutePassedThrough
	}

	// Seed a new session. The triggering message is appended here, before
	// the wait loop starts, and is never re-delivered to it.
	s := newSession(msg)
	s.buf.Append(cm)
	i.active[key] = s
	i.mu.Unlock()

	slog.Info("debounce: collection started",
		"conversation", key, "preview", preview(cm))

	go i.runSession(ctx, s)
	return RouteCollected
}

// ActiveSessions returns the number of conversations currently collecting.
func (i *Interceptor) ActiveSessions() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.active)
}

// runSession drives one session to its terminal outcome and dispatches it.
// Any unexpected fault terminates the session, releases the conversation,
// and surfaces a single generic error reply.
func (i *Interceptor) runSession(ctx context.Context, s *session) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("debounce: session failure",
				"conversation", s.conversation, "panic", r)
			i.release(s)
			i.bus.PublishOutbound(bus.OutboundMessage{
				Channel: s.origin.Channel,
				ChatID:  s.origin.ChatID,
				Content: "Something went wrong while processing your messages.",
				Type:    "error",
			})
		}
	}()

	out := i.collect(ctx, s)

	switch out.Kind {
	case OutcomeInterrupt:
		slog.Info("debounce: interrupted by command",
			"conversation", s.conversation, "collected", s.buf.Len())
		// Submit what was already collected, then let the command run.
		if s.buf.Len() > 0 {
			i.flush(ctx, s.origin, s.buf)
		}
		i.forward(*out.Command)
	case OutcomeFlush:
		slog.Info("debounce: window elapsed, flushing",
			"conversation", s.conversation,
			"collected", s.buf.Len(), "images", len(s.buf.ImageRefs()))
		i.flush(ctx, s.origin, s.buf)
	case OutcomeAbort:
		slog.Debug("debounce: round ended with nothing collected",
			"conversation", s.conversation)
	}

	// Messages that raced into the inbox during teardown start a fresh round.
	i.redeliver(ctx, s)
}

// collect is the session wait loop: it consumes deliveries for this
// conversation, resetting the rolling window on each accepted message,
// until a command interrupts or the window elapses.
func (i *Interceptor) collect(ctx context.Context, s *session) Outcome {
	timer := time.NewTimer(i.window)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			i.release(s)
			return Outcome{Kind: OutcomeAbort, Buffer: s.buf}

		case d := <-s.inbox:
			if d.cm.IsCommand {
				i.release(s)
				return Outcome{Kind: OutcomeInterrupt, Buffer: s.buf, Command: &d.msg}
			}
			if s.buf.Append(d.cm) {
				slog.Debug("debounce: message collected",
					"conversation", s.conversation, "preview", preview(d.cm))
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(i.window)
			}

		case <-timer.C:
			if !i.tryRelease(s) {
				// A message slipped into the inbox as the window expired;
				// keep collecting. It resets the timer when read.
				timer.Reset(i.window)
				continue
			}
			if s.buf.Len() == 0 {
				return Outcome{Kind: OutcomeAbort, Buffer: s.buf}
			}
			return Outcome{Kind: OutcomeFlush, Buffer: s.buf}
		}
	}
}

// release removes the session from the registry unconditionally.
func (i *Interceptor) release(s *session) {
	i.mu.Lock()
	s.done = true
	delete(i.active, s.conversation)
	i.mu.Unlock()
}

// tryRelease removes the session only if its inbox is empty, so a message
// delivered in the same instant the window expired is never lost. Delivery
// holds the same lock, making the check race-free.
func (i *Interceptor) tryRelease(s *session) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	if len(s.inbox) > 0 {
		return false
	}
	s.done = true
	delete(i.active, s.conversation)
	return true
}

// redeliver re-routes anything still queued in a finished session's inbox.
func (i *Interceptor) redeliver(ctx context.Context, s *session) {
	for {
		select {
		case d := <-s.inbox:
			i.Handle(ctx, d.msg)
		default:
			return
		}
	}
}

// safeClassify treats a panicking classification as an empty message so a
// malformed input cannot take the consumer loop down.
func (i *Interceptor) safeClassify(msg bus.InboundMessage) (cm classify.ClassifiedMessage) {
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("debounce: classification failed, ignoring message",
				"conversation", msg.ConversationKey(), "panic", r)
			cm = classify.ClassifiedMessage{}
		}
	}()
	return i.classifier.Classify(msg)
}

// preview returns a short log-safe rendering of a classified message.
func preview(cm classify.ClassifiedMessage) string {
	if cm.Text == "" {
		return ImagePlaceholder
	}
	const max = 50
	if utf8.RuneCountInString(cm.Text) <= max {
		return cm.Text
	}
	runes := []rune(cm.Text)
	return string(runes[:max])
}

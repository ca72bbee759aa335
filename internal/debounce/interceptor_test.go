package debounce

import (
	"context"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/aliveriver/turnbot/internal/bus"
	"github.com/aliveriver/turnbot/internal/classify"
)

// recorder captures forward and flush calls from an Interceptor.
type recorder struct {
	mu        sync.Mutex
	forwarded []bus.InboundMessage
	flushed   []*Buffer
	origins   []bus.InboundMessage
}

func (r *recorder) forward(msg bus.InboundMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.forwarded = append(r.forwarded, msg)
}

func (r *recorder) flush(ctx context.Context, origin bus.InboundMessage, buf *Buffer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flushed = append(r.flushed, buf)
	r.origins = append(r.origins, origin)
}

func (r *recorder) forwardCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.forwarded)
}

func (r *recorder) flushCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.flushed)
}

func (r *recorder) lastFlushed() *Buffer {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.flushed) == 0 {
		return nil
	}
	return r.flushed[len(r.flushed)-1]
}

func newTestInterceptor(window time.Duration, rec *recorder) *Interceptor {
	return NewInterceptor(Options{
		Bus:        bus.NewMessageBus(10),
		Classifier: classify.NewClassifier([]string{"/"}),
		Window:     window,
		Enabled:    true,
		Forward:    rec.forward,
		Flush:      rec.flush,
	})
}

func directMsg(chatID, text string) bus.InboundMessage {
	return bus.InboundMessage{
		Channel:  "test",
		SenderID: "u1",
		ChatID:   chatID,
		Scope:    bus.ScopeDirect,
		Segments: []bus.Segment{{Kind: bus.SegmentText, Text: text}},
	}
}

func imageMsg(chatID, url string) bus.InboundMessage {
	return bus.InboundMessage{
		Channel:  "test",
		SenderID: "u1",
		ChatID:   chatID,
		Scope:    bus.ScopeDirect,
		Segments: []bus.Segment{{Kind: bus.SegmentImage, ImageURL: url}},
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestMessagesWithinWindowMergeInOrder(t *testing.T) {
	rec := &recorder{}
	i := newTestInterceptor(80*time.Millisecond, rec)
	ctx := context.Background()

	for _, text := range []string{"a", "b", "c"} {
		if got := i.Handle(ctx, directMsg("c1", text)); got != RouteCollected {
			t.Fatalf("Handle(%q) = %v, want RouteCollected", text, got)
		}
		time.Sleep(20 * time.Millisecond)
	}

	waitFor(t, time.Second, func() bool { return rec.flushCount() == 1 })

	buf := rec.lastFlushed()
	if got := buf.Merge("\n"); got != "a\nb\nc" {
		t.Errorf("merged prompt = %q, want %q", got, "a\nb\nc")
	}
	if rec.forwardCount() != 0 {
		t.Errorf("forwarded %d messages, want 0", rec.forwardCount())
	}
	if i.ActiveSessions() != 0 {
		t.Errorf("ActiveSessions() = %d after flush, want 0", i.ActiveSessions())
	}
}

func TestRollingWindowResetsPerMessage(t *testing.T) {
	rec := &recorder{}
	window := 120 * time.Millisecond
	i := newTestInterceptor(window, rec)
	ctx := context.Background()

	start := time.Now()
	i.Handle(ctx, directMsg("c1", "one"))
	time.Sleep(80 * time.Millisecond)
	i.Handle(ctx, directMsg("c1", "two"))
	time.Sleep(80 * time.Millisecond)
	i.Handle(ctx, directMsg("c1", "three"))

	waitFor(t, time.Second, func() bool { return rec.flushCount() == 1 })
	elapsed := time.Since(start)

	// Each accepted message restarts the full window, so the flush can only
	// happen after the last message plus one window.
	if elapsed < 160*time.Millisecond+window {
		t.Errorf("flushed after %v, want at least %v", elapsed, 160*time.Millisecond+window)
	}
	if got := rec.lastFlushed().Fragments(); !reflect.DeepEqual(got, []string{"one", "two", "three"}) {
		t.Errorf("fragments = %v", got)
	}
}

func TestCommandInterruptsCollection(t *testing.T) {
	rec := &recorder{}
	i := newTestInterceptor(2*time.Second, rec)
	ctx := context.Background()

	i.Handle(ctx, directMsg("c1", "hi"))
	time.Sleep(50 * time.Millisecond)
	i.Handle(ctx, directMsg("c1", "/status"))

	// The session must end promptly, not after the 2s window.
	waitFor(t, 500*time.Millisecond, func() bool {
		return rec.flushCount() == 1 && rec.forwardCount() == 1
	})

	if got := rec.lastFlushed().Fragments(); !reflect.DeepEqual(got, []string{"hi"}) {
		t.Errorf("buffer fragments = %v, want [hi]", got)
	}
	rec.mu.Lock()
	released := rec.forwarded[0]
	rec.mu.Unlock()
	if released.Segments[0].Text != "/status" {
		t.Errorf("released message = %+v, want the command", released)
	}
	if i.ActiveSessions() != 0 {
		t.Errorf("ActiveSessions() = %d, want 0", i.ActiveSessions())
	}
}

func TestCommandWithoutSessionPassesThrough(t *testing.T) {
	rec := &recorder{}
	i := newTestInterceptor(time.Second, rec)

	if got := i.Handle(context.Background(), directMsg("c1", "/help")); got != RoutePassedThrough {
		t.Errorf("Handle(command) = %v, want RoutePassedThrough", got)
	}
	if rec.forwardCount() != 1 {
		t.Errorf("forwarded %d, want 1", rec.forwardCount())
	}
	if i.ActiveSessions() != 0 {
		t.Errorf("ActiveSessions() = %d, want 0", i.ActiveSessions())
	}
}

func TestDisabledWindowPassesThrough(t *testing.T) {
	tests := []struct {
		name    string
		window  time.Duration
		enabled bool
	}{
		{"zero window", 0, true},
		{"negative window", -time.Second, true},
		{"disabled", time.Second, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := &recorder{}
			i := NewInterceptor(Options{
				Bus:        bus.NewMessageBus(10),
				Classifier: classify.NewClassifier([]string{"/"}),
				Window:     tc.window,
				Enabled:    tc.enabled,
				Forward:    rec.forward,
				Flush:      rec.flush,
			})

			if got := i.Handle(context.Background(), directMsg("c1", "hello")); got != RoutePassedThrough {
				t.Errorf("Handle() = %v, want RoutePassedThrough", got)
			}
			if rec.forwardCount() != 1 {
				t.Errorf("forwarded %d, want 1", rec.forwardCount())
			}
			if i.ActiveSessions() != 0 {
				t.Errorf("ActiveSessions() = %d, want 0", i.ActiveSessions())
			}
		})
	}
}

func TestGroupScopePassesThrough(t *testing.T) {
	rec := &recorder{}
	i := newTestInterceptor(time.Second, rec)

	msg := directMsg("c1", "hello")
	msg.Scope = bus.ScopeGroup

	if got := i.Handle(context.Background(), msg); got != RoutePassedThrough {
		t.Errorf("Handle(group) = %v, want RoutePassedThrough", got)
	}
	if i.ActiveSessions() != 0 {
		t.Errorf("group message created a session")
	}
}

func TestEmptyMessageIgnored(t *testing.T) {
	rec := &recorder{}
	i := newTestInterceptor(time.Second, rec)

	msg := bus.InboundMessage{Channel: "test", ChatID: "c1", Scope: bus.ScopeDirect}
	if got := i.Handle(context.Background(), msg); got != RouteIgnored {
		t.Errorf("Handle(empty) = %v, want RouteIgnored", got)
	}
	if rec.forwardCount() != 0 || i.ActiveSessions() != 0 {
		t.Error("empty message was forwarded or started a session")
	}
}

func TestImageOnlyMessageCollected(t *testing.T) {
	rec := &recorder{}
	i := newTestInterceptor(60*time.Millisecond, rec)
	ctx := context.Background()

	i.Handle(ctx, directMsg("c1", "look at this"))
	i.Handle(ctx, imageMsg("c1", "http://img/1.png"))
	i.Handle(ctx, directMsg("c1", "what is it"))

	waitFor(t, time.Second, func() bool { return rec.flushCount() == 1 })

	buf := rec.lastFlushed()
	wantFragments := []string{"look at this", ImagePlaceholder, "what is it"}
	if got := buf.Fragments(); !reflect.DeepEqual(got, wantFragments) {
		t.Errorf("fragments = %v, want %v", got, wantFragments)
	}
	if got := buf.ImageRefs(); !reflect.DeepEqual(got, []string{"http://img/1.png"}) {
		t.Errorf("image refs = %v", got)
	}
}

func TestConversationsCollectIndependently(t *testing.T) {
	rec := &recorder{}
	i := newTestInterceptor(60*time.Millisecond, rec)
	ctx := context.Background()

	i.Handle(ctx, directMsg("c1", "from one"))
	i.Handle(ctx, directMsg("c2", "from two"))

	if got := i.ActiveSessions(); got != 2 {
		t.Errorf("ActiveSessions() = %d, want 2", got)
	}

	waitFor(t, time.Second, func() bool { return rec.flushCount() == 2 })

	rec.mu.Lock()
	defer rec.mu.Unlock()
	merged := map[string]bool{}
	for _, buf := range rec.flushed {
		merged[buf.Merge("\n")] = true
	}
	if !merged["from one"] || !merged["from two"] {
		t.Errorf("flushed prompts = %v", merged)
	}
}

func TestSecondMessageJoinsActiveSession(t *testing.T) {
	rec := &recorder{}
	i := newTestInterceptor(100*time.Millisecond, rec)
	ctx := context.Background()

	i.Handle(ctx, directMsg("c1", "first"))
	i.Handle(ctx, directMsg("c1", "second"))

	if got := i.ActiveSessions(); got != 1 {
		t.Errorf("ActiveSessions() = %d, want 1", got)
	}

	waitFor(t, time.Second, func() bool { return rec.flushCount() == 1 })
	if got := rec.lastFlushed().Merge("\n"); got != "first\nsecond" {
		t.Errorf("merged = %q, want %q", got, "first\nsecond")
	}
}

// panicClassifier simulates a malformed message blowing up classification.
type panicClassifier struct{}

func (panicClassifier) Classify(msg bus.InboundMessage) classify.ClassifiedMessage {
	panic("malformed segment")
}

func TestClassificationPanicTreatedAsEmpty(t *testing.T) {
	rec := &recorder{}
	i := NewInterceptor(Options{
		Bus:        bus.NewMessageBus(10),
		Classifier: panicClassifier{},
		Window:     time.Second,
		Enabled:    true,
		Forward:    rec.forward,
		Flush:      rec.flush,
	})

	if got := i.Handle(context.Background(), directMsg("c1", "boom")); got != RouteIgnored {
		t.Errorf("Handle() = %v, want RouteIgnored on classify panic", got)
	}
	if i.ActiveSessions() != 0 {
		t.Error("session started despite classification failure")
	}
}

func TestEmptySessionTimeoutAborts(t *testing.T) {
	// An unseeded session timing out must abort: no flush, no forward.
	rec := &recorder{}
	i := newTestInterceptor(30*time.Millisecond, rec)

	s := newSession(directMsg("c1", ""))
	i.mu.Lock()
	i.active[s.conversation] = s
	i.mu.Unlock()

	out := i.collect(context.Background(), s)
	if out.Kind != OutcomeAbort {
		t.Errorf("outcome = %v, want %v", out.Kind, OutcomeAbort)
	}
	if rec.flushCount() != 0 || rec.forwardCount() != 0 {
		t.Error("aborted session produced a flush or forward")
	}
	if i.ActiveSessions() != 0 {
		t.Errorf("ActiveSessions() = %d, want 0", i.ActiveSessions())
	}
}

func TestShutdownAbortsCollection(t *testing.T) {
	rec := &recorder{}
	i := newTestInterceptor(5*time.Second, rec)

	ctx, cancel := context.WithCancel(context.Background())
	i.Handle(ctx, directMsg("c1", "pending"))
	cancel()

	waitFor(t, time.Second, func() bool { return i.ActiveSessions() == 0 })
	if rec.flushCount() != 0 {
		t.Errorf("flush called on shutdown, want none")
	}
}

func TestRunConsumesFromBus(t *testing.T) {
	rec := &recorder{}
	b := bus.NewMessageBus(10)
	i := NewInterceptor(Options{
		Bus:        b,
		Classifier: classify.NewClassifier([]string{"/"}),
		Window:     50 * time.Millisecond,
		Enabled:    true,
		Forward:    rec.forward,
		Flush:      rec.flush,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go i.Run(ctx)

	b.PublishInbound(directMsg("c1", "via bus"))

	waitFor(t, time.Second, func() bool { return rec.flushCount() == 1 })
	if got := rec.lastFlushed().Merge("\n"); got != "via bus" {
		t.Errorf("merged = %q", got)
	}
}

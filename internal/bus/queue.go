package bus

import (
	"context"
	"log/slog"
	"sync"
)

// Subscriber handles one outbound message for a channel. A returned error
// is logged by the dispatch loop with the conversation's addressing; it is
// never propagated back to the publisher, which has already moved on.
type Subscriber func(OutboundMessage) error

// MessageBus is the in-process hub between channel adapters, the debounce
// interceptor, and reply delivery. Inbound messages flow to a single
// consumer (the interceptor); outbound replies fan out to subscribers
// keyed by channel name.
type MessageBus struct {
	inbound  chan InboundMessage
	outbound chan OutboundMessage
	subs     map[string][]Subscriber
	mu       sync.RWMutex
}

// NewMessageBus creates a MessageBus whose queues buffer up to bufSize
// messages. A bufSize <= 0 uses a default of 100.
func NewMessageBus(bufSize int) *MessageBus {
	if bufSize <= 0 {
		bufSize = 100
	}
	return &MessageBus{
		inbound:  make(chan InboundMessage, bufSize),
		outbound: make(chan OutboundMessage, bufSize),
		subs:     make(map[string][]Subscriber),
	}
}

// PublishInbound queues msg for the inbound consumer.
func (b *MessageBus) PublishInbound(msg InboundMessage) {
	b.inbound <- msg
}

// ConsumeInbound blocks until an inbound message is available or ctx is
// cancelled. A closed bus reports context.Canceled.
func (b *MessageBus) ConsumeInbound(ctx context.Context) (InboundMessage, error) {
	select {
	case msg, ok := <-b.inbound:
		if !ok {
			return InboundMessage{}, context.Canceled
		}
		return msg, nil
	case <-ctx.Done():
		return InboundMessage{}, ctx.Err()
	}
}

// PublishOutbound queues msg for dispatch to subscribers.
func (b *MessageBus) PublishOutbound(msg OutboundMessage) {
	b.outbound <- msg
}

// Subscribe registers fn for outbound messages addressed to the named
// channel. The empty string subscribes to every channel.
func (b *MessageBus) Subscribe(channel string, fn Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[channel] = append(b.subs[channel], fn)
}

// DispatchOutbound reads outbound messages and delivers each to its
// subscribers until ctx is cancelled or the bus is closed. One failing
// subscriber does not stop delivery to the rest.
func (b *MessageBus) DispatchOutbound(ctx context.Context) {
	for {
		select {
		case msg, ok := <-b.outbound:
			if !ok {
				return
			}
			b.dispatch(msg)
		case <-ctx.Done():
			return
		}
	}
}

func (b *MessageBus) dispatch(msg OutboundMessage) {
	b.mu.RLock()
	targets := make([]Subscriber, 0, len(b.subs[msg.Channel])+len(b.subs[""]))
	targets = append(targets, b.subs[msg.Channel]...)
	targets = append(targets, b.subs[""]...)
	b.mu.RUnlock()

	for _, fn := range targets {
		if err := fn(msg); err != nil {
			slog.Error("outbound delivery failed",
				"channel", msg.Channel, "chat", msg.ChatID, "error", err)
		}
	}
}

// Close closes both queues. Publishing after Close panics; it is meant for
// teardown after all producers have stopped.
func (b *MessageBus) Close() {
	close(b.inbound)
	close(b.outbound)
}

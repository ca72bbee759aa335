package bus

import "fmt"

// SegmentKind discriminates the parts of a decomposed message.
type SegmentKind string

const (
	SegmentText  SegmentKind = "text"
	SegmentImage SegmentKind = "image"
	SegmentOther SegmentKind = "other" // stickers, polls, anything we don't interpret
)

// Segment is one ordered part of an inbound message. Channel adapters
// produce these at the boundary; the rest of the system never inspects
// platform-specific message objects.
type Segment struct {
	Kind     SegmentKind
	Text     string // set for SegmentText
	ImageURL string // opaque image locator, set for SegmentImage
}

// Scope says whether a message came from a one-to-one chat or a group.
type Scope string

const (
	ScopeDirect Scope = "direct"
	ScopeGroup  Scope = "group"
)

// InboundMessage represents a message received from any channel.
type InboundMessage struct {
	Channel  string            // source channel name (e.g. "telegram", "cli")
	SenderID string            // sender identifier
	ChatID   string            // chat/conversation identifier
	Content  string            // flattened text, fallback when Segments is empty
	Segments []Segment         // ordered decomposition of the message
	Scope    Scope             // direct or group
	Metadata map[string]string // arbitrary metadata
}

// ConversationKey returns the routing key identifying one conversation,
// "channel:chatID".
func (m InboundMessage) ConversationKey() string {
	return fmt.Sprintf("%s:%s", m.Channel, m.ChatID)
}

// OutboundMessage represents a message to be sent to a channel.
type OutboundMessage struct {
	Channel  string            // target channel
	ChatID   string            // target chat
	Content  string            // text content
	Type     string            // "text" or "error"
	Metadata map[string]string // arbitrary metadata
}

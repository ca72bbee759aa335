package classify

import (
	"strings"

	"github.com/aliveriver/turnbot/internal/bus"
)

// ClassifiedMessage is the normalized view of one inbound message.
// Immutable once produced.
type ClassifiedMessage struct {
	Text      string   // concatenated text segments, trimmed
	IsImage   bool     // at least one image segment was present
	ImageRefs []string // opaque image locators, in arrival order
	IsCommand bool     // Text starts with a configured command prefix
}

// Empty reports whether the message carries neither text nor an image.
// Empty messages neither start nor extend a collection round.
func (c ClassifiedMessage) Empty() bool {
	return c.Text == "" && !c.IsImage
}

// Classifier extracts text and image references from inbound messages and
// recognizes command-style text. It is stateless apart from the configured
// prefix set.
type Classifier struct {
	prefixes []string
}

// NewClassifier creates a Classifier with the given command prefixes.
// An empty list means no text is ever classified as a command.
func NewClassifier(prefixes []string) *Classifier {
	return &Classifier{prefixes: prefixes}
}

// Classify decomposes msg into a ClassifiedMessage. Text segments are
// concatenated in order; when the segments yield no text after trimming,
// the flattened Content string is used as a fallback. Image segments
// contribute their locators regardless of whether text is also present.
func (c *Classifier) Classify(msg bus.InboundMessage) ClassifiedMessage {
	var sb strings.Builder
	var refs []string
	hasImage := false

	for _, seg := range msg.Segments {
		switch seg.Kind {
		case bus.SegmentText:
			sb.WriteString(seg.Text)
		case bus.SegmentImage:
			hasImage = true
			if seg.ImageURL != "" {
				refs = append(refs, seg.ImageURL)
			}
		}
	}

	text := strings.TrimSpace(sb.String())
	if text == "" {
		text = strings.TrimSpace(msg.Content)
	}

	return ClassifiedMessage{
		Text:      text,
		IsImage:   hasImage,
		ImageRefs: refs,
		IsCommand: text != "" && c.IsCommand(text),
	}
}

// IsCommand reports whether text, after trimming surrounding whitespace,
// is non-empty and starts with one of the configured command prefixes.
func (c *Classifier) IsCommand(text string) bool {
	text = strings.TrimSpace(text)
	if text == "" {
		return false
	}
	for _, prefix := range c.prefixes {
		if prefix != "" && strings.HasPrefix(text, prefix) {
			return true
		}
	}
	return false
}

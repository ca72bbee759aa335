package debounce

import (
	"strings"
	"time"

	"github.com/aliveriver/turnbot/internal/classify"
)

// ImagePlaceholder stands in for an image-only message in text position,
// so the merged prompt preserves where images arrived.
const ImagePlaceholder = "[image]"

// Buffer collects the fragments of one aggregation round. It is owned by
// exactly one session and needs no locking.
type Buffer struct {
	fragments      []string
	imageRefs      []string
	startedAt      time.Time
	lastActivityAt time.Time
}

// NewBuffer creates an empty Buffer.
func NewBuffer() *Buffer {
	return &Buffer{}
}

// Append accepts a classified message into the buffer. Commands and empty
// messages are rejected without mutation. An accepted message contributes
// exactly one fragment: its text, or the image placeholder when it carries
// only an image.
func (b *Buffer) Append(cm classify.ClassifiedMessage) bool {
	if cm.IsCommand || cm.Empty() {
		return false
	}

	now := time.Now()
	if b.startedAt.IsZero() {
		b.startedAt = now
	}
	b.lastActivityAt = now

	if cm.Text != "" {
		b.fragments = append(b.fragments, cm.Text)
	} else {
		b.fragments = append(b.fragments, ImagePlaceholder)
	}
	b.imageRefs = append(b.imageRefs, cm.ImageRefs...)
	return true
}

// Merge joins the fragments with sep and trims surrounding whitespace.
// An empty buffer merges to the empty string.
func (b *Buffer) Merge(sep string) string {
	return strings.TrimSpace(strings.Join(b.fragments, sep))
}

// Len returns the number of accepted fragments.
func (b *Buffer) Len() int { return len(b.fragments) }

// Fragments returns a copy of the accepted fragments in arrival order.
func (b *Buffer) Fragments() []string {
	out := make([]string, len(b.fragments))
	copy(out, b.fragments)
	return out
}

// ImageRefs returns a copy of the accumulated image locators in arrival order.
func (b *Buffer) ImageRefs() []string {
	out := make([]string, len(b.imageRefs))
	copy(out, b.imageRefs)
	return out
}

// StartedAt is the time of the first accepted message (zero if none).
func (b *Buffer) StartedAt() time.Time { return b.startedAt }

// LastActivityAt is the time of the most recent accepted message.
func (b *Buffer) LastActivityAt() time.Time { return b.lastActivityAt }

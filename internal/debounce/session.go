package debounce

import (
	"github.com/aliveriver/turnbot/internal/bus"
	"github.com/aliveriver/turnbot/internal/classify"
)

// OutcomeKind tags the terminal result of one aggregation round.
type OutcomeKind int

const (
	// OutcomeFlush: the rolling timeout expired with collected content.
	OutcomeFlush OutcomeKind = iota
	// OutcomeInterrupt: a command message ended collection early.
	OutcomeInterrupt
	// OutcomeAbort: the timeout expired with nothing collected, or the
	// process is shutting down. No reply, no provider call.
	OutcomeAbort
	// OutcomePassThrough: the message was never buffered (commands,
	// group scope, interception disabled).
	OutcomePassThrough
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeFlush:
		return "flush"
	case OutcomeInterrupt:
		return "interrupt"
	case OutcomeAbort:
		return "abort"
	case OutcomePassThrough:
		return "pass-through"
	default:
		return "unknown"
	}
}

// Outcome is the result returned by a session's wait loop. Timeout is a
// normal outcome here, not an error.
type Outcome struct {
	Kind    OutcomeKind
	Buffer  *Buffer
	Command *bus.InboundMessage // set for OutcomeInterrupt: released for normal handling
}

// delivery pairs an inbound message with its classification so the session
// loop never classifies twice.
type delivery struct {
	msg bus.InboundMessage
	cm  classify.ClassifiedMessage
}

// session owns one aggregation round for one conversation. The inbox is
// fed by the Interceptor under its registry lock; done is guarded by the
// same lock so delivery and teardown cannot race.
type session struct {
	conversation string
	origin       bus.InboundMessage // the message that started the round
	inbox        chan delivery
	buf          *Buffer
	done         bool
}

// inboxCapacity bounds how many messages can queue between session wakeups.
// The session drains its inbox promptly, so this only matters under bursts.
const inboxCapacity = 64

func newSession(origin bus.InboundMessage) *session {
	return &session{
		conversation: origin.ConversationKey(),
		origin:       origin,
		inbox:        make(chan delivery, inboxCapacity),
		buf:          NewBuffer(),
	}
}

package engine

// LinkKind tags what a BlockingLink does when released (spec.md §3,
// "Blocking Link").
type LinkKind int

const (
	// WaitingJob: releasing this link advances the job's state machine
	// one step. Used on an Event's blocking list.
	WaitingJob LinkKind = iota

	// WaitingMethodReply: releasing this link completes a deferred
	// control-surface request with success or a typed failure.
	WaitingMethodReply

	// WaitingEvent: releasing this link decrements the blockers counter
	// of an Event. Used on a Job's blocking list (the reverse
	// direction — the job is the blocker, the event is the waiter).
	WaitingEvent
)

func (k LinkKind) String() string {
	switch k {
	case WaitingJob:
		return "WaitingJob"
	case WaitingMethodReply:
		return "WaitingMethodReply"
	case WaitingEvent:
		return "WaitingEvent"
	default:
		return "Unknown"
	}
}

// ReplyKind disambiguates what a WaitingMethodReply link is replying to
// (spec.md §3).
type ReplyKind int

const (
	ReplyStart ReplyKind = iota
	ReplyStop
	ReplyRestart
	ReplyEmitEvent
)

// MethodReply is the minimal shape a control-surface transport needs to
// complete a deferred request. The transport itself is out of scope
// (spec.md §1); this is the contract it must satisfy.
type MethodReply interface {
	// Succeed completes the request successfully, with path carrying the
	// instance path for Start/Restart (empty otherwise).
	Succeed(path string)
	// Fail completes the request with a typed control-surface error.
	Fail(tag ErrorTag, cause error)
}

// BlockingLink is a tagged pointer from a waiter to the thing it blocks
// on, expressed through handles rather than raw references (see
// handle.go). Exactly one list owns a given Link at a time; release is
// synchronous and a Link is destroyed — never reused — once released.
type BlockingLink struct {
	kind LinkKind

	// WaitingJob
	job JobHandle

	// WaitingMethodReply
	reply     MethodReply
	replyKind ReplyKind

	// WaitingEvent
	event EventHandle

	released bool
}

// NewJobLink builds a link that, when released, advances job one step.
func NewJobLink(job JobHandle) *BlockingLink {
	return &BlockingLink{kind: WaitingJob, job: job}
}

// NewReplyLink builds a link that completes a deferred control request.
func NewReplyLink(reply MethodReply, kind ReplyKind) *BlockingLink {
	return &BlockingLink{kind: WaitingMethodReply, reply: reply, replyKind: kind}
}

// NewEventLink builds a link that, when released, decrements event's
// blockers counter by one. The caller is responsible for having already
// incremented event.blockers (see Expression.Events).
func NewEventLink(event EventHandle) *BlockingLink {
	return &BlockingLink{kind: WaitingEvent, event: event}
}

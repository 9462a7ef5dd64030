package engine

import "github.com/pkg/errors"

// NewEvent appends a new Event at the tail of the queue in Pending with
// zero blockers (spec.md §4.2, "new"). The caller is expected to run Poll
// afterwards — in cmd/initd's main loop Poll runs after every wake-up (a
// signal, a control request, or the periodic tick) (spec.md §5); here it's
// explicit so tests can inspect intermediate state.
func (e *Engine) NewEvent(name string, env Env, session string) *Event {
	ev := &Event{
		handle:  e.allocEventHandle(),
		Name:    name,
		Env:     env.Clone(),
		Session: session,
	}

	e.eventByID[ev.handle] = ev
	e.events = append(e.events, ev)

	e.Log.V(1).Info("++ event_new", "name", ev.Name, "session", ev.Session)

	return ev
}

// Block increments event's blockers count (spec.md §4.2).
func (e *Engine) Block(event *Event) {
	event.blockers++
}

// Unblock decrements event's blockers count. Precondition: blockers > 0
// (spec.md §3); violating it is an engine-internal invariant failure.
func (e *Engine) Unblock(event *Event) error {
	if event.blockers <= 0 {
		return invariantf("event_unblock: %s has blockers=%d", event.Name, event.blockers)
	}

	event.blockers--

	return nil
}

// Poll drains the queue to quiescence: every event traverses
// Pending -> Handling -> Finished in the fewest passes possible, per the
// fall-through discipline of spec.md §4.2. It returns only once every
// surviving event is Handling with blockers > 0, or the queue is empty.
func (e *Engine) Poll() error {
	for {
		progressed := false

		snapshot := make([]*Event, len(e.events))
		copy(snapshot, e.events)

		for _, ev := range snapshot {
			if _, stillQueued := e.eventByID[ev.handle]; !stillQueued {
				// Already finalized and detached earlier in this very
				// pass (can happen if two links in another event's
				// blocking list both reference state that finalizes
				// this one — defensive, not expected in practice).
				continue
			}

			if ev.progress == Pending {
				ev.progress = Handling
				e.dispatchToJobs(ev)
				progressed = true
			}

			if ev.progress == Handling {
				if ev.blockers > 0 {
					continue
				}

				ev.progress = Finished
				progressed = true
			}

			if ev.progress == Finished {
				if err := e.finalize(ev); err != nil {
					return err
				}

				progressed = true
			}
		}

		if !progressed {
			return nil
		}
	}
}

// finalize releases every BlockingLink an event carries, emits the
// synthetic "<name>/failed" follow-on if warranted, and detaches the
// event from the queue (spec.md §4.2, "finalize").
func (e *Engine) finalize(ev *Event) error {
	for _, link := range ev.blocking {
		if link.released {
			return invariantf("blocking link for event %s released twice", ev.Name)
		}

		link.released = true

		switch link.kind {
		case WaitingJob:
			j, ok := e.lookupJob(link.job)
			if !ok {
				// The job was destroyed after emitting this event
				// (possible if it hit Waiting and was torn down by
				// another path) — nothing left to advance.
				continue
			}

			j.Blocker = invalidHandle

			next := e.nextState(j)
			if err := e.changeState(j, next); err != nil {
				return err
			}

		case WaitingMethodReply:
			if link.replyKind != ReplyEmitEvent {
				return invariantf("unexpected reply kind %v on event blocking list", link.replyKind)
			}

			if ev.failed {
				link.reply.Fail(ErrEventFailed, errors.Errorf("event %q failed", ev.Name))
			} else {
				link.reply.Succeed("")
			}

		default:
			return invariantf("unexpected link kind %v on event blocking list", link.kind)
		}
	}

	ev.blocking = nil

	if ev.failed && !isFailedEventName(ev.Name) {
		e.NewEvent(ev.Name+"/failed", ev.Env.Clone(), ev.Session)
	}

	e.detach(ev)

	return nil
}

func (e *Engine) detach(ev *Event) {
	delete(e.eventByID, ev.handle)

	for i, q := range e.events {
		if q == ev {
			e.events = append(e.events[:i], e.events[i+1:]...)
			break
		}
	}
}

// Events returns a snapshot of the queue in insertion order.
func (e *Engine) Events() []*Event {
	out := make([]*Event, len(e.events))
	copy(out, e.events)

	return out
}

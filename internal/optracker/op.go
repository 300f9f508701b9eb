package optracker

import (
	"sync"
	"sync/atomic"
	"time"
)

// Request is the opaque payload a tracked op wraps.
//
// The transport owns the concrete type. The tracker only needs the arrival
// time, a description for diagnostics, and a hook that drops the payload's
// data once the op retires.
type Request interface {
	ReceivedTime() time.Time
	String() string
	// ClearData is called exactly once, when the op is unregistered.
	ClearData()
}

// Annotator lets a richer op type extend the generic op.
//
// StateString is the status reported when no explicit status was set.
// DumpExtra adds type-specific fields to the op's dump; it is called
// inside the op's object section.
type Annotator interface {
	StateString() string
	DumpExtra(f Formatter)
}

// Event is one timestamped entry in an op's event log.
type Event struct {
	Time  time.Time
	Label string
}

// registry is the capability an op uses to report back to its tracker.
// It is satisfied by *Tracker only; the op never sees tracker internals.
type registry interface {
	MarkEvent(op *Op, label string)
	Unregister(op *Op)
}

// opState is guarded by the owning Tracker's lock.
type opState int

const (
	opNew opState = iota
	opInFlight
	opRetired
)

// Op is the tracker's record of one request.
//
// Thread-safety: event log, status and annotator are guarded by the op's
// own mutex. Fields marked "tracker lock" are only touched by the Tracker
// while holding its mutex.
type Op struct {
	request  Request
	received time.Time
	registry registry
	seq      atomic.Uint64

	mu        sync.Mutex
	events    []Event
	current   string
	annotator Annotator

	// tracker lock
	state          opState
	warnMultiplier int64
	completed      time.Time
}

// Seq returns the sequence number assigned at registration (0 before).
func (o *Op) Seq() uint64 {
	return o.seq.Load()
}

// ReceivedTime returns the arrival time taken from the request.
func (o *Op) ReceivedTime() time.Time {
	return o.received
}

// Request returns the wrapped payload.
func (o *Op) Request() Request {
	return o.request
}

// Description returns the request's diagnostic string.
func (o *Op) Description() string {
	return o.request.String()
}

// SetAnnotator installs a type-specific extension. Call during setup,
// before the op is shared.
func (o *Op) SetAnnotator(a Annotator) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.annotator = a
}

// MarkEvent appends an event with the current time and reports it to the
// tracker for auditing.
func (o *Op) MarkEvent(label string) {
	o.registry.MarkEvent(o, label)
}

// Release retires the op. See Tracker.Unregister.
func (o *Op) Release() {
	o.registry.Unregister(o)
}

// SetCurrent replaces the human-readable status.
func (o *Op) SetCurrent(status string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.current = status
}

// Current returns the most recent status string, or the annotator's state
// string when no status was set.
func (o *Op) Current() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.statusLocked()
}

func (o *Op) statusLocked() string {
	if o.current != "" {
		return o.current
	}
	if o.annotator != nil {
		return o.annotator.StateString()
	}
	return ""
}

// Events returns a copy of the event log.
func (o *Op) Events() []Event {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Event, len(o.events))
	copy(out, o.events)
	return out
}

// appendEvent records an event and returns the timestamp actually stored.
// Timestamps are clamped so the log never goes backwards and never
// precedes the arrival time.
func (o *Op) appendEvent(at time.Time, label string) time.Time {
	o.mu.Lock()
	defer o.mu.Unlock()
	if at.Before(o.received) {
		at = o.received
	}
	if n := len(o.events); n > 0 && at.Before(o.events[n-1].Time) {
		at = o.events[n-1].Time
	}
	o.events = append(o.events, Event{Time: at, Label: label})
	return at
}

// durationAt returns how long the op was (or has been) in flight.
// Caller holds the tracker lock.
func (o *Op) durationAt(now time.Time) time.Duration {
	if !o.completed.IsZero() {
		return o.completed.Sub(o.received)
	}
	return now.Sub(o.received)
}

// Dump writes the op's fields and event log into the current object
// section of f. Caller holds the tracker lock.
func (o *Op) Dump(now time.Time, f Formatter) {
	o.mu.Lock()
	defer o.mu.Unlock()

	f.DumpString("description", o.request.String())
	f.DumpString("received_at", FormatTime(o.received))
	f.DumpString("age", FormatSeconds(now.Sub(o.received)))
	f.DumpString("duration", FormatSeconds(o.durationAt(now)))
	f.DumpInt("seq", int64(o.Seq()))
	f.DumpString("current", o.statusLocked())
	if o.annotator != nil {
		o.annotator.DumpExtra(f)
	}

	f.OpenArraySection("events")
	for _, ev := range o.events {
		f.OpenObjectSection("event")
		f.DumpString("time", FormatTime(ev.Time))
		f.DumpString("event", ev.Label)
		f.CloseSection()
	}
	f.CloseSection()
}

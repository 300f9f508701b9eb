// Package osd layers the OSD request state machine on top of a tracked op.
//
// An OpRequest adds two things to optracker.Op:
//   - rmw capability flags (read, write, class read/write, pg op) that are
//     set once during setup and drive routing decisions;
//   - phase bookkeeping: every phase ever hit, and the latest one.
//
// Phase helpers record an event, update the status string and set the
// phase bits, in that order.
package osd

import (
	"fmt"
	"sync/atomic"

	"github.com/gammacoder/ceph/internal/optracker"
)

// OpRequest is a tracked OSD op.
type OpRequest struct {
	*optracker.Op

	reqID  string
	rmw    atomic.Uint32
	hit    atomic.Uint32
	latest atomic.Uint32
}

var _ optracker.Annotator = (*OpRequest)(nil)

// New wraps req, registers it with t and returns the op. If req implements
// RMWSource its flags are copied in. gen may be nil, in which case the op
// has no request id.
func New(t *optracker.Tracker, req optracker.Request, gen IDGenerator) *OpRequest {
	r := &OpRequest{Op: t.NewOp(req)}
	if gen != nil {
		r.reqID = gen.Generate()
	}
	if src, ok := req.(RMWSource); ok {
		r.rmw.Store(uint32(src.RMWFlags()))
	}
	r.SetAnnotator(r)
	t.Register(r.Op)
	return r
}

// RequestID returns the id assigned at construction.
func (r *OpRequest) RequestID() string {
	return r.reqID
}

// RMW returns the current capability flags.
func (r *OpRequest) RMW() RMWFlags {
	return RMWFlags(r.rmw.Load())
}

func (r *OpRequest) checkRMW(flag RMWFlags) bool {
	return r.RMW()&flag != 0
}

func (r *OpRequest) setRMW(flag RMWFlags) {
	r.rmw.Or(uint32(flag))
}

func (r *OpRequest) SetRead()       { r.setRMW(RMWRead) }
func (r *OpRequest) SetWrite()      { r.setRMW(RMWWrite) }
func (r *OpRequest) SetClassRead()  { r.setRMW(RMWClassRead) }
func (r *OpRequest) SetClassWrite() { r.setRMW(RMWClassWrite) }
func (r *OpRequest) SetPGOp()       { r.setRMW(RMWPGOp) }

func (r *OpRequest) NeedReadCap() bool       { return r.checkRMW(RMWRead) }
func (r *OpRequest) NeedWriteCap() bool      { return r.checkRMW(RMWWrite) }
func (r *OpRequest) NeedClassReadCap() bool  { return r.checkRMW(RMWClassRead) }
func (r *OpRequest) NeedClassWriteCap() bool { return r.checkRMW(RMWClassWrite) }
func (r *OpRequest) IncludesPGOp() bool      { return r.checkRMW(RMWPGOp) }

// MayRead reports whether the op reads data directly or through a class
// method.
func (r *OpRequest) MayRead() bool { return r.NeedReadCap() || r.NeedClassReadCap() }

// MayWrite reports whether the op writes data directly or through a class
// method.
func (r *OpRequest) MayWrite() bool { return r.NeedWriteCap() || r.NeedClassWriteCap() }

// Been reports whether the op has ever hit p.
func (r *OpRequest) Been(p Phase) bool { return Phase(r.hit.Load())&p != 0 }

// Currently reports whether p is the op's latest phase.
func (r *OpRequest) Currently(p Phase) bool { return Phase(r.latest.Load())&p != 0 }

// LatestPhase returns the latest phase, or 0 before any was marked.
func (r *OpRequest) LatestPhase() Phase { return Phase(r.latest.Load()) }

// HitPhases returns the union of every phase marked so far.
func (r *OpRequest) HitPhases() Phase { return Phase(r.hit.Load()) }

func (r *OpRequest) BeenQueuedForPG() bool      { return r.Been(PhaseQueuedForPG) }
func (r *OpRequest) BeenReachedPG() bool        { return r.Been(PhaseReachedPG) }
func (r *OpRequest) BeenDelayed() bool          { return r.Been(PhaseDelayed) }
func (r *OpRequest) BeenStarted() bool          { return r.Been(PhaseStarted) }
func (r *OpRequest) BeenSubOpSent() bool        { return r.Been(PhaseSubOpSent) }
func (r *OpRequest) BeenCommitSent() bool       { return r.Been(PhaseCommitSent) }
func (r *OpRequest) CurrentlyQueuedForPG() bool { return r.Currently(PhaseQueuedForPG) }
func (r *OpRequest) CurrentlyReachedPG() bool   { return r.Currently(PhaseReachedPG) }
func (r *OpRequest) CurrentlyDelayed() bool     { return r.Currently(PhaseDelayed) }
func (r *OpRequest) CurrentlyStarted() bool     { return r.Currently(PhaseStarted) }
func (r *OpRequest) CurrentlySubOpSent() bool   { return r.Currently(PhaseSubOpSent) }
func (r *OpRequest) CurrentlyCommitSent() bool  { return r.Currently(PhaseCommitSent) }

// StateString names the latest phase. Implements optracker.Annotator.
func (r *OpRequest) StateString() string {
	return r.LatestPhase().StateString()
}

// DumpExtra adds request id, rmw flags and phase to the op's dump.
// Implements optracker.Annotator.
func (r *OpRequest) DumpExtra(f optracker.Formatter) {
	if r.reqID != "" {
		f.DumpString("request_id", r.reqID)
	}
	f.DumpString("rmw_flags", r.RMW().String())
	f.DumpString("flag_point", r.StateString())
}

func (r *OpRequest) markPhase(p Phase, event, current string) {
	r.MarkEvent(event)
	r.SetCurrent(current)
	r.hit.Or(uint32(p))
	r.latest.Store(uint32(p))
}

func (r *OpRequest) MarkQueuedForPG() {
	r.markPhase(PhaseQueuedForPG, "queued_for_pg", "queued for pg")
}

func (r *OpRequest) MarkReachedPG() {
	r.markPhase(PhaseReachedPG, "reached_pg", "reached pg")
}

// MarkDelayed records why the op is waiting; reason is both the event
// label and the new status.
func (r *OpRequest) MarkDelayed(reason string) {
	r.markPhase(PhaseDelayed, reason, reason)
}

func (r *OpRequest) MarkStarted() {
	r.markPhase(PhaseStarted, "started", "started")
}

// MarkSubOpSent records sub ops going out; reason is both the event label
// and the new status.
func (r *OpRequest) MarkSubOpSent(reason string) {
	r.markPhase(PhaseSubOpSent, reason, reason)
}

func (r *OpRequest) MarkCommitSent() {
	r.markPhase(PhaseCommitSent, "commit_sent", "commit sent")
}

// MarkPhase dispatches to the named phase helper. reason is used by the
// phases that take one and defaults to the phase name. p must be exactly
// one phase; anything else panics, since the op would silently miss a
// transition.
func (r *OpRequest) MarkPhase(p Phase, reason string) {
	if reason == "" {
		reason = p.Name()
	}
	switch p {
	case PhaseQueuedForPG:
		r.MarkQueuedForPG()
	case PhaseReachedPG:
		r.MarkReachedPG()
	case PhaseDelayed:
		r.MarkDelayed(reason)
	case PhaseStarted:
		r.MarkStarted()
	case PhaseSubOpSent:
		r.MarkSubOpSent(reason)
	case PhaseCommitSent:
		r.MarkCommitSent()
	default:
		panic(fmt.Sprintf("osd: MarkPhase: invalid phase %#x", uint8(p)))
	}
}

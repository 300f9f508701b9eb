package osd

import "fmt"

// Phase is a lifecycle milestone of an OSD op.
//
// Phases are recorded, not enforced: callers may mark any phase at any
// time. An op remembers every phase it has hit and which one is latest.
type Phase uint8

const (
	PhaseQueuedForPG Phase = 1 << iota
	PhaseReachedPG
	PhaseDelayed
	PhaseStarted
	PhaseSubOpSent
	PhaseCommitSent
)

// Name is the phase's identifier as used in scenarios and dumps.
func (p Phase) Name() string {
	switch p {
	case PhaseQueuedForPG:
		return "queued_for_pg"
	case PhaseReachedPG:
		return "reached_pg"
	case PhaseDelayed:
		return "delayed"
	case PhaseStarted:
		return "started"
	case PhaseSubOpSent:
		return "sub_op_sent"
	case PhaseCommitSent:
		return "commit_sent"
	}
	return "none"
}

// StateString describes an op whose latest phase is p.
func (p Phase) StateString() string {
	switch p {
	case PhaseQueuedForPG:
		return "queued for pg"
	case PhaseReachedPG:
		return "reached pg"
	case PhaseDelayed:
		return "delayed"
	case PhaseStarted:
		return "started"
	case PhaseSubOpSent:
		return "waiting for sub ops"
	case PhaseCommitSent:
		return "commit sent; apply or cleanup"
	}
	return "no flag points reached"
}

// ParsePhase maps a phase name back to its Phase.
func ParsePhase(name string) (Phase, error) {
	for p := PhaseQueuedForPG; p <= PhaseCommitSent; p <<= 1 {
		if p.Name() == name {
			return p, nil
		}
	}
	return 0, fmt.Errorf("unknown phase %q", name)
}

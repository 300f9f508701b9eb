package archive

import (
	"context"
	"fmt"

	"github.com/gammacoder/ceph/internal/format"
	"github.com/gammacoder/ceph/internal/optracker"
)

// Recorder snapshots a tracker into a Store.
type Recorder struct {
	store   *Store
	tracker *optracker.Tracker
}

// NewRecorder returns a Recorder writing t's dumps to s.
func NewRecorder(s *Store, t *optracker.Tracker) *Recorder {
	return &Recorder{store: s, tracker: t}
}

// Snapshot renders the given dump of the tracker as canonical JSON and
// stores it.
func (r *Recorder) Snapshot(ctx context.Context, kind Kind) (int64, error) {
	f := format.NewJSONFormatter()
	switch kind {
	case KindInFlight:
		r.tracker.DumpInFlight(f)
	case KindHistory:
		r.tracker.DumpHistory(f)
	default:
		return 0, fmt.Errorf("snapshot: unknown dump kind %q", kind)
	}
	doc, err := f.Bytes()
	if err != nil {
		return 0, fmt.Errorf("snapshot %s: %w", kind, err)
	}
	return r.store.SaveDump(ctx, kind, r.tracker.Now(), doc)
}

// Warnings stores the lines of one slow-request check taken now.
func (r *Recorder) Warnings(ctx context.Context, lines []string) (int64, error) {
	return r.store.SaveWarnings(ctx, r.tracker.Now(), lines)
}

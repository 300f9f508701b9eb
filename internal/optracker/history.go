package optracker

import (
	"time"

	"github.com/google/btree"
)

// indexKey orders one of the two history indexes. seq breaks ties so that
// keys are unique and eviction order is deterministic.
type indexKey struct {
	key int64
	seq uint64
}

func lessIndexKey(a, b indexKey) bool {
	if a.key != b.key {
		return a.key < b.key
	}
	return a.seq < b.seq
}

// historyEntry is the single owned record per retained op; both indexes
// point back to it by sequence number.
type historyEntry struct {
	op       *Op
	arrived  indexKey
	duration indexKey
}

const historyDegree = 8

// History retains recently retired ops.
//
// Entries are owned by one map keyed by sequence number. Two ordered
// indexes (arrival time, duration) reference the same keys, so eviction
// is an index operation and the two orderings cannot diverge.
//
// Retention runs in two passes. The TTL pass drops the oldest arrivals
// beyond HistoryDuration. The capacity pass then drops the shortest
// durations until at most HistorySize remain, which keeps the slowest
// (most diagnostically interesting) ops even when faster ones are newer.
//
// Thread-safety: History is not self-locking. The owning Tracker guards
// every call with its mutex.
type History struct {
	settings Settings
	metrics  *Metrics

	entries    map[uint64]*historyEntry
	arrived    *btree.BTreeG[indexKey]
	byDuration *btree.BTreeG[indexKey]
	shutdown   bool
}

// NewHistory creates an empty history reading bounds from settings.
func NewHistory(settings Settings, metrics *Metrics) *History {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &History{
		settings:   settings,
		metrics:    metrics,
		entries:    make(map[uint64]*historyEntry),
		arrived:    btree.NewG(historyDegree, lessIndexKey),
		byDuration: btree.NewG(historyDegree, lessIndexKey),
	}
}

// Insert retains op and then runs Cleanup. It is a no-op after Shutdown.
// op must carry a sequence number and a completion time.
func (h *History) Insert(now time.Time, op *Op) {
	if h.shutdown {
		return
	}
	seq := op.Seq()
	if old, ok := h.entries[seq]; ok {
		h.remove(old)
	}
	e := &historyEntry{
		op:       op,
		arrived:  indexKey{key: op.received.UnixNano(), seq: seq},
		duration: indexKey{key: int64(op.durationAt(now)), seq: seq},
	}
	h.entries[seq] = e
	h.arrived.ReplaceOrInsert(e.arrived)
	h.byDuration.ReplaceOrInsert(e.duration)
	h.Cleanup(now)
}

// Cleanup applies the TTL pass and then the capacity pass.
func (h *History) Cleanup(now time.Time) {
	maxAge := h.settings.HistoryDuration()
	for {
		oldest, ok := h.arrived.Min()
		if !ok || now.Sub(time.Unix(0, oldest.key)) <= maxAge {
			break
		}
		h.remove(h.entries[oldest.seq])
		h.metrics.evictions.WithLabelValues(EvictTTL).Inc()
	}

	maxSize := h.settings.HistorySize()
	if maxSize < 0 {
		maxSize = 0
	}
	for h.byDuration.Len() > maxSize {
		fastest, _ := h.byDuration.Min()
		h.remove(h.entries[fastest.seq])
		h.metrics.evictions.WithLabelValues(EvictCapacity).Inc()
	}
	h.metrics.historySize.Set(float64(len(h.entries)))
}

func (h *History) remove(e *historyEntry) {
	h.arrived.Delete(e.arrived)
	h.byDuration.Delete(e.duration)
	delete(h.entries, e.op.Seq())
}

// Len returns the number of retained ops.
func (h *History) Len() int {
	return len(h.entries)
}

// Ops returns the retained ops in arrival order.
func (h *History) Ops() []*Op {
	out := make([]*Op, 0, len(h.entries))
	h.arrived.Ascend(func(k indexKey) bool {
		out = append(out, h.entries[k.seq].op)
		return true
	})
	return out
}

// Dump runs Cleanup and writes the history in arrival order.
func (h *History) Dump(now time.Time, f Formatter) {
	h.Cleanup(now)
	f.OpenObjectSection("op_history")
	f.DumpInt("num_to_keep", int64(h.settings.HistorySize()))
	f.DumpString("duration_to_keep", FormatSeconds(h.settings.HistoryDuration()))
	f.OpenArraySection("ops")
	h.arrived.Ascend(func(k indexKey) bool {
		f.OpenObjectSection("op")
		h.entries[k.seq].op.Dump(now, f)
		f.CloseSection()
		return true
	})
	f.CloseSection()
	f.CloseSection()
}

// Shutdown drops every retained op and rejects future inserts.
// Calling it again is harmless.
func (h *History) Shutdown() {
	if n := len(h.entries); n > 0 {
		h.metrics.evictions.WithLabelValues(EvictShutdown).Add(float64(n))
	}
	h.arrived.Clear(false)
	h.byDuration.Clear(false)
	h.entries = make(map[uint64]*historyEntry)
	h.shutdown = true
	h.metrics.historySize.Set(0)
}

// IsShutdown reports whether Shutdown has been called.
func (h *History) IsShutdown() bool {
	return h.shutdown
}

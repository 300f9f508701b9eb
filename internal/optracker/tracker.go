package optracker

import (
	"container/list"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Tracker is the registry of in-flight ops and owner of the History.
//
// Thread-safety model:
//   - Every method is safe for concurrent use.
//   - One mutex guards the in-flight set, the sequence counter, the
//     shutdown flag and all History mutations.
//   - Each Op's event log has its own lock; lock order is Tracker then Op.
type Tracker struct {
	settings Settings
	clock    Clock
	logger   *slog.Logger
	metrics  *Metrics

	mu       sync.Mutex
	counter  *Counter
	inFlight *list.List // of *Op, arrival order
	index    map[uint64]*list.Element
	history  *History
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock sets the wall clock. Default: SystemClock().
func WithClock(c Clock) Option {
	return func(t *Tracker) {
		t.clock = c
	}
}

// WithLogger sets the structured logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(t *Tracker) {
		t.logger = l
	}
}

// WithMetrics sets the Prometheus collectors. Default: unregistered ones.
func WithMetrics(m *Metrics) Option {
	return func(t *Tracker) {
		t.metrics = m
	}
}

// WithCounter sets the sequence counter, e.g. to resume numbering.
func WithCounter(c *Counter) Option {
	return func(t *Tracker) {
		t.counter = c
	}
}

// New creates a Tracker reading its tunables from settings.
func New(settings Settings, opts ...Option) *Tracker {
	t := &Tracker{
		settings: settings,
		clock:    SystemClock(),
		logger:   slog.Default(),
		counter:  NewCounter(),
		inFlight: list.New(),
		index:    make(map[uint64]*list.Element),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.metrics == nil {
		t.metrics = NewMetrics(nil)
	}
	t.history = NewHistory(settings, t.metrics)
	return t
}

// Now returns the tracker's notion of the current time.
func (t *Tracker) Now() time.Time {
	return t.clock.Now()
}

// NewOp wraps req without registering it.
func (t *Tracker) NewOp(req Request) *Op {
	return &Op{
		request:        req,
		received:       req.ReceivedTime(),
		registry:       t,
		warnMultiplier: 1,
	}
}

// Track wraps req and registers it.
func (t *Tracker) Track(req Request) *Op {
	op := t.NewOp(req)
	t.Register(op)
	return op
}

// Register assigns op the next sequence number and appends it to the
// in-flight set. Registering the same op twice, or an op built by another
// tracker, panics.
func (t *Tracker) Register(op *Op) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if op.registry != t {
		err := newForeignTrackerError(op.Seq())
		t.logger.Error("op lifecycle violation", "error", err)
		panic(err)
	}
	if op.state != opNew {
		err := newAlreadyRegisteredError(op.Seq())
		t.logger.Error("op lifecycle violation", "error", err)
		panic(err)
	}

	op.seq.Store(t.counter.Next())
	op.state = opInFlight
	t.index[op.Seq()] = t.inFlight.PushBack(op)
	t.metrics.inFlight.Set(float64(t.inFlight.Len()))
}

// Unregister retires op.
//
// Order of effects:
//  1. a "done" event is recorded and op leaves the in-flight set;
//  2. the request's ClearData hook runs, exactly once, outside the lock;
//  3. op enters the History, unless the tracker was shut down.
//
// Unregistering an op that is not currently in flight (never registered,
// already retired, or owned by another tracker) panics with a
// *LifecycleError.
func (t *Tracker) Unregister(op *Op) {
	t.mu.Lock()
	elem, ok := t.index[op.Seq()]
	if !ok || op.state != opInFlight || elem.Value.(*Op) != op {
		t.mu.Unlock()
		err := newNotInFlightError(op.Seq())
		t.logger.Error("op lifecycle violation", "error", err)
		panic(err)
	}

	now := t.clock.Now()
	at := op.appendEvent(now, "done")
	t.audit(op, "done", at)
	t.inFlight.Remove(elem)
	delete(t.index, op.Seq())
	op.state = opRetired
	op.completed = at
	t.metrics.inFlight.Set(float64(t.inFlight.Len()))
	t.mu.Unlock()

	op.request.ClearData()

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.history.IsShutdown() {
		t.logger.Debug("tracker shut down, discarding retired op", "seq", op.Seq())
		return
	}
	t.history.Insert(t.clock.Now(), op)
}

// MarkEvent appends (now, label) to op's event log and emits an audit line.
// The append holds only the op's lock; the audit holds only the tracker's.
func (t *Tracker) MarkEvent(op *Op, label string) {
	at := op.appendEvent(t.clock.Now(), label)

	t.mu.Lock()
	defer t.mu.Unlock()
	t.audit(op, label, at)
}

// audit is called with t.mu held.
func (t *Tracker) audit(op *Op, label string, at time.Time) {
	t.logger.Debug("op event",
		"seq", op.Seq(),
		"time", FormatTime(at),
		"event", label,
		"request", op.Description(),
	)
}

// CheckSlow scans the in-flight set for ops older than the complaint time.
//
// It returns the warning lines and whether there are any. When at least one
// op is warned about, the first line is a summary:
//
//	"<slow> slow requests, <warned> included below; oldest blocked for > <age> secs"
//
// followed by one line per warned op, at most LogThreshold of them. An op
// is warned about only once its age reaches ComplaintTime times its
// multiplier, and the multiplier doubles each time it is warned about. When
// every slow op is still inside its backoff window the call stays silent.
func (t *Tracker) CheckSlow(now time.Time) ([]string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	front := t.inFlight.Front()
	if front == nil {
		return nil, false
	}

	complaint := t.settings.ComplaintTime()
	threshold := t.settings.LogThreshold()
	oldestAge := now.Sub(front.Value.(*Op).received)

	t.logger.Debug("checking ops in flight",
		"num_ops", t.inFlight.Len(),
		"oldest_secs", FormatSeconds(oldestAge),
	)
	if oldestAge < complaint {
		return nil, false
	}

	var warnings []string
	slow, warned := 0, 0
	for e := front; e != nil; e = e.Next() {
		op := e.Value.(*Op)
		age := now.Sub(op.received)
		if age < complaint {
			break
		}
		slow++

		// exponential backoff: only ops that were shown back off
		due := op.received.Add(time.Duration(op.warnMultiplier) * complaint)
		if due.After(now) {
			continue
		}
		if warned >= threshold {
			break
		}
		if len(warnings) == 0 {
			warnings = append(warnings, "")
		}
		warned++
		warnings = append(warnings, fmt.Sprintf("slow request %s seconds old, received at %s: %s currently %s",
			FormatSeconds(age), FormatTime(op.received), op.Description(), op.Current()))
		op.warnMultiplier *= 2
	}

	t.metrics.slowRequests.Add(float64(slow))
	if warned == 0 {
		return nil, false
	}
	warnings[0] = fmt.Sprintf("%d slow requests, %d included below; oldest blocked for > %s secs",
		slow, warned, FormatSeconds(oldestAge))
	t.metrics.slowWarnings.Add(float64(warned))
	return warnings, true
}

// CheckSlowNow runs CheckSlow at the tracker clock's current time.
func (t *Tracker) CheckSlowNow() ([]string, bool) {
	return t.CheckSlow(t.clock.Now())
}

// Watch runs CheckSlowNow every interval until ctx is done, handing any
// warnings to report. A nil report logs each line at warn level.
// A non-positive interval is rejected before any check runs.
func (t *Tracker) Watch(ctx context.Context, interval time.Duration, report func([]string)) error {
	if interval <= 0 {
		return fmt.Errorf("watch interval must be positive, got %s", interval)
	}
	if report == nil {
		report = func(lines []string) {
			for _, line := range lines {
				t.logger.Warn(line)
			}
		}
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if lines, ok := t.CheckSlowNow(); ok {
				report(lines)
			}
		}
	}
}

// DumpInFlight writes every in-flight op, in arrival order.
func (t *Tracker) DumpInFlight(f Formatter) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()
	f.OpenObjectSection("ops_in_flight")
	f.DumpInt("num_ops", int64(t.inFlight.Len()))
	f.OpenArraySection("ops")
	for e := t.inFlight.Front(); e != nil; e = e.Next() {
		f.OpenObjectSection("op")
		e.Value.(*Op).Dump(now, f)
		f.CloseSection()
	}
	f.CloseSection()
	f.CloseSection()
}

// DumpHistory runs history cleanup and writes the retained ops.
func (t *Tracker) DumpHistory(f Formatter) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.history.Dump(t.clock.Now(), f)
}

// InFlight returns the number of in-flight ops.
func (t *Tracker) InFlight() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.inFlight.Len()
}

// InFlightOps returns the in-flight ops in arrival order.
func (t *Tracker) InFlightOps() []*Op {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Op, 0, t.inFlight.Len())
	for e := t.inFlight.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(*Op))
	}
	return out
}

// HistoryLen returns the number of retained ops after cleanup.
func (t *Tracker) HistoryLen() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.history.Cleanup(t.clock.Now())
	return t.history.Len()
}

// HistoryOps returns the retained ops in arrival order after cleanup.
func (t *Tracker) HistoryOps() []*Op {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.history.Cleanup(t.clock.Now())
	return t.history.Ops()
}

// Shutdown clears the history and stops retaining retired ops. In-flight
// ops are left alone; they are simply discarded when they complete.
// Idempotent.
func (t *Tracker) Shutdown() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.history.IsShutdown() {
		t.logger.Info("op tracker shutting down", "in_flight", t.inFlight.Len())
	}
	t.history.Shutdown()
}

// IsShutdown reports whether Shutdown has been called.
func (t *Tracker) IsShutdown() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.history.IsShutdown()
}

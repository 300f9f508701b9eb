package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/gammacoder/ceph/internal/archive"
	"github.com/gammacoder/ceph/internal/config"
	"github.com/gammacoder/ceph/internal/optracker"
	"github.com/gammacoder/ceph/internal/osd"
	"github.com/gammacoder/ceph/internal/testutil"
)

// Options tunes a scenario run.
type Options struct {
	// Config replaces the scenario's own config block when set.
	Config *config.Config

	// Logger receives tracker and harness logs. Default: discarded.
	Logger *slog.Logger

	// Metrics are the tracker's collectors. Default: unregistered.
	Metrics *optracker.Metrics

	// Archive, when set, receives every non-silent check and the final
	// in-flight and history dumps.
	Archive *archive.Store
}

// Harness executes one scenario.
type Harness struct {
	tracker  *optracker.Tracker
	clock    *testutil.ManualClock // nil in live replays
	epoch    time.Time
	live     *config.Live
	ids      *testutil.SequentialIDs
	recorder *archive.Recorder
	logger   *slog.Logger

	ops      map[string]*osd.OpRequest
	requests map[string]*scenarioRequest
	released map[string]bool
}

// Run executes a scenario with default options.
func Run(scenario *Scenario) (*Result, error) {
	return RunWithOptions(context.Background(), scenario, Options{})
}

// RunWithOptions executes a scenario and returns the result.
//
// Execution flow:
// 1. Resolve tunables and build a tracker on a ManualClock at testutil.Epoch
// 2. Run each step at its offset
// 3. Archive the final dumps if requested
// 4. Evaluate assertions
//
// An error is returned when the scenario cannot be executed (bad ids,
// double release, archive failures). Failed expectations are reported in
// the result instead.
func RunWithOptions(ctx context.Context, scenario *Scenario, opts Options) (*Result, error) {
	clock := testutil.NewManualClock()
	h, err := newHarness(scenario, opts, clock, testutil.Epoch)
	if err != nil {
		return nil, err
	}
	h.clock = clock

	result := NewResult(scenario.Name)
	result.tracker = h.tracker

	for i, step := range scenario.Steps {
		h.clock.Set(testutil.At(time.Duration(step.At)))
		if err := h.executeStep(ctx, i, step, result); err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
	}

	if err := h.archiveFinalDumps(ctx); err != nil {
		return nil, err
	}

	for _, msg := range EvaluateAssertions(h, scenario.Assertions, result) {
		result.AddError(msg)
	}
	return result, nil
}

// newHarness resolves tunables and builds a tracker reading clock. Scenario
// offsets are measured from epoch.
func newHarness(scenario *Scenario, opts Options, clock optracker.Clock, epoch time.Time) (*Harness, error) {
	cfg, err := scenario.Settings()
	if err != nil {
		return nil, fmt.Errorf("scenario config: %w", err)
	}
	if opts.Config != nil {
		cfg = *opts.Config
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	h := &Harness{
		epoch:    epoch,
		live:     config.NewLive(cfg),
		ids:      testutil.NewSequentialIDs("req"),
		logger:   logger,
		ops:      make(map[string]*osd.OpRequest),
		requests: make(map[string]*scenarioRequest),
		released: make(map[string]bool),
	}
	trackerOpts := []optracker.Option{
		optracker.WithClock(clock),
		optracker.WithLogger(logger),
	}
	if opts.Metrics != nil {
		trackerOpts = append(trackerOpts, optracker.WithMetrics(opts.Metrics))
	}
	h.tracker = optracker.New(h.live, trackerOpts...)
	if opts.Archive != nil {
		h.recorder = archive.NewRecorder(opts.Archive, h.tracker)
	}
	return h, nil
}

func (h *Harness) archiveFinalDumps(ctx context.Context) error {
	if h.recorder == nil {
		return nil
	}
	for _, kind := range []archive.Kind{archive.KindInFlight, archive.KindHistory} {
		if _, err := h.recorder.Snapshot(ctx, kind); err != nil {
			return fmt.Errorf("archive final dumps: %w", err)
		}
	}
	return nil
}

func (h *Harness) executeStep(ctx context.Context, i int, step Step, result *Result) error {
	at := time.Duration(step.At)
	switch {
	case step.Arrive != nil:
		return h.arrive(step.Arrive, at)
	case step.Mark != nil:
		return h.mark(step.Mark)
	case step.Release != nil:
		return h.release(step.Release.ID)
	case step.Check != nil:
		return h.check(ctx, i, step.Check, at, result)
	case step.Configure.Kind != 0:
		next, err := overlayNode(h.live.Config(), &step.Configure)
		if err != nil {
			return fmt.Errorf("configure: %w", err)
		}
		if err := h.live.Store(next); err != nil {
			return fmt.Errorf("configure: %w", err)
		}
		h.logger.Debug("tunables replaced", "step", i, "history_size", next.HistorySize,
			"complaint_time", time.Duration(next.ComplaintTime))
		return nil
	case step.Shutdown:
		h.tracker.Shutdown()
		return nil
	}
	return fmt.Errorf("no action")
}

func (h *Harness) arrive(a *ArriveStep, at time.Duration) error {
	if _, dup := h.ops[a.ID]; dup {
		return fmt.Errorf("arrive: duplicate id %q", a.ID)
	}
	flags, err := osd.ParseRMWFlags(a.RMW...)
	if err != nil {
		return fmt.Errorf("arrive %q: %w", a.ID, err)
	}
	received := at
	if a.ReceivedAt != nil {
		received = time.Duration(*a.ReceivedAt)
	}

	req := &scenarioRequest{desc: a.Desc, received: h.epoch.Add(received), flags: flags}
	op := osd.New(h.tracker, req, h.ids)
	h.ops[a.ID] = op
	h.requests[a.ID] = req

	h.logger.Debug("op arrived", "id", a.ID, "seq", op.Seq(), "request_id", op.RequestID())
	return nil
}

func (h *Harness) mark(m *MarkStep) error {
	op, err := h.liveOp(m.ID)
	if err != nil {
		return fmt.Errorf("mark: %w", err)
	}
	if m.Event != "" {
		op.MarkEvent(m.Event)
		return nil
	}
	phase, err := osd.ParsePhase(m.Phase)
	if err != nil {
		return fmt.Errorf("mark %q: %w", m.ID, err)
	}
	op.MarkPhase(phase, m.Reason)
	return nil
}

func (h *Harness) release(id string) error {
	op, err := h.liveOp(id)
	if err != nil {
		return fmt.Errorf("release: %w", err)
	}
	op.Release()
	h.released[id] = true
	h.logger.Debug("op released", "id", id, "seq", op.Seq())
	return nil
}

func (h *Harness) liveOp(id string) (*osd.OpRequest, error) {
	op, ok := h.ops[id]
	if !ok {
		return nil, fmt.Errorf("unknown id %q", id)
	}
	if h.released[id] {
		return nil, fmt.Errorf("op %q already released", id)
	}
	return op, nil
}

func (h *Harness) check(ctx context.Context, i int, c *CheckStep, at time.Duration, result *Result) error {
	lines, ok := h.tracker.CheckSlowNow()
	rec := CheckRecord{At: at, Lines: lines}
	result.Checks = append(result.Checks, rec)

	if ok && h.recorder != nil {
		if _, err := h.recorder.Warnings(ctx, lines); err != nil {
			return fmt.Errorf("archive warnings: %w", err)
		}
	}

	if c.ExpectSilent && ok {
		result.AddError(fmt.Sprintf("step %d: expected a silent check, got %d warning(s)", i, rec.Warned()))
	}
	if c.ExpectWarnings != nil && rec.Warned() != *c.ExpectWarnings {
		result.AddError(fmt.Sprintf("step %d: expected %d warning(s), got %d", i, *c.ExpectWarnings, rec.Warned()))
	}
	return nil
}

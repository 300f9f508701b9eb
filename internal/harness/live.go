package harness

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gammacoder/ceph/internal/optracker"
)

// LiveOptions tunes a wall-clock replay.
type LiveOptions struct {
	Options

	// Interval is the period of the slow-request watch loop. Required.
	Interval time.Duration

	// Report, when set, receives every non-silent check as it happens.
	// It is called from the watch goroutine.
	Report func(CheckRecord)
}

// RunLive replays a scenario in real time: each step runs once its offset
// has elapsed on the system clock, while Tracker.Watch checks for slow
// requests every Interval in the background.
//
// Check steps are skipped (the watch loop does the checking) and
// assertions are not evaluated, since warning timing depends on the
// scheduler. The result carries every non-silent watch check and the
// final dumps.
func RunLive(ctx context.Context, scenario *Scenario, opts LiveOptions) (*Result, error) {
	if opts.Interval <= 0 {
		return nil, fmt.Errorf("watch interval must be positive, got %s", opts.Interval)
	}
	clock := optracker.SystemClock()
	epoch := clock.Now()
	h, err := newHarness(scenario, opts.Options, clock, epoch)
	if err != nil {
		return nil, err
	}

	result := NewResult(scenario.Name)
	result.tracker = h.tracker

	var (
		mu        sync.Mutex
		checks    []CheckRecord
		reportErr error
	)
	// Archive writes must survive the cancel that stops the loop.
	archiveCtx := context.WithoutCancel(ctx)
	report := func(lines []string) {
		rec := CheckRecord{At: clock.Now().Sub(epoch), Lines: lines}
		if h.recorder != nil {
			if _, err := h.recorder.Warnings(archiveCtx, lines); err != nil {
				mu.Lock()
				if reportErr == nil {
					reportErr = fmt.Errorf("archive warnings: %w", err)
				}
				mu.Unlock()
			}
		}
		mu.Lock()
		checks = append(checks, rec)
		mu.Unlock()
		if opts.Report != nil {
			opts.Report(rec)
		}
	}

	watchCtx, stop := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() {
		done <- h.tracker.Watch(watchCtx, opts.Interval, report)
	}()
	finish := func() {
		stop()
		<-done
		result.Checks = checks
	}

	for i, step := range scenario.Steps {
		if err := sleepUntil(ctx, epoch.Add(time.Duration(step.At))); err != nil {
			finish()
			return nil, err
		}
		if step.Check != nil {
			h.logger.Debug("check step left to the watch loop", "step", i)
			continue
		}
		if err := h.executeStep(ctx, i, step, result); err != nil {
			finish()
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
	}
	finish()

	if reportErr != nil {
		return nil, reportErr
	}
	if err := h.archiveFinalDumps(ctx); err != nil {
		return nil, err
	}
	return result, nil
}

func sleepUntil(ctx context.Context, deadline time.Time) error {
	d := time.Until(deadline)
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

package harness

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gammacoder/ceph/internal/archive"
)

const liveScenario = `
name: live_stall
config:
  complaint_time: 40ms
  log_threshold: 5
steps:
  - at: 0s
    arrive: { id: stuck, desc: "osd_op(client.1.0:1 obj_a [write 0~8])", rmw: [write] }
  - at: 0s
    arrive: { id: quick, desc: "osd_op(client.1.0:2 obj_b [read 0~8])", rmw: [read] }
  - at: 10ms
    check: { expect_silent: true }
  - at: 20ms
    release: { id: quick }
  - at: 250ms
    mark: { id: stuck, phase: started }
assertions:
  - type: in_flight
    count: 5
`

func TestRunLive_WatchReportsSlowOps(t *testing.T) {
	var (
		mu       sync.Mutex
		reported []CheckRecord
	)
	result, err := RunLive(context.Background(), mustParse(t, liveScenario), LiveOptions{
		Interval: 10 * time.Millisecond,
		Report: func(rec CheckRecord) {
			mu.Lock()
			defer mu.Unlock()
			reported = append(reported, rec)
		},
	})
	require.NoError(t, err)

	require.NotEmpty(t, result.Checks, "the stuck op crosses the complaint time long before the last step")
	first := result.Checks[0]
	assert.GreaterOrEqual(t, first.At, 40*time.Millisecond)
	assert.True(t, strings.HasPrefix(first.Lines[0], "1 slow requests, 1 included below"), first.Lines[0])
	assert.Contains(t, first.Lines[1], "obj_a")

	mu.Lock()
	assert.Equal(t, len(result.Checks), len(reported))
	mu.Unlock()

	assert.True(t, result.Pass, "assertions are not evaluated in live replays")
	assert.Empty(t, result.Errors)
	assert.Equal(t, 1, result.Tracker().InFlight())
	assert.Equal(t, 1, result.Tracker().HistoryLen())
}

func TestRunLive_ArchivesWarnings(t *testing.T) {
	store, err := archive.Open(filepath.Join(t.TempDir(), "live.db"))
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	result, err := RunLive(ctx, mustParse(t, liveScenario), LiveOptions{
		Options:  Options{Archive: store},
		Interval: 10 * time.Millisecond,
	})
	require.NoError(t, err)

	warnings, err := store.ListWarnings(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, warnings, 2*len(result.Checks), "one summary and one op line per check")

	dumps, err := store.ListDumps(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, dumps, 2)
}

func TestRunLive_RejectsNonPositiveInterval(t *testing.T) {
	for _, interval := range []time.Duration{0, -time.Millisecond} {
		_, err := RunLive(context.Background(), mustParse(t, liveScenario), LiveOptions{Interval: interval})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "watch interval must be positive")
	}
}

func TestRunLive_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := RunLive(ctx, mustParse(t, liveScenario), LiveOptions{Interval: 10 * time.Millisecond})
	assert.ErrorIs(t, err, context.Canceled)
}

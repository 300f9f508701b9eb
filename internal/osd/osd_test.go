package osd

import (
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gammacoder/ceph/internal/format"
	"github.com/gammacoder/ceph/internal/optracker"
	"github.com/gammacoder/ceph/internal/testutil"
)

type testRequest struct {
	desc     string
	received time.Time
	flags    RMWFlags
	cleared  bool
}

func (r *testRequest) ReceivedTime() time.Time { return r.received }
func (r *testRequest) String() string          { return r.desc }
func (r *testRequest) ClearData()              { r.cleared = true }
func (r *testRequest) RMWFlags() RMWFlags      { return r.flags }

func newTracker() (*optracker.Tracker, *testutil.ManualClock) {
	clock := testutil.NewManualClock()
	tr := optracker.New(optracker.DefaultSettings(),
		optracker.WithClock(clock),
		optracker.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	return tr, clock
}

func TestRMWFlags_String(t *testing.T) {
	assert.Equal(t, "none", RMWFlags(0).String())
	assert.Equal(t, "read", RMWRead.String())
	assert.Equal(t, "read+write+pg_op", (RMWRead | RMWWrite | RMWPGOp).String())
	assert.Equal(t, "class_read+class_write", (RMWClassWrite | RMWClassRead).String())
}

func TestRMWFlags_Has(t *testing.T) {
	f := RMWRead | RMWClassWrite
	assert.True(t, f.Has(RMWRead))
	assert.True(t, f.Has(RMWRead|RMWClassWrite))
	assert.False(t, f.Has(RMWRead|RMWWrite))
	assert.False(t, f.Has(0))
}

func TestParseRMWFlags(t *testing.T) {
	f, err := ParseRMWFlags("write", "pg_op")
	require.NoError(t, err)
	assert.Equal(t, RMWWrite|RMWPGOp, f)

	f, err = ParseRMWFlags()
	require.NoError(t, err)
	assert.Equal(t, RMWFlags(0), f)

	_, err = ParseRMWFlags("read", "execute")
	assert.ErrorContains(t, err, `unknown rmw flag "execute"`)
}

func TestPhase_NamesRoundTrip(t *testing.T) {
	for p := PhaseQueuedForPG; p <= PhaseCommitSent; p <<= 1 {
		got, err := ParsePhase(p.Name())
		require.NoError(t, err)
		assert.Equal(t, p, got)
	}
	_, err := ParsePhase("peering")
	assert.Error(t, err)
	assert.Equal(t, "no flag points reached", Phase(0).StateString())
}

func TestOpRequest_RegistersAndCopiesFlags(t *testing.T) {
	tr, _ := newTracker()
	req := &testRequest{desc: "osd_op(client.1 write)", received: testutil.Epoch, flags: RMWWrite}

	op := New(tr, req, NewFixedGenerator("req-a"))

	assert.Equal(t, uint64(1), op.Seq())
	assert.Equal(t, 1, tr.InFlight())
	assert.Equal(t, "req-a", op.RequestID())
	assert.True(t, op.NeedWriteCap())
	assert.False(t, op.NeedReadCap())
	assert.True(t, op.MayWrite())
	assert.False(t, op.MayRead())
}

func TestOpRequest_RMWSetters(t *testing.T) {
	tr, _ := newTracker()
	op := New(tr, &testRequest{desc: "x", received: testutil.Epoch}, nil)

	assert.Equal(t, "none", op.RMW().String())
	op.SetClassRead()
	assert.True(t, op.MayRead())
	assert.True(t, op.NeedClassReadCap())
	op.SetClassWrite()
	op.SetPGOp()
	assert.True(t, op.MayWrite())
	assert.True(t, op.IncludesPGOp())
	op.SetRead()
	op.SetWrite()
	assert.Equal(t, "read+write+class_read+class_write+pg_op", op.RMW().String())
}

func TestOpRequest_PhaseTracking(t *testing.T) {
	tr, clock := newTracker()
	op := New(tr, &testRequest{desc: "x", received: testutil.Epoch}, nil)

	assert.Equal(t, "no flag points reached", op.Current())
	assert.Equal(t, Phase(0), op.LatestPhase())

	clock.Advance(time.Second)
	op.MarkQueuedForPG()
	clock.Advance(time.Second)
	op.MarkReachedPG()
	clock.Advance(time.Second)
	op.MarkDelayed("waiting for missing object")

	assert.True(t, op.BeenQueuedForPG())
	assert.True(t, op.BeenReachedPG())
	assert.True(t, op.BeenDelayed())
	assert.False(t, op.BeenStarted())
	assert.True(t, op.CurrentlyDelayed())
	assert.False(t, op.CurrentlyReachedPG())
	assert.Equal(t, "waiting for missing object", op.Current())

	clock.Advance(time.Second)
	op.MarkStarted()
	op.MarkSubOpSent("waiting for subops from 1,2")
	op.MarkCommitSent()

	assert.True(t, op.BeenStarted())
	assert.True(t, op.BeenSubOpSent())
	assert.True(t, op.BeenCommitSent())
	assert.True(t, op.CurrentlyCommitSent())
	assert.False(t, op.CurrentlySubOpSent())
	assert.Equal(t, PhaseQueuedForPG|PhaseReachedPG|PhaseDelayed|PhaseStarted|PhaseSubOpSent|PhaseCommitSent, op.HitPhases())
	assert.Equal(t, "commit sent", op.Current())

	var labels []string
	for _, ev := range op.Events() {
		labels = append(labels, ev.Label)
	}
	assert.Equal(t, []string{
		"queued_for_pg",
		"reached_pg",
		"waiting for missing object",
		"started",
		"waiting for subops from 1,2",
		"commit_sent",
	}, labels)
}

func TestOpRequest_MarkPhaseDispatch(t *testing.T) {
	tests := []struct {
		phase   Phase
		reason  string
		event   string
		current string
	}{
		{PhaseQueuedForPG, "", "queued_for_pg", "queued for pg"},
		{PhaseReachedPG, "ignored", "reached_pg", "reached pg"},
		{PhaseDelayed, "", "delayed", "delayed"},
		{PhaseDelayed, "blocked by scrub", "blocked by scrub", "blocked by scrub"},
		{PhaseStarted, "", "started", "started"},
		{PhaseSubOpSent, "", "sub_op_sent", "sub_op_sent"},
		{PhaseCommitSent, "", "commit_sent", "commit sent"},
	}
	for _, tt := range tests {
		t.Run(tt.phase.Name()+"/"+tt.reason, func(t *testing.T) {
			tr, _ := newTracker()
			op := New(tr, &testRequest{desc: "x", received: testutil.Epoch}, nil)

			op.MarkPhase(tt.phase, tt.reason)

			events := op.Events()
			require.Len(t, events, 1)
			assert.Equal(t, tt.event, events[0].Label)
			assert.Equal(t, tt.current, op.Current())
			assert.Equal(t, tt.phase, op.LatestPhase())
		})
	}
}

func TestOpRequest_MarkPhase_RejectsInvalidPhase(t *testing.T) {
	for _, p := range []Phase{0, PhaseStarted | PhaseDelayed, PhaseCommitSent << 1} {
		t.Run(fmt.Sprintf("%#x", uint8(p)), func(t *testing.T) {
			tr, _ := newTracker()
			op := New(tr, &testRequest{desc: "x", received: testutil.Epoch}, nil)

			assert.PanicsWithValue(t, fmt.Sprintf("osd: MarkPhase: invalid phase %#x", uint8(p)), func() {
				op.MarkPhase(p, "")
			})
			assert.Empty(t, op.Events())
			assert.Equal(t, Phase(0), op.HitPhases())
			assert.Equal(t, Phase(0), op.LatestPhase())
		})
	}
}

func TestOpRequest_ReleaseClearsData(t *testing.T) {
	tr, _ := newTracker()
	req := &testRequest{desc: "x", received: testutil.Epoch}
	op := New(tr, req, nil)

	op.Release()

	assert.True(t, req.cleared)
	assert.Equal(t, 0, tr.InFlight())
	assert.Equal(t, 1, tr.HistoryLen())
}

func TestOpRequest_DumpExtra(t *testing.T) {
	tr, clock := newTracker()
	req := &testRequest{desc: "osd_op(read)", received: testutil.Epoch, flags: RMWRead}
	op := New(tr, req, NewFixedGenerator("req-1"))
	clock.Advance(2 * time.Second)
	op.MarkReachedPG()

	f := format.NewJSONFormatter()
	tr.DumpInFlight(f)
	got, err := f.Bytes()
	require.NoError(t, err)

	assert.Equal(t,
		`{"num_ops":1,"ops":[{"age":"2","current":"reached pg","description":"osd_op(read)","duration":"2",`+
			`"events":[{"event":"reached_pg","time":"2024-01-01 00:00:02.000000"}],`+
			`"flag_point":"reached pg","received_at":"2024-01-01 00:00:00.000000","request_id":"req-1","rmw_flags":"read","seq":1}]}`,
		string(got))
}

func TestOpRequest_SlowWarningUsesPhase(t *testing.T) {
	tr, clock := newTracker()
	op := New(tr, &testRequest{desc: "osd_op(write)", received: testutil.Epoch}, nil)
	op.MarkSubOpSent("waiting for subops from 3")

	clock.Advance(31 * time.Second)
	lines, ok := tr.CheckSlowNow()
	require.True(t, ok)
	require.Len(t, lines, 2)
	assert.Contains(t, lines[1], "osd_op(write) currently waiting for subops from 3")
}

func TestOpRequest_ConcurrentMarks(t *testing.T) {
	tr, _ := newTracker()
	op := New(tr, &testRequest{desc: "x", received: testutil.Epoch}, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			op.MarkPhase(Phase(1)<<(i%6), "")
		}(i)
	}
	wg.Wait()

	assert.Len(t, op.Events(), 8)
	assert.NotZero(t, op.LatestPhase())
}

var uuidPattern = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-7[0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`)

func TestUUIDv7Generator(t *testing.T) {
	gen := UUIDv7Generator{}
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		id := gen.Generate()
		assert.Regexp(t, uuidPattern, id)
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}

func TestFixedGenerator_Exhausted(t *testing.T) {
	gen := NewFixedGenerator("only")
	assert.Equal(t, "only", gen.Generate())
	assert.PanicsWithValue(t, "FixedGenerator: all ids exhausted", func() { gen.Generate() })
}

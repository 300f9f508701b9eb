package optracker

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gammacoder/ceph/internal/testutil"
)

// fakeRequest is a minimal Request for tests.
type fakeRequest struct {
	desc     string
	received time.Time
	cleared  atomic.Int32
}

func newFakeRequest(desc string, received time.Time) *fakeRequest {
	return &fakeRequest{desc: desc, received: received}
}

func (r *fakeRequest) ReceivedTime() time.Time { return r.received }
func (r *fakeRequest) String() string          { return r.desc }
func (r *fakeRequest) ClearData()              { r.cleared.Add(1) }

// recordingFormatter flattens Formatter calls into readable lines.
type recordingFormatter struct {
	lines []string
	depth int
}

func (f *recordingFormatter) emit(format string, args ...any) {
	f.lines = append(f.lines, strings.Repeat("  ", f.depth)+fmt.Sprintf(format, args...))
}

func (f *recordingFormatter) OpenObjectSection(name string) {
	f.emit("{%s", name)
	f.depth++
}

func (f *recordingFormatter) OpenArraySection(name string) {
	f.emit("[%s", name)
	f.depth++
}

func (f *recordingFormatter) CloseSection() {
	f.depth--
	f.emit("}")
}

func (f *recordingFormatter) DumpString(name, value string) { f.emit("%s=%q", name, value) }
func (f *recordingFormatter) DumpInt(name string, value int64) { f.emit("%s=%d", name, value) }

// count returns how many lines contain substr.
func (f *recordingFormatter) count(substr string) int {
	n := 0
	for _, l := range f.lines {
		if strings.Contains(l, substr) {
			n++
		}
	}
	return n
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestTracker returns a tracker on a manual clock with quiet logging.
func newTestTracker(s Settings) (*Tracker, *testutil.ManualClock) {
	clock := testutil.NewManualClock()
	return New(s, WithClock(clock), WithLogger(discardLogger())), clock
}

// arrive registers a request received at Epoch+offset.
func arrive(tr *Tracker, desc string, offset time.Duration) (*Op, *fakeRequest) {
	req := newFakeRequest(desc, testutil.At(offset))
	return tr.Track(req), req
}

package harness

import (
	"time"

	"github.com/gammacoder/ceph/internal/optracker"
	"github.com/gammacoder/ceph/internal/osd"
)

// scenarioRequest is the payload behind every op a scenario creates.
type scenarioRequest struct {
	desc     string
	received time.Time
	flags    osd.RMWFlags
	cleared  bool
}

func (r *scenarioRequest) ReceivedTime() time.Time { return r.received }
func (r *scenarioRequest) String() string          { return r.desc }
func (r *scenarioRequest) ClearData()              { r.cleared = true }
func (r *scenarioRequest) RMWFlags() osd.RMWFlags  { return r.flags }

// CheckRecord is the output of one slow-request check.
type CheckRecord struct {
	// At is the check's offset from the simulated epoch.
	At time.Duration

	// Lines is what the check returned; nil when it stayed silent.
	Lines []string
}

// Warned returns the number of per-op warning lines (excluding the
// summary).
func (c CheckRecord) Warned() int {
	if len(c.Lines) == 0 {
		return 0
	}
	return len(c.Lines) - 1
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every check expectation and assertion held.
	Pass bool

	// Checks holds every slow-request check in step order.
	Checks []CheckRecord

	// Errors holds failed expectations and assertions.
	Errors []string

	name    string
	tracker *optracker.Tracker
}

// NewResult creates a passing result.
func NewResult(name string) *Result {
	return &Result{Pass: true, name: name, Errors: []string{}}
}

// AddError records a failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Warnings returns the number of per-op warning lines over all checks.
func (r *Result) Warnings() int {
	n := 0
	for _, c := range r.Checks {
		n += c.Warned()
	}
	return n
}

// Tracker returns the tracker the scenario ran against, in its final state.
func (r *Result) Tracker() *optracker.Tracker {
	return r.tracker
}

// Write renders the run as one document: the scenario name, errors, every
// check's lines and the final in-flight and history dumps.
func (r *Result) Write(f optracker.Formatter) {
	f.OpenObjectSection("scenario")
	f.DumpString("name", r.name)

	f.OpenArraySection("errors")
	for _, e := range r.Errors {
		f.DumpString("error", e)
	}
	f.CloseSection()

	f.OpenArraySection("checks")
	for _, c := range r.Checks {
		f.OpenObjectSection("check")
		f.DumpString("at", optracker.FormatSeconds(c.At))
		f.OpenArraySection("lines")
		for _, l := range c.Lines {
			f.DumpString("line", l)
		}
		f.CloseSection()
		f.CloseSection()
	}
	f.CloseSection()

	if r.tracker != nil {
		r.tracker.DumpInFlight(f)
		r.tracker.DumpHistory(f)
	}
	f.CloseSection()
}

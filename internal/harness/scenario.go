package harness

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/gammacoder/ceph/internal/config"
	"github.com/gammacoder/ceph/internal/osd"
)

// Scenario is a scripted workload run against a tracker on a simulated
// clock.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario exercises.
	Description string `yaml:"description"`

	// Config holds tracker tunables in config-file syntax. Keys left out
	// keep their defaults.
	Config yaml.Node `yaml:"config,omitempty"`

	// Steps run in order. Each step's At offset must not precede the
	// previous step's.
	Steps []Step `yaml:"steps"`

	// Assertions are evaluated after the last step.
	Assertions []Assertion `yaml:"assertions"`
}

// Step moves the clock to At and performs exactly one action.
type Step struct {
	// At is the offset from the simulated epoch.
	At config.Duration `yaml:"at"`

	Arrive    *ArriveStep  `yaml:"arrive,omitempty"`
	Mark      *MarkStep    `yaml:"mark,omitempty"`
	Release   *ReleaseStep `yaml:"release,omitempty"`
	Check     *CheckStep   `yaml:"check,omitempty"`
	Configure yaml.Node    `yaml:"configure,omitempty"`
	Shutdown  bool         `yaml:"shutdown,omitempty"`
}

// ArriveStep wraps and registers a new op.
type ArriveStep struct {
	// ID names the op within the scenario.
	ID string `yaml:"id"`

	// Desc is the request's diagnostic string.
	Desc string `yaml:"desc"`

	// RMW lists capability flags ("read", "write", "class_read",
	// "class_write", "pg_op").
	RMW []string `yaml:"rmw,omitempty"`

	// ReceivedAt overrides the arrival time; it defaults to the step's At.
	// Requests may be stamped before the tracker sees them.
	ReceivedAt *config.Duration `yaml:"received_at,omitempty"`
}

// MarkStep records a phase transition or a free-form event.
type MarkStep struct {
	ID string `yaml:"id"`

	// Phase is a phase name such as "reached_pg". Exclusive with Event.
	Phase string `yaml:"phase,omitempty"`

	// Reason is the label for the delayed and sub_op_sent phases.
	Reason string `yaml:"reason,omitempty"`

	// Event is a raw event label. Exclusive with Phase.
	Event string `yaml:"event,omitempty"`
}

// ReleaseStep retires an op.
type ReleaseStep struct {
	ID string `yaml:"id"`
}

// CheckStep runs a slow-request check.
type CheckStep struct {
	// ExpectWarnings is the expected number of per-op warning lines,
	// excluding the summary.
	ExpectWarnings *int `yaml:"expect_warnings,omitempty"`

	// ExpectSilent expects the check to report nothing.
	ExpectSilent bool `yaml:"expect_silent,omitempty"`
}

// Assertion types.
const (
	AssertInFlight = "in_flight"
	AssertHistory  = "history"
	AssertWarnings = "warnings"
	AssertEvents   = "events"
	AssertCurrent  = "current"
)

// Assertion checks the final tracker state.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Count is the expected number of ops (in_flight, history) or warning
	// lines (warnings).
	Count *int `yaml:"count,omitempty"`

	// IDs are the expected op ids in arrival order (in_flight, history).
	IDs []string `yaml:"ids,omitempty"`

	// ID selects the op for events and current.
	ID string `yaml:"id,omitempty"`

	// Events are the expected event labels, in order.
	Events []string `yaml:"events,omitempty"`

	// Current is the expected status string.
	Current string `yaml:"current,omitempty"`
}

// LoadScenario reads and parses a scenario YAML file.
// Unknown fields are rejected so typos fail loudly.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates a scenario document.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// Settings returns the scenario's tunables laid over the defaults.
func (s *Scenario) Settings() (config.Config, error) {
	return overlayNode(config.Default(), &s.Config)
}

func overlayNode(base config.Config, n *yaml.Node) (config.Config, error) {
	if n == nil || n.Kind == 0 {
		return base, nil
	}
	data, err := yaml.Marshal(n)
	if err != nil {
		return config.Config{}, fmt.Errorf("re-encode config: %w", err)
	}
	return config.Overlay(base, data)
}

// validateScenario checks structure that does not depend on execution.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if _, err := s.Settings(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	ids := make(map[string]bool)
	var last time.Duration
	for i, step := range s.Steps {
		at := time.Duration(step.At)
		if at < last {
			return fmt.Errorf("step %d: at %s precedes previous step at %s", i, at, last)
		}
		last = at
		if err := validateStep(step, ids); err != nil {
			return fmt.Errorf("step %d: %w", i, err)
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(a, ids); err != nil {
			return fmt.Errorf("assertion %d: %w", i, err)
		}
	}
	return nil
}

func validateStep(step Step, ids map[string]bool) error {
	actions := 0
	for _, set := range []bool{
		step.Arrive != nil, step.Mark != nil, step.Release != nil,
		step.Check != nil, step.Configure.Kind != 0, step.Shutdown,
	} {
		if set {
			actions++
		}
	}
	if actions != 1 {
		return fmt.Errorf("exactly one action is required, got %d", actions)
	}

	switch {
	case step.Arrive != nil:
		a := step.Arrive
		if a.ID == "" {
			return fmt.Errorf("arrive: id is required")
		}
		if ids[a.ID] {
			return fmt.Errorf("arrive: duplicate id %q", a.ID)
		}
		if _, err := osd.ParseRMWFlags(a.RMW...); err != nil {
			return fmt.Errorf("arrive %q: %w", a.ID, err)
		}
		ids[a.ID] = true
	case step.Mark != nil:
		m := step.Mark
		if !ids[m.ID] {
			return fmt.Errorf("mark: unknown id %q", m.ID)
		}
		if (m.Phase == "") == (m.Event == "") {
			return fmt.Errorf("mark %q: exactly one of phase or event is required", m.ID)
		}
		if m.Phase != "" {
			if _, err := osd.ParsePhase(m.Phase); err != nil {
				return fmt.Errorf("mark %q: %w", m.ID, err)
			}
		}
	case step.Release != nil:
		if !ids[step.Release.ID] {
			return fmt.Errorf("release: unknown id %q", step.Release.ID)
		}
	case step.Check != nil:
		if step.Check.ExpectSilent && step.Check.ExpectWarnings != nil && *step.Check.ExpectWarnings != 0 {
			return fmt.Errorf("check: expect_silent conflicts with expect_warnings")
		}
	case step.Configure.Kind != 0:
		if _, err := overlayNode(config.Default(), &step.Configure); err != nil {
			return fmt.Errorf("configure: %w", err)
		}
	}
	return nil
}

func validateAssertion(a Assertion, ids map[string]bool) error {
	switch a.Type {
	case AssertInFlight, AssertHistory:
		if a.Count == nil && a.IDs == nil {
			return fmt.Errorf("%s: count or ids is required", a.Type)
		}
		for _, id := range a.IDs {
			if !ids[id] {
				return fmt.Errorf("%s: unknown id %q", a.Type, id)
			}
		}
	case AssertWarnings:
		if a.Count == nil {
			return fmt.Errorf("warnings: count is required")
		}
	case AssertEvents, AssertCurrent:
		if !ids[a.ID] {
			return fmt.Errorf("%s: unknown id %q", a.Type, a.ID)
		}
	case "":
		return fmt.Errorf("type is required")
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}

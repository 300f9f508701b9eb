// Package harness drives scripted workloads through an op tracker on a
// simulated clock.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: slow_request_backoff
//	description: "What this scenario exercises"
//	config:
//	  complaint_time: 30s
//	  log_threshold: 2
//	steps:
//	  - at: 0s
//	    arrive: { id: a, desc: "osd_op(write)", rmw: [write] }
//	  - at: 5s
//	    mark: { id: a, phase: reached_pg }
//	  - at: 40s
//	    check: { expect_warnings: 1 }
//	  - at: 45s
//	    release: { id: a }
//	assertions:
//	  - type: history
//	    ids: [a]
//
// Every step first moves the clock to its "at" offset and then performs
// one action: arrive, mark, release, check, configure (swap tunables
// mid-run) or shutdown.
//
// # Assertion Types
//
//   - in_flight, history: op count and/or ids in arrival order
//   - warnings: total per-op warning lines over all checks
//   - events: event labels of one op, in order
//   - current: status string of one op
//
// # Deterministic Output
//
// Clock, request ids and sequence numbers are deterministic, so the
// snapshot written by Result.Write is stable and can be compared against
// golden files (see RunWithGolden).
//
// # Live Replay
//
// RunLive plays the same steps on the system clock under the tracker's
// Watch loop. Its output depends on scheduling, so it is neither asserted
// nor compared against golden files.
package harness

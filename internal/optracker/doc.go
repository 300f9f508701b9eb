// Package optracker tracks in-flight requests on a storage node.
//
// The tracker follows every request from arrival to retirement. It records
// timestamped lifecycle events, detects requests that have been in flight
// for too long, and keeps a bounded history of recently completed requests
// for postmortem inspection.
//
// ARCHITECTURE:
//
// Registry:
// A Tracker owns the in-flight set (arrival ordered, removal by sequence
// number) and the History. Both are guarded by a single mutex. Critical
// sections are bounded by logarithmic index operations; no I/O beyond a
// debug audit line happens under the lock.
//
// Tracked operations:
// An Op wraps an opaque Request. Its event log has its own lock so that a
// dump of the registry and an event append on an unrelated op never wait on
// each other for long. Lock order is always Tracker then Op.
//
// Lifecycle:
//  1. NewOp wraps a Request; Register assigns a sequence number.
//  2. The owning pipeline calls MarkEvent (or phase helpers built on it).
//  3. Release / Unregister retires the op: it leaves the in-flight set, its
//     payload is cleared exactly once, and it enters the History unless the
//     tracker was shut down.
//
// Slow requests:
// CheckSlow walks the oldest in-flight ops and warns about those older than
// the complaint time. Each op carries a multiplier that doubles every time
// it is warned about, so long-running ops are reported at exponentially
// growing intervals rather than on every check.
//
// INVARIANTS:
//   - Sequence numbers are strictly increasing and never reused.
//   - Event timestamps of one op are non-decreasing.
//   - Both history indexes always hold exactly the same set of ops.
//   - Unregistering an op that is not in flight is a programming error and
//     panics with a *LifecycleError.
//
// Tracking is observational. Nothing in this package schedules, retries or
// cancels the tracked work.
package optracker

package gateway

import "sync/atomic"

// Counters tracks gateway-level totals using atomic operations for
// lock-free concurrency. The Prometheus collectors cover per-label
// detail; these aggregates feed the lighter /status endpoint.
type Counters struct {
	requests    atomic.Int64
	completions atomic.Int64
	errors      atomic.Int64
}

// RecordRequest counts one inbound chat-completion request.
func (c *Counters) RecordRequest() {
	c.requests.Add(1)
}

// RecordCompletion counts one successful completion.
func (c *Counters) RecordCompletion() {
	c.completions.Add(1)
}

// RecordError counts one terminally failed request.
func (c *Counters) RecordError() {
	c.errors.Add(1)
}

// Snapshot returns a consistent point-in-time view of the counters.
func (c *Counters) Snapshot() CountersSnapshot {
	return CountersSnapshot{
		Requests:    c.requests.Load(),
		Completions: c.completions.Load(),
		Errors:      c.errors.Load(),
	}
}

// CountersSnapshot is a serializable point-in-time counters view.
type CountersSnapshot struct {
	Requests    int64 `json:"requests"`
	Completions int64 `json:"completions"`
	Errors      int64 `json:"errors"`
}

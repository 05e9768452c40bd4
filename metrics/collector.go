// Package metrics provides per-session counters for bridge operations.
//
// The Collector accumulates counters across the operations of one session.
// It is a leaf package with no internal dependencies.
package metrics

import "sync"

// Snapshot is an immutable point-in-time view of all counters.
// Returned by Collector.Snapshot(). Safe to read concurrently after creation.
type Snapshot struct {
	// Operation lifecycle
	OpsStarted   int64            `json:"ops_started"`
	OpsSucceeded int64            `json:"ops_succeeded"`
	OpsFailed    int64            `json:"ops_failed"`
	OpsTimedOut  int64            `json:"ops_timed_out"`
	OpsCanceled  int64            `json:"ops_canceled"`
	OpsByKind    map[string]int64 `json:"ops_by_kind"`

	// Bridge
	SyncCompletions int64 `json:"sync_completions"`
	Polls           int64 `json:"polls"`
	PollRetries     int64 `json:"poll_retries"`
	CleanupFailures int64 `json:"cleanup_failures"`
	FallbackMoves   int64 `json:"fallback_moves"`

	// Side channels
	NotifyFailures int64 `json:"notify_failures"`
	ExportWrites   int64 `json:"export_writes"`
	ExportFailures int64 `json:"export_failures"`

	// Dimensions (informational, set at construction)
	Host    string `json:"host"`
	Profile string `json:"profile"`
}

// Collector accumulates metrics during a session.
// Thread-safe via sync.Mutex. All increment methods are nil-receiver safe.
type Collector struct {
	mu sync.Mutex

	opsStarted   int64
	opsSucceeded int64
	opsFailed    int64
	opsTimedOut  int64
	opsCanceled  int64
	opsByKind    map[string]int64

	syncCompletions int64
	polls           int64
	pollRetries     int64
	cleanupFailures int64
	fallbackMoves   int64

	notifyFailures int64
	exportWrites   int64
	exportFailures int64

	host    string
	profile string
}

// NewCollector creates a Collector with dimension labels.
func NewCollector(host, profile string) *Collector {
	return &Collector{
		opsByKind: make(map[string]int64),
		host:      host,
		profile:   profile,
	}
}

func (c *Collector) add(p *int64) {
	c.mu.Lock()
	*p++
	c.mu.Unlock()
}

// --- Operation lifecycle ---

// IncOpStarted records the start of an operation of the given kind.
func (c *Collector) IncOpStarted(kind string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.opsStarted++
	c.opsByKind[kind]++
	c.mu.Unlock()
}

// IncOpSucceeded records an operation that reached done.
func (c *Collector) IncOpSucceeded() {
	if c == nil {
		return
	}
	c.add(&c.opsSucceeded)
}

// IncOpFailed records an operation that ended in any error other than
// timeout or cancellation.
func (c *Collector) IncOpFailed() {
	if c == nil {
		return
	}
	c.add(&c.opsFailed)
}

// IncOpTimedOut records an operation that exhausted its poll budget.
func (c *Collector) IncOpTimedOut() {
	if c == nil {
		return
	}
	c.add(&c.opsTimedOut)
}

// IncOpCanceled records an operation abandoned by its caller.
func (c *Collector) IncOpCanceled() {
	if c == nil {
		return
	}
	c.add(&c.opsCanceled)
}

// --- Bridge ---

// IncSyncCompletion records an operation settled by its submission.
func (c *Collector) IncSyncCompletion() {
	if c == nil {
		return
	}
	c.add(&c.syncCompletions)
}

// IncPoll records one poll evaluation.
func (c *Collector) IncPoll() {
	if c == nil {
		return
	}
	c.add(&c.polls)
}

// IncPollRetry records a poll that raised and was retried.
func (c *Collector) IncPollRetry() {
	if c == nil {
		return
	}
	c.add(&c.pollRetries)
}

// IncCleanupFailure records a slot cleanup that failed.
func (c *Collector) IncCleanupFailure() {
	if c == nil {
		return
	}
	c.add(&c.cleanupFailures)
}

// IncFallbackMove records a rename or move that used copy-then-remove.
func (c *Collector) IncFallbackMove() {
	if c == nil {
		return
	}
	c.add(&c.fallbackMoves)
}

// --- Side channels ---

// IncNotifyFailure records a change notification that could not be
// published.
func (c *Collector) IncNotifyFailure() {
	if c == nil {
		return
	}
	c.add(&c.notifyFailures)
}

// IncExportWrite records a successful export object write.
func (c *Collector) IncExportWrite() {
	if c == nil {
		return
	}
	c.add(&c.exportWrites)
}

// IncExportFailure records a failed export object write.
func (c *Collector) IncExportFailure() {
	if c == nil {
		return
	}
	c.add(&c.exportFailures)
}

// --- Snapshot ---

// Snapshot returns an immutable point-in-time view of all metrics.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	byKind := make(map[string]int64, len(c.opsByKind))
	for k, v := range c.opsByKind {
		byKind[k] = v
	}

	return Snapshot{
		OpsStarted:   c.opsStarted,
		OpsSucceeded: c.opsSucceeded,
		OpsFailed:    c.opsFailed,
		OpsTimedOut:  c.opsTimedOut,
		OpsCanceled:  c.opsCanceled,
		OpsByKind:    byKind,

		SyncCompletions: c.syncCompletions,
		Polls:           c.polls,
		PollRetries:     c.pollRetries,
		CleanupFailures: c.cleanupFailures,
		FallbackMoves:   c.fallbackMoves,

		NotifyFailures: c.notifyFailures,
		ExportWrites:   c.exportWrites,
		ExportFailures: c.exportFailures,

		Host:    c.host,
		Profile: c.profile,
	}
}

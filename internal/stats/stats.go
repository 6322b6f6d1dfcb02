// Package stats holds small in-memory counters surfaced only through a
// structured log line at shutdown (spec.md's Non-goals scope out a
// metrics scrape surface, but not counting these numbers somewhere).
package stats

import "sync/atomic"

// Counters tracks gateway-wide admission and execution outcomes.
type Counters struct {
	Admits        atomic.Int64
	QuotaDenials  atomic.Int64
	AuthDenials   atomic.Int64
	WorkerTimeouts atomic.Int64
	TasksCompleted atomic.Int64
	TasksFailed   atomic.Int64
	TasksCancelled atomic.Int64
}

// Snapshot is a point-in-time copy suitable for logging.
type Snapshot struct {
	Admits         int64
	QuotaDenials   int64
	AuthDenials    int64
	WorkerTimeouts int64
	TasksCompleted int64
	TasksFailed    int64
	TasksCancelled int64
}

// Snapshot reads every counter without resetting them.
func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		Admits:         c.Admits.Load(),
		QuotaDenials:   c.QuotaDenials.Load(),
		AuthDenials:    c.AuthDenials.Load(),
		WorkerTimeouts: c.WorkerTimeouts.Load(),
		TasksCompleted: c.TasksCompleted.Load(),
		TasksFailed:    c.TasksFailed.Load(),
		TasksCancelled: c.TasksCancelled.Load(),
	}
}

// Package taskregistry implements TaskRegistry (spec.md L5): the
// authoritative, bounded store of TaskRecords and their subscribers.
//
// Grounded on the teacher's map-plus-mutex session shape
// (internal/mcpserver/server/session.go's SessionManager and
// internal/httpapi/sessions.go's SessionStore), generalized from
// session bookkeeping to task-lifecycle bookkeeping, plus the
// Status/TerminationReason vocabulary from other_examples'
// cklxx-elephant.ai task-store model.
package taskregistry

import (
	"time"
)

// Type is the kind of work a task performs.
type Type string

const (
	TypePrompt     Type = "prompt"
	TypeCodeReview Type = "code-review"
	TypeRefactor   Type = "refactor"
	TypeDebug      Type = "debug"
	TypeCustom     Type = "custom"
)

// Status is the task lifecycle state (spec.md §3).
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// IsTerminal reports whether no further transition is legal.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Record is the authoritative per-task state (spec.md §3 TaskRecord).
// Once Status is terminal the record is immutable; TaskRegistry enforces
// this by refusing any further transition rather than by copy-on-write.
type Record struct {
	TaskID        string
	OwnerIdentity string
	Type          Type
	Prompt        string
	Status        Status
	Output        string
	Error         string
	CreatedAt     time.Time
	StartedAt     *time.Time
	FinishedAt    *time.Time
	DurationSec   float64
	TimeoutSec    int
	OutputCap     int
}

// snapshot returns a value copy safe to hand to subscribers and callers
// outside the registry's lock.
func (r *Record) snapshot() Record {
	cp := *r
	if r.StartedAt != nil {
		t := *r.StartedAt
		cp.StartedAt = &t
	}
	if r.FinishedAt != nil {
		t := *r.FinishedAt
		cp.FinishedAt = &t
	}
	return cp
}

// Request is the caller-supplied description of work to run.
type Request struct {
	TaskID     string // optional; server-assigns a UUID when empty
	Type       Type
	Prompt     string
	TimeoutSec int
	OutputCap  int
}

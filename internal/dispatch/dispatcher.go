// Package dispatch implements TaskDispatcher (spec.md L7): the entry
// point for task submission, wiring QuotaLimiter admission, TrustStore
// observation, TaskRegistry bookkeeping, and WorkerPool execution
// together.
//
// Grounded on the teacher's request-to-session-to-handler plumbing
// style (internal/mcpserver/server/server.go); the sync-wait-on-async
// design is implemented exactly as spec.md's design note describes it:
// a subscriber channel attached to the TaskRecord, no shared mutable
// state between the request goroutine and the worker goroutine.
package dispatch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/agoramesh/bridge/internal/bridgeerr"
	"github.com/agoramesh/bridge/internal/quota"
	"github.com/agoramesh/bridge/internal/stats"
	"github.com/agoramesh/bridge/internal/taskregistry"
	"github.com/agoramesh/bridge/internal/trust"
	"github.com/agoramesh/bridge/internal/worker"
)

// Mode selects synchronous or asynchronous submission.
type Mode int

const (
	Async Mode = iota
	Sync
)

// DefaultPromptCap is the maximum prompt length (spec.md §4.7: "default 16 KiB").
const DefaultPromptCap = 16 * 1024

// DefaultTimeoutSec and MaxTimeoutSec bound per-task timeouts (spec.md §4.6).
const (
	DefaultTimeoutSec = 60
	MaxTimeoutSec     = 300
)

// Dispatcher wires admission, trust, registry and execution together.
type Dispatcher struct {
	Registry *taskregistry.Registry
	Quota    *quota.Limiter
	Trust    *trust.Store
	Pool     *worker.Pool

	// CommandFor maps a task Type to the concrete command+args run in the
	// worker pool; owned by the caller (cmd/bridge wiring), since the
	// mapping is deployment-specific (which CLI binary fronts "prompt"
	// vs "code-review", etc).
	CommandFor func(taskregistry.Type, string) (worker.Spec, error)

	// Stats is optional; when set, admission and terminal outcomes are
	// tallied for the shutdown summary log line (spec.md §9 supplemented
	// structured-counters concern). Nil disables counting.
	Stats *stats.Counters

	// OutputCapFree and OutputCapPaid pick the default output cap by
	// caller tier when the request itself doesn't set one (spec.md §4.6).
	// Zero leaves WorkerPool's own DefaultOutputCap in effect.
	OutputCapFree int
	OutputCapPaid int

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// New constructs a Dispatcher from its collaborators.
func New(reg *taskregistry.Registry, q *quota.Limiter, ts *trust.Store, pool *worker.Pool, commandFor func(taskregistry.Type, string) (worker.Spec, error)) *Dispatcher {
	return &Dispatcher{
		Registry:   reg,
		Quota:      q,
		Trust:      ts,
		Pool:       pool,
		CommandFor: commandFor,
		cancels:    make(map[string]context.CancelFunc),
	}
}

// Identity is the minimal view of a caller Dispatcher needs; decoupled
// from internal/auth.CallerIdentity to avoid an import cycle and to keep
// this package testable without constructing real credentials.
type Identity struct {
	Key    string
	Paid   bool
	Tier   string
}

// SubmitResult is what Submit returns; exactly one of Record or an error
// is meaningful, and in Sync mode Record reflects the task's outcome at
// the point the wait ended (terminal, or still running if the caller's
// context expired first).
type SubmitResult struct {
	Record  taskregistry.Record
	Awaited bool // true if Sync mode actually observed a terminal state
}

// Submit validates and admits a task, registers it, and dispatches it to
// the WorkerPool. In Sync mode it blocks until the task reaches a
// terminal state or ctx is cancelled, whichever comes first; cancelling
// ctx only abandons the wait; the task itself continues running and
// still updates TrustStore (spec.md §4.7).
func (d *Dispatcher) Submit(ctx context.Context, owner Identity, req taskregistry.Request, mode Mode) (SubmitResult, error) {
	if len(req.Prompt) > DefaultPromptCap {
		return SubmitResult{}, bridgeerr.New(bridgeerr.CodeValidation, "prompt exceeds maximum length")
	}
	if req.TimeoutSec <= 0 {
		req.TimeoutSec = DefaultTimeoutSec
	}
	if req.TimeoutSec > MaxTimeoutSec {
		return SubmitResult{}, bridgeerr.New(bridgeerr.CodeValidation, "timeoutSec exceeds maximum")
	}

	dec := d.Quota.Admit(owner.Key, owner.Paid, owner.Tier)
	if !dec.Admitted {
		if d.Stats != nil {
			d.Stats.QuotaDenials.Add(1)
		}
		return SubmitResult{}, bridgeerr.New(bridgeerr.CodeQuotaExceeded, "daily quota exceeded").
			WithDetails(map[string]any{"dailyLimit": dec.DailyLimit, "usedToday": dec.UsedToday, "resetAt": dec.ResetAt})
	}
	if d.Stats != nil {
		d.Stats.Admits.Add(1)
	}

	d.Trust.Observe(owner.Key, trust.EventStart)

	rec, err := d.Registry.Create(owner.Key, req)
	if err != nil {
		return SubmitResult{}, bridgeerr.New(bridgeerr.CodeConflict, err.Error())
	}

	var waiter chan taskregistry.Record
	if mode == Sync {
		waiter = make(chan taskregistry.Record, 1)
		d.Registry.Attach(rec.TaskID, waiter)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	d.mu.Lock()
	d.cancels[rec.TaskID] = cancel
	d.mu.Unlock()

	go d.run(runCtx, owner, rec)

	if mode == Async {
		return SubmitResult{Record: rec}, nil
	}

	select {
	case final := <-waiter:
		return SubmitResult{Record: final, Awaited: true}, nil
	case <-ctx.Done():
		current, _ := d.Registry.Get(rec.TaskID)
		return SubmitResult{Record: current, Awaited: false}, nil
	}
}

func (d *Dispatcher) run(ctx context.Context, owner Identity, rec taskregistry.Record) {
	defer func() {
		d.mu.Lock()
		delete(d.cancels, rec.TaskID)
		d.mu.Unlock()
	}()

	if _, err := d.Registry.Transition(rec.TaskID, taskregistry.StatusRunning, taskregistry.TransitionFields{}); err != nil {
		return
	}

	spec, err := d.CommandFor(rec.Type, rec.Prompt)
	if err != nil {
		d.Registry.Transition(rec.TaskID, taskregistry.StatusFailed, taskregistry.TransitionFields{Error: err.Error()})
		d.Trust.Observe(owner.Key, trust.EventFail)
		return
	}

	// Each task gets its own subdirectory under the worker pool's
	// workspace root so concurrent runs never collide over scratch files
	// (spec.md §5: "each task must be given an isolated subdirectory
	// under it").
	taskDir := filepath.Join(d.Pool.WorkspaceRoot, rec.TaskID)
	if err := os.MkdirAll(taskDir, 0o755); err != nil {
		d.Registry.Transition(rec.TaskID, taskregistry.StatusFailed, taskregistry.TransitionFields{Error: "failed to prepare task workspace: " + err.Error()})
		d.Trust.Observe(owner.Key, trust.EventFail)
		return
	}
	spec.WorkingDir = taskDir
	spec.Timeout = time.Duration(rec.TimeoutSec) * time.Second
	switch {
	case rec.OutputCap > 0:
		spec.OutputCap = rec.OutputCap
	case owner.Paid && d.OutputCapPaid > 0:
		spec.OutputCap = d.OutputCapPaid
	case !owner.Paid && d.OutputCapFree > 0:
		spec.OutputCap = d.OutputCapFree
	}

	result, err := d.Pool.Run(ctx, spec)
	switch {
	case err != nil:
		// Could not even acquire a slot (e.g. the pool's own context was
		// cancelled before a subprocess started).
		d.Registry.Transition(rec.TaskID, taskregistry.StatusFailed, taskregistry.TransitionFields{Error: err.Error()})
		d.Trust.Observe(owner.Key, trust.EventFail)
	case errors.Is(result.Err, context.Canceled):
		d.Registry.Transition(rec.TaskID, taskregistry.StatusCancelled, taskregistry.TransitionFields{})
		if d.Stats != nil {
			d.Stats.TasksCancelled.Add(1)
		}
	case result.OutputCapExceeded:
		d.Registry.Transition(rec.TaskID, taskregistry.StatusFailed, taskregistry.TransitionFields{
			Output: result.Output,
			Error:  bridgeerr.New(bridgeerr.CodeOutputCapExceeded, "worker output exceeded the configured cap").Error(),
		})
		d.Trust.Observe(owner.Key, trust.EventFail)
		if d.Stats != nil {
			d.Stats.TasksFailed.Add(1)
		}
	case result.ExitCode != 0 || result.TimedOut || result.Err != nil:
		d.Registry.Transition(rec.TaskID, taskregistry.StatusFailed, taskregistry.TransitionFields{Output: result.Output, Error: runErrorMessage(result)})
		d.Trust.Observe(owner.Key, trust.EventFail)
		if d.Stats != nil {
			d.Stats.TasksFailed.Add(1)
			if result.TimedOut {
				d.Stats.WorkerTimeouts.Add(1)
			}
		}
	default:
		d.Registry.Transition(rec.TaskID, taskregistry.StatusCompleted, taskregistry.TransitionFields{Output: result.Output})
		d.Trust.Observe(owner.Key, trust.EventComplete)
		if d.Stats != nil {
			d.Stats.TasksCompleted.Add(1)
		}
	}
}

func runErrorMessage(r worker.Result) string {
	if r.TimedOut {
		return "worker timed out"
	}
	if r.Err != nil {
		return r.Err.Error()
	}
	return "non-zero exit"
}

// Cancel transitions a queued task directly to cancelled, or signals a
// running task's worker to terminate gracefully (spec.md §4.7/§4.9:
// "owner or admin"). isAdmin bypasses the ownership check the same way
// GetTask's admin bypass does (internal/httpapi/handlers.go), and must
// be derived the same way: the static admin bearer identity only, never
// any paying identity in general.
func (d *Dispatcher) Cancel(taskID string, requester string, isAdmin bool) error {
	rec, ok := d.Registry.Get(taskID)
	if !ok {
		return bridgeerr.New(bridgeerr.CodeNotFound, "task not found")
	}
	if rec.OwnerIdentity != requester && !isAdmin {
		return bridgeerr.New(bridgeerr.CodeAuthInvalid, "not the task owner")
	}
	if rec.Status.IsTerminal() {
		return bridgeerr.New(bridgeerr.CodeConflict, "task already terminal")
	}

	if rec.Status == taskregistry.StatusQueued {
		_, err := d.Registry.Transition(taskID, taskregistry.StatusCancelled, taskregistry.TransitionFields{})
		return err
	}

	d.mu.Lock()
	cancel, ok := d.cancels[taskID]
	d.mu.Unlock()
	if ok {
		cancel()
	}
	return nil
}

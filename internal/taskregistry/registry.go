package taskregistry

import (
	"container/list"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultCapacity is the bound spec.md §4.5 names.
const DefaultCapacity = 10000

// MaxAge is the hard eviction age regardless of capacity pressure
// (spec.md §3: "evicted ... or after 24 h").
const MaxAge = 24 * time.Hour

// ErrTaskIDTaken is returned by Create when the caller supplied a taskId
// that already exists (spec.md §4.5).
var ErrTaskIDTaken = errors.New("taskregistry: taskId already present")

// ErrNotOwner reports that the caller does not own the record. No Registry
// method returns it: the Registry does not check ownership.
var ErrNotOwner = errors.New("taskregistry: caller does not own this task")

// ErrIllegalTransition is returned when a transition violates the state
// machine in spec.md §4.5.
var ErrIllegalTransition = errors.New("taskregistry: illegal state transition")

type entry struct {
	record      Record
	subscribers []chan Record
	// finishedElem is non-nil only while the record is terminal and
	// tracked in the LRU list for eviction; non-terminal records are
	// never present in lru (spec.md invariant: never evict non-terminal).
	finishedElem *list.Element
}

// Registry is the concurrency-safe, bounded TaskRegistry.
type Registry struct {
	mu       sync.Mutex
	tasks    map[string]*entry
	lru      *list.List // front = most-recently-finished terminal record
	capacity int
	now      func() time.Time
}

// New constructs a Registry with the given capacity (0 selects
// DefaultCapacity).
func New(capacity int) *Registry {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Registry{
		tasks:    make(map[string]*entry),
		lru:      list.New(),
		capacity: capacity,
		now:      time.Now,
	}
}

// Create registers a new task, assigning a UUID if req.TaskID is empty
// (spec.md §4.5).
func (r *Registry) Create(owner string, req Request) (Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := req.TaskID
	if id == "" {
		id = uuid.NewString()
	} else if _, exists := r.tasks[id]; exists {
		return Record{}, ErrTaskIDTaken
	}

	rec := Record{
		TaskID:        id,
		OwnerIdentity: owner,
		Type:          req.Type,
		Prompt:        req.Prompt,
		Status:        StatusQueued,
		CreatedAt:     r.now(),
		TimeoutSec:    req.TimeoutSec,
		OutputCap:     req.OutputCap,
	}
	r.tasks[id] = &entry{record: rec}
	r.evictOldTerminalsLocked()
	return rec.snapshot(), nil
}

// Get returns the current snapshot of a task, or false if unknown.
func (r *Registry) Get(taskID string) (Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.tasks[taskID]
	if !ok {
		return Record{}, false
	}
	return e.record.snapshot(), true
}

// Attach registers a subscriber for terminal notification. If the task is
// already terminal, the channel receives the record immediately (and is
// never retained); spec.md §4.5: "if terminal, delivers the record
// immediately and discards the subscriber."
func (r *Registry) Attach(taskID string, sub chan Record) bool {
	r.mu.Lock()
	e, ok := r.tasks[taskID]
	if !ok {
		r.mu.Unlock()
		return false
	}
	if e.record.Status.IsTerminal() {
		snap := e.record.snapshot()
		r.mu.Unlock()
		sub <- snap
		return true
	}
	e.subscribers = append(e.subscribers, sub)
	r.mu.Unlock()
	return true
}

// TransitionFields carries the optional fields a transition may set.
type TransitionFields struct {
	Output string
	Error  string
}

// Transition moves a task forward in its state machine. Only the owning
// worker slot or dispatcher should call this (spec.md §4.5); it is not an
// authorization check against an external caller, just a lifecycle API.
// On a terminal transition, the record is atomically snapshotted and
// delivered to every attached subscriber exactly once, then the
// subscriber list is cleared.
func (r *Registry) Transition(taskID string, next Status, fields TransitionFields) (Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.tasks[taskID]
	if !ok {
		return Record{}, ErrIllegalTransition
	}
	if e.record.Status.IsTerminal() {
		return Record{}, ErrIllegalTransition
	}
	if !legal(e.record.Status, next) {
		return Record{}, ErrIllegalTransition
	}

	now := r.now()
	switch next {
	case StatusRunning:
		e.record.StartedAt = &now
	case StatusCompleted, StatusFailed, StatusCancelled:
		e.record.FinishedAt = &now
		if e.record.StartedAt != nil {
			e.record.DurationSec = now.Sub(*e.record.StartedAt).Seconds()
		}
	}
	e.record.Status = next
	e.record.Output = fields.Output
	e.record.Error = fields.Error

	snap := e.record.snapshot()

	if next.IsTerminal() {
		for _, sub := range e.subscribers {
			sub <- snap
		}
		e.subscribers = nil
		e.finishedElem = r.lru.PushFront(taskID)
		r.evictOldTerminalsLocked()
	}

	return snap, nil
}

// legal enforces the state machine in spec.md §4.5:
// queued -> running -> (completed|failed|cancelled); queued -> cancelled.
func legal(from, to Status) bool {
	switch from {
	case StatusQueued:
		return to == StatusRunning || to == StatusCancelled
	case StatusRunning:
		return to == StatusCompleted || to == StatusFailed || to == StatusCancelled
	default:
		return false
	}
}

// evictOldTerminalsLocked drops the least-recently-finished terminal
// records once capacity is exceeded, and unconditionally drops any
// terminal record older than MaxAge. Non-terminal records are never
// evicted (spec.md §4.5 invariant) — they simply don't appear in lru.
func (r *Registry) evictOldTerminalsLocked() {
	now := r.now()
	for elem := r.lru.Back(); elem != nil; {
		prev := elem.Prev()
		id := elem.Value.(string)
		e := r.tasks[id]
		if e != nil && e.record.FinishedAt != nil && now.Sub(*e.record.FinishedAt) > MaxAge {
			r.lru.Remove(elem)
			delete(r.tasks, id)
		}
		elem = prev
	}
	for len(r.tasks) > r.capacity && r.lru.Len() > 0 {
		oldest := r.lru.Back()
		id := oldest.Value.(string)
		r.lru.Remove(oldest)
		delete(r.tasks, id)
	}
}

// WithClock overrides the registry's clock for deterministic tests.
func (r *Registry) WithClock(now func() time.Time) *Registry {
	r.now = now
	return r
}

// Len reports the number of tracked tasks (test helper).
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks)
}

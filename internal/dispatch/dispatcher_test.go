package dispatch

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/agoramesh/bridge/internal/bridgeerr"
	"github.com/agoramesh/bridge/internal/quota"
	"github.com/agoramesh/bridge/internal/taskregistry"
	"github.com/agoramesh/bridge/internal/trust"
	"github.com/agoramesh/bridge/internal/worker"
)

type fixedLimits struct{ limit int }

func (f fixedLimits) ForName(string) int { return f.limit }

func newTestDispatcher(t *testing.T, command string, args []string) *Dispatcher {
	t.Helper()
	ws, err := os.MkdirTemp("", "dispatch-test-*")
	if err != nil {
		t.Fatalf("failed to create workspace: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(ws) })

	reg := taskregistry.New(0)
	q := quota.New(fixedLimits{limit: 100})
	q.BurstPerMinute = 0
	ts := trust.New(0)
	pool := worker.New(2, 10, []string{command}, ws, []string{"PATH=/usr/bin:/bin"})

	return New(reg, q, ts, pool, func(taskregistry.Type, string) (worker.Spec, error) {
		return worker.Spec{Command: command, Args: args}, nil
	})
}

func TestDispatcher_SyncSubmitWaitsForTerminal(t *testing.T) {
	d := newTestDispatcher(t, "/bin/echo", []string{"ok"})

	res, err := d.Submit(context.Background(), Identity{Key: "free:alice"}, taskregistry.Request{TimeoutSec: 5}, Sync)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Awaited {
		t.Fatal("expected sync submit to observe a terminal state")
	}
	if res.Record.Status != taskregistry.StatusCompleted {
		t.Fatalf("expected completed, got %v", res.Record.Status)
	}
}

func TestDispatcher_AsyncSubmitReturnsImmediatelyQueued(t *testing.T) {
	d := newTestDispatcher(t, "/bin/sleep", []string{"1"})

	res, err := d.Submit(context.Background(), Identity{Key: "free:bob"}, taskregistry.Request{TimeoutSec: 5}, Async)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Record.Status != taskregistry.StatusQueued {
		t.Fatalf("expected queued immediately, got %v", res.Record.Status)
	}
}

func TestDispatcher_QuotaExceededIsTerminalForTheRequest(t *testing.T) {
	d := newTestDispatcher(t, "/bin/echo", []string{"ok"})
	d.Quota = quota.New(fixedLimits{limit: 0})

	_, err := d.Submit(context.Background(), Identity{Key: "free:carol"}, taskregistry.Request{TimeoutSec: 5}, Async)
	be := bridgeerr.As(err)
	if be == nil || be.Code != bridgeerr.CodeQuotaExceeded {
		t.Fatalf("expected QuotaExceeded, got %v", err)
	}
}

func TestDispatcher_PaidIdentityBypassesQuota(t *testing.T) {
	d := newTestDispatcher(t, "/bin/echo", []string{"ok"})
	d.Quota = quota.New(fixedLimits{limit: 0})

	_, err := d.Submit(context.Background(), Identity{Key: "bearer:admin", Paid: true}, taskregistry.Request{TimeoutSec: 5}, Async)
	if err != nil {
		t.Fatalf("expected paid identity to bypass quota, got %v", err)
	}
}

func TestDispatcher_RejectsPromptOverCap(t *testing.T) {
	d := newTestDispatcher(t, "/bin/echo", []string{"ok"})
	huge := make([]byte, DefaultPromptCap+1)
	_, err := d.Submit(context.Background(), Identity{Key: "free:dave"}, taskregistry.Request{Prompt: string(huge)}, Async)
	be := bridgeerr.As(err)
	if be == nil || be.Code != bridgeerr.CodeValidation {
		t.Fatalf("expected ValidationError for oversize prompt, got %v", err)
	}
}

func TestDispatcher_CancelQueuedTaskTransitionsDirectly(t *testing.T) {
	d := newTestDispatcher(t, "/bin/sleep", []string{"5"})

	res, err := d.Submit(context.Background(), Identity{Key: "free:erin"}, taskregistry.Request{TaskID: "t1", TimeoutSec: 5}, Async)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Cancel racing the run() goroutine's transition to running is
	// acceptable either way for this assertion: cancel must not error
	// when the task is still owned by erin.
	if err := d.Cancel(res.Record.TaskID, "free:erin", false); err != nil {
		t.Fatalf("unexpected cancel error: %v", err)
	}
}

func TestDispatcher_CancelRejectsNonOwner(t *testing.T) {
	d := newTestDispatcher(t, "/bin/sleep", []string{"5"})

	res, err := d.Submit(context.Background(), Identity{Key: "free:frank"}, taskregistry.Request{TimeoutSec: 5}, Async)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	err = d.Cancel(res.Record.TaskID, "free:mallory", false)
	be := bridgeerr.As(err)
	if be == nil || be.Code != bridgeerr.CodeAuthInvalid {
		t.Fatalf("expected AuthInvalid for a non-owner cancel, got %v", err)
	}
}

func TestDispatcher_CancelAllowsAdminBypass(t *testing.T) {
	d := newTestDispatcher(t, "/bin/sleep", []string{"5"})

	res, err := d.Submit(context.Background(), Identity{Key: "free:heidi"}, taskregistry.Request{TimeoutSec: 5}, Async)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := d.Cancel(res.Record.TaskID, "bearer:admin", true); err != nil {
		t.Fatalf("expected admin cancel to bypass ownership, got %v", err)
	}
}

func TestDispatcher_OutputCapExceededFailsWithCode(t *testing.T) {
	d := newTestDispatcher(t, "/bin/echo", []string{"0123456789"})

	res, err := d.Submit(context.Background(), Identity{Key: "free:ivan"}, taskregistry.Request{TimeoutSec: 5, OutputCap: 4}, Sync)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Record.Status != taskregistry.StatusFailed {
		t.Fatalf("expected failed status once output exceeds the cap, got %v", res.Record.Status)
	}
	if !strings.Contains(res.Record.Error, string(bridgeerr.CodeOutputCapExceeded)) {
		t.Fatalf("expected error to carry %s, got %q", bridgeerr.CodeOutputCapExceeded, res.Record.Error)
	}
}

func TestDispatcher_RunUsesIsolatedPerTaskWorkspace(t *testing.T) {
	d := newTestDispatcher(t, "/bin/echo", []string{"ok"})

	res, err := d.Submit(context.Background(), Identity{Key: "free:judy"}, taskregistry.Request{TaskID: "isolated-task", TimeoutSec: 5}, Sync)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Record.Status != taskregistry.StatusCompleted {
		t.Fatalf("expected completed, got %v", res.Record.Status)
	}

	want := filepath.Join(d.Pool.WorkspaceRoot, "isolated-task")
	if _, err := os.Stat(want); err != nil {
		t.Fatalf("expected per-task workspace directory to exist at %s: %v", want, err)
	}
}

func TestDispatcher_SyncCancelledByCallerContextStillCompletesTask(t *testing.T) {
	d := newTestDispatcher(t, "/bin/echo", []string{"ok"})

	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()

	res, err := d.Submit(ctx, Identity{Key: "free:grace"}, taskregistry.Request{TaskID: "t2", TimeoutSec: 5}, Sync)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Awaited {
		t.Fatal("expected the caller's deadline to expire before the task finished")
	}

	// Give the background run() goroutine a moment to reach a terminal
	// state; caller cancellation must not have cancelled it.
	time.Sleep(100 * time.Millisecond)
	final, ok := d.Registry.Get("t2")
	if !ok {
		t.Fatal("expected task to still be registered")
	}
	if final.Status != taskregistry.StatusCompleted {
		t.Fatalf("expected task to complete despite caller abandoning the wait, got %v", final.Status)
	}
}

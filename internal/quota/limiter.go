// Package quota implements QuotaLimiter (spec.md L4): per-identity
// daily-window and burst admission, with paid identities bypassing it
// entirely.
package quota

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// TierLimits maps a tier name to its daily quota (spec.md §4.3).
type TierLimits interface {
	ForName(tier string) int
}

// Decision is the outcome of an admission check.
type Decision struct {
	Admitted    bool
	DailyLimit  int
	UsedToday   int
	ResetAt     time.Time
}

type window struct {
	dayStart  time.Time
	count     int
	burst     *rate.Limiter
}

// Limiter is the concurrency-safe, per-identity QuotaLimiter.
type Limiter struct {
	mu      sync.Mutex
	windows map[string]*window
	limits  TierLimits
	now     func() time.Time

	// BurstPerMinute bounds short-window spend underneath the daily cap
	// (spec.md §9 DOMAIN STACK burst-smoothing layer); 0 disables it.
	BurstPerMinute int
}

// New constructs a Limiter against the given tier-limit table. Admission
// is the daily-window check alone (spec.md §4.4: "if countThisDay <
// limit(tier), increment and admit; else deny" names no other denial
// path); BurstPerMinute defaults to 0 so no undocumented per-minute
// layer can deny a request the daily window would still admit.
func New(limits TierLimits) *Limiter {
	return &Limiter{
		windows: make(map[string]*window),
		limits:  limits,
		now:     time.Now,
	}
}

// Admit is the only place the counter increments (spec.md §4.4); it must
// be called exactly once per accepted task or MCP tool call. paid bypasses
// the limiter unconditionally. tier is read from TrustStore by the caller
// (QuotaLimiter never mutates TrustProfile, per spec.md §3 ownership).
func (l *Limiter) Admit(key string, paid bool, tier string) Decision {
	if paid {
		return Decision{Admitted: true}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	limit := l.limits.ForName(tier)

	w, ok := l.windows[key]
	if !ok || now.Sub(w.dayStart) > 24*time.Hour {
		w = &window{dayStart: now, count: 0}
		if l.BurstPerMinute > 0 {
			w.burst = rate.NewLimiter(rate.Limit(float64(l.BurstPerMinute)/60.0), l.BurstPerMinute)
		}
		l.windows[key] = w
	}

	resetAt := w.dayStart.Add(24 * time.Hour)

	if w.count >= limit {
		return Decision{Admitted: false, DailyLimit: limit, UsedToday: w.count, ResetAt: resetAt}
	}
	if w.burst != nil && !w.burst.AllowN(now, 1) {
		return Decision{Admitted: false, DailyLimit: limit, UsedToday: w.count, ResetAt: resetAt}
	}

	w.count++
	return Decision{Admitted: true, DailyLimit: limit, UsedToday: w.count, ResetAt: resetAt}
}

// Peek reports the current window state without admitting or consuming
// quota (spec.md §4.4).
func (l *Limiter) Peek(key string, tier string) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	limit := l.limits.ForName(tier)
	w, ok := l.windows[key]
	if !ok || now.Sub(w.dayStart) > 24*time.Hour {
		return Decision{Admitted: true, DailyLimit: limit, UsedToday: 0, ResetAt: now.Add(24 * time.Hour)}
	}
	return Decision{DailyLimit: limit, UsedToday: w.count, ResetAt: w.dayStart.Add(24 * time.Hour)}
}

// WithClock overrides the limiter's clock for deterministic tests.
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	l.now = now
	return l
}

// Package trust implements TrustStore (spec.md L3): per-identity counters
// used to classify progressive trust tiers, bounded by LRU eviction.
//
// Grounded on the teacher's map-plus-janitor idiom
// (internal/httpapi/ratelimit.go's RateLimiter.cleanupLoop); the
// opportunistic TTL sweep is delegated to github.com/patrickmn/go-cache
// (pulled from dataparency-dev-AI-delegation's go.mod) while the
// capacity-bounded LRU-by-lastActivityAt eviction the spec requires is
// hand-tracked via container/list, since go-cache has no capacity bound.
package trust

import (
	"container/list"
	"sync"
	"time"

	cache "github.com/patrickmn/go-cache"
)

// Event is one of the three observations TaskDispatcher reports.
type Event string

const (
	EventStart    Event = "start"
	EventComplete Event = "complete"
	EventFail     Event = "fail"
)

// DefaultCapacity is the minimum bound spec.md §4.3 requires ("capacity
// chosen >= 100x expected daily active identities, minimum 10000").
const DefaultCapacity = 10000

// idleTTL is how long an identity may go unobserved before go-cache's
// janitor opportunistically drops it; this is strictly looser than the
// capacity-bound LRU eviction below, which is what actually enforces the
// hard cap.
const idleTTL = 72 * time.Hour

type record struct {
	profile      Profile
	lastActivity time.Time
	highestTier  Tier
	elem         *list.Element // position in lru, keyed by identity key
}

// Store is the concurrency-safe, bounded TrustStore.
type Store struct {
	mu       sync.Mutex
	records  map[string]*record
	lru      *list.List // front = most recently used
	capacity int
	opportun *cache.Cache
	now      func() time.Time
}

// New constructs a Store with the given capacity (0 selects
// DefaultCapacity).
func New(capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Store{
		records:  make(map[string]*record),
		lru:      list.New(),
		capacity: capacity,
		opportun: cache.New(idleTTL, idleTTL/4),
		now:      time.Now,
	}
}

// Observe records a lifecycle event for identity, creating the profile on
// first observation (spec.md §4.3).
func (s *Store) Observe(key string, event Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	r, ok := s.records[key]
	if !ok {
		r = &record{profile: Profile{FirstSeenAt: now}, highestTier: TierNew}
		r.elem = s.lru.PushFront(key)
		s.records[key] = r
		s.evictIfNeededLocked()
	} else {
		s.lru.MoveToFront(r.elem)
	}

	switch event {
	case EventComplete:
		r.profile.Completions++
	case EventFail:
		r.profile.Failures++
	case EventStart:
		// start has no counter of its own; it only refreshes activity.
	}
	r.lastActivity = now
	r.highestTier = Max(r.highestTier, ComputeTier(r.profile, now))

	s.opportun.Set(key, struct{}{}, cache.DefaultExpiration)
}

// Get returns the current profile and tier for an identity. A never-seen
// identity returns a zero-value NEW profile without creating a record
// (observation only happens through Observe, matching the ownership note
// in spec.md §3 that QuotaLimiter reads but never mutates TrustProfile).
func (s *Store) Get(key string) (Profile, Tier) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[key]
	if !ok {
		return Profile{}, TierNew
	}
	s.lru.MoveToFront(r.elem)
	tier := Max(r.highestTier, ComputeTier(r.profile, s.now()))
	return r.profile, tier
}

// evictIfNeededLocked drops the least-recently-used record once capacity
// is exceeded. Eviction implicitly resets that identity's tier to NEW on
// next observation, since the record (and its highestTier) is gone
// (spec.md §4.3).
func (s *Store) evictIfNeededLocked() {
	for len(s.records) > s.capacity {
		oldest := s.lru.Back()
		if oldest == nil {
			return
		}
		key := oldest.Value.(string)
		s.lru.Remove(oldest)
		delete(s.records, key)
		s.opportun.Delete(key)
	}
}

// WithClock overrides the store's clock for deterministic tests.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// Len reports the current number of tracked identities (test helper).
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

package trust

import "time"

// Tier is the progressive-trust classification derived from a profile
// (spec.md §4.3). ComputeTier derives it from the current counters; Store
// also keeps the highest tier each identity has reached and reports the
// higher of the two.
type Tier string

const (
	TierNew         Tier = "NEW"
	TierFamiliar    Tier = "FAMILIAR"
	TierEstablished Tier = "ESTABLISHED"
	TierTrusted     Tier = "TRUSTED"
)

// Profile is the minimal data Tier needs, decoupled from Store so the
// tier function is a pure, directly-testable computation (spec.md §8:
// "Tier computation is a pure function of the TrustProfile").
type Profile struct {
	FirstSeenAt time.Time
	Completions int
	Failures    int
}

// AgeDays returns the whole number of days since FirstSeenAt, as of now.
func (p Profile) AgeDays(now time.Time) int {
	return int(now.Sub(p.FirstSeenAt).Hours() / 24)
}

// FailureRate is failures / max(1, completions+failures) (spec.md §4.3).
func (p Profile) FailureRate() float64 {
	total := p.Completions + p.Failures
	if total < 1 {
		total = 1
	}
	return float64(p.Failures) / float64(total)
}

// ComputeTier evaluates the tier-entry table from spec.md §4.3 purely from
// the profile's current counters, so its result can drop when failures
// accumulate. It has no memory: callers that need "promotion never
// regresses" semantics (spec.md's monotonicity invariant) track the
// highest tier seen and take the max, as Store does.
func ComputeTier(p Profile, now time.Time) Tier {
	age := p.AgeDays(now)
	rate := p.FailureRate()

	if age >= 90 && p.Completions >= 50 && rate < 0.10 {
		return TierTrusted
	}
	if age >= 30 && p.Completions >= 20 && rate < 0.20 {
		return TierEstablished
	}
	if age >= 7 && p.Completions >= 5 {
		return TierFamiliar
	}
	return TierNew
}

// Max returns the higher of two tiers by entry-condition strictness,
// used to enforce the monotonic-promotion invariant in Store.
func Max(a, b Tier) Tier {
	rank := func(t Tier) int {
		switch t {
		case TierTrusted:
			return 3
		case TierEstablished:
			return 2
		case TierFamiliar:
			return 1
		default:
			return 0
		}
	}
	if rank(a) >= rank(b) {
		return a
	}
	return b
}

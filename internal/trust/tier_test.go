package trust

import (
	"testing"
	"time"
)

func TestComputeTier_Boundaries(t *testing.T) {
	now := time.Unix(1700000000, 0)

	tests := []struct {
		name string
		p    Profile
		want Tier
	}{
		{"brand new", Profile{FirstSeenAt: now}, TierNew},
		{
			"familiar at exact boundary",
			Profile{FirstSeenAt: now.Add(-7 * 24 * time.Hour), Completions: 5},
			TierFamiliar,
		},
		{
			"one completion short of familiar",
			Profile{FirstSeenAt: now.Add(-7 * 24 * time.Hour), Completions: 4},
			TierNew,
		},
		{
			"one day short of familiar age",
			Profile{FirstSeenAt: now.Add(-6 * 24 * time.Hour), Completions: 10},
			TierNew,
		},
		{
			"established at exact boundary",
			Profile{FirstSeenAt: now.Add(-30 * 24 * time.Hour), Completions: 20, Failures: 4},
			TierEstablished, // failure rate 4/24 = 0.1667 < 0.20
		},
		{
			"established failure rate too high",
			Profile{FirstSeenAt: now.Add(-30 * 24 * time.Hour), Completions: 20, Failures: 6},
			TierFamiliar, // 6/26 = 0.2308 >= 0.20, falls back but still meets familiar
		},
		{
			"trusted at exact boundary",
			Profile{FirstSeenAt: now.Add(-90 * 24 * time.Hour), Completions: 50, Failures: 5},
			TierTrusted, // 5/55 = 0.0909 < 0.10
		},
		{
			"trusted failure rate too high falls to established",
			Profile{FirstSeenAt: now.Add(-90 * 24 * time.Hour), Completions: 50, Failures: 10},
			TierEstablished, // 10/60 = 0.1667, still under 0.20 and meets established reqs
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeTier(tt.p, now)
			if got != tt.want {
				t.Errorf("ComputeTier() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFailureRate_NoActivity(t *testing.T) {
	p := Profile{}
	if rate := p.FailureRate(); rate != 0 {
		t.Errorf("expected 0 failure rate with no activity, got %v", rate)
	}
}

func TestMax_OrdersByStrictness(t *testing.T) {
	if Max(TierNew, TierTrusted) != TierTrusted {
		t.Error("Max should return the stricter tier")
	}
	if Max(TierTrusted, TierNew) != TierTrusted {
		t.Error("Max should be order-independent")
	}
	if Max(TierFamiliar, TierEstablished) != TierEstablished {
		t.Error("Max should rank established above familiar")
	}
}

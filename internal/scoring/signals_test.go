package scoring

import (
	"encoding/json"
	"testing"
	"time"
)

func TestCombine_WeightsAndClamp(t *testing.T) {
	t.Parallel()

	if got := DefaultWeights.Combine(1, 1, 1, 1); got != 1 {
		t.Fatalf("all-ones must combine to 1, got %f", got)
	}
	if got := DefaultWeights.Combine(0, 0, 0, 0); got != 0 {
		t.Fatalf("all-zeros must combine to 0, got %f", got)
	}

	got := DefaultWeights.Combine(1, 0, 0, 0)
	if got != 0.35 {
		t.Fatalf("relevance-only combine: got %f want 0.35", got)
	}

	// Out-of-range sub-scores are clamped before weighting.
	if got := DefaultWeights.Combine(5, -3, 0, 0); got != 0.35 {
		t.Fatalf("clamped combine: got %f want 0.35", got)
	}
}

func TestCrossSourceScore_SaturatesAtThreeTopTierSources(t *testing.T) {
	t.Parallel()

	got := crossSourceScore([]int16{1, 1, 1}, 3)
	if got != 1.0 {
		t.Fatalf("three distinct tier-1 sources must saturate at 1.0, got %f", got)
	}
}

func TestCrossSourceScore_CredibilityWeighted(t *testing.T) {
	t.Parallel()

	strong := crossSourceScore([]int16{1, 1}, 3)
	weak := crossSourceScore([]int16{5, 5}, 3)
	if weak >= strong {
		t.Fatalf("low-tier sources must contribute less: weak=%f strong=%f", weak, strong)
	}
	if weak <= 0 {
		t.Fatalf("low-tier sources still contribute: %f", weak)
	}
}

func TestCredibilityWeight_Bounds(t *testing.T) {
	t.Parallel()

	if got := credibilityWeight(1); got != 1.0 {
		t.Fatalf("tier 1 weight: got %f", got)
	}
	if got := credibilityWeight(5); got != 0.2 {
		t.Fatalf("tier 5 weight: got %f", got)
	}
	if credibilityWeight(0) != credibilityWeight(1) || credibilityWeight(9) != credibilityWeight(5) {
		t.Fatalf("out-of-range tiers must clamp")
	}
}

func TestVelocityScore_MonotonicInArrivals(t *testing.T) {
	t.Parallel()

	window := 24 * time.Hour
	prev := -1.0
	for arrivals := 0; arrivals <= 64; arrivals++ {
		got := velocityScore(arrivals, window, 0, 0)
		if got < prev {
			t.Fatalf("velocity decreased at arrivals=%d: %f < %f", arrivals, got, prev)
		}
		if got < 0 || got > 1 {
			t.Fatalf("velocity out of range at arrivals=%d: %f", arrivals, got)
		}
		prev = got
	}
}

func TestVelocityScore_EngagementBlend(t *testing.T) {
	t.Parallel()

	quiet := velocityScore(2, 24*time.Hour, 0, 0)
	loud := velocityScore(2, 24*time.Hour, 0, 1)
	if loud <= quiet {
		t.Fatalf("engagement must raise velocity: loud=%f quiet=%f", loud, quiet)
	}
}

func TestEngagementScore(t *testing.T) {
	t.Parallel()

	hn := engagementScore("api_hn", json.RawMessage(`{"score": 100}`))
	if hn != 0.5 {
		t.Fatalf("hn engagement: got %f want 0.5", hn)
	}

	reddit := engagementScore("api_reddit", json.RawMessage(`{"score": 500, "upvote_ratio": 0.5}`))
	if reddit != 0.5 {
		t.Fatalf("reddit engagement: got %f want 0.5", reddit)
	}

	if got := engagementScore("api_hn", json.RawMessage(`{"score": 100000}`)); got != 1 {
		t.Fatalf("engagement must clamp at 1, got %f", got)
	}
	if got := engagementScore("rss", json.RawMessage(`{"score": 100}`)); got != 0 {
		t.Fatalf("rss payloads carry no engagement, got %f", got)
	}
	if got := engagementScore("api_hn", nil); got != 0 {
		t.Fatalf("empty payload engagement: got %f", got)
	}
}

func TestNoveltyFromCosine(t *testing.T) {
	t.Parallel()

	if got := noveltyFromCosine(0.9); got < 0.099 || got > 0.101 {
		t.Fatalf("novelty from cosine 0.9: got %f", got)
	}
	if got := noveltyFromCosine(1.2); got != 0 {
		t.Fatalf("cosine above 1 must clamp novelty to 0, got %f", got)
	}
}

func TestNoveltyFromAge_Tiers(t *testing.T) {
	t.Parallel()

	cases := []struct {
		age  time.Duration
		want float64
	}{
		{time.Hour, 0.9},
		{12 * time.Hour, 0.7},
		{48 * time.Hour, 0.5},
		{10 * 24 * time.Hour, 0.3},
	}
	for _, tc := range cases {
		if got := noveltyFromAge(tc.age); got != tc.want {
			t.Fatalf("age %v: got %f want %f", tc.age, got, tc.want)
		}
	}
}

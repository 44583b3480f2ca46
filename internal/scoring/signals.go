package scoring

import (
	"encoding/json"
	"math"
	"time"
)

type Weights struct {
	Relevance   float64
	Velocity    float64
	CrossSource float64
	Novelty     float64
}

var DefaultWeights = Weights{
	Relevance:   0.35,
	Velocity:    0.25,
	CrossSource: 0.20,
	Novelty:     0.20,
}

const (
	DefaultCrossSourceSaturation = 3
	DefaultVelocityWindow        = 24 * time.Hour
	DefaultNoveltyLookback       = 30 * 24 * time.Hour

	// Arrival rate at which the velocity sub-score saturates.
	defaultVelocitySaturationPerHour = 2.0

	velocityRateWeight       = 0.7
	velocityEngagementWeight = 0.3

	hackerNewsEngagementCeiling = 200.0
	redditEngagementCeiling     = 500.0
)

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

func (w Weights) Combine(relevance, velocity, crossSource, novelty float64) float64 {
	combined := w.Relevance*clamp01(relevance) +
		w.Velocity*clamp01(velocity) +
		w.CrossSource*clamp01(crossSource) +
		w.Novelty*clamp01(novelty)
	return clamp01(combined)
}

// credibilityWeight maps a 1 (best) to 5 (worst) tier onto a contribution
// weight so low-credibility sources count for less in cross-source scoring.
func credibilityWeight(tier int16) float64 {
	if tier < 1 {
		tier = 1
	}
	if tier > 5 {
		tier = 5
	}
	return float64(6-tier) / 5.0
}

// crossSourceScore is the credibility-weighted distinct-source fraction
// relative to the saturation count.
func crossSourceScore(tiers []int16, saturation int) float64 {
	if saturation < 1 {
		saturation = DefaultCrossSourceSaturation
	}
	sum := 0.0
	for _, tier := range tiers {
		sum += credibilityWeight(tier)
	}
	return clamp01(sum / float64(saturation))
}

// velocityScore blends the log-scaled member arrival rate with payload
// engagement. It is monotonically non-decreasing in the arrival count for a
// fixed window.
func velocityScore(arrivalsInWindow int, window time.Duration, saturationPerHour, engagement float64) float64 {
	if arrivalsInWindow < 0 {
		arrivalsInWindow = 0
	}
	hours := window.Hours()
	if hours <= 0 {
		hours = DefaultVelocityWindow.Hours()
	}
	if saturationPerHour <= 0 {
		saturationPerHour = defaultVelocitySaturationPerHour
	}

	rate := float64(arrivalsInWindow) / hours
	base := math.Log1p(rate) / math.Log1p(saturationPerHour)
	return clamp01(velocityRateWeight*clamp01(base) + velocityEngagementWeight*clamp01(engagement))
}

// engagementScore derives a [0,1] engagement signal from the source payload.
// Hacker News items carry a score; Reddit items carry score and upvote_ratio.
func engagementScore(sourceType string, rawPayload json.RawMessage) float64 {
	if len(rawPayload) == 0 {
		return 0
	}

	var payload struct {
		Score       *float64 `json:"score"`
		UpvoteRatio *float64 `json:"upvote_ratio"`
	}
	if err := json.Unmarshal(rawPayload, &payload); err != nil || payload.Score == nil {
		return 0
	}

	switch sourceType {
	case "api_hn":
		return clamp01(*payload.Score / hackerNewsEngagementCeiling)
	case "api_reddit":
		ratio := 1.0
		if payload.UpvoteRatio != nil {
			ratio = clamp01(*payload.UpvoteRatio)
		}
		return clamp01(*payload.Score / redditEngagementCeiling * ratio)
	default:
		return 0
	}
}

// noveltyFromCosine inverts the best similarity against prior clusters.
func noveltyFromCosine(bestCosine float64) float64 {
	return clamp01(1 - bestCosine)
}

// noveltyFromAge is the fallback when the item has no embedding to compare.
func noveltyFromAge(age time.Duration) float64 {
	switch {
	case age < 6*time.Hour:
		return 0.9
	case age < 24*time.Hour:
		return 0.7
	case age < 72*time.Hour:
		return 0.5
	default:
		return 0.3
	}
}

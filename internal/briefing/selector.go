package briefing

import (
	"sort"
	"time"
)

// Candidate is a cluster eligible for a briefing, carried with its canonical
// item and latest score snapshot.
type Candidate struct {
	ClusterID        string
	RawItemID        string
	SourceID         string
	Title            string
	Summary          string
	CombinedScore    float64
	CrossSourceScore float64
	PublishedAt      *time.Time
	FetchedAt        time.Time
	SourceNames      []string
}

func (c Candidate) publishKey() time.Time {
	if c.PublishedAt != nil && !c.PublishedAt.IsZero() {
		return c.PublishedAt.UTC()
	}
	return c.FetchedAt.UTC()
}

// selectTop ranks candidates by combined score descending, breaking ties on
// cross-source score descending then earliest publish ascending, and walks
// the ranking with a per-source cap. Selection is deterministic for a fixed
// input set.
func selectTop(candidates []Candidate, maxItems, perSourceCap int) []Candidate {
	if maxItems <= 0 || len(candidates) == 0 {
		return nil
	}
	if perSourceCap <= 0 {
		perSourceCap = maxItems
	}

	ranked := make([]Candidate, len(candidates))
	copy(ranked, candidates)
	sort.Slice(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.CombinedScore != b.CombinedScore {
			return a.CombinedScore > b.CombinedScore
		}
		if a.CrossSourceScore != b.CrossSourceScore {
			return a.CrossSourceScore > b.CrossSourceScore
		}
		ak, bk := a.publishKey(), b.publishKey()
		if !ak.Equal(bk) {
			return ak.Before(bk)
		}
		return a.ClusterID < b.ClusterID
	})

	perSource := make(map[string]int, len(ranked))
	selected := make([]Candidate, 0, maxItems)
	for _, candidate := range ranked {
		if len(selected) >= maxItems {
			break
		}
		if perSource[candidate.SourceID] >= perSourceCap {
			continue
		}
		perSource[candidate.SourceID]++
		selected = append(selected, candidate)
	}
	return selected
}

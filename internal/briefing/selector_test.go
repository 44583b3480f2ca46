package briefing

import (
	"strings"
	"testing"
	"time"
)

func ts(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}

func tsPtr(s string) *time.Time {
	t := ts(s)
	return &t
}

func TestSelectTop_RanksByCombinedScore(t *testing.T) {
	t.Parallel()

	candidates := []Candidate{
		{ClusterID: "c1", SourceID: "s1", CombinedScore: 0.4, FetchedAt: ts("2026-08-28T08:00:00Z")},
		{ClusterID: "c2", SourceID: "s2", CombinedScore: 0.9, FetchedAt: ts("2026-08-28T08:00:00Z")},
		{ClusterID: "c3", SourceID: "s3", CombinedScore: 0.7, FetchedAt: ts("2026-08-28T08:00:00Z")},
	}
	got := selectTop(candidates, 10, 3)
	if len(got) != 3 {
		t.Fatalf("expected 3 selected, got %d", len(got))
	}
	for i, want := range []string{"c2", "c3", "c1"} {
		if got[i].ClusterID != want {
			t.Fatalf("rank %d: expected %s, got %s", i, want, got[i].ClusterID)
		}
	}
}

func TestSelectTop_TieBreaks(t *testing.T) {
	t.Parallel()

	// Equal combined scores fall through to cross-source descending, then
	// earliest publish time ascending.
	candidates := []Candidate{
		{ClusterID: "late", SourceID: "s1", CombinedScore: 0.8, CrossSourceScore: 0.5, PublishedAt: tsPtr("2026-08-28T10:00:00Z"), FetchedAt: ts("2026-08-28T11:00:00Z")},
		{ClusterID: "early", SourceID: "s2", CombinedScore: 0.8, CrossSourceScore: 0.5, PublishedAt: tsPtr("2026-08-28T06:00:00Z"), FetchedAt: ts("2026-08-28T11:00:00Z")},
		{ClusterID: "wide", SourceID: "s3", CombinedScore: 0.8, CrossSourceScore: 0.9, PublishedAt: tsPtr("2026-08-28T12:00:00Z"), FetchedAt: ts("2026-08-28T12:30:00Z")},
	}
	got := selectTop(candidates, 3, 3)
	for i, want := range []string{"wide", "early", "late"} {
		if got[i].ClusterID != want {
			t.Fatalf("rank %d: expected %s, got %s", i, want, got[i].ClusterID)
		}
	}
}

func TestSelectTop_PerSourceCap(t *testing.T) {
	t.Parallel()

	candidates := []Candidate{
		{ClusterID: "a1", SourceID: "loud", CombinedScore: 0.95, FetchedAt: ts("2026-08-28T01:00:00Z")},
		{ClusterID: "a2", SourceID: "loud", CombinedScore: 0.90, FetchedAt: ts("2026-08-28T02:00:00Z")},
		{ClusterID: "a3", SourceID: "loud", CombinedScore: 0.85, FetchedAt: ts("2026-08-28T03:00:00Z")},
		{ClusterID: "other", SourceID: "quiet", CombinedScore: 0.10, FetchedAt: ts("2026-08-28T04:00:00Z")},
	}
	got := selectTop(candidates, 10, 2)
	if len(got) != 3 {
		t.Fatalf("expected 3 selected, got %d", len(got))
	}
	if got[0].ClusterID != "a1" || got[1].ClusterID != "a2" {
		t.Fatalf("expected loud source top two, got %s %s", got[0].ClusterID, got[1].ClusterID)
	}
	if got[2].ClusterID != "other" {
		t.Fatalf("expected capped source to yield to quiet source, got %s", got[2].ClusterID)
	}
}

func TestSelectTop_MaxItems(t *testing.T) {
	t.Parallel()

	var candidates []Candidate
	for i := 0; i < 25; i++ {
		candidates = append(candidates, Candidate{
			ClusterID:     string(rune('a' + i)),
			SourceID:      string(rune('a' + i)),
			CombinedScore: float64(i) / 25,
			FetchedAt:     ts("2026-08-28T01:00:00Z"),
		})
	}
	got := selectTop(candidates, 10, 3)
	if len(got) != 10 {
		t.Fatalf("expected 10 selected, got %d", len(got))
	}
}

func TestSelectTop_Deterministic(t *testing.T) {
	t.Parallel()

	candidates := []Candidate{
		{ClusterID: "b", SourceID: "s1", CombinedScore: 0.5, FetchedAt: ts("2026-08-28T01:00:00Z")},
		{ClusterID: "a", SourceID: "s2", CombinedScore: 0.5, FetchedAt: ts("2026-08-28T01:00:00Z")},
		{ClusterID: "c", SourceID: "s3", CombinedScore: 0.5, FetchedAt: ts("2026-08-28T01:00:00Z")},
	}
	reversed := []Candidate{candidates[2], candidates[1], candidates[0]}

	first := selectTop(candidates, 3, 3)
	second := selectTop(reversed, 3, 3)
	for i := range first {
		if first[i].ClusterID != second[i].ClusterID {
			t.Fatalf("selection order depends on input order at rank %d", i)
		}
	}
	if first[0].ClusterID != "a" {
		t.Fatalf("expected lexicographic final tie-break, got %s first", first[0].ClusterID)
	}
}

func TestSelectTop_Empty(t *testing.T) {
	t.Parallel()

	if got := selectTop(nil, 10, 3); got != nil {
		t.Fatalf("expected nil for empty input, got %v", got)
	}
}

func TestParseScope(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "", want: "global"},
		{in: "global", want: "global"},
		{in: " Global ", want: "global"},
		{in: "user:9f2c9a34-88a1-4e4e-b7e5-5a2f5b9c1d10", want: "user:9f2c9a34-88a1-4e4e-b7e5-5a2f5b9c1d10"},
		{in: "user:not-a-uuid", wantErr: true},
		{in: "team:abc", wantErr: true},
	}
	for _, tc := range cases {
		got, err := ParseScope(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("ParseScope(%q): expected error", tc.in)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParseScope(%q): %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("ParseScope(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestSummarize(t *testing.T) {
	t.Parallel()

	short := "A short   article \n body."
	if got := summarize(short); got != "A short article body." {
		t.Fatalf("summarize collapsed whitespace wrong: %q", got)
	}

	long := strings.Repeat("word ", 200)
	got := summarize(long)
	if len([]rune(got)) > defaultSummaryMaxRunes+1 {
		t.Fatalf("summary too long: %d runes", len([]rune(got)))
	}
	if !strings.HasSuffix(got, "…") {
		t.Fatalf("expected truncated summary to end with ellipsis: %q", got)
	}
}

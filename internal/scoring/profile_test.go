package scoring

import (
	"os"
	"path/filepath"
	"testing"
)

func TestProfileMatch_NilIsNeutral(t *testing.T) {
	t.Parallel()

	var profile *Profile
	if got := profile.Match("anything at all"); got != 0.5 {
		t.Fatalf("nil profile must be neutral: got %f", got)
	}
}

func TestProfileMatch_WeightedKeywords(t *testing.T) {
	t.Parallel()

	profile := &Profile{
		Topics: []string{"security"},
		Keywords: []ProfileKeyword{
			{Pattern: "zero day", Weight: 2},
			{Pattern: "golang", Weight: 1},
		},
	}

	full := profile.Match("Security researchers found a zero day in a golang library")
	if full != 1.0 {
		t.Fatalf("all terms matched: got %f want 1.0", full)
	}

	partial := profile.Match("A zero day was disclosed today")
	if partial != 0.5 {
		t.Fatalf("half the weight matched: got %f want 0.5", partial)
	}

	none := profile.Match("local bakery wins award")
	if none != 0 {
		t.Fatalf("no terms matched: got %f want 0", none)
	}
}

func TestProfileMatch_ExcludeZeroes(t *testing.T) {
	t.Parallel()

	profile := &Profile{
		Topics:  []string{"ai"},
		Exclude: []string{"sponsored"},
	}
	if got := profile.Match("Sponsored: the best AI gadgets"); got != 0 {
		t.Fatalf("excluded term must zero the score: got %f", got)
	}
}

func TestProfileMatch_TokenBoundaries(t *testing.T) {
	t.Parallel()

	profile := &Profile{Topics: []string{"ai"}}
	if got := profile.Match("Ai systems are improving"); got != 1.0 {
		t.Fatalf("token match: got %f", got)
	}
	if got := profile.Match("the airline said otherwise"); got != 0 {
		t.Fatalf("substring must not match single token: got %f", got)
	}
}

func TestLoadProfile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "profile.yaml")
	content := []byte(`
topics:
  - ai
  - security
keywords:
  - pattern: zero day
    weight: 2
exclude:
  - sponsored
`)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("write profile: %v", err)
	}

	profile, err := LoadProfile(path)
	if err != nil {
		t.Fatalf("load profile: %v", err)
	}
	if len(profile.Topics) != 2 || len(profile.Keywords) != 1 || len(profile.Exclude) != 1 {
		t.Fatalf("unexpected profile shape: %+v", profile)
	}
	if profile.Keywords[0].Weight != 2 {
		t.Fatalf("keyword weight: got %f", profile.Keywords[0].Weight)
	}
}

func TestLoadProfile_RejectsEmptyPattern(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "profile.yaml")
	if err := os.WriteFile(path, []byte("keywords:\n  - pattern: \"\"\n"), 0o600); err != nil {
		t.Fatalf("write profile: %v", err)
	}
	if _, err := LoadProfile(path); err == nil {
		t.Fatalf("expected validation error for empty pattern")
	}
}

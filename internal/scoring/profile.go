package scoring

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Ham12-3/news-bot/internal/pipeline"
)

// Profile describes the configured interests used by the relevance
// sub-score. Topics carry weight 1, keywords carry their own weight, and any
// excluded term zeroes the item out.
type Profile struct {
	Topics   []string         `yaml:"topics"`
	Keywords []ProfileKeyword `yaml:"keywords"`
	Exclude  []string         `yaml:"exclude"`
}

type ProfileKeyword struct {
	Pattern string  `yaml:"pattern"`
	Weight  float64 `yaml:"weight"`
}

func LoadProfile(path string) (*Profile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read interest profile %s: %w", path, err)
	}

	var profile Profile
	if err := yaml.Unmarshal(raw, &profile); err != nil {
		return nil, fmt.Errorf("parse interest profile %s: %w", path, err)
	}
	if err := profile.Validate(); err != nil {
		return nil, fmt.Errorf("interest profile %s: %w", path, err)
	}
	return &profile, nil
}

func (p *Profile) Validate() error {
	if p == nil {
		return nil
	}
	for _, kw := range p.Keywords {
		if strings.TrimSpace(kw.Pattern) == "" {
			return fmt.Errorf("keyword with empty pattern")
		}
		if kw.Weight < 0 {
			return fmt.Errorf("keyword %q has negative weight", kw.Pattern)
		}
	}
	return nil
}

// Match scores how well the text matches the profile, in [0,1]. A nil or
// empty profile is neutral (0.5); a hit on an excluded term returns 0.
func (p *Profile) Match(text string) float64 {
	if p == nil {
		return 0.5
	}

	normalized := pipeline.NormalizeText(text)
	if normalized == "" {
		return 0.5
	}

	for _, term := range p.Exclude {
		if termMatches(normalized, term) {
			return 0
		}
	}

	totalWeight := 0.0
	matchedWeight := 0.0
	for _, topic := range p.Topics {
		if strings.TrimSpace(topic) == "" {
			continue
		}
		totalWeight++
		if termMatches(normalized, topic) {
			matchedWeight++
		}
	}
	for _, kw := range p.Keywords {
		weight := kw.Weight
		if weight == 0 {
			weight = 1
		}
		totalWeight += weight
		if termMatches(normalized, kw.Pattern) {
			matchedWeight += weight
		}
	}

	if totalWeight == 0 {
		return 0.5
	}
	return clamp01(matchedWeight / totalWeight)
}

// termMatches checks a normalized term against normalized text. Single
// tokens match on token boundaries; multiword terms match as substrings.
func termMatches(normalizedText, term string) bool {
	needle := pipeline.NormalizeText(term)
	if needle == "" {
		return false
	}
	if !strings.Contains(needle, " ") {
		for _, token := range pipeline.Tokenize(normalizedText) {
			if token == needle {
				return true
			}
		}
		return false
	}
	return strings.Contains(normalizedText, needle)
}

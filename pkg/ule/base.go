package ule

import (
	"regexp"
	"strings"

	"github.com/govplane/backplane/pkg/models"
	statsmath "github.com/govplane/backplane/pkg/shared/statistics"
)

// stopwords is the minimal English stopword set filtered out during
// tokenization; domain packs compose BasePack rather than reimplement it.
var stopwords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true, "of": true,
	"to": true, "in": true, "for": true, "on": true, "at": true, "by": true,
	"is": true, "are": true, "with": true, "this": true, "that": true,
	"be": true, "as": true, "it": true, "from": true,
}

// BasePack bundles the shared utilities every domain pack is built
// from (§4.8: "Utilities on the base pack"). Domain packs embed it.
type BasePack struct{}

// Tokenize lowercases, splits on non-alphanumeric runs, drops
// stopwords and tokens shorter than 2 characters.
func (BasePack) Tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) < 2 || stopwords[f] {
			continue
		}
		tokens = append(tokens, f)
	}
	return tokens
}

// Jaccard returns |A∩B| / |A∪B| over two token sets, 0 for two empty sets.
func (BasePack) Jaccard(a, b []string) float64 {
	setA := toSet(a)
	setB := toSet(b)
	if len(setA) == 0 && len(setB) == 0 {
		return 0
	}
	intersection := 0
	for t := range setA {
		if setB[t] {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// WeightedKeywordMatch scores two texts' overlap against a domain
// vocabulary, weighting each vocabulary hit higher than an incidental
// token match (domain-weighted keyword match, §4.8).
func (BasePack) WeightedKeywordMatch(a, b []string, vocabulary map[string]float64) (score float64, matched []string) {
	setB := toSet(b)
	var total float64
	for _, t := range a {
		if !setB[t] {
			continue
		}
		weight := 1.0
		if w, ok := vocabulary[t]; ok {
			weight = w
		}
		total += weight
		matched = append(matched, t)
	}
	if len(matched) == 0 {
		return 0, nil
	}
	norm := total / float64(len(a)+len(b))
	if norm > 1 {
		norm = 1
	}
	return norm, matched
}

// CosineSimilarity delegates to the shared numeric helper; packs call
// this against the embedding lookup's vectors.
func (BasePack) CosineSimilarity(a, b []float64) float64 {
	return statsmath.CosineSimilarity(a, b)
}

// ExtractReferences returns all matches of pattern found in text,
// deduplicated, preserving first-seen order. Domain packs supply the
// regex (CSI codes, drawing numbers, cost codes, ...).
func (BasePack) ExtractReferences(text string, pattern *regexp.Regexp) []string {
	matches := pattern.FindAllString(text, -1)
	seen := make(map[string]bool, len(matches))
	var out []string
	for _, m := range matches {
		if seen[m] {
			continue
		}
		seen[m] = true
		out = append(out, m)
	}
	return out
}

// ShouldLink filters obvious non-matches: a source never links to
// itself, and two entities in the same document section are assumed
// already contextually associated rather than a new discoverable link.
func (BasePack) ShouldLink(source, target models.Entity) bool {
	if source.ID == target.ID {
		return false
	}
	if source.Section != nil && target.Section != nil && *source.Section == *target.Section {
		return false
	}
	return true
}

// BuildEvidence constructs one weighted observation, omitting the
// source/target text pointers when empty.
func (BasePack) BuildEvidence(evidenceType models.EvidenceType, value string, weight float64, sourceText, targetText string) models.Evidence {
	e := models.Evidence{Type: evidenceType, Value: value, Weight: weight}
	if sourceText != "" {
		e.SourceText = &sourceText
	}
	if targetText != "" {
		e.TargetText = &targetText
	}
	return e
}

func toSet(tokens []string) map[string]bool {
	set := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		set[t] = true
	}
	return set
}

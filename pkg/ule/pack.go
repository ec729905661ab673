// Package ule implements the Universal Linking Engine (§4.8):
// pluggable entity-extraction packs, embedding-backed semantic
// matching, and confidence-gated link creation between documents.
package ule

import "github.com/govplane/backplane/pkg/models"

// Candidate is one pair a pack proposes as linked, before the
// confidence threshold gate decides whether it becomes a Link.
type Candidate struct {
	Source     models.Entity
	Target     models.Entity
	LinkType   string
	Confidence float64
	Evidence   []models.Evidence
}

// Pack is the polymorphic capability set a domain plugs in: extract
// entities from a document, propose candidate links between entity
// sets, and score confidence. Implementations must be idempotent
// (same inputs produce entities with stable ids) and deterministic
// (same inputs produce the same confidence).
type Pack interface {
	Name() string
	EntityTypes() []string
	ExtractEntities(content, documentID, documentName, documentType string, metadata map[string]any) ([]models.Entity, error)
	MatchEntities(sources, targets []models.Entity, embeddings EmbeddingLookup) ([]Candidate, error)
	CalculateConfidence(source, target models.Entity, evidence []models.Evidence) float64
}

// EmbeddingLookup resolves an entity's cached embedding vector, if
// any. Packs call it to build semantic-similarity evidence; a pack
// must tolerate a miss (no provider configured) by simply omitting
// that evidence type, per §4.8 "missing provider → semantic evidence
// is simply omitted".
type EmbeddingLookup func(entityID string) ([]float64, bool)

// intersects reports whether a and b share at least one element.
func intersects(a, b []string) bool {
	set := make(map[string]bool, len(a))
	for _, v := range a {
		set[v] = true
	}
	for _, v := range b {
		if set[v] {
			return true
		}
	}
	return false
}

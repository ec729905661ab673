package ule

import (
	"context"
	"sync"

	"github.com/govplane/backplane/pkg/ule/embedding"
)

// EmbeddingCache is a dense-vector store keyed by entity id (§4.8).
// Lookups are brute-force dot-product (via cosine similarity) against
// every cached vector; the in-memory map stands in for an
// approximate-nearest-neighbor index when the runtime doesn't warrant
// one — correctness-equivalent at the scale this module targets.
type EmbeddingCache struct {
	mu       sync.RWMutex
	vectors  map[string][]float64
	provider embedding.Provider
}

// NewEmbeddingCache builds a cache backed by provider. A nil provider
// means embeddings are never computed and Lookup always misses,
// matching "missing provider → semantic evidence is simply omitted".
func NewEmbeddingCache(provider embedding.Provider) *EmbeddingCache {
	return &EmbeddingCache{vectors: make(map[string][]float64), provider: provider}
}

// EnsureEmbedding computes and caches entityID's vector from text if
// not already present. A no-op (and no error) when no provider is
// configured.
func (c *EmbeddingCache) EnsureEmbedding(ctx context.Context, entityID, text string) error {
	if c.provider == nil {
		return nil
	}
	c.mu.RLock()
	_, ok := c.vectors[entityID]
	c.mu.RUnlock()
	if ok {
		return nil
	}
	vec, err := c.provider.Embed(ctx, text)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.vectors[entityID] = vec
	c.mu.Unlock()
	return nil
}

// Lookup implements EmbeddingLookup.
func (c *EmbeddingCache) Lookup(entityID string) ([]float64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	vec, ok := c.vectors[entityID]
	return vec, ok
}

// Nearest returns the top-k cached entity ids by cosine similarity to
// query, excluding excludeID, sorted descending.
func (c *EmbeddingCache) Nearest(query []float64, excludeID string, k int) []string {
	type scored struct {
		id    string
		score float64
	}
	c.mu.RLock()
	candidates := make([]scored, 0, len(c.vectors))
	for id, vec := range c.vectors {
		if id == excludeID {
			continue
		}
		candidates = append(candidates, scored{id: id, score: BasePack{}.CosineSimilarity(query, vec)})
	}
	c.mu.RUnlock()

	for i := 1; i < len(candidates); i++ {
		for j := i; j > 0 && candidates[j-1].score < candidates[j].score; j-- {
			candidates[j-1], candidates[j] = candidates[j], candidates[j-1]
		}
	}
	if k > 0 && k < len(candidates) {
		candidates = candidates[:k]
	}
	ids := make([]string, len(candidates))
	for i, c := range candidates {
		ids[i] = c.id
	}
	return ids
}

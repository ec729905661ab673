package ule

import (
	"context"
	"testing"

	"github.com/govplane/backplane/pkg/ule/embedding"
)

func TestEmbeddingCacheEnsureAndLookup(t *testing.T) {
	cache := NewEmbeddingCache(embedding.NewLocalProvider(8))
	ctx := context.Background()

	if err := cache.EnsureEmbedding(ctx, "e1", "concrete footing"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	vec, ok := cache.Lookup("e1")
	if !ok || len(vec) != 8 {
		t.Fatalf("expected a cached 8-dim vector, got %v, %v", vec, ok)
	}

	if _, ok := cache.Lookup("missing"); ok {
		t.Fatal("expected a miss for an unknown entity id")
	}
}

func TestEmbeddingCacheNilProviderAlwaysMisses(t *testing.T) {
	cache := NewEmbeddingCache(nil)
	if err := cache.EnsureEmbedding(context.Background(), "e1", "text"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := cache.Lookup("e1"); ok {
		t.Fatal("expected a nil provider to never populate the cache")
	}
}

func TestEmbeddingCacheNearestRanksBySimilarity(t *testing.T) {
	cache := NewEmbeddingCache(nil)
	cache.vectors["close"] = []float64{1, 0, 0}
	cache.vectors["far"] = []float64{0, 1, 0}
	cache.vectors["query"] = []float64{1, 0, 0}

	ranked := cache.Nearest([]float64{1, 0, 0}, "query", 2)
	if len(ranked) != 2 || ranked[0] != "close" {
		t.Fatalf("expected close to rank first, got %v", ranked)
	}
}

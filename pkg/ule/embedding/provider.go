// Package embedding provides the pluggable vector providers backing
// the ULE embedding cache (§4.8): a deterministic local stub used in
// tests and as the zero-config default, and a remote provider for
// production semantic matching. Neither embeds model internals —
// those are explicitly out of scope.
package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
)

// Provider turns text into a dense vector. A nil Provider is the
// "missing provider" case the pack contract tolerates by omitting
// semantic evidence; LocalProvider never errors, so only an explicitly
// unconfigured cache hits that path.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float64, error)
	Dimensions() int
}

// LocalProvider is a deterministic hash-based stub: same text always
// yields the same vector, unrelated texts are (with high probability)
// near-orthogonal. It never errs and requires no network access,
// making it the default for tests and for deployments without a
// configured remote provider.
type LocalProvider struct {
	dims int
}

// NewLocalProvider builds a stub provider with the given vector width.
func NewLocalProvider(dims int) *LocalProvider {
	if dims <= 0 {
		dims = 32
	}
	return &LocalProvider{dims: dims}
}

func (p *LocalProvider) Dimensions() int { return p.dims }

func (p *LocalProvider) Embed(_ context.Context, text string) ([]float64, error) {
	vec := make([]float64, p.dims)
	seed := sha256.Sum256([]byte(text))
	for i := range vec {
		// Walk the hash in 4-byte windows, wrapping once exhausted, to
		// fill vectors wider than the 32-byte digest.
		offset := (i * 4) % (len(seed) - 4)
		bits := binary.BigEndian.Uint32(seed[offset : offset+4])
		vec[i] = (float64(bits)/float64(^uint32(0)))*2 - 1
	}
	return vec, nil
}

package embedding

import (
	"context"
	"fmt"

	"github.com/hyperjump/codeingest/internal/config"
)

// New builds the embedder named by cfg.Provider, wrapped in a content cache
// when cfg.CacheSize is positive.
func New(cfg *config.EmbeddingConfig) (Embedder, error) {
	var (
		e   Embedder
		err error
	)
	switch cfg.Provider {
	case ProviderONNX:
		e, err = NewONNXEmbedder(ONNXConfig{
			ModelPath:   cfg.Model,
			Dimensions:  cfg.Dimensions,
			MaxTokens:   cfg.MaxTokens,
			LibraryPath: cfg.ONNXLibrary,
		})
	case ProviderOpenAI:
		e, err = NewOpenAIEmbedder(cfg.APIKey, cfg.BaseURL, cfg.Model, cfg.Dimensions)
	case ProviderHash:
		e = NewHashEmbedder(cfg.Dimensions)
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("%s provider: %w", cfg.Provider, err)
	}
	if cfg.CacheSize > 0 {
		e = &cachedEmbedder{Embedder: e, cache: NewEmbeddingCache(cfg.CacheSize)}
	}
	return e, nil
}

// cachedEmbedder serves repeated texts from an LRU cache. Identical chunks are
// common in vendored or generated code.
type cachedEmbedder struct {
	Embedder
	cache *EmbeddingCache
}

func (c *cachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := c.cache.Get(text); ok {
		return v, nil
	}
	v, err := c.Embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Set(text, v)
	return v, nil
}

func (c *cachedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	// slot maps each uncached position to its entry in missTexts; repeated
	// misses share one entry.
	slot := make(map[int]int)
	seen := make(map[string]int)
	var missTexts []string
	for i, text := range texts {
		if v, ok := c.cache.Get(text); ok {
			out[i] = v
			continue
		}
		j, ok := seen[text]
		if !ok {
			j = len(missTexts)
			seen[text] = j
			missTexts = append(missTexts, text)
		}
		slot[i] = j
	}
	if len(missTexts) == 0 {
		return out, nil
	}
	vecs, err := c.Embedder.EmbedBatch(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	for j, text := range missTexts {
		c.cache.Set(text, vecs[j])
	}
	for i, j := range slot {
		out[i] = vecs[j]
	}
	return out, nil
}

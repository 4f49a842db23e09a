package embedding

import (
	"context"
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/hyperjump/codeingest/internal/config"
	"github.com/hyperjump/codeingest/internal/models"
)

// errZeroVector is returned when a provider yields a vector that cannot be normalized.
var errZeroVector = errors.New("embedding has zero norm")

// Adapter exposes an optional embedder whose availability is decided once,
// before a run starts, and never changes afterwards.
type Adapter struct {
	embedder Embedder
	err      error
	logger   *zap.Logger
}

// AdapterOption configures an Adapter.
type AdapterOption func(*Adapter)

// WithLogger sets the adapter's logger.
func WithLogger(l *zap.Logger) AdapterOption {
	return func(a *Adapter) {
		if l != nil {
			a.logger = l
		}
	}
}

// NewAdapter wraps an already constructed embedder. A nil embedder yields an
// unavailable adapter.
func NewAdapter(e Embedder, opts ...AdapterOption) *Adapter {
	a := &Adapter{embedder: e, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Negotiate builds the configured provider and tries it once. Disabled config
// yields an unavailable adapter silently. A provider that fails to load or to
// embed a sample text is logged as ErrEmbeddingUnavailable and the adapter is
// unavailable for the rest of the run; this is not an error for the caller.
func Negotiate(ctx context.Context, cfg *config.EmbeddingConfig, opts ...AdapterOption) *Adapter {
	a := NewAdapter(nil, opts...)
	if cfg == nil || !cfg.Enabled {
		return a
	}
	e, err := New(cfg)
	if err == nil {
		v, serr := e.Embed(ctx, "func main() {}")
		switch {
		case serr != nil:
			err = fmt.Errorf("sample embedding failed: %w", serr)
		case len(v) != e.Dimensions():
			err = fmt.Errorf("sample embedding has %d dimensions, expected %d", len(v), e.Dimensions())
		}
		if err != nil {
			_ = e.Close()
		}
	}
	if err != nil {
		a.err = fmt.Errorf("%w: %v", models.ErrEmbeddingUnavailable, err)
		a.logger.Warn("embeddings disabled for this run",
			zap.String("provider", cfg.Provider),
			zap.String("model", cfg.Model),
			zap.Error(a.err))
		return a
	}
	a.embedder = e
	a.logger.Info("embeddings enabled",
		zap.String("provider", cfg.Provider),
		zap.String("model", cfg.Model),
		zap.Int("dimensions", e.Dimensions()))
	return a
}

// Available reports whether Encode can be called.
func (a *Adapter) Available() bool {
	return a != nil && a.embedder != nil
}

// Err returns the reason the adapter is unavailable, or nil.
func (a *Adapter) Err() error {
	if a == nil {
		return models.ErrEmbeddingUnavailable
	}
	return a.err
}

// Dimensions returns the embedding dimension, or 0 when unavailable.
func (a *Adapter) Dimensions() int {
	if !a.Available() {
		return 0
	}
	return a.embedder.Dimensions()
}

// Encode returns a unit-length vector for text.
func (a *Adapter) Encode(ctx context.Context, text string) ([]float32, error) {
	if !a.Available() {
		return nil, models.ErrEmbeddingUnavailable
	}
	v, err := a.embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	norm := L2Norm(v)
	if norm == 0 || math.IsNaN(norm) {
		return nil, errZeroVector
	}
	if math.Abs(norm-1) > 1e-4 {
		out := make([]float32, len(v))
		copy(out, v)
		NormalizeL2Slice(out)
		v = out
	}
	return v, nil
}

// Close releases the embedder.
func (a *Adapter) Close() error {
	if !a.Available() {
		return nil
	}
	return a.embedder.Close()
}

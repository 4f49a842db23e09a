package indexer

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/hyperjump/codeingest/internal/bulk"
	"github.com/hyperjump/codeingest/internal/config"
	"github.com/hyperjump/codeingest/internal/embedding"
	"github.com/hyperjump/codeingest/internal/keyword"
	"github.com/hyperjump/codeingest/internal/vector"
)

// Pipeline is an Indexer together with the backend and embedder it owns.
type Pipeline struct {
	Indexer   *Indexer
	Submitter *bulk.Submitter
	Adapter   *embedding.Adapter
}

// OpenBackend constructs the backend selected by cfg.Backend.Type.
func OpenBackend(cfg *config.Config) (bulk.Backend, error) {
	switch cfg.Backend.Type {
	case config.BackendOpenSearch:
		osCfg := cfg.Backend.OpenSearch
		return bulk.NewOpenSearch(bulk.OpenSearchConfig{
			URL:                osCfg.URL,
			Username:           osCfg.Username,
			Password:           osCfg.Password,
			InsecureSkipVerify: osCfg.InsecureSkipVerify,
			Timeout:            osCfg.Timeout,
		})
	case config.BackendBleve:
		return keyword.NewBleveIndex(cfg.Backend.BlevePath)
	case config.BackendChromem:
		return vector.NewStore(cfg.Backend.ChromemDir, cfg.Backend.Index)
	default:
		return nil, fmt.Errorf("unknown backend type %q", cfg.Backend.Type)
	}
}

// NewPipeline negotiates embeddings, opens the backend, and builds the indexer
// described by cfg. opts are applied to the indexer after the logger. Close
// releases everything it opened.
func NewPipeline(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts ...IndexerOption) (*Pipeline, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	adapter := embedding.Negotiate(ctx, &cfg.Embedding, embedding.WithLogger(logger))

	backend, err := OpenBackend(cfg)
	if err != nil {
		_ = adapter.Close()
		return nil, fmt.Errorf("opening %s backend: %w", cfg.Backend.Type, err)
	}
	submitter := bulk.NewSubmitter(backend,
		bulk.WithBatchSize(cfg.Ingest.BatchSize),
		bulk.WithRetry(bulk.RetryConfig{
			MaxRetries: cfg.Backend.MaxRetries,
			BaseDelay:  cfg.Backend.RetryBaseDelay,
			MaxDelay:   cfg.Backend.RetryMaxDelay,
			Multiplier: 2,
		}),
		bulk.WithRateLimit(cfg.Backend.RequestsPerSecond),
		bulk.WithLogger(logger),
	)

	idx, err := NewIndexer(IndexConfig{
		Root:              cfg.Ingest.Root,
		Include:           cfg.Ingest.Include,
		ExcludeDirs:       cfg.Ingest.ExcludeDirs,
		Window:            cfg.Ingest.ChunkLines,
		Overlap:           cfg.Ingest.ChunkOverlap,
		Index:             cfg.Backend.Index,
		Workers:           cfg.Ingest.Workers,
		RepoStateFallback: cfg.Ingest.RepoStateFallback,
	}, submitter, adapter, append([]IndexerOption{WithLogger(logger)}, opts...)...)
	if err != nil {
		_ = submitter.Close()
		_ = adapter.Close()
		return nil, err
	}
	return &Pipeline{Indexer: idx, Submitter: submitter, Adapter: adapter}, nil
}

// Close releases the backend and the embedder.
func (p *Pipeline) Close() error {
	return errors.Join(p.Submitter.Close(), p.Adapter.Close())
}

// Package indexer runs ingestion: discover files, chunk them, derive ids,
// optionally embed, and hand documents to the bulk submitter.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hyperjump/codeingest/internal/bulk"
	"github.com/hyperjump/codeingest/internal/discover"
	"github.com/hyperjump/codeingest/internal/embedding"
	"github.com/hyperjump/codeingest/internal/fileid"
	"github.com/hyperjump/codeingest/internal/models"
)

// IndexConfig holds everything a run needs; nothing is read from the environment.
type IndexConfig struct {
	Root        string
	Include     []string
	ExcludeDirs []string
	Window      int
	Overlap     int
	// Index is the target index or collection name written into every action.
	Index   string
	Workers int
	// RepoStateFallback is fileid.FallbackSentinel or fileid.FallbackTree.
	RepoStateFallback string
}

// Statistics summarizes a run.
type Statistics struct {
	RunID              string        `json:"run_id"`
	Root               string        `json:"root"`
	RepoState          string        `json:"repo_state"`
	FilesScanned       int           `json:"files_scanned"`
	FilesSkipped       int           `json:"files_skipped"`
	ChunksProduced     int           `json:"chunks_produced"`
	DocumentsSubmitted int           `json:"documents_submitted"`
	Batches            int           `json:"batches"`
	EmbeddingFailures  int           `json:"embedding_failures"`
	ChunksDropped      int           `json:"chunks_dropped"`
	StartedAt          time.Time     `json:"started_at"`
	Duration           time.Duration `json:"duration"`
	NetworkTime        time.Duration `json:"network_time"`
	DocsPerSecond      float64       `json:"docs_per_second"`
}

// Indexer runs ingestion passes over one root.
type Indexer struct {
	cfg        IndexConfig
	discoverer *discover.Discoverer
	chunker    *Chunker
	submitter  *bulk.Submitter
	adapter    *embedding.Adapter
	logger     *zap.Logger
	now        func() time.Time
	onScan     func(ScanReport)
	state      atomic.Int32

	// gitInstalled selects git blob ids over "sha1:" content hashes.
	gitInstalled func() bool
}

// ScanReport describes a run once discovery and repo state are known.
type ScanReport struct {
	Root      string
	RepoState string
	Files     int
}

// IndexerOption configures an Indexer.
type IndexerOption func(*Indexer)

// WithLogger sets a logger for run progress and per-file problems.
func WithLogger(l *zap.Logger) IndexerOption {
	return func(idx *Indexer) {
		if l != nil {
			idx.logger = l
		}
	}
}

// WithClock overrides the time source used for ingested_at and durations.
func WithClock(now func() time.Time) IndexerOption {
	return func(idx *Indexer) {
		if now != nil {
			idx.now = now
		}
	}
}

// WithScanHook registers fn to be called after scanning, before any file is chunked.
func WithScanHook(fn func(ScanReport)) IndexerOption {
	return func(idx *Indexer) { idx.onScan = fn }
}

// NewIndexer validates cfg and wires the pipeline. adapter may be nil, which
// behaves like an unavailable embedder.
func NewIndexer(cfg IndexConfig, submitter *bulk.Submitter, adapter *embedding.Adapter, opts ...IndexerOption) (*Indexer, error) {
	if submitter == nil {
		return nil, errors.New("indexer needs a submitter")
	}
	if cfg.Root == "" {
		return nil, errors.New("indexer needs a root")
	}
	if cfg.Index == "" {
		return nil, errors.New("indexer needs an index name")
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	chunker, err := NewChunker(cfg.Window, cfg.Overlap)
	if err != nil {
		return nil, err
	}
	idx := &Indexer{
		cfg:       cfg,
		chunker:   chunker,
		submitter: submitter,
		adapter:   adapter,
		logger:    zap.NewNop(),
		now:       time.Now,

		gitInstalled: fileid.GitInstalled,
	}
	for _, opt := range opts {
		opt(idx)
	}
	idx.discoverer, err = discover.New(cfg.Include, cfg.ExcludeDirs, discover.WithLogger(idx.logger))
	if err != nil {
		return nil, err
	}
	return idx, nil
}

// State returns the current run state.
func (idx *Indexer) State() State {
	return State(idx.state.Load())
}

func (idx *Indexer) setState(s State) {
	prev := State(idx.state.Swap(int32(s)))
	if prev != s {
		idx.logger.Debug("indexer state", zap.Stringer("from", prev), zap.Stringer("to", s))
	}
}

// Config returns the run configuration.
func (idx *Indexer) Config() IndexConfig {
	return idx.cfg
}

// Run performs one full ingestion pass. It fails before scanning when the
// backend needs embeddings the adapter cannot provide. Unreadable files are
// skipped; discovery and delivery failures abort the run.
func (idx *Indexer) Run(ctx context.Context) (*Statistics, error) {
	stats := &Statistics{
		RunID:     uuid.New().String(),
		Root:      idx.cfg.Root,
		StartedAt: idx.now().UTC(),
	}
	before := idx.submitter.Stats()
	logger := idx.logger.With(zap.String("run_id", stats.RunID))

	err := idx.run(ctx, stats, logger)

	after := idx.submitter.Stats()
	stats.Batches = after.Batches - before.Batches
	stats.DocumentsSubmitted = after.Documents - before.Documents
	stats.NetworkTime = after.NetworkTime - before.NetworkTime
	stats.Duration = idx.now().Sub(stats.StartedAt)
	stats.DocsPerSecond = docsPerSecond(stats.DocumentsSubmitted, stats.Duration)

	if err != nil {
		idx.setState(StateFailed)
		logger.Error("ingestion failed", zap.Error(err))
		return stats, err
	}
	idx.setState(StateDone)
	logger.Info("ingestion done",
		zap.String("repo_state", stats.RepoState),
		zap.Int("files", stats.FilesScanned),
		zap.Int("skipped", stats.FilesSkipped),
		zap.Int("chunks", stats.ChunksProduced),
		zap.Int("dropped", stats.ChunksDropped),
		zap.Int("batches", stats.Batches),
		zap.Duration("duration", stats.Duration))
	return stats, nil
}

func (idx *Indexer) run(ctx context.Context, stats *Statistics, logger *zap.Logger) error {
	backend := idx.submitter.Backend()
	if backend.RequiresEmbeddings() && !idx.adapter.Available() {
		cause := idx.adapter.Err()
		if cause == nil {
			cause = models.ErrEmbeddingUnavailable
		}
		return fmt.Errorf("%s backend requires embeddings: %w", backend.Name(), cause)
	}

	idx.setState(StateScanning)
	files, err := idx.discoverer.Discover(ctx, idx.cfg.Root)
	if err != nil {
		return err
	}
	stats.FilesScanned = len(files)

	gitBlobs := idx.gitInstalled()
	repoState, fromGit, err := fileid.RepoState(ctx, idx.cfg.Root, idx.cfg.RepoStateFallback, func() ([]fileid.TreeEntry, error) {
		return treeEntries(files, gitBlobs, logger), nil
	})
	if err != nil {
		return err
	}
	stats.RepoState = repoState
	logger.Info("ingestion started",
		zap.String("root", idx.cfg.Root),
		zap.String("repo_state", repoState),
		zap.Int("files", len(files)),
		zap.Int("window", idx.chunker.Window()),
		zap.Int("overlap", idx.chunker.Overlap()),
		zap.String("backend", backend.Name()))
	if idx.onScan != nil {
		idx.onScan(ScanReport{Root: idx.cfg.Root, RepoState: repoState, Files: len(files)})
	}

	idx.setState(StateChunking)
	p := &pass{idx: idx, repoState: repoState, gitStyle: fromGit || gitBlobs, ingestedAt: stats.StartedAt, logger: logger}
	if idx.cfg.Workers > 1 {
		err = idx.processParallel(ctx, p, files, stats)
	} else {
		err = idx.processSequential(ctx, p, files, stats)
	}
	if err != nil {
		return err
	}

	idx.setState(StateSubmitting)
	return idx.submitter.Flush(ctx)
}

func (idx *Indexer) processSequential(ctx context.Context, p *pass, files []discover.File, stats *Statistics) error {
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		res := p.file(ctx, f)
		if err := idx.collect(ctx, res, stats); err != nil {
			return err
		}
	}
	return nil
}

// processParallel reads, chunks, and embeds files on Workers goroutines while
// the calling goroutine alone feeds the submitter. Batches may mix files in
// any order; ids do not depend on position.
func (idx *Indexer) processParallel(ctx context.Context, p *pass, files []discover.File, stats *Statistics) error {
	g, gctx := errgroup.WithContext(ctx)
	jobs := make(chan discover.File)
	results := make(chan fileResult, idx.cfg.Workers)

	g.Go(func() error {
		defer close(jobs)
		for _, f := range files {
			select {
			case jobs <- f:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	workers, wctx := errgroup.WithContext(gctx)
	for w := 0; w < idx.cfg.Workers; w++ {
		workers.Go(func() error {
			for f := range jobs {
				res := p.file(wctx, f)
				select {
				case results <- res:
				case <-wctx.Done():
					return wctx.Err()
				}
			}
			return nil
		})
	}
	g.Go(func() error {
		defer close(results)
		return workers.Wait()
	})

	var collectErr error
	for res := range results {
		if collectErr != nil {
			continue
		}
		if err := idx.collect(gctx, res, stats); err != nil {
			collectErr = err
			// Unblock the producers; remaining results are drained and dropped.
			g.Go(func() error { return err })
		}
	}
	if err := g.Wait(); err != nil && collectErr == nil {
		return err
	}
	return collectErr
}

// collect tallies one file's outcome and feeds its pairs to the submitter,
// stepping into Submitting around each flush.
func (idx *Indexer) collect(ctx context.Context, res fileResult, stats *Statistics) error {
	if res.skipped {
		stats.FilesSkipped++
		return nil
	}
	stats.ChunksProduced += len(res.pairs) + res.dropped
	stats.EmbeddingFailures += res.embedFailures
	stats.ChunksDropped += res.dropped
	for _, pair := range res.pairs {
		flushing := idx.submitter.Pending()+1 >= idx.submitter.BatchSize()
		if flushing {
			idx.setState(StateSubmitting)
		}
		if err := idx.submitter.Add(ctx, pair); err != nil {
			return err
		}
		if flushing {
			idx.setState(StateChunking)
		}
	}
	return nil
}

// treeEntries hashes every discovered file for the tree fallback. Unreadable
// files are left out; they will be skipped during chunking too.
func treeEntries(files []discover.File, gitStyle bool, logger *zap.Logger) []fileid.TreeEntry {
	entries := make([]fileid.TreeEntry, 0, len(files))
	for _, f := range files {
		content, err := os.ReadFile(f.AbsPath)
		if err != nil {
			logger.Debug("tree hash skipping unreadable file", zap.String("path", f.RelPath), zap.Error(err))
			continue
		}
		entries = append(entries, fileid.TreeEntry{Path: f.RelPath, BlobState: fileid.BlobState(content, gitStyle)})
	}
	return entries
}

// docsPerSecond divides by at least one second so very short runs do not report
// inflated rates.
func docsPerSecond(docs int, d time.Duration) float64 {
	secs := d.Seconds()
	if secs < 1 {
		secs = 1
	}
	return float64(docs) / secs
}

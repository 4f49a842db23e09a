package indexer

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/hyperjump/codeingest/internal/models"
	"github.com/hyperjump/codeingest/internal/storage"
)

// ErrRunInProgress is returned when a run is requested while another is active.
var ErrRunInProgress = errors.New("run already in progress")

// Runner serializes ingestion runs over one Indexer and records each finished
// run in the ledger. The CLI, watch mode and the HTTP server all go through it.
type Runner struct {
	idx     *Indexer
	backend string
	ledger  storage.Ledger
	logger  *zap.Logger

	running atomic.Bool
	mu      sync.Mutex
	last    *Statistics
}

// NewRunner wraps the pipeline's indexer. ledger may be nil.
func NewRunner(p *Pipeline, ledger storage.Ledger, logger *zap.Logger) *Runner {
	return newRunner(p.Indexer, p.Submitter.Backend().Name(), ledger, logger)
}

func newRunner(idx *Indexer, backend string, ledger storage.Ledger, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{idx: idx, backend: backend, ledger: ledger, logger: logger}
}

// Run performs one ingestion pass, or returns ErrRunInProgress without waiting
// when one is already active. Statistics are returned even on failure.
func (r *Runner) Run(ctx context.Context) (*Statistics, error) {
	if !r.running.CompareAndSwap(false, true) {
		return nil, ErrRunInProgress
	}
	defer r.running.Store(false)

	stats, err := r.idx.Run(ctx)

	r.mu.Lock()
	r.last = stats
	r.mu.Unlock()

	if r.ledger != nil && stats != nil {
		rec := r.record(stats, err)
		// The run itself may have been canceled; the ledger entry is still written.
		if lerr := r.ledger.RecordRun(context.WithoutCancel(ctx), rec); lerr != nil {
			r.logger.Warn("failed to record run", zap.String("run_id", rec.ID), zap.Error(lerr))
		}
	}
	return stats, err
}

// Running reports whether a run is active.
func (r *Runner) Running() bool {
	return r.running.Load()
}

// Last returns the statistics of the most recent finished run, or nil.
func (r *Runner) Last() *Statistics {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

// Indexer returns the wrapped indexer.
func (r *Runner) Indexer() *Indexer {
	return r.idx
}

// Backend returns the name of the sink runs are delivered to.
func (r *Runner) Backend() string {
	return r.backend
}

func (r *Runner) record(stats *Statistics, err error) *models.RunRecord {
	rec := &models.RunRecord{
		ID:        stats.RunID,
		Root:      stats.Root,
		Backend:   r.backend,
		Index:     r.idx.cfg.Index,
		RepoState: stats.RepoState,
		Status:    models.RunStatusDone,
		Files:     stats.FilesScanned,
		Skipped:   stats.FilesSkipped,
		Chunks:    stats.ChunksProduced,
		Documents: stats.DocumentsSubmitted,
		Batches:   stats.Batches,
		Duration:  stats.Duration,
		StartedAt: stats.StartedAt,
	}
	if err != nil {
		rec.Status = models.RunStatusFailed
		rec.Error = err.Error()
	}
	return rec
}

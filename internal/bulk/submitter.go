package bulk

import (
	"context"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/hyperjump/codeingest/internal/models"
)

// DefaultBatchSize is the number of pairs sent per bulk request.
const DefaultBatchSize = 1000

// Stats accumulates delivery figures across flushes.
type Stats struct {
	Batches     int           `json:"batches"`
	Documents   int           `json:"documents"`
	NetworkTime time.Duration `json:"network_time"`
}

// Submitter buffers pairs and delivers them to a Backend in batches. A batch
// with any rejected item fails as a whole. Add and Flush are meant to be
// called from a single goroutine; Stats may be read concurrently.
type Submitter struct {
	backend   Backend
	batchSize int
	retry     RetryConfig
	limiter   *rate.Limiter
	logger    *zap.Logger

	buf []models.BulkPair

	mu    sync.Mutex
	stats Stats
}

// Option configures a Submitter.
type Option func(*Submitter)

// WithBatchSize sets the flush threshold. Values < 1 are ignored.
func WithBatchSize(n int) Option {
	return func(s *Submitter) {
		if n >= 1 {
			s.batchSize = n
		}
	}
}

// WithRetry sets the transport retry policy.
func WithRetry(cfg RetryConfig) Option {
	return func(s *Submitter) { s.retry = cfg }
}

// WithRateLimit throttles bulk requests to rps per second. 0 means unlimited.
func WithRateLimit(rps float64) Option {
	return func(s *Submitter) {
		if rps > 0 {
			s.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		} else {
			s.limiter = nil
		}
	}
}

// WithLogger sets the submitter's logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Submitter) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewSubmitter creates a submitter for backend.
func NewSubmitter(backend Backend, opts ...Option) *Submitter {
	s := &Submitter{
		backend:   backend,
		batchSize: DefaultBatchSize,
		retry:     DefaultRetryConfig(),
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.buf = make([]models.BulkPair, 0, s.batchSize)
	return s
}

// Backend returns the destination backend.
func (s *Submitter) Backend() Backend {
	return s.backend
}

// BatchSize returns the flush threshold.
func (s *Submitter) BatchSize() int {
	return s.batchSize
}

// Pending returns the number of buffered pairs.
func (s *Submitter) Pending() int {
	return len(s.buf)
}

// Add buffers pair and flushes once the buffer reaches the batch size.
func (s *Submitter) Add(ctx context.Context, pair models.BulkPair) error {
	s.buf = append(s.buf, pair)
	if len(s.buf) >= s.batchSize {
		return s.Flush(ctx)
	}
	return nil
}

// Flush delivers any buffered pairs. Flushing an empty buffer does nothing.
// The buffer is cleared whether or not delivery succeeds.
func (s *Submitter) Flush(ctx context.Context) error {
	if len(s.buf) == 0 {
		return nil
	}
	batch := s.buf
	s.buf = make([]models.BulkPair, 0, s.batchSize)
	return s.send(ctx, batch)
}

func (s *Submitter) send(ctx context.Context, batch []models.BulkPair) error {
	var items []ItemError
	err := retryWithBackoff(ctx, s.retry, func() error {
		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				return err
			}
		}
		start := time.Now()
		var err error
		items, err = s.backend.Bulk(ctx, batch)
		s.mu.Lock()
		s.stats.NetworkTime += time.Since(start)
		s.mu.Unlock()
		return err
	}, func(attempt int, wait time.Duration, err error) {
		s.logger.Warn("bulk request failed, retrying",
			zap.String("backend", s.backend.Name()),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err))
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		ierr := &IndexingError{Backend: s.backend.Name(), Total: len(batch), Cause: err}
		s.logger.Error("bulk request failed",
			zap.String("backend", s.backend.Name()),
			zap.Int("documents", len(batch)),
			zap.Error(err))
		return ierr
	}
	if len(items) > 0 {
		ierr := newItemsError(s.backend.Name(), len(batch), items)
		fields := []zap.Field{
			zap.String("backend", s.backend.Name()),
			zap.Int("failed", ierr.Failed),
			zap.Int("documents", len(batch)),
		}
		for i, it := range ierr.Items {
			fields = append(fields, zap.String("item_"+strconv.Itoa(i), it.String()))
		}
		s.logger.Error("bulk items rejected", fields...)
		return ierr
	}

	s.mu.Lock()
	s.stats.Batches++
	s.stats.Documents += len(batch)
	s.mu.Unlock()
	s.logger.Debug("bulk batch delivered",
		zap.String("backend", s.backend.Name()),
		zap.Int("documents", len(batch)))
	return nil
}

// Stats returns a snapshot of delivery figures.
func (s *Submitter) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Close releases the backend.
func (s *Submitter) Close() error {
	return s.backend.Close()
}

package bulk

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hyperjump/codeingest/internal/models"
)

func testPairs(n int) []models.BulkPair {
	pairs := make([]models.BulkPair, n)
	for i := range pairs {
		pairs[i] = models.NewBulkPair("code-chunks", &models.ChunkDocument{
			ID:         fmt.Sprintf("id-%04d", i),
			RepoState:  "NO_GIT_SHA",
			Path:       "src/main.go",
			Language:   "go",
			StartLine:  i*60 + 1,
			EndLine:    i*60 + 80,
			BlobState:  "sha1:abc",
			IngestedAt: time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC),
			Content:    "package main\n",
		})
	}
	return pairs
}

// fakeBackend records batches and replays scripted results per call.
type fakeBackend struct {
	mu       sync.Mutex
	batches  [][]models.BulkPair
	errs     []error
	items    [][]ItemError
	requires bool
	closed   bool
}

func (f *fakeBackend) Name() string             { return "fake" }
func (f *fakeBackend) RequiresEmbeddings() bool { return f.requires }
func (f *fakeBackend) Close() error             { f.closed = true; return nil }

func (f *fakeBackend) Bulk(ctx context.Context, pairs []models.BulkPair) ([]ItemError, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	call := len(f.batches)
	f.batches = append(f.batches, append([]models.BulkPair(nil), pairs...))
	if call < len(f.errs) && f.errs[call] != nil {
		return nil, f.errs[call]
	}
	if call < len(f.items) {
		return f.items[call], nil
	}
	return nil, nil
}

func (f *fakeBackend) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.batches)
}

func fastRetry(n int) RetryConfig {
	return RetryConfig{MaxRetries: n, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2}
}

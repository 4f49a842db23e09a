// Package vector stores embedded chunk documents in a local chromem-go collection.
package vector

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strconv"
	"sync"

	"github.com/philippgille/chromem-go"

	"github.com/hyperjump/codeingest/internal/bulk"
	"github.com/hyperjump/codeingest/internal/models"
)

// errNoEmbeddingFunc is returned if chromem ever asks us to embed text
// ourselves; every document is added with its vector precomputed.
var errNoEmbeddingFunc = errors.New("documents must carry a precomputed embedding")

// Store is a bulk.Backend writing to a persistent chromem-go collection.
// Adding an existing id replaces the document.
type Store struct {
	mu         sync.Mutex
	db         *chromem.DB
	collection *chromem.Collection
	dir        string
	dimensions int
}

// Result is a single nearest-neighbour hit.
type Result struct {
	ID         string
	Path       string
	StartLine  int
	Similarity float32
}

// NewStore opens or creates the collection name under dir.
func NewStore(dir, name string) (*Store, error) {
	db, err := chromem.NewPersistentDB(dir, false)
	if err != nil {
		return nil, fmt.Errorf("failed to open chromem db: %w", err)
	}
	coll, err := db.GetOrCreateCollection(name, nil, func(ctx context.Context, text string) ([]float32, error) {
		return nil, errNoEmbeddingFunc
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open chromem collection %q: %w", name, err)
	}
	return &Store{db: db, collection: coll, dir: dir}, nil
}

// Name implements bulk.Backend.
func (s *Store) Name() string { return "chromem" }

// RequiresEmbeddings implements bulk.Backend.
func (s *Store) RequiresEmbeddings() bool { return true }

// Bulk implements bulk.Backend. Documents without an embedding, or whose
// dimension differs from the first vector seen, are rejected and nothing from
// the batch is written.
func (s *Store) Bulk(ctx context.Context, pairs []models.BulkPair) ([]bulk.ItemError, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dims := s.dimensions
	docs := make([]chromem.Document, 0, len(pairs))
	var rejected []bulk.ItemError
	for _, p := range pairs {
		d := p.Document
		switch {
		case d == nil:
			rejected = append(rejected, bulk.ItemError{ID: p.Action.ID, Reason: "missing document"})
			continue
		case len(d.Embedding) == 0:
			rejected = append(rejected, bulk.ItemError{ID: p.Action.ID, Reason: "missing embedding"})
			continue
		case dims == 0:
			dims = len(d.Embedding)
		case len(d.Embedding) != dims:
			rejected = append(rejected, bulk.ItemError{
				ID:     p.Action.ID,
				Reason: fmt.Sprintf("embedding dimension %d, collection uses %d", len(d.Embedding), dims),
			})
			continue
		}
		docs = append(docs, chromem.Document{
			ID:        p.Action.ID,
			Content:   d.Content,
			Embedding: d.Embedding,
			Metadata:  metadata(d),
		})
	}
	if len(rejected) > 0 {
		return rejected, nil
	}
	if err := s.collection.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return nil, fmt.Errorf("chromem add: %w", err)
	}
	s.dimensions = dims
	return nil, nil
}

func metadata(d *models.ChunkDocument) map[string]string {
	return map[string]string{
		"repo_state":  d.RepoState,
		"path":        d.Path,
		"language":    d.Language,
		"start_line":  strconv.Itoa(d.StartLine),
		"end_line":    strconv.Itoa(d.EndLine),
		"blob_state":  d.BlobState,
		"ingested_at": d.IngestedAt.UTC().Format(models.TimeFormat),
	}
}

// Nearest returns up to k documents most similar to query.
func (s *Store) Nearest(ctx context.Context, query []float32, k int) ([]Result, error) {
	n := s.collection.Count()
	if k > n {
		k = n
	}
	if k <= 0 {
		return nil, nil
	}
	hits, err := s.collection.QueryEmbedding(ctx, query, k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem query: %w", err)
	}
	out := make([]Result, len(hits))
	for i, h := range hits {
		start, _ := strconv.Atoi(h.Metadata["start_line"])
		out[i] = Result{ID: h.ID, Path: h.Metadata["path"], StartLine: start, Similarity: h.Similarity}
	}
	return out, nil
}

// DocCount returns the number of documents in the collection.
func (s *Store) DocCount() (uint64, error) {
	return uint64(s.collection.Count()), nil
}

// Path returns the database directory.
func (s *Store) Path() string {
	return s.dir
}

// Close implements bulk.Backend. chromem persists on every write, so there is nothing to flush.
func (s *Store) Close() error { return nil }

// Package keyword stores chunk documents in a local Bleve index.
package keyword

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/blevesearch/bleve/v2"
	keywordanalyzer "github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"

	"github.com/hyperjump/codeingest/internal/bulk"
	"github.com/hyperjump/codeingest/internal/models"
)

// BleveIndex is a bulk.Backend writing to a Bleve index on disk. Every flush
// becomes one Bleve batch, and indexing an existing id replaces the document.
type BleveIndex struct {
	mu    sync.Mutex
	index bleve.Index
	path  string
}

// Result is a single keyword search hit.
type Result struct {
	ID    string
	Score float64
}

// NewBleveIndex creates or opens a Bleve index at path.
// If the path already exists, the existing index is opened and reused; ids are
// deterministic, so re-runs overwrite rather than duplicate. If you change the
// index mapping in code, remove the index directory.
func NewBleveIndex(path string) (*BleveIndex, error) {
	if _, err := os.Stat(path); err == nil {
		index, openErr := bleve.Open(path)
		if openErr != nil {
			return nil, fmt.Errorf("failed to open Bleve index: %w", openErr)
		}
		return &BleveIndex{index: index, path: path}, nil
	}

	index, err := bleve.New(path, chunkMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create Bleve index: %w", err)
	}
	return &BleveIndex{index: index, path: path}, nil
}

// chunkMapping analyzes content with the standard analyzer (lowercase and
// tokenize, no stemming, so identifiers match as written) and stores the
// identifying fields as exact keywords.
func chunkMapping() mapping.IndexMapping {
	im := bleve.NewIndexMapping()
	doc := bleve.NewDocumentMapping()

	content := bleve.NewTextFieldMapping()
	content.Analyzer = standard.Name
	doc.AddFieldMappingsAt("content", content)

	for _, name := range []string{"doc_id", "path", "language", "repo_state", "blob_state"} {
		f := bleve.NewTextFieldMapping()
		f.Analyzer = keywordanalyzer.Name
		doc.AddFieldMappingsAt(name, f)
	}
	for _, name := range []string{"start_line", "end_line"} {
		doc.AddFieldMappingsAt(name, bleve.NewNumericFieldMapping())
	}
	ingested := bleve.NewTextFieldMapping()
	ingested.Analyzer = keywordanalyzer.Name
	ingested.Index = false
	doc.AddFieldMappingsAt("ingested_at", ingested)

	im.DefaultMapping = doc
	return im
}

// Name implements bulk.Backend.
func (b *BleveIndex) Name() string { return "bleve" }

// RequiresEmbeddings implements bulk.Backend. Embeddings are not indexed.
func (b *BleveIndex) RequiresEmbeddings() bool { return false }

// Bulk implements bulk.Backend. If any pair cannot be added the batch is not
// executed and the rejected pairs are returned.
func (b *BleveIndex) Bulk(ctx context.Context, pairs []models.BulkPair) ([]bulk.ItemError, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	batch := b.index.NewBatch()
	var rejected []bulk.ItemError
	for _, p := range pairs {
		if p.Document == nil {
			rejected = append(rejected, bulk.ItemError{ID: p.Action.ID, Reason: "missing document"})
			continue
		}
		if err := batch.Index(p.Action.ID, p.Document.Fields()); err != nil {
			rejected = append(rejected, bulk.ItemError{ID: p.Action.ID, Reason: err.Error()})
		}
	}
	if len(rejected) > 0 {
		return rejected, nil
	}
	if err := b.index.Batch(batch); err != nil {
		return nil, fmt.Errorf("bleve batch: %w", err)
	}
	return nil, nil
}

// Search runs a match query over content and returns up to limit hits.
func (b *BleveIndex) Search(ctx context.Context, query string, limit int) ([]Result, error) {
	q := bleve.NewMatchQuery(query)
	q.SetField("content")
	req := bleve.NewSearchRequest(q)
	req.Size = limit
	results, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("Bleve search failed: %w", err)
	}
	out := make([]Result, len(results.Hits))
	for i, hit := range results.Hits {
		out[i] = Result{ID: hit.ID, Score: hit.Score}
	}
	return out, nil
}

// DocCount returns the total number of documents in the index.
func (b *BleveIndex) DocCount() (uint64, error) {
	return b.index.DocCount()
}

// Path returns the index directory.
func (b *BleveIndex) Path() string {
	return b.path
}

// Close closes the Bleve index.
func (b *BleveIndex) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.index == nil {
		return nil
	}
	err := b.index.Close()
	b.index = nil
	return err
}

// Package models defines the chunk documents and bulk actions produced by ingestion.
package models

import (
	"encoding/json"
	"time"
)

// TimeFormat is the wire format of IngestedAt: UTC, second precision.
const TimeFormat = "2006-01-02T15:04:05Z"

// ChunkDocument is one overlapping line-range slice of a file, the unit of indexing.
type ChunkDocument struct {
	ID         string    `json:"doc_id"`
	RepoState  string    `json:"repo_state"`
	Path       string    `json:"path"`
	Language   string    `json:"language"`
	StartLine  int       `json:"start_line"`
	EndLine    int       `json:"end_line"`
	BlobState  string    `json:"blob_state"`
	IngestedAt time.Time `json:"-"`
	Content    string    `json:"content"`
	Embedding  []float32 `json:"embedding,omitempty"`
}

// MarshalJSON renders IngestedAt in TimeFormat.
func (d ChunkDocument) MarshalJSON() ([]byte, error) {
	type alias ChunkDocument
	return json.Marshal(struct {
		alias
		IngestedAt string `json:"ingested_at"`
	}{alias: alias(d), IngestedAt: d.IngestedAt.UTC().Format(TimeFormat)})
}

// Fields returns the document as a flat map with IngestedAt rendered in TimeFormat.
// Embeddings are left out; local keyword sinks do not index them.
func (d *ChunkDocument) Fields() map[string]interface{} {
	return map[string]interface{}{
		"doc_id":      d.ID,
		"repo_state":  d.RepoState,
		"path":        d.Path,
		"language":    d.Language,
		"start_line":  d.StartLine,
		"end_line":    d.EndLine,
		"blob_state":  d.BlobState,
		"ingested_at": d.IngestedAt.UTC().Format(TimeFormat),
		"content":     d.Content,
	}
}

// IndexAction is the action descriptor that precedes every document in a bulk request.
type IndexAction struct {
	Index string `json:"_index"`
	ID    string `json:"_id"`
}

// BulkPair is an (action, document) pair. Writes are upserts keyed by Action.ID.
type BulkPair struct {
	Action   IndexAction
	Document *ChunkDocument
}

// NewBulkPair builds a pair targeting index, keyed by the document's ID.
func NewBulkPair(index string, doc *ChunkDocument) BulkPair {
	return BulkPair{
		Action:   IndexAction{Index: index, ID: doc.ID},
		Document: doc,
	}
}

package models

import "errors"

// Ingestion error taxonomy. Fatal conditions abort a run; recoverable ones are
// logged and the run continues.
var (
	// ErrNotFound indicates the ingestion root does not exist. Fatal.
	ErrNotFound = errors.New("not found")

	// ErrReadFailure indicates a single file could not be read. Recovered: the file is skipped.
	ErrReadFailure = errors.New("read failure")

	// ErrEmbeddingUnavailable indicates the embedding model could not be loaded.
	// Recovered: embeddings are disabled for the rest of the run.
	ErrEmbeddingUnavailable = errors.New("embedding unavailable")

	// ErrIndexingFailure indicates a bulk write failed, either in transport or
	// because at least one item was rejected. Fatal.
	ErrIndexingFailure = errors.New("indexing failure")
)

// Package bulk batches chunk documents and publishes them to a search backend.
package bulk

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/hyperjump/codeingest/internal/models"
)

// maxReportedItems bounds the item errors carried by an IndexingError.
const maxReportedItems = 3

// Backend receives whole batches of index actions.
type Backend interface {
	// Name identifies the backend in logs and run records.
	Name() string
	// RequiresEmbeddings reports whether documents must carry an embedding.
	RequiresEmbeddings() bool
	// Bulk writes pairs and returns per-item failures. A non-nil error means
	// the batch as a whole could not be delivered.
	Bulk(ctx context.Context, pairs []models.BulkPair) ([]ItemError, error)
	Close() error
}

// ItemError is one rejected action inside an otherwise delivered batch.
type ItemError struct {
	ID     string `json:"id"`
	Status int    `json:"status,omitempty"`
	Type   string `json:"type,omitempty"`
	Reason string `json:"reason"`
}

func (e ItemError) String() string {
	var b strings.Builder
	b.WriteString(e.ID)
	if e.Status != 0 {
		fmt.Fprintf(&b, " [%d]", e.Status)
	}
	if e.Type != "" {
		b.WriteString(" ")
		b.WriteString(e.Type)
	}
	if e.Reason != "" {
		b.WriteString(": ")
		b.WriteString(e.Reason)
	}
	return b.String()
}

// IndexingError reports a failed batch. It matches models.ErrIndexingFailure
// with errors.Is.
type IndexingError struct {
	Backend string
	// Failed is the number of rejected items; 0 when the batch failed in transport.
	Failed int
	Total  int
	// Items holds the first few rejected items.
	Items []ItemError
	Cause error
}

func newItemsError(backend string, total int, items []ItemError) *IndexingError {
	first := items
	if len(first) > maxReportedItems {
		first = first[:maxReportedItems]
	}
	return &IndexingError{
		Backend: backend,
		Failed:  len(items),
		Total:   total,
		Items:   append([]ItemError(nil), first...),
	}
}

func (e *IndexingError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s bulk request of %d documents failed: %v", e.Backend, e.Total, e.Cause)
	}
	parts := make([]string, len(e.Items))
	for i, it := range e.Items {
		parts[i] = it.String()
	}
	return fmt.Sprintf("%s rejected %d of %d documents: %s", e.Backend, e.Failed, e.Total, strings.Join(parts, "; "))
}

// Unwrap exposes both the taxonomy sentinel and the transport cause.
func (e *IndexingError) Unwrap() []error {
	if e.Cause == nil {
		return []error{models.ErrIndexingFailure}
	}
	return []error{models.ErrIndexingFailure, e.Cause}
}

// TransportError is a batch-level delivery failure. Status is 0 for network
// errors.
type TransportError struct {
	Status int
	Err    error
}

func (e *TransportError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("transport: %v", e.Err)
	}
	return fmt.Sprintf("http %d: %v", e.Status, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Retryable reports whether sending the same batch again may succeed.
func (e *TransportError) Retryable() bool {
	return e.Status == 0 || e.Status == http.StatusTooManyRequests || e.Status >= 500
}

func isRetryable(err error) bool {
	var te *TransportError
	return errors.As(err, &te) && te.Retryable()
}

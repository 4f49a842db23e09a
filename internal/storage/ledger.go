// Package storage keeps the run ledger and measures local sink sizes.
package storage

import (
	"context"

	"github.com/hyperjump/codeingest/internal/models"
)

// Ledger records ingestion runs.
type Ledger interface {
	RecordRun(ctx context.Context, run *models.RunRecord) error
	ListRuns(ctx context.Context, limit int) ([]*models.RunRecord, error)
	CountRuns(ctx context.Context) (int64, error)
	Close() error
}

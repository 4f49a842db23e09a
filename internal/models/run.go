package models

import "time"

// Run statuses recorded in the ledger.
const (
	RunStatusDone   = "done"
	RunStatusFailed = "failed"
)

// RunRecord is one ingestion run as kept in the run ledger. It is an
// observation only; ids are never derived from it.
type RunRecord struct {
	ID        string        `json:"id"`
	Root      string        `json:"root"`
	Backend   string        `json:"backend"`
	Index     string        `json:"index"`
	RepoState string        `json:"repo_state"`
	Status    string        `json:"status"`
	Files     int           `json:"files"`
	Skipped   int           `json:"skipped"`
	Chunks    int           `json:"chunks"`
	Documents int           `json:"documents"`
	Batches   int           `json:"batches"`
	Duration  time.Duration `json:"duration"`
	Error     string        `json:"error,omitempty"`
	StartedAt time.Time     `json:"started_at"`
}

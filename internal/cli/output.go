// Package cli formats run results for the codeingest command.
package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/hyperjump/codeingest/internal/bulk"
	"github.com/hyperjump/codeingest/internal/indexer"
	"github.com/hyperjump/codeingest/internal/models"
)

// OutputFormat is the format for listing output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseOutputFormat accepts "text" or "json"; empty means text.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch OutputFormat(s) {
	case "", OutputText:
		return OutputText, nil
	case OutputJSON:
		return OutputJSON, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want text or json)", s)
	}
}

// WriteScan prints the line emitted once the files and repo state are known.
func WriteScan(w io.Writer, r indexer.ScanReport) {
	fmt.Fprintf(w, "repo=%s files=%d root=%s\n", r.RepoState, r.Files, r.Root)
}

// WriteSummary prints the closing line of a successful run.
func WriteSummary(w io.Writer, stats *indexer.Statistics) {
	fmt.Fprintf(w, "done: %d chunks in %.1fs (avg %.1f docs/s)\n",
		stats.ChunksProduced, stats.Duration.Seconds(), stats.DocsPerSecond)
}

// WriteFailure prints a diagnostic for a failed run. Rejected items carried by
// an indexing failure are listed one per line.
func WriteFailure(w io.Writer, err error) {
	fmt.Fprintf(w, "error: %v\n", err)
	var ierr *bulk.IndexingError
	if !errors.As(err, &ierr) || len(ierr.Items) == 0 {
		return
	}
	fmt.Fprintf(w, "%d of %d documents rejected by %s; first failures:\n", ierr.Failed, ierr.Total, ierr.Backend)
	for _, it := range ierr.Items {
		fmt.Fprintf(w, "  - %s\n", it)
	}
}

// WriteRuns writes ledger entries to w in the given format.
func WriteRuns(w io.Writer, runs []*models.RunRecord, format OutputFormat) error {
	if format == OutputJSON {
		if runs == nil {
			runs = []*models.RunRecord{}
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(runs)
	}
	if len(runs) == 0 {
		fmt.Fprintln(w, "no runs recorded")
		return nil
	}
	for _, run := range runs {
		fmt.Fprintf(w, "%s  %-6s  %s  backend=%s index=%s repo=%s files=%d chunks=%d batches=%d in %.1fs\n",
			run.StartedAt.Local().Format("2006-01-02 15:04:05"),
			run.Status,
			run.ID,
			run.Backend,
			run.Index,
			run.RepoState,
			run.Files,
			run.Chunks,
			run.Batches,
			run.Duration.Seconds())
		if run.Error != "" {
			fmt.Fprintf(w, "    error: %s\n", run.Error)
		}
	}
	return nil
}

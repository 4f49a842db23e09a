package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/hyperjump/codeingest/internal/bulk"
	"github.com/hyperjump/codeingest/internal/config"
	"github.com/hyperjump/codeingest/internal/indexer"
	"github.com/hyperjump/codeingest/internal/models"
	"github.com/hyperjump/codeingest/internal/storage"
)

const (
	defaultRunsLimit = 20
	maxRunsLimit     = 500
)

type runFailure struct {
	Error  string              `json:"error"`
	Failed int                 `json:"failed,omitempty"`
	Total  int                 `json:"total,omitempty"`
	Items  []bulk.ItemError    `json:"items,omitempty"`
	Stats  *indexer.Statistics `json:"stats,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleStartRun runs ingestion synchronously. The run is bound to the request
// context, so a client that disconnects cancels it.
func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	s.logger.Debug("start run request")
	stats, err := s.runs.Run(r.Context())
	if err == nil {
		s.respondJSON(w, http.StatusCreated, stats)
		return
	}

	resp := runFailure{Error: err.Error(), Stats: stats}
	status := http.StatusInternalServerError
	var ierr *bulk.IndexingError
	switch {
	case errors.Is(err, indexer.ErrRunInProgress):
		status = http.StatusConflict
		resp.Stats = nil
	case errors.As(err, &ierr):
		status = http.StatusBadGateway
		resp.Failed = ierr.Failed
		resp.Total = ierr.Total
		resp.Items = ierr.Items
	case errors.Is(err, models.ErrIndexingFailure):
		status = http.StatusBadGateway
	case errors.Is(err, models.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, models.ErrEmbeddingUnavailable):
		status = http.StatusServiceUnavailable
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("run failed", zap.Int("status", status), zap.Error(err))
	}
	s.respondJSON(w, status, resp)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.ledger == nil {
		s.respondError(w, http.StatusNotImplemented, "run ledger disabled")
		return
	}
	limit := defaultRunsLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			s.respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxRunsLimit)
	}
	runs, err := s.ledger.ListRuns(r.Context(), limit)
	if err != nil {
		s.logger.Error("list runs failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if runs == nil {
		runs = []*models.RunRecord{}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"runs": runs})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"running": s.runs.Running(),
	}
	if last := s.runs.Last(); last != nil {
		resp["last_run"] = last
	}
	if s.ledger != nil {
		count, err := s.ledger.CountRuns(r.Context())
		if err != nil {
			s.logger.Error("status: count runs failed", zap.Error(err))
			s.respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		resp["runs"] = count
	}

	if s.config != nil {
		cfg := s.config
		resp["config"] = map[string]interface{}{
			"root":          cfg.Ingest.Root,
			"include":       cfg.Ingest.Include,
			"exclude_dirs":  cfg.Ingest.ExcludeDirs,
			"chunk_lines":   cfg.Ingest.ChunkLines,
			"chunk_overlap": cfg.Ingest.ChunkOverlap,
			"batch_size":    cfg.Ingest.BatchSize,
			"workers":       cfg.Ingest.Workers,
			"backend":       cfg.Backend.Type,
			"index":         cfg.Backend.Index,
			"embeddings":    bool(cfg.Embedding.Enabled),
			"emb_provider":  cfg.Embedding.Provider,
			"emb_model":     cfg.Embedding.Model,
		}
		var paths []string
		switch cfg.Backend.Type {
		case config.BackendBleve:
			paths = append(paths, cfg.Backend.BlevePath)
		case config.BackendChromem:
			paths = append(paths, cfg.Backend.ChromemDir)
		}
		if !cfg.Ledger.Disabled {
			paths = append(paths, cfg.Ledger.Path)
		}
		if diskBytes, err := storage.DiskUsageBytes(paths...); err == nil {
			resp["disk_usage_bytes"] = diskBytes
		} else {
			s.logger.Debug("status: disk usage failed", zap.Error(err))
		}
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}

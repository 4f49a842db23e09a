package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/codeingest/internal/bulk"
	"github.com/hyperjump/codeingest/internal/config"
	"github.com/hyperjump/codeingest/internal/indexer"
	"github.com/hyperjump/codeingest/internal/models"
	"github.com/hyperjump/codeingest/internal/storage"
)

type mockRunService struct {
	stats   *indexer.Statistics
	err     error
	running bool
	last    *indexer.Statistics
	calls   int
}

func (m *mockRunService) Run(ctx context.Context) (*indexer.Statistics, error) {
	m.calls++
	return m.stats, m.err
}

func (m *mockRunService) Running() bool              { return m.running }
func (m *mockRunService) Last() *indexer.Statistics { return m.last }

func newTestLedger(t *testing.T) *storage.SQLiteLedger {
	t.Helper()
	ledger, err := storage.NewSQLiteLedger(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ledger.Close() })
	return ledger
}

func serve(srv *Server, method, target string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(method, target, nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, r)
	return w
}

func TestHandleHealth(t *testing.T) {
	srv := NewServer(&mockRunService{}, nil, nil, zap.NewNop())
	w := serve(srv, http.MethodGet, "/health")
	if w.Code != http.StatusOK {
		t.Errorf("status: got %d", w.Code)
	}
}

func TestHandleStartRun_created(t *testing.T) {
	stats := &indexer.Statistics{RunID: "run-1", RepoState: "abc123", FilesScanned: 2, ChunksProduced: 3, DocumentsSubmitted: 3}
	runs := &mockRunService{stats: stats}
	srv := NewServer(runs, nil, nil, zap.NewNop())

	w := serve(srv, http.MethodPost, "/api/v1/runs")
	if w.Code != http.StatusCreated {
		t.Fatalf("status: got %d, body %s", w.Code, w.Body.String())
	}
	var out indexer.Statistics
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out.RunID != "run-1" || out.RepoState != "abc123" || out.ChunksProduced != 3 {
		t.Errorf("stats: got %+v", out)
	}
	if runs.calls != 1 {
		t.Errorf("Run called %d times", runs.calls)
	}
}

func TestHandleStartRun_errors(t *testing.T) {
	ierr := &bulk.IndexingError{
		Backend: "opensearch",
		Failed:  1,
		Total:   1000,
		Items:   []bulk.ItemError{{ID: "id-0617", Status: 400, Type: "mapper_parsing_exception", Reason: "failed to parse"}},
	}
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"in progress", indexer.ErrRunInProgress, http.StatusConflict},
		{"item errors", fmt.Errorf("flush: %w", ierr), http.StatusBadGateway},
		{"transport", &bulk.IndexingError{Backend: "opensearch", Total: 10, Cause: fmt.Errorf("connection refused")}, http.StatusBadGateway},
		{"missing root", fmt.Errorf("root /nope: %w", models.ErrNotFound), http.StatusNotFound},
		{"embeddings", fmt.Errorf("chromem backend requires embeddings: %w", models.ErrEmbeddingUnavailable), http.StatusServiceUnavailable},
		{"other", fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := NewServer(&mockRunService{stats: &indexer.Statistics{RunID: "r"}, err: tt.err}, nil, nil, zap.NewNop())
			w := serve(srv, http.MethodPost, "/api/v1/runs")
			if w.Code != tt.status {
				t.Fatalf("status: got %d, want %d", w.Code, tt.status)
			}
			var out runFailure
			if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
				t.Fatal(err)
			}
			if out.Error == "" {
				t.Error("missing error message")
			}
		})
	}
}

func TestHandleStartRun_reportsRejectedItems(t *testing.T) {
	ierr := &bulk.IndexingError{
		Backend: "opensearch",
		Failed:  1,
		Total:   1000,
		Items:   []bulk.ItemError{{ID: "id-0617", Status: 400, Reason: "failed to parse"}},
	}
	srv := NewServer(&mockRunService{err: ierr}, nil, nil, zap.NewNop())
	w := serve(srv, http.MethodPost, "/api/v1/runs")
	if w.Code != http.StatusBadGateway {
		t.Fatalf("status: got %d", w.Code)
	}
	var out runFailure
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out.Failed != 1 || out.Total != 1000 {
		t.Errorf("failed/total: got %d/%d", out.Failed, out.Total)
	}
	if len(out.Items) != 1 || out.Items[0].ID != "id-0617" {
		t.Errorf("items: got %+v", out.Items)
	}
}

func TestHandleListRuns(t *testing.T) {
	ledger := newTestLedger(t)
	ctx := context.Background()
	base := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		err := ledger.RecordRun(ctx, &models.RunRecord{
			ID:        fmt.Sprintf("run-%d", i),
			Root:      "/srv/repo",
			Backend:   "bleve",
			Index:     "code-chunks",
			Status:    models.RunStatusDone,
			StartedAt: base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	srv := NewServer(&mockRunService{}, ledger, nil, zap.NewNop())

	w := serve(srv, http.MethodGet, "/api/v1/runs?limit=2")
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	var out struct {
		Runs []models.RunRecord `json:"runs"`
	}
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if len(out.Runs) != 2 || out.Runs[0].ID != "run-2" || out.Runs[1].ID != "run-1" {
		t.Errorf("runs: got %+v", out.Runs)
	}
}

func TestHandleListRuns_badLimit(t *testing.T) {
	srv := NewServer(&mockRunService{}, newTestLedger(t), nil, zap.NewNop())
	for _, limit := range []string{"0", "-3", "ten"} {
		w := serve(srv, http.MethodGet, "/api/v1/runs?limit="+limit)
		if w.Code != http.StatusBadRequest {
			t.Errorf("limit=%s: got %d, want 400", limit, w.Code)
		}
	}
}

func TestHandleListRuns_ledgerDisabled(t *testing.T) {
	srv := NewServer(&mockRunService{}, nil, nil, zap.NewNop())
	w := serve(srv, http.MethodGet, "/api/v1/runs")
	if w.Code != http.StatusNotImplemented {
		t.Errorf("status: got %d, want 501", w.Code)
	}
}

func TestHandleStatus(t *testing.T) {
	ledger := newTestLedger(t)
	if err := ledger.RecordRun(context.Background(), &models.RunRecord{ID: "run-0", Status: models.RunStatusDone, StartedAt: time.Now()}); err != nil {
		t.Fatal(err)
	}
	cfg := config.Default()
	cfg.Backend.Type = config.BackendBleve
	cfg.Backend.BlevePath = filepath.Join(t.TempDir(), "bleve")
	cfg.Ledger.Path = filepath.Join(t.TempDir(), "missing.db")

	runs := &mockRunService{running: true, last: &indexer.Statistics{RunID: "run-0"}}
	srv := NewServer(runs, ledger, cfg, zap.NewNop())

	w := serve(srv, http.MethodGet, "/api/v1/status")
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	var out struct {
		Running   bool                   `json:"running"`
		Runs      int64                  `json:"runs"`
		LastRun   *indexer.Statistics    `json:"last_run"`
		Config    map[string]interface{} `json:"config"`
		DiskUsage *int64                 `json:"disk_usage_bytes"`
	}
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if !out.Running || out.Runs != 1 {
		t.Errorf("running/runs: got %v/%d", out.Running, out.Runs)
	}
	if out.LastRun == nil || out.LastRun.RunID != "run-0" {
		t.Errorf("last_run: got %+v", out.LastRun)
	}
	if out.Config["backend"] != "bleve" || out.Config["index"] != "code-chunks" {
		t.Errorf("config: got %v", out.Config)
	}
	if out.DiskUsage == nil || *out.DiskUsage != 0 {
		t.Errorf("disk_usage_bytes: got %v, want 0 for missing paths", out.DiskUsage)
	}
}

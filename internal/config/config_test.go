package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// clearEnv blanks every variable Load reads so the ambient environment cannot leak in.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"CODEINGEST_DEBUG", "ROOT", "INCLUDE", "EXCLUDE_DIRS", "CHUNK_LINES", "CHUNK_OVERLAP",
		"BATCH_SIZE", "WORKERS", "REPO_STATE_FALLBACK", "BACKEND", "INDEX", "BLEVE_PATH",
		"CHROMEM_DIR", "BULK_MAX_RETRIES", "BULK_RETRY_BASE_DELAY", "BULK_RETRY_MAX_DELAY",
		"BULK_RPS", "OS_URL", "OS_USER", "OS_PASS", "OS_INSECURE", "OS_TIMEOUT",
		"WITH_EMBEDDINGS", "EMB_PROVIDER", "EMB_MODEL", "EMB_DIM", "EMB_MAX_TOKENS",
		"EMB_CACHE_SIZE", "OPENAI_API_KEY", "OPENAI_BASE_URL", "ONNXRUNTIME_LIB",
		"LEDGER_PATH", "LEDGER_DISABLED", "SERVER_HOST", "SERVER_PORT", "WATCH_DEBOUNCE",
	} {
		t.Setenv(key, "")
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
ingest:
  root: "/srv/repo"
  chunk_lines: 40
  chunk_overlap: 0
backend:
  type: opensearch
  index: "my-chunks"
  opensearch:
    url: "https://search.internal:9200"
    timeout: 30s
server:
  host: "127.0.0.1"
  port: 9000
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Ingest.Root != "/srv/repo" {
		t.Errorf("root = %q", cfg.Ingest.Root)
	}
	if cfg.Ingest.ChunkLines != 40 || cfg.Ingest.ChunkOverlap != 0 {
		t.Errorf("chunking = %d/%d, want 40/0", cfg.Ingest.ChunkLines, cfg.Ingest.ChunkOverlap)
	}
	if cfg.Backend.Index != "my-chunks" {
		t.Errorf("index = %q", cfg.Backend.Index)
	}
	if cfg.Backend.OpenSearch.Timeout != 30*time.Second {
		t.Errorf("timeout = %v", cfg.Backend.OpenSearch.Timeout)
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 9000 {
		t.Errorf("unexpected server config: %+v", cfg.Server)
	}
	if cfg.Backend.MaxRetries != 3 {
		t.Errorf("max_retries should keep its default, got %d", cfg.Backend.MaxRetries)
	}
	if cfg.Debug {
		t.Error("debug should default to false when unset")
	}
}

func TestLoad_noFile(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Ingest.ChunkLines != 80 || cfg.Ingest.ChunkOverlap != 20 {
		t.Errorf("chunking = %d/%d, want 80/20", cfg.Ingest.ChunkLines, cfg.Ingest.ChunkOverlap)
	}
	if cfg.Ingest.BatchSize != 1000 {
		t.Errorf("batch size = %d", cfg.Ingest.BatchSize)
	}
	if !filepath.IsAbs(cfg.Ingest.Root) {
		t.Errorf("root should be absolute, got %q", cfg.Ingest.Root)
	}
	if bool(cfg.Embedding.Enabled) {
		t.Error("embeddings should be disabled by default")
	}
	if cfg.Backend.OpenSearch.InsecureSkipVerify {
		t.Error("TLS verification should be on by default")
	}
}

func TestLoad_missingFile(t *testing.T) {
	clearEnv(t)
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestLoad_envOverrides(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
ingest:
  chunk_lines: 40
backend:
  index: "from-file"
`)
	t.Setenv("ROOT", "/tmp/envroot")
	t.Setenv("INDEX", "from-env")
	t.Setenv("CHUNK_LINES", "100")
	t.Setenv("CHUNK_OVERLAP", "10")
	t.Setenv("OS_URL", "http://localhost:9201")
	t.Setenv("OS_USER", "ingest")
	t.Setenv("OS_PASS", "secret")
	t.Setenv("WITH_EMBEDDINGS", "yes")
	t.Setenv("EMB_MODEL", "/models/code.onnx")
	t.Setenv("INCLUDE", "*.go,cmd/**/*.go")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Ingest.Root != "/tmp/envroot" {
		t.Errorf("root = %q", cfg.Ingest.Root)
	}
	if cfg.Backend.Index != "from-env" {
		t.Errorf("index = %q", cfg.Backend.Index)
	}
	if cfg.Ingest.ChunkLines != 100 || cfg.Ingest.ChunkOverlap != 10 {
		t.Errorf("chunking = %d/%d", cfg.Ingest.ChunkLines, cfg.Ingest.ChunkOverlap)
	}
	if cfg.Backend.OpenSearch.URL != "http://localhost:9201" ||
		cfg.Backend.OpenSearch.Username != "ingest" ||
		cfg.Backend.OpenSearch.Password != "secret" {
		t.Errorf("opensearch = %+v", cfg.Backend.OpenSearch)
	}
	if !cfg.Embedding.Enabled {
		t.Error("WITH_EMBEDDINGS=yes should enable embeddings")
	}
	if cfg.Embedding.Model != "/models/code.onnx" {
		t.Errorf("model = %q", cfg.Embedding.Model)
	}
	if strings.Join(cfg.Ingest.Include, " ") != "*.go cmd/**/*.go" {
		t.Errorf("include = %v", cfg.Ingest.Include)
	}
}

func TestLoad_expandPathRelativeToConfigDir(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
ingest:
  root: "./repo"
backend:
  bleve_path: "./data/bleve"
ledger:
  path: "runs.db"
`)
	dir := filepath.Dir(path)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if want := filepath.Join(dir, "repo"); cfg.Ingest.Root != want {
		t.Errorf("root = %q, want %q", cfg.Ingest.Root, want)
	}
	if want := filepath.Join(dir, "data", "bleve"); cfg.Backend.BlevePath != want {
		t.Errorf("bleve_path = %q, want %q", cfg.Backend.BlevePath, want)
	}
	if want := filepath.Join(dir, "runs.db"); cfg.Ledger.Path != want {
		t.Errorf("ledger path = %q, want %q", cfg.Ledger.Path, want)
	}
}

func TestLoad_invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"overlap equals window", "ingest:\n  chunk_lines: 10\n  chunk_overlap: 10\n", "chunk_overlap"},
		{"negative overlap", "ingest:\n  chunk_overlap: -1\n", "chunk_overlap"},
		{"negative batch", "ingest:\n  batch_size: -5\n", "batch_size"},
		{"unknown backend", "backend:\n  type: solr\n", "unknown backend"},
		{"chromem without embeddings", "backend:\n  type: chromem\n", "requires embedding"},
		{"bad fallback", "ingest:\n  repo_state_fallback: random\n", "repo_state_fallback"},
		{"negative retries", "backend:\n  max_retries: -1\n", "max_retries"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			_, err := Load(writeConfig(t, tt.content))
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q should mention %q", err, tt.want)
			}
		})
	}
}

func TestLoad_invalidEnvToggle(t *testing.T) {
	clearEnv(t)
	t.Setenv("WITH_EMBEDDINGS", "maybe")
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for invalid WITH_EMBEDDINGS")
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)
	if cfg.Backend.Type != BackendOpenSearch {
		t.Errorf("backend = %q", cfg.Backend.Type)
	}
	if cfg.Backend.Index != "code-chunks" {
		t.Errorf("index = %q", cfg.Backend.Index)
	}
	if cfg.Backend.OpenSearch.URL != "https://localhost:9200" {
		t.Errorf("url = %q", cfg.Backend.OpenSearch.URL)
	}
	if cfg.Backend.OpenSearch.Timeout != 60*time.Second {
		t.Errorf("timeout = %v", cfg.Backend.OpenSearch.Timeout)
	}
	if len(cfg.Ingest.Include) != len(DefaultInclude) {
		t.Errorf("include = %v", cfg.Ingest.Include)
	}
	if len(cfg.Ingest.ExcludeDirs) != len(DefaultExcludeDirs) {
		t.Errorf("exclude = %v", cfg.Ingest.ExcludeDirs)
	}
	if cfg.Watch.Debounce != 2*time.Second {
		t.Errorf("debounce = %v", cfg.Watch.Debounce)
	}
	// ApplyDefaults alone leaves meaningful zeros alone.
	if cfg.Ingest.ChunkOverlap != 0 || cfg.Backend.MaxRetries != 0 {
		t.Errorf("overlap/retries = %d/%d, want 0/0", cfg.Ingest.ChunkOverlap, cfg.Backend.MaxRetries)
	}
}

func TestApplyDefaults_openAIModel(t *testing.T) {
	cfg := &Config{Embedding: EmbeddingConfig{Provider: "openai"}}
	ApplyDefaults(cfg)
	if cfg.Embedding.Model != "text-embedding-3-small" {
		t.Errorf("model = %q", cfg.Embedding.Model)
	}
	if cfg.Embedding.Dimensions != 0 {
		t.Errorf("dimensions = %d, want 0 so the model decides", cfg.Embedding.Dimensions)
	}

	local := &Config{Embedding: EmbeddingConfig{Provider: "onnx"}}
	ApplyDefaults(local)
	if local.Embedding.Dimensions != 384 {
		t.Errorf("onnx dimensions = %d, want 384", local.Embedding.Dimensions)
	}
}

func TestToggle(t *testing.T) {
	for in, want := range map[string]bool{
		"1": true, "true": true, "YES": true, "on": true,
		"0": false, "false": false, "no": false, "off": false, "": false,
	} {
		var tg Toggle
		if err := tg.UnmarshalText([]byte(in)); err != nil {
			t.Errorf("UnmarshalText(%q): %v", in, err)
			continue
		}
		if bool(tg) != want {
			t.Errorf("UnmarshalText(%q) = %v, want %v", in, tg, want)
		}
	}
	var tg Toggle
	if err := tg.UnmarshalText([]byte("sometimes")); err == nil {
		t.Error("expected error for invalid toggle")
	}
}

func TestSave(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "out.yaml")
	cfg := Default()
	cfg.Ingest.Root = "/srv/repo"
	cfg.Backend.Index = "saved"
	cfg.Embedding.Enabled = true
	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Backend.Index != "saved" || loaded.Ingest.Root != "/srv/repo" || !loaded.Embedding.Enabled {
		t.Errorf("round trip mismatch: %+v", loaded)
	}
}

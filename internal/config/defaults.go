package config

import "time"

// DefaultInclude mirrors the usual layout of application repositories.
var DefaultInclude = []string{
	"src/**/*.*", "lib/**/*.*", "apps/**/*.*", "services/**/*.*",
	"*.js", "*.ts", "*.py", "*.java", "*.go", "*.cs", "*.rb", "*.php", "*.rs",
}

// DefaultExcludeDirs are never descended into.
var DefaultExcludeDirs = []string{".git", "node_modules", ".venv", "venv", "dist", "build", ".stryker-tmp"}

// Default returns a config with every default set, including those whose zero
// value is meaningful (chunk overlap, max retries). Files and environment are
// layered on top of it.
func Default() *Config {
	cfg := &Config{}
	cfg.Ingest.ChunkOverlap = 20
	cfg.Backend.MaxRetries = 3
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults sets default values for any zero values in cfg where zero is not valid.
func ApplyDefaults(cfg *Config) {
	if cfg.Ingest.Root == "" {
		cfg.Ingest.Root = "."
	}
	if cfg.Ingest.Include == nil {
		cfg.Ingest.Include = append([]string(nil), DefaultInclude...)
	}
	if cfg.Ingest.ExcludeDirs == nil {
		cfg.Ingest.ExcludeDirs = append([]string(nil), DefaultExcludeDirs...)
	}
	if cfg.Ingest.ChunkLines == 0 {
		cfg.Ingest.ChunkLines = 80
	}
	if cfg.Ingest.BatchSize == 0 {
		cfg.Ingest.BatchSize = 1000
	}
	if cfg.Ingest.Workers == 0 {
		cfg.Ingest.Workers = 1
	}
	if cfg.Ingest.RepoStateFallback == "" {
		cfg.Ingest.RepoStateFallback = "sentinel"
	}
	if cfg.Backend.Type == "" {
		cfg.Backend.Type = BackendOpenSearch
	}
	if cfg.Backend.Index == "" {
		cfg.Backend.Index = "code-chunks"
	}
	if cfg.Backend.OpenSearch.URL == "" {
		cfg.Backend.OpenSearch.URL = "https://localhost:9200"
	}
	if cfg.Backend.OpenSearch.Username == "" {
		cfg.Backend.OpenSearch.Username = "admin"
	}
	if cfg.Backend.OpenSearch.Timeout == 0 {
		cfg.Backend.OpenSearch.Timeout = 60 * time.Second
	}
	if cfg.Backend.RetryBaseDelay == 0 {
		cfg.Backend.RetryBaseDelay = 500 * time.Millisecond
	}
	if cfg.Backend.RetryMaxDelay == 0 {
		cfg.Backend.RetryMaxDelay = 10 * time.Second
	}
	if cfg.Backend.BlevePath == "" {
		cfg.Backend.BlevePath = ".codeingest/bleve"
	}
	if cfg.Backend.ChromemDir == "" {
		cfg.Backend.ChromemDir = ".codeingest/chromem"
	}
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "onnx"
	}
	if cfg.Embedding.Model == "" {
		switch cfg.Embedding.Provider {
		case "openai":
			cfg.Embedding.Model = "text-embedding-3-small"
		default:
			cfg.Embedding.Model = "models/all-MiniLM-L6-v2.onnx"
		}
	}
	// OpenAI dimensions follow the model unless set explicitly.
	if cfg.Embedding.Dimensions == 0 && cfg.Embedding.Provider != "openai" {
		cfg.Embedding.Dimensions = 384
	}
	if cfg.Embedding.MaxTokens == 0 {
		cfg.Embedding.MaxTokens = 256
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 10000
	}
	if cfg.Ledger.Path == "" {
		cfg.Ledger.Path = ".codeingest/runs.db"
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Watch.Debounce == 0 {
		cfg.Watch.Debounce = 2 * time.Second
	}
}

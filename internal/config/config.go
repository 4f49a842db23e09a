// Package config provides configuration loading and structs for codeingest.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"gopkg.in/yaml.v3"
)

// Backend types.
const (
	BackendOpenSearch = "opensearch"
	BackendBleve      = "bleve"
	BackendChromem    = "chromem"
)

// Config holds all configuration for an ingestion run and its surfaces.
type Config struct {
	Debug     bool            `yaml:"debug" env:"CODEINGEST_DEBUG"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Backend   BackendConfig   `yaml:"backend"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Ledger    LedgerConfig    `yaml:"ledger"`
	Server    ServerConfig    `yaml:"server"`
	Watch     WatchConfig     `yaml:"watch"`
}

// IngestConfig selects files and shapes chunks and batches.
type IngestConfig struct {
	Root        string   `yaml:"root" env:"ROOT"`
	Include     []string `yaml:"include" env:"INCLUDE" envSeparator:","`
	ExcludeDirs []string `yaml:"exclude_dirs" env:"EXCLUDE_DIRS" envSeparator:","`
	ChunkLines  int      `yaml:"chunk_lines" env:"CHUNK_LINES"`
	// ChunkOverlap may legitimately be 0, so its default comes from Default, not ApplyDefaults.
	ChunkOverlap int `yaml:"chunk_overlap" env:"CHUNK_OVERLAP"`
	BatchSize    int `yaml:"batch_size" env:"BATCH_SIZE"`
	Workers      int `yaml:"workers" env:"WORKERS"`
	// RepoStateFallback is "sentinel" or "tree", used when git cannot name the revision.
	RepoStateFallback string `yaml:"repo_state_fallback" env:"REPO_STATE_FALLBACK"`
}

// BackendConfig selects and configures the search backend.
type BackendConfig struct {
	Type       string           `yaml:"type" env:"BACKEND"`
	Index      string           `yaml:"index" env:"INDEX"`
	OpenSearch OpenSearchConfig `yaml:"opensearch"`
	BlevePath  string           `yaml:"bleve_path" env:"BLEVE_PATH"`
	ChromemDir string           `yaml:"chromem_dir" env:"CHROMEM_DIR"`
	// MaxRetries bounds transport retries per batch; 0 aborts on the first failure.
	MaxRetries        int           `yaml:"max_retries" env:"BULK_MAX_RETRIES"`
	RetryBaseDelay    time.Duration `yaml:"retry_base_delay" env:"BULK_RETRY_BASE_DELAY"`
	RetryMaxDelay     time.Duration `yaml:"retry_max_delay" env:"BULK_RETRY_MAX_DELAY"`
	RequestsPerSecond float64       `yaml:"requests_per_second" env:"BULK_RPS"`
}

// OpenSearchConfig holds the bulk endpoint and credentials.
type OpenSearchConfig struct {
	URL      string `yaml:"url" env:"OS_URL"`
	Username string `yaml:"username" env:"OS_USER"`
	Password string `yaml:"password" env:"OS_PASS"`
	// InsecureSkipVerify disables TLS certificate checks for self-signed clusters. Opt-in.
	InsecureSkipVerify bool          `yaml:"insecure_skip_verify" env:"OS_INSECURE"`
	Timeout            time.Duration `yaml:"timeout" env:"OS_TIMEOUT"`
}

// EmbeddingConfig holds the optional embedding adapter settings.
type EmbeddingConfig struct {
	Enabled    Toggle `yaml:"enabled" env:"WITH_EMBEDDINGS"`
	Provider   string `yaml:"provider" env:"EMB_PROVIDER"`
	Model      string `yaml:"model" env:"EMB_MODEL"`
	Dimensions int    `yaml:"dimensions" env:"EMB_DIM"`
	MaxTokens  int    `yaml:"max_tokens" env:"EMB_MAX_TOKENS"`
	CacheSize  int    `yaml:"cache_size" env:"EMB_CACHE_SIZE"`
	APIKey     string `yaml:"api_key" env:"OPENAI_API_KEY"`
	BaseURL    string `yaml:"base_url" env:"OPENAI_BASE_URL"`
	// ONNXLibrary overrides the onnxruntime shared library path.
	ONNXLibrary string `yaml:"onnx_library" env:"ONNXRUNTIME_LIB"`
}

// LedgerConfig holds the run ledger database location.
type LedgerConfig struct {
	Path     string `yaml:"path" env:"LEDGER_PATH"`
	Disabled bool   `yaml:"disabled" env:"LEDGER_DISABLED"`
}

// ServerConfig holds HTTP control API settings.
type ServerConfig struct {
	Host string `yaml:"host" env:"SERVER_HOST"`
	Port int    `yaml:"port" env:"SERVER_PORT"`
}

// WatchConfig holds watch mode settings.
type WatchConfig struct {
	Debounce time.Duration `yaml:"debounce" env:"WATCH_DEBOUNCE"`
}

// Load builds a config from defaults, the YAML file at path (skipped when path
// is empty), and environment overrides, then applies defaults for unset values,
// expands paths, and validates.
func Load(path string) (*Config, error) {
	cfg := Default()
	configDir := ""
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
		configDir = filepath.Dir(path)
	}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	ApplyDefaults(cfg)

	cfg.Ingest.Root = expandPath(cfg.Ingest.Root, configDir)
	cfg.Backend.BlevePath = expandPath(cfg.Backend.BlevePath, configDir)
	cfg.Backend.ChromemDir = expandPath(cfg.Backend.ChromemDir, configDir)
	cfg.Ledger.Path = expandPath(cfg.Ledger.Path, configDir)
	if cfg.Embedding.Provider == "onnx" {
		cfg.Embedding.Model = expandPath(cfg.Embedding.Model, configDir)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Validate checks invariants that defaults cannot repair.
func (c *Config) Validate() error {
	var errs []error
	if c.Ingest.ChunkLines < 1 {
		errs = append(errs, fmt.Errorf("chunk_lines must be >= 1, got %d", c.Ingest.ChunkLines))
	}
	if c.Ingest.ChunkOverlap < 0 || c.Ingest.ChunkOverlap >= c.Ingest.ChunkLines {
		errs = append(errs, fmt.Errorf("chunk_overlap must be in [0, chunk_lines), got %d", c.Ingest.ChunkOverlap))
	}
	if c.Ingest.BatchSize < 1 {
		errs = append(errs, fmt.Errorf("batch_size must be >= 1, got %d", c.Ingest.BatchSize))
	}
	if len(c.Ingest.Include) == 0 {
		errs = append(errs, errors.New("include must name at least one pattern"))
	}
	switch c.Ingest.RepoStateFallback {
	case "sentinel", "tree":
	default:
		errs = append(errs, fmt.Errorf("unknown repo_state_fallback %q", c.Ingest.RepoStateFallback))
	}
	switch c.Backend.Type {
	case BackendOpenSearch:
		if c.Backend.OpenSearch.URL == "" {
			errs = append(errs, errors.New("opensearch url is required"))
		}
	case BackendBleve:
		if c.Backend.BlevePath == "" {
			errs = append(errs, errors.New("bleve_path is required"))
		}
	case BackendChromem:
		if !c.Embedding.Enabled {
			errs = append(errs, errors.New("chromem backend requires embedding.enabled"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown backend type %q", c.Backend.Type))
	}
	if c.Backend.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("max_retries must be >= 0, got %d", c.Backend.MaxRetries))
	}
	return errors.Join(errs...)
}

// expandPath converts a path to absolute. Relative paths are relative to
// configDir when a config file was loaded, else to the working directory.
// A leading "~/" expands to the home directory.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
		return path
	}
	if configDir != "" {
		return filepath.Join(configDir, path)
	}
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}

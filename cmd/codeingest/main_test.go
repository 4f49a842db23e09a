package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hyperjump/codeingest/internal/models"
)

func numberedLines(n int) string {
	var b strings.Builder
	for i := 1; i <= n; i++ {
		fmt.Fprintf(&b, "line %d\n", i)
	}
	return b.String()
}

// writeBleveConfig writes a config that ingests root into a local bleve index.
func writeBleveConfig(t *testing.T, root string) string {
	t.Helper()
	dir := t.TempDir()
	content := fmt.Sprintf(`
ingest:
  root: %q
  include: ["**/*.go"]
backend:
  type: bleve
  bleve_path: %q
ledger:
  path: %q
`, root, filepath.Join(dir, "bleve"), filepath.Join(dir, "runs.db"))
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRun_versionAndHelp(t *testing.T) {
	var out, errOut bytes.Buffer
	if code := run([]string{"version"}, &out, &errOut); code != 0 {
		t.Fatalf("version exit = %d", code)
	}
	if !strings.HasPrefix(out.String(), "codeingest version ") {
		t.Errorf("version output = %q", out.String())
	}

	out.Reset()
	if code := run([]string{"help"}, &out, &errOut); code != 0 {
		t.Fatalf("help exit = %d", code)
	}
	if !strings.Contains(out.String(), "codeingest ingest") {
		t.Errorf("help output missing ingest:\n%s", out.String())
	}
}

func TestRun_unknownAndMissingCommand(t *testing.T) {
	var out, errOut bytes.Buffer
	if code := run([]string{"frobnicate"}, &out, &errOut); code != 1 {
		t.Errorf("unknown command exit = %d, want 1", code)
	}
	if !strings.Contains(errOut.String(), "Unknown command: frobnicate") {
		t.Errorf("stderr = %q", errOut.String())
	}
	if code := run(nil, &out, &errOut); code != 1 {
		t.Errorf("no command exit = %d, want 1", code)
	}
}

func TestIngest_bleveThenRuns(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "main.go"), []byte(numberedLines(150)), 0644); err != nil {
		t.Fatal(err)
	}
	cfgPath := writeBleveConfig(t, root)

	var out, errOut bytes.Buffer
	if code := run([]string{"ingest", "-config", cfgPath}, &out, &errOut); code != 0 {
		t.Fatalf("ingest exit = %d, stderr:\n%s", code, errOut.String())
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("stdout lines = %q", lines)
	}
	if !strings.HasPrefix(lines[0], "repo=") || !strings.Contains(lines[0], " files=1 root=") {
		t.Errorf("scan line = %q", lines[0])
	}
	if !strings.HasPrefix(lines[1], "done: 3 chunks in ") || !strings.HasSuffix(lines[1], " docs/s)") {
		t.Errorf("summary line = %q", lines[1])
	}

	out.Reset()
	if code := run([]string{"runs", "-config", cfgPath, "-output", "json"}, &out, &errOut); code != 0 {
		t.Fatalf("runs exit = %d, stderr:\n%s", code, errOut.String())
	}
	var runs []models.RunRecord
	if err := json.Unmarshal(out.Bytes(), &runs); err != nil {
		t.Fatalf("runs output is not JSON: %v\n%s", err, out.String())
	}
	if len(runs) != 1 || runs[0].Status != models.RunStatusDone || runs[0].Chunks != 3 || runs[0].Backend != "bleve" {
		t.Errorf("runs = %+v", runs)
	}
}

func TestIngest_missingRootFails(t *testing.T) {
	root := filepath.Join(t.TempDir(), "gone")
	cfgPath := writeBleveConfig(t, root)

	var out, errOut bytes.Buffer
	if code := run([]string{"ingest", "-config", cfgPath}, &out, &errOut); code != 1 {
		t.Fatalf("exit = %d, want 1", code)
	}
	if !strings.Contains(errOut.String(), "not found") {
		t.Errorf("stderr = %q", errOut.String())
	}
	if out.Len() != 0 {
		t.Errorf("stdout should be empty, got %q", out.String())
	}
}

func TestIngest_rootFlagOverridesConfig(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "a.go"), []byte("package a\n"), 0644); err != nil {
		t.Fatal(err)
	}
	cfgPath := writeBleveConfig(t, filepath.Join(t.TempDir(), "gone"))

	var out, errOut bytes.Buffer
	if code := run([]string{"ingest", "-config", cfgPath, "-root", root}, &out, &errOut); code != 0 {
		t.Fatalf("exit = %d, stderr:\n%s", code, errOut.String())
	}
	if !strings.Contains(out.String(), "done: 1 chunks") {
		t.Errorf("stdout = %q", out.String())
	}
}

func TestIngest_invalidBackendFlag(t *testing.T) {
	cfgPath := writeBleveConfig(t, t.TempDir())
	var out, errOut bytes.Buffer
	if code := run([]string{"ingest", "-config", cfgPath, "-backend", "solr"}, &out, &errOut); code != 1 {
		t.Fatalf("exit = %d, want 1", code)
	}
	if !strings.Contains(errOut.String(), `unknown backend type "solr"`) {
		t.Errorf("stderr = %q", errOut.String())
	}
}

func TestRuns_badOutputFormat(t *testing.T) {
	var out, errOut bytes.Buffer
	if code := run([]string{"runs", "-output", "yaml"}, &out, &errOut); code != 1 {
		t.Fatalf("exit = %d, want 1", code)
	}
}

func TestLoadConfig_prefersCwdConfigWhenDefaultPath(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	content := `
debug: true
server:
  host: "localhost"
  port: 8080
`
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	chdirForTest(t, dir)

	cfg, resolved, err := loadConfig(defaultConfigPath)
	if err != nil {
		t.Fatal(err)
	}
	// On macOS, cwd can be /private/var/... while configPath from t.TempDir() is /var/...; compare canonical paths.
	resolvedCanon, _ := filepath.EvalSymlinks(resolved)
	configPathCanon, _ := filepath.EvalSymlinks(configPath)
	if resolvedCanon != configPathCanon {
		t.Errorf("resolved path = %s (canon %s), want %s (canon %s)", resolved, resolvedCanon, configPath, configPathCanon)
	}
	if !cfg.Debug {
		t.Error("debug should be true from cwd config.yaml")
	}
}

func TestLoadConfig_missingDefaultAllowed(t *testing.T) {
	chdirForTest(t, t.TempDir())
	cfg, resolved, err := loadConfig(defaultConfigPath)
	if err != nil {
		t.Fatal(err)
	}
	if resolved != "" {
		t.Errorf("resolved = %q, want empty", resolved)
	}
	if cfg.Ingest.ChunkLines != 80 || cfg.Ingest.ChunkOverlap != 20 {
		t.Errorf("defaults not applied: %+v", cfg.Ingest)
	}
}

func TestLoadConfig_missingExplicitPathFails(t *testing.T) {
	if _, _, err := loadConfig(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing explicit config")
	}
}

func TestLoadConfig_usesExplicitPath(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	content := `
server:
  host: "127.0.0.1"
  port: 9000
`
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, resolved, err := loadConfig(configPath)
	if err != nil {
		t.Fatal(err)
	}
	if resolved != configPath {
		t.Errorf("resolved path = %s, want %s", resolved, configPath)
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 9000 {
		t.Errorf("unexpected server config: %+v", cfg.Server)
	}
}

func TestInit_writesLoadableConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	var out, errOut bytes.Buffer
	if code := run([]string{"init", "-o", path}, &out, &errOut); code != 0 {
		t.Fatalf("init exit = %d, stderr:\n%s", code, errOut.String())
	}
	cfg, _, err := loadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Ingest.ChunkLines != 80 || cfg.Ingest.ChunkOverlap != 20 {
		t.Errorf("written config lost defaults: %+v", cfg.Ingest)
	}

	if code := run([]string{"init", "-o", path}, &out, &errOut); code != 1 {
		t.Errorf("second init exit = %d, want 1 without -force", code)
	}
	if code := run([]string{"init", "-o", path, "-force"}, &out, &errOut); code != 0 {
		t.Errorf("init -force exit = %d", code)
	}
}

// chdirForTest changes the working directory for the duration of the test,
// mirroring testing.T.Chdir (Go 1.24+) for older toolchains.
func chdirForTest(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(old); err != nil {
			t.Fatal(err)
		}
	})
}

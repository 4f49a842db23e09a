// Package main is the codeingest CLI entry point.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/hyperjump/codeingest/internal/cli"
	"github.com/hyperjump/codeingest/internal/config"
	"github.com/hyperjump/codeingest/internal/discover"
	"github.com/hyperjump/codeingest/internal/indexer"
	"github.com/hyperjump/codeingest/internal/models"
	"github.com/hyperjump/codeingest/internal/server"
	"github.com/hyperjump/codeingest/internal/storage"
	"github.com/hyperjump/codeingest/internal/watcher"
	"github.com/hyperjump/codeingest/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/codeingest/config.yaml"

func main() {
	// A missing .env is normal; real environment variables still apply.
	_ = godotenv.Load()
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		printUsage(stderr)
		return 1
	}
	switch args[0] {
	case "ingest":
		return runIngest(args[1:], stdout, stderr)
	case "watch":
		return runWatch(args[1:], stdout, stderr)
	case "serve", "server":
		return runServe(args[1:], stdout, stderr)
	case "runs":
		return runRuns(args[1:], stdout, stderr)
	case "init":
		return runInit(args[1:], stdout, stderr)
	case "version", "--version", "-v":
		fmt.Fprintf(stdout, "codeingest version %s\n", version)
		return 0
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[0])
		printUsage(stderr)
		return 1
	}
}

// loadConfig loads config from path. When path is the default, config.yaml in
// the current directory wins if present, and a missing default file means
// defaults plus environment. Returns the path actually loaded, empty if none.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
		if _, statErr := os.Stat(path); errors.Is(statErr, os.ErrNotExist) {
			cfg, err := config.Load("")
			if err != nil {
				return nil, "", err
			}
			return cfg, "", nil
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

// commonFlags are shared by the subcommands that run ingestion.
type commonFlags struct {
	configPath string
	debug      bool
	root       string
	backend    string
}

func (c *commonFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&c.configPath, "config", defaultConfigPath, "config file path")
	fs.BoolVar(&c.debug, "debug", false, "enable debug logging")
	fs.StringVar(&c.root, "root", "", "repository root to ingest (overrides config and ROOT)")
	fs.StringVar(&c.backend, "backend", "", "backend: opensearch, bleve or chromem (overrides config and BACKEND)")
}

// setup loads and validates the config with flag overrides and builds the logger.
func (c *commonFlags) setup() (*config.Config, *zap.Logger, error) {
	cfg, resolved, err := loadConfig(c.configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	if c.root != "" {
		abs, err := filepath.Abs(c.root)
		if err != nil {
			return nil, nil, fmt.Errorf("root: %w", err)
		}
		cfg.Ingest.Root = abs
	}
	if c.backend != "" {
		cfg.Backend.Type = c.backend
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	debugMode := cfg.Debug || c.debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		return nil, nil, fmt.Errorf("create logger: %w", err)
	}
	logger.Debug("config loaded",
		zap.String("config_path", resolved),
		zap.String("root", cfg.Ingest.Root),
		zap.String("backend", cfg.Backend.Type))
	return cfg, logger, nil
}

// session holds everything a command opened for ingestion.
type session struct {
	pipeline *indexer.Pipeline
	ledger   storage.Ledger
	runner   *indexer.Runner
}

func openSession(ctx context.Context, cfg *config.Config, logger *zap.Logger, stdout io.Writer) (*session, error) {
	info, err := os.Stat(cfg.Ingest.Root)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("root %s: %w", cfg.Ingest.Root, models.ErrNotFound)
	}
	ledger, err := openLedger(cfg)
	if err != nil {
		return nil, err
	}
	p, err := indexer.NewPipeline(ctx, cfg, logger, indexer.WithScanHook(func(r indexer.ScanReport) {
		cli.WriteScan(stdout, r)
	}))
	if err != nil {
		if ledger != nil {
			_ = ledger.Close()
		}
		return nil, err
	}
	return &session{
		pipeline: p,
		ledger:   ledger,
		runner:   indexer.NewRunner(p, ledger, logger),
	}, nil
}

func (rt *session) Close() error {
	err := rt.pipeline.Close()
	if rt.ledger != nil {
		err = errors.Join(err, rt.ledger.Close())
	}
	return err
}

func openLedger(cfg *config.Config) (storage.Ledger, error) {
	if cfg.Ledger.Disabled {
		return nil, nil
	}
	ledger, err := storage.NewSQLiteLedger(cfg.Ledger.Path)
	if err != nil {
		return nil, fmt.Errorf("open run ledger: %w", err)
	}
	return ledger, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runIngest(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("ingest", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var cf commonFlags
	cf.register(fs)
	if err := fs.Parse(args); err != nil {
		return 1
	}
	cfg, logger, err := cf.setup()
	if err != nil {
		cli.WriteFailure(stderr, err)
		return 1
	}
	defer logger.Sync()

	ctx, stop := signalContext()
	defer stop()
	rt, err := openSession(ctx, cfg, logger, stdout)
	if err != nil {
		cli.WriteFailure(stderr, err)
		return 1
	}
	defer rt.Close()

	stats, err := rt.runner.Run(ctx)
	if err != nil {
		cli.WriteFailure(stderr, err)
		return 1
	}
	cli.WriteSummary(stdout, stats)
	return 0
}

// newWatcher builds a watcher that re-runs ingestion through rt on every burst
// of changes under the root. Failed runs are reported and watching continues.
func newWatcher(cfg *config.Config, rt *session, logger *zap.Logger, stdout, stderr io.Writer, debounce time.Duration) (*watcher.Watcher, error) {
	d, err := discover.New(cfg.Ingest.Include, cfg.Ingest.ExcludeDirs)
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = cfg.Watch.Debounce
	}
	onChange := func(ctx context.Context) {
		stats, err := rt.runner.Run(ctx)
		switch {
		case err == nil:
			cli.WriteSummary(stdout, stats)
		case errors.Is(err, indexer.ErrRunInProgress):
			logger.Debug("change ignored, run in progress")
		case ctx.Err() != nil:
			// shutting down
		default:
			cli.WriteFailure(stderr, err)
		}
	}
	return watcher.NewWatcher(cfg.Ingest.Root, onChange,
		watcher.WithDebounce(debounce),
		watcher.WithMatcher(d.Matches),
		watcher.WithExcludedDirs(d.Excluded),
		watcher.WithRunOnStart(),
		watcher.WithLogger(logger),
	)
}

func runWatch(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var cf commonFlags
	cf.register(fs)
	debounce := fs.Duration("debounce", 0, "quiet period before a re-run (default from config)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	cfg, logger, err := cf.setup()
	if err != nil {
		cli.WriteFailure(stderr, err)
		return 1
	}
	defer logger.Sync()

	ctx, stop := signalContext()
	defer stop()
	rt, err := openSession(ctx, cfg, logger, stdout)
	if err != nil {
		cli.WriteFailure(stderr, err)
		return 1
	}
	defer rt.Close()

	w, err := newWatcher(cfg, rt, logger, stdout, stderr, *debounce)
	if err != nil {
		cli.WriteFailure(stderr, err)
		return 1
	}
	if err := w.Run(ctx); err != nil {
		cli.WriteFailure(stderr, err)
		return 1
	}
	return 0
}

func runServe(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var cf commonFlags
	cf.register(fs)
	watch := fs.Bool("watch", false, "also re-run ingestion when files under the root change")
	port := fs.Int("port", 0, "listen port (default from config)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	cfg, logger, err := cf.setup()
	if err != nil {
		cli.WriteFailure(stderr, err)
		return 1
	}
	defer logger.Sync()
	if *port > 0 {
		cfg.Server.Port = *port
	}

	ctx, stop := signalContext()
	defer stop()
	rt, err := openSession(ctx, cfg, logger, stdout)
	if err != nil {
		cli.WriteFailure(stderr, err)
		return 1
	}
	defer rt.Close()

	var w *watcher.Watcher
	if *watch {
		w, err = newWatcher(cfg, rt, logger, stdout, stderr, 0)
		if err != nil {
			cli.WriteFailure(stderr, err)
			return 1
		}
	}

	srv := server.NewServer(rt.runner, rt.ledger, cfg, logger)
	serveErr := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	watchDone := make(chan struct{})
	if w != nil {
		go func() {
			defer close(watchDone)
			if err := w.Run(ctx); err != nil {
				logger.Error("watcher stopped", zap.Error(err))
			}
		}()
	} else {
		close(watchDone)
	}

	code := 0
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		cli.WriteFailure(stderr, err)
		code = 1
		stop()
	}

	logger.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(shutdownCtx)
	<-watchDone
	return code
}

func runRuns(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("runs", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	limit := fs.Int("limit", 20, "number of runs to show, newest first")
	output := fs.String("output", "text", "output format: text or json")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	format, err := cli.ParseOutputFormat(*output)
	if err != nil {
		cli.WriteFailure(stderr, err)
		return 1
	}
	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		cli.WriteFailure(stderr, fmt.Errorf("load config: %w", err))
		return 1
	}
	if cfg.Ledger.Disabled {
		cli.WriteFailure(stderr, errors.New("run ledger is disabled"))
		return 1
	}
	ledger, err := openLedger(cfg)
	if err != nil {
		cli.WriteFailure(stderr, err)
		return 1
	}
	defer ledger.Close()

	runs, err := ledger.ListRuns(context.Background(), *limit)
	if err != nil {
		cli.WriteFailure(stderr, err)
		return 1
	}
	if err := cli.WriteRuns(stdout, runs, format); err != nil {
		cli.WriteFailure(stderr, err)
		return 1
	}
	return 0
}

// runInit writes a config file populated with defaults.
func runInit(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	fs.SetOutput(stderr)
	out := fs.String("o", "config.yaml", "path of the config file to write")
	force := fs.Bool("force", false, "overwrite an existing file")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if _, err := os.Stat(*out); err == nil && !*force {
		cli.WriteFailure(stderr, fmt.Errorf("%s already exists (use -force to overwrite)", *out))
		return 1
	}
	if err := config.Save(*out, config.Default()); err != nil {
		cli.WriteFailure(stderr, err)
		return 1
	}
	fmt.Fprintf(stdout, "wrote %s\n", *out)
	return 0
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, `codeingest - chunk a source repository and bulk-index it for search

Usage:
  codeingest ingest [flags]   Run one ingestion pass and exit
  codeingest watch [flags]    Ingest, then re-run whenever files change
  codeingest serve [flags]    Start the HTTP control API
  codeingest runs [flags]     List recorded runs
  codeingest init [flags]     Write a config file with defaults
  codeingest version          Show version
  codeingest help             Show this help

Ingest/Watch/Serve Flags:
  --config string    Config file path (default: /usr/local/etc/codeingest/config.yaml;
                     ./config.yaml is used when present, and a missing default is allowed)
  --debug            Enable debug logging
  --root string      Repository root (overrides config and ROOT)
  --backend string   opensearch, bleve or chromem (overrides config and BACKEND)

Watch Flags:
  --debounce duration  Quiet period before a re-run (default from config, 2s)

Serve Flags:
  --port int         Listen port (default from config, 8080)
  --watch            Also re-run ingestion on file changes

Runs Flags:
  --config string    Config file path
  --limit int        Number of runs to show (default: 20)
  --output string    Output format: text or json (default: text)

Init Flags:
  -o string          File to write (default: config.yaml)
  --force            Overwrite an existing file

Environment:
  ROOT, OS_URL, OS_USER, OS_PASS, INDEX, CHUNK_LINES, CHUNK_OVERLAP,
  WITH_EMBEDDINGS, EMB_MODEL, BATCH_SIZE, BACKEND, WORKERS, CODEINGEST_DEBUG
  (a .env file in the working directory is loaded first)

Examples:
  codeingest ingest --root ./my-repo
  OS_URL=https://search:9200 OS_PASS=secret codeingest ingest
  codeingest ingest --backend bleve --root .
  codeingest watch --debounce 5s
  codeingest serve --watch
  codeingest runs --output json`)
}

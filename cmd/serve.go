package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/secrethound/secrethound/internal/classifier"
	"github.com/secrethound/secrethound/internal/config"
	"github.com/secrethound/secrethound/internal/courier"
	"github.com/secrethound/secrethound/internal/gateway"
	"github.com/secrethound/secrethound/internal/queue"
	"github.com/secrethound/secrethound/internal/repository"
	"github.com/secrethound/secrethound/internal/rules"
)

var serveLogDir string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scan job server",
	Long: `Starts the long-running job server: an HTTP API that accepts scan
requests, resolves refs, queues the work, and posts results to callback
URLs.

Configuration is read from the environment:
  HubType       "github" for public hosts, anything else for self-hosted
  MAX_WORKERS   dispatcher count (default 10)
  HOST, PORT    bind address (default 0.0.0.0:8000)
  API_KEY       required on every request via X-API-Key
  LOGIN_KEY, PASSWORD_KEY, PAT_KEY
                base64 32-byte keys for the encrypted credential files
  TEMP_DIR      scratch-directory root

Endpoints:
  POST /scan          enqueue one scan
  POST /multi_scan    enqueue an ordered batch
  POST /local_scan    upload an archive for scanning
  GET  /health        queue and worker stats`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveLogDir, "log-dir", "logs",
		"directory to write server logs for later inspection")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigs
		fmt.Println("\nShutting down gracefully...")
		cancel()
	}()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logPath, closeLog, err := setupFileLogger(serveLogDir)
	if err != nil {
		return fmt.Errorf("initialising logger: %w", err)
	}
	defer closeLog()

	catalog, err := rules.Load(cfg.SettingsDir)
	if err != nil {
		return fmt.Errorf("loading rule catalog: %w", err)
	}
	frameworks, err := rules.LoadFrameworks(cfg.SettingsDir)
	if err != nil {
		return fmt.Errorf("loading framework rules: %w", err)
	}
	clf, err := classifier.Load(cfg.ModelDir, cfg.DatasetsDir)
	if err != nil {
		return fmt.Errorf("loading classifier: %w", err)
	}
	creds, err := repository.NewCredentialStore(cfg)
	if err != nil {
		return fmt.Errorf("opening credential store: %w", err)
	}

	hub := repository.New(cfg, catalog, creds)
	manager := queue.NewManager(cfg, catalog, frameworks, clf, hub, courier.New())
	manager.Start(ctx)
	defer manager.Stop()

	fmt.Printf("secrethound serving\n")
	fmt.Printf("  Hub        : %s\n", cfg.HubType)
	fmt.Printf("  Workers    : %d\n", cfg.MaxWorkers)
	fmt.Printf("  API        : http://%s:%d\n", cfg.Host, cfg.Port)
	fmt.Printf("  Logs       : %s\n", logPath)
	fmt.Println("Press Ctrl+C to stop gracefully.")

	gw := gateway.New(cfg, hub, manager, creds)
	return gw.Start(ctx)
}

func setupFileLogger(logDir string) (string, func(), error) {
	if logDir == "" {
		logDir = "logs"
	}
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return "", nil, fmt.Errorf("creating log dir %s: %w", logDir, err)
	}

	ts := time.Now().UTC().Format("20060102-150405")
	runLogPath := filepath.Join(logDir, fmt.Sprintf("server-%s.log", ts))
	runFile, err := os.OpenFile(runLogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return "", nil, fmt.Errorf("opening run log file: %w", err)
	}

	latestPath := filepath.Join(logDir, "server.log")
	latestFile, err := os.OpenFile(latestPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		_ = runFile.Close()
		return "", nil, fmt.Errorf("opening latest log file: %w", err)
	}

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(io.MultiWriter(os.Stdout, runFile, latestFile), &slog.HandlerOptions{
		Level:     level,
		AddSource: verbose,
	})
	slog.SetDefault(slog.New(handler))
	slog.SetLogLoggerLevel(level)

	cleanup := func() {
		_ = latestFile.Close()
		_ = runFile.Close()
	}
	return runLogPath, cleanup, nil
}

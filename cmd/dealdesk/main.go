// ABOUTME: Entry point for the dealdesk negotiation thread server
// ABOUTME: Wires storage, thread lifecycle, summarization and the HTTP API

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/joho/godotenv"

	"github.com/siamak-p/dealdesk/internal/config"
	"github.com/siamak-p/dealdesk/internal/httpapi"
	"github.com/siamak-p/dealdesk/internal/listener"
	"github.com/siamak-p/dealdesk/internal/lock"
	"github.com/siamak-p/dealdesk/internal/retry"
	"github.com/siamak-p/dealdesk/internal/store"
	"github.com/siamak-p/dealdesk/internal/summarize"
	"github.com/siamak-p/dealdesk/internal/thread"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
     _            _     _           _
  __| | ___  __ _| | __| | ___  ___| | __
 / _' |/ _ \/ _' | |/ _' |/ _ \/ __| |/ /
| (_| |  __/ (_| | | (_| |  __/\__ \   <
 \__,_|\___|\__,_|_|\__,_|\___||___/_|\_\
`

// getConfigPath returns the path to the dealdesk config file.
// Priority: DEALDESK_CONFIG env var > ./config.yaml
func getConfigPath() string {
	if envPath := os.Getenv("DEALDESK_CONFIG"); envPath != "" {
		return envPath
	}
	return "config.yaml"
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: dealdesk <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve    Start the dealdesk server")
		fmt.Println("  health   Check server health")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "health":
		err = runHealth(ctx)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig loads configuration, falling back to defaults when no config
// file exists. A .env file in the working directory is applied first so
// ${VAR} references in the YAML resolve.
func loadConfig() (*config.Config, string, error) {
	_ = godotenv.Load()

	configPath := getConfigPath()
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return config.Default(), "(defaults)", nil
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, "", fmt.Errorf("loading config: %w", err)
	}
	return cfg, configPath, nil
}

func runServe(ctx context.Context) error {
	cfg, configPath, err := loadConfig()
	if err != nil {
		return err
	}

	// Print banner
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:   %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:     %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Database: %s\n", cfg.Database.Path)
	fmt.Println()

	logger.Info("starting dealdesk",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"db_path", cfg.Database.Path,
	)

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer st.Close()

	locks := lock.New(cfg.Lock.TTL)
	defer locks.Close()

	coordinator := summarize.New(st, summarize.NewExtractive(), locks, summarize.Options{
		MessageThreshold: cfg.Summarizer.MessageThreshold,
		MinTokens:        cfg.Summarizer.MinTokens,
		HistoryLimit:     cfg.Summarizer.HistoryLimit,
		RetryDelay:       cfg.Retry.Delays[0],
	}, logger)

	threads := thread.New(st, logger)

	sweeper := thread.NewSweeper(threads, cfg.Threads.SweepInterval, cfg.Threads.ExpireAfter, logger)
	sweeper.Start()
	defer sweeper.Stop()

	worker := retry.New(st, coordinator, retry.Options{
		Interval:    cfg.Retry.Interval,
		BatchSize:   cfg.Retry.BatchSize,
		MaxAttempts: cfg.Retry.MaxAttempts,
		Delays:      cfg.Retry.Delays,
	}, logger)
	worker.Start()
	defer worker.Stop()

	pipeline := listener.New(threads, listener.NewKeywordClassifier(), st, coordinator, logger)

	api := httpapi.New(threads, pipeline, worker, st, logger)

	server := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", cfg.Server.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", "error", err)
	}
	if err := coordinator.Close(shutdownCtx); err != nil {
		logger.Error("summarization drain failed", "error", err)
	}

	logger.Info("shutdown complete")
	return nil
}

func runHealth(ctx context.Context) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	addr := cfg.Server.HTTPAddr
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	url := fmt.Sprintf("http://%s/health", addr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	fmt.Println("healthy")
	return nil
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = &colorHandler{
			level: level,
		}
	}

	return slog.New(handler)
}

// colorHandler provides colorized log output with thread-safe writes.
type colorHandler struct {
	mu     sync.Mutex
	level  slog.Level
	attrs  []slog.Attr
	groups []string
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var buf strings.Builder

	// Format timestamp
	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

	// Colorize level
	switch r.Level {
	case slog.LevelDebug:
		buf.WriteString(color.MagentaString("DBG "))
	case slog.LevelInfo:
		buf.WriteString(color.CyanString("INF "))
	case slog.LevelWarn:
		buf.WriteString(color.YellowString("WRN "))
	case slog.LevelError:
		buf.WriteString(color.New(color.FgRed, color.Bold).Sprint("ERR "))
	default:
		buf.WriteString("??? ")
	}

	// Print message
	buf.WriteString(r.Message)

	// Print handler-level attrs first (from WithAttrs)
	for _, a := range h.attrs {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
	}

	// Print record attrs
	r.Attrs(func(a slog.Attr) bool {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
		return true
	})

	buf.WriteString("\n")
	fmt.Print(buf.String())
	return nil
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	newAttrs = append(newAttrs, attrs...)
	return &colorHandler{
		level:  h.level,
		attrs:  newAttrs,
		groups: h.groups,
	}
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	newGroups := make([]string, len(h.groups), len(h.groups)+1)
	copy(newGroups, h.groups)
	newGroups = append(newGroups, name)
	return &colorHandler{
		level:  h.level,
		attrs:  h.attrs,
		groups: newGroups,
	}
}

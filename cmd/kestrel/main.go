// Command kestrel is the local voice agent daemon.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/kestrelvoice/kestrel/internal/app"
	"github.com/kestrelvoice/kestrel/internal/config"
	"github.com/kestrelvoice/kestrel/internal/history"
	"github.com/kestrelvoice/kestrel/internal/inbox"
	"github.com/kestrelvoice/kestrel/internal/mcpserver"
)

// version is stamped by the release build via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "kestrel.yaml", "path to the YAML configuration file")
	mcpMode := flag.Bool("mcp", false, "serve the inbox as MCP tools over stdio instead of running the agent")
	historyN := flag.Int("history", 0, "print the last N recorded turns and exit")
	showVersion := flag.Bool("version", false, "print the version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("kestrel", version)
		return 0
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "kestrel: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "kestrel: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	// The level lives in a LevelVar so a config reload can retune it without
	// rebuilding the handler.
	level := new(slog.LevelVar)
	level.Set(slogLevel(cfg.Agent.LogLevel))
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Auxiliary modes ───────────────────────────────────────────────────────
	if *mcpMode {
		return runMCP(ctx, cfg)
	}
	if *historyN > 0 {
		return printHistory(ctx, cfg, *historyN)
	}

	slog.Info("kestrel starting",
		"version", version,
		"config", *configPath,
		"route", cfg.Agent.Route,
		"log_level", cfg.Agent.LogLevel,
	)

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	printStartupSummary(cfg)

	agent, err := app.New(cfg, providers)
	if err != nil {
		slog.Error("failed to initialise agent", "err", err)
		return 1
	}
	defer agent.Shutdown()

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, agent.ApplyConfig(level))
	if err != nil {
		slog.Warn("config watcher unavailable, edits require a restart", "err", err)
	} else {
		defer watcher.Stop()
	}

	slog.Info("agent ready, press Ctrl+C to shut down")

	if err := agent.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	slog.Info("goodbye")
	return 0
}

// runMCP exposes the shared inbox as MCP tools on stdio. It needs only the
// inbox section of the config; no audio or model providers are loaded.
func runMCP(ctx context.Context, cfg *config.Config) int {
	if cfg.Inbox.Path == "" {
		fmt.Fprintln(os.Stderr, "kestrel: -mcp requires inbox.path in the config")
		return 1
	}
	ch, err := inbox.New(inbox.Config{
		Path:            cfg.Inbox.Path,
		Sender:          cfg.Agent.Sender,
		ThreadID:        cfg.Inbox.ThreadID,
		PollInterval:    cfg.Inbox.PollInterval,
		MaxMessages:     cfg.Inbox.MaxMessages,
		MaxAge:          cfg.Inbox.MaxAge,
		CleanupInterval: cfg.Inbox.CleanupInterval,
		CompactionWait:  cfg.Inbox.CompactionWait,
	})
	if err != nil {
		slog.Error("failed to open inbox", "err", err)
		return 1
	}
	if err := mcpserver.New(ch, version).Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("mcp server error", "err", err)
		return 1
	}
	return 0
}

// printHistory dumps the most recent turns from the history store.
func printHistory(ctx context.Context, cfg *config.Config, limit int) int {
	if cfg.History.Path == "" {
		fmt.Fprintln(os.Stderr, "kestrel: -history requires history.path in the config")
		return 1
	}
	store, err := history.Open(cfg.History.Path)
	if err != nil {
		slog.Error("failed to open history", "err", err)
		return 1
	}
	defer store.Close()

	turns, err := store.Recent(ctx, limit)
	if err != nil {
		slog.Error("failed to read history", "err", err)
		return 1
	}
	for i := len(turns) - 1; i >= 0; i-- {
		t := turns[i]
		fmt.Printf("%s  [%s]  %s\n", t.At.Format("2006-01-02 15:04:05"), t.Source, t.Heard)
		if t.Reply != "" {
			fmt.Printf("%21s→ %s\n", "", t.Reply)
		}
	}
	return 0
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         kestrel — startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printEntry("STT", providerLabel(cfg.Providers.STT.Name, cfg.Providers.STT.Model))
	printEntry("TTS", providerLabel(cfg.Providers.TTS.Name, cfg.Providers.TTS.Model))
	printEntry("LLM", providerLabel(cfg.Providers.LLM.Name, cfg.Providers.LLM.Model))
	printEntry("VAD", providerLabel(cfg.VAD.Engine, ""))
	printEntry("Route", string(cfg.Agent.Route))
	printEntry("Wake phrase", cfg.Wake.Phrase)
	if cfg.Inbox.Path != "" {
		printEntry("Inbox", "enabled")
	} else {
		printEntry("Inbox", "(disabled)")
	}
	if cfg.Bridge.ListenAddr != "" {
		printEntry("Bridge", cfg.Bridge.ListenAddr)
	}
	if cfg.Observe.MetricsAddr != "" {
		printEntry("Metrics", cfg.Observe.MetricsAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func providerLabel(name, model string) string {
	if name == "" {
		return "(not configured)"
	}
	if model != "" {
		return name + " / " + model
	}
	return name
}

func printEntry(kind, value string) {
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-14s  : %-19s ║\n", kind, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

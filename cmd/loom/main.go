// Command loom is an interactive chat client over the loom backend core.
//
// It loads a YAML config describing the available backends, resolves the
// requested model specifier against the healthy providers, and runs a
// line-based chat loop on stdin, printing the normalized event stream as it
// arrives. When a listen address is configured, Prometheus metrics and
// health endpoints are served alongside.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"

	"github.com/wovenai/loom/internal/config"
	"github.com/wovenai/loom/internal/conversation"
	"github.com/wovenai/loom/internal/health"
	"github.com/wovenai/loom/internal/observe"
	"github.com/wovenai/loom/internal/selector"
	"github.com/wovenai/loom/pkg/modelspec"
	"github.com/wovenai/loom/pkg/provider/chat"
)

// version is stamped at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	model := flag.String("model", "", `model specifier, "provider::model" or a bare alias like "flash"`)
	prompt := flag.String("prompt", "", "run a single prompt instead of the interactive loop")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "loom: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "loom: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Observability ─────────────────────────────────────────────────────────
	shutdownOtel, err := observe.InitProvider(ctx, "loom", version)
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOtel(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	metrics, err := observe.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		slog.Error("failed to create metrics", "err", err)
		return 1
	}

	// ── Backends ──────────────────────────────────────────────────────────────
	adapters, err := config.BuildAdapters(cfg)
	if err != nil {
		slog.Error("failed to build backends", "err", err)
		return 1
	}

	var monitorOpts []health.Option
	if cfg.Health.TTL > 0 {
		monitorOpts = append(monitorOpts, health.WithTTL(cfg.Health.TTL.Std()))
	}
	if cfg.Health.ProbeTimeout > 0 {
		monitorOpts = append(monitorOpts, health.WithProbeTimeout(cfg.Health.ProbeTimeout.Std()))
	}
	monitorOpts = append(monitorOpts, health.WithMetrics(metrics))
	monitor := health.NewMonitor(adapters, monitorOpts...)
	sel := selector.New(monitor, cfg.FallbackOrder(), selector.WithMetrics(metrics))

	// ── Health/metrics listener (optional) ────────────────────────────────────
	if cfg.Server.ListenAddr != "" {
		mux := http.NewServeMux()
		health.NewHandler(monitor).Register(mux)
		mux.Handle("GET /metrics", promhttp.Handler())
		handler := observe.Middleware(metrics)(mux)
		srv := &http.Server{Addr: cfg.Server.ListenAddr, Handler: handler}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("http listener error", "err", err)
			}
		}()
		defer srv.Close()
		slog.Info("serving health and metrics", "addr", cfg.Server.ListenAddr)
	}

	// ── Startup probe ─────────────────────────────────────────────────────────
	records := monitor.ProbeAll(ctx)
	healthyCount := 0
	for name, rec := range records {
		if rec.Healthy {
			healthyCount++
			slog.Info("backend ready", "provider", name, "latency", rec.Latency)
		}
	}
	if healthyCount == 0 {
		slog.Error("no healthy backends", "configured", cfg.ProviderNames())
		return 1
	}

	// ── Session ───────────────────────────────────────────────────────────────
	// Bare specifiers resolve against the hosted backend, or the first
	// preference when no hosted backend is configured.
	defaultProvider := hostedName(cfg)
	if defaultProvider == "" {
		defaultProvider = cfg.FallbackOrder()[0]
	}
	parser, err := modelspec.NewParser(defaultProvider, cfg.ProviderNames(), cfg.Selection.Aliases)
	if err != nil {
		fmt.Fprintf(os.Stderr, "loom: %v\n", err)
		return 1
	}
	requested := *model
	if requested == "" {
		requested = cfg.DefaultModel(defaultProvider)
	}
	if requested == "" {
		fmt.Fprintln(os.Stderr, "loom: no model given; pass -model or set a provider default_model")
		return 1
	}
	spec, err := parser.Parse(requested)
	if err != nil {
		fmt.Fprintf(os.Stderr, "loom: %v\n", err)
		return 1
	}

	chosen, err := sel.Select(ctx, spec)
	if err != nil {
		fmt.Fprintf(os.Stderr, "loom: %v\n", err)
		return 1
	}
	if chosen.FallbackUsed {
		fmt.Fprintf(os.Stderr, "note: using %s::%s (%s)\n", chosen.Provider, chosen.Model, chosen.Reason)
	}

	session, err := chosen.Adapter.OpenSession(ctx, chat.SessionConfig{
		Model:        chosen.Model,
		SystemPrompt: cfg.Chat.SystemPrompt,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "loom: open session: %v\n", err)
		return 1
	}
	defer session.Close()

	convOpts := []conversation.Option{conversation.WithMetrics(metrics)}
	if cfg.Chat.MaxToolRounds > 0 {
		convOpts = append(convOpts, conversation.WithMaxToolRounds(cfg.Chat.MaxToolRounds))
	}
	conv := conversation.New(session, chosen.Adapter.Capabilities(), convOpts...)

	fmt.Printf("connected to %s::%s\n", chosen.Provider, chosen.Model)

	// ── Chat loop ─────────────────────────────────────────────────────────────
	if *prompt != "" {
		return runTurn(ctx, conv, *prompt)
	}

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/quit" || line == "/exit" {
			break
		}
		if code := runTurn(ctx, conv, line); code != 0 && ctx.Err() != nil {
			return code
		}
	}
	fmt.Println("goodbye")
	return 0
}

// runTurn streams one turn's events to stdout. Thoughts print dimmed, tool
// activity prints on its own lines, content streams token by token.
func runTurn(ctx context.Context, conv *conversation.Conversation, text string) int {
	for ev := range conv.Turn(ctx, text) {
		switch ev.Type {
		case chat.EventContent:
			fmt.Print(ev.Text)
		case chat.EventThought:
			fmt.Printf("\x1b[2m[thinking] %s\x1b[0m\n", strings.TrimSpace(ev.Text))
		case chat.EventToolCall:
			fmt.Printf("\n[tool call] %s(%s)\n", ev.ToolCall.Name, ev.ToolCall.Arguments)
		case chat.EventToolResult:
			status := "ok"
			if ev.Result.Err != "" {
				status = "error: " + ev.Result.Err
			}
			fmt.Printf("[tool result] %s → %s\n", ev.Result.Name, status)
		case chat.EventCompleted:
			fmt.Println()
			if ev.Usage != nil {
				slog.Debug("turn complete",
					"reason", ev.Reason,
					"prompt_tokens", ev.Usage.PromptTokens,
					"completion_tokens", ev.Usage.CompletionTokens,
				)
			}
		case chat.EventError:
			fmt.Fprintf(os.Stderr, "\nloom: %s: %v\n", ev.ErrKind, ev.Err)
			return 1
		}
	}
	return 0
}

// hostedName returns the configured hosted provider name, or "" when no
// hosted backend is configured.
func hostedName(cfg *config.Config) string {
	if h := cfg.Providers.Hosted; h != nil {
		if h.Name != "" {
			return h.Name
		}
		return "hosted"
	}
	return ""
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

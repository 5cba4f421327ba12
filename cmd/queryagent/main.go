// Command queryagent runs the natural-language-to-SQL query agent as an
// MCP server.
//
// It exposes a single tool, ask_question, that drives a user's question
// through a four-phase planning/building/execution/reporting loop against
// a semantic layer and a Snowflake warehouse.
//
// Required environment variables (or config file equivalents):
//
//	QUERYAGENT_WAREHOUSE_DSN   - Snowflake DSN
//	QUERYAGENT_LLM_API_KEY     - OpenAI-compatible API key (OPENAI_API_KEY also accepted)
//
// Optional environment variables:
//
//	QUERYAGENT_CONFIG          - path to a queryagent.toml config file
//	QUERYAGENT_TRANSPORT       - "stdio" (default) or "http"
//	QUERYAGENT_LOG_LEVEL       - debug, info, warn, error (default: info)
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/queryfabric/queryagent/internal/config"
	"github.com/queryfabric/queryagent/internal/exec"
	"github.com/queryfabric/queryagent/internal/llm"
	"github.com/queryfabric/queryagent/internal/mcp"
	"github.com/queryfabric/queryagent/internal/orchestrator"
	"github.com/queryfabric/queryagent/internal/scheduler"
	"github.com/queryfabric/queryagent/internal/semantic"
	"github.com/queryfabric/queryagent/internal/warehouse"
)

// Version is set via ldflags at build time.
var Version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "queryagent: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to queryagent.toml")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logLevel := parseLogLevel(cfg.Log.Level)
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))

	version := cfg.Server.Version
	if Version != "dev" {
		version = Version
	}

	logger.Info("starting queryagent",
		"version", version,
		"transport", cfg.Transport.Mode,
		"warehouse_driver", cfg.Warehouse.Driver,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	warehouseExecutor, err := warehouse.NewSnowflakeExecutor(cfg.Warehouse.DSN, logger)
	if err != nil {
		return fmt.Errorf("creating warehouse executor: %w", err)
	}
	defer warehouseExecutor.Close()

	cache := exec.NewResultCache(cfg.Cache.MaxEntries, time.Duration(cfg.Cache.TTLSeconds)*time.Second)
	breaker := exec.NewBreaker(uint32(cfg.CircuitBreaker.FailureThreshold), time.Duration(cfg.CircuitBreaker.CooldownSeconds)*time.Second)
	guard := exec.NewGuard(warehouseExecutor, cache, breaker, exec.GuardConfig{
		StatementTimeout: time.Duration(cfg.Warehouse.StatementTimeoutSeconds) * time.Second,
		ExplainTimeout:   time.Duration(cfg.Warehouse.ExplainTimeoutSeconds) * time.Second,
		MaxRetries:       cfg.Retry.MaxAttempts,
		InitialBackoff:   time.Duration(cfg.Retry.InitialBackoffMillis) * time.Millisecond,
	}, logger)

	sched := scheduler.NewScheduler(logger)
	sched.AddJob(exec.NewCacheSweepJob(cache), time.Duration(cfg.Cache.TTLSeconds)*time.Second)
	sched.Start(ctx)
	defer sched.Stop()

	store := semantic.NewStore(cfg.Semantic.EntitiesDir, cfg.Semantic.CatalogPath)

	llmClient := llm.NewOpenAIClient(cfg.LLM.APIKey, cfg.LLM.Model, cfg.LLM.BaseURL)

	orch := orchestrator.New(llmClient, orchestrator.Deps{
		Store:          store,
		Guard:          guard,
		AllowedSchemas: cfg.Warehouse.AllowedSchemas,
		Logger:         logger,
	})

	registry := mcp.NewRegistry()
	registry.Register(&orchestrator.AskQuestionTool{Orchestrator: orch})

	server := mcp.NewServer(registry, mcp.ServerInfo{
		Name:    cfg.Server.Name,
		Version: version,
	}, logger)

	if cfg.Transport.Mode == "http" {
		httpServer := mcp.NewHTTPServer(server, cfg.Transport.CORSOrigins, logger)
		addr := cfg.Transport.Host + ":" + cfg.Transport.Port
		logger.Info("listening", "addr", addr)

		srv := &http.Server{Addr: addr, Handler: httpServer.Handler()}
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	}

	return server.Run(ctx)
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

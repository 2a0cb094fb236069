package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/webwraith/wraith/internal/agent"
	"github.com/webwraith/wraith/internal/agent/providers"
	"github.com/webwraith/wraith/internal/browser"
	"github.com/webwraith/wraith/internal/config"
	"github.com/webwraith/wraith/internal/crawl"
	"github.com/webwraith/wraith/internal/mesh"
	"github.com/webwraith/wraith/internal/observability"
	"github.com/webwraith/wraith/internal/policy"
	"github.com/webwraith/wraith/internal/server"
	"github.com/webwraith/wraith/internal/tools"
	"github.com/webwraith/wraith/internal/trace"
)

func buildServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the wraith server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return runServe(cfg)
		},
	}
}

// runServe builds every singleton explicitly, starts the HTTP server, and
// tears everything down on SIGINT/SIGTERM.
func runServe(cfg config.Config) error {
	log := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	log.Info("starting wraith", "version", version, "addr", cfg.Server.Addr())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Browser pool: warm slots shared by crawls, ghost runs, and streams.
	pool := browser.NewPool(browser.PoolConfig{
		Size:           cfg.Browser.PoolSize,
		Headless:       cfg.Browser.Headless,
		MaxLease:       time.Duration(cfg.Browser.MaxLeaseSeconds) * time.Second,
		ViewportWidth:  cfg.Browser.StreamMaxWidth,
		ViewportHeight: cfg.Browser.StreamMaxWidth * 9 / 16,
	}, log)
	if err := pool.Start(); err != nil {
		return fmt.Errorf("start browser pool: %w", err)
	}
	defer pool.Shutdown()

	solver := browser.NewSolver(browser.SolverConfig{
		AutoWait:     time.Duration(cfg.Browser.ChallengeWaitS) * time.Second,
		APIKey:       cfg.Browser.CapsolverAPIKey,
		CapsolverURL: cfg.Browser.CapsolverURL,
	}, log)

	provider := buildProvider(cfg, log)
	if provider == nil {
		log.Warn("no LLM provider configured, agent and ghost endpoints disabled")
	}

	converter := crawl.NewConverter()
	cookies := crawl.NewCookieStore(time.Duration(cfg.Crawl.CookieTTLMinutes) * time.Minute)
	gate := policy.NewGate(log)
	prechecker := crawl.NewPrechecker(time.Duration(cfg.Crawl.PrecheckTimeoutS)*time.Second, log)

	var ghost *crawl.Ghost
	if provider != nil {
		ghost = crawl.NewGhost(pool, provider, converter, log)
	}

	orchestrator := crawl.NewOrchestrator(crawl.OrchestratorConfig{
		MaxConcurrent:      cfg.Crawl.MaxConcurrent,
		PrecheckEnabled:    cfg.Crawl.PrecheckEnabled,
		GhostEnabled:       cfg.Crawl.GhostEnabled,
		BlockPrivateRanges: cfg.Crawl.BlockPrivateRanges,
		PerHostRate:        rate.Limit(cfg.Crawl.PerHostRatePerSec),
	}, prechecker, pool, solver, converter, ghost, cookies, gate, log)

	registry := agent.NewRegistry()
	var ghostRunner tools.GhostRunner
	if ghost != nil {
		ghostRunner = ghost
	}
	if err := tools.RegisterAll(registry, orchestrator, ghostRunner); err != nil {
		return fmt.Errorf("register tools: %w", err)
	}

	localDispatcher := agent.NewDispatcher(registry, agent.DispatcherConfig{
		Timeout:        time.Duration(cfg.Agent.ToolTimeoutMS) * time.Millisecond,
		RetryBackoff:   time.Duration(cfg.Agent.ToolRetryBackoffMS) * time.Millisecond,
		MaxRetries:     1,
		MaxConcurrency: cfg.Agent.MaxConcurrency,
	}, log)

	var dispatcher agent.ToolDispatcher = localDispatcher
	var coordinator *mesh.Coordinator
	var meshDispatcher *mesh.Dispatcher
	var engine *agent.Engine
	if cfg.Mesh.Enabled {
		coordinator = mesh.NewCoordinator(mesh.CoordinatorConfig{
			Node: mesh.NodeInfo{
				NodeID:       mesh.NewNodeID(),
				NodeName:     cfg.Mesh.NodeName,
				AdvertiseURL: cfg.Mesh.AdvertiseURL,
				Tools:        registry.Names(),
				Version:      version,
			},
			Secret:            cfg.Mesh.Secret,
			SeedNodes:         cfg.Mesh.Seeds,
			HeartbeatInterval: time.Duration(cfg.Mesh.HeartbeatIntervalS) * time.Second,
			UnhealthyAfter:    time.Duration(cfg.Mesh.PeerUnhealthyAfterS) * time.Second,
			RemoveAfter:       time.Duration(cfg.Mesh.PeerRemoveAfterS) * time.Second,
		}, func() mesh.NodeLoad {
			free, _ := pool.Stats()
			load := mesh.NodeLoad{
				ActiveCrawls:        orchestrator.ActiveCrawls(),
				BrowserPoolFree:     int64(free),
				MaxConcurrentCrawls: int64(cfg.Crawl.MaxConcurrent),
			}
			// The engine is built after the coordinator; heartbeats only
			// start once both exist.
			if engine != nil {
				load.ActiveAgentRuns = engine.ActiveRuns()
			}
			return load
		}, log)
		router := mesh.NewRouter(coordinator)
		meshDispatcher = mesh.NewDispatcher(localDispatcher, router, coordinator, cfg.Mesh.Secret, log)
		dispatcher = meshDispatcher
		coordinator.Start(ctx)
		defer func() {
			stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer stopCancel()
			coordinator.Stop(stopCtx)
		}()
	}

	if provider != nil {
		engine = agent.NewEngine(provider, dispatcher, registry, gate, log)
	}

	traceStore, err := buildTraceStore(ctx, cfg.Trace, log)
	if err != nil {
		return err
	}

	handler := server.NewHandler(server.Config{
		Engine:        engine,
		Orchestrator:  orchestrator,
		Ghost:         ghost,
		Pool:          pool,
		Coordinator:   coordinator,
		MeshDisp:      meshDispatcher,
		MeshSecret:    cfg.Mesh.Secret,
		TraceStore:    traceStore,
		StreamQuality: cfg.Browser.StreamQuality,
		DefaultRun: agent.RunConfig{
			MaxSteps:           cfg.Agent.MaxSteps,
			MaxWallTimeMS:      cfg.Agent.MaxWallTimeMS,
			MaxFailures:        cfg.Agent.MaxFailures,
			BlockPrivateRanges: cfg.Agent.BlockPrivateRanges,
			RedactSecrets:      cfg.Agent.RedactSecrets,
		},
		Logger: log,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return fmt.Errorf("server: %w", err)
	case sig := <-sigCh:
		log.Info("shutting down", "signal", sig.String())
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown incomplete", "error", err)
	}
	return nil
}

// buildProvider assembles the failover chain from whichever API keys are
// present: OpenAI first, Anthropic second.
func buildProvider(cfg config.Config, log *observability.Logger) agent.Provider {
	var chain []agent.Provider
	if cfg.LLM.OpenAIAPIKey != "" {
		chain = append(chain, providers.NewOpenAIProvider(cfg.LLM.OpenAIAPIKey, cfg.LLM.OpenAIBaseURL, cfg.LLM.OpenAIModel))
	}
	if cfg.LLM.AnthropicAPIKey != "" {
		chain = append(chain, providers.NewAnthropicProvider(cfg.LLM.AnthropicAPIKey, cfg.LLM.AnthropicModel))
	}
	switch len(chain) {
	case 0:
		return nil
	case 1:
		return chain[0]
	default:
		return providers.NewFailover(log, chain...)
	}
}

// buildTraceStore prefers S3 when a bucket is configured, otherwise the
// local filesystem.
func buildTraceStore(ctx context.Context, cfg config.TraceConfig, log *observability.Logger) (trace.Store, error) {
	if cfg.S3Bucket != "" {
		store, err := trace.NewS3Store(ctx, trace.S3Options{
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			PathStyle: cfg.S3PathStyle,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
		})
		if err != nil {
			return nil, fmt.Errorf("s3 trace store: %w", err)
		}
		log.Info("trace store", "backend", "s3", "bucket", cfg.S3Bucket)
		return store, nil
	}
	store, err := trace.NewFSStore(cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("fs trace store: %w", err)
	}
	log.Info("trace store", "backend", "fs", "dir", cfg.Dir)
	return store, nil
}

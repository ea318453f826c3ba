package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/sagelab/researchd/internal/agents"
	"github.com/sagelab/researchd/internal/config"
	"github.com/sagelab/researchd/internal/health"
	"github.com/sagelab/researchd/internal/httpapi"
	"github.com/sagelab/researchd/internal/session"
	"github.com/sagelab/researchd/internal/streaming"
	"github.com/sagelab/researchd/internal/tools"
	"github.com/sagelab/researchd/internal/tracing"
	"github.com/sagelab/researchd/internal/workflow"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}
	if cfg.LLMAPIKey == "" {
		logger.Warn("GEMINI_API_KEY not set, all language model calls will use deterministic fallbacks")
	}
	if cfg.SearchAPIKey == "" {
		logger.Info("TAVILY_API_KEY not set, web search uses the fallback provider")
	}

	// Background runs live until shutdown, not until their starting
	// request ends.
	runCtx, cancelRuns := context.WithCancel(context.Background())
	defer cancelRuns()

	shutdownTracing, err := tracing.Initialize(cfg.TracingEnabled, cfg.OTLPEndpoint, logger)
	if err != nil {
		logger.Fatal("Failed to initialize tracing", zap.Error(err))
	}

	// Session store: Redis when configured, in-memory otherwise.
	var store session.Store
	if cfg.RedisAddr != "" {
		store, err = session.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.SessionTTL, logger)
		if err != nil {
			logger.Fatal("Failed to connect session store", zap.Error(err))
		}
		logger.Info("Using Redis session store", zap.String("addr", cfg.RedisAddr))
	} else {
		store = session.NewMemoryStore()
		logger.Info("Using in-memory session store")
	}
	registry := session.NewRegistry(store, logger)
	defer registry.Close()

	streams := streaming.NewManager(cfg.StreamCapacity)

	// Tool gateway
	llm := tools.NewGeminiClient(cfg.LLMAPIKey, cfg.LLMModel, cfg.ToolTimeout, cfg.LLMRPM, logger)
	searcher := tools.NewWebSearcher(cfg.SearchAPIKey, cfg.ToolTimeout, logger)
	scraper := tools.NewPageScraper(cfg.ToolTimeout, logger)
	gateway := tools.NewGateway(llm, searcher, scraper, cfg.ToolTimeout, logger)

	engine := workflow.NewEngine(registry, streams, workflow.Stages{
		DomainDiscovery:    agents.NewScout(gateway, logger),
		QuestionGeneration: agents.NewQuestionGenerator(gateway, logger),
		DataCollection:     agents.NewDataAlchemist(gateway, logger),
		ExperimentDesign:   agents.NewExperimentDesigner(gateway, logger),
		Critique:           agents.NewCritic(gateway, cfg.AcceptConfidence, logger),
		PaperGeneration:    agents.NewPaperWriter(gateway, logger),
	}, cfg.MaxIterations, logger)
	if cfg.WeightsFile != "" {
		weights, err := workflow.LoadStageWeights(cfg.WeightsFile)
		if err != nil {
			logger.Fatal("Failed to load stage weights", zap.Error(err))
		}
		engine.SetStageWeights(weights)
		logger.Info("Loaded stage weight overrides", zap.String("file", cfg.WeightsFile))
	}

	hm := health.NewManager(logger)
	hm.Register(health.CheckFunc{
		CheckName: "session_store",
		Critical:  true,
		Fn: func(ctx context.Context) health.CheckResult {
			_, err := store.Get(ctx, "health-probe")
			if err != nil && err != session.ErrNotFound {
				return health.CheckResult{Status: health.StatusUnhealthy, Message: err.Error()}
			}
			return health.CheckResult{Status: health.StatusHealthy}
		},
	})
	hm.Register(health.CheckFunc{
		CheckName: "llm_provider",
		Critical:  false,
		Fn: func(context.Context) health.CheckResult {
			if cfg.LLMAPIKey == "" {
				return health.CheckResult{Status: health.StatusDegraded, Message: "no credential, running on fallbacks"}
			}
			return health.CheckResult{Status: health.StatusHealthy}
		},
	})

	mux := http.NewServeMux()
	httpapi.NewResearchHandler(registry, streams, engine, runCtx, logger).RegisterRoutes(mux)
	httpapi.NewStreamingHandler(streams, logger).RegisterRoutes(mux)
	hm.RegisterRoutes(mux)
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Port),
		Handler:     httpapi.CORS(mux),
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	go func() {
		logger.Info("HTTP server listening", zap.Int("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("Shutting down", zap.String("signal", sig.String()))

	cancelRuns()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown error", zap.Error(err))
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn("Tracing shutdown error", zap.Error(err))
	}
	logger.Info("Shutdown complete")
}

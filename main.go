package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/sulaiman013/powerbi-expert-app/pkg/audit"
	"github.com/sulaiman013/powerbi-expert-app/pkg/boundary"
	"github.com/sulaiman013/powerbi-expert-app/pkg/config"
	"github.com/sulaiman013/powerbi-expert-app/pkg/handlers"
	"github.com/sulaiman013/powerbi-expert-app/pkg/llm"
	"github.com/sulaiman013/powerbi-expert-app/pkg/netcheck"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"), Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := buildLogger(cfg.Env)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("configuration loaded",
		zap.String("environment", cfg.Env),
		zap.String("deployment_mode", cfg.DeploymentMode),
		zap.String("provider", cfg.LLM.Provider),
		zap.Bool("boundary_strict", cfg.Boundary.StrictMode),
		zap.Bool("audit_required", cfg.Audit.Required))

	auditLog, err := audit.New(cfg.Audit.ToAudit(), logger)
	if err != nil {
		logger.Fatal("failed to open audit log", zap.Error(err))
	}
	defer func() { _ = auditLog.Close() }()
	_, _ = auditLog.Log(audit.EventServerStarted, "server starting", audit.Options{
		Details: map[string]any{"version": cfg.Version, "deployment_mode": cfg.DeploymentMode},
	})

	enforcer, err := buildEnforcer(cfg)
	if err != nil {
		logger.Fatal("failed to build boundary enforcer", zap.Error(err))
	}

	// In air-gap mode, prove the isolation before serving anything.
	if cfg.DeploymentMode == string(llm.ModeAirgap) {
		result := netcheck.NewValidator(2*time.Second, logger).Validate(context.Background())
		_, _ = auditLog.Log(audit.EventValidationRun, "network isolation validated", audit.Options{
			Details: map[string]any{"overall_status": string(result.Overall)},
		})
		if result.Overall == netcheck.StatusFailed {
			logger.Warn("network isolation validation failed", zap.String("report", result.Report()))
		}
	}

	router := llm.NewRouter(cfg.RouterConfig(), enforcer, auditLog, logger)
	initCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := router.InitializeProvider(initCtx, cfg.LLM.ToProvider()); err != nil {
		// The server still starts: /api/status shows the provider state
		// and a later health check can bring it back.
		logger.Error("provider initialization failed", zap.Error(err))
	}
	cancel()
	defer router.Shutdown(context.Background())

	mux := http.NewServeMux()
	handlers.NewHealthHandler(cfg, logger).RegisterRoutes(mux)
	handlers.NewGenerateHandler(router, auditLog, logger).RegisterRoutes(mux)

	srv := &http.Server{
		Addr:              cfg.BindAddr + ":" + cfg.Port,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("starting powerbi-expert-app",
			zap.String("addr", srv.Addr),
			zap.String("version", cfg.Version))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	_, _ = auditLog.Log(audit.EventServerStopped, "server stopping", audit.Options{})

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
	}
}

func buildLogger(env string) (*zap.Logger, error) {
	if env == "local" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func buildEnforcer(cfg *config.Config) (*boundary.Enforcer, error) {
	if cfg.Boundary.PatternFile == "" {
		return boundary.NewEnforcer(cfg.Boundary.ToBoundary()), nil
	}
	patterns, err := boundary.LoadPatternSet(cfg.Boundary.PatternFile)
	if err != nil {
		return nil, err
	}
	return boundary.NewEnforcerWithPatterns(cfg.Boundary.ToBoundary(), patterns), nil
}

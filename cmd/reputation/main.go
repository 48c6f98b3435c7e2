// Command reputation runs the feedback recorder Court depends on for
// execute_ruling's third external effect (SPEC_FULL.md §7).
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/agenteconomy/trustplane/internal/circuitbreaker"
	"github.com/agenteconomy/trustplane/internal/clients"
	"github.com/agenteconomy/trustplane/internal/dbkit"
	"github.com/agenteconomy/trustplane/internal/httpkit"
	"github.com/agenteconomy/trustplane/internal/reputation"
	"github.com/agenteconomy/trustplane/internal/svcconfig"
)

func main() {
	cfg := svcconfig.Get()

	logLevel := slog.LevelInfo
	if cfg.Server.LogLevel == "debug" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	svcconfig.MustBeWritable(cfg.Database.Path)

	db, err := dbkit.Open(cfg.Database.Path, reputation.Schema)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	breakers := circuitbreaker.NewDownstreamBreakers(time.Duration(cfg.Identity.TimeoutSec) * time.Second)
	identityClient := clients.NewIdentityClient(cfg.Identity.BaseURL, time.Duration(cfg.Identity.TimeoutSec)*time.Second, breakers.Identity)

	store := reputation.NewStore(db)
	svc := reputation.NewService(store, identityClient, cfg.Platform.AgentID)

	srv := httpkit.New("reputation", logger, func() map[string]any {
		status, _ := breakers.HealthStatus()
		return map[string]any{"service": "reputation", "downstream": status}
	})
	reputation.RegisterRoutes(srv.Router, svc, cfg.Limits.MaxBodyBytes)

	httpServer := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      srv.Router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSec) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeoutSec) * time.Second,
	}

	go func() {
		logger.Info("reputation listening", "addr", cfg.Addr())
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownSec)*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
}

// Command taskboard runs the Task Board service: task lifecycle, sealed
// bidding, asset uploads, and lazy deadline evaluation (spec.md §4.3).
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/agenteconomy/trustplane/internal/cache"
	"github.com/agenteconomy/trustplane/internal/circuitbreaker"
	"github.com/agenteconomy/trustplane/internal/clients"
	"github.com/agenteconomy/trustplane/internal/dbkit"
	"github.com/agenteconomy/trustplane/internal/envelope"
	"github.com/agenteconomy/trustplane/internal/events"
	"github.com/agenteconomy/trustplane/internal/httpkit"
	"github.com/agenteconomy/trustplane/internal/svcconfig"
	"github.com/agenteconomy/trustplane/internal/taskboard"
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
	if err := os.MkdirAll(cfg.Limits.StorageRoot, 0o755); err != nil {
		logger.Error("failed to create asset storage root", "error", err)
		os.Exit(1)
	}

	db, err := dbkit.Open(cfg.Database.Path, taskboard.Schema)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	platformKey, err := envelope.DecodePrivateKey(cfg.Platform.PrivateKey)
	if err != nil {
		logger.Error("failed to decode platform private key", "error", err)
		os.Exit(1)
	}

	breakers := circuitbreaker.NewDownstreamBreakers(time.Duration(cfg.Identity.TimeoutSec) * time.Second)
	identityClient := clients.NewIdentityClient(cfg.Identity.BaseURL, time.Duration(cfg.Identity.TimeoutSec)*time.Second, breakers.Identity)
	bankClient := clients.NewBankClient(cfg.CentralBank.BaseURL, time.Duration(cfg.CentralBank.TimeoutSec)*time.Second, breakers.CentralBank)

	bus := events.NewEventBus()

	var redisCache *cache.Client
	if cfg.Redis.Enabled {
		rc, err := cache.Connect(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Warn("redis unavailable, falling back to db-only reads", "error", err)
		} else {
			redisCache = rc
			defer rc.Close()
		}
	} else {
		logger.Info("redis disabled, using db-only reads")
	}

	store := taskboard.NewStore(db)
	auth := taskboard.NewAuthenticator(identityClient)
	deadlines := taskboard.Deadlines{
		MaxBiddingSec:   cfg.Deadlines.MaxBiddingSec,
		MaxExecutionSec: cfg.Deadlines.MaxExecutionSec,
		MaxReviewSec:    cfg.Deadlines.MaxReviewSec,
	}
	svc := taskboard.NewService(store, auth, bankClient, bus, cfg.Platform.AgentID, platformKey,
		deadlines, cfg.Limits.MaxAssets, cfg.Limits.MaxAssetBytes, cfg.Limits.StorageRoot, redisCache)

	srv := httpkit.New("task-board", logger, func() map[string]any {
		status, _ := breakers.HealthStatus()
		return map[string]any{"service": "task-board", "downstream": status}
	})
	taskboard.RegisterRoutes(srv.Router, svc, cfg.Limits.MaxBodyBytes, cfg.Limits.MaxAssetBytes)

	httpServer := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      srv.Router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSec) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeoutSec) * time.Second,
	}

	go func() {
		logger.Info("task board listening", "addr", cfg.Addr())
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

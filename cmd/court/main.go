// Command court runs the Court service: dispute filing, rebuttal, and
// multi-judge ruling with all-or-nothing settlement (spec.md §4.4).
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
	"github.com/agenteconomy/trustplane/internal/court"
	"github.com/agenteconomy/trustplane/internal/dbkit"
	"github.com/agenteconomy/trustplane/internal/envelope"
	"github.com/agenteconomy/trustplane/internal/events"
	"github.com/agenteconomy/trustplane/internal/httpkit"
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

	db, err := dbkit.Open(cfg.Database.Path, court.Schema)
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
	taskBoardClient := clients.NewTaskBoardClient(cfg.TaskBoard.BaseURL, time.Duration(cfg.TaskBoard.TimeoutSec)*time.Second, breakers.TaskBoard)
	reputationClient := clients.NewReputationClient(cfg.Reputation.BaseURL, time.Duration(cfg.Reputation.TimeoutSec)*time.Second, breakers.Reputation)

	judgeTimeout := time.Duration(cfg.Identity.TimeoutSec) * time.Second
	judges := make([]court.JudgeClient, 0, len(cfg.Court.Judges))
	for _, j := range cfg.Court.Judges {
		judges = append(judges, court.NewHTTPJudgeClient(j.ID, j.BaseURL, judgeTimeout, breakers.JudgeBreaker(j.ID)))
	}
	if len(judges) == 0 {
		logger.Warn("no judges configured, falling back to a single mock judge for local wiring")
		judges = append(judges, court.NewMockJudgeClient("mock-judge", 50, "no judges configured"))
	}

	bus := events.NewEventBus()

	store := court.NewStore(db)
	auth := court.NewAuthenticator(identityClient)
	svc := court.NewService(store, db, auth, taskBoardClient, bankClient, reputationClient, judges, bus,
		cfg.Platform.AgentID, platformKey, cfg.Court.RebuttalSec)

	srv := httpkit.New("court", logger, func() map[string]any {
		status, _ := breakers.HealthStatus()
		return map[string]any{"service": "court", "downstream": status}
	})
	court.RegisterRoutes(srv.Router, svc, cfg.Limits.MaxBodyBytes)

	httpServer := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      srv.Router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSec) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeoutSec) * time.Second,
	}

	go func() {
		logger.Info("court listening", "addr", cfg.Addr())
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

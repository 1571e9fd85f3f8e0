package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/user/agentgate/internal/bus"
	"github.com/user/agentgate/internal/delivery"
	"github.com/user/agentgate/internal/orchestrator"
	"github.com/user/agentgate/internal/permission"
	"github.com/user/agentgate/internal/ratelimit"
	"github.com/user/agentgate/internal/scheduler"
	"github.com/user/agentgate/internal/state"
	"github.com/user/agentgate/internal/store"
	"github.com/user/agentgate/internal/telegram"
	"github.com/user/agentgate/internal/types"
	"github.com/user/agentgate/internal/webhook"
	"github.com/user/agentgate/pkg/agent/httpapi"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the agentgate daemon",
	RunE:  runServe,
}

func writePIDFile(dataDir string) (string, error) {
	pidPath := filepath.Join(dataDir, "agentgate.pid")
	pid := os.Getpid()
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(pid)+"\n"), 0644); err != nil {
		return "", fmt.Errorf("write PID file: %w", err)
	}
	return pidPath, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	setupLogging(cfg)

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	// Write PID file
	pidPath, err := writePIDFile(cfg.DataDir)
	if err != nil {
		return err
	}
	defer os.Remove(pidPath)

	// Store: sessions, dedup, cost ledger, and audit log share one database.
	st, err := store.Open(filepath.Join(cfg.DataDir, "agentgate.db"))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	// Agent backend
	backend := httpapi.New(&httpapi.Config{
		BaseURL: cfg.Backend.BaseURL,
		APIKey:  cfg.Backend.APIKey,
	})

	// Admission control
	estimator, err := ratelimit.NewEstimator(cfg.Backend.Model)
	if err != nil {
		return fmt.Errorf("create cost estimator: %w", err)
	}
	limiter := ratelimit.NewLimiter(cfg.RateLimit.Capacity, cfg.RefillWindow())
	guard := ratelimit.NewGuard(st, cfg.Cost.CeilingPerOwner)
	admission := ratelimit.NewAdmission(limiter, guard)

	// Permission pipeline
	pipeline := permission.New(permission.Config{
		Allow:        cfg.Tools.Allow,
		Deny:         cfg.Tools.Deny,
		ApprovedRoot: cfg.Tools.ApprovedRoot,
		Bypass:       cfg.Tools.BypassValidation,
	}, st)

	// Event bus
	b := bus.New()
	defer b.Close()

	// Orchestrator
	orch := orchestrator.New(orchestrator.Config{
		MaxConcurrent:  int64(cfg.MaxConcurrent),
		QueueDepth:     cfg.QueueDepth,
		TriggerTimeout: cfg.TriggerTimeout(),
		IdleExpiry:     cfg.IdleExpiry(),
		CostCap:        cfg.Cost.CapPerExchange,
	}, st, backend, pipeline, admission, estimator, st, b)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	orch.Start(ctx)
	defer orch.Stop()

	slog.Info("agentgate started",
		"data_dir", cfg.DataDir,
		"log_level", cfg.LogLevel,
		"max_concurrent", cfg.MaxConcurrent,
		"queue_depth", cfg.QueueDepth,
		"backend", cfg.Backend.BaseURL,
		"model", cfg.Backend.Model,
		"pid_file", pidPath,
	)

	// Delivery registry
	deliveryReg := delivery.NewRegistry(b)
	deliveryReg.Register("webhook:", logResponse)
	deliveryReg.Register("scheduler", logResponse)
	deliveryReg.Start()
	defer deliveryReg.Stop()

	// Telegram adapter
	if cfg.Telegram.Token != "" {
		adapter, err := telegram.New(cfg.Telegram.Token, cfg.Telegram.ContextKey, b, st, st, deliveryReg)
		if err != nil {
			return fmt.Errorf("create telegram adapter: %w", err)
		}
		go adapter.Start(ctx)
		slog.Info("telegram adapter started")
	} else {
		slog.Warn("telegram adapter disabled (no token)")
	}

	// Scheduler
	jobStore := state.NewJobStore(filepath.Join(cfg.DataDir, "jobs.json"))
	sched := scheduler.New(jobStore, st, b)
	if err := sched.Start(); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer sched.Stop()
	slog.Info("scheduler started")

	// Webhook HTTP server
	if cfg.HTTP.Enabled {
		var providers []webhook.Provider
		if cfg.Webhook.GitHubSecret != "" {
			providers = append(providers, &webhook.GitHub{
				Secret:     []byte(cfg.Webhook.GitHubSecret),
				Owner:      cfg.Webhook.DefaultOwner,
				ContextKey: cfg.Webhook.DefaultContext,
			})
		}
		if cfg.Webhook.GenericToken != "" {
			providers = append(providers, &webhook.Generic{
				Token:          []byte(cfg.Webhook.GenericToken),
				DefaultOwner:   cfg.Webhook.DefaultOwner,
				DefaultContext: cfg.Webhook.DefaultContext,
			})
		}
		webhookSrv := webhook.NewServer(providers, st, st, b)
		httpServer := &http.Server{
			Addr:    cfg.HTTP.Listen,
			Handler: webhookSrv,
		}
		go func() {
			slog.Info("webhook server started", "listen", cfg.HTTP.Listen, "providers", len(providers))
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("webhook server error", "error", err)
			}
		}()
		go func() {
			<-ctx.Done()
			httpServer.Close()
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	for {
		sig := <-sigChan
		if sig == syscall.SIGHUP {
			slog.Info("received SIGHUP, restarting")
			execPath, err := os.Executable()
			if err != nil {
				slog.Error("failed to get executable path", "error", err)
				continue
			}
			// Clean up PID file before re-exec
			os.Remove(pidPath)
			if err := syscall.Exec(execPath, os.Args, os.Environ()); err != nil {
				slog.Error("failed to re-exec", "error", err)
				// Re-write PID file since we failed to re-exec
				if _, writeErr := writePIDFile(cfg.DataDir); writeErr != nil {
					slog.Error("failed to re-write PID file", "error", writeErr)
				}
				continue
			}
		}
		// SIGINT or SIGTERM
		slog.Info("shutting down", "signal", sig)
		return nil
	}
}

// logResponse handles outcomes for trigger sources with no reply channel.
// Webhook and scheduler triggers are fire-and-forget; the log is their only
// response surface.
func logResponse(event *types.ResponseEvent) error {
	slog.Info("exchange finished",
		"trigger_id", event.TriggerID,
		"source", event.Source,
		"owner_id", event.OwnerID,
		"context_key", event.ContextKey,
		"outcome", event.Outcome,
		"cost", event.Cost,
	)
	return nil
}

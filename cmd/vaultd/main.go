// Vaultd is the task orchestration daemon for a markdown vault.
//
// Watchers deposit task documents into the vault's Inbox; vaultd
// classifies them, holds risky ones for approval, executes actions
// with bounded retries, and keeps an append-only audit ledger.
//
// Configuration comes from an optional YAML file plus VAULTD_*
// environment variables. See internal/config for details.
//
// Usage:
//
//	# Start with defaults (vault at ./vault)
//	vaultd
//
//	# Point at a config file
//	vaultd --config /etc/vaultd/config.yaml
//
//	# Configure via environment
//	VAULTD_VAULT_ROOT=/srv/vault VAULTD_SERVER_PORT=9090 vaultd
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/vaultd/internal/approval"
	"github.com/fyrsmithlabs/vaultd/internal/audit"
	"github.com/fyrsmithlabs/vaultd/internal/briefing"
	"github.com/fyrsmithlabs/vaultd/internal/classify"
	"github.com/fyrsmithlabs/vaultd/internal/config"
	"github.com/fyrsmithlabs/vaultd/internal/executor"
	"github.com/fyrsmithlabs/vaultd/internal/httpapi"
	"github.com/fyrsmithlabs/vaultd/internal/logging"
	"github.com/fyrsmithlabs/vaultd/internal/loop"
	"github.com/fyrsmithlabs/vaultd/internal/orchestrator"
	"github.com/fyrsmithlabs/vaultd/internal/store"
	"github.com/fyrsmithlabs/vaultd/internal/task"
	"github.com/fyrsmithlabs/vaultd/internal/telemetry"
	"github.com/fyrsmithlabs/vaultd/internal/watch"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to config file (YAML)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("vaultd by Fyrsmith Labs\n")
		fmt.Printf("Version:    %s\n", version)
		fmt.Printf("Commit:     %s\n", gitCommit)
		fmt.Printf("Build Date: %s\n", buildDate)
		os.Exit(0)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("Received signal %v, shutting down gracefully...", sig)
		cancel()
	}()

	if err := run(ctx, *configPath); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("vaultd error: %v", err)
	}

	log.Println("Shutdown complete")
}

// run wires the daemon and blocks until the context is cancelled.
func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}
	defer func() {
		_ = logging.Sync(logger)
	}()

	logger.Info("Starting vaultd",
		zap.String("vault", cfg.Vault.Root),
		zap.Int("workers", cfg.Orchestrator.Workers),
		zap.Int("port", cfg.Server.Port),
	)

	st, err := store.Open(cfg.Vault.Root, logger)
	if err != nil {
		return fmt.Errorf("open vault: %w", err)
	}

	auditLog, err := audit.Open(filepath.Join(st.Root(), "Logs", "Audit_Log.md"), logger)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	defer auditLog.Close()

	metrics := telemetry.New()

	policy := approval.NewPolicy(
		approval.SensitiveKeyword(cfg.Approval.SensitiveKeywords...),
		approval.NewContact(cfg.Approval.KnownContacts...),
		approval.BatchSizeAbove(cfg.Approval.BatchLimit),
		approval.AutoApproveSources(cfg.Approval.AutoApproveSources...),
		approval.FirstActionOnPlatform(orchestrator.History{Store: st}),
		approval.PersonalLowRisk(),
	).WithApproveAll(cfg.Approval.ApproveAll)
	if cfg.Approval.ApproveAll {
		logger.Warn("approval gate bypassed by approve_all override")
	}

	exec := executor.New(executor.Config{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   cfg.Retry.BaseDelay.Duration(),
	}, nil, auditLog, logger)

	watcher, err := watch.New(st.PartitionDir(task.StatusNew), cfg.Orchestrator.PollInterval.Duration(), logger)
	if err != nil {
		return fmt.Errorf("watch intake: %w", err)
	}

	orch, err := orchestrator.New(orchestrator.Options{
		Store:      st,
		Audit:      auditLog,
		Metrics:    metrics,
		Classifier: classify.New(cfg.Classify),
		Policy:     policy,
		Executor:   exec,
		Loop:       loop.New(loop.Config{MaxIterations: cfg.Loop.MaxIterations}, logger),
		Invoker:    executor.ScriptInvoker{Dir: filepath.Join(st.Root(), "Actions")},
		Watcher:    watcher,
		Config:     cfg.Orchestrator,
		Logger:     logger,
	})
	if err != nil {
		return fmt.Errorf("assemble orchestrator: %w", err)
	}

	briefer := briefing.New(st, auditLog, briefing.Config{
		StaleAfter: cfg.Briefing.StaleAfter.Duration(),
	}, logger)

	srv, err := httpapi.NewServer(st, auditLog, orch, briefer, metrics, logger, &httpapi.Config{
		Host: cfg.Server.Host,
		Port: cfg.Server.Port,
	})
	if err != nil {
		return fmt.Errorf("create http server: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	srvErr := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srvErr <- err
			cancel()
		}
	}()

	err = orch.Run(ctx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if serr := srv.Shutdown(shutdownCtx); serr != nil {
		logger.Error("http shutdown failed", zap.Error(serr))
	}

	select {
	case serr := <-srvErr:
		return fmt.Errorf("http server: %w", serr)
	default:
	}
	return err
}

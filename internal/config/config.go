// Package config provides configuration loading for vaultd.
package config

import (
	"fmt"
	"time"

	"github.com/fyrsmithlabs/vaultd/internal/classify"
)

// Config is the root vaultd configuration.
type Config struct {
	Vault        VaultConfig        `koanf:"vault"`
	Logging      LoggingConfig      `koanf:"logging"`
	Orchestrator OrchestratorConfig `koanf:"orchestrator"`
	Retry        RetryConfig        `koanf:"retry"`
	Loop         LoopConfig         `koanf:"loop"`
	Approval     ApprovalConfig     `koanf:"approval"`
	Classify     classify.Rules     `koanf:"classify"`
	Briefing     BriefingConfig     `koanf:"briefing"`
	Server       ServerConfig       `koanf:"server"`
}

// VaultConfig locates the vault on disk.
type VaultConfig struct {
	// Root is the directory holding the partition layout.
	Root string `koanf:"root"`
}

// LoggingConfig controls the zap logger.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `koanf:"level"`

	// Format is json or console.
	Format string `koanf:"format"`
}

// OrchestratorConfig tunes the worker pool.
type OrchestratorConfig struct {
	// Workers is the number of concurrent task processors.
	Workers int `koanf:"workers"`

	// PollInterval is the intake rescan period backing up fsnotify.
	PollInterval Duration `koanf:"poll_interval"`

	// DispatchRate caps task dispatches per second. Zero disables
	// pacing.
	DispatchRate float64 `koanf:"dispatch_rate"`

	// DispatchBurst is the dispatch limiter burst size.
	DispatchBurst int `koanf:"dispatch_burst"`
}

// RetryConfig bounds the retry executor.
type RetryConfig struct {
	MaxAttempts int      `koanf:"max_attempts"`
	BaseDelay   Duration `koanf:"base_delay"`
}

// LoopConfig bounds the completion loop.
type LoopConfig struct {
	MaxIterations int `koanf:"max_iterations"`
}

// ApprovalConfig feeds the approval gate policy.
type ApprovalConfig struct {
	// SensitiveKeywords force approval when present in a task body.
	SensitiveKeywords []string `koanf:"sensitive_keywords"`

	// KnownContacts are counterparts that do not trigger the
	// new-contact hold.
	KnownContacts []string `koanf:"known_contacts"`

	// BatchLimit is the largest batch executable without approval.
	BatchLimit int `koanf:"batch_limit"`

	// AutoApproveSources skip approval entirely for trusted producers.
	AutoApproveSources []string `koanf:"auto_approve_sources"`

	// ApproveAll bypasses the gate for every task. Audited distinctly.
	// Also settable via VAULTD_APPROVAL_APPROVE_ALL.
	ApproveAll bool `koanf:"approve_all"`
}

// BriefingConfig tunes the weekly aggregator.
type BriefingConfig struct {
	// StaleAfter marks needs_action tasks as stuck once they have
	// waited this long.
	StaleAfter Duration `koanf:"stale_after"`
}

// ServerConfig configures the control-plane HTTP server.
type ServerConfig struct {
	Host string `koanf:"host"`
	Port int    `koanf:"port"`
}

// Default returns the stock configuration.
func Default() *Config {
	return &Config{
		Vault:   VaultConfig{Root: "./vault"},
		Logging: LoggingConfig{Level: "info", Format: "json"},
		Orchestrator: OrchestratorConfig{
			Workers:       4,
			PollInterval:  Duration(30 * time.Second),
			DispatchRate:  10,
			DispatchBurst: 4,
		},
		Retry: RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   Duration(2 * time.Second),
		},
		Loop:     LoopConfig{MaxIterations: 10},
		Approval: ApprovalConfig{
			SensitiveKeywords: []string{"password", "payment", "transfer", "contract", "delete"},
			BatchLimit:        10,
		},
		Classify: classify.DefaultRules(),
		Briefing: BriefingConfig{StaleAfter: Duration(48 * time.Hour)},
		Server:   ServerConfig{Host: "localhost", Port: 9090},
	}
}

// Validate checks invariants before the daemon starts.
func (c *Config) Validate() error {
	if c.Vault.Root == "" {
		return fmt.Errorf("vault.root is required")
	}
	if c.Orchestrator.Workers <= 0 {
		return fmt.Errorf("orchestrator.workers must be positive, got %d", c.Orchestrator.Workers)
	}
	if c.Orchestrator.PollInterval.Duration() <= 0 {
		return fmt.Errorf("orchestrator.poll_interval must be positive")
	}
	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("retry.max_attempts must be positive, got %d", c.Retry.MaxAttempts)
	}
	if c.Retry.BaseDelay.Duration() <= 0 {
		return fmt.Errorf("retry.base_delay must be positive")
	}
	if c.Loop.MaxIterations <= 0 {
		return fmt.Errorf("loop.max_iterations must be positive, got %d", c.Loop.MaxIterations)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format must be json or console, got %q", c.Logging.Format)
	}
	return nil
}

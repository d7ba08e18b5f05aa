package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

// envPrefix namespaces vaultd environment variables.
const envPrefix = "VAULTD_"

// Load reads configuration with the following precedence, highest
// first:
//
//  1. Environment variables (VAULTD_SERVER_PORT, VAULTD_VAULT_ROOT, ...)
//  2. YAML config file at configPath, when the file exists
//  3. Defaults from Default()
//
// Environment variables map the first underscore segment to the
// section and the remainder to the field:
//
//	VAULTD_SERVER_PORT            -> server.port
//	VAULTD_RETRY_MAX_ATTEMPTS     -> retry.max_attempts
//	VAULTD_APPROVAL_APPROVE_ALL   -> approval.approve_all
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath != "" {
		content, err := os.ReadFile(configPath)
		switch {
		case err == nil:
			if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("load config file %s: %w", configPath, err)
			}
		case os.IsNotExist(err):
			// Defaults plus environment are enough to run.
		default:
			return nil, fmt.Errorf("read config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", transformEnvKey), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// transformEnvKey maps VAULTD_SECTION_FIELD_NAME to section.field_name.
func transformEnvKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, envPrefix))
	section, field, ok := strings.Cut(s, "_")
	if !ok {
		return s
	}
	return section + "." + field
}

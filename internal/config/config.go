// Package config implements MAOC's layered configuration: flags override
// environment variables, which override a project config file, which
// overrides a home config file, which overrides built-in defaults. Each
// layer only overrides fields it actually sets, matching the field-by-field
// merge this codebase uses elsewhere for its own config precedence chain.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	envPrefix        = "MAOC_"
	projectConfigRel = ".maoc/config.yaml"
	homeConfigRel    = ".maoc/config.yaml"
	configPathEnvVar = envPrefix + "CONFIG"
)

// Config holds every recognized MAOC setting, per the configuration
// table. Zero values are never meaningful on their own; use Default or
// Load to obtain a populated Config.
type Config struct {
	HookTimeoutMS        int      `yaml:"hook_timeout_ms" json:"hook_timeout_ms"`
	HookMaxBytes         int      `yaml:"hook_max_bytes" json:"hook_max_bytes"`
	HookMaxDepth         int      `yaml:"hook_max_depth" json:"hook_max_depth"`
	LockTTLSec           int      `yaml:"lock_ttl_sec" json:"lock_ttl_sec"`
	LockAcquireTimeoutMS int      `yaml:"lock_acquire_timeout_ms" json:"lock_acquire_timeout_ms"`
	WorkspaceStrategy    string   `yaml:"workspace_strategy" json:"workspace_strategy"`
	WorkspaceTTLHours    int      `yaml:"workspace_ttl_hours" json:"workspace_ttl_hours"`
	SessionTTLHours      int      `yaml:"session_ttl_hours" json:"session_ttl_hours"`
	ProtectedBranches    []string `yaml:"protected_branches" json:"protected_branches"`
	ReaperSampleEvery    int      `yaml:"reaper_sample_every" json:"reaper_sample_every"`
	LogQueueCapacity     int      `yaml:"log_queue_capacity" json:"log_queue_capacity"`
	SharedArtifactGlobs  []string `yaml:"shared_artifact_globs" json:"shared_artifact_globs"`
}

// Default returns the built-in defaults named in the configuration table.
func Default() *Config {
	return &Config{
		HookTimeoutMS:        100,
		HookMaxBytes:         1048576,
		HookMaxDepth:         32,
		LockTTLSec:           300,
		LockAcquireTimeoutMS: 100,
		WorkspaceStrategy:    "vcs_or_fallback",
		WorkspaceTTLHours:    24,
		SessionTTLHours:      168,
		ProtectedBranches:    []string{"main", "master"},
		ReaperSampleEvery:    100,
		LogQueueCapacity:     1024,
		SharedArtifactGlobs:  nil,
	}
}

// Load resolves the full precedence chain: flags > env > project > home
// > defaults. flagOverrides may be nil; any non-zero field on it wins
// over every other layer.
func Load(flagOverrides *Config) (*Config, error) {
	cfg := Default()

	if home, err := homeConfigPath(); err == nil {
		if loaded, err := loadFromPath(home); err == nil {
			merge(cfg, loaded)
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("config: load home config: %w", err)
		}
	}

	if proj, err := projectConfigPath(); err == nil {
		if loaded, err := loadFromPath(proj); err == nil {
			merge(cfg, loaded)
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("config: load project config: %w", err)
		}
	}

	applyEnv(cfg)

	if flagOverrides != nil {
		merge(cfg, flagOverrides)
	}

	return cfg, nil
}

func homeConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, homeConfigRel), nil
}

func projectConfigPath() (string, error) {
	if override := strings.TrimSpace(os.Getenv(configPathEnvVar)); override != "" {
		return override, nil
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(cwd, projectConfigRel), nil
}

func loadFromPath(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return &cfg, nil
}

// merge copies every non-zero field of override onto base.
func merge(base, override *Config) {
	if override.HookTimeoutMS != 0 {
		base.HookTimeoutMS = override.HookTimeoutMS
	}
	if override.HookMaxBytes != 0 {
		base.HookMaxBytes = override.HookMaxBytes
	}
	if override.HookMaxDepth != 0 {
		base.HookMaxDepth = override.HookMaxDepth
	}
	if override.LockTTLSec != 0 {
		base.LockTTLSec = override.LockTTLSec
	}
	if override.LockAcquireTimeoutMS != 0 {
		base.LockAcquireTimeoutMS = override.LockAcquireTimeoutMS
	}
	if override.WorkspaceStrategy != "" {
		base.WorkspaceStrategy = override.WorkspaceStrategy
	}
	if override.WorkspaceTTLHours != 0 {
		base.WorkspaceTTLHours = override.WorkspaceTTLHours
	}
	if override.SessionTTLHours != 0 {
		base.SessionTTLHours = override.SessionTTLHours
	}
	if len(override.ProtectedBranches) > 0 {
		base.ProtectedBranches = override.ProtectedBranches
	}
	if override.ReaperSampleEvery != 0 {
		base.ReaperSampleEvery = override.ReaperSampleEvery
	}
	if override.LogQueueCapacity != 0 {
		base.LogQueueCapacity = override.LogQueueCapacity
	}
	if len(override.SharedArtifactGlobs) > 0 {
		base.SharedArtifactGlobs = override.SharedArtifactGlobs
	}
}

// envKeys maps each Config field to its MAOC_* environment variable name.
var envKeys = map[string]string{
	"hook_timeout_ms":         envPrefix + "HOOK_TIMEOUT_MS",
	"hook_max_bytes":          envPrefix + "HOOK_MAX_BYTES",
	"hook_max_depth":          envPrefix + "HOOK_MAX_DEPTH",
	"lock_ttl_sec":            envPrefix + "LOCK_TTL_SEC",
	"lock_acquire_timeout_ms": envPrefix + "LOCK_ACQUIRE_TIMEOUT_MS",
	"workspace_strategy":      envPrefix + "WORKSPACE_STRATEGY",
	"workspace_ttl_hours":     envPrefix + "WORKSPACE_TTL_HOURS",
	"session_ttl_hours":       envPrefix + "SESSION_TTL_HOURS",
	"protected_branches":      envPrefix + "PROTECTED_BRANCHES",
	"reaper_sample_every":     envPrefix + "REAPER_SAMPLE_EVERY",
	"log_queue_capacity":      envPrefix + "LOG_QUEUE_CAPACITY",
}

func applyEnv(cfg *Config) {
	if v, ok := envInt(envKeys["hook_timeout_ms"]); ok {
		cfg.HookTimeoutMS = v
	}
	if v, ok := envInt(envKeys["hook_max_bytes"]); ok {
		cfg.HookMaxBytes = v
	}
	if v, ok := envInt(envKeys["hook_max_depth"]); ok {
		cfg.HookMaxDepth = v
	}
	if v, ok := envInt(envKeys["lock_ttl_sec"]); ok {
		cfg.LockTTLSec = v
	}
	if v, ok := envInt(envKeys["lock_acquire_timeout_ms"]); ok {
		cfg.LockAcquireTimeoutMS = v
	}
	if v := strings.TrimSpace(os.Getenv(envKeys["workspace_strategy"])); v != "" {
		cfg.WorkspaceStrategy = v
	}
	if v, ok := envInt(envKeys["workspace_ttl_hours"]); ok {
		cfg.WorkspaceTTLHours = v
	}
	if v, ok := envInt(envKeys["session_ttl_hours"]); ok {
		cfg.SessionTTLHours = v
	}
	if v := strings.TrimSpace(os.Getenv(envKeys["protected_branches"])); v != "" {
		cfg.ProtectedBranches = strings.Split(v, ",")
	}
	if v, ok := envInt(envKeys["reaper_sample_every"]); ok {
		cfg.ReaperSampleEvery = v
	}
	if v, ok := envInt(envKeys["log_queue_capacity"]); ok {
		cfg.LogQueueCapacity = v
	}
}

func envInt(key string) (int, bool) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return 0, false
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return n, true
}

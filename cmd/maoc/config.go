package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var configShow bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long: `View MAOC's resolved configuration.

Configuration priority (highest to lowest):
  1. Command-line flags
  2. Environment variables (MAOC_*)
  3. Project config (.maoc/config.yaml)
  4. Home config (~/.maoc/config.yaml)
  5. Defaults

Examples:
  maoc config --show
  maoc config --show -o json`,
	RunE: runConfig,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.Flags().BoolVar(&configShow, "show", false, "Show resolved configuration")
}

func runConfig(cmd *cobra.Command, args []string) error {
	if !configShow {
		return cmd.Help()
	}

	sys, err := buildSystem()
	if err != nil {
		return fmt.Errorf("resolve config: %w", err)
	}
	defer sys.close()

	if GetOutput() == "json" {
		data, err := json.MarshalIndent(sys.cfg, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal config: %w", err)
		}
		fmt.Println(string(data))
		return nil
	}

	fmt.Println("MAOC Configuration")
	fmt.Println("==================")
	fmt.Println()
	fmt.Printf("Project root: %s\n", sys.root.Root())
	fmt.Println()

	fmt.Println("Config files:")
	home, _ := os.UserHomeDir()
	homeConfig := filepath.Join(home, ".maoc", "config.yaml")
	printConfigFileStatus("Home", homeConfig)
	projConfig := filepath.Join(sys.root.Root(), ".maoc", "config.yaml")
	printConfigFileStatus("Project", projConfig)

	fmt.Println()
	fmt.Println("Resolved values:")
	fmt.Printf("  hook_timeout_ms:         %d\n", sys.cfg.HookTimeoutMS)
	fmt.Printf("  hook_max_bytes:          %d\n", sys.cfg.HookMaxBytes)
	fmt.Printf("  hook_max_depth:          %d\n", sys.cfg.HookMaxDepth)
	fmt.Printf("  lock_ttl_sec:            %d\n", sys.cfg.LockTTLSec)
	fmt.Printf("  lock_acquire_timeout_ms: %d\n", sys.cfg.LockAcquireTimeoutMS)
	fmt.Printf("  workspace_strategy:      %s\n", sys.cfg.WorkspaceStrategy)
	fmt.Printf("  workspace_ttl_hours:     %d\n", sys.cfg.WorkspaceTTLHours)
	fmt.Printf("  session_ttl_hours:       %d\n", sys.cfg.SessionTTLHours)
	fmt.Printf("  protected_branches:      %v\n", sys.cfg.ProtectedBranches)
	fmt.Printf("  reaper_sample_every:     %d\n", sys.cfg.ReaperSampleEvery)
	fmt.Printf("  log_queue_capacity:      %d\n", sys.cfg.LogQueueCapacity)
	fmt.Printf("  shared_artifact_globs:   %v\n", sys.cfg.SharedArtifactGlobs)

	fmt.Println()
	fmt.Println("Environment variables (if set):")
	envVars := []string{
		"MAOC_CONFIG", "MAOC_HOOK_TIMEOUT_MS", "MAOC_HOOK_MAX_BYTES", "MAOC_HOOK_MAX_DEPTH",
		"MAOC_LOCK_TTL_SEC", "MAOC_LOCK_ACQUIRE_TIMEOUT_MS", "MAOC_WORKSPACE_STRATEGY",
		"MAOC_WORKSPACE_TTL_HOURS", "MAOC_SESSION_TTL_HOURS", "MAOC_PROTECTED_BRANCHES",
		"MAOC_REAPER_SAMPLE_EVERY", "MAOC_LOG_QUEUE_CAPACITY",
	}
	anySet := false
	for _, env := range envVars {
		if v := os.Getenv(env); v != "" {
			fmt.Printf("  %s=%s\n", env, v)
			anySet = true
		}
	}
	if !anySet {
		fmt.Println("  (none set)")
	}

	return nil
}

func printConfigFileStatus(label, path string) {
	if _, err := os.Stat(path); err == nil {
		fmt.Printf("  ✓ %s: %s\n", label, path)
	} else {
		fmt.Printf("  ✗ %s: %s (not found)\n", label, path)
	}
}

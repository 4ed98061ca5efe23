package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	dryRun  bool
	verbose bool
	output  string
	cfgFile string
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "maoc",
	Short: "Multi-Agent Orchestration Core",
	Long: `maoc coordinates sub-agents spawned by a single Claude Code session on
one developer workstation: it isolates their workspaces, serializes their
access to shared files, and reaps what they leave behind.

It is invoked as a hook callback, not run as a daemon:

  maoc hook       Read one hook event from stdin, write a decision to stdout
  maoc reap       Run one reclamation sweep (locks, workspaces, sessions)
  maoc hooks      Install or inspect the default hooks manifest
  maoc workspace  Inspect or garbage-collect provisioned workspaces
  maoc status     Show session and agent state
  maoc doctor     Check that the local environment is configured correctly
  maoc config     Show resolved configuration and its sources`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		syncConfigFlagToEnv()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&dryRun, "dry-run", false, "Show what would happen without executing")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "table", "Output format (json, table)")
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default: .maoc/config.yaml or ~/.maoc/config.yaml)")
}

// GetDryRun returns the dry-run flag value for use by subcommands.
func GetDryRun() bool { return dryRun }

// GetVerbose returns the verbose flag value for use by subcommands.
func GetVerbose() bool { return verbose }

// GetOutput returns the output format for use by subcommands.
func GetOutput() string { return output }

// GetConfigFile returns the config file path for use by subcommands.
func GetConfigFile() string { return cfgFile }

// VerbosePrintf prints only when verbose mode is enabled.
func VerbosePrintf(format string, args ...interface{}) {
	if verbose {
		fmt.Printf(format, args...)
	}
}

func syncConfigFlagToEnv() {
	path := strings.TrimSpace(GetConfigFile())
	if path == "" {
		return
	}
	_ = os.Setenv("MAOC_CONFIG", path)
}

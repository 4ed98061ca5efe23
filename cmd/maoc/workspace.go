package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var workspaceGCStaleAfter time.Duration

var workspaceCmd = &cobra.Command{
	Use:   "workspace",
	Short: "Inspect and reclaim provisioned workspaces",
}

var workspaceGCCmd = &cobra.Command{
	Use:   "gc",
	Short: "Remove completed agents' workspaces older than --stale-after",
	Long: `Remove workspaces belonging to completed agents once they've aged
past the given threshold, skipping any still held by a live lock or
awaited by a pending child agent.

This runs the same workspace sweep the Reaper performs opportunistically
from the hook dispatch path and on 'maoc reap' — useful to force a
cleanup now without waiting for either trigger.

Examples:
  maoc workspace gc
  maoc workspace gc --stale-after 10m`,
	RunE: runWorkspaceGC,
}

func init() {
	rootCmd.AddCommand(workspaceCmd)
	workspaceCmd.AddCommand(workspaceGCCmd)
	workspaceGCCmd.Flags().DurationVar(&workspaceGCStaleAfter, "stale-after", time.Hour, "Only remove workspaces older than this age")
}

func runWorkspaceGC(cmd *cobra.Command, args []string) error {
	sys, err := buildSystem()
	if err != nil {
		return fmt.Errorf("build system: %w", err)
	}
	defer sys.close()

	rc := sys.reaperConfig()
	rc.WorkspaceTTL = workspaceGCStaleAfter
	rc.ArchiveSessions = false // gc is workspace-scoped; session archival stays on the reap schedule.

	rp := sys.newReaperWith(rc)
	summary, err := rp.Sweep(context.Background())
	if err != nil {
		return fmt.Errorf("sweep: %w", err)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "workspaces removed: %d\n", summary.WorkspacesRemoved)
	fmt.Fprintf(w, "workspaces skipped: %d\n", summary.WorkspacesSkipped)
	for _, e := range summary.Errors {
		fmt.Fprintf(w, "error: %v\n", e)
	}
	return nil
}

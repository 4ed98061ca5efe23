package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/boshu2/maoc/internal/reaper"
)

var (
	reapDaemon   bool
	reapSchedule string
)

var reapCmd = &cobra.Command{
	Use:   "reap",
	Short: "Reclaim stale locks, workspaces, and sessions",
	Long: `Run one reclamation sweep: release locks whose lease expired, remove
completed agents' workspaces once they age past the workspace TTL, and
archive sessions whose agents have all finished.

With --daemon, run on a cron schedule instead of once (default every 10
minutes); this is the standalone trigger the hook dispatcher's own
opportunistic sampling complements, for a workstation with no active
Claude Code session to drive it.

Examples:
  maoc reap
  maoc reap --daemon
  maoc reap --daemon --schedule "*/5 * * * *"`,
	RunE: runReap,
}

func init() {
	reapCmd.Flags().BoolVar(&reapDaemon, "daemon", false, "Run on a cron schedule instead of once")
	reapCmd.Flags().StringVar(&reapSchedule, "schedule", "*/10 * * * *", "Cron schedule used with --daemon")
	rootCmd.AddCommand(reapCmd)
}

func runReap(cmd *cobra.Command, args []string) error {
	if reapDaemon {
		return runReapDaemon(cmd)
	}
	return sweepOnce(cmd)
}

func sweepOnce(cmd *cobra.Command) error {
	sys, err := buildSystem()
	if err != nil {
		return fmt.Errorf("build system: %w", err)
	}
	defer sys.close()

	rp := sys.newReaper()
	summary, err := rp.Sweep(context.Background())
	if err != nil {
		return fmt.Errorf("sweep: %w", err)
	}

	return printReapSummary(cmd, summary)
}

func printReapSummary(cmd *cobra.Command, summary reaper.Summary) error {
	w := cmd.OutOrStdout()

	if GetOutput() == "json" {
		errs := make([]string, len(summary.Errors))
		for i, e := range summary.Errors {
			errs[i] = e.Error()
		}
		data, err := json.MarshalIndent(map[string]interface{}{
			"locks_reclaimed":    summary.LocksReclaimed,
			"workspaces_removed": summary.WorkspacesRemoved,
			"workspaces_skipped": summary.WorkspacesSkipped,
			"sessions_archived":  summary.SessionsArchived,
			"sessions_skipped":   summary.SessionsSkipped,
			"errors":             errs,
		}, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal summary: %w", err)
		}
		fmt.Fprintln(w, string(data))
		return nil
	}

	fmt.Fprintf(w, "locks reclaimed:    %d\n", summary.LocksReclaimed)
	fmt.Fprintf(w, "workspaces removed: %d\n", summary.WorkspacesRemoved)
	fmt.Fprintf(w, "workspaces skipped: %d\n", summary.WorkspacesSkipped)
	fmt.Fprintf(w, "sessions archived:  %d\n", summary.SessionsArchived)
	fmt.Fprintf(w, "sessions skipped:   %d\n", summary.SessionsSkipped)
	for _, e := range summary.Errors {
		fmt.Fprintf(w, "error: %v\n", e)
	}
	return nil
}

func runReapDaemon(cmd *cobra.Command) error {
	sys, err := buildSystem()
	if err != nil {
		return fmt.Errorf("build system: %w", err)
	}
	defer sys.close()

	rp := sys.newReaper()

	c := cron.New()
	_, err = c.AddFunc(reapSchedule, func() {
		if _, err := rp.Sweep(context.Background()); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "maoc reap: sweep failed: %v\n", err)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid schedule %q: %w", reapSchedule, err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "maoc reap: daemon started, schedule=%q\n", reapSchedule)
	c.Start()
	defer c.Stop()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	fmt.Fprintln(cmd.OutOrStdout(), "maoc reap: shutting down")
	return nil
}

package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/boshu2/maoc/internal/state"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show session and agent state",
	Long: `Display the current state of every session MAOC knows about:
how many of its agents are pending, active, and completed. Workspace
counts are not shown.

Examples:
  maoc status
  maoc status -o json`,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

type statusOutput struct {
	ProjectRoot string          `json:"project_root"`
	Sessions    []sessionStatus `json:"sessions"`
}

type sessionStatus struct {
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
	Pending   int    `json:"pending"`
	Active    int    `json:"active"`
	Completed int    `json:"completed"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	sys, err := buildSystem()
	if err != nil {
		return fmt.Errorf("build system: %w", err)
	}
	defer sys.close()

	out := statusOutput{ProjectRoot: sys.root.Root()}

	ids, err := sys.store.ListSessionIDs()
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}
	for _, sid := range ids {
		meta, err := sys.store.GetSession(sid)
		if err != nil {
			continue
		}
		views, err := sys.store.ListAgents(sid, "")
		if err != nil {
			continue
		}
		ss := sessionStatus{SessionID: sid, Status: meta.Status}
		for _, v := range views {
			switch v.Phase {
			case state.PhasePending:
				ss.Pending++
			case state.PhaseActive:
				ss.Active++
			case state.PhaseCompleted:
				ss.Completed++
			}
		}
		out.Sessions = append(out.Sessions, ss)
	}

	return outputStatus(out)
}

func outputStatus(out statusOutput) error {
	if GetOutput() == "json" {
		data, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal status: %w", err)
		}
		fmt.Println(string(data))
		return nil
	}

	fmt.Println("MAOC Status")
	fmt.Println("===========")
	fmt.Printf("Project root: %s\n\n", out.ProjectRoot)

	if len(out.Sessions) == 0 {
		fmt.Println("No sessions recorded.")
		return nil
	}

	fmt.Printf("%-20s  %-10s  %7s  %6s  %9s\n", "SESSION", "STATUS", "PENDING", "ACTIVE", "COMPLETED")
	for _, s := range out.Sessions {
		fmt.Printf("%-20s  %-10s  %7d  %6d  %9d\n", s.SessionID, s.Status, s.Pending, s.Active, s.Completed)
	}
	return nil
}

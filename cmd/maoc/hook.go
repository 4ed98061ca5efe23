package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var hookCmd = &cobra.Command{
	Use:   "hook",
	Short: "Run the hook dispatcher for one event",
	Long: `Read one Claude Code hook event from stdin, run it through the
security validator and coordinator, and write a decision to stdout.

This is the command a hooks.json manifest installed by 'maoc hooks
install' actually invokes; it is not meant to be run interactively.`,
	RunE: runHook,
}

func init() {
	rootCmd.AddCommand(hookCmd)
}

func runHook(cmd *cobra.Command, args []string) error {
	sys, err := buildSystem()
	if err != nil {
		// A broken environment must never block the host session: fall
		// back to an unconditional allow rather than returning a non-zero
		// exit from a hook callback.
		fmt.Fprintf(cmd.ErrOrStderr(), "maoc hook: %v\n", err)
		fmt.Fprintln(cmd.OutOrStdout(), `{"decision":"allow"}`)
		return nil
	}

	d, err := sys.newDispatcher()
	if err != nil {
		sys.close()
		fmt.Fprintf(cmd.ErrOrStderr(), "maoc hook: %v\n", err)
		fmt.Fprintln(cmd.OutOrStdout(), `{"decision":"allow"}`)
		return nil
	}

	code := d.Dispatch(context.Background(), cmd.InOrStdin(), cmd.OutOrStdout())
	sys.close()
	os.Exit(code)
	return nil
}

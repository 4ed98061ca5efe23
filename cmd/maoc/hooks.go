package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/boshu2/maoc/embedded"
)

var (
	hooksDryRun bool
	hooksForce  bool
)

// hookEvents names the eight Claude Code hook events MAOC wires into.
var hookEvents = []string{
	"PreToolUse", "PostToolUse", "Notification", "UserPromptSubmit",
	"Stop", "SubagentStop", "PreCompact", "SessionStart",
}

// hooksConfig mirrors the subset of the Claude settings "hooks" object
// MAOC cares about: one list of hook groups per event name, each group
// an optional matcher plus the commands it runs.
type hooksConfig map[string][]hookGroup

type hookGroup struct {
	Matcher string      `json:"matcher,omitempty"`
	Hooks   []hookEntry `json:"hooks"`
}

type hookEntry struct {
	Type    string `json:"type"`
	Command string `json:"command"`
	Timeout int    `json:"timeout,omitempty"`
}

type hooksManifest struct {
	Hooks hooksConfig `json:"hooks"`
}

var hooksCmd = &cobra.Command{
	Use:   "hooks",
	Short: "Manage the Claude Code hooks manifest",
	Long: `Install or inspect the hooks.json manifest that wires each of the
eight events MAOC cares about to 'maoc hook'.`,
}

var hooksShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the default hooks manifest",
	RunE:  runHooksShow,
}

var hooksInstallCmd = &cobra.Command{
	Use:   "install",
	Short: "Merge the default hooks manifest into ~/.claude/settings.json",
	Long: `Merge MAOC's hook commands into ~/.claude/settings.json, preserving
any existing hook entries from other tools and any other top-level
settings. A timestamped backup of the previous file is written first.

Use --force to replace any hook entry whose command already invokes
'maoc hook' (picks up a changed timeout, for example); without it,
existing 'maoc hook' entries are left untouched and only missing
events are added.`,
	RunE: runHooksInstall,
}

func init() {
	rootCmd.AddCommand(hooksCmd)
	hooksCmd.AddCommand(hooksShowCmd)
	hooksCmd.AddCommand(hooksInstallCmd)

	hooksInstallCmd.Flags().BoolVar(&hooksDryRun, "dry-run", false, "Show what would change without writing")
	hooksInstallCmd.Flags().BoolVar(&hooksForce, "force", false, "Replace existing maoc hook entries")
}

func defaultHooksManifest() (*hooksManifest, error) {
	var m hooksManifest
	if err := json.Unmarshal(embedded.HooksJSON, &m); err != nil {
		return nil, fmt.Errorf("parse embedded hooks manifest: %w", err)
	}
	return &m, nil
}

func runHooksShow(cmd *cobra.Command, args []string) error {
	m, err := defaultHooksManifest()
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}

// isMaocHookCommand reports whether a hook command string starts with
// "maoc hook". A path-qualified invocation such as
// "/usr/local/bin/maoc hook" is not recognized.
func isMaocHookCommand(cmd string) bool {
	return len(cmd) >= len("maoc hook") && cmd[:len("maoc hook")] == "maoc hook"
}

// filterNonMaocGroups returns the subset of an event's existing groups
// whose hooks were not installed by a previous 'maoc hooks install'.
func filterNonMaocGroups(groups []hookGroup) []hookGroup {
	kept := make([]hookGroup, 0, len(groups))
	for _, g := range groups {
		var rest []hookEntry
		for _, h := range g.Hooks {
			if !isMaocHookCommand(h.Command) {
				rest = append(rest, h)
			}
		}
		if len(rest) > 0 {
			g.Hooks = rest
			kept = append(kept, g)
		}
	}
	return kept
}

func loadSettings(path string) (map[string]interface{}, error) {
	settings := make(map[string]interface{})
	data, err := os.ReadFile(path)
	if err == nil {
		if err := json.Unmarshal(data, &settings); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		return settings, nil
	}
	if os.IsNotExist(err) {
		return settings, nil
	}
	return nil, fmt.Errorf("read %s: %w", path, err)
}

func backupSettings(path string) error {
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	backup := fmt.Sprintf("%s.backup.%s", path, time.Now().Format("20060102-150405"))
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	return os.WriteFile(backup, data, 0o644)
}

func runHooksInstall(cmd *cobra.Command, args []string) error {
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("get home directory: %w", err)
	}
	settingsPath := filepath.Join(home, ".claude", "settings.json")

	settings, err := loadSettings(settingsPath)
	if err != nil {
		return err
	}

	m, err := defaultHooksManifest()
	if err != nil {
		return err
	}

	hooksMap, _ := settings["hooks"].(map[string]interface{})
	if hooksMap == nil {
		hooksMap = make(map[string]interface{})
	}

	installed := 0
	for _, event := range hookEvents {
		var existing []hookGroup
		if raw, ok := hooksMap[event]; ok {
			existingJSON, _ := json.Marshal(raw)
			_ = json.Unmarshal(existingJSON, &existing)
		}
		if !hooksForce {
			// Existing maoc entries stay as-is; only groups from other
			// tools are kept alongside a freshly-added maoc group.
			alreadyInstalled := false
			for _, g := range existing {
				for _, h := range g.Hooks {
					if isMaocHookCommand(h.Command) {
						alreadyInstalled = true
					}
				}
			}
			if alreadyInstalled {
				continue
			}
		}
		kept := filterNonMaocGroups(existing)
		kept = append(kept, m.Hooks[event]...)
		hooksMap[event] = kept
		installed++
	}
	settings["hooks"] = hooksMap

	if hooksDryRun {
		fmt.Fprintf(cmd.OutOrStdout(), "[dry-run] would install %d event(s) to %s\n", installed, settingsPath)
		return nil
	}

	if err := backupSettings(settingsPath); err != nil {
		return fmt.Errorf("backup settings: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(settingsPath), 0o755); err != nil {
		return fmt.Errorf("create .claude directory: %w", err)
	}
	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	if err := os.WriteFile(settingsPath, data, 0o644); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "installed %d event(s) to %s\n", installed, settingsPath)
	return nil
}

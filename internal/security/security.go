// Package security centralizes the threat model and defensive predicates
// that keep MAOC's file and command mediation bounded and reversible.
//
// MAOC mediates tool calls issued by autonomous agents: shell commands,
// file reads/writes/edits, and git operations. Left unchecked, these can
// destroy uncommitted work, exfiltrate secrets, or let one agent corrupt
// another agent's workspace. This package is the one place those rules
// live.
//
// # Threat model
//
// R1 - Dangerous command: an agent-issued shell command that would
// destroy the filesystem, the disk, or the host itself (rm -rf /, mkfs,
// dd onto a block device, fork bombs). Mitigated by tokenizing the
// command the way a shell would (so quoting can't hide the pattern;
// variable and command substitutions are not expanded) and matching
// against a fixed denylist.
//
// R2 - Sensitive file: reads, writes, or moves touching .env-shaped
// files, which commonly hold credentials. Mitigated by a name match with
// a narrow, literal allow-list for known-safe suffixes (example, sample,
// template, test).
//
// R3 - Workspace escape: a file-mutating call from an agent with a
// materialized workspace whose target resolves outside that workspace
// and outside any explicitly allow-listed shared-artifact path.
//
// R4 - Payload bounds: defense in depth for callers that invoke this
// package without first going through HookIO's own bounded reader.
//
// R5 - Git safety: force-pushes and hard resets against protected
// branch names, which can destroy shared history.
//
// Predicates are evaluated in the fixed order R4, R2, R1, R3, R5; the
// first denial wins. Every predicate is a total function over its input
// and never panics, so SecurityValidator as a whole runs in O(|event|)
// and always terminates.
package security

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/google/shlex"

	"github.com/boshu2/maoc/internal/hookio"
)

// Config tunes the validator's policy without changing its shape.
type Config struct {
	ProtectedBranches   []string
	SharedArtifactGlobs []string
	EnvAllowSuffixes    []string
	MaxBytes            int
}

// DefaultConfig matches the defaults named in the configuration table.
func DefaultConfig() Config {
	return Config{
		ProtectedBranches:   []string{"main", "master"},
		SharedArtifactGlobs: nil,
		EnvAllowSuffixes:    []string{"example", "sample", "template", "test"},
		MaxBytes:            1 << 20,
	}
}

// Rule names a fired predicate for logging and for tests.
type Rule string

const (
	RuleDangerousCommand Rule = "R1_dangerous_command"
	RuleSensitiveFile    Rule = "R2_sensitive_file"
	RuleWorkspaceEscape  Rule = "R3_workspace_escape"
	RulePayloadBounds    Rule = "R4_payload_bounds"
	RuleGitSafety        Rule = "R5_git_safety"
)

// Verdict is the outcome of running the full predicate chain.
type Verdict struct {
	Denied bool
	Rule   Rule
	Reason string
}

func allow() Verdict { return Verdict{} }

func deny(rule Rule, reason string) Verdict {
	return Verdict{Denied: true, Rule: rule, Reason: reason}
}

// Input bundles the event and the context the workspace-escape and
// git-safety predicates need. CanonicalTargetPath and HasWorkspace are
// left zero for events that carry no file target.
type Input struct {
	Event                *hookio.Event
	CanonicalTargetPath  string
	ProjectRoot          string
	WorkspaceDir         string
	HasWorkspace         bool
	CurrentBranch        string
}

// Validate runs the fixed predicate chain against ev and returns the
// first denial, or an empty (allow) Verdict if none fire.
func Validate(in Input, cfg Config) Verdict {
	if v := checkPayloadBounds(in, cfg); v.Denied {
		return v
	}
	if v := checkSensitiveFile(in, cfg); v.Denied {
		return v
	}
	if v := checkDangerousCommand(in); v.Denied {
		return v
	}
	if v := checkWorkspaceEscape(in, cfg); v.Denied {
		return v
	}
	if v := checkGitSafety(in, cfg); v.Denied {
		return v
	}
	return allow()
}

func checkPayloadBounds(in Input, cfg Config) Verdict {
	max := cfg.MaxBytes
	if max <= 0 {
		max = DefaultConfig().MaxBytes
	}
	size := len(in.Event.Message) + len(in.Event.Prompt) + len(in.Event.CustomInstr)
	for k, v := range in.Event.ToolInput {
		size += len(k)
		if s, ok := v.(string); ok {
			size += len(s)
		}
	}
	if size > max {
		return deny(RulePayloadBounds, "blocked: payload exceeds configured bounds")
	}
	return allow()
}

var dangerousPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^rm\s+-rf\s+/\s*$`),
	regexp.MustCompile(`^rm\s+-rf\s+/\*\s*$`),
	regexp.MustCompile(`^rm\s+-rf\s+~\s*$`),
	regexp.MustCompile(`^rm\s+-rf\s+\$HOME\s*$`),
	regexp.MustCompile(`^rm\s+-rf\s+\.\*\s*$`),
	regexp.MustCompile(`^sudo\s+rm\s+-rf\b`),
	regexp.MustCompile(`\bmkfs(\.\w+)?\b`),
	regexp.MustCompile(`\bdd\s+.*\bof=/dev/`),
	regexp.MustCompile(`:\(\)\s*\{\s*:\s*\|\s*:\s*&\s*\}\s*;\s*:`), // classic fork bomb
}

// checkDangerousCommand implements R1. The command is tokenized with
// shlex so that simple quoting (e.g. "rm  -rf  '/'") doesn't evade the
// literal patterns above; each token is rejoined with single spaces
// before matching, normalizing whitespace the way the spec requires.
func checkDangerousCommand(in Input) Verdict {
	if in.Event.Kind != hookio.KindPreToolUse {
		return allow()
	}
	cmd, ok := in.Event.CommandInput()
	if !ok {
		return allow()
	}

	normalized := normalizeCommand(cmd)
	for _, pat := range dangerousPatterns {
		if pat.MatchString(normalized) {
			return deny(RuleDangerousCommand, "blocked: dangerous rm pattern")
		}
	}
	return allow()
}

func normalizeCommand(cmd string) string {
	tokens, err := shlex.Split(cmd)
	if err != nil || len(tokens) == 0 {
		// Fall back to raw whitespace collapse; false positives here are
		// acceptable, false negatives are not.
		return strings.Join(strings.Fields(cmd), " ")
	}
	return strings.Join(tokens, " ")
}

// checkSensitiveFile implements R2.
func checkSensitiveFile(in Input, cfg Config) Verdict {
	if in.Event.Kind != hookio.KindPreToolUse {
		return allow()
	}
	path, ok := in.Event.FilePathInput()
	if !ok {
		return allow()
	}

	base := strings.ToLower(pathBase(path))
	if base != ".env" && !strings.HasPrefix(base, ".env.") {
		return allow()
	}

	if base == ".env" {
		return deny(RuleSensitiveFile, "blocked: .env access denied")
	}

	suffix := strings.TrimPrefix(base, ".env.")
	allowSuffixes := cfg.EnvAllowSuffixes
	if len(allowSuffixes) == 0 {
		allowSuffixes = DefaultConfig().EnvAllowSuffixes
	}
	for _, s := range allowSuffixes {
		if strings.EqualFold(suffix, s) {
			return allow()
		}
	}
	return deny(RuleSensitiveFile, "blocked: .env access denied")
}

func pathBase(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	if idx := strings.LastIndex(p, "/"); idx >= 0 {
		return p[idx+1:]
	}
	return p
}

// checkWorkspaceEscape implements R3.
func checkWorkspaceEscape(in Input, cfg Config) Verdict {
	if !in.HasWorkspace || in.CanonicalTargetPath == "" {
		return allow()
	}
	if strings.HasPrefix(in.CanonicalTargetPath, in.WorkspaceDir) {
		return allow()
	}
	if in.ProjectRoot != "" && !strings.HasPrefix(in.CanonicalTargetPath, in.ProjectRoot) {
		// Outside the project root entirely: not this predicate's concern.
		return allow()
	}
	for _, pattern := range cfg.SharedArtifactGlobs {
		if matched, _ := doublestar.Match(pattern, in.CanonicalTargetPath); matched {
			return allow()
		}
	}
	return deny(RuleWorkspaceEscape, fmt.Sprintf("blocked: path %s escapes agent workspace", redactPath(in.CanonicalTargetPath, in.ProjectRoot)))
}

// checkGitSafety implements R5.
func checkGitSafety(in Input, cfg Config) Verdict {
	if in.Event.Kind != hookio.KindPreToolUse {
		return allow()
	}
	cmd, ok := in.Event.CommandInput()
	if !ok {
		return allow()
	}
	normalized := normalizeCommand(cmd)
	if !strings.Contains(normalized, "git ") {
		return allow()
	}

	protected := cfg.ProtectedBranches
	if len(protected) == 0 {
		protected = DefaultConfig().ProtectedBranches
	}

	isForcePush := regexp.MustCompile(`\bgit\s+push\b.*(--force\b|-f\b)`).MatchString(normalized)
	isHardReset := regexp.MustCompile(`\bgit\s+reset\s+--hard\b`).MatchString(normalized)
	if !isForcePush && !isHardReset {
		return allow()
	}

	targetsProtected := false
	for _, b := range protected {
		if strings.Contains(normalized, b) || (in.CurrentBranch != "" && strings.EqualFold(in.CurrentBranch, b)) {
			targetsProtected = true
		}
	}
	if !targetsProtected {
		return allow()
	}

	if isForcePush {
		return deny(RuleGitSafety, "blocked: force-push to protected branch")
	}
	return deny(RuleGitSafety, "blocked: hard reset on protected branch")
}

// redactPath masks all but the first path component after root, so deny
// reasons never leak the full filesystem layout.
func redactPath(path, root string) string {
	rel := strings.TrimPrefix(path, root)
	rel = strings.TrimPrefix(rel, "/")
	parts := strings.SplitN(rel, "/", 2)
	if len(parts) == 1 {
		return parts[0]
	}
	return parts[0] + "/…"
}

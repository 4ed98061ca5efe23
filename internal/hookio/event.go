package hookio

import "encoding/json"

// Kind identifies one of the eight hook event variants the host emits.
// Unknown kinds are preserved verbatim and treated as allow-with-warning
// by the dispatcher; Kind is never validated against this list at parse
// time.
type Kind string

const (
	KindPreToolUse       Kind = "pre_tool_use"
	KindPostToolUse      Kind = "post_tool_use"
	KindNotification     Kind = "notification"
	KindUserPromptSubmit Kind = "user_prompt_submit"
	KindStop             Kind = "stop"
	KindSubagentStop     Kind = "subagent_stop"
	KindPreCompact       Kind = "pre_compact"
	KindSessionStart     Kind = "session_start"
)

// Event is the decoded form of one inbound hook JSON document. Fields not
// relevant to the event's kind are left at their zero value; callers
// switch on Kind before reading kind-specific fields.
type Event struct {
	Kind            Kind                   `json:"hook_event_name"`
	SessionID       string                 `json:"session_id"`
	Cwd             string                 `json:"cwd"`
	TranscriptPath  string                 `json:"transcript_path,omitempty"`
	ToolName        string                 `json:"tool_name,omitempty"`
	ToolInput       map[string]interface{} `json:"tool_input,omitempty"`
	ToolResponse    map[string]interface{} `json:"tool_response,omitempty"`
	Message         string                 `json:"message,omitempty"`
	Prompt          string                 `json:"prompt,omitempty"`
	StopHookActive  *bool                  `json:"stop_hook_active,omitempty"`
	Trigger         string                 `json:"trigger,omitempty"`
	CustomInstr     string                 `json:"custom_instructions,omitempty"`
	Source          string                 `json:"source,omitempty"`

	// Raw preserves every top-level field exactly as received, including
	// ones this struct doesn't model, so AsyncLogger can record the full
	// event without MAOC needing to understand it.
	Raw map[string]json.RawMessage `json:"-"`
}

// FilePathInput returns the path named by a file-affecting tool's input,
// and whether one was present. Recognizes the input keys used by the
// common file tools (file_path, path, notebook_path).
func (e *Event) FilePathInput() (string, bool) {
	if e.ToolInput == nil {
		return "", false
	}
	for _, key := range []string{"file_path", "path", "notebook_path"} {
		if v, ok := e.ToolInput[key]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s, true
			}
		}
	}
	return "", false
}

// CommandInput returns the shell command named by a Bash-like tool's
// input, and whether one was present.
func (e *Event) CommandInput() (string, bool) {
	if e.ToolInput == nil {
		return "", false
	}
	v, ok := e.ToolInput["command"]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok && s != ""
}

// Decision is the outbound JSON document written to standard output.
type Decision struct {
	Decision string   `json:"decision"`
	Reason   string   `json:"reason,omitempty"`
	Rewrite  *Rewrite `json:"rewrite,omitempty"`
}

// Rewrite carries the tool_input field patches applied for a rewrite decision.
type Rewrite struct {
	ToolInputPatch map[string]string `json:"tool_input_patch"`
}

// Allow builds the default allow decision.
func Allow() Decision { return Decision{Decision: "allow"} }

// AllowWithRewrite builds an allow decision that patches tool_input fields.
func AllowWithRewrite(patch map[string]string) Decision {
	return Decision{Decision: "rewrite", Rewrite: &Rewrite{ToolInputPatch: patch}}
}

// Deny builds a deny decision with a short, user-visible reason.
func Deny(reason string) Decision {
	return Decision{Decision: "deny", Reason: reason}
}

// ExitCode returns the process exit code mirroring the decision: 0 for
// allow/rewrite, 2 for deny.
func (d Decision) ExitCode() int {
	if d.Decision == "deny" {
		return 2
	}
	return 0
}

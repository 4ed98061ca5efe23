package main

import (
	"strings"
	"testing"
)

func TestDefaultHooksManifestCoversAllEvents(t *testing.T) {
	m, err := defaultHooksManifest()
	if err != nil {
		t.Fatalf("defaultHooksManifest: %v", err)
	}
	for _, event := range hookEvents {
		groups, ok := m.Hooks[event]
		if !ok || len(groups) == 0 {
			t.Errorf("event %s: expected at least one hook group, got none", event)
			continue
		}
		found := false
		for _, g := range groups {
			for _, h := range g.Hooks {
				if h.Type == "command" && strings.Contains(h.Command, "maoc hook") {
					found = true
				}
			}
		}
		if !found {
			t.Errorf("event %s: no hook invokes maoc hook", event)
		}
	}
}

func TestIsMaocHookCommand(t *testing.T) {
	cases := map[string]bool{
		"maoc hook":                 true,
		"maoc hook --foo":           true,
		"/usr/local/bin/maoc hook":  false,
		"other-tool hook":           false,
		"":                          false,
	}
	for cmd, want := range cases {
		if got := isMaocHookCommand(cmd); got != want {
			t.Errorf("isMaocHookCommand(%q) = %v, want %v", cmd, got, want)
		}
	}
}

func TestFilterNonMaocGroupsDropsOnlyMaocHooks(t *testing.T) {
	groups := []hookGroup{
		{
			Hooks: []hookEntry{
				{Type: "command", Command: "other-tool notify"},
				{Type: "command", Command: "maoc hook"},
			},
		},
		{
			Hooks: []hookEntry{
				{Type: "command", Command: "maoc hook"},
			},
		},
	}

	kept := filterNonMaocGroups(groups)
	if len(kept) != 1 {
		t.Fatalf("kept groups = %d, want 1", len(kept))
	}
	if len(kept[0].Hooks) != 1 || kept[0].Hooks[0].Command != "other-tool notify" {
		t.Fatalf("unexpected surviving hooks: %+v", kept[0].Hooks)
	}
}

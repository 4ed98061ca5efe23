package main

import "testing"

func TestComputeDoctorResult(t *testing.T) {
	tests := []struct {
		name       string
		checks     []doctorCheck
		wantResult string
		wantFail   bool
	}{
		{
			name: "all pass",
			checks: []doctorCheck{
				{Name: "a", Status: "pass", Required: true},
				{Name: "b", Status: "pass", Required: true},
			},
			wantResult: "HEALTHY",
		},
		{
			name: "required failure",
			checks: []doctorCheck{
				{Name: "a", Status: "pass", Required: true},
				{Name: "b", Status: "fail", Required: true},
			},
			wantResult: "UNHEALTHY",
			wantFail:   true,
		},
		{
			name: "optional warning only",
			checks: []doctorCheck{
				{Name: "a", Status: "pass", Required: true},
				{Name: "b", Status: "warn", Required: false},
			},
			wantResult: "DEGRADED",
		},
		{
			name:       "no checks",
			checks:     []doctorCheck{},
			wantResult: "HEALTHY",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := computeDoctorResult(tt.checks)
			if out.Result != tt.wantResult {
				t.Errorf("Result = %s, want %s", out.Result, tt.wantResult)
			}
			if got := hasRequiredFailure(tt.checks); got != tt.wantFail {
				t.Errorf("hasRequiredFailure = %v, want %v", got, tt.wantFail)
			}
		})
	}
}

func TestDoctorStatusIcon(t *testing.T) {
	cases := map[string]string{
		"pass":    "✓",
		"warn":    "!",
		"fail":    "✗",
		"unknown": "?",
	}
	for status, want := range cases {
		if got := doctorStatusIcon(status); got != want {
			t.Errorf("doctorStatusIcon(%q) = %q, want %q", status, got, want)
		}
	}
}

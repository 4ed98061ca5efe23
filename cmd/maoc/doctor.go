package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"github.com/spf13/cobra"
)

var doctorJSON bool

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check MAOC's local environment",
	Long: `Run health checks on the MAOC installation and the project it is
invoked against. Optional components are reported as warnings; only a
failed required check causes a non-zero exit.

Examples:
  maoc doctor
  maoc doctor --json`,
	RunE: runDoctor,
}

func init() {
	doctorCmd.Flags().BoolVar(&doctorJSON, "json", false, "Output results as JSON")
	rootCmd.AddCommand(doctorCmd)
}

type doctorCheck struct {
	Name     string `json:"name"`
	Status   string `json:"status"` // "pass", "warn", "fail"
	Detail   string `json:"detail"`
	Required bool   `json:"required"`
}

type doctorOutput struct {
	Checks  []doctorCheck `json:"checks"`
	Result  string        `json:"result"` // "HEALTHY", "DEGRADED", "UNHEALTHY"
	Summary string        `json:"summary"`
}

func gatherDoctorChecks() []doctorCheck {
	return []doctorCheck{
		{Name: "maoc CLI", Status: "pass", Detail: fmt.Sprintf("v%s", version), Required: true},
		checkProjectRoot(),
		checkConfigLoads(),
		checkGitAvailable(),
		checkLayoutWritable(),
	}
}

func doctorStatusIcon(status string) string {
	switch status {
	case "pass":
		return "✓"
	case "warn":
		return "!"
	case "fail":
		return "✗"
	}
	return "?"
}

func renderDoctorTable(w io.Writer, out doctorOutput) {
	fmt.Fprintln(w, "maoc doctor")
	fmt.Fprintln(w, "───────────")

	maxName := 0
	for _, c := range out.Checks {
		if len(c.Name) > maxName {
			maxName = len(c.Name)
		}
	}
	for _, c := range out.Checks {
		padding := strings.Repeat(" ", maxName-len(c.Name))
		fmt.Fprintf(w, "%s %s%s  %s\n", doctorStatusIcon(c.Status), c.Name, padding, c.Detail)
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "%s\n", out.Summary)
}

func hasRequiredFailure(checks []doctorCheck) bool {
	for _, c := range checks {
		if c.Required && c.Status == "fail" {
			return true
		}
	}
	return false
}

func computeDoctorResult(checks []doctorCheck) doctorOutput {
	pass, warn, fail := 0, 0, 0
	for _, c := range checks {
		switch c.Status {
		case "pass":
			pass++
		case "warn":
			warn++
		case "fail":
			fail++
		}
	}
	result := "HEALTHY"
	if fail > 0 {
		result = "UNHEALTHY"
	} else if warn > 0 {
		result = "DEGRADED"
	}
	return doctorOutput{
		Checks:  checks,
		Result:  result,
		Summary: fmt.Sprintf("%d passed, %d warnings, %d failed", pass, warn, fail),
	}
}

func runDoctor(cmd *cobra.Command, args []string) error {
	out := computeDoctorResult(gatherDoctorChecks())
	w := cmd.OutOrStdout()

	if doctorJSON {
		data, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal doctor output: %w", err)
		}
		fmt.Fprintln(w, string(data))
	} else {
		renderDoctorTable(w, out)
	}

	if hasRequiredFailure(out.Checks) {
		return fmt.Errorf("doctor failed: one or more required checks did not pass")
	}
	return nil
}

func checkProjectRoot() doctorCheck {
	sys, err := buildSystem()
	if err != nil {
		return doctorCheck{Name: "Project root", Status: "fail", Detail: err.Error(), Required: true}
	}
	defer sys.close()
	return doctorCheck{Name: "Project root", Status: "pass", Detail: sys.root.Root(), Required: true}
}

func checkConfigLoads() doctorCheck {
	sys, err := buildSystem()
	if err != nil {
		return doctorCheck{Name: "Config", Status: "fail", Detail: err.Error(), Required: true}
	}
	defer sys.close()
	return doctorCheck{Name: "Config", Status: "pass", Detail: "loaded", Required: true}
}

func checkGitAvailable() doctorCheck {
	if _, err := exec.LookPath("git"); err == nil {
		return doctorCheck{Name: "git", Status: "pass", Detail: "available", Required: false}
	}
	return doctorCheck{
		Name:     "git",
		Status:   "warn",
		Detail:   "not found; workspace provisioning falls back to plain directories",
		Required: false,
	}
}

func checkLayoutWritable() doctorCheck {
	sys, err := buildSystem()
	if err != nil {
		return doctorCheck{Name: "Layout", Status: "fail", Detail: err.Error(), Required: true}
	}
	defer sys.close()
	if err := sys.root.EnsureLayout(); err != nil {
		return doctorCheck{Name: "Layout", Status: "fail", Detail: err.Error(), Required: true}
	}
	return doctorCheck{Name: "Layout", Status: "pass", Detail: sys.root.State(), Required: true}
}

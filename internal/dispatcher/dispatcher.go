// Package dispatcher implements MAOC's HookDispatcher: the single
// entry point a hook invocation runs through, start to exit. It is
// deliberately an explicit sequence of named steps rather than a chain
// of interfaces — the same "one function, one state machine" shape
// this codebase uses for its own gate-checking pipeline — so that the
// failure behavior of each step is visible at a glance instead of
// buried in polymorphic dispatch.
package dispatcher

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/boshu2/maoc/internal/coordinator"
	"github.com/boshu2/maoc/internal/hookio"
	"github.com/boshu2/maoc/internal/obslog"
	"github.com/boshu2/maoc/internal/pathroot"
	"github.com/boshu2/maoc/internal/reaper"
	"github.com/boshu2/maoc/internal/security"
)

// Config tunes the dispatcher's bounded-read and security policy
// without changing its wiring.
type Config struct {
	ReadLimits        hookio.Limits
	SecurityConfig    security.Config
	ReaperSampleEvery int
}

// Dispatcher wires HookIO, SecurityValidator, Coordinator, AsyncLogger,
// and Reaper into the Start → ReadEvent → Classify → Validate → Route →
// Decide → Log → Exit pipeline.
type Dispatcher struct {
	root   *pathroot.Root
	coord  *coordinator.Coordinator
	log    *obslog.Logger
	reaper *reaper.Reaper
	cfg    Config
	hist   prometheus.Histogram
	reg    *prometheus.Registry

	sampleCounter int
}

// New builds a Dispatcher. cfg zero values fall back to their package
// defaults (hookio's and security's own DefaultConfig).
func New(root *pathroot.Root, coord *coordinator.Coordinator, log *obslog.Logger, rp *reaper.Reaper, cfg Config) (*Dispatcher, error) {
	if coord == nil {
		return nil, ErrNilCoordinator
	}
	if cfg.ReaperSampleEvery <= 0 {
		cfg.ReaperSampleEvery = 100
	}
	hist := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "maoc_hook_dispatch_seconds",
		Help:    "Wall-clock duration of a single hook dispatch.",
		Buckets: prometheus.DefBuckets,
	})
	reg := prometheus.NewRegistry()
	reg.MustRegister(hist)

	return &Dispatcher{root: root, coord: coord, log: log, reaper: rp, cfg: cfg, hist: hist, reg: reg}, nil
}

// Dispatch runs one full invocation: reads an event from r, produces a
// Decision, writes it to w, and returns the process exit code. It never
// panics out to the caller — a recovered panic is treated as an
// internal error and degrades to fail-open allow, per the dispatcher's
// documented failure model.
func (d *Dispatcher) Dispatch(ctx context.Context, r io.Reader, w io.Writer) (exitCode int) {
	start := time.Now()
	var kind hookio.Kind = "unclassified"

	defer func() {
		if rec := recover(); rec != nil {
			d.logSecurity("dispatcher_panic_recovered", fmt.Sprintf("%v", rec))
			exitCode = d.finish(w, hookio.Allow(), kind, start)
		}
	}()

	ev, err := hookio.Read(ctx, r, d.cfg.ReadLimits)
	if err != nil {
		// ReadEvent failure: fail-open, logged to security per the
		// InputError row of the error taxonomy.
		d.logSecurity("input_error", err.Error())
		return d.finish(w, hookio.Allow(), kind, start)
	}
	kind = ev.Kind

	switch ev.Kind {
	case hookio.KindPreToolUse, hookio.KindPostToolUse, hookio.KindNotification, hookio.KindUserPromptSubmit,
		hookio.KindStop, hookio.KindSubagentStop, hookio.KindPreCompact, hookio.KindSessionStart:
	default:
		if d.log != nil {
			d.log.Log(obslog.StreamLifecycle, map[string]interface{}{
				"kind":       "unknown_event_kind",
				"severity":   "warning",
				"event_kind": string(ev.Kind),
			})
		}
	}

	in := security.Input{
		Event:       ev,
		ProjectRoot: d.root.Root(),
	}
	if security.NeedsCurrentBranch(ev) {
		in.CurrentBranch = security.ResolveCurrentBranch(ev.Cwd)
	}

	verdict := security.Validate(in, d.cfg.SecurityConfig)
	if verdict.Denied {
		d.logSecurity(string(verdict.Rule), verdict.Reason)
		return d.finish(w, hookio.Deny(verdict.Reason), kind, start)
	}

	decision, err := d.coord.Handle(ctx, ev)
	if err != nil {
		// Coordination error: fail-open and log, per spec.md §4.9 — MAOC
		// is an assistant, not a mandatory gatekeeper.
		d.logSecurity("coordination_error", err.Error())
		decision = hookio.Allow()
	}

	d.maybeSweep(ctx, ev.Kind)

	return d.finish(w, decision, kind, start)
}

// finish writes the decision, logs the lifecycle and performance
// records, and returns the matching exit code.
func (d *Dispatcher) finish(w io.Writer, decision hookio.Decision, kind hookio.Kind, start time.Time) int {
	elapsed := time.Since(start)

	if err := hookio.WriteDecision(w, decision); err != nil {
		d.logSecurity("write_decision_failed", err.Error())
	}

	if d.log != nil {
		d.log.Log(obslog.StreamLifecycle, map[string]interface{}{
			"kind":           "hook_dispatch",
			"event_kind":     string(kind),
			"decision":       decision.Decision,
			"duration_us":    elapsed.Microseconds(),
		})
		d.log.Log(obslog.StreamPerformance, map[string]interface{}{
			"kind":        "hook_dispatch_latency",
			"event_kind":  string(kind),
			"duration_us": elapsed.Microseconds(),
		})
	}
	d.hist.Observe(elapsed.Seconds())
	d.dumpHistogram()

	return decision.ExitCode()
}

func (d *Dispatcher) logSecurity(kindTag, detail string) {
	if d.log == nil {
		return
	}
	d.log.Log(obslog.StreamSecurity, map[string]interface{}{
		"kind":     kindTag,
		"severity": "error",
		"detail":   detail,
	})
}

// dumpHistogram writes the current histogram state to a textfile under
// R/logs, following the Prometheus node-exporter textfile-collector
// convention, so an operator scraping that directory gets per-invocation
// latency percentiles without MAOC ever opening a network listener.
func (d *Dispatcher) dumpHistogram() {
	path := filepath.Join(d.root.Logs(), "maoc_hook_dispatch.prom")
	if err := testutil.WriteToTextfile(path, d.reg); err != nil {
		d.logSecurity("metrics_dump_failed", err.Error())
	}
}

// maybeSweep triggers the Reaper on a SubagentStop/Stop event (trigger
// a) or opportunistically once every ReaperSampleEvery invocations
// (trigger b). The invocation counter lives in memory on this
// Dispatcher, so it does not carry over from one hook process to the
// next. The standalone `maoc reap` command (trigger c) calls
// Reaper.Sweep directly, bypassing the dispatcher entirely.
func (d *Dispatcher) maybeSweep(ctx context.Context, kind hookio.Kind) {
	if d.reaper == nil {
		return
	}

	triggered := kind == hookio.KindStop || kind == hookio.KindSubagentStop
	if !triggered {
		d.sampleCounter++
		if d.sampleCounter >= d.cfg.ReaperSampleEvery {
			d.sampleCounter = 0
			triggered = true
		}
	}
	if !triggered {
		return
	}

	if _, err := d.reaper.Sweep(ctx); err != nil {
		d.logSecurity("reaper_sweep_failed", err.Error())
	}
}

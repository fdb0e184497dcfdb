// Package latency implements the per-stage latency budget tracker for the
// Glint pipeline.
//
// Every stage execution is recorded as an append-only [StageTiming] and
// folded into a bounded ring buffer from which p50/p95 percentiles are
// computed on demand. Stage budgets are health signals, not deadlines: a
// breach is counted and surfaced but never aborts an in-flight cycle. Only
// a sustained breach of the total cycle budget (p95 over the rolling
// window) flips [Tracker.Healthy] to false for the orchestrating caller.
package latency

import (
	"math"
	"sort"
	"sync"
	"time"
)

// Stage names one pipeline stage for budget lookup and telemetry.
//
// Which stages actually record depends on the perception adapters in use.
// The built-in adapters pull frames from capture inside their Sample call,
// so their timings land on StageVAD and StageKeyframe with capture folded
// in; StageCapture and StageASR carry budgets for sources that run capture
// or transcription as separate steps and record them individually.
type Stage string

const (
	StageCapture  Stage = "capture"
	StageVAD      Stage = "vad"
	StageASR      Stage = "asr"
	StageKeyframe Stage = "keyframe"
	StageFusion   Stage = "fusion"
	StageFSM      Stage = "fsm"
	StageRespond  Stage = "respond"
	StageDispatch Stage = "dispatch"
)

// Budgets maps each stage to its target p95 duration.
type Budgets map[Stage]time.Duration

// DefaultBudgets returns the per-stage p95 targets for the glasses
// pipeline. The sum leaves headroom under the 95 ms total budget.
func DefaultBudgets() Budgets {
	return Budgets{
		StageCapture:  5 * time.Millisecond,
		StageVAD:      6 * time.Millisecond,
		StageASR:      5 * time.Millisecond,
		StageKeyframe: 40 * time.Millisecond,
		StageFusion:   2 * time.Millisecond,
		StageFSM:      2 * time.Millisecond,
		StageRespond:  55 * time.Millisecond,
		StageDispatch: 8 * time.Millisecond,
	}
}

// DefaultTotalBudget is the end-to-end p95 budget for one cycle.
const DefaultTotalBudget = 95 * time.Millisecond

// maxPending bounds the append-only record log between telemetry drains.
// When exporters fall behind, the oldest records are dropped and counted.
const maxPending = 4096

// StageTiming is one append-only record of a stage execution. Records are
// never mutated after creation; telemetry exporters consume them via
// [Tracker.Drain].
type StageTiming struct {
	// Stage names the pipeline stage.
	Stage Stage

	// Duration is the measured execution time.
	Duration time.Duration

	// Budget is the stage's target p95 at the time of recording.
	Budget time.Duration

	// Breach reports whether Duration exceeded Budget.
	Breach bool

	// At is when the stage completed.
	At time.Time
}

// Config holds the tracker parameters.
type Config struct {
	// Budgets maps stages to their p95 targets. Nil selects DefaultBudgets.
	Budgets Budgets

	// TotalBudget is the end-to-end cycle budget. 0 selects
	// DefaultTotalBudget.
	TotalBudget time.Duration

	// WindowSize is the number of samples retained per stage for percentile
	// computation. Values ≤ 0 default to 100.
	WindowSize int
}

// StageSummary holds the rolled-up view of one stage.
type StageSummary struct {
	P50      time.Duration
	P95      time.Duration
	Budget   time.Duration
	Breaches int64
	Samples  int
}

// Summary is a point-in-time rollup across all stages plus the cycle total.
type Summary struct {
	Stages map[Stage]StageSummary

	// TotalP50 and TotalP95 aggregate whole-cycle durations.
	TotalP50 time.Duration
	TotalP95 time.Duration

	// TotalBudget is the configured end-to-end budget.
	TotalBudget time.Duration

	// WithinBudget reports TotalP95 ≤ TotalBudget (vacuously true while the
	// window is empty).
	WithinBudget bool

	// MeanAlpha is the mean fused blend weight across recorded cycles.
	MeanAlpha float64

	// Cycles is the number of completed cycles recorded.
	Cycles int64

	// Dropped counts append-only records lost because no exporter drained
	// them in time.
	Dropped int64
}

// Tracker records stage timings for one session. Thread-safe for
// concurrent use.
type Tracker struct {
	mu sync.Mutex

	budgets     Budgets
	totalBudget time.Duration
	windowSize  int

	stages   map[Stage]*stageWindow
	total    ring
	pending  []StageTiming
	dropped  int64
	cycles   int64
	alphaSum float64
}

type stageWindow struct {
	ring     ring
	breaches int64
}

// NewTracker creates a Tracker from cfg, filling unset fields with defaults.
func NewTracker(cfg Config) *Tracker {
	if cfg.Budgets == nil {
		cfg.Budgets = DefaultBudgets()
	}
	if cfg.TotalBudget == 0 {
		cfg.TotalBudget = DefaultTotalBudget
	}
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = 100
	}
	return &Tracker{
		budgets:     cfg.Budgets,
		totalBudget: cfg.TotalBudget,
		windowSize:  cfg.WindowSize,
		stages:      make(map[Stage]*stageWindow),
		total:       newRing(cfg.WindowSize),
	}
}

// Record appends a StageTiming for stage and returns it. Unknown stages are
// tracked with a zero budget and never count as breached.
func (t *Tracker) Record(stage Stage, d time.Duration) StageTiming {
	t.mu.Lock()
	defer t.mu.Unlock()

	budget := t.budgets[stage]
	st := StageTiming{
		Stage:    stage,
		Duration: d,
		Budget:   budget,
		Breach:   budget > 0 && d > budget,
		At:       time.Now(),
	}

	w, ok := t.stages[stage]
	if !ok {
		w = &stageWindow{ring: newRing(t.windowSize)}
		t.stages[stage] = w
	}
	w.ring.add(d)
	if st.Breach {
		w.breaches++
	}

	t.append(st)
	return st
}

// RecordCycle folds one completed cycle into the rolling total window along
// with the cycle's fused blend weight.
func (t *Tracker) RecordCycle(total time.Duration, alpha float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.total.add(total)
	t.cycles++
	t.alphaSum += alpha
}

// SetBudgets swaps the stage budget table and the end-to-end budget. Nil
// budgets and a zero total select the defaults, mirroring NewTracker.
// Recorded history and breach counts are kept; the new targets apply from
// the next Record.
func (t *Tracker) SetBudgets(budgets Budgets, total time.Duration) {
	if budgets == nil {
		budgets = DefaultBudgets()
	}
	if total == 0 {
		total = DefaultTotalBudget
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.budgets = budgets
	t.totalBudget = total
}

// Budget returns the configured target for stage (0 when the stage has no
// declared budget).
func (t *Tracker) Budget(stage Stage) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.budgets[stage]
}

// TotalBudget returns the configured end-to-end cycle budget.
func (t *Tracker) TotalBudget() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.totalBudget
}

// Healthy reports whether the rolling total p95 is within the end-to-end
// budget. An empty window is healthy — no evidence of sustained breach.
func (t *Tracker) Healthy() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	sorted := t.total.sorted()
	if len(sorted) == 0 {
		return true
	}
	return percentile(sorted, 0.95) <= t.totalBudget
}

// Summarize returns a point-in-time rollup of all recorded stages and the
// cycle total.
func (t *Tracker) Summarize() Summary {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := Summary{
		Stages:      make(map[Stage]StageSummary, len(t.stages)),
		TotalBudget: t.totalBudget,
		Cycles:      t.cycles,
		Dropped:     t.dropped,
	}

	for stage, w := range t.stages {
		sorted := w.ring.sorted()
		s.Stages[stage] = StageSummary{
			P50:      percentile(sorted, 0.50),
			P95:      percentile(sorted, 0.95),
			Budget:   t.budgets[stage],
			Breaches: w.breaches,
			Samples:  len(sorted),
		}
	}

	totalSorted := t.total.sorted()
	s.TotalP50 = percentile(totalSorted, 0.50)
	s.TotalP95 = percentile(totalSorted, 0.95)
	s.WithinBudget = len(totalSorted) == 0 || s.TotalP95 <= t.totalBudget

	if t.cycles > 0 {
		s.MeanAlpha = t.alphaSum / float64(t.cycles)
	}
	return s
}

// Drain returns all undelivered StageTiming records and clears the pending
// log. Telemetry exporters call this periodically.
func (t *Tracker) Drain() []StageTiming {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := t.pending
	t.pending = nil
	return out
}

// append adds a record to the pending log, dropping the oldest entry when
// the log is full. Must be called with t.mu held.
func (t *Tracker) append(st StageTiming) {
	if len(t.pending) >= maxPending {
		copy(t.pending, t.pending[1:])
		t.pending = t.pending[:maxPending-1]
		t.dropped++
	}
	t.pending = append(t.pending, st)
}

// ring is a bounded ring buffer of duration samples.
type ring struct {
	data []time.Duration
	size int
	pos  int
	full bool
}

func newRing(size int) ring {
	return ring{data: make([]time.Duration, size), size: size}
}

func (r *ring) add(d time.Duration) {
	r.data[r.pos] = d
	r.pos++
	if r.pos >= r.size {
		r.pos = 0
		r.full = true
	}
}

// sorted returns the valid samples in ascending order.
func (r *ring) sorted() []time.Duration {
	n := r.pos
	if r.full {
		n = r.size
	}
	if n == 0 {
		return nil
	}
	out := make([]time.Duration, n)
	copy(out, r.data[:n])
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// percentile returns the value at the given percentile (0.0–1.0) from a
// sorted slice using nearest-rank.
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// Package pipeline sequences one full activation cycle of the Glint core:
// perception adapters → fusion gate → interaction FSM → caption dispatch,
// with every stage timed against its latency budget.
//
// The orchestrator owns the sequencing only; each stage's substantive logic
// lives in its own component. One orchestrator exists per session and is
// the sole mutator of that session's gate and machine, so stages within a
// cycle run strictly sequentially. The two perception adapters are the one
// exception: they sample in parallel (they share no state) and the
// orchestrator joins on both before advancing.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/glintlabs/glint/internal/dispatch"
	"github.com/glintlabs/glint/internal/fusion"
	"github.com/glintlabs/glint/internal/interaction"
	"github.com/glintlabs/glint/internal/latency"
	"github.com/glintlabs/glint/internal/observe"
	"github.com/glintlabs/glint/pkg/perception"
)

// defaultStaleMultiple scales a perception stage's budget into the time the
// orchestrator waits before abandoning the sample and reusing the
// last-known confidence.
const defaultStaleMultiple = 3.0

// ConfirmFunc is the policy layer's confirmation hook: it authorizes (or
// defers) the ANALYSING→RESPONDING transition and may attach a short
// payload hint woven into the caption. The fused blend weight in the
// snapshot is available as an advisory signal.
type ConfirmFunc func(ctx context.Context, snap interaction.Snapshot) (confirm bool, payload string)

// ConfirmAlways authorizes every response with no payload. The default
// policy for demo runs.
func ConfirmAlways(context.Context, interaction.Snapshot) (bool, string) {
	return true, ""
}

// Config holds the orchestrator's collaborators.
type Config struct {
	// SessionID identifies the owning session in logs and telemetry.
	SessionID string

	// Audio and Vision are the session's perception sources. Required.
	Audio  perception.Source
	Vision perception.Source

	// Gate is the session's fusion gate. Required.
	Gate *fusion.Gate

	// Machine is the session's interaction FSM. Required.
	Machine *interaction.Machine

	// Tracker records stage timings. Required.
	Tracker *latency.Tracker

	// Sink receives dispatched captions. Required.
	Sink dispatch.Sink

	// Confirm is the policy confirmation hook. Nil selects ConfirmAlways.
	Confirm ConfirmFunc

	// Metrics receives OTel instrumentation. Nil selects
	// observe.DefaultMetrics.
	Metrics *observe.Metrics

	// Channel selects the caption output surface. Empty selects the
	// overlay.
	Channel dispatch.Channel

	// StaleMultiple scales each perception stage's budget into its
	// sampling timeout. Values ≤ 0 select the default of 3.
	StaleMultiple float64
}

// CycleResult reports what one Tick did.
type CycleResult struct {
	// State is the FSM state after the cycle.
	State interaction.State

	// Alpha is the fused blend weight computed this cycle.
	Alpha float64

	// Responded reports whether a caption was dispatched.
	Responded bool

	// Caption is the dispatched payload when Responded is true.
	Caption dispatch.Caption

	// StaleAudio and StaleVision report whether the cycle ran on a
	// last-known confidence because an adapter overran its timeout.
	StaleAudio  bool
	StaleVision bool

	// Total is the end-to-end cycle duration.
	Total time.Duration
}

// Tuning is the hot-reloadable subset of a session's parameters. Applied
// via [Orchestrator.Retune].
type Tuning struct {
	Gate        fusion.Config
	Thresholds  interaction.Thresholds
	Budgets     latency.Budgets
	TotalBudget time.Duration
}

// Orchestrator drives the per-tick cycle for one session. Tick is not safe
// for concurrent calls; the session's run loop is the only caller.
// Interrupt and Retune may be called from any goroutine.
type Orchestrator struct {
	cfg Config

	// Last-known confidences for the stale-input policy. Zero until the
	// first successful sample — an adapter that has never produced data
	// contributes no signal.
	lastAudio  float64
	lastVision float64

	// pending holds staged tuning until the tick goroutine picks it up;
	// the gate is single-goroutine and must not be retuned mid-cycle.
	retuneMu sync.Mutex
	pending  *Tuning
}

// New validates cfg and creates an Orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	switch {
	case cfg.Audio == nil:
		return nil, errors.New("pipeline: audio source is required")
	case cfg.Vision == nil:
		return nil, errors.New("pipeline: vision source is required")
	case cfg.Gate == nil:
		return nil, errors.New("pipeline: fusion gate is required")
	case cfg.Machine == nil:
		return nil, errors.New("pipeline: interaction machine is required")
	case cfg.Tracker == nil:
		return nil, errors.New("pipeline: latency tracker is required")
	case cfg.Sink == nil:
		return nil, errors.New("pipeline: dispatch sink is required")
	}
	if cfg.Confirm == nil {
		cfg.Confirm = ConfirmAlways
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.Channel == "" {
		cfg.Channel = dispatch.ChannelOverlay
	}
	if cfg.StaleMultiple <= 0 {
		cfg.StaleMultiple = defaultStaleMultiple
	}
	return &Orchestrator{cfg: cfg}, nil
}

// Tick runs one full pipeline cycle. It is the single entry point, called
// once per externally-triggered capture event.
//
// Errors are session-scoped and non-fatal: the FSM is reset to IDLE so the
// next activation proceeds cleanly, and the error is returned for logging.
func (o *Orchestrator) Tick(ctx context.Context) (CycleResult, error) {
	ctx, span := observe.StartSpan(ctx, "pipeline.tick")
	defer span.End()

	o.applyPendingTuning(ctx)

	started := time.Now()
	res, err := o.runCycle(ctx)
	res.Total = time.Since(started)

	o.cfg.Tracker.RecordCycle(res.Total, res.Alpha)
	o.cfg.Metrics.CycleDuration.Record(ctx, res.Total.Seconds())

	if err != nil {
		// Session-level recovery: discard the activation and start clean.
		o.cfg.Machine.Cancel()
		return res, fmt.Errorf("pipeline: session %s: %w", o.cfg.SessionID, err)
	}
	return res, nil
}

// Retune stages a tuning change for the session. It takes effect at the
// start of the next Tick, between cycles, so the gate's smoothed state and
// any open activation are preserved. A second Retune before the next tick
// replaces the staged tuning.
func (o *Orchestrator) Retune(t Tuning) {
	o.retuneMu.Lock()
	o.pending = &t
	o.retuneMu.Unlock()
}

// applyPendingTuning applies a staged Retune on the tick goroutine. Invalid
// gate or threshold values are logged and the existing tuning is kept.
func (o *Orchestrator) applyPendingTuning(ctx context.Context) {
	o.retuneMu.Lock()
	t := o.pending
	o.pending = nil
	o.retuneMu.Unlock()
	if t == nil {
		return
	}

	if err := o.cfg.Gate.Retune(t.Gate); err != nil {
		observe.Logger(ctx).Warn("gate retune rejected",
			"session_id", o.cfg.SessionID, "err", err)
	}
	if err := o.cfg.Machine.SetThresholds(t.Thresholds); err != nil {
		observe.Logger(ctx).Warn("threshold retune rejected",
			"session_id", o.cfg.SessionID, "err", err)
	}
	o.cfg.Tracker.SetBudgets(t.Budgets, t.TotalBudget)
	observe.Logger(ctx).Info("session tuning applied",
		"session_id", o.cfg.SessionID)
}

// Interrupt cancels the in-flight activation (user interrupt), forcing the
// FSM to IDLE and discarding any pending response.
func (o *Orchestrator) Interrupt() {
	o.cfg.Machine.Cancel()
	observe.Logger(context.Background()).Info("activation interrupted",
		"session_id", o.cfg.SessionID)
}

func (o *Orchestrator) runCycle(ctx context.Context) (CycleResult, error) {
	var res CycleResult

	audio, vision, err := o.sampleBoth(ctx)
	if err != nil {
		return res, err
	}
	res.StaleAudio = audio.stale
	res.StaleVision = vision.stale

	fusionStart := time.Now()
	alpha, err := o.cfg.Gate.Update(vision.value, audio.value, time.Now())
	o.recordStage(ctx, latency.StageFusion, time.Since(fusionStart))
	if err != nil {
		o.cfg.Metrics.RecordPipelineError(ctx, string(latency.StageFusion))
		return res, fmt.Errorf("fusion update: %w", err)
	}
	res.Alpha = alpha
	o.cfg.Metrics.FusedAlpha.Record(ctx, alpha)

	fsmStart := time.Now()
	responding, payload, err := o.stepMachine(ctx, audio.value, vision.value, alpha)
	o.recordStage(ctx, latency.StageFSM, time.Since(fsmStart))
	if err != nil {
		o.cfg.Metrics.RecordPipelineError(ctx, string(latency.StageFSM))
		return res, fmt.Errorf("fsm step: %w", err)
	}
	res.State = o.cfg.Machine.State()
	if !responding {
		return res, nil
	}

	respondStart := time.Now()
	snap := o.cfg.Machine.Snapshot()
	caption := dispatch.Caption{
		SessionID:    o.cfg.SessionID,
		ActivationID: snap.ActivationID,
		Text:         composeCaption(snap, payload),
		Alpha:        snap.Alpha,
		Channel:      o.cfg.Channel,
		At:           time.Now(),
	}
	o.recordStage(ctx, latency.StageRespond, time.Since(respondStart))

	dispatchStart := time.Now()
	err = o.cfg.Sink.Deliver(ctx, caption)
	o.recordStage(ctx, latency.StageDispatch, time.Since(dispatchStart))
	if err != nil {
		o.cfg.Metrics.RecordPipelineError(ctx, string(latency.StageDispatch))
		return res, fmt.Errorf("dispatch caption: %w", err)
	}

	// The caption is fully handed off: close the activation window.
	if err := o.cfg.Machine.Dispatched(); err != nil {
		return res, fmt.Errorf("complete activation: %w", err)
	}
	o.cfg.Metrics.RecordResponse(ctx, o.cfg.SessionID, string(caption.Channel))

	res.State = o.cfg.Machine.State()
	res.Responded = true
	res.Caption = caption
	return res, nil
}

// sampleResult is one modality's outcome for a cycle.
type sampleResult struct {
	value float64
	stale bool
	dur   time.Duration
}

// sampleBoth fans out to the two perception adapters in parallel and joins
// on both. A slow adapter is handled per the stale-input policy; a failing
// one aborts the cycle. Adapter Sample calls pull frames from capture
// internally, so each modality's timing lands on its perception stage (vad,
// keyframe) with capture folded in.
func (o *Orchestrator) sampleBoth(ctx context.Context) (audio, vision sampleResult, err error) {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var sErr error
		audio, sErr = o.sampleOne(gctx, o.cfg.Audio, latency.StageVAD, o.lastAudio)
		if sErr != nil {
			return fmt.Errorf("audio sample: %w", sErr)
		}
		return nil
	})
	g.Go(func() error {
		var sErr error
		vision, sErr = o.sampleOne(gctx, o.cfg.Vision, latency.StageKeyframe, o.lastVision)
		if sErr != nil {
			return fmt.Errorf("vision sample: %w", sErr)
		}
		return nil
	})

	waitErr := g.Wait()

	// Record whatever completed, even on the error path.
	o.recordStage(ctx, latency.StageVAD, audio.dur)
	o.recordStage(ctx, latency.StageKeyframe, vision.dur)

	if waitErr != nil {
		o.cfg.Metrics.RecordPipelineError(ctx, string(latency.StageCapture))
		return audio, vision, waitErr
	}

	o.noteStale(ctx, perception.ModalityAudio, audio)
	o.noteStale(ctx, perception.ModalityVision, vision)
	if !audio.stale {
		o.lastAudio = audio.value
	}
	if !vision.stale {
		o.lastVision = vision.value
	}
	return audio, vision, nil
}

// sampleOne draws one sample under the stale-input timeout. When the
// adapter overruns its deadline (and the cycle itself is still live), the
// last-known value is substituted and the result marked stale.
func (o *Orchestrator) sampleOne(ctx context.Context, src perception.Source, stage latency.Stage, last float64) (sampleResult, error) {
	timeout := o.staleTimeout(stage)
	sctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	sample, err := src.Sample(sctx)
	dur := time.Since(start)

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return sampleResult{value: last, stale: true, dur: dur}, nil
		}
		return sampleResult{dur: dur}, err
	}
	return sampleResult{value: sample.Value, dur: dur}, nil
}

// staleTimeout derives a modality's sampling deadline from its stage
// budget. An unbudgeted stage falls back to the total cycle budget.
func (o *Orchestrator) staleTimeout(stage latency.Stage) time.Duration {
	budget := o.cfg.Tracker.Budget(stage)
	if budget <= 0 {
		budget = o.cfg.Tracker.TotalBudget()
	}
	return time.Duration(float64(budget) * o.cfg.StaleMultiple)
}

func (o *Orchestrator) noteStale(ctx context.Context, modality perception.Modality, r sampleResult) {
	if !r.stale {
		return
	}
	o.cfg.Metrics.RecordStaleInput(ctx, string(modality))
	observe.Logger(ctx).Warn("perception sample overran its deadline, using last-known confidence",
		"session_id", o.cfg.SessionID,
		"modality", modality,
		"stale_value", r.value,
	)
}

// stepMachine advances the FSM by one cycle: open an activation when idle,
// feed the observation, and apply the policy confirmation once the machine
// is analysing.
func (o *Orchestrator) stepMachine(ctx context.Context, speechRatio, salience, alpha float64) (responding bool, payload string, err error) {
	m := o.cfg.Machine

	if m.State() == interaction.StateIdle {
		id, err := m.Activate()
		if err != nil {
			return false, "", err
		}
		observe.Logger(ctx).Debug("activation opened",
			"session_id", o.cfg.SessionID, "activation_id", id)
	}

	m.AdviseAlpha(alpha)

	if _, err := m.Observe(interaction.Observation{SpeechRatio: speechRatio, Salience: salience}); err != nil {
		return false, "", err
	}
	if m.State() != interaction.StateAnalysing {
		return false, "", nil
	}

	confirm, payload := o.cfg.Confirm(ctx, m.Snapshot())
	responding, err = m.Respond(confirm)
	if err != nil {
		return false, "", err
	}
	return responding, payload, nil
}

// recordStage folds one stage duration into the tracker and metrics. A
// budget breach is counted and logged but never fails the cycle.
func (o *Orchestrator) recordStage(ctx context.Context, stage latency.Stage, d time.Duration) {
	if d <= 0 {
		return
	}
	st := o.cfg.Tracker.Record(stage, d)
	o.cfg.Metrics.RecordStage(ctx, string(stage), d)
	if st.Breach {
		o.cfg.Metrics.RecordBreach(ctx, string(stage))
		observe.Logger(ctx).Warn("stage exceeded its latency budget",
			"session_id", o.cfg.SessionID,
			"stage", stage,
			"duration", d,
			"budget", st.Budget,
		)
	}
}

package latency

import (
	"testing"
	"time"
)

func ms(f float64) time.Duration {
	return time.Duration(f * float64(time.Millisecond))
}

func TestRecord_FlagsStageBreachWithoutAborting(t *testing.T) {
	t.Parallel()

	tr := NewTracker(Config{})

	// Within budget.
	st := tr.Record(StageFusion, 1*time.Millisecond)
	if st.Breach {
		t.Errorf("fusion 1ms flagged as breach (budget %v)", st.Budget)
	}

	// Over budget: flagged, but recording continues normally.
	st = tr.Record(StageFusion, 10*time.Millisecond)
	if !st.Breach {
		t.Error("fusion 10ms not flagged as breach against 2ms budget")
	}
	st = tr.Record(StageDispatch, 3*time.Millisecond)
	if st.Breach {
		t.Errorf("dispatch 3ms flagged as breach (budget %v)", st.Budget)
	}

	sum := tr.Summarize()
	if got := sum.Stages[StageFusion].Breaches; got != 1 {
		t.Errorf("fusion breaches = %d, want 1", got)
	}
	if got := sum.Stages[StageFusion].Samples; got != 2 {
		t.Errorf("fusion samples = %d, want 2", got)
	}
}

func TestSummarize_RepresentativeCycleIsWithinBudget(t *testing.T) {
	t.Parallel()

	tr := NewTracker(Config{})

	// The documented representative cycle: sums to 89 ms, under the 95 ms
	// total budget.
	durations := []struct {
		stage Stage
		d     time.Duration
	}{
		{StageCapture, ms(3)},
		{StageVAD, ms(4)},
		{StageKeyframe, ms(35)},
		{StageFusion, ms(0.5)},
		{StageFSM, ms(0.5)},
		{StageRespond, ms(45)},
		{StageDispatch, ms(1)},
	}
	var total time.Duration
	for _, sd := range durations {
		st := tr.Record(sd.stage, sd.d)
		if st.Breach {
			t.Errorf("stage %s (%v) unexpectedly breached budget %v", sd.stage, sd.d, st.Budget)
		}
		total += sd.d
	}
	if total != ms(89) {
		t.Fatalf("cycle total = %v, want 89ms", total)
	}
	tr.RecordCycle(total, 0.6)

	sum := tr.Summarize()
	if !sum.WithinBudget {
		t.Errorf("WithinBudget = false for 89ms cycle against %v budget", sum.TotalBudget)
	}
	if sum.TotalP95 != ms(89) {
		t.Errorf("TotalP95 = %v, want 89ms", sum.TotalP95)
	}
	if !tr.Healthy() {
		t.Error("Healthy() = false for an 89ms cycle")
	}
}

func TestSummarize_SingleStageBreachStillCompletesCycle(t *testing.T) {
	t.Parallel()

	tr := NewTracker(Config{})

	st := tr.Record(StageKeyframe, 60*time.Millisecond) // over its 40ms target
	if !st.Breach {
		t.Fatal("keyframe 60ms not flagged")
	}
	tr.RecordCycle(80*time.Millisecond, 0.5)

	sum := tr.Summarize()
	if !sum.WithinBudget {
		t.Error("a single stage breach must not fail the total budget when the cycle fits")
	}
	if !tr.Healthy() {
		t.Error("Healthy() = false despite total within budget")
	}
}

func TestHealthy_SustainedTotalBreachDegrades(t *testing.T) {
	t.Parallel()

	tr := NewTracker(Config{WindowSize: 20})
	if !tr.Healthy() {
		t.Fatal("empty tracker must be healthy")
	}

	for i := 0; i < 20; i++ {
		tr.RecordCycle(120*time.Millisecond, 0.5)
	}
	if tr.Healthy() {
		t.Error("Healthy() = true after 20 cycles at 120ms against a 95ms budget")
	}

	sum := tr.Summarize()
	if sum.WithinBudget {
		t.Error("WithinBudget = true after sustained breach")
	}
}

func TestHealthy_OneSlowCycleInHundredStaysHealthy(t *testing.T) {
	t.Parallel()

	tr := NewTracker(Config{WindowSize: 100})
	for i := 0; i < 99; i++ {
		tr.RecordCycle(50*time.Millisecond, 0.5)
	}
	tr.RecordCycle(500*time.Millisecond, 0.5)

	// p95 of the window is still 50ms; one outlier must not degrade health.
	if !tr.Healthy() {
		t.Error("Healthy() = false after a single outlier cycle")
	}
}

func TestSummarize_Percentiles(t *testing.T) {
	t.Parallel()

	tr := NewTracker(Config{WindowSize: 100})
	for i := 1; i <= 100; i++ {
		tr.Record(StageRespond, time.Duration(i)*time.Millisecond)
	}

	sum := tr.Summarize()
	resp := sum.Stages[StageRespond]
	if resp.P50 != 50*time.Millisecond {
		t.Errorf("respond P50 = %v, want 50ms", resp.P50)
	}
	if resp.P95 != 95*time.Millisecond {
		t.Errorf("respond P95 = %v, want 95ms", resp.P95)
	}
	// 55ms budget: 45 of the 100 samples breach it.
	if resp.Breaches != 45 {
		t.Errorf("respond breaches = %d, want 45", resp.Breaches)
	}
}

func TestSummarize_MeanAlpha(t *testing.T) {
	t.Parallel()

	tr := NewTracker(Config{})
	tr.RecordCycle(ms(50), 0.2)
	tr.RecordCycle(ms(50), 0.4)
	tr.RecordCycle(ms(50), 0.6)

	sum := tr.Summarize()
	if sum.Cycles != 3 {
		t.Errorf("Cycles = %d, want 3", sum.Cycles)
	}
	if diff := sum.MeanAlpha - 0.4; diff > 1e-12 || diff < -1e-12 {
		t.Errorf("MeanAlpha = %v, want 0.4", sum.MeanAlpha)
	}
}

func TestDrain_ReturnsAndClearsPendingRecords(t *testing.T) {
	t.Parallel()

	tr := NewTracker(Config{})
	tr.Record(StageCapture, ms(3))
	tr.Record(StageFusion, ms(1))

	recs := tr.Drain()
	if len(recs) != 2 {
		t.Fatalf("Drain returned %d records, want 2", len(recs))
	}
	if recs[0].Stage != StageCapture || recs[1].Stage != StageFusion {
		t.Errorf("Drain order = [%s, %s], want [capture, fusion]", recs[0].Stage, recs[1].Stage)
	}
	if again := tr.Drain(); len(again) != 0 {
		t.Errorf("second Drain returned %d records, want 0", len(again))
	}
}

func TestDrain_DropsOldestWhenLogIsFull(t *testing.T) {
	t.Parallel()

	tr := NewTracker(Config{})
	for i := 0; i < maxPending+10; i++ {
		tr.Record(StageCapture, ms(1))
	}

	recs := tr.Drain()
	if len(recs) != maxPending {
		t.Errorf("pending log length = %d, want %d", len(recs), maxPending)
	}
	if got := tr.Summarize().Dropped; got != 10 {
		t.Errorf("Dropped = %d, want 10", got)
	}
}

func TestRecord_UnknownStageHasNoBudget(t *testing.T) {
	t.Parallel()

	tr := NewTracker(Config{})
	st := tr.Record(Stage("warmup"), time.Second)
	if st.Breach || st.Budget != 0 {
		t.Errorf("unknown stage timing = %+v, want no budget, no breach", st)
	}
}

func TestSetBudgets_AppliesToNextRecord(t *testing.T) {
	t.Parallel()

	tr := NewTracker(Config{})
	if st := tr.Record(StageRespond, ms(60)); !st.Breach {
		t.Fatal("60ms respond within the 55ms default budget")
	}

	tr.SetBudgets(Budgets{StageRespond: ms(100)}, ms(120))
	st := tr.Record(StageRespond, ms(60))
	if st.Breach || st.Budget != ms(100) {
		t.Errorf("timing after budget swap = %+v, want 100ms budget, no breach", st)
	}
	if got := tr.TotalBudget(); got != ms(120) {
		t.Errorf("TotalBudget = %v, want 120ms", got)
	}

	// The earlier breach stays counted.
	if got := tr.Summarize().Stages[StageRespond].Breaches; got != 1 {
		t.Errorf("breaches = %d, want 1", got)
	}
}

func TestSetBudgets_ZeroValuesSelectDefaults(t *testing.T) {
	t.Parallel()

	tr := NewTracker(Config{Budgets: Budgets{}, TotalBudget: ms(10)})
	tr.SetBudgets(nil, 0)
	if got := tr.Budget(StageRespond); got != ms(55) {
		t.Errorf("respond budget = %v, want 55ms default", got)
	}
	if got := tr.TotalBudget(); got != DefaultTotalBudget {
		t.Errorf("TotalBudget = %v, want default", got)
	}
}

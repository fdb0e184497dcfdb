// Package telemetry exports the pipeline's stage-timing records to external
// monitoring and CI ingestion.
//
// Records are produced by the latency tracker as an append-only log; an
// [Exporter] consumes drained batches as a flat record list. The built-in
// exporters write JSON Lines to an io.Writer and rows to PostgreSQL (see
// the postgres subpackage). A [Flusher] drains trackers on a fixed interval
// in the background.
package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/glintlabs/glint/internal/latency"
)

// defaultFlushInterval is the default period between flush ticks.
const defaultFlushInterval = 5 * time.Second

// Exporter delivers one batch of stage-timing records. Implementations must
// tolerate empty batches and respect context cancellation. A failed export
// drops the batch — stage timings are advisory data, never worth blocking
// the pipeline for.
type Exporter interface {
	Export(ctx context.Context, sessionID string, records []latency.StageTiming) error
	Close() error
}

// Compile-time check.
var _ Exporter = (*JSONLExporter)(nil)

// record is the flat JSONL row shape.
type record struct {
	SessionID  string  `json:"session_id"`
	Stage      string  `json:"stage"`
	DurationMs float64 `json:"duration_ms"`
	BudgetMs   float64 `json:"budget_ms"`
	Breach     bool    `json:"breach"`
	At         string  `json:"at"`
}

// JSONLExporter writes one JSON object per record, newline-delimited.
// Suitable for CI artifact ingestion. Safe for concurrent use.
type JSONLExporter struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewJSONLExporter creates a JSONLExporter writing to w.
func NewJSONLExporter(w io.Writer) *JSONLExporter {
	return &JSONLExporter{enc: json.NewEncoder(w)}
}

// Export writes each record as one JSON line.
func (e *JSONLExporter) Export(ctx context.Context, sessionID string, records []latency.StageTiming) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for _, st := range records {
		r := record{
			SessionID:  sessionID,
			Stage:      string(st.Stage),
			DurationMs: float64(st.Duration) / float64(time.Millisecond),
			BudgetMs:   float64(st.Budget) / float64(time.Millisecond),
			Breach:     st.Breach,
			At:         st.At.UTC().Format(time.RFC3339Nano),
		}
		if err := e.enc.Encode(r); err != nil {
			return fmt.Errorf("telemetry: encode record: %w", err)
		}
	}
	return nil
}

// Close is a no-op; the underlying writer is owned by the caller.
func (e *JSONLExporter) Close() error { return nil }

// DrainFunc returns the undelivered records for one flush tick, keyed by
// session ID. The session manager supplies one that drains every live
// tracker.
type DrainFunc func() map[string][]latency.StageTiming

// Flusher periodically drains stage timings and hands them to an exporter.
// All methods are safe for concurrent use.
type Flusher struct {
	exporter Exporter
	drain    DrainFunc
	interval time.Duration

	done     chan struct{}
	stopOnce sync.Once
}

// NewFlusher creates a Flusher. interval ≤ 0 defaults to 5 seconds.
func NewFlusher(exporter Exporter, drain DrainFunc, interval time.Duration) *Flusher {
	if interval <= 0 {
		interval = defaultFlushInterval
	}
	return &Flusher{
		exporter: exporter,
		drain:    drain,
		interval: interval,
		done:     make(chan struct{}),
	}
}

// Start begins periodic flushing in a background goroutine. The goroutine
// runs until [Flusher.Stop] is called or ctx is cancelled.
func (f *Flusher) Start(ctx context.Context) {
	go f.loop(ctx)
}

// Stop halts the flush loop. Safe to call multiple times.
func (f *Flusher) Stop() {
	f.stopOnce.Do(func() {
		close(f.done)
	})
}

// FlushNow performs an immediate drain-and-export pass.
func (f *Flusher) FlushNow(ctx context.Context) {
	for sessionID, records := range f.drain() {
		if len(records) == 0 {
			continue
		}
		if err := f.exporter.Export(ctx, sessionID, records); err != nil {
			slog.Warn("telemetry: export failed, batch dropped",
				"session_id", sessionID, "records", len(records), "err", err)
		}
	}
}

func (f *Flusher) loop(ctx context.Context) {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			f.FlushNow(ctx)
		case <-f.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

package dispatch

import (
	"context"

	"github.com/glintlabs/glint/internal/resilience"
)

// Compile-time interface check.
var _ Sink = (*BreakerSink)(nil)

// BreakerSink wraps a Sink with a circuit breaker so a dead output bridge
// fails fast instead of stalling the dispatch stage on every cycle. While
// the breaker is open, Deliver returns [resilience.ErrCircuitOpen]
// immediately and the activation is discarded by the orchestrator's normal
// error path.
type BreakerSink struct {
	sink    Sink
	breaker *resilience.CircuitBreaker
}

// NewBreakerSink wraps sink. A zero cfg gets the breaker defaults; cfg.Name
// defaults to "dispatch".
func NewBreakerSink(sink Sink, cfg resilience.CircuitBreakerConfig) *BreakerSink {
	if cfg.Name == "" {
		cfg.Name = "dispatch"
	}
	return &BreakerSink{
		sink:    sink,
		breaker: resilience.NewCircuitBreaker(cfg),
	}
}

// Deliver forwards to the wrapped sink under the breaker.
func (s *BreakerSink) Deliver(ctx context.Context, c Caption) error {
	return s.breaker.Execute(func() error {
		return s.sink.Deliver(ctx, c)
	})
}

// State exposes the breaker state for diagnostics.
func (s *BreakerSink) State() resilience.State {
	return s.breaker.State()
}

// Close closes the wrapped sink.
func (s *BreakerSink) Close() error {
	return s.sink.Close()
}

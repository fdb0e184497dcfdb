// Package dispatch owns the handoff between the pipeline core and the
// glasses output hardware: generated captions leave the core through a
// [Sink].
//
// The payload is opaque to the core — a sink may render it on the display
// overlay, synthesize speech, or forward it to a companion app. Exactly one
// Deliver call is made per activation; sinks do not retry and must not
// deliver twice.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// Channel identifies the output surface a caption targets.
type Channel string

const (
	// ChannelOverlay renders the caption on the display overlay.
	ChannelOverlay Channel = "overlay"

	// ChannelSpeech hands the caption to on-device speech synthesis.
	ChannelSpeech Channel = "speech"
)

// Caption is one generated response payload.
type Caption struct {
	// SessionID identifies the owning session.
	SessionID string `json:"session_id"`

	// ActivationID identifies the activation this caption answers. At most
	// one caption is ever dispatched per activation ID.
	ActivationID uuid.UUID `json:"activation_id"`

	// Text is the rendered caption.
	Text string `json:"text"`

	// Alpha is the fused blend weight that shaped the narrative.
	Alpha float64 `json:"alpha"`

	// Channel selects the output surface.
	Channel Channel `json:"channel"`

	// At is the generation timestamp.
	At time.Time `json:"at"`
}

// Sink delivers captions to an output surface. Implementations must respect
// context cancellation; a failed delivery is surfaced to the orchestrator,
// never retried by the sink itself.
type Sink interface {
	Deliver(ctx context.Context, c Caption) error
	Close() error
}

// Compile-time interface checks.
var (
	_ Sink = (*LogSink)(nil)
	_ Sink = (*WSSink)(nil)
)

// LogSink writes captions to the structured log. Used headless and as the
// fallback when no display bridge is configured.
type LogSink struct{}

// Deliver logs the caption at info level.
func (LogSink) Deliver(ctx context.Context, c Caption) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	slog.InfoContext(ctx, "caption dispatched",
		"session_id", c.SessionID,
		"activation_id", c.ActivationID,
		"channel", c.Channel,
		"alpha", c.Alpha,
		"text", c.Text,
	)
	return nil
}

// Close is a no-op.
func (LogSink) Close() error { return nil }

// WSSink streams caption payloads as JSON text messages over a websocket to
// the glasses display bridge. The connection is dialled lazily on first
// Deliver and redialled after failures.
type WSSink struct {
	url string

	mu   sync.Mutex
	conn *websocket.Conn
}

// NewWSSink creates a sink targeting the bridge at url
// (e.g. "ws://127.0.0.1:8791/captions").
func NewWSSink(url string) (*WSSink, error) {
	if url == "" {
		return nil, fmt.Errorf("dispatch: websocket sink url is required")
	}
	return &WSSink{url: url}, nil
}

// Deliver marshals the caption and writes it as one text message. On write
// failure the connection is discarded so the next Deliver redials; the
// error is returned to the caller either way.
func (s *WSSink) Deliver(ctx context.Context, c Caption) error {
	payload, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("dispatch: marshal caption: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		conn, _, err := websocket.Dial(ctx, s.url, nil)
		if err != nil {
			return fmt.Errorf("dispatch: dial %s: %w", s.url, err)
		}
		s.conn = conn
	}

	if err := s.conn.Write(ctx, websocket.MessageText, payload); err != nil {
		s.conn.Close(websocket.StatusInternalError, "write failed")
		s.conn = nil
		return fmt.Errorf("dispatch: write caption: %w", err)
	}
	return nil
}

// Close closes the underlying connection if one is open.
func (s *WSSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return nil
	}
	err := s.conn.Close(websocket.StatusNormalClosure, "sink closed")
	s.conn = nil
	return err
}

package pipeline

import (
	"fmt"
	"strings"

	"github.com/glintlabs/glint/internal/interaction"
)

// Blend-weight bands for caption framing. Between the two bands neither
// modality dominates and the caption reports both signals evenly.
const (
	visionLedAlpha = 0.6
	audioLedAlpha  = 0.4
)

// composeCaption renders the response text for one activation. The fused
// blend weight biases which modality leads the narrative; the policy
// payload, when present, is appended verbatim.
func composeCaption(snap interaction.Snapshot, payload string) string {
	var b strings.Builder

	switch {
	case snap.Alpha >= visionLedAlpha:
		fmt.Fprintf(&b, "Scene update: salient visual change (salience %.2f)", snap.LastObs.Salience)
		if snap.LastObs.SpeechRatio > 0 {
			fmt.Fprintf(&b, ", speech activity %.2f", snap.LastObs.SpeechRatio)
		}
	case snap.Alpha <= audioLedAlpha:
		fmt.Fprintf(&b, "Heard you: speech activity %.2f", snap.LastObs.SpeechRatio)
		if snap.LastObs.Salience > 0 {
			fmt.Fprintf(&b, ", scene salience %.2f", snap.LastObs.Salience)
		}
	default:
		fmt.Fprintf(&b, "Listening and watching: speech %.2f, salience %.2f",
			snap.LastObs.SpeechRatio, snap.LastObs.Salience)
	}

	if payload != "" {
		b.WriteString(" — ")
		b.WriteString(payload)
	}
	return b.String()
}

// Package models defines the event structures emitted by the caption pipeline.
package models

// Event kinds.
const (
	KindPartial = "partial"
	KindFinal   = "final"
	KindMetrics = "metrics"
	KindError   = "error"
)

// Event is one entry on the pipeline's ordered output stream.
//
// Every event carries the tick that originated it. Partial events are purely
// advisory and may be superseded regardless of arrival order; final events
// are emitted strictly in tick order. A final event for a segment may be
// followed by a second final event for the same segment once its translation
// arrives - consumers must treat the translation as a refinement, not assume
// it is synchronous with the transcript.
type Event struct {
	Kind        string `json:"kind"`
	SessionID   string `json:"sessionId"`
	Tick        uint64 `json:"tick"`
	Timestamp   int64  `json:"timestamp"`
	SegmentID   string `json:"segmentId,omitempty"`
	Transcript  string `json:"transcript,omitempty"`
	Translation string `json:"translation,omitempty"`
	IsStable    bool   `json:"isStable"`

	// Metrics payload, present on KindMetrics events.
	ConsecutiveFailures int     `json:"consecutiveFailures,omitempty"`
	EngineLatencyMs     float64 `json:"engineLatencyMs,omitempty"`

	// Error description, present on KindMetrics (transient) and KindError
	// (terminal) events.
	Error string `json:"error,omitempty"`
}

// Package segment defines finalized transcript segments and their ID
// generation.
package segment

import (
	"fmt"
	"sync/atomic"
)

// Segment is one finalized, immutable unit of committed transcript text.
// Segments are append-only; the sequence of segments plus the current live
// suffix reconstructs the full transcript.
type Segment struct {
	ID              string `json:"id"`
	Text            string `json:"text"`
	FinalizedAtTick uint64 `json:"finalizedAtTick"`
}

// Generator produces session-scoped segment IDs. Thread-safe.
type Generator struct {
	counter uint64
}

// New creates a segment ID generator.
func New() *Generator {
	return &Generator{}
}

// Next returns the next segment ID for the session.
func (g *Generator) Next(sessionID string) string {
	n := atomic.AddUint64(&g.counter, 1)
	return fmt.Sprintf("%s-seg-%d", sessionID, n)
}

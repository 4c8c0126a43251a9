// Package pipeline implements the realtime windowed transcription and
// translation pipeline: the tick-driven transcription loop, the event
// emitter state machine, and session lifecycle.
package pipeline

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"realtime-caption-service/internal/models"
)

// Phase represents the pipeline's position in its processing cycle.
type Phase int

const (
	// PhaseIdle - before the first audio frame arrives.
	PhaseIdle Phase = iota
	// PhaseListening - audio is buffering, waiting for the next tick.
	PhaseListening
	// PhaseTranscribing - an engine call is in flight.
	PhaseTranscribing
	// PhaseStabilizing - the candidate transcript is being reconciled.
	PhaseStabilizing
	// PhaseTranslating - a promoted segment was handed to the scheduler.
	PhaseTranslating
	// PhaseEmitting - events are being published for this tick.
	PhaseEmitting
	// PhaseClosed - terminal; no further events are produced.
	PhaseClosed
)

// String returns the string representation of the phase.
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "IDLE"
	case PhaseListening:
		return "LISTENING"
	case PhaseTranscribing:
		return "TRANSCRIBING"
	case PhaseStabilizing:
		return "STABILIZING"
	case PhaseTranslating:
		return "TRANSLATING"
	case PhaseEmitting:
		return "EMITTING"
	case PhaseClosed:
		return "CLOSED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(p))
	}
}

// IsTerminal returns true for the closed phase.
func (p Phase) IsTerminal() bool {
	return p == PhaseClosed
}

// Errors for invalid emitter operations.
var (
	ErrEmitterClosed      = errors.New("emitter is closed")
	ErrInvalidTransition  = errors.New("invalid phase transition")
	ErrFinalTickRegressed = errors.New("final event tick regressed")
)

// allowedTransitions encodes the processing cycle:
//
//	Idle → Listening → {Transcribing ⇄ Stabilizing} → Translating → Emitting → Listening
//
// Closed is reachable from every phase and terminal. The machine only
// sequences event emission; transcript state lives in the stabilizer.
var allowedTransitions = map[Phase][]Phase{
	PhaseIdle:         {PhaseListening},
	PhaseListening:    {PhaseTranscribing},
	PhaseTranscribing: {PhaseStabilizing, PhaseListening},
	PhaseStabilizing:  {PhaseTranscribing, PhaseTranslating, PhaseEmitting, PhaseListening},
	PhaseTranslating:  {PhaseEmitting},
	PhaseEmitting:     {PhaseListening},
}

// Emitter assembles events into an ordered, cancellable output stream.
//
// Ordering contract: every event is stamped with its originating tick.
// Transcript final events are emitted strictly in tick order (they all come
// from the single tick loop). Translation refinements complete out of order
// internally and are emitted on arrival carrying the tick of the segment they
// refine; consumers resequence by the Tick field and treat partial events as
// purely advisory.
type Emitter struct {
	mu            sync.Mutex
	phase         Phase
	sessionID     string
	out           chan models.Event
	done          chan struct{}
	doneOnce      sync.Once
	closeOnce     sync.Once
	lastFinalTick uint64
}

// NewEmitter creates an emitter with the given output buffer size.
func NewEmitter(sessionID string, buffer int) *Emitter {
	if buffer <= 0 {
		buffer = 1
	}
	return &Emitter{
		phase:     PhaseIdle,
		sessionID: sessionID,
		out:       make(chan models.Event, buffer),
		done:      make(chan struct{}),
	}
}

// Events returns the output stream. It is closed after the terminal event.
func (e *Emitter) Events() <-chan models.Event {
	return e.out
}

// Phase returns the current phase.
func (e *Emitter) Phase() Phase {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.phase
}

// Transition moves the machine to the next phase, validating the edge.
func (e *Emitter) Transition(to Phase) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.phase == PhaseClosed {
		return ErrEmitterClosed
	}
	if to == PhaseClosed {
		// Handled by Close; accept for symmetry.
		e.phase = PhaseClosed
		return nil
	}
	for _, next := range allowedTransitions[e.phase] {
		if next == to {
			e.phase = to
			return nil
		}
	}
	return fmt.Errorf("%w: %v -> %v", ErrInvalidTransition, e.phase, to)
}

// Abort unblocks every pending and future send without closing the stream.
// Called at the start of shutdown so a consumer that stopped reading cannot
// pin the producing goroutine; Close still completes the stream afterwards.
func (e *Emitter) Abort() {
	e.doneOnce.Do(func() { close(e.done) })
}

// send delivers ev, preferring delivery over the abort signal so buffered
// capacity is still used during shutdown. Blocks only while the buffer is
// full and the emitter has not been aborted or closed.
func (e *Emitter) send(ev models.Event) error {
	select {
	case e.out <- ev:
		return nil
	default:
	}
	select {
	case e.out <- ev:
		return nil
	case <-e.done:
		return ErrEmitterClosed
	}
}

// Emit publishes an advisory event (partial, metrics, or a translation
// refinement). Returns ErrEmitterClosed once the stream has been closed.
func (e *Emitter) Emit(ev models.Event) error {
	ev.SessionID = e.sessionID
	ev.Timestamp = time.Now().UnixMilli()

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.phase == PhaseClosed {
		return ErrEmitterClosed
	}
	return e.send(ev)
}

// EmitFinal publishes a transcript final event, enforcing strict tick order.
func (e *Emitter) EmitFinal(ev models.Event) error {
	ev.SessionID = e.sessionID
	ev.Timestamp = time.Now().UnixMilli()
	ev.Kind = models.KindFinal
	ev.IsStable = true

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.phase == PhaseClosed {
		return ErrEmitterClosed
	}
	if ev.Tick < e.lastFinalTick {
		return fmt.Errorf("%w: %d after %d", ErrFinalTickRegressed, ev.Tick, e.lastFinalTick)
	}
	e.lastFinalTick = ev.Tick

	return e.send(ev)
}

// Close flushes an optional terminal event and completes the stream.
// Idempotent. After Close no further events are produced.
func (e *Emitter) Close(terminal *models.Event) {
	e.closeOnce.Do(func() {
		// Unblock any sender stuck on a slow consumer before taking the
		// lock; senders hold the lock while blocked on the channel.
		e.doneOnce.Do(func() { close(e.done) })

		e.mu.Lock()
		defer e.mu.Unlock()
		e.phase = PhaseClosed

		if terminal != nil {
			ev := *terminal
			ev.SessionID = e.sessionID
			ev.Timestamp = time.Now().UnixMilli()
			select {
			case e.out <- ev:
			case <-time.After(500 * time.Millisecond):
				// Consumer stopped reading; the closed channel still
				// signals termination.
			}
		}
		close(e.out)
	})
}

package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"realtime-caption-service/internal/audio"
	"realtime-caption-service/internal/config"
	"realtime-caption-service/internal/models"
	"realtime-caption-service/internal/observability/metrics"
	"realtime-caption-service/internal/service/segment"
	"realtime-caption-service/internal/service/stabilizer"
	"realtime-caption-service/internal/service/stt"
	"realtime-caption-service/internal/service/translation"
	"realtime-caption-service/internal/vad"
)

// Pipeline runs one caption session: it buffers incoming audio into the
// sliding window, re-transcribes the whole window on a fixed cadence,
// reconciles each candidate through the stabilizer, schedules translations
// for promoted segments, and emits ordered events.
//
// A slow engine call simply spans several ticker periods; the ticker's
// one-slot channel collapses the missed fires so at most one tick is ever
// pending. Ticks are skipped, never queued.
type Pipeline struct {
	cfg       *config.Configuration
	sessionID string
	log       zerolog.Logger
	metrics   *metrics.Metrics

	window  *audio.Window
	gate    *vad.Gate
	engine  stt.Engine
	stab    *stabilizer.Stabilizer
	sched   *translation.Scheduler
	emitter *Emitter

	tick         uint64
	consecutive  int
	startedAt    time.Time
	vadTailCount int

	startOnce sync.Once
	stopOnce  sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
}

// New wires a pipeline session from validated configuration. The engine and
// translator are injected so sessions share one engine and tests script both.
func New(
	sessionID string,
	cfg *config.Configuration,
	engine stt.Engine,
	translator translation.Translator,
	m *metrics.Metrics,
	log zerolog.Logger,
) *Pipeline {
	p := &Pipeline{
		cfg:          cfg,
		sessionID:    sessionID,
		log:          log.With().Str("session_id", sessionID).Logger(),
		metrics:      m,
		window:       audio.NewWindow(cfg.Pipeline.WindowCapacity(), cfg.Pipeline.SampleRateHz),
		engine:       engine,
		stab:         stabilizer.New(cfg.Pipeline.StabilityStreak, sessionID, segment.New()),
		emitter:      NewEmitter(sessionID, cfg.Pipeline.EventBufferSize),
		vadTailCount: int(cfg.Pipeline.VADTail().Seconds() * float64(cfg.Pipeline.SampleRateHz)),
		done:         make(chan struct{}),
	}
	if cfg.Pipeline.EnableVAD {
		p.gate = vad.NewGate(cfg.Pipeline.VADHold())
	}
	p.sched = translation.NewScheduler(
		translator,
		translation.Options{
			Source:         cfg.STT.SourceLanguage,
			Target:         cfg.Translation.TargetLanguage,
			Debounce:       cfg.Translation.Debounce(),
			MinSuffixDelta: cfg.Translation.MinSuffixDelta,
		},
		m,
		p.log,
		p.onSegmentTranslated,
		p.onSuffixTranslated,
	)
	return p
}

// Events returns the session's ordered event stream. The channel is closed
// after the terminal event; consumers see either normal flow or a terminal
// error event followed by closure, never a silently hung stream.
func (p *Pipeline) Events() <-chan models.Event {
	return p.emitter.Events()
}

// PushFrame appends decoded samples to the sliding window. Safe to call
// concurrently with the tick loop; frames pushed after Stop are dropped.
func (p *Pipeline) PushFrame(samples []float32) {
	if len(samples) == 0 || p.emitter.Phase() == PhaseClosed {
		return
	}
	if p.emitter.Phase() == PhaseIdle {
		// First audio for the session.
		_ = p.emitter.Transition(PhaseListening)
	}
	p.window.Push(samples)
	p.metrics.AudioSamplesIngested.Add(float64(len(samples)))
}

// Start launches the tick loop. Subsequent calls are no-ops.
func (p *Pipeline) Start(ctx context.Context) {
	p.startOnce.Do(func() {
		ctx, p.cancel = context.WithCancel(ctx)
		p.startedAt = time.Now()
		p.metrics.SessionsTotal.Inc()
		p.metrics.SessionsActive.Inc()
		go p.run(ctx)
	})
}

// Stop ends the session: the tick loop drains, translation workers are
// joined within the shutdown timeout, and the event stream closes.
func (p *Pipeline) Stop() {
	p.stopOnce.Do(func() {
		if p.cancel != nil {
			p.cancel()
		}
		// The run goroutine may be blocked handing an event to a consumer
		// that stopped reading; abort sends so it can reach finish.
		p.emitter.Abort()
		select {
		case <-p.done:
		case <-time.After(p.cfg.Pipeline.ShutdownTimeout):
			p.log.Warn().Msg("pipeline did not drain before shutdown deadline")
		}
	})
}

func (p *Pipeline) run(ctx context.Context) {
	defer close(p.done)
	defer p.metrics.SessionsActive.Dec()
	defer func() {
		p.metrics.SessionDuration.Observe(time.Since(p.startedAt).Seconds())
	}()

	ticker := time.NewTicker(p.cfg.Pipeline.Step())
	defer ticker.Stop()

	var deadline <-chan time.Time
	if p.cfg.Pipeline.MaxDuration > 0 {
		t := time.NewTimer(p.cfg.Pipeline.MaxDuration)
		defer t.Stop()
		deadline = t.C
	}

	for {
		select {
		case <-ctx.Done():
			p.finish(nil)
			return
		case <-deadline:
			p.log.Info().Dur("max_duration", p.cfg.Pipeline.MaxDuration).
				Msg("session reached maximum duration")
			p.finish(nil)
			return
		case <-ticker.C:
			if err := p.runTick(ctx); err != nil {
				p.finish(err)
				return
			}
		}
	}
}

// runTick executes one transcription cycle. A non-nil return is a fatal
// session error; transient failures are absorbed here.
func (p *Pipeline) runTick(ctx context.Context) error {
	p.tick++
	p.metrics.TicksTotal.Inc()

	snapshot := p.window.Snapshot()
	p.metrics.WindowFill.Set(float64(len(snapshot)))
	if len(snapshot) == 0 {
		p.metrics.TicksSkipped.Inc()
		return nil
	}

	if p.emitter.Phase() == PhaseListening {
		_ = p.emitter.Transition(PhaseTranscribing)
	}

	start := time.Now()
	candidate, err := p.engine.Transcribe(ctx, snapshot, p.window.SampleRate(), p.cfg.STT.SourceLanguage)
	elapsed := time.Since(start)
	p.metrics.EngineLatency.Observe(elapsed.Seconds())

	if err != nil {
		return p.handleEngineError(ctx, err, elapsed)
	}
	p.consecutive = 0

	_ = p.emitter.Transition(PhaseStabilizing)
	res := p.stab.Feed(candidate, p.tick)

	promoted := false
	if res.Promoted != nil {
		p.promote(res.Promoted, res.Trigger)
		promoted = true
	}

	// The gate taps the freshest audio each tick; a sustained-silence
	// boundary force-promotes whatever suffix survived the feed.
	if p.gate != nil {
		class := p.gate.Classify(p.window.Tail(p.vadTailCount))
		if p.gate.Observe(class, time.Now()) {
			p.metrics.VADBoundaries.Inc()
			if seg, ok := p.stab.ForceBoundary(p.tick); ok {
				p.promote(seg, "vad")
				promoted = true
			}
		}
	}

	// A promotion supersedes the partial for this tick; the suffix it
	// described was just committed.
	if !promoted && res.SuffixChanged {
		_ = p.emitter.Transition(PhaseEmitting)
		suffix := res.State.LiveSuffix
		if err := p.emitter.Emit(models.Event{
			Kind:       models.KindPartial,
			Tick:       p.tick,
			Transcript: suffix,
		}); err == nil {
			p.metrics.PartialsEmitted.Inc()
		}
		p.sched.OnLiveSuffixChanged(suffix, p.tick)
	}

	if ph := p.emitter.Phase(); ph != PhaseClosed && ph != PhaseListening {
		if ph != PhaseEmitting {
			_ = p.emitter.Transition(PhaseEmitting)
		}
		_ = p.emitter.Transition(PhaseListening)
	}
	return nil
}

// promote publishes the transcript final immediately and hands the segment to
// the translation scheduler; the translated refinement arrives later carrying
// the same tick.
func (p *Pipeline) promote(seg *segment.Segment, trigger string) {
	p.metrics.SegmentsPromoted.WithLabelValues(trigger).Inc()
	p.log.Debug().
		Str("segment_id", seg.ID).
		Str("trigger", trigger).
		Uint64("tick", seg.FinalizedAtTick).
		Msg("segment promoted")

	_ = p.emitter.EmitFinal(models.Event{
		Tick:       seg.FinalizedAtTick,
		SegmentID:  seg.ID,
		Transcript: seg.Text,
	})

	if p.emitter.Phase() != PhaseClosed {
		_ = p.emitter.Transition(PhaseTranslating)
	}
	p.sched.OnSegmentFinalized(*seg)
}

// handleEngineError absorbs transient failures until the consecutive limit
// is hit, then escalates. Fatal engine errors end the session immediately.
func (p *Pipeline) handleEngineError(ctx context.Context, err error, elapsed time.Duration) error {
	if ctx.Err() != nil {
		// Shutdown in progress; the loop exits on the next select.
		return nil
	}
	if stt.IsFatal(err) {
		return fmt.Errorf("transcription engine: %w", err)
	}

	p.consecutive++
	p.metrics.TickFailures.Inc()
	p.log.Warn().Err(err).
		Int("consecutive_failures", p.consecutive).
		Uint64("tick", p.tick).
		Msg("transient transcription failure, window preserved")

	_ = p.emitter.Emit(models.Event{
		Kind:                models.KindMetrics,
		Tick:                p.tick,
		ConsecutiveFailures: p.consecutive,
		EngineLatencyMs:     float64(elapsed.Milliseconds()),
		Error:               err.Error(),
	})

	if p.consecutive >= p.cfg.Pipeline.MaxFailures {
		p.metrics.FatalEscalation.Inc()
		return fmt.Errorf("%d consecutive transcription failures: %w", p.consecutive, err)
	}
	return nil
}

// finish flushes any remaining live suffix as a final segment, stops the
// translation workers, and closes the stream. A non-nil err produces a
// terminal error event before closure.
func (p *Pipeline) finish(err error) {
	if err == nil {
		if seg, ok := p.stab.ForceBoundary(p.tick); ok {
			p.promote(seg, "flush")
		}
	}

	p.sched.Stop(p.cfg.Pipeline.ShutdownTimeout)

	if err != nil {
		p.log.Error().Err(err).Msg("session ended with fatal error")
		p.emitter.Close(&models.Event{
			Kind:  models.KindError,
			Tick:  p.tick,
			Error: err.Error(),
		})
		return
	}
	p.log.Info().Uint64("ticks", p.tick).Msg("session closed")
	p.emitter.Close(nil)
}

// onSegmentTranslated delivers a translated segment as a final refinement.
// Refinements complete out of tick order; the event carries the tick of the
// segment it refines and consumers resequence by it, so this bypasses the
// strict ordering check that transcript finals go through.
func (p *Pipeline) onSegmentTranslated(res translation.SegmentResult) {
	if res.Err != nil {
		// The segment already reached the consumer as a transcript-only
		// final; a failed translation never blocks it.
		p.log.Warn().Err(res.Err).
			Str("segment_id", res.Segment.ID).
			Msg("segment translation failed")
		return
	}
	if res.Translation == "" {
		// No translation backend configured; the transcript-only final
		// already said everything this event would.
		return
	}
	_ = p.emitter.Emit(models.Event{
		Kind:        models.KindFinal,
		Tick:        res.Segment.FinalizedAtTick,
		SegmentID:   res.Segment.ID,
		Transcript:  res.Segment.Text,
		Translation: res.Translation,
		IsStable:    true,
	})
}

// onSuffixTranslated delivers a best-effort translation of the live suffix.
func (p *Pipeline) onSuffixTranslated(res translation.SuffixResult) {
	if res.Err != nil {
		p.log.Debug().Err(res.Err).Msg("live suffix translation failed")
		return
	}
	if res.Translation == "" {
		return
	}
	_ = p.emitter.Emit(models.Event{
		Kind:        models.KindPartial,
		Tick:        res.Tick,
		Transcript:  res.Suffix,
		Translation: res.Translation,
	})
}

// Committed returns the immutable transcript committed so far. Intended for
// inspection after the event stream has closed.
func (p *Pipeline) Committed() string {
	return p.stab.State().Committed
}

package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"realtime-caption-service/internal/config"
	"realtime-caption-service/internal/models"
	"realtime-caption-service/internal/observability/metrics"
	"realtime-caption-service/internal/service/stt"
	"realtime-caption-service/internal/service/stt/mock"
)

// echoTranslator marks the target language so tests can tell a translation
// apart from the transcript without a real backend.
type echoTranslator struct{}

func (echoTranslator) Translate(_ context.Context, text, _, target string) (string, error) {
	return "(" + target + ") " + text, nil
}

func testConfig() *config.Configuration {
	return &config.Configuration{
		Pipeline: config.PipelineConfig{
			SampleRateHz:    16000,
			WindowSeconds:   15,
			StepMs:          10,
			StabilityStreak: 3,
			EnableVAD:       false,
			VADTailMs:       400,
			VADHoldMs:       800,
			MaxFailures:     3,
			MaxDuration:     time.Minute,
			EventBufferSize: 256,
			ShutdownTimeout: 2 * time.Second,
		},
		STT:         config.STTConfig{Engine: "mock", SourceLanguage: "en"},
		Translation: config.TranslationConfig{TargetLanguage: "es", DebounceMs: 0, MinSuffixDelta: 1},
	}
}

func newTestPipeline(t *testing.T, cfg *config.Configuration, engine stt.Engine) *Pipeline {
	t.Helper()
	m := metrics.NewMetrics(prometheus.NewRegistry())
	return New("sess1", cfg, engine, echoTranslator{}, m, zerolog.Nop())
}

// collectUntil reads events until pred matches, the stream closes, or the
// timeout passes. It returns all events read and whether pred matched.
func collectUntil(t *testing.T, ch <-chan models.Event, timeout time.Duration, pred func(models.Event) bool) ([]models.Event, bool) {
	t.Helper()
	var events []models.Event
	deadline := time.After(timeout)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return events, false
			}
			events = append(events, ev)
			if pred != nil && pred(ev) {
				return events, true
			}
		case <-deadline:
			return events, false
		}
	}
}

func drain(ch <-chan models.Event) []models.Event {
	var events []models.Event
	for ev := range ch {
		events = append(events, ev)
	}
	return events
}

func TestPipelineStabilizesAndTranslates(t *testing.T) {
	engine := mock.NewScripted([]string{"hel", "hell", "hello wor", "hello world"})
	p := newTestPipeline(t, testConfig(), engine)

	p.PushFrame(make([]float32, 16000))
	p.Start(context.Background())

	events, ok := collectUntil(t, p.Events(), 3*time.Second, func(ev models.Event) bool {
		return ev.Kind == models.KindFinal && ev.Translation != ""
	})
	if !ok {
		t.Fatalf("no translated final arrived; events: %+v", events)
	}
	p.Stop()
	events = append(events, drain(p.Events())...)

	// Advisory partials for the unstable suffix, in tick order.
	var partials []string
	for _, ev := range events {
		if ev.Kind == models.KindPartial && ev.Translation == "" {
			partials = append(partials, ev.Transcript)
		}
	}
	wantPrefix := []string{"hel", "hell", "hello wor"}
	if len(partials) < len(wantPrefix) {
		t.Fatalf("partials = %v, want at least %v", partials, wantPrefix)
	}
	for i, want := range wantPrefix {
		if partials[i] != want {
			t.Errorf("partial[%d] = %q, want %q", i, partials[i], want)
		}
	}

	// Exactly one transcript final, promoted on the tick where the whole
	// suffix had been extension-stable for the streak threshold.
	var finals []models.Event
	for _, ev := range events {
		if ev.Kind == models.KindFinal && ev.Translation == "" {
			finals = append(finals, ev)
		}
	}
	if len(finals) != 1 {
		t.Fatalf("transcript finals = %+v, want exactly one", finals)
	}
	if finals[0].Transcript != "hello world" {
		t.Errorf("final transcript = %q, want %q", finals[0].Transcript, "hello world")
	}
	if finals[0].Tick != 4 {
		t.Errorf("final tick = %d, want 4", finals[0].Tick)
	}
	if !finals[0].IsStable {
		t.Error("final must be marked stable")
	}

	// The translation refinement carries the same segment and tick.
	var refined *models.Event
	for i := range events {
		if events[i].Kind == models.KindFinal && events[i].Translation != "" {
			refined = &events[i]
			break
		}
	}
	if refined == nil {
		t.Fatal("missing translation refinement")
	}
	if refined.SegmentID != finals[0].SegmentID || refined.Tick != finals[0].Tick {
		t.Errorf("refinement %+v does not match final %+v", refined, finals[0])
	}
	if refined.Translation != "(es) hello world" {
		t.Errorf("translation = %q", refined.Translation)
	}

	if got := p.Committed(); got != "hello world" {
		t.Errorf("committed = %q, want %q", got, "hello world")
	}
}

func TestPipelineEscalatesAfterConsecutiveFailures(t *testing.T) {
	engine := mock.NewScripted([]string{"x"})
	for call := 1; call <= 10; call++ {
		engine.FailAt(call, stt.Transient(errors.New("engine unavailable")))
	}
	p := newTestPipeline(t, testConfig(), engine)

	p.PushFrame(make([]float32, 16000))
	p.Start(context.Background())

	events, _ := collectUntil(t, p.Events(), 3*time.Second, nil)
	if len(events) == 0 {
		t.Fatal("no events before closure")
	}

	last := events[len(events)-1]
	if last.Kind != models.KindError {
		t.Fatalf("last event = %+v, want terminal error", last)
	}
	if !strings.Contains(last.Error, "consecutive") {
		t.Errorf("terminal error = %q, want escalation message", last.Error)
	}

	// Each absorbed failure surfaced as a metrics event with a running count.
	var counts []int
	for _, ev := range events {
		if ev.Kind == models.KindMetrics {
			counts = append(counts, ev.ConsecutiveFailures)
		}
	}
	if len(counts) != 3 || counts[0] != 1 || counts[1] != 2 || counts[2] != 3 {
		t.Errorf("failure counts = %v, want [1 2 3]", counts)
	}
}

func TestPipelineFatalEngineErrorEndsSession(t *testing.T) {
	engine := mock.NewScripted([]string{"x"})
	engine.FailAt(1, stt.Fatal(errors.New("bad credentials")))
	p := newTestPipeline(t, testConfig(), engine)

	p.PushFrame(make([]float32, 16000))
	p.Start(context.Background())

	events, _ := collectUntil(t, p.Events(), 3*time.Second, nil)
	if len(events) != 1 {
		t.Fatalf("events = %+v, want only the terminal error", events)
	}
	if events[0].Kind != models.KindError || !strings.Contains(events[0].Error, "bad credentials") {
		t.Fatalf("terminal event = %+v", events[0])
	}
}

func TestPipelineRecoversAndFlushesOnStop(t *testing.T) {
	engine := mock.NewScripted([]string{"hello"})
	engine.FailAt(1, stt.Transient(errors.New("timeout")))
	engine.FailAt(2, stt.Transient(errors.New("timeout")))
	p := newTestPipeline(t, testConfig(), engine)

	p.PushFrame(make([]float32, 16000))
	p.Start(context.Background())

	events, ok := collectUntil(t, p.Events(), 3*time.Second, func(ev models.Event) bool {
		return ev.Kind == models.KindPartial && ev.Transcript == "hello"
	})
	if !ok {
		t.Fatalf("pipeline did not recover; events: %+v", events)
	}
	p.Stop()
	events = append(events, drain(p.Events())...)

	for _, ev := range events {
		if ev.Kind == models.KindError {
			t.Fatalf("unexpected terminal error after recovery: %+v", ev)
		}
	}

	// Stopping mid-utterance flushes the live suffix as a final segment.
	var flushed bool
	for _, ev := range events {
		if ev.Kind == models.KindFinal && ev.Transcript == "hello" {
			flushed = true
		}
	}
	if !flushed {
		t.Errorf("live suffix was not flushed on stop; events: %+v", events)
	}
	if got := p.Committed(); got != "hello" {
		t.Errorf("committed = %q, want %q", got, "hello")
	}
}

func TestPipelineBackpressureCollapsesTicks(t *testing.T) {
	cfg := testConfig()
	cfg.Pipeline.StepMs = 5

	engine := mock.NewScripted([]string{"slow engine"})
	engine.SetDelay(50 * time.Millisecond)
	p := newTestPipeline(t, cfg, engine)

	p.PushFrame(make([]float32, 16000))
	p.Start(context.Background())

	done := make(chan struct{})
	go func() {
		defer close(done)
		drain(p.Events())
	}()

	time.Sleep(300 * time.Millisecond)
	p.Stop()
	<-done

	// A 50ms engine over a 5ms step must process roughly elapsed/latency
	// ticks, not elapsed/step: missed fires collapse into one pending tick.
	calls := engine.Calls()
	if calls < 2 {
		t.Fatalf("engine calls = %d, pipeline made no progress", calls)
	}
	if calls > 12 {
		t.Fatalf("engine calls = %d, ticks queued up behind the slow engine", calls)
	}
}

func TestPipelineStopWithAbandonedConsumer(t *testing.T) {
	cfg := testConfig()
	cfg.Pipeline.EventBufferSize = 2

	// Every tick grows the suffix, so every tick emits a partial and the
	// tiny buffer fills within a few ticks.
	script := []string{"h", "he", "hel", "hell", "hello", "hello ", "hello w", "hello wo"}
	engine := mock.NewScripted(script)
	p := newTestPipeline(t, cfg, engine)

	p.PushFrame(make([]float32, 16000))
	p.Start(context.Background())

	// The consumer never reads. Give the tick loop time to fill the
	// buffer and block on the next emit.
	time.Sleep(200 * time.Millisecond)

	start := time.Now()
	p.Stop()
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("Stop took %v with an unread consumer", elapsed)
	}

	// The run goroutine must have reached shutdown and closed the stream.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		drain(p.Events())
	}()
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("event stream never closed after Stop")
	}
}

func TestPipelineVADBoundaryPromotes(t *testing.T) {
	cfg := testConfig()
	cfg.Pipeline.EnableVAD = true
	cfg.Pipeline.StabilityStreak = 50 // keep streak promotion out of the way
	cfg.Pipeline.VADHoldMs = 30

	engine := mock.NewScripted([]string{"hello"})
	p := newTestPipeline(t, cfg, engine)

	// All-zero samples classify as silence.
	p.PushFrame(make([]float32, 16000))
	p.Start(context.Background())
	defer p.Stop()

	events, ok := collectUntil(t, p.Events(), 3*time.Second, func(ev models.Event) bool {
		return ev.Kind == models.KindFinal && ev.Translation == ""
	})
	if !ok {
		t.Fatalf("silence boundary did not promote; events: %+v", events)
	}
	final := events[len(events)-1]
	if final.Transcript != "hello" {
		t.Errorf("final transcript = %q, want %q", final.Transcript, "hello")
	}
}

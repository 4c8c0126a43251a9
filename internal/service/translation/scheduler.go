package translation

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"realtime-caption-service/internal/observability/metrics"
	"realtime-caption-service/internal/service/segment"
)

// SegmentResult delivers a finished segment translation back to the pipeline.
// Err is set when the call failed; the transcript remains valuable without a
// translation, so failures are isolated per segment.
type SegmentResult struct {
	Segment     segment.Segment
	Translation string
	Err         error
}

// SuffixResult delivers a live-suffix translation.
type SuffixResult struct {
	Suffix      string
	Translation string
	Tick        uint64
	Err         error
}

// Options tunes the scheduler.
type Options struct {
	Source         string
	Target         string
	Debounce       time.Duration
	MinSuffixDelta int
}

// Scheduler translates finalized segments (cached, coalesced) and the live
// suffix (debounced). Translation calls run independently of the tick loop as
// tracked goroutines; Stop joins them.
type Scheduler struct {
	translator Translator
	opts       Options
	metrics    *metrics.Metrics
	log        zerolog.Logger

	onSegment func(SegmentResult)
	onSuffix  func(SuffixResult)

	mu           sync.Mutex
	cache        map[string]string // (text, target) -> translation; append-only per session
	lastSuffixAt time.Time
	lastSuffix   string

	flight singleflight.Group
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// NewScheduler creates a scheduler delivering results through the callbacks.
// Callbacks are invoked from worker goroutines and must be safe for that.
func NewScheduler(
	translator Translator,
	opts Options,
	m *metrics.Metrics,
	log zerolog.Logger,
	onSegment func(SegmentResult),
	onSuffix func(SuffixResult),
) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		translator: translator,
		opts:       opts,
		metrics:    m,
		log:        log,
		onSegment:  onSegment,
		onSuffix:   onSuffix,
		cache:      make(map[string]string),
		ctx:        ctx,
		cancel:     cancel,
	}
}

func cacheKey(text, target string) string {
	return text + "\x00" + target
}

// OnSegmentFinalized schedules translation of a newly committed segment.
// Finalized text never changes, so cache entries never go stale.
func (s *Scheduler) OnSegmentFinalized(seg segment.Segment) {
	key := cacheKey(seg.Text, s.opts.Target)

	s.mu.Lock()
	cached, hit := s.cache[key]
	s.mu.Unlock()

	if hit {
		s.metrics.TranslationCacheHits.Inc()
		s.onSegment(SegmentResult{Segment: seg, Translation: cached})
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		translated, err := s.translate(key, seg.Text)
		if err != nil {
			s.log.Warn().Err(err).Str("segmentId", seg.ID).Msg("segment translation failed")
			s.metrics.TranslationErrors.Inc()
			s.onSegment(SegmentResult{Segment: seg, Err: err})
			return
		}

		s.mu.Lock()
		s.cache[key] = translated
		s.mu.Unlock()

		s.onSegment(SegmentResult{Segment: seg, Translation: translated})
	}()
}

// OnLiveSuffixChanged schedules a debounced translation of the volatile live
// suffix: at most one call per debounce interval, and only when the suffix
// differs non-trivially from the last one translated.
func (s *Scheduler) OnLiveSuffixChanged(suffix string, tick uint64) {
	s.mu.Lock()
	now := time.Now()
	if now.Sub(s.lastSuffixAt) < s.opts.Debounce || !s.nonTrivialChangeLocked(suffix) {
		s.mu.Unlock()
		s.metrics.TranslationDebounced.Inc()
		return
	}
	s.lastSuffixAt = now
	s.lastSuffix = suffix
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		translated, err := s.translate(cacheKey(suffix, s.opts.Target), suffix)
		if err != nil {
			s.log.Debug().Err(err).Msg("live suffix translation failed")
			s.metrics.TranslationErrors.Inc()
			s.onSuffix(SuffixResult{Suffix: suffix, Tick: tick, Err: err})
			return
		}
		s.onSuffix(SuffixResult{Suffix: suffix, Tick: tick, Translation: translated})
	}()
}

// nonTrivialChangeLocked reports whether suffix moved enough past the last
// translated suffix to justify another expensive call.
func (s *Scheduler) nonTrivialChangeLocked(suffix string) bool {
	if suffix == s.lastSuffix {
		return false
	}
	if s.lastSuffix == "" {
		return strings.TrimSpace(suffix) != ""
	}
	grow := len(suffix) - len(s.lastSuffix)
	if grow < 0 {
		grow = -grow
	}
	return grow >= s.opts.MinSuffixDelta || !hasPrefix(suffix, s.lastSuffix)
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

// translate issues the external call, coalescing concurrent requests for the
// same key into a single in-flight call.
func (s *Scheduler) translate(key, text string) (string, error) {
	v, err, _ := s.flight.Do(key, func() (any, error) {
		s.metrics.TranslationCalls.Inc()
		start := time.Now()
		out, err := s.translator.Translate(s.ctx, text, s.opts.Source, s.opts.Target)
		s.metrics.TranslationLatency.Observe(time.Since(start).Seconds())
		return out, err
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Stop cancels in-flight translations and joins the workers, waiting at most
// timeout. Returns false if workers were abandoned at the deadline.
func (s *Scheduler) Stop(timeout time.Duration) bool {
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		s.log.Warn().Msg("translation workers did not finish before shutdown deadline")
		return false
	}
}

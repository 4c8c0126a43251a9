// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "realtime_caption"

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Session metrics
	SessionsTotal   prometheus.Counter
	SessionsActive  prometheus.Gauge
	SessionDuration prometheus.Histogram

	// Tick metrics
	TicksTotal      prometheus.Counter
	TicksSkipped    prometheus.Counter
	TickFailures    prometheus.Counter
	FatalEscalation prometheus.Counter
	EngineLatency   prometheus.Histogram

	// Transcript metrics
	PartialsEmitted  prometheus.Counter
	SegmentsPromoted *prometheus.CounterVec
	VADBoundaries    prometheus.Counter

	// Window metrics
	AudioSamplesIngested prometheus.Counter
	WindowFill           prometheus.Gauge

	// Translation metrics
	TranslationCalls     prometheus.Counter
	TranslationCacheHits prometheus.Counter
	TranslationErrors    prometheus.Counter
	TranslationLatency   prometheus.Histogram
	TranslationDebounced prometheus.Counter

	// Kafka publish metrics
	KafkaPublishTotal   *prometheus.CounterVec
	KafkaPublishErrors  *prometheus.CounterVec
	KafkaPublishLatency *prometheus.HistogramVec
}

// DefaultMetrics is the global metrics instance.
var DefaultMetrics = NewMetrics(prometheus.DefaultRegisterer)

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		SessionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Total number of caption sessions started",
		}),
		SessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of currently active caption sessions",
		}),
		SessionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Duration of completed caption sessions",
			Buckets:   []float64{1, 5, 15, 60, 300, 900, 3600},
		}),
		TicksTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_total",
			Help:      "Total pipeline ticks executed",
		}),
		TicksSkipped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_skipped_total",
			Help:      "Ticks skipped because the window was empty",
		}),
		TickFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tick_failures_total",
			Help:      "Ticks skipped due to transient engine errors",
		}),
		FatalEscalation: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fatal_escalations_total",
			Help:      "Sessions terminated after consecutive engine failures",
		}),
		EngineLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "engine_latency_seconds",
			Help:      "Latency of transcription engine calls",
			Buckets:   prometheus.DefBuckets,
		}),
		PartialsEmitted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "partials_emitted_total",
			Help:      "Advisory partial events emitted",
		}),
		SegmentsPromoted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "segments_promoted_total",
			Help:      "Segments promoted to committed text, by trigger",
		}, []string{"trigger"}), // streak, word, vad, flush
		VADBoundaries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "vad_boundaries_total",
			Help:      "Utterance boundaries detected by the voice activity gate",
		}),
		AudioSamplesIngested: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_samples_ingested_total",
			Help:      "Audio samples pushed into window buffers",
		}),
		WindowFill: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "window_fill_samples",
			Help:      "Samples currently buffered in the most recent window snapshot",
		}),
		TranslationCalls: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "translation_calls_total",
			Help:      "External translation calls issued",
		}),
		TranslationCacheHits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "translation_cache_hits_total",
			Help:      "Translations served from the content-addressed cache",
		}),
		TranslationErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "translation_errors_total",
			Help:      "Failed translation calls (isolated per segment)",
		}),
		TranslationLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "translation_latency_seconds",
			Help:      "Latency of external translation calls",
			Buckets:   prometheus.DefBuckets,
		}),
		TranslationDebounced: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "translation_debounced_total",
			Help:      "Live-suffix translation requests suppressed by the debounce",
		}),
		KafkaPublishTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_total",
			Help:      "Events published to Kafka, by topic and type",
		}, []string{"topic", "eventType"}),
		KafkaPublishErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_errors_total",
			Help:      "Failed Kafka publishes, by topic and type",
		}, []string{"topic", "eventType"}),
		KafkaPublishLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "kafka_publish_latency_seconds",
			Help:      "Latency of Kafka publishes",
			Buckets:   prometheus.DefBuckets,
		}, []string{"topic"}),
	}
}

// RecordKafkaPublish records the outcome of one Kafka publish.
func (m *Metrics) RecordKafkaPublish(topic, eventType string, err error, seconds float64) {
	m.KafkaPublishTotal.WithLabelValues(topic, eventType).Inc()
	m.KafkaPublishLatency.WithLabelValues(topic).Observe(seconds)
	if err != nil {
		m.KafkaPublishErrors.WithLabelValues(topic, eventType).Inc()
	}
}

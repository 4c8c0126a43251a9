// Package events provides the Kafka event sink for pipeline output.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"realtime-caption-service/internal/models"
	"realtime-caption-service/internal/observability/metrics"
)

// Publisher publishes caption events to separate Kafka topics for partial and
// final transcripts. When disabled it degrades to log-only mode so the
// pipeline can run without a broker.
type Publisher struct {
	writerPartial *kafka.Writer
	writerFinal   *kafka.Writer
	principal     string
	topicPartial  string
	topicFinal    string
	enabled       bool
	metrics       *metrics.Metrics
}

// Config holds Kafka publisher configuration.
type Config struct {
	Brokers      []string
	TopicPartial string
	TopicFinal   string
	Principal    string
	Enabled      bool
}

// New creates a new Kafka event publisher.
func New(cfg *Config) *Publisher {
	m := metrics.DefaultMetrics

	if cfg == nil {
		log.Info().Msg("Kafka disabled (nil config), using log-only mode")
		return &Publisher{enabled: false, metrics: m}
	}

	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		log.Info().Msg("Kafka disabled, using log-only mode")
		return &Publisher{
			principal:    cfg.Principal,
			topicPartial: cfg.TopicPartial,
			topicFinal:   cfg.TopicFinal,
			enabled:      false,
			metrics:      m,
		}
	}

	// Longer dial timeout for DNS resolution in Kubernetes.
	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}
	transport := &kafka.Transport{Dial: dialer.DialFunc}

	newWriter := func(topic string) *kafka.Writer {
		return &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			BatchTimeout: 10 * time.Millisecond,
			WriteTimeout: 10 * time.Second,
			RequiredAcks: kafka.RequireOne,
			Transport:    transport,
		}
	}

	log.Info().
		Strs("brokers", cfg.Brokers).
		Str("topicPartial", cfg.TopicPartial).
		Str("topicFinal", cfg.TopicFinal).
		Str("principal", cfg.Principal).
		Msg("Kafka publisher initialized")

	return &Publisher{
		writerPartial: newWriter(cfg.TopicPartial),
		writerFinal:   newWriter(cfg.TopicFinal),
		principal:     cfg.Principal,
		topicPartial:  cfg.TopicPartial,
		topicFinal:    cfg.TopicFinal,
		enabled:       true,
		metrics:       m,
	}
}

// Publish routes an event to the partial or final topic by its kind.
// Metrics and error events ride on the partial topic; final events get their
// own topic so downstream consumers can subscribe to committed text only.
func (p *Publisher) Publish(ctx context.Context, ev models.Event) error {
	if ev.Kind == models.KindFinal {
		return p.publish(ctx, p.writerFinal, p.topicFinal, ev)
	}
	return p.publish(ctx, p.writerPartial, p.topicPartial, ev)
}

func (p *Publisher) publish(ctx context.Context, writer *kafka.Writer, topic string, ev models.Event) error {
	start := time.Now()

	payload, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Str("topic", topic).Msg("Failed to marshal event")
		return err
	}

	log.Debug().
		Str("principal", p.principal).
		Str("topic", topic).
		Str("sessionId", ev.SessionID).
		RawJSON("payload", payload).
		Msg("Publishing event")

	if !p.enabled || writer == nil {
		p.metrics.RecordKafkaPublish(topic, ev.Kind, nil, time.Since(start).Seconds())
		return nil
	}

	msg := kafka.Message{
		Key:   []byte(ev.SessionID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte(ev.Kind)},
			{Key: "principal", Value: []byte(p.principal)},
		},
	}

	if err := writer.WriteMessages(ctx, msg); err != nil {
		log.Error().
			Err(err).
			Str("topic", topic).
			Str("sessionId", ev.SessionID).
			Msg("Failed to write to Kafka")
		p.metrics.RecordKafkaPublish(topic, ev.Kind, err, time.Since(start).Seconds())
		return err
	}

	p.metrics.RecordKafkaPublish(topic, ev.Kind, nil, time.Since(start).Seconds())
	return nil
}

// Close closes both Kafka writers.
func (p *Publisher) Close() error {
	var err error
	if p.writerPartial != nil {
		if e := p.writerPartial.Close(); e != nil {
			log.Error().Err(e).Msg("Error closing partial writer")
			err = e
		}
	}
	if p.writerFinal != nil {
		if e := p.writerFinal.Close(); e != nil {
			log.Error().Err(e).Msg("Error closing final writer")
			err = e
		}
	}
	return err
}

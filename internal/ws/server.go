// Package ws exposes the caption pipeline over a websocket: a JSON start
// message opens a session, binary PCM16 or WAV frames stream audio in, and
// pipeline events stream back out as JSON.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"realtime-caption-service/internal/audio"
	"realtime-caption-service/internal/config"
	"realtime-caption-service/internal/events"
	"realtime-caption-service/internal/observability/metrics"
	"realtime-caption-service/internal/service/pipeline"
	"realtime-caption-service/internal/service/stt"
	"realtime-caption-service/internal/service/translation"
)

const readDeadline = 60 * time.Second

// startMessage opens a session. SampleRate defaults to the pipeline rate;
// other rates are resampled on ingest.
type startMessage struct {
	Type           string `json:"type"`
	SampleRate     int    `json:"sampleRate"`
	SourceLanguage string `json:"sourceLanguage"`
}

type controlAck struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId,omitempty"`
	Detail    string `json:"detail,omitempty"`
}

// Server handles websocket caption sessions. One pipeline per connection; the
// transcription engine is shared across sessions.
type Server struct {
	cfg        *config.Configuration
	engine     stt.Engine
	translator translation.Translator
	publisher  *events.Publisher
	metrics    *metrics.Metrics
	log        zerolog.Logger
	upgrader   websocket.Upgrader
	seq        atomic.Uint64
}

// NewServer wires the websocket ingress.
func NewServer(
	cfg *config.Configuration,
	engine stt.Engine,
	translator translation.Translator,
	publisher *events.Publisher,
	m *metrics.Metrics,
	log zerolog.Logger,
) *Server {
	return &Server{
		cfg:        cfg,
		engine:     engine,
		translator: translator,
		publisher:  publisher,
		metrics:    m,
		log:        log,
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 16 * 1024,
		},
	}
}

// Handle upgrades the connection and runs one caption session until the
// client stops, disconnects, or the pipeline ends the session.
func (s *Server) Handle(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}
	sess := newSession(s, conn)
	defer sess.close()
	sess.run(r.Context())
}

// session is the per-connection state. gorilla connections allow a single
// writer, so every outbound message goes through writeJSON.
type session struct {
	srv  *Server
	conn *websocket.Conn
	log  zerolog.Logger

	writeMu sync.Mutex

	id         string
	sampleRate int
	pipe       *pipeline.Pipeline
	forwarded  sync.WaitGroup
}

func newSession(srv *Server, conn *websocket.Conn) *session {
	return &session{srv: srv, conn: conn, log: srv.log}
}

func (c *session) writeJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(v)
}

func (c *session) run(ctx context.Context) {
	_ = c.conn.SetReadDeadline(time.Now().Add(readDeadline))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(readDeadline))
		return nil
	})

	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Warn().Err(err).Msg("websocket read failed")
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(readDeadline))

		switch msgType {
		case websocket.BinaryMessage:
			if err := c.ingest(data); err != nil {
				_ = c.writeJSON(controlAck{Type: "error", Detail: err.Error()})
			}
		case websocket.TextMessage:
			stop, err := c.control(ctx, data)
			if err != nil {
				_ = c.writeJSON(controlAck{Type: "error", Detail: err.Error()})
				continue
			}
			if stop {
				return
			}
		}
	}
}

func (c *session) control(ctx context.Context, data []byte) (stop bool, err error) {
	var msg startMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return false, fmt.Errorf("invalid control message: %w", err)
	}

	switch msg.Type {
	case "start":
		return false, c.start(ctx, msg)
	case "ping":
		return false, c.writeJSON(controlAck{Type: "pong", SessionID: c.id})
	case "stop":
		_ = c.writeJSON(controlAck{Type: "stopped", SessionID: c.id})
		return true, nil
	default:
		return false, fmt.Errorf("unknown message type %q", msg.Type)
	}
}

func (c *session) start(ctx context.Context, msg startMessage) error {
	if c.pipe != nil {
		return fmt.Errorf("session %s already started", c.id)
	}

	cfg := *c.srv.cfg
	if msg.SourceLanguage != "" {
		cfg.STT.SourceLanguage = msg.SourceLanguage
	}
	c.sampleRate = msg.SampleRate
	if c.sampleRate == 0 {
		c.sampleRate = cfg.Pipeline.SampleRateHz
	}

	c.id = fmt.Sprintf("sess-%d-%d", time.Now().Unix(), c.srv.seq.Add(1))
	c.log = c.srv.log.With().Str("session_id", c.id).Logger()
	c.pipe = pipeline.New(c.id, &cfg, c.srv.engine, c.srv.translator, c.srv.metrics, c.log)
	c.pipe.Start(ctx)

	c.forwarded.Add(1)
	go c.forward()

	c.log.Info().
		Int("sample_rate", c.sampleRate).
		Str("source_language", cfg.STT.SourceLanguage).
		Msg("caption session started")
	return c.writeJSON(controlAck{Type: "started", SessionID: c.id})
}

// forward relays pipeline events to the client and the Kafka sink until the
// stream closes. The closed channel is the session-over signal; the terminal
// event, if any, precedes it.
func (c *session) forward() {
	defer c.forwarded.Done()
	for ev := range c.pipe.Events() {
		if err := c.writeJSON(ev); err != nil {
			c.log.Warn().Err(err).Msg("event write failed, draining session")
		}
		if c.srv.publisher != nil {
			pubCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := c.srv.publisher.Publish(pubCtx, ev); err != nil {
				c.log.Warn().Err(err).Msg("event publish failed")
			}
			cancel()
		}
	}
}

func (c *session) ingest(frame []byte) error {
	if c.pipe == nil {
		return fmt.Errorf("audio before start message")
	}
	var (
		samples []float32
		rate    = c.sampleRate
		err     error
	)
	if len(frame) >= 12 && string(frame[0:4]) == "RIFF" && string(frame[8:12]) == "WAVE" {
		samples, rate, err = audio.DecodeWAV(frame)
	} else {
		samples, err = audio.DecodePCM16LE(frame)
	}
	if err != nil {
		return fmt.Errorf("decode frame: %w", err)
	}
	if rate != c.srv.cfg.Pipeline.SampleRateHz {
		samples = audio.Resample(samples, rate, c.srv.cfg.Pipeline.SampleRateHz)
	}
	c.pipe.PushFrame(samples)
	return nil
}

func (c *session) close() {
	if c.pipe != nil {
		c.pipe.Stop()
		c.forwarded.Wait()
	}
	_ = c.conn.Close()
}

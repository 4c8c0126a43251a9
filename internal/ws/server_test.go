package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"realtime-caption-service/internal/config"
	"realtime-caption-service/internal/observability/metrics"
	"realtime-caption-service/internal/service/stt/mock"
)

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
			MaxFailures:     3,
			MaxDuration:     time.Minute,
			EventBufferSize: 256,
			ShutdownTimeout: 2 * time.Second,
		},
		STT:         config.STTConfig{Engine: "mock", SourceLanguage: "en"},
		Translation: config.TranslationConfig{TargetLanguage: "es", DebounceMs: 0, MinSuffixDelta: 1},
	}
}

func dialTestServer(t *testing.T, handler http.HandlerFunc) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readJSON(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg map[string]any
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal %q: %v", data, err)
	}
	return msg
}

func TestSessionStreamsCaptionEvents(t *testing.T) {
	engine := mock.NewScripted([]string{"hi", "hi there"})
	srv := NewServer(testConfig(), engine, echoTranslator{}, nil,
		metrics.NewMetrics(prometheus.NewRegistry()), zerolog.Nop())
	conn := dialTestServer(t, srv.Handle)

	if err := conn.WriteJSON(map[string]any{"type": "start", "sampleRate": 16000, "sourceLanguage": "en"}); err != nil {
		t.Fatalf("start: %v", err)
	}
	ack := readJSON(t, conn)
	sessionID, _ := ack["sessionId"].(string)
	if ack["type"] != "started" || sessionID == "" {
		t.Fatalf("start ack = %v", ack)
	}

	// One second of silence as raw PCM16.
	if err := conn.WriteMessage(websocket.BinaryMessage, make([]byte, 32000)); err != nil {
		t.Fatalf("frame: %v", err)
	}

	var sawPartial, sawFinal bool
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) && !sawFinal {
		msg := readJSON(t, conn)
		switch msg["kind"] {
		case "partial":
			sawPartial = true
		case "final":
			sawFinal = true
			if msg["transcript"] != "hi there" {
				t.Errorf("final transcript = %v", msg["transcript"])
			}
			if msg["isStable"] != true {
				t.Errorf("final not marked stable: %v", msg)
			}
		}
	}
	if !sawPartial || !sawFinal {
		t.Fatalf("sawPartial=%v sawFinal=%v", sawPartial, sawFinal)
	}

	if err := conn.WriteJSON(map[string]any{"type": "stop"}); err != nil {
		t.Fatalf("stop: %v", err)
	}
	// Events may still be in flight ahead of the ack.
	for {
		msg := readJSON(t, conn)
		if msg["type"] == "stopped" {
			break
		}
	}
}

func TestSessionRejectsAudioBeforeStart(t *testing.T) {
	srv := NewServer(testConfig(), mock.New(), echoTranslator{}, nil,
		metrics.NewMetrics(prometheus.NewRegistry()), zerolog.Nop())
	conn := dialTestServer(t, srv.Handle)

	if err := conn.WriteMessage(websocket.BinaryMessage, make([]byte, 640)); err != nil {
		t.Fatalf("frame: %v", err)
	}
	msg := readJSON(t, conn)
	if msg["type"] != "error" {
		t.Fatalf("expected error ack, got %v", msg)
	}
	if !strings.Contains(msg["detail"].(string), "before start") {
		t.Errorf("detail = %v", msg["detail"])
	}
}

func TestSessionRejectsDoubleStart(t *testing.T) {
	srv := NewServer(testConfig(), mock.New(), echoTranslator{}, nil,
		metrics.NewMetrics(prometheus.NewRegistry()), zerolog.Nop())
	conn := dialTestServer(t, srv.Handle)

	if err := conn.WriteJSON(map[string]any{"type": "start"}); err != nil {
		t.Fatalf("start: %v", err)
	}
	if msg := readJSON(t, conn); msg["type"] != "started" {
		t.Fatalf("start ack = %v", msg)
	}

	if err := conn.WriteJSON(map[string]any{"type": "start"}); err != nil {
		t.Fatalf("second start: %v", err)
	}
	msg := readJSON(t, conn)
	if msg["type"] != "error" || !strings.Contains(msg["detail"].(string), "already started") {
		t.Fatalf("expected already-started error, got %v", msg)
	}
}

func TestSessionPingPong(t *testing.T) {
	srv := NewServer(testConfig(), mock.New(), echoTranslator{}, nil,
		metrics.NewMetrics(prometheus.NewRegistry()), zerolog.Nop())
	conn := dialTestServer(t, srv.Handle)

	if err := conn.WriteJSON(map[string]any{"type": "ping"}); err != nil {
		t.Fatalf("ping: %v", err)
	}
	if msg := readJSON(t, conn); msg["type"] != "pong" {
		t.Fatalf("expected pong, got %v", msg)
	}
}

//go:build whisper_cpp

// Package whisper provides a local whisper.cpp transcription engine behind
// the whisper_cpp build tag, with a no-cgo stub fallback.
package whisper

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"sync"

	whisperpkg "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
	"github.com/rs/zerolog/log"

	"realtime-caption-service/internal/service/stt"
)

// whisper.cpp expects 16kHz mono input.
const expectedSampleRate = 16000

// maxWindowSamples caps input length; whisper.cpp misbehaves past 30s.
const maxWindowSamples = 30 * expectedSampleRate

// Engine is the whisper.cpp-backed implementation of stt.Engine.
type Engine struct {
	model   whisperpkg.Model
	threads uint
	mu      sync.Mutex // whisper.cpp contexts must not run concurrently
}

// New loads the ggml model at modelPath.
func New(modelPath string) (*Engine, error) {
	m, err := whisperpkg.New(modelPath)
	if err != nil {
		return nil, stt.Fatal(fmt.Errorf("load whisper model %s: %w", modelPath, err))
	}
	threads := uint(runtime.NumCPU())
	log.Info().Str("model", modelPath).Uint("threads", threads).Msg("whisper model loaded")
	return &Engine{model: m, threads: threads}, nil
}

// Transcribe runs a full recompute over the window samples.
func (e *Engine) Transcribe(ctx context.Context, samples []float32, sampleRate int, languageHint string) (string, error) {
	if len(samples) < expectedSampleRate/10 {
		// Under 100ms of audio produces garbage; treat as silence.
		return "", nil
	}
	if sampleRate != expectedSampleRate {
		return "", stt.Fatal(fmt.Errorf("whisper requires %d Hz input, got %d", expectedSampleRate, sampleRate))
	}
	if len(samples) > maxWindowSamples {
		samples = samples[len(samples)-maxWindowSamples:]
	}
	if err := ctx.Err(); err != nil {
		return "", stt.Transient(err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	wctx, err := e.model.NewContext()
	if err != nil {
		return "", stt.Transient(fmt.Errorf("create whisper context: %w", err))
	}
	wctx.SetThreads(e.threads)
	lang := languageHint
	if lang == "" {
		lang = "auto"
	}
	_ = wctx.SetLanguage(lang)
	wctx.SetSplitOnWord(true)

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", stt.Transient(fmt.Errorf("whisper process: %w", err))
	}

	var sb strings.Builder
	for {
		seg, err := wctx.NextSegment()
		if err != nil {
			break
		}
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(text)
	}
	return sb.String(), nil
}

// Close releases the model.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.model != nil {
		e.model.Close()
		e.model = nil
	}
	return nil
}

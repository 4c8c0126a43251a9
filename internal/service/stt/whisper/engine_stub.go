//go:build !whisper_cpp

// Package whisper provides a local whisper.cpp transcription engine behind
// the whisper_cpp build tag, with a no-cgo stub fallback.
package whisper

import (
	"context"
	"errors"

	"realtime-caption-service/internal/service/stt"
)

// Engine is the stub used when the binary is built without the whisper_cpp
// tag. It lets the rest of the service compile and fails fast at runtime.
type Engine struct{}

// New returns the stub engine; modelPath is ignored.
func New(modelPath string) (*Engine, error) {
	return &Engine{}, nil
}

// Transcribe always fails: the binary was built without whisper.cpp support.
func (e *Engine) Transcribe(ctx context.Context, samples []float32, sampleRate int, languageHint string) (string, error) {
	return "", stt.Fatal(errors.New("whisper engine unavailable: built without whisper_cpp tag"))
}

// Close is a no-op.
func (e *Engine) Close() error { return nil }

// Package mock provides a scripted transcription engine for testing and demos
// without a model or cloud credentials. It simulates the recompute-on-window
// behavior of a real engine: each call returns the next candidate transcript
// in its script, noisy tail included.
package mock

import (
	"context"
	"errors"
	"sync"
	"time"

	"realtime-caption-service/internal/service/stt"
)

// DefaultScript simulates a short utterance as a window-recompute engine would
// see it: the prefix firms up while the tail keeps being revised.
var DefaultScript = []string{
	"I want",
	"I want to",
	"I want to can",
	"I want to cancel my sub",
	"I want to cancel my subscription",
	"I want to cancel my subscription",
	"I want to cancel my subscription",
}

// Engine implements stt.Engine with scripted candidates.
type Engine struct {
	mu     sync.Mutex
	script []string
	calls  int
	delay  time.Duration
	failAt map[int]error
	closed bool
}

// New creates a mock engine playing DefaultScript.
func New() *Engine {
	return NewScripted(DefaultScript)
}

// NewScripted creates a mock engine that returns script entries in order.
// After the script is exhausted the last entry repeats, like a stable
// transcript over an unchanging window.
func NewScripted(script []string) *Engine {
	return &Engine{
		script: script,
		failAt: make(map[int]error),
	}
}

// SetDelay makes every Transcribe call block for d, simulating inference
// latency. Used by backpressure tests.
func (e *Engine) SetDelay(d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.delay = d
}

// FailAt makes the n-th call (1-based) return err instead of a transcript.
func (e *Engine) FailAt(n int, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failAt[n] = err
}

// Calls returns how many times Transcribe has been invoked.
func (e *Engine) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

// Transcribe returns the next scripted candidate.
func (e *Engine) Transcribe(ctx context.Context, samples []float32, sampleRate int, languageHint string) (string, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return "", stt.Fatal(errors.New("mock engine closed"))
	}
	e.calls++
	n := e.calls
	delay := e.delay
	err := e.failAt[n]
	var text string
	if len(e.script) > 0 {
		idx := n - 1
		if idx >= len(e.script) {
			idx = len(e.script) - 1
		}
		text = e.script[idx]
	}
	e.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", stt.Transient(ctx.Err())
		}
	}
	if err != nil {
		return "", err
	}
	return text, nil
}

// Close marks the engine closed; further Transcribe calls fail fatally.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

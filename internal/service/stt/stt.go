// Package stt defines the interface and error taxonomy for transcription
// engine backends.
package stt

import (
	"context"
	"errors"
	"fmt"
)

// Engine produces a candidate transcript for a window of audio. Each call is
// stateless: the engine recomputes from the full window it is given. This is
// the seam a future incremental decoder would replace.
type Engine interface {
	// Transcribe runs recognition over the provided mono float32 samples.
	// languageHint is a BCP-47 code or "auto".
	Transcribe(ctx context.Context, samples []float32, sampleRate int, languageHint string) (string, error)

	// Close releases engine resources.
	Close() error
}

// TransientError marks a single-call failure the pipeline recovers from by
// skipping the tick and retrying on the next one.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient engine error: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// FatalError marks an unrecoverable failure (model or backend unavailable).
// The pipeline surfaces a terminal event and closes the session.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal engine error: %v", e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

// Transient wraps err as a TransientError.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// Fatal wraps err as a FatalError.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &FatalError{Err: err}
}

// IsFatal reports whether err carries a FatalError anywhere in its chain.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}

// IsTransient reports whether err should be treated as a single-tick failure.
// Unclassified errors default to transient so a flaky backend degrades
// gracefully instead of killing the session.
func IsTransient(err error) bool {
	return err != nil && !IsFatal(err)
}

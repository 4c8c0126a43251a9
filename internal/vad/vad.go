// Package vad implements a short-term energy and zero-crossing voice activity
// gate over the tail of the audio window.
package vad

import (
	"math"
	"time"
)

// Class is the result of classifying a span of audio.
type Class int

const (
	// Speech - the span contains voice activity.
	Speech Class = iota
	// Silence - the span is quiet enough to count toward an utterance boundary.
	Silence
)

// String returns the string representation of the class.
func (c Class) String() string {
	switch c {
	case Speech:
		return "SPEECH"
	case Silence:
		return "SILENCE"
	default:
		return "UNKNOWN"
	}
}

// Gate classifies window tails and tracks sustained silence to detect
// utterance boundaries. Not safe for concurrent use; the pipeline tick loop
// is its only caller.
type Gate struct {
	energyFloor  float64 // RMS below this is quiet
	zcrCeiling   float64 // zero-crossing rate above this with low energy is noise, not voice
	hold         time.Duration
	silenceSince time.Time
	inSilence    bool
	fired        bool
}

// DefaultEnergyFloor is tuned for normalized float samples from typical
// microphone input.
const DefaultEnergyFloor = 0.01

// DefaultZCRCeiling separates low-energy fricatives from hiss.
const DefaultZCRCeiling = 0.35

// NewGate creates a gate that fires a boundary after hold of sustained silence.
func NewGate(hold time.Duration) *Gate {
	return &Gate{
		energyFloor: DefaultEnergyFloor,
		zcrCeiling:  DefaultZCRCeiling,
		hold:        hold,
	}
}

// Classify labels a window tail as speech or silence. An empty or too-short
// tail fails open to speech so the pipeline never truncates an utterance on a
// missing signal.
func (g *Gate) Classify(tail []float32) Class {
	if len(tail) < 32 {
		return Speech
	}

	var sumSq float64
	crossings := 0
	for i, s := range tail {
		sumSq += float64(s) * float64(s)
		if i > 0 && (tail[i-1] >= 0) != (s >= 0) {
			crossings++
		}
	}
	rms := math.Sqrt(sumSq / float64(len(tail)))
	zcr := float64(crossings) / float64(len(tail))

	if rms < g.energyFloor {
		return Silence
	}
	// Low-ish energy with a very high crossing rate is broadband hiss.
	if rms < g.energyFloor*3 && zcr > g.zcrCeiling {
		return Silence
	}
	return Speech
}

// Observe feeds one classification at time now and reports whether sustained
// silence crossed the hold threshold, i.e. an utterance boundary. The boundary
// fires once per silent stretch; speech resets the tracker.
func (g *Gate) Observe(class Class, now time.Time) bool {
	if class == Speech {
		g.inSilence = false
		g.fired = false
		return false
	}
	if !g.inSilence {
		g.inSilence = true
		g.silenceSince = now
		return false
	}
	if !g.fired && now.Sub(g.silenceSince) >= g.hold {
		// One boundary per silent stretch.
		g.fired = true
		return true
	}
	return false
}

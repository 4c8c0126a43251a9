package audio

import (
	"bytes"
	"errors"
	"io"

	"github.com/go-audio/wav"
)

// DecodePCM16LE converts little-endian 16-bit PCM bytes into float32 samples
// in [-1, 1].
func DecodePCM16LE(b []byte) ([]float32, error) {
	if len(b)%2 != 0 {
		return nil, errors.New("pcm16 length must be even")
	}
	out := make([]float32, len(b)/2)
	for i := 0; i < len(out); i++ {
		v := int16(uint16(b[2*i]) | uint16(b[2*i+1])<<8)
		out[i] = float32(v) / 32768.0
	}
	return out, nil
}

// DecodeWAV decodes a WAV blob into float32 samples and its sample rate.
func DecodeWAV(b []byte) ([]float32, int, error) {
	dec := wav.NewDecoder(bytes.NewReader(b))
	if !dec.IsValidFile() {
		return nil, 0, errors.New("invalid wav file")
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil && err != io.EOF {
		return nil, 0, err
	}
	if buf == nil || len(buf.Data) == 0 {
		return nil, 0, errors.New("empty wav buffer")
	}

	bitDepth := buf.SourceBitDepth
	if bitDepth <= 0 {
		bitDepth = 16
	}
	max := float32(int(1) << (bitDepth - 1))

	out := make([]float32, len(buf.Data))
	for i, v := range buf.Data {
		out[i] = float32(v) / max
	}

	sr := int(dec.SampleRate)
	if sr == 0 && buf.Format != nil {
		sr = buf.Format.SampleRate
	}
	if sr == 0 {
		return nil, 0, errors.New("wav sample rate missing")
	}
	return out, sr, nil
}

// Resample converts samples from one rate to another by linear interpolation.
// Good enough for speech fed to a transcription model; callers needing band
// limiting should resample upstream.
func Resample(in []float32, fromRate, toRate int) []float32 {
	if fromRate == toRate || fromRate <= 0 || toRate <= 0 || len(in) == 0 {
		return in
	}
	n := int(float64(len(in)) * float64(toRate) / float64(fromRate))
	if n == 0 {
		return nil
	}
	out := make([]float32, n)
	ratio := float64(fromRate) / float64(toRate)
	for i := range out {
		pos := float64(i) * ratio
		j := int(pos)
		if j >= len(in)-1 {
			out[i] = in[len(in)-1]
			continue
		}
		frac := float32(pos - float64(j))
		out[i] = in[j]*(1-frac) + in[j+1]*frac
	}
	return out
}

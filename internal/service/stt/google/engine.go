// Package google provides a transcription engine backed by Google Cloud
// Speech-to-Text. Each tick runs a synchronous Recognize over the full window
// snapshot, matching the pipeline's recompute-on-window model.
package google

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"realtime-caption-service/internal/service/stt"
)

// Engine implements stt.Engine using Google Cloud Speech-to-Text.
// Requires GOOGLE_APPLICATION_CREDENTIALS to be set.
type Engine struct {
	client *speech.Client
	model  string
}

// New creates a Google STT engine.
func New(ctx context.Context, model string) (*Engine, error) {
	c, err := speech.NewClient(ctx)
	if err != nil {
		return nil, stt.Fatal(fmt.Errorf("create speech client: %w", err))
	}
	return &Engine{client: c, model: model}, nil
}

// Transcribe runs a blocking Recognize call over the window samples and
// returns the concatenated top alternatives.
func (e *Engine) Transcribe(ctx context.Context, samples []float32, sampleRate int, languageHint string) (string, error) {
	if len(samples) == 0 {
		return "", nil
	}

	lang := languageHint
	if lang == "" || lang == "auto" {
		// Recognize requires a concrete language code.
		lang = "en-US"
	}

	resp, err := e.client.Recognize(ctx, &speechpb.RecognizeRequest{
		Config: &speechpb.RecognitionConfig{
			Encoding:        speechpb.RecognitionConfig_LINEAR16,
			SampleRateHertz: int32(sampleRate),
			LanguageCode:    lang,
			Model:           e.model,
		},
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{
				Content: encodeLinear16(samples),
			},
		},
	})
	if err != nil {
		return "", classify(err)
	}

	text := ""
	for _, r := range resp.Results {
		if len(r.Alternatives) == 0 {
			continue
		}
		if text != "" {
			text += " "
		}
		text += r.Alternatives[0].Transcript
	}
	return text, nil
}

// Close releases the underlying client.
func (e *Engine) Close() error {
	return e.client.Close()
}

// classify maps gRPC status codes onto the pipeline's error taxonomy.
// Quota and availability hiccups are retryable on the next tick; auth and
// precondition failures will not heal by retrying.
func classify(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return stt.Transient(err)
	}
	switch st.Code() {
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted,
		codes.Aborted, codes.Internal, codes.Canceled:
		return stt.Transient(err)
	case codes.Unauthenticated, codes.PermissionDenied, codes.NotFound,
		codes.InvalidArgument, codes.FailedPrecondition, codes.Unimplemented:
		return stt.Fatal(err)
	default:
		return stt.Transient(err)
	}
}

// encodeLinear16 converts float32 samples in [-1, 1] to little-endian PCM16.
func encodeLinear16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := int16(math.Round(float64(s) * 32767))
		if s >= 1.0 {
			v = math.MaxInt16
		} else if s <= -1.0 {
			v = math.MinInt16
		}
		binary.LittleEndian.PutUint16(out[2*i:], uint16(v))
	}
	return out
}

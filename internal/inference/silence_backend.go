package inference

import (
	"context"
	"unicode/utf8"

	"github.com/book-expert/speech-server/internal/core"
)

// SilenceBackend produces silent audio sized to the input text. It lets the
// service run end to end without a model.
type SilenceBackend struct {
	SampleRate     int
	SecondsPerRune float64
}

// NewSilenceBackend returns a 24 kHz backend producing 80 ms per code point.
func NewSilenceBackend() *SilenceBackend {
	return &SilenceBackend{SampleRate: 24000, SecondsPerRune: 0.08}
}

// Load always succeeds.
func (s *SilenceBackend) Load(_ context.Context) error {
	return nil
}

// Generate returns silence of the text's spoken length.
func (s *SilenceBackend) Generate(ctx context.Context, in core.SynthesisInput) (core.Waveform, error) {
	if err := ctx.Err(); err != nil {
		return core.Waveform{}, err
	}

	seconds := float64(utf8.RuneCountInString(in.Text)) * s.SecondsPerRune
	samples := make([]float32, int(seconds*float64(s.SampleRate)))

	return core.Waveform{Samples: samples, SampleRate: s.SampleRate}, nil
}

// Close is a no-op.
func (s *SilenceBackend) Close() error {
	return nil
}

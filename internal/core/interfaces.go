// Package core defines the shared types and interfaces of the speech server.
package core

import (
	"context"
	"errors"
)

// ErrObjectNotFound is returned by an ObjectStore when a key has no object.
var ErrObjectNotFound = errors.New("object not found")

// ObjectStore defines the interface for interacting with a key-value blob store.
type ObjectStore interface {
	Download(ctx context.Context, key string) ([]byte, error)
	Upload(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context) ([]string, error)
}

// Mode selects how a synthesis call is conditioned.
type Mode string

const (
	// ModeClone conditions synthesis on a reference clip and its transcript.
	ModeClone Mode = "clone"
	// ModeSpeaker conditions synthesis on a built-in speaker identity.
	ModeSpeaker Mode = "speaker"
	// ModePlain synthesises with the model's default voice.
	ModePlain Mode = "plain"
)

// Reference is the voice-clone conditioning material handed to a model.
type Reference struct {
	Audio      []byte
	Transcript string
}

// SynthesisInput is everything a model needs for one synthesis call.
// Exactly one of Speaker or Reference is meaningful, depending on Mode.
type SynthesisInput struct {
	Mode      Mode
	Text      string
	Language  string
	Speaker   string
	Reference *Reference
}

// Waveform is mono audio as normalised float samples in [-1, 1].
type Waveform struct {
	Samples    []float32
	SampleRate int
}

// Seconds returns the waveform length in seconds.
func (w Waveform) Seconds() float64 {
	if w.SampleRate <= 0 {
		return 0
	}

	return float64(len(w.Samples)) / float64(w.SampleRate)
}

// ModelInfo describes the loaded model for status reporting.
type ModelInfo struct {
	Name   string
	Device string
}

// Backend is a concrete inference engine. Load is called once before any
// Generate call; Generate blocks for the full duration of inference.
type Backend interface {
	Load(ctx context.Context) error
	Generate(ctx context.Context, in SynthesisInput) (Waveform, error)
	Close() error
}

// Model is the process-wide inference capability injected into the dispatcher.
type Model interface {
	Ready() bool
	Info() ModelInfo
	Generate(ctx context.Context, in SynthesisInput) (Waveform, error)
}

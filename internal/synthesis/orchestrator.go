package synthesis

import (
	"context"
	"fmt"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/speech-server/internal/audio"
	"github.com/book-expert/speech-server/internal/core"
)

// AudioURLPrefix is the retrieval mount of generated audio.
const AudioURLPrefix = "/audio/"

// Runner executes model input; *Dispatcher is the production Runner.
type Runner interface {
	Dispatch(ctx context.Context, input core.SynthesisInput) (core.Waveform, error)
}

// AssetWriter persists generated audio.
type AssetWriter interface {
	Put(ctx context.Context, blob []byte, sidecar *string) (string, error)
}

// Normalizer rewrites validated text before synthesis.
type Normalizer func(text, language string) string

// Result is the handle returned for a completed synthesis.
type Result struct {
	ID       string
	URL      string
	Duration float64
}

// Orchestrator composes validation, dispatch and persistence.
type Orchestrator struct {
	validator *Validator
	runner    Runner
	generated AssetWriter
	normalize Normalizer
	timeout   time.Duration
	log       *logger.Logger
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithNormalizer applies fn to the text after validation. The normalized
// text must still satisfy the text bounds.
func WithNormalizer(fn Normalizer) OrchestratorOption {
	return func(o *Orchestrator) {
		o.normalize = fn
	}
}

// WithTimeout bounds each synthesis request; zero disables the bound.
func WithTimeout(timeout time.Duration) OrchestratorOption {
	return func(o *Orchestrator) {
		o.timeout = timeout
	}
}

// NewOrchestrator wires the request pipeline.
func NewOrchestrator(
	validator *Validator,
	runner Runner,
	generated AssetWriter,
	log *logger.Logger,
	opts ...OrchestratorOption,
) *Orchestrator {
	orchestrator := &Orchestrator{
		validator: validator,
		runner:    runner,
		generated: generated,
		log:       log,
	}

	for _, opt := range opts {
		opt(orchestrator)
	}

	return orchestrator
}

// Mode returns the conditioning mode of this deployment.
func (o *Orchestrator) Mode() core.Mode {
	return o.validator.Mode()
}

// Synthesize validates req, runs it and stores the audio. Steps run strictly
// in order and the first failure ends the request.
func (o *Orchestrator) Synthesize(ctx context.Context, req Request) (Result, error) {
	if o.timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	input, err := o.validator.Validate(ctx, req)
	if err != nil {
		return Result{}, err
	}

	if o.normalize != nil {
		// Normalisation can empty or lengthen the text, so the bounds apply again.
		input.Text, err = o.validator.CheckText(o.normalize(input.Text, input.Language))
		if err != nil {
			return Result{}, err
		}
	}

	started := time.Now()

	waveform, err := o.runner.Dispatch(ctx, input)
	if err != nil {
		o.log.Error("Synthesis failed (%s, %s): %v", input.Mode, input.Language, err)

		return Result{}, err
	}

	wav, err := audio.EncodeWAV(waveform)
	if err != nil {
		return Result{}, newInferenceError(err)
	}

	id, err := o.generated.Put(ctx, wav, nil)
	if err != nil {
		return Result{}, fmt.Errorf("failed to store generated audio: %w", err)
	}

	result := Result{
		ID:       id,
		URL:      AudioURLPrefix + id + ".wav",
		Duration: audio.Duration(waveform),
	}

	o.log.Info(
		"Generated %s (%.2fs audio, %s mode, %s) in %s",
		id, result.Duration, input.Mode, input.Language, time.Since(started).Round(time.Millisecond),
	)

	return result, nil
}

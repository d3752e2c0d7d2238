package synthesis_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/book-expert/speech-server/internal/asset"
	"github.com/book-expert/speech-server/internal/audio"
	"github.com/book-expert/speech-server/internal/core"
	"github.com/book-expert/speech-server/internal/synthesis"
	"github.com/book-expert/speech-server/internal/textnorm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pipeline struct {
	model        *stubModel
	refs         *asset.Store
	generated    *asset.Store
	orchestrator *synthesis.Orchestrator
	dispatcher   *synthesis.Dispatcher
}

func newPipeline(t *testing.T, mode core.Mode, model *stubModel, workers int, opts ...synthesis.OrchestratorOption) pipeline {
	t.Helper()

	log := newLogger(t)
	refs := newAssetStore(t, "reference")
	generated := newAssetStore(t, "generated")
	dispatcher := synthesis.NewDispatcher(model, workers, 16, log)

	t.Cleanup(dispatcher.Close)

	validator := synthesis.NewValidator(synthesis.ValidatorConfig{
		Mode:           mode,
		DefaultSpeaker: "Vivian",
		MaxTextLength:  5000,
	}, refs, log)

	return pipeline{
		model:        model,
		refs:         refs,
		generated:    generated,
		dispatcher:   dispatcher,
		orchestrator: synthesis.NewOrchestrator(validator, dispatcher, generated, log, opts...),
	}
}

func TestSynthesize_SpeakerEndToEnd(t *testing.T) {
	t.Parallel()

	p := newPipeline(t, core.ModeSpeaker, &stubModel{}, 1)
	ctx := context.Background()

	result, err := p.orchestrator.Synthesize(ctx, synthesis.Request{Text: "测试", Language: "Chinese", Speaker: "Vivian"})
	require.NoError(t, err)

	assert.InDelta(t, 1.0, result.Duration, 1e-9)
	assert.Equal(t, "/audio/"+result.ID+".wav", result.URL)

	blob, _, err := p.generated.Get(ctx, result.ID)
	require.NoError(t, err)

	waveform, err := audio.DecodeWAV(blob)
	require.NoError(t, err)
	assert.Equal(t, 16000, waveform.SampleRate)
	assert.Len(t, waveform.Samples, 16000)

	assert.Equal(t, "Vivian", p.model.lastInput(t).Speaker)
	assert.Equal(t, core.ModeSpeaker, p.orchestrator.Mode())
}

func TestSynthesize_MissingReferenceNeverDispatches(t *testing.T) {
	t.Parallel()

	p := newPipeline(t, core.ModeClone, &stubModel{}, 1)

	_, err := p.orchestrator.Synthesize(context.Background(), synthesis.Request{
		Text: "hello", Language: "English", RefAudioID: "00000000",
	})
	requireKind(t, err, synthesis.KindReferenceNotFound)
	assert.Zero(t, p.model.calls.Load())

	entries, err := p.generated.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSynthesize_CloneUsesReference(t *testing.T) {
	t.Parallel()

	p := newPipeline(t, core.ModeClone, &stubModel{}, 1)
	ctx := context.Background()

	transcript := "Hello world"
	refID, err := p.refs.Put(ctx, []byte("reference-wav"), &transcript)
	require.NoError(t, err)

	_, err = p.orchestrator.Synthesize(ctx, synthesis.Request{Text: "hi", Language: "English", RefAudioID: refID})
	require.NoError(t, err)

	input := p.model.lastInput(t)
	require.NotNil(t, input.Reference)
	assert.Equal(t, "Hello world", input.Reference.Transcript)

	// The reference is only read.
	_, sidecar, err := p.refs.Get(ctx, refID)
	require.NoError(t, err)
	assert.Equal(t, "Hello world", *sidecar)
}

func TestSynthesize_InferenceFailureStoresNothing(t *testing.T) {
	t.Parallel()

	p := newPipeline(t, core.ModePlain, &stubModel{err: errOOM}, 1)

	_, err := p.orchestrator.Synthesize(context.Background(), synthesis.Request{Text: "hi", Language: "English"})

	var inferenceErr *synthesis.InferenceError

	require.ErrorAs(t, err, &inferenceErr)

	entries, err := p.generated.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSynthesize_NormalizerRunsAfterValidation(t *testing.T) {
	t.Parallel()

	upper := func(text, _ string) string { return strings.ToUpper(text) }
	p := newPipeline(t, core.ModePlain, &stubModel{}, 1, synthesis.WithNormalizer(upper))

	_, err := p.orchestrator.Synthesize(context.Background(), synthesis.Request{Text: " hello ", Language: "English"})
	require.NoError(t, err)
	assert.Equal(t, "HELLO", p.model.lastInput(t).Text)
}

func TestSynthesize_NormalizedTextKeepsBounds(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		text     string
		language string
	}{
		{name: "zero width space normalizes to nothing", text: "\u200b", language: "Chinese"},
		{name: "spelled numbers exceed the limit", text: strings.Repeat("999999999 ", 500), language: "English"},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			p := newPipeline(t, core.ModePlain, &stubModel{}, 1, synthesis.WithNormalizer(textnorm.New().Normalize))

			_, err := p.orchestrator.Synthesize(context.Background(), synthesis.Request{
				Text: testCase.text, Language: testCase.language,
			})
			requireKind(t, err, synthesis.KindInvalidText)
			assert.Zero(t, p.model.calls.Load())
		})
	}
}

func TestSynthesize_Timeout(t *testing.T) {
	t.Parallel()

	model := &stubModel{gate: make(chan struct{})}
	defer close(model.gate)

	p := newPipeline(t, core.ModePlain, model, 1, synthesis.WithTimeout(20*time.Millisecond))

	_, err := p.orchestrator.Synthesize(context.Background(), synthesis.Request{Text: "hi", Language: "English"})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSynthesize_ConcurrentRequestsGetDistinctIDs(t *testing.T) {
	t.Parallel()

	const requests = 8

	p := newPipeline(t, core.ModePlain, &stubModel{}, 3)

	var (
		waitGroup sync.WaitGroup
		mu        sync.Mutex
		ids       = make(map[string]struct{})
	)

	for range requests {
		waitGroup.Add(1)

		go func() {
			defer waitGroup.Done()

			result, err := p.orchestrator.Synthesize(context.Background(), synthesis.Request{Text: "hi", Language: "English"})
			if !assert.NoError(t, err) {
				return
			}

			mu.Lock()
			ids[result.ID] = struct{}{}
			mu.Unlock()
		}()
	}

	waitGroup.Wait()
	assert.Len(t, ids, requests)
}

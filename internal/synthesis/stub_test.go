package synthesis_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/book-expert/logger"
	"github.com/book-expert/speech-server/internal/asset"
	"github.com/book-expert/speech-server/internal/core"
	"github.com/book-expert/speech-server/internal/objectstore"
	"github.com/stretchr/testify/require"
)

// stubModel returns one second of 16 kHz silence unless configured otherwise.
type stubModel struct {
	notReady bool
	err      error
	panicMsg string
	gate     chan struct{}

	calls  atomic.Int32
	mu     sync.Mutex
	inputs []core.SynthesisInput
}

func (s *stubModel) Ready() bool {
	return !s.notReady
}

func (s *stubModel) Info() core.ModelInfo {
	return core.ModelInfo{Name: "stub", Device: "cpu"}
}

func (s *stubModel) Generate(ctx context.Context, in core.SynthesisInput) (core.Waveform, error) {
	s.calls.Add(1)

	s.mu.Lock()
	s.inputs = append(s.inputs, in)
	s.mu.Unlock()

	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return core.Waveform{}, ctx.Err()
		}
	}

	if s.panicMsg != "" {
		panic(s.panicMsg)
	}

	if s.err != nil {
		return core.Waveform{}, s.err
	}

	return core.Waveform{Samples: make([]float32, 16000), SampleRate: 16000}, nil
}

func (s *stubModel) lastInput(t *testing.T) core.SynthesisInput {
	t.Helper()

	s.mu.Lock()
	defer s.mu.Unlock()

	require.NotEmpty(t, s.inputs)

	return s.inputs[len(s.inputs)-1]
}

func newLogger(t *testing.T) *logger.Logger {
	t.Helper()

	log, err := logger.New(t.TempDir(), "synthesis-test.log")
	require.NoError(t, err)

	t.Cleanup(func() { _ = log.Close() })

	return log
}

func newAssetStore(t *testing.T, name string) *asset.Store {
	t.Helper()

	objects, err := objectstore.NewFilesystem(t.TempDir())
	require.NoError(t, err)

	return asset.New(name, objects)
}

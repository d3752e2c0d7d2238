package synthesis_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/book-expert/speech-server/internal/core"
	"github.com/book-expert/speech-server/internal/synthesis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errOOM = errors.New("CUDA out of memory")

func plainInput() core.SynthesisInput {
	return core.SynthesisInput{Mode: core.ModePlain, Text: "hi", Language: "English"}
}

func TestDispatcher_NotReadyFailsFast(t *testing.T) {
	t.Parallel()

	model := &stubModel{notReady: true}
	dispatcher := synthesis.NewDispatcher(model, 1, 0, newLogger(t))
	defer dispatcher.Close()

	_, err := dispatcher.Dispatch(context.Background(), plainInput())
	require.ErrorIs(t, err, synthesis.ErrModelNotReady)
	assert.Zero(t, model.calls.Load())
}

func TestDispatcher_WrapsModelFailure(t *testing.T) {
	t.Parallel()

	dispatcher := synthesis.NewDispatcher(&stubModel{err: errOOM}, 1, 0, newLogger(t))
	defer dispatcher.Close()

	_, err := dispatcher.Dispatch(context.Background(), plainInput())

	var inferenceErr *synthesis.InferenceError

	require.ErrorAs(t, err, &inferenceErr)
	assert.Equal(t, "CUDA out of memory", inferenceErr.Cause)
	require.ErrorIs(t, err, errOOM)
}

func TestDispatcher_RecoversPanic(t *testing.T) {
	t.Parallel()

	dispatcher := synthesis.NewDispatcher(&stubModel{panicMsg: "tensor shape mismatch"}, 1, 0, newLogger(t))
	defer dispatcher.Close()

	_, err := dispatcher.Dispatch(context.Background(), plainInput())

	var inferenceErr *synthesis.InferenceError

	require.ErrorAs(t, err, &inferenceErr)
	assert.Contains(t, inferenceErr.Cause, "tensor shape mismatch")

	// The worker survives the panic.
	_, err = dispatcher.Dispatch(context.Background(), plainInput())
	require.Error(t, err)
	assert.Zero(t, dispatcher.InFlight())
}

func TestDispatcher_BoundsConcurrency(t *testing.T) {
	t.Parallel()

	const (
		workers  = 2
		requests = 6
	)

	model := &stubModel{gate: make(chan struct{})}
	dispatcher := synthesis.NewDispatcher(model, workers, requests, newLogger(t))
	defer dispatcher.Close()

	var waitGroup sync.WaitGroup

	errs := make(chan error, requests)

	for range requests {
		waitGroup.Add(1)

		go func() {
			defer waitGroup.Done()

			waveform, err := dispatcher.Dispatch(context.Background(), plainInput())
			if err == nil && waveform.SampleRate != 16000 {
				err = errors.New("unexpected waveform")
			}

			errs <- err
		}()
	}

	require.Eventually(t, func() bool { return dispatcher.InFlight() == workers }, time.Second, time.Millisecond)

	// No more than the pool size may enter the model.
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, workers, dispatcher.InFlight())
	assert.Equal(t, int32(workers), model.calls.Load())

	close(model.gate)
	waitGroup.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	assert.Equal(t, int32(requests), model.calls.Load())
	assert.Equal(t, requests, dispatcher.Calls())
	assert.Zero(t, dispatcher.InFlight())
}

func TestDispatcher_SkipsJobsWhoseCallerLeft(t *testing.T) {
	t.Parallel()

	model := &stubModel{gate: make(chan struct{})}
	dispatcher := synthesis.NewDispatcher(model, 1, 4, newLogger(t))
	defer dispatcher.Close()

	blocker := make(chan error, 1)

	go func() {
		_, err := dispatcher.Dispatch(context.Background(), plainInput())
		blocker <- err
	}()

	require.Eventually(t, func() bool { return dispatcher.InFlight() == 1 }, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := dispatcher.Dispatch(ctx, plainInput())
	require.ErrorIs(t, err, context.DeadlineExceeded)

	close(model.gate)
	require.NoError(t, <-blocker)

	// The abandoned job is drained without reaching the model.
	_, err = dispatcher.Dispatch(context.Background(), plainInput())
	require.NoError(t, err)
	assert.Equal(t, int32(2), model.calls.Load())
}

func TestDispatcher_Close(t *testing.T) {
	t.Parallel()

	dispatcher := synthesis.NewDispatcher(&stubModel{}, 3, 0, newLogger(t))
	assert.Equal(t, 3, dispatcher.Workers())

	dispatcher.Close()
	dispatcher.Close()

	_, err := dispatcher.Dispatch(context.Background(), plainInput())
	require.ErrorIs(t, err, synthesis.ErrDispatcherClosed)
}

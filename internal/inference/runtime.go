// Package inference owns the lifecycle of the loaded speech model and the
// concrete backends that perform synthesis.
package inference

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/speech-server/internal/core"
)

// ErrNotLoaded is returned by Generate before the backend finished loading.
var ErrNotLoaded = errors.New("model is not loaded")

// Runtime wraps a backend with a background load and a ready flag.
type Runtime struct {
	backend     core.Backend
	info        core.ModelInfo
	loadTimeout time.Duration
	log         *logger.Logger

	ready   atomic.Bool
	loaded  chan struct{}
	loadErr error
	once    sync.Once
	cancel  context.CancelFunc
}

// NewRuntime returns an unloaded runtime; call Start to begin loading.
func NewRuntime(backend core.Backend, info core.ModelInfo, loadTimeout time.Duration, log *logger.Logger) *Runtime {
	return &Runtime{
		backend:     backend,
		info:        info,
		loadTimeout: loadTimeout,
		log:         log,
		loaded:      make(chan struct{}),
		cancel:      func() {},
	}
}

// Start loads the backend in the background. Only the first call has effect.
func (r *Runtime) Start(ctx context.Context) {
	r.once.Do(func() {
		var (
			loadCtx context.Context
			cancel  context.CancelFunc
		)

		if r.loadTimeout > 0 {
			loadCtx, cancel = context.WithTimeout(ctx, r.loadTimeout)
		} else {
			loadCtx, cancel = context.WithCancel(ctx)
		}

		r.cancel = cancel

		go r.load(loadCtx)
	})
}

func (r *Runtime) load(ctx context.Context) {
	defer close(r.loaded)

	r.log.Info("Loading model %s on %s", r.info.Name, r.info.Device)
	started := time.Now()

	err := r.backend.Load(ctx)
	if err != nil {
		r.loadErr = fmt.Errorf("failed to load model %s: %w", r.info.Name, err)
		r.log.Error("%v", r.loadErr)

		return
	}

	r.ready.Store(true)
	r.log.System("Model %s loaded in %s", r.info.Name, time.Since(started).Round(time.Millisecond))
}

// Wait blocks until loading finishes and returns its error.
func (r *Runtime) Wait(ctx context.Context) error {
	select {
	case <-r.loaded:
		return r.loadErr
	case <-ctx.Done():
		return fmt.Errorf("waiting for model load: %w", ctx.Err())
	}
}

// Ready reports whether the model finished loading successfully.
func (r *Runtime) Ready() bool {
	return r.ready.Load()
}

// Info returns the configured model name and device.
func (r *Runtime) Info() core.ModelInfo {
	return r.info
}

// Generate runs one synthesis call on the loaded backend.
func (r *Runtime) Generate(ctx context.Context, in core.SynthesisInput) (core.Waveform, error) {
	if !r.Ready() {
		return core.Waveform{}, ErrNotLoaded
	}

	return r.backend.Generate(ctx, in)
}

// Close aborts a pending load and releases the backend.
func (r *Runtime) Close() error {
	r.cancel()
	r.ready.Store(false)

	err := r.backend.Close()
	if err != nil {
		return fmt.Errorf("failed to close model backend: %w", err)
	}

	return nil
}

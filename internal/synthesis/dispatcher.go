package synthesis

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/book-expert/logger"
	"github.com/book-expert/speech-server/internal/core"
)

type job struct {
	ctx    context.Context
	input  core.SynthesisInput
	result chan outcome
}

type outcome struct {
	waveform core.Waveform
	err      error
}

// Dispatcher runs blocking model calls on a fixed pool of workers. Callers
// wait on their own job only, so a slow synthesis never blocks other
// requests beyond the pool bound.
type Dispatcher struct {
	model   core.Model
	workers int
	log     *logger.Logger

	jobs      chan job
	quit      chan struct{}
	closeOnce sync.Once
	waitGroup sync.WaitGroup

	inFlight atomic.Int64
	calls    atomic.Int64
}

// NewDispatcher starts workers goroutines sharing model. At most queueDepth
// jobs wait for a free worker; further callers block until one is queued.
func NewDispatcher(model core.Model, workers, queueDepth int, log *logger.Logger) *Dispatcher {
	workers = max(workers, 1)

	dispatcher := &Dispatcher{
		model:   model,
		workers: workers,
		log:     log,
		jobs:    make(chan job, max(queueDepth, 0)),
		quit:    make(chan struct{}),
	}

	dispatcher.waitGroup.Add(workers)

	for range workers {
		go dispatcher.work()
	}

	return dispatcher
}

// Dispatch runs one synthesis and waits for its result, ctx or Close.
func (d *Dispatcher) Dispatch(ctx context.Context, input core.SynthesisInput) (core.Waveform, error) {
	if !d.model.Ready() {
		return core.Waveform{}, ErrModelNotReady
	}

	pending := job{ctx: ctx, input: input, result: make(chan outcome, 1)}

	select {
	case <-d.quit:
		return core.Waveform{}, ErrDispatcherClosed
	default:
	}

	select {
	case d.jobs <- pending:
	case <-ctx.Done():
		return core.Waveform{}, newInferenceError(fmt.Errorf("waiting for a synthesis worker: %w", ctx.Err()))
	case <-d.quit:
		return core.Waveform{}, ErrDispatcherClosed
	}

	select {
	case res := <-pending.result:
		return res.waveform, res.err
	case <-ctx.Done():
		return core.Waveform{}, newInferenceError(fmt.Errorf("waiting for synthesis: %w", ctx.Err()))
	case <-d.quit:
		return core.Waveform{}, ErrDispatcherClosed
	}
}

// Workers returns the pool size.
func (d *Dispatcher) Workers() int {
	return d.workers
}

// InFlight returns the number of model calls currently running.
func (d *Dispatcher) InFlight() int {
	return int(d.inFlight.Load())
}

// Calls returns the number of model calls started since creation.
func (d *Dispatcher) Calls() int {
	return int(d.calls.Load())
}

// Close stops accepting work and waits for running calls to return.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() {
		close(d.quit)
	})

	d.waitGroup.Wait()
}

func (d *Dispatcher) work() {
	defer d.waitGroup.Done()

	for {
		select {
		case <-d.quit:
			return
		case pending := <-d.jobs:
			pending.result <- d.run(pending)
		}
	}
}

func (d *Dispatcher) run(pending job) (res outcome) {
	// The caller gave up while the job was queued.
	if err := pending.ctx.Err(); err != nil {
		return outcome{err: newInferenceError(err)}
	}

	d.inFlight.Add(1)
	d.calls.Add(1)

	defer d.inFlight.Add(-1)

	defer func() {
		if recovered := recover(); recovered != nil {
			d.log.Error("Recovered panic in synthesis worker: %v", recovered)
			res = outcome{err: newInferenceError(fmt.Errorf("panic during synthesis: %v", recovered))}
		}
	}()

	waveform, err := d.model.Generate(pending.ctx, pending.input)
	if err != nil {
		return outcome{err: newInferenceError(err)}
	}

	return outcome{waveform: waveform}
}

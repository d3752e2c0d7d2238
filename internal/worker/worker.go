// Package worker provides a NATS worker that turns processed text into speech.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/book-expert/speech-server/internal/asset"
	"github.com/book-expert/speech-server/internal/core"
	"github.com/book-expert/speech-server/internal/synthesis"
	"github.com/nats-io/nats.go"
)

const (
	defaultHandleTimeout = 5 * time.Minute
	drainPollInterval    = 10 * time.Millisecond
)

// ErrorHeader carries the failure reason on a reply to a request that could not be synthesized.
const ErrorHeader = "Speech-Error"

var (
	// ErrSubjectEmpty indicates that no subject was configured.
	ErrSubjectEmpty = errors.New("subject cannot be empty")
	// ErrTextKeyEmpty indicates that an event carried no text key.
	ErrTextKeyEmpty = errors.New("text key cannot be empty")
	// ErrEmptyText indicates that the downloaded text object was blank.
	ErrEmptyText = errors.New("text object is empty")
)

// Synthesizer runs one synthesis request end to end.
type Synthesizer interface {
	Synthesize(ctx context.Context, req synthesis.Request) (synthesis.Result, error)
}

// Options configures a NatsWorker.
type Options struct {
	// Subject is the TextProcessedEvent subject to consume.
	Subject string
	// Queue is the queue group shared by all replicas; empty means a plain subscription.
	Queue string
	// AudioSubject receives AudioChunkCreatedEvent when a message has no reply inbox.
	AudioSubject string
	// Mode decides how an event's Voice field is interpreted.
	Mode     core.Mode
	Language string
	// HandleTimeout bounds one message; zero uses a five minute default.
	HandleTimeout time.Duration
	// MaxConcurrent caps the messages handled at once; values below one mean one.
	MaxConcurrent int
}

// NatsWorker listens for processed text on a NATS subject and synthesizes it.
type NatsWorker struct {
	natsConnection *nats.Conn
	texts          core.ObjectStore
	synthesizer    Synthesizer
	opts           Options
	log            *logger.Logger
	slots          chan struct{}
	inFlight       sync.WaitGroup
}

// NewNatsWorker creates a new instance of a NATS worker.
func NewNatsWorker(
	natsConnection *nats.Conn,
	texts core.ObjectStore,
	synthesizer Synthesizer,
	opts Options,
	log *logger.Logger,
) (*NatsWorker, error) {
	if opts.Subject == "" {
		return nil, ErrSubjectEmpty
	}

	if opts.HandleTimeout <= 0 {
		opts.HandleTimeout = defaultHandleTimeout
	}

	if opts.MaxConcurrent < 1 {
		opts.MaxConcurrent = 1
	}

	return &NatsWorker{
		natsConnection: natsConnection,
		texts:          texts,
		synthesizer:    synthesizer,
		opts:           opts,
		log:            log,
		slots:          make(chan struct{}, opts.MaxConcurrent),
	}, nil
}

// Run starts the worker and blocks until ctx is cancelled, then drains the
// subscription and waits for the messages already being handled.
func (w *NatsWorker) Run(ctx context.Context) error {
	sub, err := w.subscribe()
	if err != nil {
		return fmt.Errorf("failed to subscribe to subject %s: %w", w.opts.Subject, err)
	}

	w.log.System("Worker consuming %s (queue %q, %d at a time)", w.opts.Subject, w.opts.Queue, w.opts.MaxConcurrent)

	<-ctx.Done()

	drainErr := sub.Drain()
	if drainErr != nil {
		return fmt.Errorf("failed to drain subscription: %w", drainErr)
	}

	// The subscription turns invalid once every buffered message went through dispatch.
	deadline := time.Now().Add(w.opts.HandleTimeout)
	for sub.IsValid() && time.Now().Before(deadline) {
		time.Sleep(drainPollInterval)
	}

	w.inFlight.Wait()

	return nil
}

func (w *NatsWorker) subscribe() (*nats.Subscription, error) {
	if w.opts.Queue == "" {
		return w.natsConnection.Subscribe(w.opts.Subject, w.dispatch)
	}

	return w.natsConnection.QueueSubscribe(w.opts.Subject, w.opts.Queue, w.dispatch)
}

// dispatch hands msg to its own goroutine once a slot is free. Blocking here
// holds back further deliveries while every slot is busy.
func (w *NatsWorker) dispatch(msg *nats.Msg) {
	w.slots <- struct{}{}

	w.inFlight.Add(1)

	go func() {
		defer func() {
			<-w.slots
			w.inFlight.Done()
		}()

		w.handleMessage(msg)
	}()
}

func (w *NatsWorker) handleMessage(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), w.opts.HandleTimeout)
	defer cancel()

	event, err := parseEvent(msg)
	if err != nil {
		w.log.Error("Failed to parse event: %v", err)
		w.replyError(msg, err)

		return
	}

	audioKey, err := w.process(ctx, event)
	if err != nil {
		w.log.Error("Failed to synthesize page %d of workflow %s: %v", event.PageNumber, event.Header.WorkflowID, err)
		w.replyError(msg, err)

		return
	}

	replyEvent := &events.AudioChunkCreatedEvent{
		Header:     event.Header,
		AudioKey:   audioKey,
		PageNumber: event.PageNumber,
		TotalPages: event.TotalPages,
	}

	err = w.publish(msg, replyEvent)
	if err != nil {
		w.log.Error("Failed to publish audio event for workflow %s: %v", event.Header.WorkflowID, err)
	}
}

// process downloads the event text and synthesizes it into the generated store.
func (w *NatsWorker) process(ctx context.Context, event *events.TextProcessedEvent) (string, error) {
	if event.TextKey == "" {
		return "", ErrTextKeyEmpty
	}

	textData, err := w.texts.Download(ctx, event.TextKey)
	if err != nil {
		return "", fmt.Errorf("failed to download text data for key '%s': %w", event.TextKey, err)
	}

	text := strings.TrimSpace(string(textData))
	if text == "" {
		return "", fmt.Errorf("%w: %s", ErrEmptyText, event.TextKey)
	}

	result, err := w.synthesizer.Synthesize(ctx, w.request(text, event.Voice))
	if err != nil {
		return "", err
	}

	w.log.Info("Synthesized %s into %s (%.2fs)", event.TextKey, result.ID, result.Duration)

	return result.ID + asset.BlobExt, nil
}

// request maps the event voice onto the field the current mode reads.
func (w *NatsWorker) request(text, voice string) synthesis.Request {
	req := synthesis.Request{Text: text, Language: w.opts.Language}

	switch w.opts.Mode {
	case core.ModeSpeaker:
		req.Speaker = voice
	case core.ModeClone:
		req.RefAudioID = voice
	case core.ModePlain:
	}

	return req
}

func (w *NatsWorker) publish(msg *nats.Msg, replyEvent *events.AudioChunkCreatedEvent) error {
	replyData, err := json.Marshal(replyEvent)
	if err != nil {
		return fmt.Errorf("failed to marshal reply event: %w", err)
	}

	if msg.Reply != "" {
		err = msg.Respond(replyData)
	} else if w.opts.AudioSubject != "" {
		err = w.natsConnection.Publish(w.opts.AudioSubject, replyData)
	}

	if err != nil {
		return fmt.Errorf("failed to publish reply event: %w", err)
	}

	return nil
}

// replyError answers a request with an empty body and the failure in ErrorHeader.
// Fire-and-forget events have nobody to answer, so the log is all they get.
func (w *NatsWorker) replyError(msg *nats.Msg, cause error) {
	if msg.Reply == "" {
		return
	}

	reply := nats.NewMsg(msg.Reply)
	reply.Header.Set(ErrorHeader, cause.Error())

	err := msg.RespondMsg(reply)
	if err != nil {
		w.log.Warn("Failed to send error reply: %v", err)
	}
}

func parseEvent(msg *nats.Msg) (*events.TextProcessedEvent, error) {
	var event events.TextProcessedEvent

	err := json.Unmarshal(msg.Data, &event)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal event: %w", err)
	}

	return &event, nil
}

package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/book-expert/logger"
	"github.com/book-expert/speech-server/internal/httpapi"
	"github.com/hashicorp/go-multierror"
)

const (
	outputFileFormat = "chunk_%04d.wav"
	filePermissions  = 0o600
	dirPermissions   = 0o750
)

var (
	// ErrNoChunksFound is returned for an empty chunks file.
	ErrNoChunksFound = errors.New("no chunks found")
	// ErrOutputDirEmpty is returned when no output directory is given.
	ErrOutputDirEmpty = errors.New("output directory cannot be empty")
)

// Voice selects how each chunk of a batch is voiced.
type Voice struct {
	Language   string
	Speaker    string
	RefAudioID string
}

// Batch synthesizes many chunks with bounded parallelism.
type Batch struct {
	client  *Client
	voice   Voice
	workers int
	log     *logger.Logger
}

// NewBatch returns a batch runner using at most workers concurrent requests.
func NewBatch(client *Client, voice Voice, workers int, log *logger.Logger) *Batch {
	return &Batch{client: client, voice: voice, workers: max(workers, 1), log: log}
}

// ReadChunks parses a JSON array of strings.
func ReadChunks(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read chunks file: %w", err)
	}

	var chunks []string

	err = json.Unmarshal(data, &chunks)
	if err != nil {
		return nil, fmt.Errorf("failed to parse chunks JSON: %w", err)
	}

	if len(chunks) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoChunksFound, path)
	}

	return chunks, nil
}

// SynthesizeTo generates one chunk and writes it to outputPath.
func (b *Batch) SynthesizeTo(ctx context.Context, text, outputPath string) error {
	result, err := b.client.Synthesize(ctx, httpapi.TTSRequest{
		Text:       text,
		Language:   b.voice.Language,
		Speaker:    b.voice.Speaker,
		RefAudioID: b.voice.RefAudioID,
	})
	if err != nil {
		return fmt.Errorf("failed to generate speech: %w", err)
	}

	audio, err := b.client.Download(ctx, result.AudioURL)
	if err != nil {
		return fmt.Errorf("failed to download %s: %w", result.AudioURL, err)
	}

	err = os.MkdirAll(filepath.Dir(outputPath), dirPermissions)
	if err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	err = os.WriteFile(outputPath, audio, filePermissions)
	if err != nil {
		return fmt.Errorf("failed to write audio file: %w", err)
	}

	b.log.Info("Generated audio: %s (%d bytes, %.2fs)", outputPath, len(audio), result.Duration)

	return nil
}

// Run synthesizes every chunk into outputDir as chunk_0001.wav, chunk_0002.wav, ...
// A failed chunk does not stop the others; all failures are returned together.
func (b *Batch) Run(ctx context.Context, chunks []string, outputDir string) ([]string, error) {
	if outputDir == "" {
		return nil, ErrOutputDirEmpty
	}

	var (
		waitGroup sync.WaitGroup
		mutex     sync.Mutex
		errs      *multierror.Error
		written   []string
	)

	workerPool := make(chan struct{}, b.workers)

	for index, chunk := range chunks {
		waitGroup.Add(1)

		go func() {
			defer waitGroup.Done()

			workerPool <- struct{}{}

			defer func() { <-workerPool }()

			outputPath := filepath.Join(outputDir, fmt.Sprintf(outputFileFormat, index+1))

			err := b.SynthesizeTo(ctx, chunk, outputPath)

			mutex.Lock()
			defer mutex.Unlock()

			if err != nil {
				b.log.Error("Failed to process chunk %d: %v", index+1, err)
				errs = multierror.Append(errs, fmt.Errorf("chunk %d failed: %w", index+1, err))

				return
			}

			written = append(written, outputPath)
			b.log.Info("Processed chunk %d/%d", index+1, len(chunks))
		}()
	}

	waitGroup.Wait()
	sort.Strings(written)

	return written, errs.ErrorOrNil()
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/speech-server/internal/client"
)

// Flag names.
const (
	flagServer   = "server"
	flagText     = "text"
	flagChunks   = "chunks"
	flagOutput   = "output"
	flagLanguage = "language"
	flagSpeaker  = "speaker"
	flagRef      = "ref"
	flagWorkers  = "workers"
	flagUpload   = "upload"
	flagRefText  = "ref-text"
	flagHealth   = "health"
	flagTimeout  = "timeout"
)

const (
	defaultServer     = "http://127.0.0.1:8019"
	defaultOutputFile = "output.wav"
	defaultOutputDir  = "audio_chunks"
	logFileName       = "speech-client.log"
)

var (
	errNoAction        = errors.New("one of --text, --chunks, --upload or --health must be provided")
	errConflictingArgs = errors.New("--text, --chunks and --upload are mutually exclusive")
)

// appFlags holds the parsed command-line flag values.
type appFlags struct {
	server   string
	text     string
	chunks   string
	output   string
	language string
	speaker  string
	ref      string
	upload   string
	refText  string
	workers  int
	timeout  time.Duration
	health   bool
}

func main() {
	err := run(os.Args[1:], os.Stdout)
	if err != nil {
		log.Fatalf("Error: %v", err)
	}
}

func run(args []string, stdout io.Writer) error {
	flags, err := parseFlags(args)
	if err != nil {
		return err
	}

	err = validateFlags(flags)
	if err != nil {
		return err
	}

	clientLog, err := logger.New(os.TempDir(), logFileName)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer clientLog.Close()

	apiClient := client.New(flags.server, flags.timeout)
	ctx := context.Background()

	switch {
	case flags.health:
		return handleHealthCheck(ctx, apiClient, stdout)
	case flags.upload != "":
		return handleUpload(ctx, apiClient, flags, stdout)
	case flags.text != "":
		return handleText(ctx, apiClient, flags, clientLog, stdout)
	default:
		return handleChunks(ctx, apiClient, flags, clientLog, stdout)
	}
}

func parseFlags(args []string) (appFlags, error) {
	var flags appFlags

	set := flag.NewFlagSet("speech-client", flag.ContinueOnError)
	set.StringVar(&flags.server, flagServer, defaultServer, "Speech server base URL")
	set.StringVar(&flags.text, flagText, "", "Text to convert to speech")
	set.StringVar(&flags.chunks, flagChunks, "", "JSON file containing an array of text chunks")
	set.StringVar(&flags.output, flagOutput, "", "Output .wav file (--text) or directory (--chunks)")
	set.StringVar(&flags.language, flagLanguage, "", "Language tag, e.g. English (server default if empty)")
	set.StringVar(&flags.speaker, flagSpeaker, "", "Built-in speaker id (speaker variant)")
	set.StringVar(&flags.ref, flagRef, "", "Reference audio id (clone variant)")
	set.StringVar(&flags.upload, flagUpload, "", "Upload a reference clip and print its id")
	set.StringVar(&flags.refText, flagRefText, "", "Transcript of the clip passed to --upload")
	set.IntVar(&flags.workers, flagWorkers, 2, "Concurrent requests for --chunks")
	set.DurationVar(&flags.timeout, flagTimeout, 5*time.Minute, "Per-request timeout")
	set.BoolVar(&flags.health, flagHealth, false, "Check that the server's model is loaded and exit")

	err := set.Parse(args)
	if err != nil {
		return flags, fmt.Errorf("failed to parse flags: %w", err)
	}

	return flags, nil
}

// validateFlags requires exactly one action.
func validateFlags(flags appFlags) error {
	if flags.health {
		return nil
	}

	actions := 0

	for _, value := range []string{flags.text, flags.chunks, flags.upload} {
		if value != "" {
			actions++
		}
	}

	switch {
	case actions == 0:
		return errNoAction
	case actions > 1:
		return errConflictingArgs
	default:
		return nil
	}
}

func handleHealthCheck(ctx context.Context, apiClient *client.Client, stdout io.Writer) error {
	status, err := apiClient.Status(ctx)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	if !status.ModelLoaded {
		return fmt.Errorf("speech server is up but model %s is not loaded", status.ModelName)
	}

	fmt.Fprintf(stdout, "Speech server is healthy: %s on %s (%s variant, %d/%d workers busy)\n",
		status.ModelName, status.Device, status.Variant, status.InFlight, status.Workers)

	return nil
}

func handleUpload(ctx context.Context, apiClient *client.Client, flags appFlags, stdout io.Writer) error {
	uploaded, err := apiClient.UploadReference(ctx, flags.upload, flags.refText)
	if err != nil {
		return fmt.Errorf("failed to upload reference: %w", err)
	}

	fmt.Fprintf(stdout, "Uploaded %s as reference %s\n", uploaded.Filename, uploaded.RefID)

	return nil
}

func newBatch(apiClient *client.Client, flags appFlags, clientLog *logger.Logger) *client.Batch {
	voice := client.Voice{Language: flags.language, Speaker: flags.speaker, RefAudioID: flags.ref}

	return client.NewBatch(apiClient, voice, flags.workers, clientLog)
}

func handleText(ctx context.Context, apiClient *client.Client, flags appFlags, clientLog *logger.Logger, stdout io.Writer) error {
	outputPath := flags.output
	if outputPath == "" {
		outputPath = defaultOutputFile
	}

	err := newBatch(apiClient, flags, clientLog).SynthesizeTo(ctx, flags.text, outputPath)
	if err != nil {
		return fmt.Errorf("failed to process text: %w", err)
	}

	fmt.Fprintf(stdout, "Generated: %s\n", outputPath)

	return nil
}

func handleChunks(ctx context.Context, apiClient *client.Client, flags appFlags, clientLog *logger.Logger, stdout io.Writer) error {
	chunks, err := client.ReadChunks(flags.chunks)
	if err != nil {
		return err
	}

	outputDir := flags.output
	if outputDir == "" {
		outputDir = filepath.Join(filepath.Dir(flags.chunks), defaultOutputDir)
	}

	written, err := newBatch(apiClient, flags, clientLog).Run(ctx, chunks, outputDir)

	fmt.Fprintf(stdout, "Generated %d of %d chunks in %s\n", len(written), len(chunks), outputDir)

	if err != nil {
		return fmt.Errorf("failed to process chunks: %w", err)
	}

	return nil
}

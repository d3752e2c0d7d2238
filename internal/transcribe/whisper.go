// Package transcribe turns reference clips into text through an
// OpenAI-compatible Whisper endpoint.
package transcribe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/book-expert/speech-server/internal/config"
	"github.com/sashabaranov/go-openai"
)

// ErrAPIKeyNotSet is returned when the configured key variable is empty.
var ErrAPIKeyNotSet = errors.New("transcription api key environment variable not set")

// Whisper language codes for the supported language tags.
var languageCodes = map[string]string{
	"Chinese":    "zh",
	"English":    "en",
	"Japanese":   "ja",
	"Korean":     "ko",
	"German":     "de",
	"French":     "fr",
	"Russian":    "ru",
	"Portuguese": "pt",
	"Spanish":    "es",
	"Italian":    "it",
}

// WhisperTranscriber calls the audio transcription API.
type WhisperTranscriber struct {
	client *openai.Client
	model  string
}

// NewWhisper builds a transcriber from configuration. The key is read from
// the environment variable named by cfg.APIKeyEnv.
func NewWhisper(cfg config.TranscriptionConfig) (*WhisperTranscriber, error) {
	apiKey := os.Getenv(cfg.APIKeyEnv)
	if apiKey == "" {
		return nil, fmt.Errorf("%w: %s", ErrAPIKeyNotSet, cfg.APIKeyEnv)
	}

	clientConfig := openai.DefaultConfig(apiKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	}

	model := cfg.Model
	if model == "" {
		model = openai.Whisper1
	}

	return &WhisperTranscriber{client: openai.NewClientWithConfig(clientConfig), model: model}, nil
}

// Transcribe returns the spoken text of audio. filename only names the
// upload; language may be empty to let the model detect it.
func (w *WhisperTranscriber) Transcribe(ctx context.Context, filename string, audio []byte, language string) (string, error) {
	resp, err := w.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    w.model,
		FilePath: filename,
		Reader:   bytes.NewReader(audio),
		Language: languageCodes[language],
	})
	if err != nil {
		return "", fmt.Errorf("failed to transcribe %s: %w", filename, err)
	}

	return strings.TrimSpace(resp.Text), nil
}

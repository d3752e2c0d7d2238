package inference

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"time"

	"github.com/book-expert/speech-server/internal/audio"
	"github.com/book-expert/speech-server/internal/core"
)

// API endpoints and paths.
const (
	apiGenerateSpeech = "/v1/generate/speech"
	apiHealth         = "/health"
)

// HTTP headers.
const (
	headerContentType = "Content-Type"
	headerAccept      = "Accept"
	contentTypeJSON   = "application/json"
	contentTypeWAV    = "audio/wav"
)

const defaultPollInterval = time.Second

var (
	// ErrUnexpectedContentType is returned when the model server does not answer with WAV.
	ErrUnexpectedContentType = errors.New("unexpected content type")
	// ErrEmptyAudio is returned when the model server answers with no bytes.
	ErrEmptyAudio = errors.New("received empty audio data")
	// ErrServiceStatus is returned for non-200 answers from the model server.
	ErrServiceStatus = errors.New("model service error")
)

// SpeechRequest is the JSON payload sent to the model server.
type SpeechRequest struct {
	Text        string `json:"text"`
	Language    string `json:"language"`
	Mode        string `json:"mode"`
	Speaker     string `json:"speaker,omitempty"`
	RefAudioB64 string `json:"ref_audio_b64,omitempty"`
	RefText     string `json:"ref_text,omitempty"`
}

// ServiceError is the structured error body of the model server.
type ServiceError struct {
	Detail    string `json:"detail"`
	ErrorCode string `json:"error_code,omitempty"`
}

// HTTPBackend delegates synthesis to a model server over HTTP.
type HTTPBackend struct {
	httpClient   *http.Client
	baseURL      string
	pollInterval time.Duration
}

// NewHTTPBackend returns a backend talking to baseURL. The timeout bounds each request.
func NewHTTPBackend(baseURL string, timeout time.Duration) *HTTPBackend {
	return &HTTPBackend{
		baseURL:      baseURL,
		httpClient:   &http.Client{Timeout: timeout},
		pollInterval: defaultPollInterval,
	}
}

// WithPollInterval sets how often Load probes the health endpoint.
func (b *HTTPBackend) WithPollInterval(interval time.Duration) *HTTPBackend {
	b.pollInterval = interval

	return b
}

// Load polls the health endpoint until it answers 200 or ctx ends.
func (b *HTTPBackend) Load(ctx context.Context) error {
	ticker := time.NewTicker(b.pollInterval)
	defer ticker.Stop()

	for {
		err := b.HealthCheck(ctx)
		if err == nil {
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("model service at %s did not become ready: %w (last error: %w)", b.baseURL, ctx.Err(), err)
		case <-ticker.C:
		}
	}
}

// HealthCheck verifies that the model server is running.
func (b *HTTPBackend) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+apiHealth, http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed for service at %s: %w", b.baseURL, err)
	}
	defer resp.Body.Close()

	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: health check returned %s", ErrServiceStatus, resp.Status)
	}

	return nil
}

// Generate posts one synthesis request and decodes the WAV answer.
func (b *HTTPBackend) Generate(ctx context.Context, in core.SynthesisInput) (core.Waveform, error) {
	payload := SpeechRequest{
		Text:     in.Text,
		Language: in.Language,
		Mode:     string(in.Mode),
		Speaker:  in.Speaker,
	}

	if in.Reference != nil {
		payload.RefAudioB64 = base64.StdEncoding.EncodeToString(in.Reference.Audio)
		payload.RefText = in.Reference.Transcript
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return core.Waveform{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+apiGenerateSpeech, bytes.NewReader(body))
	if err != nil {
		return core.Waveform{}, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set(headerContentType, contentTypeJSON)
	req.Header.Set(headerAccept, contentTypeWAV)

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return core.Waveform{}, fmt.Errorf("failed to send request to model service at %s: %w", b.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return core.Waveform{}, parseServiceError(resp)
	}

	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get(headerContentType))
	if mediaType != contentTypeWAV && mediaType != "audio/x-wav" {
		return core.Waveform{}, fmt.Errorf("%w: expected %s, got %q", ErrUnexpectedContentType, contentTypeWAV, mediaType)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return core.Waveform{}, fmt.Errorf("failed to read audio data: %w", err)
	}

	if len(data) == 0 {
		return core.Waveform{}, ErrEmptyAudio
	}

	waveform, err := audio.DecodeWAV(data)
	if err != nil {
		return core.Waveform{}, fmt.Errorf("model service returned unreadable audio: %w", err)
	}

	return waveform, nil
}

// Close releases idle connections.
func (b *HTTPBackend) Close() error {
	b.httpClient.CloseIdleConnections()

	return nil
}

func parseServiceError(resp *http.Response) error {
	raw, _ := io.ReadAll(resp.Body)

	var serviceErr ServiceError

	err := json.Unmarshal(raw, &serviceErr)
	if err == nil && serviceErr.Detail != "" {
		return fmt.Errorf("%w (%s): %s (code: %s)", ErrServiceStatus, resp.Status, serviceErr.Detail, serviceErr.ErrorCode)
	}

	return fmt.Errorf("%w (%s): %s", ErrServiceStatus, resp.Status, string(raw))
}

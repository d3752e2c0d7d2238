// Package client is a Go client for the speech server HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/book-expert/speech-server/internal/httpapi"
)

const (
	apiStatus     = "/api/status"
	apiTTS        = "/api/tts"
	apiRefAudios  = "/api/ref_audios"
	apiUploadRef  = "/api/upload_ref_audio"
	apiDeleteRef  = "/api/ref_audio/"
	apiDeleteAud  = "/api/audio/"
	contentWAV    = "audio/wav"
	contentXWAV   = "audio/x-wav"
	contentJSON   = "application/json"
	maxErrorBytes = 64 << 10
)

var (
	// ErrTextEmpty is returned when a synthesis request has no text.
	ErrTextEmpty = errors.New("text cannot be empty")
	// ErrUnexpectedContentType is returned when audio is not served as WAV.
	ErrUnexpectedContentType = errors.New("unexpected content type")
	// ErrEmptyAudio is returned when the server sends no audio bytes.
	ErrEmptyAudio = errors.New("received empty audio data")
)

// ServiceError is a non-2xx answer from the speech server.
type ServiceError struct {
	Status             int
	Detail             string
	ErrorCode          string
	SupportedLanguages []string
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("speech server error (%d): %s (code: %s)", e.Status, e.Detail, e.ErrorCode)
}

// Client talks to one speech server.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// New creates a client for baseURL, e.g. "http://localhost:8019".
func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Status fetches GET /api/status.
func (c *Client) Status(ctx context.Context) (httpapi.StatusResponse, error) {
	var status httpapi.StatusResponse

	err := c.doJSON(ctx, http.MethodGet, apiStatus, nil, "", &status)

	return status, err
}

// HealthCheck fails unless the server answers and its model is loaded.
func (c *Client) HealthCheck(ctx context.Context) error {
	status, err := c.Status(ctx)
	if err != nil {
		return fmt.Errorf("health check failed for %s: %w", c.baseURL, err)
	}

	if !status.ModelLoaded {
		return fmt.Errorf("health check failed for %s: model %s is not loaded", c.baseURL, status.ModelName)
	}

	return nil
}

// Synthesize posts one request and returns the server's result.
func (c *Client) Synthesize(ctx context.Context, req httpapi.TTSRequest) (httpapi.TTSResponse, error) {
	var resp httpapi.TTSResponse

	if strings.TrimSpace(req.Text) == "" {
		return resp, ErrTextEmpty
	}

	body, err := json.Marshal(req)
	if err != nil {
		return resp, fmt.Errorf("failed to marshal request: %w", err)
	}

	err = c.doJSON(ctx, http.MethodPost, apiTTS, bytes.NewReader(body), contentJSON, &resp)

	return resp, err
}

// Download fetches a WAV by the audio_url a synthesis returned.
func (c *Client) Download(ctx context.Context, audioURL string) ([]byte, error) {
	resp, err := c.send(ctx, http.MethodGet, audioURL, nil, "")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if mediaType != contentWAV && mediaType != contentXWAV {
		return nil, fmt.Errorf("%w: expected %s, got %q", ErrUnexpectedContentType, contentWAV, mediaType)
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio data: %w", err)
	}

	if len(audio) == 0 {
		return nil, ErrEmptyAudio
	}

	return audio, nil
}

// UploadReference uploads the clip at path with an optional transcript.
func (c *Client) UploadReference(ctx context.Context, path, refText string) (httpapi.UploadResponse, error) {
	var resp httpapi.UploadResponse

	data, err := os.ReadFile(path)
	if err != nil {
		return resp, fmt.Errorf("failed to read reference audio: %w", err)
	}

	var body bytes.Buffer

	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return resp, fmt.Errorf("failed to build upload: %w", err)
	}

	_, err = part.Write(data)
	if err != nil {
		return resp, fmt.Errorf("failed to build upload: %w", err)
	}

	if refText != "" {
		err = writer.WriteField("ref_text", refText)
		if err != nil {
			return resp, fmt.Errorf("failed to build upload: %w", err)
		}
	}

	err = writer.Close()
	if err != nil {
		return resp, fmt.Errorf("failed to build upload: %w", err)
	}

	err = c.doJSON(ctx, http.MethodPost, apiUploadRef, &body, writer.FormDataContentType(), &resp)

	return resp, err
}

// ListReferences returns the uploaded reference clips.
func (c *Client) ListReferences(ctx context.Context) ([]httpapi.ReferenceAudio, error) {
	var resp struct {
		Audios []httpapi.ReferenceAudio `json:"audios"`
	}

	err := c.doJSON(ctx, http.MethodGet, apiRefAudios, nil, "", &resp)

	return resp.Audios, err
}

// DeleteReference removes a reference clip.
func (c *Client) DeleteReference(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodDelete, apiDeleteRef+id, nil, "", nil)
}

// DeleteAudio removes a generated clip.
func (c *Client) DeleteAudio(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodDelete, apiDeleteAud+id, nil, "", nil)
}

func (c *Client) doJSON(ctx context.Context, method, path string, body io.Reader, contentType string, out any) error {
	resp, err := c.send(ctx, method, path, body, contentType)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		return nil
	}

	err = json.NewDecoder(resp.Body).Decode(out)
	if err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}

	return nil
}

// send performs the request and turns non-2xx answers into *ServiceError.
func (c *Client) send(ctx context.Context, method, path string, body io.Reader, contentType string) (*http.Response, error) {
	if body == nil {
		body = http.NoBody
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request to speech server at %s: %w", c.baseURL, err)
	}

	if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
		return resp, nil
	}

	defer resp.Body.Close()

	return nil, parseErrorResponse(resp)
}

// parseErrorResponse decodes the JSON error body, falling back to raw text.
func parseErrorResponse(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBytes))

	var apiErr httpapi.APIError

	err := json.Unmarshal(raw, &apiErr)
	if err != nil || apiErr.Detail == "" {
		return &ServiceError{Status: resp.StatusCode, Detail: strings.TrimSpace(string(raw))}
	}

	return &ServiceError{
		Status:             resp.StatusCode,
		Detail:             apiErr.Detail,
		ErrorCode:          apiErr.ErrorCode,
		SupportedLanguages: apiErr.SupportedLanguages,
	}
}

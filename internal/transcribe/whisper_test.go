package transcribe_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/book-expert/speech-server/internal/config"
	"github.com/book-expert/speech-server/internal/transcribe"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWhisper_Transcribe(t *testing.T) {
	const keyEnv = "SPEECH_TEST_WHISPER_KEY"

	t.Setenv(keyEnv, "test-key")

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/audio/transcriptions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "whisper-1", r.FormValue("model"))
		assert.Equal(t, "en", r.FormValue("language"))

		file, header, err := r.FormFile("file")
		if assert.NoError(t, err) {
			assert.Equal(t, "voice.wav", header.Filename)
			_ = file.Close()
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"text":"  Hello world \n"}`))
	}))
	defer server.Close()

	transcriber, err := transcribe.NewWhisper(config.TranscriptionConfig{
		BaseURL:   server.URL + "/v1/",
		APIKeyEnv: keyEnv,
		Model:     "whisper-1",
	})
	require.NoError(t, err)

	text, err := transcriber.Transcribe(context.Background(), "voice.wav", []byte("RIFF"), "English")
	require.NoError(t, err)
	assert.Equal(t, "Hello world", text)
}

func TestWhisper_ServerError(t *testing.T) {
	const keyEnv = "SPEECH_TEST_WHISPER_KEY_ERR"

	t.Setenv(keyEnv, "test-key")

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"bad audio","type":"invalid_request_error"}}`))
	}))
	defer server.Close()

	transcriber, err := transcribe.NewWhisper(config.TranscriptionConfig{BaseURL: server.URL + "/v1", APIKeyEnv: keyEnv})
	require.NoError(t, err)

	_, err = transcriber.Transcribe(context.Background(), "voice.wav", []byte("RIFF"), "")
	require.Error(t, err)
}

func TestNewWhisper_RequiresKey(t *testing.T) {
	t.Parallel()

	_, err := transcribe.NewWhisper(config.TranscriptionConfig{APIKeyEnv: "SPEECH_TEST_UNSET_KEY_VARIABLE"})
	require.ErrorIs(t, err, transcribe.ErrAPIKeyNotSet)
}

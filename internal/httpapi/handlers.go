package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/book-expert/speech-server/internal/asset"
	"github.com/book-expert/speech-server/internal/audio"
	"github.com/book-expert/speech-server/internal/catalog"
	"github.com/book-expert/speech-server/internal/fileutil"
	"github.com/book-expert/speech-server/internal/synthesis"
	"github.com/gorilla/mux"
	"github.com/samber/lo"
)

const (
	defaultMaxUploadBytes = 50 << 20
	maxTTSBodyBytes       = 1 << 20
	formFieldFile         = "file"
	formFieldRefText      = "ref_text"
	formFieldLanguage     = "language"
)

// StatusResponse is the body of GET /api/status.
type StatusResponse struct {
	ModelLoaded bool   `json:"model_loaded"`
	ModelName   string `json:"model_name"`
	Device      string `json:"device"`
	Variant     string `json:"variant"`
	Workers     int    `json:"workers"`
	InFlight    int    `json:"in_flight"`
}

// ReferenceAudio is one entry of GET /api/ref_audios.
type ReferenceAudio struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	RefText  string `json:"ref_text"`
}

// UploadResponse is the body of POST /api/upload_ref_audio.
type UploadResponse struct {
	Success  bool   `json:"success"`
	Message  string `json:"message"`
	RefID    string `json:"ref_id"`
	Filename string `json:"filename"`
	RefText  string `json:"ref_text"`
}

// TTSRequest is the JSON form of POST /api/tts.
type TTSRequest struct {
	Text       string `json:"text"`
	Language   string `json:"language"`
	Speaker    string `json:"speaker,omitempty"`
	RefAudioID string `json:"ref_audio_id,omitempty"`
}

// TTSResponse is the body of a successful POST /api/tts.
type TTSResponse struct {
	Success  bool    `json:"success"`
	Message  string  `json:"message"`
	AudioURL string  `json:"audio_url"`
	AudioID  string  `json:"audio_id"`
	Duration float64 `json:"duration"`
}

// MessageResponse acknowledges deletes.
type MessageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func (s *Server) status(_ http.ResponseWriter, _ *http.Request) (any, error) {
	info := s.deps.Model.Info()

	resp := StatusResponse{
		ModelLoaded: s.deps.Model.Ready(),
		ModelName:   info.Name,
		Device:      info.Device,
		Variant:     string(s.opts.Mode),
	}

	if s.deps.Pool != nil {
		resp.Workers = s.deps.Pool.Workers()
		resp.InFlight = s.deps.Pool.InFlight()
	}

	return resp, nil
}

func (s *Server) languages(_ http.ResponseWriter, _ *http.Request) (any, error) {
	return map[string][]string{"languages": catalog.Languages().List()}, nil
}

func (s *Server) speakers(_ http.ResponseWriter, _ *http.Request) (any, error) {
	return map[string]map[string]string{"speakers": catalog.Speakers().Describe()}, nil
}

func (s *Server) listReferences(_ http.ResponseWriter, request *http.Request) (any, error) {
	entries, err := s.deps.References.List(request.Context())
	if err != nil {
		return nil, err
	}

	audios := lo.Map(entries, func(entry asset.Entry, _ int) ReferenceAudio {
		return ReferenceAudio{ID: entry.ID, Filename: entry.Filename, RefText: strings.TrimSpace(entry.Sidecar)}
	})

	return map[string][]ReferenceAudio{"audios": audios}, nil
}

func (s *Server) uploadReference(writer http.ResponseWriter, request *http.Request) (any, error) {
	limit := s.opts.MaxUploadBytes
	if limit <= 0 {
		limit = defaultMaxUploadBytes
	}

	request.Body = http.MaxBytesReader(writer, request.Body, limit)

	file, header, err := request.FormFile(formFieldFile)
	if err != nil {
		return nil, badRequest(fmt.Sprintf("missing audio file field %q: %v", formFieldFile, err))
	}
	defer file.Close()

	// Reject before anything is written to the store.
	err = audio.CheckUpload(header.Filename)
	if err != nil {
		return nil, err
	}

	blob, err := io.ReadAll(file)
	if err != nil {
		return nil, badRequest(fmt.Sprintf("failed to read upload: %v", err))
	}

	if len(blob) == 0 {
		return nil, badRequest("uploaded file is empty")
	}

	refText := strings.TrimSpace(request.FormValue(formFieldRefText))
	if refText == "" && s.deps.Transcriber != nil {
		refText = s.transcribe(request, header.Filename, blob)
	}

	id, err := s.deps.References.Put(request.Context(), blob, &refText)
	if err != nil {
		return nil, fmt.Errorf("upload failed: %w", err)
	}

	s.log.Info("Stored reference audio %s (%s, %s)", id, header.Filename, fileutil.FormatFileSize(int64(len(blob))))

	return UploadResponse{
		Success:  true,
		Message:  "reference audio uploaded",
		RefID:    id,
		Filename: fileutil.SanitizeFilename(header.Filename),
		RefText:  refText,
	}, nil
}

// transcribe fills a missing transcript; failures leave it empty.
func (s *Server) transcribe(request *http.Request, filename string, blob []byte) string {
	text, err := s.deps.Transcriber.Transcribe(request.Context(), filename, blob, request.FormValue(formFieldLanguage))
	if err != nil {
		s.log.Warn("Automatic transcription of %s failed: %v", filename, err)

		return ""
	}

	return text
}

// deleteReference always reports success, unlike deleteAudio.
func (s *Server) deleteReference(_ http.ResponseWriter, request *http.Request) (any, error) {
	id := mux.Vars(request)["id"]

	err := s.deps.References.Delete(request.Context(), id)
	if err != nil && !errors.Is(err, asset.ErrNotFound) {
		return nil, err
	}

	return MessageResponse{Success: true, Message: "reference audio deleted"}, nil
}

func (s *Server) deleteAudio(_ http.ResponseWriter, request *http.Request) (any, error) {
	err := s.deps.Generated.Delete(request.Context(), mux.Vars(request)["id"])
	if err != nil {
		return nil, err
	}

	return MessageResponse{Success: true, Message: "file deleted"}, nil
}

func (s *Server) synthesize(writer http.ResponseWriter, request *http.Request) (any, error) {
	req, err := s.decodeTTSRequest(writer, request)
	if err != nil {
		return nil, err
	}

	result, err := s.deps.Synthesizer.Synthesize(request.Context(), req)
	if err != nil {
		return nil, err
	}

	return TTSResponse{
		Success:  true,
		Message:  "speech generated",
		AudioURL: result.URL,
		AudioID:  result.ID,
		Duration: result.Duration,
	}, nil
}

// decodeTTSRequest accepts JSON, urlencoded and multipart bodies of at most maxTTSBodyBytes.
func (s *Server) decodeTTSRequest(writer http.ResponseWriter, request *http.Request) (synthesis.Request, error) {
	var body TTSRequest

	request.Body = http.MaxBytesReader(writer, request.Body, maxTTSBodyBytes)

	mediaType, _, _ := mime.ParseMediaType(request.Header.Get("Content-Type"))

	switch mediaType {
	case "application/json":
		decoder := json.NewDecoder(request.Body)

		err := decoder.Decode(&body)
		if err != nil {
			return synthesis.Request{}, badRequest(fmt.Sprintf("invalid JSON body: %v", err))
		}
	case "multipart/form-data", "application/x-www-form-urlencoded":
		err := request.ParseMultipartForm(maxTTSBodyBytes)
		if err != nil && !errors.Is(err, http.ErrNotMultipart) {
			return synthesis.Request{}, badRequest(fmt.Sprintf("invalid form body: %v", err))
		}

		body = TTSRequest{
			Text:       request.FormValue("text"),
			Language:   request.FormValue("language"),
			Speaker:    request.FormValue("speaker"),
			RefAudioID: request.FormValue("ref_audio_id"),
		}
	default:
		return synthesis.Request{}, badRequest(fmt.Sprintf("unsupported content type %q", mediaType))
	}

	if body.Language == "" {
		body.Language = s.opts.DefaultLanguage
	}

	return synthesis.Request{
		Text:       body.Text,
		Language:   body.Language,
		Speaker:    body.Speaker,
		RefAudioID: body.RefAudioID,
	}, nil
}

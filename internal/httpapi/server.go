// Package httpapi exposes the synthesis service over HTTP.
package httpapi

import (
	"context"
	"net/http"

	"github.com/book-expert/logger"
	"github.com/book-expert/speech-server/internal/asset"
	"github.com/book-expert/speech-server/internal/core"
	"github.com/book-expert/speech-server/internal/synthesis"
	"github.com/gorilla/mux"
	"golang.org/x/time/rate"
)

// Synthesizer runs one synthesis request end to end.
type Synthesizer interface {
	Synthesize(ctx context.Context, req synthesis.Request) (synthesis.Result, error)
}

// PoolStats reports the dispatcher's worker usage.
type PoolStats interface {
	Workers() int
	InFlight() int
}

// Transcriber produces a transcript for an uploaded clip.
type Transcriber interface {
	Transcribe(ctx context.Context, filename string, audio []byte, language string) (string, error)
}

// Options holds the deployment parameters of the HTTP surface.
type Options struct {
	Mode               core.Mode
	DefaultLanguage    string
	FrontendDir        string
	MaxUploadBytes     int64
	RateLimitPerSecond float64
	RateLimitBurst     int
}

// Deps are the collaborators the handlers call.
type Deps struct {
	Synthesizer Synthesizer
	Model       core.Model
	Pool        PoolStats
	References  *asset.Store
	Generated   *asset.Store
	// Transcriber is optional.
	Transcriber Transcriber
}

// Server holds the routes of the speech service.
type Server struct {
	opts    Options
	deps    Deps
	log     *logger.Logger
	limiter *rate.Limiter
	router  *mux.Router
}

// New builds the router for opts.Mode.
func New(opts Options, deps Deps, log *logger.Logger) *Server {
	server := &Server{
		opts:   opts,
		deps:   deps,
		log:    log,
		router: mux.NewRouter(),
	}

	if opts.RateLimitPerSecond > 0 {
		server.limiter = rate.NewLimiter(rate.Limit(opts.RateLimitPerSecond), max(opts.RateLimitBurst, 1))
	}

	server.registerRoutes()

	return server
}

// Handler returns the root handler with CORS and access logging applied.
func (s *Server) Handler() http.Handler {
	return cors(accessLog(s.log, s.router))
}

func (s *Server) registerRoutes() {
	base := WithMiddlewares(WithResponseHandler(s.log), WithRecover(s.log))
	limited := WithMiddlewares(WithResponseHandler(s.log), WithRecover(s.log), WithRateLimit(s.limiter))

	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/status", Adapt(base(s.status))).Methods(http.MethodGet)
	api.HandleFunc("/languages", Adapt(base(s.languages))).Methods(http.MethodGet)
	api.HandleFunc("/tts", Adapt(limited(s.synthesize))).Methods(http.MethodPost)
	api.HandleFunc("/audio/{id}", Adapt(base(s.deleteAudio))).Methods(http.MethodDelete)

	switch s.opts.Mode {
	case core.ModeSpeaker:
		api.HandleFunc("/speakers", Adapt(base(s.speakers))).Methods(http.MethodGet)
	case core.ModeClone:
		api.HandleFunc("/ref_audios", Adapt(base(s.listReferences))).Methods(http.MethodGet)
		api.HandleFunc("/upload_ref_audio", Adapt(base(s.uploadReference))).Methods(http.MethodPost)
		api.HandleFunc("/ref_audio/{id}", Adapt(base(s.deleteReference))).Methods(http.MethodDelete)
	case core.ModePlain:
	}

	s.router.HandleFunc("/audio/{file}", Adapt(base(s.serveAsset(s.deps.Generated)))).
		Methods(http.MethodGet, http.MethodHead)

	if s.opts.Mode == core.ModeClone {
		s.router.HandleFunc("/ref_audio/{file}", Adapt(base(s.serveAsset(s.deps.References)))).
			Methods(http.MethodGet, http.MethodHead)
	}

	s.registerFrontend(base)
}

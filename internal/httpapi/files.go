package httpapi

import (
	"bytes"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/book-expert/speech-server/internal/asset"
	"github.com/gorilla/mux"
)

const (
	indexFile = "index.html"
	assetsDir = "assets"
)

// serveAsset streams {id}.wav from store with range support.
func (s *Server) serveAsset(store *asset.Store) HandlerFunc {
	return func(writer http.ResponseWriter, request *http.Request) (any, error) {
		file := mux.Vars(request)["file"]

		id, ok := strings.CutSuffix(file, asset.BlobExt)
		if !ok {
			return nil, errNotFound
		}

		blob, err := store.Blob(request.Context(), id)
		if err != nil {
			return nil, err
		}

		writer.Header().Set("Content-Type", "audio/wav")
		http.ServeContent(writer, request, file, time.Time{}, bytes.NewReader(blob))

		return nil, nil
	}
}

// registerFrontend serves a pre-built frontend when one is configured, and
// a status document at / otherwise.
func (s *Server) registerFrontend(base Middleware) {
	dir := s.opts.FrontendDir
	index := filepath.Join(dir, indexFile)

	hasIndex := false
	if dir != "" {
		if info, err := os.Stat(index); err == nil && !info.IsDir() {
			hasIndex = true
		}
	}

	if hasIndex {
		assets := filepath.Join(dir, assetsDir)
		if info, err := os.Stat(assets); err == nil && info.IsDir() {
			s.router.PathPrefix("/assets/").Handler(http.StripPrefix("/assets/", http.FileServer(http.Dir(assets))))
		}
	}

	s.router.HandleFunc("/", Adapt(base(func(writer http.ResponseWriter, request *http.Request) (any, error) {
		if hasIndex {
			http.ServeFile(writer, request, index)

			return nil, nil
		}

		info := s.deps.Model.Info()

		return map[string]string{
			"status": "running",
			"model":  info.Name,
			"device": info.Device,
		}, nil
	}))).Methods(http.MethodGet, http.MethodHead)
}

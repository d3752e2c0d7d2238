package inference

import (
	"fmt"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/speech-server/internal/config"
	"github.com/book-expert/speech-server/internal/core"
)

// NewBackend builds the backend selected by cfg.Backend.
func NewBackend(cfg config.ModelConfig, log *logger.Logger) (core.Backend, error) {
	switch cfg.Backend {
	case config.BackendHTTP:
		return NewHTTPBackend(cfg.ServiceURL, time.Duration(cfg.TimeoutSeconds)*time.Second), nil
	case config.BackendCommand:
		return NewCommandBackend(cfg.BinaryPath, cfg.ModelPath, cfg.Device, log), nil
	case config.BackendSilence:
		return NewSilenceBackend(), nil
	default:
		return nil, fmt.Errorf("%w: '%s'", config.ErrUnknownBackend, cfg.Backend)
	}
}

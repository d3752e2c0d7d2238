// main package for the speech-server
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/speech-server/internal/asset"
	"github.com/book-expert/speech-server/internal/config"
	"github.com/book-expert/speech-server/internal/core"
	"github.com/book-expert/speech-server/internal/httpapi"
	"github.com/book-expert/speech-server/internal/inference"
	"github.com/book-expert/speech-server/internal/objectstore"
	"github.com/book-expert/speech-server/internal/synthesis"
	"github.com/book-expert/speech-server/internal/textnorm"
	"github.com/book-expert/speech-server/internal/transcribe"
	"github.com/book-expert/speech-server/internal/worker"
	"github.com/hashicorp/go-multierror"
	"github.com/nats-io/nats.go"
)

const (
	bootstrapLogFile = "speech-server-bootstrap.log"
	serviceLogFile   = "speech-server.log"
)

func setupLogger(logPath, fileName string) (*logger.Logger, error) {
	log, err := logger.New(logPath, fileName)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger in %s: %w", logPath, err)
	}

	return log, nil
}

func loadConfig(path string, log *logger.Logger) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}

	return config.Load(log)
}

// service holds everything run has to shut down.
type service struct {
	cfg        *config.Config
	log        *logger.Logger
	natsConn   *nats.Conn
	runtime    *inference.Runtime
	dispatcher *synthesis.Dispatcher
	httpServer *http.Server
	worker     *worker.NatsWorker
}

func run() error {
	configPath := flag.String("config", "", "Path to a TOML config file (default: configurator lookup)")
	flag.Parse()

	bootstrapLog, err := setupLogger(os.TempDir(), bootstrapLogFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to create bootstrap logger: %v\n", err)

		return err
	}

	defer func() { _ = bootstrapLog.Close() }()

	cfg, err := loadConfig(*configPath, bootstrapLog)
	if err != nil {
		bootstrapLog.Error("Failed to load configuration: %v", err)

		return fmt.Errorf("failed to load configuration: %w", err)
	}

	finalLog, err := setupLogger(cfg.Paths.BaseLogsDir, serviceLogFile)
	if err != nil {
		bootstrapLog.Error("Failed to create final logger: %v", err)

		return err
	}

	defer func() {
		closeErr := finalLog.Close()
		if closeErr != nil {
			fmt.Fprintf(os.Stderr, "error closing final logger: %v\n", closeErr)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := build(ctx, cfg, finalLog)
	if err != nil {
		finalLog.Error("Failed to initialise speech server: %v", err)

		return err
	}

	return svc.serve(ctx)
}

func build(ctx context.Context, cfg *config.Config, log *logger.Logger) (*service, error) {
	svc := &service{cfg: cfg, log: log}

	var jetstreamContext nats.JetStreamContext

	if cfg.UsesNATS() {
		natsConn, err := nats.Connect(cfg.NATS.URL, nats.Name("speech-server"))
		if err != nil {
			return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATS.URL, err)
		}

		svc.natsConn = natsConn

		jetstreamContext, err = natsConn.JetStream()
		if err != nil {
			natsConn.Close()

			return nil, fmt.Errorf("failed to get JetStream context: %w", err)
		}
	}

	refs, generated, err := openStores(cfg, jetstreamContext)
	if err != nil {
		svc.closeNATS()

		return nil, err
	}

	backend, err := inference.NewBackend(cfg.Model, log)
	if err != nil {
		svc.closeNATS()

		return nil, err
	}

	svc.runtime = inference.NewRuntime(
		backend,
		core.ModelInfo{Name: cfg.Model.Name, Device: cfg.Model.Device},
		time.Duration(cfg.Model.LoadTimeoutSeconds)*time.Second,
		log,
	)
	svc.runtime.Start(ctx)

	svc.dispatcher = synthesis.NewDispatcher(svc.runtime, cfg.Synthesis.Workers, cfg.SynthesisQueueDepth(), log)

	mode := core.Mode(cfg.Synthesis.Variant)
	validator := synthesis.NewValidator(synthesis.ValidatorConfig{
		Mode:           mode,
		DefaultSpeaker: cfg.Synthesis.DefaultSpeaker,
		MaxTextLength:  cfg.Synthesis.MaxTextLength,
	}, refs, log)

	orchestratorOpts := []synthesis.OrchestratorOption{synthesis.WithTimeout(cfg.SynthesisTimeout())}
	if cfg.Synthesis.NormalizeText {
		orchestratorOpts = append(orchestratorOpts, synthesis.WithNormalizer(textnorm.New().Normalize))
	}

	orchestrator := synthesis.NewOrchestrator(validator, svc.dispatcher, generated, log, orchestratorOpts...)

	deps := httpapi.Deps{
		Synthesizer: orchestrator,
		Model:       svc.runtime,
		Pool:        svc.dispatcher,
		References:  refs,
		Generated:   generated,
	}

	if cfg.Transcription.Enabled && mode == core.ModeClone {
		transcriber, err := transcribe.NewWhisper(cfg.Transcription)
		if err != nil {
			log.Warn("Reference transcription disabled: %v", err)
		} else {
			deps.Transcriber = transcriber
		}
	}

	api := httpapi.New(httpapi.Options{
		Mode:               mode,
		DefaultLanguage:    cfg.Synthesis.DefaultLanguage,
		FrontendDir:        cfg.Server.FrontendDir,
		MaxUploadBytes:     cfg.MaxUploadBytes(),
		RateLimitPerSecond: cfg.Server.RateLimitPerSecond,
		RateLimitBurst:     cfg.Server.RateLimitBurst,
	}, deps, log)

	svc.httpServer = &http.Server{
		Addr:              cfg.Addr(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: time.Duration(cfg.Server.ReadHeaderTimeoutSeconds) * time.Second,
	}

	if cfg.NATS.Enabled {
		svc.worker, err = newWorker(cfg, svc.natsConn, jetstreamContext, orchestrator, mode, log)
		if err != nil {
			_ = svc.shutdown()

			return nil, err
		}
	}

	return svc, nil
}

func openStores(cfg *config.Config, jetstreamContext nats.JetStreamContext) (*asset.Store, *asset.Store, error) {
	var refObjects, generatedObjects core.ObjectStore

	switch cfg.Storage.Backend {
	case config.StorageNATS:
		natsRefs, err := objectstore.New(jetstreamContext, cfg.NATS.ReferenceObjectBucket)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open reference bucket: %w", err)
		}

		natsGenerated, err := objectstore.New(jetstreamContext, cfg.NATS.AudioObjectStoreBucket)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open audio bucket: %w", err)
		}

		refObjects, generatedObjects = natsRefs, natsGenerated
	default:
		fsRefs, err := objectstore.NewFilesystem(cfg.Storage.ReferenceDir)
		if err != nil {
			return nil, nil, err
		}

		fsGenerated, err := objectstore.NewFilesystem(cfg.Storage.GeneratedDir)
		if err != nil {
			return nil, nil, err
		}

		refObjects, generatedObjects = fsRefs, fsGenerated
	}

	return asset.New("reference", refObjects), asset.New("generated", generatedObjects), nil
}

func newWorker(
	cfg *config.Config,
	natsConn *nats.Conn,
	jetstreamContext nats.JetStreamContext,
	synthesizer worker.Synthesizer,
	mode core.Mode,
	log *logger.Logger,
) (*worker.NatsWorker, error) {
	texts, err := objectstore.New(jetstreamContext, cfg.NATS.TextObjectStoreBucket)
	if err != nil {
		return nil, fmt.Errorf("failed to open text bucket: %w", err)
	}

	return worker.NewNatsWorker(natsConn, texts, synthesizer, worker.Options{
		Subject:       cfg.NATS.TextProcessedSubject,
		Queue:         cfg.NATS.ConsumerName,
		AudioSubject:  cfg.NATS.AudioChunkCreatedSubject,
		Mode:          mode,
		Language:      cfg.Synthesis.DefaultLanguage,
		HandleTimeout: time.Duration(cfg.Model.TimeoutSeconds) * time.Second,
		MaxConcurrent: cfg.Synthesis.Workers + cfg.SynthesisQueueDepth(),
	}, log)
}

// serve blocks until ctx is cancelled or a listener fails, then shuts down.
func (s *service) serve(ctx context.Context) error {
	errChan := make(chan error, 2)

	go func() {
		s.log.System("Speech server (%s variant) listening on %s", s.cfg.Synthesis.Variant, s.cfg.Addr())

		err := s.httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("http server failed: %w", err)
		}
	}()

	if s.worker != nil {
		go func() {
			err := s.worker.Run(ctx)
			if err != nil {
				errChan <- fmt.Errorf("nats worker failed: %w", err)
			}
		}()
	}

	var result *multierror.Error

	select {
	case <-ctx.Done():
		s.log.System("Shutdown signal received")
	case err := <-errChan:
		result = multierror.Append(result, err)
	}

	err := s.shutdown()
	if err != nil {
		result = multierror.Append(result, err)
	}

	return result.ErrorOrNil()
}

func (s *service) shutdown() error {
	var result *multierror.Error

	timeout := time.Duration(s.cfg.Server.ShutdownTimeoutSeconds) * time.Second

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if s.httpServer != nil {
		err := s.httpServer.Shutdown(shutdownCtx)
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("http shutdown: %w", err))
		}
	}

	if s.dispatcher != nil {
		s.dispatcher.Close()
	}

	if s.runtime != nil {
		err := s.runtime.Close()
		if err != nil {
			result = multierror.Append(result, err)
		}
	}

	s.closeNATS()
	s.log.System("Speech server stopped")

	return result.ErrorOrNil()
}

func (s *service) closeNATS() {
	if s.natsConn == nil {
		return
	}

	err := s.natsConn.Drain()
	if err != nil {
		s.log.Warn("Failed to drain NATS connection: %v", err)
		s.natsConn.Close()
	}
}

func main() {
	err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Service exited with error: %v\n", err)
		os.Exit(1)
	}
}

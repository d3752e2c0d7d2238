package inference

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/book-expert/logger"
	"github.com/book-expert/speech-server/internal/audio"
	"github.com/book-expert/speech-server/internal/core"
	"github.com/book-expert/speech-server/internal/fileutil"
)

var (
	// ErrBinaryNotFound is returned when the configured binary is not on PATH.
	ErrBinaryNotFound = errors.New("model binary not found")
	// ErrMissingReference is returned for clone input without reference audio.
	ErrMissingReference = errors.New("clone request without reference audio")
)

// CommandBackend runs a local synthesis binary once per request. The binary
// receives the text and voice on its command line and writes a WAV file.
type CommandBackend struct {
	binaryPath string
	modelPath  string
	device     string
	log        *logger.Logger
}

// NewCommandBackend returns a backend invoking binaryPath.
func NewCommandBackend(binaryPath, modelPath, device string, log *logger.Logger) *CommandBackend {
	return &CommandBackend{
		binaryPath: binaryPath,
		modelPath:  modelPath,
		device:     device,
		log:        log,
	}
}

// Load resolves the binary and the model file.
func (c *CommandBackend) Load(_ context.Context) error {
	resolved, err := exec.LookPath(c.binaryPath)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrBinaryNotFound, c.binaryPath, err)
	}

	c.binaryPath = resolved

	if c.modelPath != "" {
		modelPath, err := fileutil.ResolveModelPath(c.modelPath)
		if err != nil {
			return err
		}

		c.modelPath = modelPath
	}

	return nil
}

// Generate runs the binary and decodes the WAV it exports.
func (c *CommandBackend) Generate(ctx context.Context, in core.SynthesisInput) (core.Waveform, error) {
	workDir, err := os.MkdirTemp("", "speech-run-*")
	if err != nil {
		return core.Waveform{}, fmt.Errorf("failed to create work dir: %w", err)
	}

	defer func() {
		removeErr := os.RemoveAll(workDir)
		if removeErr != nil {
			c.log.Warn("Failed to remove work dir '%s': %v", workDir, removeErr)
		}
	}()

	outputPath := filepath.Join(workDir, "output.wav")

	args, err := c.args(in, workDir, outputPath)
	if err != nil {
		return core.Waveform{}, err
	}

	// #nosec G204 -- binary comes from configuration, arguments are passed without a shell
	cmd := exec.CommandContext(ctx, c.binaryPath, args...)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return core.Waveform{}, fmt.Errorf("%s execution failed: %w - output: %s", filepath.Base(c.binaryPath), err, string(output))
	}

	data, err := os.ReadFile(outputPath)
	if err != nil {
		return core.Waveform{}, fmt.Errorf("failed to read audio data from %s: %w", outputPath, err)
	}

	waveform, err := audio.DecodeWAV(data)
	if err != nil {
		return core.Waveform{}, fmt.Errorf("binary wrote unreadable audio: %w", err)
	}

	return waveform, nil
}

func (c *CommandBackend) args(in core.SynthesisInput, workDir, outputPath string) ([]string, error) {
	args := []string{
		"--language", in.Language,
		"--text", in.Text,
		"--output", outputPath,
	}

	if c.modelPath != "" {
		args = append(args, "--model", c.modelPath)
	}

	if c.device != "" {
		args = append(args, "--device", c.device)
	}

	switch in.Mode {
	case core.ModeSpeaker:
		args = append(args, "--speaker", in.Speaker)
	case core.ModeClone:
		if in.Reference == nil {
			return nil, ErrMissingReference
		}

		refPath := filepath.Join(workDir, "reference.wav")

		err := os.WriteFile(refPath, in.Reference.Audio, 0o600)
		if err != nil {
			return nil, fmt.Errorf("failed to write reference audio: %w", err)
		}

		args = append(args, "--ref-audio", refPath, "--ref-text", in.Reference.Transcript)
	case core.ModePlain:
	}

	return args, nil
}

// Close is a no-op; each Generate call owns its process.
func (c *CommandBackend) Close() error {
	return nil
}

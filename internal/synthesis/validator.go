package synthesis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/book-expert/logger"
	"github.com/book-expert/speech-server/internal/asset"
	"github.com/book-expert/speech-server/internal/catalog"
	"github.com/book-expert/speech-server/internal/core"
)

// Request is a synthesis request as received from a transport.
type Request struct {
	Text       string
	Language   string
	Speaker    string
	RefAudioID string
}

// ReferenceLookup resolves a reference asset to its blob and transcript.
type ReferenceLookup interface {
	Get(ctx context.Context, id string) ([]byte, *string, error)
}

// ValidatorConfig holds the deployment parameters of a Validator.
type ValidatorConfig struct {
	Mode           core.Mode
	DefaultSpeaker string
	MaxTextLength  int
}

// Validator checks requests against the catalogs and the reference store.
type Validator struct {
	cfg       ValidatorConfig
	languages catalog.LanguageSet
	speakers  catalog.SpeakerCatalog
	refs      ReferenceLookup
	log       *logger.Logger
}

// NewValidator returns a Validator. refs may be nil outside the clone mode.
func NewValidator(cfg ValidatorConfig, refs ReferenceLookup, log *logger.Logger) *Validator {
	return &Validator{
		cfg:       cfg,
		languages: catalog.Languages(),
		speakers:  catalog.Speakers(),
		refs:      refs,
		log:       log,
	}
}

// Mode returns the conditioning mode every request is validated for.
func (v *Validator) Mode() core.Mode {
	return v.cfg.Mode
}

// Validate turns req into model input, or returns a *ValidationError.
// It reads the reference store but never writes to it.
func (v *Validator) Validate(ctx context.Context, req Request) (core.SynthesisInput, error) {
	if !v.languages.Contains(req.Language) {
		supported := v.languages.List()

		return core.SynthesisInput{}, &ValidationError{
			Kind:      KindUnsupportedLanguage,
			Message:   fmt.Sprintf("unsupported language: %s, supported languages: %s", req.Language, strings.Join(supported, ", ")),
			Supported: supported,
		}
	}

	text, err := v.CheckText(req.Text)
	if err != nil {
		return core.SynthesisInput{}, err
	}

	input := core.SynthesisInput{Mode: v.cfg.Mode, Text: text, Language: req.Language}

	switch v.cfg.Mode {
	case core.ModeSpeaker:
		input.Speaker = v.resolveSpeaker(req.Speaker)
	case core.ModeClone:
		ref, err := v.resolveReference(ctx, req.RefAudioID)
		if err != nil {
			return core.SynthesisInput{}, err
		}

		input.Reference = ref
	case core.ModePlain:
	}

	return input, nil
}

// CheckText trims text and enforces the non-empty and length bounds.
func (v *Validator) CheckText(text string) (string, error) {
	text = strings.TrimSpace(text)
	length := utf8.RuneCountInString(text)

	if length == 0 {
		return "", validationf(KindInvalidText, "text cannot be empty")
	}

	if length > v.cfg.MaxTextLength {
		return "", validationf(
			KindInvalidText, "text is %d characters long, the limit is %d", length, v.cfg.MaxTextLength,
		)
	}

	return text, nil
}

// resolveSpeaker substitutes the default for unknown ids instead of failing.
func (v *Validator) resolveSpeaker(id string) string {
	if v.speakers.Has(id) {
		return id
	}

	v.log.Warn("Unknown speaker %q, using default speaker %s", id, v.cfg.DefaultSpeaker)

	return v.cfg.DefaultSpeaker
}

func (v *Validator) resolveReference(ctx context.Context, id string) (*core.Reference, error) {
	if id == "" || v.refs == nil {
		return nil, validationf(KindReferenceNotFound, "reference audio %q does not exist, upload one first", id)
	}

	blob, transcript, err := v.refs.Get(ctx, id)
	if err != nil {
		if errors.Is(err, asset.ErrNotFound) {
			return nil, validationf(KindReferenceNotFound, "reference audio %q does not exist, upload one first", id)
		}

		return nil, fmt.Errorf("failed to look up reference audio %s: %w", id, err)
	}

	if len(blob) == 0 {
		return nil, validationf(KindReferenceNotFound, "reference audio %q is empty", id)
	}

	if transcript == nil || strings.TrimSpace(*transcript) == "" {
		return nil, validationf(KindMissingTranscript, "reference audio %q has no transcript", id)
	}

	return &core.Reference{Audio: blob, Transcript: *transcript}, nil
}

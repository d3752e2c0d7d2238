package synthesis_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/book-expert/speech-server/internal/catalog"
	"github.com/book-expert/speech-server/internal/core"
	"github.com/book-expert/speech-server/internal/synthesis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validator(t *testing.T, mode core.Mode, refs synthesis.ReferenceLookup) *synthesis.Validator {
	t.Helper()

	return synthesis.NewValidator(synthesis.ValidatorConfig{
		Mode:           mode,
		DefaultSpeaker: "Vivian",
		MaxTextLength:  10,
	}, refs, newLogger(t))
}

func requireKind(t *testing.T, err error, kind synthesis.Kind) *synthesis.ValidationError {
	t.Helper()

	var validationErr *synthesis.ValidationError

	require.ErrorAs(t, err, &validationErr)
	assert.Equal(t, kind, validationErr.Kind)

	return validationErr
}

func TestValidate_UnsupportedLanguage(t *testing.T) {
	t.Parallel()

	for _, language := range []string{"Klingon", "english", ""} {
		_, err := validator(t, core.ModePlain, nil).Validate(context.Background(), synthesis.Request{
			Text: "hi", Language: language,
		})

		validationErr := requireKind(t, err, synthesis.KindUnsupportedLanguage)
		assert.Contains(t, validationErr.Message, "unsupported language: "+language)
		assert.Equal(t, catalog.Languages().List(), validationErr.Supported)
	}
}

func TestValidate_TextBounds(t *testing.T) {
	t.Parallel()

	v := validator(t, core.ModePlain, nil)
	ctx := context.Background()

	_, err := v.Validate(ctx, synthesis.Request{Text: "   \n", Language: "English"})
	requireKind(t, err, synthesis.KindInvalidText)

	_, err = v.Validate(ctx, synthesis.Request{Text: strings.Repeat("a", 11), Language: "English"})
	requireKind(t, err, synthesis.KindInvalidText)

	// Ten code points, thirty bytes.
	input, err := v.Validate(ctx, synthesis.Request{Text: "  " + strings.Repeat("测", 10) + " ", Language: "Chinese"})
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("测", 10), input.Text)
	assert.Equal(t, core.ModePlain, input.Mode)
	assert.Nil(t, input.Reference)
	assert.Empty(t, input.Speaker)
}

func TestValidate_UnknownSpeakerFallsBackToDefault(t *testing.T) {
	t.Parallel()

	v := validator(t, core.ModeSpeaker, nil)

	input, err := v.Validate(context.Background(), synthesis.Request{Text: "hi", Language: "English", Speaker: "Nobody"})
	require.NoError(t, err)
	assert.Equal(t, "Vivian", input.Speaker)

	input, err = v.Validate(context.Background(), synthesis.Request{Text: "hi", Language: "English", Speaker: "Ryan"})
	require.NoError(t, err)
	assert.Equal(t, "Ryan", input.Speaker)
}

func TestValidate_Reference(t *testing.T) {
	t.Parallel()

	refs := newAssetStore(t, "reference")
	ctx := context.Background()

	transcript := "Hello world"
	withText, err := refs.Put(ctx, []byte("wav"), &transcript)
	require.NoError(t, err)

	blank := "  "
	blankText, err := refs.Put(ctx, []byte("wav"), &blank)
	require.NoError(t, err)

	noText, err := refs.Put(ctx, []byte("wav"), nil)
	require.NoError(t, err)

	v := validator(t, core.ModeClone, refs)

	input, err := v.Validate(ctx, synthesis.Request{Text: "hi", Language: "English", RefAudioID: withText})
	require.NoError(t, err)
	require.NotNil(t, input.Reference)
	assert.Equal(t, []byte("wav"), input.Reference.Audio)
	assert.Equal(t, "Hello world", input.Reference.Transcript)

	for _, id := range []string{"", "ffffffff", "../secret"} {
		_, err = v.Validate(ctx, synthesis.Request{Text: "hi", Language: "English", RefAudioID: id})
		requireKind(t, err, synthesis.KindReferenceNotFound)
	}

	for _, id := range []string{blankText, noText} {
		_, err = v.Validate(ctx, synthesis.Request{Text: "hi", Language: "English", RefAudioID: id})
		requireKind(t, err, synthesis.KindMissingTranscript)
	}
}

var errStoreDown = errors.New("store unavailable")

type failingRefs struct{}

func (failingRefs) Get(context.Context, string) ([]byte, *string, error) {
	return nil, nil, errStoreDown
}

func TestValidate_ReferenceStoreFailureIsNotValidation(t *testing.T) {
	t.Parallel()

	_, err := validator(t, core.ModeClone, failingRefs{}).Validate(context.Background(), synthesis.Request{
		Text: "hi", Language: "English", RefAudioID: "abcd1234",
	})
	require.ErrorIs(t, err, errStoreDown)

	var validationErr *synthesis.ValidationError
	assert.NotErrorAs(t, err, &validationErr)
}

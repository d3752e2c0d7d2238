// Package synthesis validates synthesis requests, runs them on a bounded
// worker pool and persists the produced audio.
package synthesis

import (
	"errors"
	"fmt"
)

// Kind classifies a client-fixable request problem.
type Kind string

// Validation kinds.
const (
	KindUnsupportedLanguage Kind = "unsupported_language"
	KindInvalidText         Kind = "invalid_text"
	KindReferenceNotFound   Kind = "reference_not_found"
	KindMissingTranscript   Kind = "missing_transcript"
)

var (
	// ErrModelNotReady is returned while the model is still loading.
	ErrModelNotReady = errors.New("model is not loaded yet")
	// ErrDispatcherClosed is returned after the dispatcher shut down.
	ErrDispatcherClosed = errors.New("synthesis dispatcher is closed")
)

// ValidationError is a request the caller must fix before retrying.
type ValidationError struct {
	Kind      Kind
	Message   string
	Supported []string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// InferenceError is an opaque failure of the synthesis capability.
type InferenceError struct {
	Cause string
	Err   error
}

func (e *InferenceError) Error() string {
	return "speech generation failed: " + e.Cause
}

func (e *InferenceError) Unwrap() error {
	return e.Err
}

func newInferenceError(err error) *InferenceError {
	return &InferenceError{Cause: err.Error(), Err: err}
}

func validationf(kind Kind, format string, args ...any) *ValidationError {
	return &ValidationError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

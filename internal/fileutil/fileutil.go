// Package fileutil holds small path and formatting helpers.
package fileutil

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"
)

const (
	dirPermissions  = 0o750
	modelsDirName   = "models"
	envModelDir     = "SPEECH_MODEL_DIR"
	replacementChar = "_"
	maxFilenameLen  = 255
)

const (
	kilobyte = 1024
	megabyte = kilobyte * 1024
	gigabyte = megabyte * 1024

	secondsInMinute = 60
	secondsInHour   = 3600
)

// ErrModelNotFound is returned when no candidate location holds the model.
var ErrModelNotFound = errors.New("model not found")

// EnsureDir creates path and its parents when missing.
func EnsureDir(path string) error {
	err := os.MkdirAll(path, dirPermissions)
	if err != nil {
		return fmt.Errorf("failed to create directory %s: %w", path, err)
	}

	return nil
}

// ResolveModelPath finds name as given, under ./models, or under
// $SPEECH_MODEL_DIR, and returns the absolute path of the first hit.
func ResolveModelPath(name string) (string, error) {
	candidates := []string{name, filepath.Join(modelsDirName, name)}
	if dir := os.Getenv(envModelDir); dir != "" {
		candidates = append(candidates, filepath.Join(dir, name))
	}

	for _, candidate := range candidates {
		_, err := os.Stat(candidate)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}

		if err != nil {
			return "", fmt.Errorf("error checking model path %q: %w", candidate, err)
		}

		abs, err := filepath.Abs(candidate)
		if err != nil {
			return "", fmt.Errorf("could not resolve absolute path for %q: %w", candidate, err)
		}

		return abs, nil
	}

	return "", fmt.Errorf("%w: %s", ErrModelNotFound, name)
}

// FormatDuration renders seconds as "45.2s", "5m 30.5s" or "1h 15m".
func FormatDuration(seconds float64) string {
	switch {
	case seconds < secondsInMinute:
		return fmt.Sprintf("%.1fs", seconds)
	case seconds < secondsInHour:
		minutes := int(seconds / secondsInMinute)

		return fmt.Sprintf("%dm %.1fs", minutes, seconds-float64(minutes*secondsInMinute))
	default:
		hours := int(seconds / secondsInHour)
		minutes := int((seconds - float64(hours*secondsInHour)) / secondsInMinute)

		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
}

// FormatFileSize renders a byte count with a binary unit.
func FormatFileSize(bytes int64) string {
	switch {
	case bytes >= gigabyte:
		return fmt.Sprintf("%.1f GB", float64(bytes)/gigabyte)
	case bytes >= megabyte:
		return fmt.Sprintf("%.1f MB", float64(bytes)/megabyte)
	case bytes >= kilobyte:
		return fmt.Sprintf("%.1f KB", float64(bytes)/kilobyte)
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}

// SanitizeFilename drops any directory part of a client-supplied name and
// replaces characters that are invalid on common filesystems.
func SanitizeFilename(filename string) string {
	filename = filepath.Base(strings.ReplaceAll(filename, `\`, "/"))

	replacer := strings.NewReplacer(
		"<", replacementChar,
		">", replacementChar,
		":", replacementChar,
		`"`, replacementChar,
		"|", replacementChar,
		"?", replacementChar,
		"*", replacementChar,
	)

	filename = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}

		return r
	}, replacer.Replace(filename))

	if filename == "." || filename == "/" || filename == "" {
		return "upload"
	}

	if len(filename) > maxFilenameLen {
		ext := filepath.Ext(filename)
		if len(ext) > maxFilenameLen/2 {
			ext = ""
		}

		filename = strings.ToValidUTF8(filename[:maxFilenameLen-len(ext)], "") + ext
	}

	return filename
}

// Package audio converts between model waveforms and WAV files and decides
// which uploaded audio formats are accepted.
package audio

import (
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
)

// Format represents an audio container identified by file extension.
type Format string

// Known formats.
const (
	FormatWAV  Format = "wav"
	FormatMP3  Format = "mp3"
	FormatFLAC Format = "flac"
	FormatOGG  Format = "ogg"
	FormatM4A  Format = "m4a"
	FormatAAC  Format = "aac"
)

// ErrUnsupportedFormat is returned for uploads outside the allowlist.
var ErrUnsupportedFormat = errors.New("unsupported audio format")

var uploadFormats = []Format{FormatWAV, FormatMP3, FormatFLAC, FormatM4A}

// UploadFormats returns the extensions accepted for reference uploads.
func UploadFormats() []string {
	exts := make([]string, 0, len(uploadFormats))
	for _, format := range uploadFormats {
		exts = append(exts, "."+string(format))
	}

	return exts
}

// FormatOf returns the lower-cased extension of filename without the dot.
func FormatOf(filename string) Format {
	return Format(strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), "."))
}

// CheckUpload returns ErrUnsupportedFormat unless filename has an accepted extension.
func CheckUpload(filename string) error {
	format := FormatOf(filename)
	if slices.Contains(uploadFormats, format) {
		return nil
	}

	return fmt.Errorf(
		"%w: %q, supported: %s",
		ErrUnsupportedFormat,
		filepath.Ext(filename),
		strings.Join(UploadFormats(), ", "),
	)
}

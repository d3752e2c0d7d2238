package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/book-expert/speech-server/internal/core"
)

const (
	riffHeaderSize  = 12
	chunkHeaderSize = 8
	fmtChunkSize    = 16
	headerSize      = riffHeaderSize + chunkHeaderSize + fmtChunkSize + chunkHeaderSize

	formatPCM   = 1
	formatFloat = 3

	bitsPerSample = 16
	maxInt16      = 32767
)

var (
	// ErrInvalidWAV is returned when bytes are not a readable WAV file.
	ErrInvalidWAV = errors.New("invalid wav data")
	// ErrInvalidWaveform is returned when a waveform cannot be encoded.
	ErrInvalidWaveform = errors.New("invalid waveform")
)

// EncodeWAV writes w as mono 16-bit PCM.
func EncodeWAV(w core.Waveform) ([]byte, error) {
	if w.SampleRate <= 0 {
		return nil, fmt.Errorf("%w: sample rate %d", ErrInvalidWaveform, w.SampleRate)
	}

	dataSize := len(w.Samples) * 2
	buf := make([]byte, headerSize+dataSize)

	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(headerSize-8+dataSize))
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], fmtChunkSize)
	binary.LittleEndian.PutUint16(buf[20:22], formatPCM)
	binary.LittleEndian.PutUint16(buf[22:24], 1)
	binary.LittleEndian.PutUint32(buf[24:28], uint32(w.SampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(w.SampleRate*2))
	binary.LittleEndian.PutUint16(buf[32:34], 2)
	binary.LittleEndian.PutUint16(buf[34:36], bitsPerSample)
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))

	out := buf[headerSize:]
	for i, sample := range w.Samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(toInt16(sample)))
	}

	return buf, nil
}

type wavFormat struct {
	audioFormat   uint16
	channels      int
	sampleRate    int
	bitsPerSample int
}

// DecodeWAV reads 8/16/24/32-bit PCM or 32-bit float WAV data into a mono
// waveform, averaging channels. Chunks other than fmt and data are skipped.
func DecodeWAV(data []byte) (core.Waveform, error) {
	if len(data) < riffHeaderSize || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return core.Waveform{}, fmt.Errorf("%w: missing RIFF/WAVE header", ErrInvalidWAV)
	}

	var (
		format  *wavFormat
		payload []byte
	)

	for offset := riffHeaderSize; offset+chunkHeaderSize <= len(data); {
		chunkID := string(data[offset : offset+4])
		size := int(binary.LittleEndian.Uint32(data[offset+4 : offset+8]))
		start := offset + chunkHeaderSize
		end := start + size

		if end > len(data) || end < start {
			// Streams written without a final size often leave the data size unset.
			if chunkID != "data" {
				return core.Waveform{}, fmt.Errorf("%w: chunk %q overruns file", ErrInvalidWAV, chunkID)
			}

			end = len(data)
		}

		switch chunkID {
		case "fmt ":
			parsed, err := parseFormat(data[start:end])
			if err != nil {
				return core.Waveform{}, err
			}

			format = parsed
		case "data":
			payload = data[start:end]
		}

		offset = end + size%2
	}

	if format == nil {
		return core.Waveform{}, fmt.Errorf("%w: no fmt chunk", ErrInvalidWAV)
	}

	if payload == nil {
		return core.Waveform{}, fmt.Errorf("%w: no data chunk", ErrInvalidWAV)
	}

	samples, err := decodeSamples(payload, format)
	if err != nil {
		return core.Waveform{}, err
	}

	return core.Waveform{Samples: samples, SampleRate: format.sampleRate}, nil
}

// Duration returns the waveform length in seconds rounded to two decimals.
func Duration(w core.Waveform) float64 {
	return math.Round(w.Seconds()*100) / 100
}

func parseFormat(chunk []byte) (*wavFormat, error) {
	if len(chunk) < fmtChunkSize {
		return nil, fmt.Errorf("%w: short fmt chunk", ErrInvalidWAV)
	}

	format := &wavFormat{
		audioFormat:   binary.LittleEndian.Uint16(chunk[0:2]),
		channels:      int(binary.LittleEndian.Uint16(chunk[2:4])),
		sampleRate:    int(binary.LittleEndian.Uint32(chunk[4:8])),
		bitsPerSample: int(binary.LittleEndian.Uint16(chunk[14:16])),
	}

	// WAVE_FORMAT_EXTENSIBLE carries the real format in the sub-format GUID.
	if format.audioFormat == 0xFFFE && len(chunk) >= 26 {
		format.audioFormat = binary.LittleEndian.Uint16(chunk[24:26])
	}

	if format.channels < 1 || format.sampleRate < 1 {
		return nil, fmt.Errorf("%w: %d channels at %d Hz", ErrInvalidWAV, format.channels, format.sampleRate)
	}

	switch {
	case format.audioFormat == formatPCM && supportedPCMDepth(format.bitsPerSample):
	case format.audioFormat == formatFloat && format.bitsPerSample == 32:
	default:
		return nil, fmt.Errorf(
			"%w: unsupported encoding %d at %d bits",
			ErrInvalidWAV, format.audioFormat, format.bitsPerSample,
		)
	}

	return format, nil
}

func supportedPCMDepth(bits int) bool {
	return bits == 8 || bits == 16 || bits == 24 || bits == 32
}

func decodeSamples(payload []byte, format *wavFormat) ([]float32, error) {
	width := format.bitsPerSample / 8
	frameSize := width * format.channels
	frames := len(payload) / frameSize
	samples := make([]float32, frames)
	reader := bytes.NewReader(payload[:frames*frameSize])
	raw := make([]byte, width)

	for frame := range frames {
		var sum float32

		for range format.channels {
			_, err := reader.Read(raw)
			if err != nil {
				return nil, fmt.Errorf("%w: %w", ErrInvalidWAV, err)
			}

			sum += sampleValue(raw, format)
		}

		samples[frame] = sum / float32(format.channels)
	}

	return samples, nil
}

func sampleValue(raw []byte, format *wavFormat) float32 {
	if format.audioFormat == formatFloat {
		return math.Float32frombits(binary.LittleEndian.Uint32(raw))
	}

	switch format.bitsPerSample {
	case 8:
		return (float32(raw[0]) - 128) / 128
	case 16:
		return float32(int16(binary.LittleEndian.Uint16(raw))) / 32768
	case 24:
		value := int32(raw[0]) | int32(raw[1])<<8 | int32(int8(raw[2]))<<16

		return float32(value) / 8388608
	default:
		return float32(int32(binary.LittleEndian.Uint32(raw))) / 2147483648
	}
}

func toInt16(sample float32) int16 {
	if math.IsNaN(float64(sample)) {
		return 0
	}

	clamped := max(-1, min(1, sample))

	return int16(math.Round(float64(clamped) * maxInt16))
}

package codec

import (
	"encoding/binary"

	"github.com/MarcelGaertner1234/KI-Voice-Agent/pkg/errorsx"
)

const wavHeaderSize = 44

// WrapWAV prepends a RIFF/WAVE header describing uncompressed PCM to the
// given sample bytes. Pure function, no I/O.
func WrapWAV(pcm []byte, sampleRate, channels, bitDepth int) []byte {
	if channels <= 0 {
		channels = 1
	}
	if bitDepth <= 0 {
		bitDepth = 16
	}
	blockAlign := channels * bitDepth / 8
	byteRate := sampleRate * blockAlign

	out := make([]byte, wavHeaderSize+len(pcm))
	copy(out[0:4], "RIFF")
	binary.LittleEndian.PutUint32(out[4:8], uint32(36+len(pcm)))
	copy(out[8:12], "WAVE")
	copy(out[12:16], "fmt ")
	binary.LittleEndian.PutUint32(out[16:20], 16)
	binary.LittleEndian.PutUint16(out[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(out[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(out[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(out[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(out[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(out[34:36], uint16(bitDepth))
	copy(out[36:40], "data")
	binary.LittleEndian.PutUint32(out[40:44], uint32(len(pcm)))
	copy(out[wavHeaderSize:], pcm)
	return out
}

// ParseWAV extracts the PCM payload and sample rate from a mono 16-bit WAV
// container produced by WrapWAV or an equivalent encoder.
func ParseWAV(data []byte) ([]byte, int, error) {
	if len(data) < wavHeaderSize {
		return nil, 0, wavError("container shorter than header")
	}
	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, 0, wavError("missing RIFF/WAVE markers")
	}
	if string(data[12:16]) != "fmt " {
		return nil, 0, wavError("missing fmt chunk")
	}
	if format := binary.LittleEndian.Uint16(data[20:22]); format != 1 {
		return nil, 0, wavError("not uncompressed PCM")
	}
	if depth := binary.LittleEndian.Uint16(data[34:36]); depth != 16 {
		return nil, 0, wavError("only 16-bit samples supported")
	}
	if string(data[36:40]) != "data" {
		return nil, 0, wavError("missing data chunk")
	}
	sampleRate := int(binary.LittleEndian.Uint32(data[24:28]))
	size := int(binary.LittleEndian.Uint32(data[40:44]))
	if size > len(data)-wavHeaderSize {
		return nil, 0, wavError("data chunk truncated")
	}
	return data[wavHeaderSize : wavHeaderSize+size], sampleRate, nil
}

// WAVDuration returns the playback duration in seconds of a parsed container.
func WAVDuration(data []byte) (float64, error) {
	pcm, rate, err := ParseWAV(data)
	if err != nil {
		return 0, err
	}
	if rate == 0 {
		return 0, wavError("zero sample rate")
	}
	return float64(len(pcm)/2) / float64(rate), nil
}

func wavError(detail string) error {
	return errorsx.Wrap(&errorsx.DecodeError{Format: "wav", Detail: detail}, errorsx.ReasonCodecDecode)
}

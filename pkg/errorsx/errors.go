package errorsx

import (
	"errors"
	"fmt"
)

// ErrDuplicateStream is returned when a session is created for a stream
// identifier that is already registered.
var ErrDuplicateStream = errors.New("stream id already registered")

// ErrInvalidLength is returned by codec compression when the PCM input does
// not hold a whole number of 16-bit samples.
var ErrInvalidLength = errors.New("pcm length must be even")

// ErrStreamClosed is returned when media is pushed to a session that has
// already been torn down.
var ErrStreamClosed = errors.New("stream session closed")

// DecodeError reports structurally invalid audio input.
type DecodeError struct {
	Format string
	Detail string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %s", e.Format, e.Detail)
}

// TranscriptionError reports a failed transcription attempt with a
// human-readable reason.
type TranscriptionError struct {
	Provider string
	Message  string
	Err      error
}

func (e *TranscriptionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s transcription: %s: %v", e.Provider, e.Message, e.Err)
	}
	return fmt.Sprintf("%s transcription: %s", e.Provider, e.Message)
}

func (e *TranscriptionError) Unwrap() error { return e.Err }

// ConfigError reports a collaborator that cannot be constructed because
// required configuration is missing. Callers must not treat an unconfigured
// provider like an empty result.
type ConfigError struct {
	Provider string
	Field    string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s: missing %s", e.Provider, e.Field)
}

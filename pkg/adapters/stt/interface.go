package stt

import "context"

// Transcriber defines the contract for any transcription vendor. Audio
// arrives as a complete utterance in a self-describing WAV container.
// Implementations must be safe for concurrent calls from independent
// sessions.
type Transcriber interface {
	// Name returns adapter name for logging/metrics.
	Name() string
	// Transcribe converts container-wrapped audio to text. The language hint
	// may be empty.
	Transcribe(ctx context.Context, wav []byte, language string) (string, error)
}

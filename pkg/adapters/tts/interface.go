package tts

import "context"

// Synthesizer defines the contract for any speech synthesis vendor. Output
// is 16-bit linear PCM at the configured sample rate, ready for codec
// compression back onto the wire.
type Synthesizer interface {
	// Name returns adapter name for logging/metrics.
	Name() string
	// Synthesize renders text as PCM audio.
	Synthesize(ctx context.Context, text string, voice VoiceConfig) ([]byte, error)
}

// VoiceConfig carries recognized voice options as named fields. Unset
// numeric fields fall back to the provider's defaults.
type VoiceConfig struct {
	VoiceID         string
	ModelID         string
	Stability       float64
	SimilarityBoost float64
	SpeakerBoost    bool
}

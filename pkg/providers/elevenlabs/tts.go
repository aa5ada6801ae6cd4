package elevenlabs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/MarcelGaertner1234/KI-Voice-Agent/pkg/adapters/tts"
	"github.com/MarcelGaertner1234/KI-Voice-Agent/pkg/errorsx"
	"github.com/MarcelGaertner1234/KI-Voice-Agent/pkg/resilience"
)

const defaultVoiceID = "21m00Tcm4TlvDq8ikWAM"

type Config struct {
	APIKey       string
	VoiceID      string
	ModelID      string
	OutputFormat string
	BaseURL      string
	Timeout      time.Duration
}

// Synthesizer renders reply text through the ElevenLabs HTTP API. The
// default output format is raw 16-bit PCM at 8kHz so the result can go
// straight through mu-law compression onto the telephony leg.
type Synthesizer struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger
}

func New(cfg Config) (*Synthesizer, error) {
	if cfg.APIKey == "" {
		return nil, &errorsx.ConfigError{Provider: "elevenlabs", Field: "api_key"}
	}
	if cfg.VoiceID == "" {
		cfg.VoiceID = defaultVoiceID
	}
	if cfg.ModelID == "" {
		cfg.ModelID = "eleven_multilingual_v2"
	}
	if cfg.OutputFormat == "" {
		cfg.OutputFormat = "pcm_8000"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.elevenlabs.io/v1"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Synthesizer{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: slog.Default().With(slog.String("component", "elevenlabs_tts")),
	}, nil
}

func (s *Synthesizer) Name() string { return "elevenlabs" }

func (s *Synthesizer) Synthesize(ctx context.Context, text string, voice tts.VoiceConfig) ([]byte, error) {
	if text == "" {
		return nil, errors.New("no text to synthesize")
	}
	voiceID := voice.VoiceID
	if voiceID == "" {
		voiceID = s.cfg.VoiceID
	}
	modelID := voice.ModelID
	if modelID == "" {
		modelID = s.cfg.ModelID
	}
	settings := map[string]any{
		"stability":         0.5,
		"similarity_boost":  0.75,
		"style":             0.0,
		"use_speaker_boost": true,
	}
	if voice.Stability > 0 {
		settings["stability"] = voice.Stability
	}
	if voice.SimilarityBoost > 0 {
		settings["similarity_boost"] = voice.SimilarityBoost
	}
	if voice.SpeakerBoost {
		settings["use_speaker_boost"] = true
	}
	payload, err := json.Marshal(map[string]any{
		"text":           text,
		"model_id":       modelID,
		"voice_settings": settings,
	})
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/text-to-speech/%s?output_format=%s", s.cfg.BaseURL, voiceID, s.cfg.OutputFormat)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("xi-api-key", s.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		reason := errorsx.ReasonSynthesizeConnect
		if errors.Is(err, context.DeadlineExceeded) {
			reason = errorsx.ReasonSynthesizeTimeout
		}
		return nil, errorsx.Wrap(err, reason)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, resilience.RateLimitError{Provider: "elevenlabs", Message: resp.Status}
	}
	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, errorsx.Wrap(
			fmt.Errorf("elevenlabs status %d: %s", resp.StatusCode, bytes.TrimSpace(detail)),
			errorsx.ReasonSynthesizeConnect)
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonSynthesizeConnect)
	}
	s.logger.Debug("synthesis_done",
		slog.Int("text_chars", len(text)),
		slog.Int("audio_bytes", len(audio)))
	return audio, nil
}

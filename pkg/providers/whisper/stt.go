package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/MarcelGaertner1234/KI-Voice-Agent/pkg/errorsx"
	"github.com/MarcelGaertner1234/KI-Voice-Agent/pkg/resilience"
)

type Config struct {
	APIKey     string
	Model      string
	BaseURL    string
	MaxAudioMB int
	Timeout    time.Duration
}

// Transcriber sends complete utterances to the OpenAI transcription endpoint
// as multipart uploads.
type Transcriber struct {
	cfg    Config
	client *http.Client
	retry  resilience.RetryPolicy
	logger *slog.Logger
}

func New(cfg Config) (*Transcriber, error) {
	if cfg.APIKey == "" {
		return nil, &errorsx.ConfigError{Provider: "whisper", Field: "api_key"}
	}
	if cfg.Model == "" {
		cfg.Model = "whisper-1"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.MaxAudioMB <= 0 {
		cfg.MaxAudioMB = 25
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Transcriber{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		retry:  resilience.NewRetryPolicy(2, 200*time.Millisecond),
		logger: slog.Default().With(slog.String("component", "whisper_stt")),
	}, nil
}

func (t *Transcriber) Name() string { return "whisper" }

func (t *Transcriber) Transcribe(ctx context.Context, wav []byte, language string) (string, error) {
	if len(wav) == 0 {
		return "", &errorsx.TranscriptionError{Provider: "whisper", Message: "empty audio"}
	}
	if mb := float64(len(wav)) / (1 << 20); mb > float64(t.cfg.MaxAudioMB) {
		return "", errorsx.Wrap(&errorsx.TranscriptionError{
			Provider: "whisper",
			Message:  fmt.Sprintf("audio too large: %.2fMB (max %dMB)", mb, t.cfg.MaxAudioMB),
		}, errorsx.ReasonTranscribeOversize)
	}

	var text string
	err := t.retry.Do(ctx, func() error {
		var attemptErr error
		text, attemptErr = t.request(ctx, wav, language)
		return attemptErr
	})
	if err != nil {
		return "", err
	}
	t.logger.Debug("transcription_done",
		slog.Int("audio_bytes", len(wav)),
		slog.Int("text_chars", len(text)))
	return text, nil
}

func (t *Transcriber) request(ctx context.Context, wav []byte, language string) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return "", err
	}
	if _, err := part.Write(wav); err != nil {
		return "", err
	}
	_ = mw.WriteField("model", t.cfg.Model)
	if language != "" {
		_ = mw.WriteField("language", language)
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.cfg.BaseURL+"/audio/transcriptions", &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+t.cfg.APIKey)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := t.client.Do(req)
	if err != nil {
		reason := errorsx.ReasonTranscribeConnect
		if errors.Is(err, context.DeadlineExceeded) {
			reason = errorsx.ReasonTranscribeTimeout
		}
		return "", errorsx.Wrap(&errorsx.TranscriptionError{Provider: "whisper", Message: "request failed", Err: err}, reason)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return "", resilience.RateLimitError{Provider: "whisper", Message: resp.Status}
	}
	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", &errorsx.TranscriptionError{
			Provider: "whisper",
			Message:  fmt.Sprintf("status %d: %s", resp.StatusCode, bytes.TrimSpace(detail)),
		}
	}

	var parsed struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", &errorsx.TranscriptionError{Provider: "whisper", Message: "malformed response", Err: err}
	}
	return parsed.Text, nil
}

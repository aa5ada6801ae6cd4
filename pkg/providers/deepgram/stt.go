package deepgram

import (
	"bytes"
	"context"
	"log/slog"
	"time"

	"github.com/MarcelGaertner1234/KI-Voice-Agent/pkg/errorsx"
	"github.com/MarcelGaertner1234/KI-Voice-Agent/pkg/logging"

	api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/rest"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	client "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
)

type Config struct {
	APIKey   string
	Model    string
	Language string
	Timeout  time.Duration
}

// Transcriber submits complete utterances to Deepgram's prerecorded REST API.
// Unlike the streaming listen API this matches the pipeline's
// one-utterance-one-request hand-off.
type Transcriber struct {
	cfg    Config
	rest   *api.Client
	logger *slog.Logger
}

func New(cfg Config) (*Transcriber, error) {
	if cfg.APIKey == "" {
		return nil, &errorsx.ConfigError{Provider: "deepgram", Field: "api_key"}
	}
	if cfg.Model == "" {
		cfg.Model = "nova-2"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	c := client.NewREST(cfg.APIKey, &interfaces.ClientOptions{})
	return &Transcriber{
		cfg:    cfg,
		rest:   api.New(c),
		logger: logging.NewComponentLogger(slog.Default(), "deepgram_stt"),
	}, nil
}

func (t *Transcriber) Name() string { return "deepgram" }

func (t *Transcriber) Transcribe(ctx context.Context, wav []byte, language string) (string, error) {
	if len(wav) == 0 {
		return "", &errorsx.TranscriptionError{Provider: "deepgram", Message: "empty audio"}
	}
	if language == "" {
		language = t.cfg.Language
	}
	// The session loop context lives for the whole call; bound each request
	// so a hung upstream cannot stall the stream.
	ctx, cancel := context.WithTimeout(ctx, t.cfg.Timeout)
	defer cancel()
	options := &interfaces.PreRecordedTranscriptionOptions{
		Model:       t.cfg.Model,
		Language:    language,
		SmartFormat: true,
	}
	res, err := t.rest.FromStream(ctx, bytes.NewReader(wav), options)
	if err != nil {
		return "", errorsx.Wrap(&errorsx.TranscriptionError{
			Provider: "deepgram",
			Message:  "prerecorded request failed",
			Err:      err,
		}, errorsx.ReasonTranscribeConnect)
	}
	if res == nil || len(res.Results.Channels) == 0 ||
		len(res.Results.Channels[0].Alternatives) == 0 {
		return "", &errorsx.TranscriptionError{Provider: "deepgram", Message: "empty result set"}
	}
	text := res.Results.Channels[0].Alternatives[0].Transcript
	t.logger.Debug("transcription_done",
		slog.Int("audio_bytes", len(wav)),
		slog.Int("text_chars", len(text)))
	return text, nil
}

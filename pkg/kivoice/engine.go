package kivoice

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/MarcelGaertner1234/KI-Voice-Agent/pkg/adapters/convo"
	"github.com/MarcelGaertner1234/KI-Voice-Agent/pkg/adapters/tts"
	"github.com/MarcelGaertner1234/KI-Voice-Agent/pkg/configutil"
	"github.com/MarcelGaertner1234/KI-Voice-Agent/pkg/fanout"
	"github.com/MarcelGaertner1234/KI-Voice-Agent/pkg/logging"
	"github.com/MarcelGaertner1234/KI-Voice-Agent/pkg/stream"
	"github.com/MarcelGaertner1234/KI-Voice-Agent/pkg/transports/twilio"
)

// Engine ties the transport, session registry, dashboard hub and providers
// together. Everything it owns is injected or built here; there are no
// package-level singletons.
type Engine struct {
	cfg       Config
	registry  *stream.Registry
	hub       *fanout.Hub
	transport *twilio.Transport
	logger    *slog.Logger
}

func NewEngine(cfg Config, providers *ProviderRegistry) (*Engine, error) {
	logger := logging.Setup(cfg.LogLevel, cfg.LogFormat)
	if providers == nil {
		providers = DefaultRegistry()
	}

	transcriber, err := providers.BuildSTT(cfg.Vendors.STT)
	if err != nil {
		return nil, fmt.Errorf("build stt: %w", err)
	}
	synthesizer, err := providers.BuildTTS(cfg.Vendors.TTS)
	if err != nil {
		return nil, fmt.Errorf("build tts: %w", err)
	}
	replier, err := providers.BuildLLM(cfg.Vendors.LLM)
	if err != nil {
		return nil, fmt.Errorf("build llm: %w", err)
	}

	registry := stream.NewRegistry()
	hub := fanout.NewHub()

	deps := stream.Deps{
		Transcriber: transcriber,
		Replier:     replier,
		Synthesizer: synthesizer,
		VAD:         cfg.VAD.Detector(),
		AdaptiveVAD: cfg.VAD.Adaptive,
		Agent: convo.AgentConfig{
			Name:     cfg.Agent.Name,
			System:   cfg.Agent.System,
			Language: cfg.Agent.Language,
			Greeting: cfg.Agent.Greeting,
			VoiceID:  cfg.Agent.VoiceID,
		},
		Voice: tts.VoiceConfig{
			VoiceID:         cfg.Agent.VoiceID,
			Stability:       cfg.Agent.Stability,
			SimilarityBoost: cfg.Agent.Similarity,
		},
		Logger: logger,
	}

	var transportCfg twilio.Config
	if err := configutil.DecodeSettings(cfg.Transport.Settings, &transportCfg); err != nil {
		return nil, fmt.Errorf("decode transport settings: %w", err)
	}
	transport := twilio.New(transportCfg, registry, hub, deps)

	logger.Info("engine_init",
		slog.String("environment", cfg.Environment),
		slog.String("stt_provider", cfg.Vendors.STT.Provider),
		slog.String("tts_provider", cfg.Vendors.TTS.Provider),
		slog.String("llm_provider", cfg.Vendors.LLM.Provider))

	return &Engine{
		cfg:       cfg,
		registry:  registry,
		hub:       hub,
		transport: transport,
		logger:    logger,
	}, nil
}

// Start brings up the transport. It returns immediately; the transport owns
// its own accept loop.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.transport.Start(ctx); err != nil {
		return err
	}
	for k, v := range e.transport.ReadyFields() {
		e.logger.Info("transport_ready", slog.String(k, fmt.Sprint(v)))
	}
	return nil
}

// Drain shuts everything down in dependency order: no new streams, then
// sessions, then dashboard observers.
func (e *Engine) Drain() error {
	err := e.transport.Stop()
	e.registry.Shutdown()
	e.hub.Shutdown()
	return err
}

// Dial places an outbound call that will connect back into this engine.
func (e *Engine) Dial(ctx context.Context, to, from string) (string, error) {
	return e.transport.Dial(ctx, to, from, "")
}

// Registry exposes the session registry for dashboards and tests.
func (e *Engine) Registry() *stream.Registry { return e.registry }

// Hub exposes the dashboard event hub.
func (e *Engine) Hub() *fanout.Hub { return e.hub }

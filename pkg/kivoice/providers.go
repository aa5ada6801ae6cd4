package kivoice

import (
	"fmt"
	"strings"

	"github.com/MarcelGaertner1234/KI-Voice-Agent/pkg/adapters/convo"
	"github.com/MarcelGaertner1234/KI-Voice-Agent/pkg/adapters/stt"
	"github.com/MarcelGaertner1234/KI-Voice-Agent/pkg/adapters/tts"
	"github.com/MarcelGaertner1234/KI-Voice-Agent/pkg/configutil"
	"github.com/MarcelGaertner1234/KI-Voice-Agent/pkg/providers/deepgram"
	"github.com/MarcelGaertner1234/KI-Voice-Agent/pkg/providers/elevenlabs"
	"github.com/MarcelGaertner1234/KI-Voice-Agent/pkg/providers/mock"
	"github.com/MarcelGaertner1234/KI-Voice-Agent/pkg/providers/openai"
	"github.com/MarcelGaertner1234/KI-Voice-Agent/pkg/providers/whisper"
)

type STTFactory func(settings map[string]any) (stt.Transcriber, error)
type TTSFactory func(settings map[string]any) (tts.Synthesizer, error)
type LLMFactory func(settings map[string]any) (convo.Replier, error)

// ProviderRegistry maps vendor names from the config file to constructors.
// Construction fails loudly when required settings are missing; an
// unconfigured provider is never silently swapped for a no-op.
type ProviderRegistry struct {
	stt map[string]STTFactory
	tts map[string]TTSFactory
	llm map[string]LLMFactory
}

func NewProviderRegistry() *ProviderRegistry {
	return &ProviderRegistry{
		stt: make(map[string]STTFactory),
		tts: make(map[string]TTSFactory),
		llm: make(map[string]LLMFactory),
	}
}

// DefaultRegistry returns a registry with every built-in provider.
func DefaultRegistry() *ProviderRegistry {
	r := NewProviderRegistry()
	r.RegisterSTT("whisper", func(settings map[string]any) (stt.Transcriber, error) {
		var cfg whisper.Config
		if err := configutil.DecodeSettings(settings, &cfg); err != nil {
			return nil, err
		}
		return whisper.New(cfg)
	})
	r.RegisterSTT("deepgram", func(settings map[string]any) (stt.Transcriber, error) {
		var cfg deepgram.Config
		if err := configutil.DecodeSettings(settings, &cfg); err != nil {
			return nil, err
		}
		return deepgram.New(cfg)
	})
	r.RegisterSTT("mock", func(settings map[string]any) (stt.Transcriber, error) {
		return mock.NewTranscriber(""), nil
	})
	r.RegisterTTS("elevenlabs", func(settings map[string]any) (tts.Synthesizer, error) {
		var cfg elevenlabs.Config
		if err := configutil.DecodeSettings(settings, &cfg); err != nil {
			return nil, err
		}
		return elevenlabs.New(cfg)
	})
	r.RegisterTTS("mock", func(settings map[string]any) (tts.Synthesizer, error) {
		return mock.NewSynthesizer(nil), nil
	})
	r.RegisterLLM("openai", func(settings map[string]any) (convo.Replier, error) {
		var cfg openai.Config
		if err := configutil.DecodeSettings(settings, &cfg); err != nil {
			return nil, err
		}
		return openai.New(cfg)
	})
	r.RegisterLLM("mock", func(settings map[string]any) (convo.Replier, error) {
		return mock.NewReplier(""), nil
	})
	return r
}

func (r *ProviderRegistry) RegisterSTT(name string, factory STTFactory) {
	r.stt[normalizeProvider(name)] = factory
}

func (r *ProviderRegistry) RegisterTTS(name string, factory TTSFactory) {
	r.tts[normalizeProvider(name)] = factory
}

func (r *ProviderRegistry) RegisterLLM(name string, factory LLMFactory) {
	r.llm[normalizeProvider(name)] = factory
}

func (r *ProviderRegistry) BuildSTT(vendor VendorConfig) (stt.Transcriber, error) {
	fn := r.stt[normalizeProvider(vendor.Provider)]
	if fn == nil {
		return nil, fmt.Errorf("stt provider not registered: %s", vendor.Provider)
	}
	return fn(vendor.Settings)
}

func (r *ProviderRegistry) BuildTTS(vendor VendorConfig) (tts.Synthesizer, error) {
	fn := r.tts[normalizeProvider(vendor.Provider)]
	if fn == nil {
		return nil, fmt.Errorf("tts provider not registered: %s", vendor.Provider)
	}
	return fn(vendor.Settings)
}

func (r *ProviderRegistry) BuildLLM(vendor VendorConfig) (convo.Replier, error) {
	fn := r.llm[normalizeProvider(vendor.Provider)]
	if fn == nil {
		return nil, fmt.Errorf("llm provider not registered: %s", vendor.Provider)
	}
	return fn(vendor.Settings)
}

func normalizeProvider(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

package kivoice

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/MarcelGaertner1234/KI-Voice-Agent/pkg/vad"
)

type Config struct {
	Environment string          `mapstructure:"environment"`
	LogLevel    string          `mapstructure:"log_level"`
	LogFormat   string          `mapstructure:"log_format"`
	Vendors     VendorsConfig   `mapstructure:"vendors"`
	Transport   TransportConfig `mapstructure:"transport"`
	VAD         VADConfig       `mapstructure:"vad"`
	Agent       AgentConfig     `mapstructure:"agent"`
}

type VendorConfig struct {
	Provider string         `mapstructure:"provider"`
	Settings map[string]any `mapstructure:"settings"`
}

type VendorsConfig struct {
	STT VendorConfig `mapstructure:"stt"`
	TTS VendorConfig `mapstructure:"tts"`
	LLM VendorConfig `mapstructure:"llm"`
}

type TransportConfig struct {
	Settings map[string]any `mapstructure:"settings"`
}

type VADConfig struct {
	SampleRate      int     `mapstructure:"sample_rate"`
	FrameMS         int     `mapstructure:"frame_ms"`
	EnergyThreshold float64 `mapstructure:"energy_threshold"`
	UseZeroCrossing bool    `mapstructure:"use_zero_crossing"`
	Adaptive        bool    `mapstructure:"adaptive"`
	SpeechPadMS     int     `mapstructure:"speech_pad_ms"`
	MinSpeechMS     int     `mapstructure:"min_speech_ms"`
	MaxSilenceMS    int     `mapstructure:"max_silence_ms"`
}

// Detector converts the millisecond-based file form into the detector's
// duration config.
func (c VADConfig) Detector() vad.Config {
	return vad.Config{
		SampleRate:         c.SampleRate,
		FrameDuration:      time.Duration(c.FrameMS) * time.Millisecond,
		EnergyThreshold:    c.EnergyThreshold,
		UseZeroCrossing:    c.UseZeroCrossing,
		SpeechPad:          time.Duration(c.SpeechPadMS) * time.Millisecond,
		MinSpeechDuration:  time.Duration(c.MinSpeechMS) * time.Millisecond,
		MaxSilenceDuration: time.Duration(c.MaxSilenceMS) * time.Millisecond,
	}
}

type AgentConfig struct {
	Name       string  `mapstructure:"name"`
	System     string  `mapstructure:"system_prompt"`
	Language   string  `mapstructure:"language"`
	Greeting   string  `mapstructure:"greeting"`
	VoiceID    string  `mapstructure:"voice_id"`
	Stability  float64 `mapstructure:"stability"`
	Similarity float64 `mapstructure:"similarity_boost"`
}

func LoadConfig(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("vad.sample_rate", 8000)
	v.SetDefault("vad.frame_ms", 20)
	v.SetDefault("vad.energy_threshold", 0.01)
	v.SetDefault("vad.use_zero_crossing", false)
	v.SetDefault("vad.adaptive", false)
	v.SetDefault("vad.speech_pad_ms", 300)
	v.SetDefault("vad.min_speech_ms", 250)
	v.SetDefault("vad.max_silence_ms", 1500)
	v.SetDefault("agent.language", "de")
	v.SetDefault("agent.stability", 0.5)
	v.SetDefault("agent.similarity_boost", 0.75)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal: %w", err)
	}

	expandEnvStrings(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Vendors.STT.Provider) == "" {
		return fmt.Errorf("vendors.stt.provider is required")
	}
	if strings.TrimSpace(c.Vendors.TTS.Provider) == "" {
		return fmt.Errorf("vendors.tts.provider is required")
	}
	if strings.TrimSpace(c.Vendors.LLM.Provider) == "" {
		return fmt.Errorf("vendors.llm.provider is required")
	}
	return nil
}

// expandEnvStrings resolves ${VAR} references so API keys can stay out of
// config files.
func expandEnvStrings(cfg *Config) {
	cfg.Agent.System = os.ExpandEnv(cfg.Agent.System)
	cfg.Agent.Greeting = os.ExpandEnv(cfg.Agent.Greeting)
	cfg.Vendors.STT.Settings = expandSettings(cfg.Vendors.STT.Settings)
	cfg.Vendors.TTS.Settings = expandSettings(cfg.Vendors.TTS.Settings)
	cfg.Vendors.LLM.Settings = expandSettings(cfg.Vendors.LLM.Settings)
	cfg.Transport.Settings = expandSettings(cfg.Transport.Settings)
}

func expandSettings(settings map[string]any) map[string]any {
	if settings == nil {
		return nil
	}
	for k, v := range settings {
		settings[k] = expandAny(v)
	}
	return settings
}

func expandAny(v any) any {
	switch val := v.(type) {
	case string:
		return os.ExpandEnv(val)
	case []any:
		for i := range val {
			val[i] = expandAny(val[i])
		}
		return val
	case map[string]any:
		for k, v := range val {
			val[k] = expandAny(v)
		}
		return val
	default:
		return v
	}
}

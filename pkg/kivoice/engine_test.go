package kivoice

import (
	"errors"
	"testing"

	"github.com/MarcelGaertner1234/KI-Voice-Agent/pkg/errorsx"
)

func mockVendors() VendorsConfig {
	return VendorsConfig{
		STT: VendorConfig{Provider: "mock"},
		TTS: VendorConfig{Provider: "mock"},
		LLM: VendorConfig{Provider: "mock"},
	}
}

func TestNewEngineWiresMockProviders(t *testing.T) {
	cfg := Config{Vendors: mockVendors()}
	engine, err := NewEngine(cfg, DefaultRegistry())
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	if engine.Registry() == nil || engine.Hub() == nil {
		t.Fatalf("engine missing registry or hub")
	}
	if err := engine.Drain(); err != nil {
		t.Fatalf("drain: %v", err)
	}
}

func TestNewEngineFailsOnUnknownProvider(t *testing.T) {
	cfg := Config{Vendors: mockVendors()}
	cfg.Vendors.LLM.Provider = "nonexistent"
	if _, err := NewEngine(cfg, DefaultRegistry()); err == nil {
		t.Fatalf("expected error for unknown llm provider")
	}
}

// An unconfigured provider must fail construction, not degrade to a no-op.
func TestNewEngineFailsWithoutAPIKey(t *testing.T) {
	cfg := Config{Vendors: mockVendors()}
	cfg.Vendors.STT = VendorConfig{Provider: "whisper"}
	_, err := NewEngine(cfg, DefaultRegistry())
	if err == nil {
		t.Fatalf("expected error for missing whisper api key")
	}
	var ce *errorsx.ConfigError
	if !errors.As(err, &ce) {
		t.Fatalf("expected ConfigError, got %v", err)
	}
	if ce.Provider != "whisper" || ce.Field != "api_key" {
		t.Fatalf("unexpected config error detail: %+v", ce)
	}
}

func TestProviderRegistryBuildsAllBuiltins(t *testing.T) {
	r := DefaultRegistry()

	cases := []struct {
		vendor VendorConfig
		build  func(VendorConfig) (string, error)
	}{
		{VendorConfig{Provider: "whisper", Settings: map[string]any{"api_key": "sk"}},
			func(v VendorConfig) (string, error) {
				p, err := r.BuildSTT(v)
				if err != nil {
					return "", err
				}
				return p.Name(), nil
			}},
		{VendorConfig{Provider: "deepgram", Settings: map[string]any{"api_key": "dg"}},
			func(v VendorConfig) (string, error) {
				p, err := r.BuildSTT(v)
				if err != nil {
					return "", err
				}
				return p.Name(), nil
			}},
		{VendorConfig{Provider: "elevenlabs", Settings: map[string]any{"api_key": "el"}},
			func(v VendorConfig) (string, error) {
				p, err := r.BuildTTS(v)
				if err != nil {
					return "", err
				}
				return p.Name(), nil
			}},
		{VendorConfig{Provider: "openai", Settings: map[string]any{"api_key": "oa"}},
			func(v VendorConfig) (string, error) {
				p, err := r.BuildLLM(v)
				if err != nil {
					return "", err
				}
				return p.Name(), nil
			}},
	}
	for _, tc := range cases {
		name, err := tc.build(tc.vendor)
		if err != nil {
			t.Fatalf("build %s: %v", tc.vendor.Provider, err)
		}
		if name != tc.vendor.Provider {
			t.Fatalf("provider name = %q, want %q", name, tc.vendor.Provider)
		}
	}
}

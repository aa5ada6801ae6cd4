package kivoice

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
vendors:
  stt:
    provider: mock
  tts:
    provider: mock
  llm:
    provider: mock
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LogLevel != "info" || cfg.LogFormat != "text" {
		t.Fatalf("unexpected log defaults: %s/%s", cfg.LogLevel, cfg.LogFormat)
	}
	det := cfg.VAD.Detector()
	if det.SampleRate != 8000 {
		t.Fatalf("sample rate default = %d", det.SampleRate)
	}
	if det.FrameDuration != 20*time.Millisecond {
		t.Fatalf("frame duration default = %s", det.FrameDuration)
	}
	if det.MaxSilenceDuration != 1500*time.Millisecond {
		t.Fatalf("max silence default = %s", det.MaxSilenceDuration)
	}
	if cfg.Agent.Stability != 0.5 || cfg.Agent.Similarity != 0.75 {
		t.Fatalf("unexpected voice defaults: %v/%v", cfg.Agent.Stability, cfg.Agent.Similarity)
	}
}

func TestLoadConfigExpandsEnv(t *testing.T) {
	t.Setenv("TEST_STT_KEY", "sk-123")
	path := writeConfig(t, `
vendors:
  stt:
    provider: whisper
    settings:
      api_key: ${TEST_STT_KEY}
  tts:
    provider: mock
  llm:
    provider: mock
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := cfg.Vendors.STT.Settings["api_key"]; got != "sk-123" {
		t.Fatalf("api_key = %v, want expanded env value", got)
	}
}

func TestLoadConfigRequiresProviders(t *testing.T) {
	path := writeConfig(t, `
vendors:
  tts:
    provider: mock
  llm:
    provider: mock
`)
	if _, err := LoadConfig(path); err == nil {
		t.Fatalf("expected validation error for missing stt provider")
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

package codec

import (
	"errors"
	"testing"

	"github.com/MarcelGaertner1234/KI-Voice-Agent/pkg/errorsx"
)

func TestWrapWAVHeader(t *testing.T) {
	pcm := make([]byte, 320)
	wav := WrapWAV(pcm, 8000, 1, 16)
	if len(wav) != 44+len(pcm) {
		t.Fatalf("expected %d bytes, got %d", 44+len(pcm), len(wav))
	}
	out, rate, err := ParseWAV(wav)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if rate != 8000 {
		t.Fatalf("expected 8000 Hz, got %d", rate)
	}
	if len(out) != len(pcm) {
		t.Fatalf("expected %d pcm bytes, got %d", len(pcm), len(out))
	}
}

func TestParseWAVRejectsGarbage(t *testing.T) {
	_, _, err := ParseWAV([]byte("definitely not a wav container, far too short?"))
	if err == nil {
		t.Fatalf("expected decode error")
	}
	var de *errorsx.DecodeError
	if !errors.As(err, &de) {
		t.Fatalf("expected DecodeError, got %T", err)
	}
}

func TestWAVDuration(t *testing.T) {
	pcm := make([]byte, 16000) // one second at 8kHz/16-bit
	dur, err := WAVDuration(WrapWAV(pcm, 8000, 1, 16))
	if err != nil {
		t.Fatalf("duration: %v", err)
	}
	if dur != 1.0 {
		t.Fatalf("expected 1s, got %f", dur)
	}
}

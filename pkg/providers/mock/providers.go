package mock

import (
	"context"
	"sync"

	"github.com/MarcelGaertner1234/KI-Voice-Agent/pkg/adapters/convo"
	"github.com/MarcelGaertner1234/KI-Voice-Agent/pkg/adapters/tts"
)

// Transcriber returns a fixed transcript and records every submitted
// payload.
type Transcriber struct {
	Transcript string
	Err        error

	mu    sync.Mutex
	calls [][]byte
}

func NewTranscriber(transcript string) *Transcriber {
	if transcript == "" {
		transcript = "mock transcript"
	}
	return &Transcriber{Transcript: transcript}
}

func (t *Transcriber) Name() string { return "mock_stt" }

func (t *Transcriber) Transcribe(ctx context.Context, wav []byte, language string) (string, error) {
	t.mu.Lock()
	t.calls = append(t.calls, append([]byte(nil), wav...))
	t.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if t.Err != nil {
		return "", t.Err
	}
	return t.Transcript, nil
}

// Calls returns a copy of the payloads submitted so far.
func (t *Transcriber) Calls() [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([][]byte(nil), t.calls...)
}

// Replier echoes a fixed reply.
type Replier struct {
	Response string
	Err      error

	mu          sync.Mutex
	transcripts []string
	ended       []string
}

func NewReplier(response string) *Replier {
	if response == "" {
		response = "mock reply"
	}
	return &Replier{Response: response}
}

func (r *Replier) Name() string { return "mock_llm" }

func (r *Replier) Reply(ctx context.Context, callSID, transcript string, agent convo.AgentConfig) (string, error) {
	r.mu.Lock()
	r.transcripts = append(r.transcripts, transcript)
	r.mu.Unlock()
	if r.Err != nil {
		return "", r.Err
	}
	return r.Response, nil
}

func (r *Replier) Transcripts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.transcripts...)
}

// EndCall records that the call's history was released.
func (r *Replier) EndCall(callSID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ended = append(r.ended, callSID)
}

// Ended returns the call SIDs passed to EndCall.
func (r *Replier) Ended() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ended...)
}

// Synthesizer returns fixed PCM audio.
type Synthesizer struct {
	Audio []byte
	Err   error

	mu    sync.Mutex
	texts []string
}

func NewSynthesizer(audio []byte) *Synthesizer {
	if audio == nil {
		audio = make([]byte, 320)
	}
	return &Synthesizer{Audio: audio}
}

func (s *Synthesizer) Name() string { return "mock_tts" }

func (s *Synthesizer) Synthesize(ctx context.Context, text string, voice tts.VoiceConfig) ([]byte, error) {
	s.mu.Lock()
	s.texts = append(s.texts, text)
	s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	return s.Audio, nil
}

func (s *Synthesizer) Texts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.texts...)
}

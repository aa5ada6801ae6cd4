package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/MarcelGaertner1234/KI-Voice-Agent/pkg/adapters/convo"
	"github.com/MarcelGaertner1234/KI-Voice-Agent/pkg/errorsx"
	"github.com/MarcelGaertner1234/KI-Voice-Agent/pkg/resilience"
)

type Config struct {
	APIKey     string
	Model      string
	BaseURL    string
	MaxHistory int
	Timeout    time.Duration
}

// Replier generates conversational turns through the chat completions API,
// keeping a bounded per-call message history.
type Replier struct {
	cfg    Config
	client *http.Client

	mu      sync.Mutex
	history map[string][]message
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func New(cfg Config) (*Replier, error) {
	if cfg.APIKey == "" {
		return nil, &errorsx.ConfigError{Provider: "openai", Field: "api_key"}
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.MaxHistory <= 0 {
		cfg.MaxHistory = 12
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Replier{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		history: make(map[string][]message),
	}, nil
}

func (r *Replier) Name() string { return "openai" }

func (r *Replier) Reply(ctx context.Context, callSID, transcript string, agent convo.AgentConfig) (string, error) {
	msgs := r.appendHistory(callSID, message{Role: "user", Content: transcript})

	system := agent.System
	if system == "" {
		system = "You are a helpful phone assistant. Keep answers short and speakable."
	}
	if agent.Language != "" {
		system += " Answer in language: " + agent.Language + "."
	}
	payload := map[string]any{
		"model":    r.cfg.Model,
		"messages": append([]message{{Role: "system", Content: system}}, msgs...),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+r.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return "", errorsx.Wrap(err, errorsx.ReasonReplyGenerate)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return "", resilience.RateLimitError{Provider: "openai", Message: resp.Status}
	}
	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", errorsx.Wrap(
			fmt.Errorf("openai status %d: %s", resp.StatusCode, bytes.TrimSpace(detail)),
			errorsx.ReasonReplyGenerate)
	}

	var parsed struct {
		Choices []struct {
			Message message `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", errorsx.Wrap(err, errorsx.ReasonReplyGenerate)
	}
	if len(parsed.Choices) == 0 {
		return "", errorsx.Wrap(errors.New("no choices in response"), errorsx.ReasonReplyGenerate)
	}
	reply := parsed.Choices[0].Message.Content
	r.appendHistory(callSID, message{Role: "assistant", Content: reply})
	return reply, nil
}

// EndCall discards the history kept for a call.
func (r *Replier) EndCall(callSID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.history, callSID)
}

func (r *Replier) appendHistory(callSID string, msg message) []message {
	r.mu.Lock()
	defer r.mu.Unlock()
	msgs := append(r.history[callSID], msg)
	if len(msgs) > r.cfg.MaxHistory {
		msgs = msgs[len(msgs)-r.cfg.MaxHistory:]
	}
	r.history[callSID] = msgs
	return append([]message(nil), msgs...)
}

package convo

import "context"

// Replier produces the assistant's next conversational turn for a call. The
// implementation owns per-call history; callers only supply the latest
// transcript.
type Replier interface {
	// Name returns adapter name for logging/metrics.
	Name() string
	// Reply generates the response text for a transcript within a call.
	Reply(ctx context.Context, callSID, transcript string, agent AgentConfig) (string, error)
}

// AgentConfig describes the conversational agent handling a call with named
// fields instead of a free-form map.
type AgentConfig struct {
	Name     string
	System   string
	Language string
	Greeting string
	VoiceID  string
}

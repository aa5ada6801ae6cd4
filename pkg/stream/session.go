package stream

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MarcelGaertner1234/KI-Voice-Agent/pkg/adapters/convo"
	"github.com/MarcelGaertner1234/KI-Voice-Agent/pkg/adapters/stt"
	"github.com/MarcelGaertner1234/KI-Voice-Agent/pkg/adapters/tts"
	"github.com/MarcelGaertner1234/KI-Voice-Agent/pkg/audio"
	"github.com/MarcelGaertner1234/KI-Voice-Agent/pkg/codec"
	"github.com/MarcelGaertner1234/KI-Voice-Agent/pkg/errorsx"
	"github.com/MarcelGaertner1234/KI-Voice-Agent/pkg/fanout"
	"github.com/MarcelGaertner1234/KI-Voice-Agent/pkg/vad"
)

const (
	idleSleep       = 100 * time.Millisecond
	drainBatch      = 10
	statusInterval  = time.Second
	finalizeTimeout = 10 * time.Second
)

// Metadata carries the call identity attached to a stream at start.
type Metadata struct {
	CallSID    string
	AccountSID string
	AgentID    string
	From       string
	To         string
	StartedAt  time.Time
}

// Wire sends synthesized audio back to the caller's media stream.
type Wire interface {
	SendMedia(streamID string, ulaw []byte) error
	Clear(streamID string) error
}

// Deps are the collaborators a session needs. All of them are injected; a
// session never reaches for globals.
type Deps struct {
	Transcriber stt.Transcriber
	Replier     convo.Replier
	Synthesizer tts.Synthesizer
	Wire        Wire
	Hub         *fanout.Hub
	VAD         vad.Config
	AdaptiveVAD bool
	Agent       convo.AgentConfig
	Voice       tts.VoiceConfig
	Logger      *slog.Logger
}

// Summary is a point-in-time snapshot of a session, safe to serialize.
type Summary struct {
	StreamID    string     `json:"stream_id"`
	CallSID     string     `json:"call_sid"`
	State       string     `json:"state"`
	BufferDepth int        `json:"buffer_depth"`
	VAD         vad.Status `json:"vad"`
	From        string     `json:"from,omitempty"`
	AgentID     string     `json:"agent_id,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
}

// Session owns the audio pipeline for one media stream: a bounded chunk
// buffer fed by the transport, a voice activity detector, and a processing
// loop that turns utterances into spoken replies.
type Session struct {
	id   string
	meta Metadata
	deps Deps

	buffer *audio.ChunkBuffer

	detMu sync.Mutex
	det   *vad.Detector

	mu    sync.Mutex
	state State

	started    atomic.Bool
	closed     atomic.Bool
	cancel     context.CancelFunc
	finishOnce sync.Once
	done       chan struct{}

	logger *slog.Logger
}

// NewSession builds a session in the CREATED state. It does not start the
// processing loop; call Activate for that.
func NewSession(id string, meta Metadata, deps Deps) *Session {
	if meta.StartedAt.IsZero() {
		meta.StartedAt = time.Now().UTC()
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(
		slog.String("component", "session"),
		slog.String("stream_sid", id),
		slog.String("call_sid", meta.CallSID),
	)
	det := vad.New(deps.VAD)
	if deps.AdaptiveVAD {
		det = vad.NewAdaptive(deps.VAD).Detector
	}
	return &Session{
		id:     id,
		meta:   meta,
		deps:   deps,
		buffer: audio.NewChunkBuffer(audio.DefaultCapacity),
		det:    det,
		state:  StateCreated,
		done:   make(chan struct{}),
		logger: logger,
	}
}

// ID returns the stream identifier.
func (s *Session) ID() string { return s.id }

// Metadata returns the call identity captured at stream start.
func (s *Session) Metadata() Metadata { return s.meta }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) transition(to State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == to {
		return nil
	}
	if !transitionValid(s.state, to) {
		return &InvalidTransitionError{From: s.state, To: to}
	}
	from := s.state
	s.state = to
	s.logger.Debug("session_state",
		slog.String("from", from.String()),
		slog.String("to", to.String()))
	return nil
}

// PushMedia enqueues one chunk of mu-law audio from the transport. When the
// buffer is full the oldest chunk is evicted so live audio keeps flowing.
func (s *Session) PushMedia(ulaw []byte) error {
	if s.closed.Load() || s.State() == StateClosed {
		return errorsx.Wrap(errorsx.ErrStreamClosed, errorsx.ReasonStreamClosed)
	}
	if len(ulaw) == 0 {
		return nil
	}
	if evicted := s.buffer.Push(ulaw); evicted {
		s.logger.Debug("chunk_evicted", slog.Int("capacity", audio.DefaultCapacity))
	}
	return nil
}

// ClearBuffer drops all pending audio. Used when the caller confirms
// playback completed and stale input should not be replayed.
func (s *Session) ClearBuffer() {
	s.buffer.Clear()
	s.detMu.Lock()
	s.det.Reset()
	s.detMu.Unlock()
}

func (s *Session) detect(pcm []byte) [][]byte {
	s.detMu.Lock()
	defer s.detMu.Unlock()
	return s.det.Process(pcm)
}

func (s *Session) flushDetector() ([]byte, bool) {
	s.detMu.Lock()
	defer s.detMu.Unlock()
	return s.det.Flush()
}

func (s *Session) detectorStatus() vad.Status {
	s.detMu.Lock()
	defer s.detMu.Unlock()
	return s.det.Status()
}

// Activate moves the session to ACTIVE and starts the processing loop. The
// loop runs until Stop or Close, or until ctx is cancelled.
func (s *Session) Activate(ctx context.Context) error {
	if err := s.transition(StateActive); err != nil {
		return err
	}
	if !s.started.CompareAndSwap(false, true) {
		return nil
	}
	loopCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()
	go s.run(loopCtx)
	s.broadcastStatus()
	return nil
}

// Stop requests a graceful shutdown: the loop drains buffered audio,
// flushes the detector, and the session ends CLOSED.
func (s *Session) Stop() {
	if err := s.transition(StateStopping); err != nil {
		return
	}
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Close tears the session down. Safe to call from any state and any number
// of times; the first call wins.
func (s *Session) Close() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	s.mu.Lock()
	cancel := s.cancel
	started := s.started.Load()
	s.mu.Unlock()
	if started && cancel != nil {
		cancel()
		select {
		case <-s.done:
		case <-time.After(finalizeTimeout):
			s.logger.Warn("session_close_timeout")
		}
		return
	}
	// Loop never ran; finish directly.
	s.finish("closed before activation")
}

// Done is closed once the processing loop (or direct teardown) finishes.
func (s *Session) Done() <-chan struct{} { return s.done }

// Summary snapshots the session for dashboards and the registry listing.
func (s *Session) Summary() Summary {
	return Summary{
		StreamID:    s.id,
		CallSID:     s.meta.CallSID,
		State:       s.State().String(),
		BufferDepth: s.buffer.Len(),
		VAD:         s.detectorStatus(),
		From:        s.meta.From,
		AgentID:     s.meta.AgentID,
		StartedAt:   s.meta.StartedAt,
	}
}

func (s *Session) run(ctx context.Context) {
	s.logger.Info("session_loop_started")
	s.greet(ctx)

	lastStatus := time.Now()
	for {
		select {
		case <-ctx.Done():
			s.drainAndFinish()
			return
		default:
		}

		chunks := s.buffer.Drain(drainBatch)
		if len(chunks) == 0 {
			select {
			case <-ctx.Done():
				s.drainAndFinish()
				return
			case <-time.After(idleSleep):
			}
			continue
		}

		for _, utterance := range s.detect(codec.ExpandULaw(join(chunks))) {
			s.handleUtterance(ctx, utterance)
		}

		if time.Since(lastStatus) >= statusInterval {
			s.broadcastStatus()
			lastStatus = time.Now()
		}
	}
}

// drainAndFinish processes whatever audio is still buffered, flushes the
// detector, and closes out. A bounded background context replaces the
// cancelled loop context so the final utterance still gets a reply.
func (s *Session) drainAndFinish() {
	ctx, cancel := context.WithTimeout(context.Background(), finalizeTimeout)
	defer cancel()

	if chunks := s.buffer.Drain(0); len(chunks) > 0 {
		for _, utterance := range s.detect(codec.ExpandULaw(join(chunks))) {
			s.handleUtterance(ctx, utterance)
		}
	}
	if final, ok := s.flushDetector(); ok {
		s.handleUtterance(ctx, final)
	}
	s.finish("stream stopped")
}

// historyEnder lets repliers that keep per-call conversation state release
// it when the call finishes. Optional; the mock and openai repliers have it.
type historyEnder interface {
	EndCall(callSID string)
}

func (s *Session) finish(reason string) {
	s.finishOnce.Do(func() {
		s.mu.Lock()
		s.state = StateClosed
		s.mu.Unlock()
		s.closed.Store(true)
		if ender, ok := s.deps.Replier.(historyEnder); ok {
			ender.EndCall(s.meta.CallSID)
		}
		if s.deps.Hub != nil {
			s.deps.Hub.Broadcast(fanout.Event{
				Type:     fanout.EventCallEnded,
				StreamID: s.id,
				CallSID:  s.meta.CallSID,
				Reason:   reason,
			})
		}
		s.logger.Info("session_closed", slog.String("reason", reason))
		close(s.done)
	})
}

// greet plays the agent's configured greeting before any caller audio.
func (s *Session) greet(ctx context.Context) {
	if s.deps.Agent.Greeting == "" || s.deps.Synthesizer == nil {
		return
	}
	s.speak(ctx, s.deps.Agent.Greeting)
}

// handleUtterance runs one utterance through the full pipeline. Collaborator
// failures are logged and the session keeps serving later utterances.
func (s *Session) handleUtterance(ctx context.Context, pcm []byte) {
	if s.deps.Transcriber == nil {
		return
	}
	wav := codec.WrapWAV(pcm, s.det.SampleRate(), 1, 16)

	transcript, err := s.deps.Transcriber.Transcribe(ctx, wav, s.deps.Agent.Language)
	if err != nil {
		s.logger.Error("transcribe_failed",
			slog.String("provider", s.deps.Transcriber.Name()),
			slog.String("error", err.Error()))
		return
	}
	if transcript == "" {
		return
	}
	s.broadcastTranscript("caller", transcript)

	if s.deps.Replier == nil {
		return
	}
	reply, err := s.deps.Replier.Reply(ctx, s.meta.CallSID, transcript, s.deps.Agent)
	if err != nil {
		s.logger.Error("reply_failed",
			slog.String("provider", s.deps.Replier.Name()),
			slog.String("error", err.Error()))
		return
	}
	if reply == "" {
		return
	}
	s.broadcastTranscript("agent", reply)
	s.speak(ctx, reply)
}

// speak synthesizes text and streams it back over the wire as mu-law.
func (s *Session) speak(ctx context.Context, text string) {
	if s.deps.Synthesizer == nil || s.deps.Wire == nil {
		return
	}
	pcm, err := s.deps.Synthesizer.Synthesize(ctx, text, s.deps.Voice)
	if err != nil {
		s.logger.Error("synthesize_failed",
			slog.String("provider", s.deps.Synthesizer.Name()),
			slog.String("error", err.Error()))
		return
	}
	if len(pcm) == 0 {
		return
	}
	ulaw, err := codec.CompressULaw(pcm)
	if err != nil {
		if errors.Is(err, errorsx.ErrInvalidLength) {
			ulaw, _ = codec.CompressULaw(pcm[:len(pcm)-1])
		}
		if ulaw == nil {
			s.logger.Error("compress_failed", slog.String("error", err.Error()))
			return
		}
	}
	if err := s.deps.Wire.SendMedia(s.id, ulaw); err != nil {
		s.logger.Error("send_media_failed", slog.String("error", err.Error()))
	}
}

func (s *Session) broadcastTranscript(role, text string) {
	if s.deps.Hub == nil {
		return
	}
	s.deps.Hub.Broadcast(fanout.Event{
		Type:       fanout.EventTranscript,
		StreamID:   s.id,
		CallSID:    s.meta.CallSID,
		Role:       role,
		Transcript: text,
	})
}

func (s *Session) broadcastStatus() {
	if s.deps.Hub == nil {
		return
	}
	s.deps.Hub.Broadcast(fanout.Event{
		Type:     fanout.EventStreamStatus,
		StreamID: s.id,
		CallSID:  s.meta.CallSID,
		Status:   s.Summary(),
	})
}

func join(chunks [][]byte) []byte {
	if len(chunks) == 1 {
		return chunks[0]
	}
	total := 0
	for _, c := range chunks {
		total += len(c)
	}
	out := make([]byte, 0, total)
	for _, c := range chunks {
		out = append(out, c...)
	}
	return out
}

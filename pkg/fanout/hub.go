package fanout

import (
	"log/slog"
	"sync"
	"time"

	"github.com/MarcelGaertner1234/KI-Voice-Agent/pkg/logging"
)

const (
	EventStreamStatus = "stream_status"
	EventTranscript   = "transcript"
	EventCallEnded    = "call_ended"
)

// Event is the JSON payload delivered to dashboard observers.
type Event struct {
	Type       string    `json:"type"`
	StreamID   string    `json:"stream_id,omitempty"`
	CallSID    string    `json:"call_sid,omitempty"`
	Role       string    `json:"role,omitempty"`
	Transcript string    `json:"transcript,omitempty"`
	Status     any       `json:"status,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Observer receives broadcast events. Send must return an error rather than
// block indefinitely; the hub disconnects observers that fail.
type Observer interface {
	Send(ev Event) error
	Close() error
}

// Hub broadcasts events to registered observers without ever blocking the
// caller. Each observer gets its own buffered queue and writer goroutine; a
// full queue or a write error disconnects that observer only.
type Hub struct {
	mu     sync.Mutex
	subs   map[Observer]*subscriber
	logger *slog.Logger
}

type subscriber struct {
	ch   chan Event
	once sync.Once
}

func (s *subscriber) stop() {
	s.once.Do(func() { close(s.ch) })
}

func NewHub() *Hub {
	return &Hub{
		subs:   make(map[Observer]*subscriber),
		logger: logging.NewComponentLogger(slog.Default(), "fanout"),
	}
}

// Register adds an observer and starts its delivery loop.
func (h *Hub) Register(o Observer) {
	sub := &subscriber{ch: make(chan Event, 64)}
	h.mu.Lock()
	if _, ok := h.subs[o]; ok {
		h.mu.Unlock()
		return
	}
	h.subs[o] = sub
	h.mu.Unlock()
	go h.deliver(o, sub)
}

// Unregister removes an observer and closes it. Unknown observers are a
// no-op.
func (h *Hub) Unregister(o Observer) {
	h.mu.Lock()
	sub, ok := h.subs[o]
	if ok {
		delete(h.subs, o)
	}
	h.mu.Unlock()
	if !ok {
		return
	}
	sub.stop()
	_ = o.Close()
}

// Broadcast queues ev for every observer. Observers whose queue is full are
// dropped rather than retried.
func (h *Hub) Broadcast(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	var slow []Observer
	h.mu.Lock()
	for o, sub := range h.subs {
		select {
		case sub.ch <- ev:
		default:
			slow = append(slow, o)
		}
	}
	h.mu.Unlock()
	for _, o := range slow {
		h.logger.Warn("observer_dropped", slog.String("reason", "queue_full"))
		h.Unregister(o)
	}
}

// Count reports the number of connected observers.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Shutdown disconnects every observer.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	subs := h.subs
	h.subs = make(map[Observer]*subscriber)
	h.mu.Unlock()
	for o, sub := range subs {
		sub.stop()
		_ = o.Close()
	}
}

func (h *Hub) deliver(o Observer, sub *subscriber) {
	for ev := range sub.ch {
		if err := o.Send(ev); err != nil {
			h.logger.Warn("observer_dropped",
				slog.String("reason", "send_failed"),
				slog.String("error", err.Error()))
			h.Unregister(o)
			return
		}
	}
}

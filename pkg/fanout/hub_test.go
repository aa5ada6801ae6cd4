package fanout

import (
	"errors"
	"sync"
	"testing"
	"time"
)

type recordingObserver struct {
	mu     sync.Mutex
	events []Event
	err    error
	closed bool
}

func (r *recordingObserver) Send(ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingObserver) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *recordingObserver) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func (r *recordingObserver) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within deadline")
}

func TestHubBroadcastReachesAllObservers(t *testing.T) {
	hub := NewHub()
	a := &recordingObserver{}
	b := &recordingObserver{}
	hub.Register(a)
	hub.Register(b)

	hub.Broadcast(Event{Type: EventTranscript, StreamID: "MZ1", Transcript: "hello"})
	hub.Broadcast(Event{Type: EventCallEnded, StreamID: "MZ1"})

	waitFor(t, func() bool { return a.count() == 2 && b.count() == 2 })

	a.mu.Lock()
	first := a.events[0]
	a.mu.Unlock()
	if first.Type != EventTranscript || first.Transcript != "hello" {
		t.Fatalf("unexpected first event: %+v", first)
	}
	if first.Timestamp.IsZero() {
		t.Fatalf("expected timestamp to be stamped on broadcast")
	}
}

func TestHubDisconnectsFailingObserver(t *testing.T) {
	hub := NewHub()
	healthy := &recordingObserver{}
	failing := &recordingObserver{err: errors.New("write: broken pipe")}
	hub.Register(healthy)
	hub.Register(failing)

	hub.Broadcast(Event{Type: EventStreamStatus, StreamID: "MZ2"})

	waitFor(t, func() bool { return hub.Count() == 1 })
	waitFor(t, func() bool { return failing.isClosed() })
	waitFor(t, func() bool { return healthy.count() == 1 })

	// further broadcasts still reach the healthy observer
	hub.Broadcast(Event{Type: EventStreamStatus, StreamID: "MZ2"})
	waitFor(t, func() bool { return healthy.count() == 2 })
}

func TestHubUnregisterIsIdempotent(t *testing.T) {
	hub := NewHub()
	obs := &recordingObserver{}
	hub.Register(obs)
	hub.Unregister(obs)
	hub.Unregister(obs)
	if hub.Count() != 0 {
		t.Fatalf("expected zero observers, got %d", hub.Count())
	}
	if !obs.isClosed() {
		t.Fatalf("expected observer to be closed")
	}
}

func TestHubShutdownClosesEveryObserver(t *testing.T) {
	hub := NewHub()
	a := &recordingObserver{}
	b := &recordingObserver{}
	hub.Register(a)
	hub.Register(b)
	hub.Shutdown()
	if hub.Count() != 0 {
		t.Fatalf("expected zero observers after shutdown, got %d", hub.Count())
	}
	if !a.isClosed() || !b.isClosed() {
		t.Fatalf("expected both observers closed")
	}
}

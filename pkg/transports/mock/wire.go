package mock

import (
	"context"
	"sync"
	"sync/atomic"
)

// Wire is an in-memory stand-in for the caller-facing media connection. It
// records everything sent so engine and session tests can assert on it
// without a network dependency.
type Wire struct {
	mu     sync.Mutex
	media  map[string][][]byte
	clears map[string]int
	closed atomic.Bool
}

func NewWire() *Wire {
	return &Wire{
		media:  make(map[string][][]byte),
		clears: make(map[string]int),
	}
}

func (w *Wire) Name() string { return "mock" }

func (w *Wire) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	go func() {
		<-ctx.Done()
		_ = w.Stop()
	}()
	return nil
}

func (w *Wire) Stop() error {
	w.closed.Store(true)
	return nil
}

func (w *Wire) SendMedia(streamID string, ulaw []byte) error {
	if w.closed.Load() {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.media[streamID] = append(w.media[streamID], append([]byte(nil), ulaw...))
	return nil
}

func (w *Wire) Clear(streamID string) error {
	if w.closed.Load() {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.clears[streamID]++
	return nil
}

// Media returns a copy of the payloads sent on a stream.
func (w *Wire) Media(streamID string) [][]byte {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([][]byte, len(w.media[streamID]))
	copy(out, w.media[streamID])
	return out
}

// Clears reports how many clear requests a stream received.
func (w *Wire) Clears(streamID string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.clears[streamID]
}

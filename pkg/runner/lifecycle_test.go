package runner

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

type countingDrainer struct {
	drains atomic.Int32
	block  chan struct{}
}

func (d *countingDrainer) Drain() error {
	if d.block != nil {
		<-d.block
	}
	d.drains.Add(1)
	return nil
}

func TestLifecycleRunnerRunsHooksAndDrains(t *testing.T) {
	drainer := &countingDrainer{}
	var started, stopped atomic.Bool
	lr := NewLifecycleRunner(drainer, Hooks{
		OnStart: func() { started.Store(true) },
		OnStop:  func() { stopped.Store(true) },
	}, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- lr.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for lr.State() != StateRunning {
		if time.Now().After(deadline) {
			t.Fatalf("runner never reached running state")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !started.Load() {
		t.Fatalf("OnStart hook not invoked")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("runner did not stop after cancel")
	}
	if lr.State() != StateStopped {
		t.Fatalf("state = %d, want stopped", lr.State())
	}
	if drainer.drains.Load() != 1 {
		t.Fatalf("drain count = %d, want 1", drainer.drains.Load())
	}
	if !stopped.Load() {
		t.Fatalf("OnStop hook not invoked")
	}
}

func TestLifecycleRunnerDrainTimeout(t *testing.T) {
	drainer := &countingDrainer{block: make(chan struct{})}
	lr := NewLifecycleRunner(drainer, Hooks{}, 50*time.Millisecond)
	go func() { _ = lr.Run(context.Background()) }()

	deadline := time.Now().Add(2 * time.Second)
	for lr.State() != StateRunning {
		if time.Now().After(deadline) {
			t.Fatalf("runner never reached running state")
		}
		time.Sleep(5 * time.Millisecond)
	}
	err := lr.Stop()
	if err == nil || err.Error() != "drain timeout" {
		t.Fatalf("expected drain timeout error, got %v", err)
	}
	close(drainer.block)
}

func TestLifecycleRunnerRejectsDoubleRun(t *testing.T) {
	lr := NewLifecycleRunner(nil, Hooks{}, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = lr.Run(ctx) }()
	deadline := time.Now().Add(2 * time.Second)
	for lr.State() != StateRunning {
		if time.Now().After(deadline) {
			t.Fatalf("runner never reached running state")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if err := lr.Run(context.Background()); err == nil {
		t.Fatalf("expected error on second run")
	}
	cancel()
}

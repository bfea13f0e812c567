package lifecycle

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/openaddresses/submit-service-sub000/pkg/telemetry"
)

func newTestManager(drain time.Duration) *ShutdownManager {
	return NewShutdownManager(ShutdownConfig{DrainTimeout: drain, Logger: telemetry.Discard()})
}

func TestShutdown_WaitsForInFlight(t *testing.T) {
	m := newTestManager(5 * time.Second)
	if !m.StartRequest() {
		t.Fatal("request rejected before shutdown")
	}

	var hookRan time.Time
	m.OnShutdown("record", func(context.Context) error {
		hookRan = time.Now()
		return nil
	})

	released := make(chan time.Time, 1)
	go func() {
		time.Sleep(50 * time.Millisecond)
		released <- time.Now()
		m.EndRequest()
	}()

	if err := m.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	if end := <-released; hookRan.Before(end) {
		t.Error("hooks ran before the in-flight request finished")
	}
	select {
	case <-m.Done():
	default:
		t.Error("Done not closed after shutdown")
	}
}

func TestShutdown_RejectsWhileDraining(t *testing.T) {
	m := newTestManager(time.Second)
	if err := m.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
	if m.StartRequest() {
		t.Error("request admitted after shutdown")
	}
	if !m.IsDraining() || !m.Status().Draining {
		t.Error("manager should report draining")
	}
	if err := m.Shutdown(context.Background()); err != nil {
		t.Errorf("second Shutdown = %v, want nil", err)
	}
}

func TestShutdown_DrainTimeout(t *testing.T) {
	m := newTestManager(20 * time.Millisecond)
	m.StartRequest()
	defer m.EndRequest()

	start := time.Now()
	m.Shutdown(context.Background())
	if time.Since(start) > 2*time.Second {
		t.Error("drain timeout not honoured")
	}
	if m.InFlightCount() != 1 {
		t.Errorf("InFlightCount = %d", m.InFlightCount())
	}
}

func TestShutdown_HookErrors(t *testing.T) {
	m := newTestManager(time.Second)
	boom := stderrors.New("boom")
	ran := 0
	m.OnShutdown("first", func(context.Context) error { ran++; return boom })
	m.OnShutdown("second", func(context.Context) error { ran++; return nil })

	err := m.Shutdown(context.Background())
	if !stderrors.Is(err, boom) {
		t.Errorf("Expected hook error, got %v", err)
	}
	if ran != 2 {
		t.Errorf("every hook must run, ran %d", ran)
	}
}

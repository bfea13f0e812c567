// Package lifecycle provides graceful shutdown and in-flight tracking.
// In-flight requests get a chance to finish before the process exits.
package lifecycle

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

// Hook releases a resource during shutdown.
type Hook func(ctx context.Context) error

type namedHook struct {
	name string
	fn   Hook
}

// ShutdownManager manages graceful shutdown of the service.
type ShutdownManager struct {
	mu sync.Mutex

	drainTimeout time.Duration
	logger       *slog.Logger

	draining   bool
	shutdownAt time.Time

	inFlight      sync.WaitGroup
	inFlightCount int64

	hooks []namedHook
	done  chan struct{}
}

// ShutdownConfig configures the shutdown manager.
type ShutdownConfig struct {
	// DrainTimeout is how long to wait for in-flight requests to complete
	DrainTimeout time.Duration
	Logger       *slog.Logger
}

// DefaultShutdownConfig returns sensible defaults.
func DefaultShutdownConfig() ShutdownConfig {
	return ShutdownConfig{
		DrainTimeout: 30 * time.Second,
	}
}

// NewShutdownManager creates a new shutdown manager.
func NewShutdownManager(cfg ShutdownConfig) *ShutdownManager {
	if cfg.DrainTimeout == 0 {
		cfg.DrainTimeout = 30 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &ShutdownManager{
		drainTimeout: cfg.DrainTimeout,
		logger:       logger,
		done:         make(chan struct{}),
	}
}

// OnShutdown registers fn to run after draining. Hooks run in
// registration order.
func (m *ShutdownManager) OnShutdown(name string, fn Hook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, namedHook{name: name, fn: fn})
}

// StartRequest marks the start of an in-flight request.
// Returns false if we're draining and the request should be rejected.
func (m *ShutdownManager) StartRequest() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.draining {
		return false
	}
	m.inFlightCount++
	m.inFlight.Add(1)
	return true
}

// EndRequest marks the end of an in-flight request.
func (m *ShutdownManager) EndRequest() {
	m.mu.Lock()
	m.inFlightCount--
	m.mu.Unlock()
	m.inFlight.Done()
}

// InFlightCount returns the number of in-flight requests.
func (m *ShutdownManager) InFlightCount() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inFlightCount
}

// IsDraining returns whether the service is draining.
func (m *ShutdownManager) IsDraining() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.draining
}

// Shutdown stops admitting requests, waits for in-flight ones up to the
// drain timeout, then runs the hooks. Calls after the first return nil.
func (m *ShutdownManager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.draining {
		m.mu.Unlock()
		return nil
	}
	m.draining = true
	m.shutdownAt = time.Now()
	hooks := append([]namedHook(nil), m.hooks...)
	m.mu.Unlock()

	m.logger.Info("draining", "in_flight", m.InFlightCount(), "timeout", m.drainTimeout)

	drainDone := make(chan struct{})
	go func() {
		m.inFlight.Wait()
		close(drainDone)
	}()

	timer := time.NewTimer(m.drainTimeout)
	defer timer.Stop()
	select {
	case <-drainDone:
	case <-timer.C:
		m.logger.Warn("drain timeout reached", "in_flight", m.InFlightCount())
	case <-ctx.Done():
	}

	var errs []error
	for _, h := range hooks {
		if err := h.fn(ctx); err != nil {
			m.logger.Error("shutdown hook failed", "hook", h.name, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", h.name, err))
		}
	}

	close(m.done)
	return stderrors.Join(errs...)
}

// Done is closed once shutdown has completed.
func (m *ShutdownManager) Done() <-chan struct{} {
	return m.done
}

// HandleSignals starts a graceful shutdown on SIGINT or SIGTERM.
func (m *ShutdownManager) HandleSignals(ctx context.Context) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigChan)
		select {
		case sig := <-sigChan:
			m.logger.Info("received signal, shutting down", "signal", sig.String())
			m.Shutdown(context.WithoutCancel(ctx))
		case <-ctx.Done():
		}
	}()
}

// ShutdownStatus is a snapshot of the manager state.
type ShutdownStatus struct {
	Draining      bool
	InFlightCount int64
	ShutdownAt    time.Time
	DrainTimeout  time.Duration
}

// Status returns the current status.
func (m *ShutdownManager) Status() ShutdownStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	return ShutdownStatus{
		Draining:      m.draining,
		InFlightCount: m.inFlightCount,
		ShutdownAt:    m.shutdownAt,
		DrainTimeout:  m.drainTimeout,
	}
}

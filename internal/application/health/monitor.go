package health

import (
	"context"
	"sync"
	"time"

	"github.com/aescanero/chatd/pkg/ports"
	"go.uber.org/zap"
)

// Checker is anything that can report its own health
type Checker interface {
	Health(ctx context.Context) error
}

// Listener is notified when the healthy flag changes
type Listener func(healthy bool)

// Status is the result of the latest probe
type Status struct {
	Healthy   bool
	Error     string
	Timestamp time.Time
}

// Monitor monitors backend health
type Monitor struct {
	checker  Checker
	metrics  ports.MetricsCollector
	interval time.Duration
	timeout  time.Duration
	logger   *zap.Logger

	mu        sync.RWMutex
	running   bool
	stopCh    chan struct{}
	doneCh    chan struct{}
	status    Status
	listeners []Listener
}

// NewMonitor creates a new health monitor. Each probe is bounded by timeout.
func NewMonitor(checker Checker, metrics ports.MetricsCollector, interval, timeout time.Duration, logger *zap.Logger) *Monitor {
	return &Monitor{
		checker:  checker,
		metrics:  metrics,
		interval: interval,
		timeout:  timeout,
		logger:   logger,
	}
}

// AddListener registers fn to be called on every health transition
func (m *Monitor) AddListener(fn Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// Start starts the health monitor
func (m *Monitor) Start() {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	stopCh, doneCh := make(chan struct{}), make(chan struct{})
	m.stopCh, m.doneCh = stopCh, doneCh
	m.mu.Unlock()

	go m.run(stopCh, doneCh)
}

// Stop stops the health monitor and waits for the loop to exit
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	stopCh, doneCh := m.stopCh, m.doneCh
	m.mu.Unlock()

	close(stopCh)
	<-doneCh
}

// run is the main health monitoring loop
func (m *Monitor) run(stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
			m.Check(ctx)
			cancel()
		}
	}
}

// Check probes the backend once and records the result
func (m *Monitor) Check(ctx context.Context) Status {
	err := m.checker.Health(ctx)

	status := Status{
		Healthy:   err == nil,
		Timestamp: time.Now(),
	}
	if err != nil {
		status.Error = err.Error()
	}

	m.mu.Lock()
	changed := m.status.Timestamp.IsZero() || m.status.Healthy != status.Healthy
	m.status = status
	listeners := make([]Listener, len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.Unlock()

	m.metrics.SetBackendUp(status.Healthy)

	if err != nil {
		m.logger.Warn("model backend is unhealthy", zap.Error(err))
	} else {
		m.logger.Debug("model backend health check passed")
	}

	if changed {
		for _, fn := range listeners {
			fn(status.Healthy)
		}
	}

	return status
}

// GetStatus returns the latest probe result
func (m *Monitor) GetStatus() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// IsHealthy returns true if the last probe succeeded
func (m *Monitor) IsHealthy() bool {
	return m.GetStatus().Healthy
}

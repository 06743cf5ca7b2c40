// Package worker provides background workers that run alongside the
// HTTP server.
package worker

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Worker defines the interface for background workers
type Worker interface {
	Start(ctx context.Context) error
	Stop() error
	Name() string
}

// Manager manages multiple background workers
type Manager struct {
	workers []Worker
	logger  *zap.Logger
	wg      sync.WaitGroup
	cancel  context.CancelFunc
	mu      sync.Mutex
	started bool
}

// NewManager creates a new worker manager
func NewManager(logger *zap.Logger) *Manager {
	return &Manager{
		logger: logger,
	}
}

// Register adds a worker to the manager
func (m *Manager) Register(w Worker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.workers = append(m.workers, w)
	m.logger.Info("Worker registered", zap.String("worker", w.Name()))
}

// StartAll starts all registered workers
func (m *Manager) StartAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return fmt.Errorf("workers already started")
	}

	ctx, m.cancel = context.WithCancel(ctx)

	for _, w := range m.workers {
		m.wg.Add(1)
		go func(w Worker) {
			defer m.wg.Done()
			if err := w.Start(ctx); err != nil {
				m.logger.Error("Worker stopped with error",
					zap.String("worker", w.Name()),
					zap.Error(err))
			}
		}(w)
	}

	m.started = true
	m.logger.Info("All workers started", zap.Int("count", len(m.workers)))
	return nil
}

// StopAll stops all workers and waits for them to finish
func (m *Manager) StopAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.started {
		return nil
	}

	m.cancel()

	for _, w := range m.workers {
		if err := w.Stop(); err != nil {
			m.logger.Error("Failed to stop worker",
				zap.String("worker", w.Name()),
				zap.Error(err))
		}
	}

	m.wg.Wait()
	m.started = false
	m.logger.Info("All workers stopped")
	return nil
}

// Count returns the number of registered workers
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.workers)
}

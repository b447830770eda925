package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Task is one named maintenance step
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

// MaintenanceJob runs its tasks once at start and then on every tick
type MaintenanceJob struct {
	interval time.Duration
	tasks    []Task
	logger   *zap.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	lastRun time.Time
}

// NewMaintenanceJob creates a maintenance job
func NewMaintenanceJob(interval time.Duration, logger *zap.Logger, tasks ...Task) (*MaintenanceJob, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("%w: maintenance interval must be positive", ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MaintenanceJob{
		interval: interval,
		tasks:    tasks,
		logger:   logger,
	}, nil
}

// Start launches the ticker loop
func (m *MaintenanceJob) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})

	go func() {
		defer close(m.done)
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		_ = m.RunOnce(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_ = m.RunOnce(ctx)
			}
		}
	}()

	m.logger.Info("Maintenance job started", zap.Duration("interval", m.interval), zap.Int("tasks", len(m.tasks)))
	return nil
}

// Stop stops the ticker loop and waits for the current pass
func (m *MaintenanceJob) Stop(ctx context.Context) error {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel = nil
	m.mu.Unlock()
	if cancel == nil {
		return nil
	}

	cancel()
	select {
	case <-done:
		m.logger.Info("Maintenance job stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce runs every task in order. A failing task does not stop the others.
func (m *MaintenanceJob) RunOnce(ctx context.Context) error {
	var errs []error
	for _, task := range m.tasks {
		start := time.Now()
		if err := task.Run(ctx); err != nil {
			m.logger.Error("Maintenance task failed", zap.String("task", task.Name), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", task.Name, err))
			continue
		}
		m.logger.Debug("Maintenance task done", zap.String("task", task.Name), zap.Duration("elapsed", time.Since(start)))
	}

	m.mu.Lock()
	m.lastRun = time.Now()
	m.mu.Unlock()
	return errors.Join(errs...)
}

// LastRun returns when the last pass finished
func (m *MaintenanceJob) LastRun() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastRun
}

// Package scheduler runs asynchronous sync runs on a bounded worker pool and
// drives the periodic maintenance tasks.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RunJob is one queued sync run. Run must persist the run itself, including
// when ctx is already canceled because the pool is shutting down.
type RunJob struct {
	RunID uuid.UUID
	Run   func(ctx context.Context) error
}

// JobRecord is the history entry of a finished job
type JobRecord struct {
	RunID      uuid.UUID
	WorkerID   int
	StartedAt  time.Time
	FinishedAt time.Time
	Error      string
}

// RunPoolConfig holds configuration for the run pool
type RunPoolConfig struct {
	// Workers is the number of runs executed concurrently
	Workers int
	// QueueSize is the number of runs that may wait for a worker
	QueueSize int
	// RunTimeout bounds a single run, zero means no bound
	RunTimeout time.Duration
	// HistorySize is the number of finished jobs kept for monitoring
	HistorySize int
}

// DefaultRunPoolConfig returns default configuration
func DefaultRunPoolConfig() RunPoolConfig {
	return RunPoolConfig{
		Workers:     2,
		QueueSize:   16,
		RunTimeout:  2 * time.Hour,
		HistorySize: 50,
	}
}

// Validate validates the configuration
func (c *RunPoolConfig) Validate() error {
	if c.Workers <= 0 {
		return fmt.Errorf("%w: workers must be positive", ErrInvalidConfig)
	}
	if c.QueueSize < 0 {
		return fmt.Errorf("%w: queue size cannot be negative", ErrInvalidConfig)
	}
	if c.RunTimeout < 0 {
		return fmt.Errorf("%w: run timeout cannot be negative", ErrInvalidConfig)
	}
	return nil
}

// RunPool executes asynchronous sync runs
type RunPool struct {
	config RunPoolConfig
	logger *zap.Logger

	jobs      chan RunJob
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool

	historyMu sync.RWMutex
	history   []JobRecord
}

// NewRunPool creates a new run pool
func NewRunPool(config RunPoolConfig, logger *zap.Logger) (*RunPool, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.HistorySize <= 0 {
		config.HistorySize = DefaultRunPoolConfig().HistorySize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RunPool{
		config:  config,
		logger:  logger,
		jobs:    make(chan RunJob, config.QueueSize),
		history: make([]JobRecord, 0, config.HistorySize),
	}, nil
}

// Start starts the workers
func (p *RunPool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.isRunning {
		return nil
	}
	p.isRunning = true

	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	for i := 0; i < p.config.Workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}

	p.logger.Info("Sync run pool started",
		zap.Int("workers", p.config.Workers),
		zap.Int("queue_size", p.config.QueueSize),
	)
	return nil
}

// Stop cancels running jobs and drains the queue. Queued jobs still execute,
// with a canceled context, so each can record itself as interrupted.
func (p *RunPool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.isRunning {
		p.mu.Unlock()
		return nil
	}
	p.isRunning = false
	p.cancel()
	close(p.jobs)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("Sync run pool stopped gracefully")
		return nil
	case <-ctx.Done():
		p.logger.Warn("Sync run pool stop timed out")
		return ctx.Err()
	}
}

// Submit queues a run without blocking
func (p *RunPool) Submit(job RunJob) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.isRunning {
		return ErrSchedulerNotRunning
	}

	select {
	case p.jobs <- job:
		p.logger.Debug("Sync run queued", zap.String("run_id", job.RunID.String()))
		return nil
	default:
		return ErrJobQueueFull
	}
}

// Queued returns the number of runs waiting for a worker
func (p *RunPool) Queued() int {
	return len(p.jobs)
}

func (p *RunPool) worker(ctx context.Context, workerID int) {
	defer p.wg.Done()
	for job := range p.jobs {
		p.processJob(ctx, job, workerID)
	}
}

func (p *RunPool) processJob(ctx context.Context, job RunJob, workerID int) {
	record := JobRecord{RunID: job.RunID, WorkerID: workerID, StartedAt: time.Now()}
	p.logger.Info("Executing sync run",
		zap.Int("worker_id", workerID),
		zap.String("run_id", job.RunID.String()),
	)

	jobCtx := ctx
	if p.config.RunTimeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(ctx, p.config.RunTimeout)
		defer cancel()
	}

	err := p.safeRun(jobCtx, job)
	record.FinishedAt = time.Now()
	if err != nil {
		record.Error = err.Error()
		p.logger.Error("Sync run failed",
			zap.Int("worker_id", workerID),
			zap.String("run_id", job.RunID.String()),
			zap.Error(err),
		)
	} else {
		p.logger.Info("Sync run finished",
			zap.Int("worker_id", workerID),
			zap.String("run_id", job.RunID.String()),
			zap.Duration("elapsed", record.FinishedAt.Sub(record.StartedAt)),
		)
	}
	p.addToHistory(record)
}

func (p *RunPool) safeRun(ctx context.Context, job RunJob) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sync run panicked: %v", r)
		}
	}()
	return job.Run(ctx)
}

func (p *RunPool) addToHistory(record JobRecord) {
	p.historyMu.Lock()
	defer p.historyMu.Unlock()

	p.history = append([]JobRecord{record}, p.history...)
	if len(p.history) > p.config.HistorySize {
		p.history = p.history[:p.config.HistorySize]
	}
}

// GetJobHistory returns the most recent finished jobs first
func (p *RunPool) GetJobHistory(limit int) []JobRecord {
	p.historyMu.RLock()
	defer p.historyMu.RUnlock()

	if limit <= 0 || limit > len(p.history) {
		limit = len(p.history)
	}
	result := make([]JobRecord, limit)
	copy(result, p.history[:limit])
	return result
}

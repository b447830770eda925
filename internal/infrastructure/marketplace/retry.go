package marketplace

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/erp/marketsync/internal/domain/integration"
)

// ErrorClass is how the retry controller treats a failed call
type ErrorClass int

const (
	// ClassNone means the call succeeded
	ClassNone ErrorClass = iota
	// ClassRateLimited waits for the server reset and retries
	ClassRateLimited
	// ClassTransient retries with exponential backoff
	ClassTransient
	// ClassFatal propagates immediately
	ClassFatal
)

// String returns the string representation of ErrorClass
func (c ErrorClass) String() string {
	switch c {
	case ClassNone:
		return "none"
	case ClassRateLimited:
		return "rate_limited"
	case ClassTransient:
		return "transient"
	case ClassFatal:
		return "fatal"
	}
	return "unknown"
}

// Classify maps an error to its retry class. Context errors are fatal so a
// canceled run stops immediately.
func Classify(err error) ErrorClass {
	if err == nil {
		return ClassNone
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ClassFatal
	}
	if errors.Is(err, integration.ErrRateLimitExceeded) {
		return ClassRateLimited
	}
	if errors.Is(err, integration.ErrTransientNetwork) {
		return ClassTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ClassTransient
	}
	return ClassFatal
}

// RetryConfig holds the backoff settings
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// Jitter is the relative spread applied to every delay, 0.2 means ±20%
	Jitter float64
}

// DefaultRetryConfig returns three attempts starting at one second
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
		Jitter:      0.2,
	}
}

// Blocker is the part of the rate limiter the retry controller drives
type Blocker interface {
	Block(class integration.ResourceClass, until time.Time)
}

// RetryOption configures a RetryController
type RetryOption func(*RetryController)

// WithRetryClock replaces the time source
func WithRetryClock(now func() time.Time) RetryOption {
	return func(r *RetryController) {
		if now != nil {
			r.now = now
		}
	}
}

// WithRetrySleeper replaces the function used to wait between attempts
func WithRetrySleeper(sleep func(ctx context.Context, d time.Duration) error) RetryOption {
	return func(r *RetryController) {
		if sleep != nil {
			r.sleep = sleep
		}
	}
}

// WithRetryRand sets the random source used for jitter
func WithRetryRand(rnd *rand.Rand) RetryOption {
	return func(r *RetryController) {
		if rnd != nil {
			r.rnd = rnd
		}
	}
}

// RetryController wraps marketplace calls with classification and backoff
type RetryController struct {
	cfg    RetryConfig
	logger *zap.Logger
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error

	mu  sync.Mutex
	rnd *rand.Rand
}

// NewRetryController creates a retry controller. Zero config fields take defaults.
func NewRetryController(cfg RetryConfig, logger *zap.Logger, opts ...RetryOption) *RetryController {
	def := DefaultRetryConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = def.BaseDelay
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = max(def.MaxDelay, cfg.BaseDelay)
	}
	if cfg.Jitter < 0 || cfg.Jitter >= 1 {
		cfg.Jitter = def.Jitter
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &RetryController{
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
		sleep:  sleepContext,
		rnd:    rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Config returns the effective configuration
func (r *RetryController) Config() RetryConfig {
	return r.cfg
}

// Backoff returns the delay before the retry following the given attempt
// (1-based): base * 2^(attempt-1), capped, with jitter.
func (r *RetryController) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := r.cfg.MaxDelay
	if shift := attempt - 1; shift < 32 {
		if d := r.cfg.BaseDelay * time.Duration(1<<shift); d > 0 && d < r.cfg.MaxDelay {
			delay = d
		}
	}
	if r.cfg.Jitter == 0 {
		return delay
	}
	r.mu.Lock()
	f := 1 + r.cfg.Jitter*(2*r.rnd.Float64()-1)
	r.mu.Unlock()
	return time.Duration(float64(delay) * f)
}

// Do runs fn until it succeeds, fails fatally or attempts run out.
//
// Rate-limit failures block the class on the limiter until the server reset,
// so the next attempt waits inside the limiter rather than here. When those
// attempts run out the error wraps ErrRateLimitExhausted.
func (r *RetryController) Do(ctx context.Context, limiter Blocker, class integration.ResourceClass, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 1; attempt <= r.cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		switch Classify(err) {
		case ClassFatal:
			return err
		case ClassRateLimited:
			until := r.resetTime(err, attempt)
			if limiter != nil {
				limiter.Block(class, until)
			}
			r.logger.Warn("Marketplace rate limit hit",
				zap.String("class", class.String()),
				zap.Int("attempt", attempt),
				zap.Time("reset_at", until),
			)
			if attempt == r.cfg.MaxAttempts {
				return fmt.Errorf("%w after %d attempts: %w", integration.ErrRateLimitExhausted, attempt, err)
			}
			if limiter == nil {
				if err := r.sleep(ctx, until.Sub(r.now())); err != nil {
					return err
				}
			}
		case ClassTransient:
			if attempt == r.cfg.MaxAttempts {
				break
			}
			delay := r.Backoff(attempt)
			r.logger.Info("Retrying marketplace call",
				zap.String("class", class.String()),
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.Error(err),
			)
			if err := r.sleep(ctx, delay); err != nil {
				return err
			}
		}
	}
	return fmt.Errorf("giving up after %d attempts: %w", r.cfg.MaxAttempts, lastErr)
}

// resetTime picks the instant the limiter stays blocked until. A reset in
// the past or a missing header falls back to the regular backoff.
func (r *RetryController) resetTime(err error, attempt int) time.Time {
	now := r.now()
	var remote *integration.RemoteError
	if errors.As(err, &remote) && remote.RateLimit != nil {
		info := remote.RateLimit
		if info.RetryAfter > 0 {
			return now.Add(info.RetryAfter)
		}
		if info.ResetAt.After(now) {
			return info.ResetAt
		}
	}
	return now.Add(r.Backoff(attempt))
}

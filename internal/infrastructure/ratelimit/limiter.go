// Package ratelimit paces outbound marketplace calls per resource class.
//
// Each class has two independent sliding windows (one second and one minute)
// kept as timestamp logs. A call proceeds only when both windows have room and
// the class is not blocked by a server rate-limit signal. An optional token
// bucket from golang.org/x/time/rate spreads calls evenly inside the minute
// budget instead of letting them burst at the start of each second.
package ratelimit

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/erp/marketsync/internal/domain/integration"
	"golang.org/x/time/rate"
)

// Budget is the request allowance of one resource class
type Budget struct {
	PerSecond int
	PerMinute int
}

// Validate checks that both windows allow at least one call
func (b Budget) Validate() error {
	if b.PerSecond <= 0 || b.PerMinute <= 0 {
		return fmt.Errorf("ratelimit: budget must be positive, got %d/s %d/min", b.PerSecond, b.PerMinute)
	}
	if b.PerSecond > b.PerMinute {
		return fmt.Errorf("ratelimit: per-second budget %d exceeds per-minute budget %d", b.PerSecond, b.PerMinute)
	}
	return nil
}

// Config holds the limiter settings
type Config struct {
	Budgets   map[integration.ResourceClass]Budget
	JitterMax time.Duration
	// Pace enables the token bucket in front of the windows
	Pace bool
}

// DefaultConfig returns the marketplace defaults: 12/s and 720/min for
// orders, 3/s and 180/min for everything else.
func DefaultConfig() Config {
	return Config{
		Budgets: map[integration.ResourceClass]Budget{
			integration.ResourceClassOrders:  {PerSecond: 12, PerMinute: 720},
			integration.ResourceClassDefault: {PerSecond: 3, PerMinute: 180},
		},
		JitterMax: 500 * time.Millisecond,
		Pace:      true,
	}
}

// Validate checks every configured budget
func (c Config) Validate() error {
	for _, class := range integration.AllResourceClasses() {
		b, ok := c.Budgets[class]
		if !ok {
			return fmt.Errorf("ratelimit: no budget for class %s", class)
		}
		if err := b.Validate(); err != nil {
			return fmt.Errorf("%w (class %s)", err, class)
		}
	}
	if c.JitterMax < 0 {
		return fmt.Errorf("ratelimit: negative jitter %s", c.JitterMax)
	}
	return nil
}

// LimiterOption configures a Limiter
type LimiterOption func(*Limiter)

// WithClock replaces the time source
func WithClock(now func() time.Time) LimiterOption {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
	}
}

// WithSleeper replaces the function Wait uses to pause
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) LimiterOption {
	return func(l *Limiter) {
		if sleep != nil {
			l.sleep = sleep
		}
	}
}

// WithRand sets the random source used for jitter
func WithRand(r *rand.Rand) LimiterOption {
	return func(l *Limiter) {
		if r != nil {
			l.rnd = r
		}
	}
}

type classState struct {
	budget       Budget
	second       []time.Time
	minute       []time.Time
	blockedUntil time.Time
	pacer        *rate.Limiter
}

// Limiter is a dual sliding-window rate limiter keyed by resource class.
// It is safe for concurrent use.
type Limiter struct {
	mu        sync.Mutex
	classes   map[integration.ResourceClass]*classState
	jitterMax time.Duration
	now       func() time.Time
	sleep     func(ctx context.Context, d time.Duration) error
	rnd       *rand.Rand
}

// NewLimiter creates a limiter for the configured classes
func NewLimiter(cfg Config, opts ...LimiterOption) (*Limiter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	l := &Limiter{
		classes:   make(map[integration.ResourceClass]*classState, len(cfg.Budgets)),
		jitterMax: cfg.JitterMax,
		now:       time.Now,
		sleep:     sleepContext,
		rnd:       rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
	for _, opt := range opts {
		opt(l)
	}
	for class, b := range cfg.Budgets {
		st := &classState{
			budget: b,
			second: make([]time.Time, 0, b.PerSecond),
			minute: make([]time.Time, 0, b.PerMinute),
		}
		if cfg.Pace {
			st.pacer = rate.NewLimiter(rate.Limit(float64(b.PerMinute)/60), b.PerSecond)
		}
		l.classes[class] = st
	}
	return l, nil
}

func (l *Limiter) state(class integration.ResourceClass) *classState {
	if st, ok := l.classes[class]; ok {
		return st
	}
	return l.classes[integration.ResourceClassDefault]
}

// prune drops timestamps that left their window
func prune(log []time.Time, now time.Time, window time.Duration) []time.Time {
	cutoff := now.Add(-window)
	i := 0
	for i < len(log) && !log[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return log
	}
	return append(log[:0], log[i:]...)
}

// Acquire tries to take one grant without blocking. When it cannot, it
// returns false and the time until a grant may become available.
func (l *Limiter) Acquire(_ context.Context, class integration.ResourceClass) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	st := l.state(class)
	st.second = prune(st.second, now, time.Second)
	st.minute = prune(st.minute, now, time.Minute)

	if now.Before(st.blockedUntil) {
		return false, st.blockedUntil.Sub(now)
	}

	var wait time.Duration
	if len(st.second) >= st.budget.PerSecond {
		wait = st.second[0].Add(time.Second).Sub(now)
	}
	if len(st.minute) >= st.budget.PerMinute {
		wait = max(wait, st.minute[0].Add(time.Minute).Sub(now))
	}
	if wait > 0 {
		return false, wait
	}

	if st.pacer != nil {
		r := st.pacer.ReserveN(now, 1)
		if !r.OK() {
			return false, time.Second
		}
		if d := r.DelayFrom(now); d > 0 {
			r.CancelAt(now)
			return false, d
		}
	}

	st.second = append(st.second, now)
	st.minute = append(st.minute, now)
	return true, 0
}

// Wait blocks until a grant is taken or ctx is done
func (l *Limiter) Wait(ctx context.Context, class integration.ResourceClass) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		ok, wait := l.Acquire(ctx, class)
		if ok {
			return nil
		}
		if err := l.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// Release returns the most recent grant of the class when the call it was
// taken for was never sent.
func (l *Limiter) Release(class integration.ResourceClass) {
	l.mu.Lock()
	defer l.mu.Unlock()

	st := l.state(class)
	if n := len(st.second); n > 0 {
		st.second = st.second[:n-1]
	}
	if n := len(st.minute); n > 0 {
		st.minute = st.minute[:n-1]
	}
}

// Block stops all grants of the class until the given instant. It is called
// when the server reports the budget as exhausted; an earlier deadline never
// shortens an existing block.
func (l *Limiter) Block(class integration.ResourceClass, until time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	st := l.state(class)
	if until.After(st.blockedUntil) {
		st.blockedUntil = until
	}
}

// BlockedUntil returns the end of the current block, zero when unblocked
func (l *Limiter) BlockedUntil(class integration.ResourceClass) time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()

	st := l.state(class)
	if !l.now().Before(st.blockedUntil) {
		return time.Time{}
	}
	return st.blockedUntil
}

// Remaining estimates how many calls the class may still make right now
func (l *Limiter) Remaining(class integration.ResourceClass) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	st := l.state(class)
	if now.Before(st.blockedUntil) {
		return 0
	}
	st.second = prune(st.second, now, time.Second)
	st.minute = prune(st.minute, now, time.Minute)
	return max(0, min(st.budget.PerSecond-len(st.second), st.budget.PerMinute-len(st.minute)))
}

// BatchJitter returns a random offset in [0, JitterMax) to apply before a batch
func (l *Limiter) BatchJitter() time.Duration {
	if l.jitterMax <= 0 {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return time.Duration(l.rnd.Int64N(int64(l.jitterMax)))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

package telemetry

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// ErrMeterNil is returned when a metrics set is built without a meter.
var ErrMeterNil = errors.New("telemetry: meter cannot be nil")

// SyncMetrics records synchronization activity. A nil *SyncMetrics is valid
// and records nothing.
type SyncMetrics struct {
	runsStarted    *Counter
	runsFinished   *Counter
	runDuration    *Histogram
	runsActive     *UpDownCounter
	itemsProcessed *Counter
	remoteCalls    *Counter
	remoteDuration *Histogram
	rateLimitWaits *Histogram
	orderChanges   *Counter
}

// NewSyncMetrics registers the sync instruments on meter.
func NewSyncMetrics(meter metric.Meter) (*SyncMetrics, error) {
	if meter == nil {
		return nil, ErrMeterNil
	}

	var (
		m   SyncMetrics
		err error
	)
	if m.runsStarted, err = NewCounter(meter, "marketsync.sync.runs.started", "Sync runs started", "{run}"); err != nil {
		return nil, err
	}
	if m.runsFinished, err = NewCounter(meter, "marketsync.sync.runs.finished", "Sync runs finished by status", "{run}"); err != nil {
		return nil, err
	}
	if m.runDuration, err = NewHistogram(meter, HistogramOpts{
		Name:        "marketsync.sync.run.duration",
		Description: "Sync run wall time",
		Unit:        "s",
		Boundaries:  RunDurationBuckets,
	}); err != nil {
		return nil, err
	}
	if m.runsActive, err = NewUpDownCounter(meter, "marketsync.sync.runs.active", "Sync runs in flight", "{run}"); err != nil {
		return nil, err
	}
	if m.itemsProcessed, err = NewCounter(meter, "marketsync.sync.items", "Items processed by outcome", "{item}"); err != nil {
		return nil, err
	}
	if m.remoteCalls, err = NewCounter(meter, "marketsync.remote.calls", "Marketplace calls by result class", "{call}"); err != nil {
		return nil, err
	}
	if m.remoteDuration, err = NewHistogram(meter, HistogramOpts{
		Name:        "marketsync.remote.duration",
		Description: "Marketplace call latency",
		Unit:        "s",
		Boundaries:  RemoteCallBuckets,
	}); err != nil {
		return nil, err
	}
	if m.rateLimitWaits, err = NewHistogram(meter, HistogramOpts{
		Name:        "marketsync.ratelimit.wait",
		Description: "Time spent waiting for request budget",
		Unit:        "s",
		Boundaries:  RemoteCallBuckets,
	}); err != nil {
		return nil, err
	}
	if m.orderChanges, err = NewCounter(meter, "marketsync.orders.transitions", "Order status transitions sent", "{transition}"); err != nil {
		return nil, err
	}
	return &m, nil
}

// RunStarted counts a new run and marks it active.
func (m *SyncMetrics) RunStarted(ctx context.Context, mode string) {
	if m == nil {
		return
	}
	m.runsStarted.Inc(ctx, AttrMode.String(mode))
	m.runsActive.Add(ctx, 1)
}

// RunFinished records the terminal status and duration of a run.
func (m *SyncMetrics) RunFinished(ctx context.Context, mode, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.runsFinished.Inc(ctx, AttrMode.String(mode), AttrRunStatus.String(status))
	m.runDuration.RecordDuration(ctx, d, AttrMode.String(mode), AttrRunStatus.String(status))
	m.runsActive.Add(ctx, -1)
}

// ItemProcessed counts one item outcome for an account.
func (m *SyncMetrics) ItemProcessed(ctx context.Context, account, outcome string) {
	if m == nil {
		return
	}
	m.itemsProcessed.Inc(ctx, AttrAccountID.String(account), AttrOutcome.String(outcome))
}

// RemoteCall records one marketplace call. errorClass is empty on success.
func (m *SyncMetrics) RemoteCall(ctx context.Context, resource, action, errorClass string, d time.Duration) {
	if m == nil {
		return
	}
	if errorClass == "" {
		errorClass = "none"
	}
	attrs := []attribute.KeyValue{AttrResource.String(resource), AttrAction.String(action), AttrErrorClass.String(errorClass)}
	m.remoteCalls.Inc(ctx, attrs...)
	m.remoteDuration.RecordDuration(ctx, d, attrs...)
}

// RateLimitWait records time spent blocked on the limiter for a resource class.
func (m *SyncMetrics) RateLimitWait(ctx context.Context, class string, d time.Duration) {
	if m == nil || d <= 0 {
		return
	}
	m.rateLimitWaits.RecordDuration(ctx, d, AttrClass.String(class))
}

// OrderTransition counts a status change sent to the marketplace.
func (m *SyncMetrics) OrderTransition(ctx context.Context, from, to string) {
	if m == nil {
		return
	}
	m.orderChanges.Inc(ctx, AttrOrderFrom.String(from), AttrOrderTo.String(to))
}

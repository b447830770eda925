package integration

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/erp/marketsync/internal/domain/integration"
	"github.com/erp/marketsync/internal/domain/shared"
	"github.com/erp/marketsync/internal/infrastructure/scheduler"
	"github.com/erp/marketsync/internal/infrastructure/telemetry"
)

const (
	maxHistoryLimit = 500
	cancelWait      = 5 * time.Second
)

// SyncConfig tunes the orchestrator
type SyncConfig struct {
	// DefaultStrategy applies when a request names none
	DefaultStrategy integration.ConflictStrategy
	// ItemsPerPage is the default page size
	ItemsPerPage int
	// StuckAfter is how long a running run may go without progress
	StuckAfter time.Duration
	// Retention is how long finished runs are kept
	Retention time.Duration
	// HistoryLimit is the default GetSyncHistory limit
	HistoryLimit int
	// MaxConsecutivePageFailures aborts an account worker after this many failed pages in a row
	MaxConsecutivePageFailures int
	// ArchiveBatchSize is how many runs are archived per round before purging
	ArchiveBatchSize int
}

// DefaultSyncConfig returns the default orchestrator settings
func DefaultSyncConfig() SyncConfig {
	return SyncConfig{
		DefaultStrategy:            integration.DefaultConflictStrategy(),
		ItemsPerPage:               integration.MaxPageSize,
		StuckAfter:                 30 * time.Minute,
		Retention:                  30 * 24 * time.Hour,
		HistoryLimit:               50,
		MaxConsecutivePageFailures: 3,
		ArchiveBatchSize:           500,
	}
}

// RunSubmitter queues asynchronous runs. *scheduler.RunPool implements it.
type RunSubmitter interface {
	Submit(job scheduler.RunJob) error
}

// SyncOption configures optional SyncService collaborators
type SyncOption func(*SyncService)

// WithCatalogWriter enables PushRecords
func WithCatalogWriter(w integration.CatalogWriter) SyncOption {
	return func(s *SyncService) {
		s.writer = w
	}
}

// WithBatchJitter sets the start delay drawn for each account worker
func WithBatchJitter(fn func(account integration.AccountID) time.Duration) SyncOption {
	return func(s *SyncService) {
		s.jitter = fn
	}
}

// WithRunSubmitter routes asynchronous runs through a worker pool instead of
// a dedicated goroutine.
func WithRunSubmitter(sub RunSubmitter) SyncOption {
	return func(s *SyncService) {
		s.submitter = sub
	}
}

// WithArchiver archives runs before the retention purge deletes them
func WithArchiver(a integration.SyncRunArchiver) SyncOption {
	return func(s *SyncService) {
		s.archiver = a
	}
}

// WithSyncClock overrides time.Now
func WithSyncClock(now func() time.Time) SyncOption {
	return func(s *SyncService) {
		s.now = now
	}
}

// WithSyncSleeper overrides the context-aware sleep used for batch jitter
func WithSyncSleeper(sleep func(ctx context.Context, d time.Duration) error) SyncOption {
	return func(s *SyncService) {
		s.sleep = sleep
	}
}

// SyncService is the sync orchestrator. It runs one worker per account,
// reconciles every fetched record against the local store and keeps the
// SyncRun log.
type SyncService struct {
	source   integration.CatalogSource
	writer   integration.CatalogWriter
	records  integration.SyncedRecordRepository
	runs     integration.SyncRunRepository
	locker   shared.KeyLocker
	accounts []integration.AccountID
	config   SyncConfig
	logger   *zap.Logger

	jitter         func(account integration.AccountID) time.Duration
	submitter      RunSubmitter
	archiver       integration.SyncRunArchiver
	eventPublisher shared.EventPublisher
	metrics        *telemetry.SyncMetrics
	now            func() time.Time
	sleep          func(ctx context.Context, d time.Duration) error

	mu     sync.Mutex
	active map[uuid.UUID]*activeRun
	wg     sync.WaitGroup
}

// NewSyncService creates a SyncService for the configured accounts
func NewSyncService(
	source integration.CatalogSource,
	records integration.SyncedRecordRepository,
	runs integration.SyncRunRepository,
	locker shared.KeyLocker,
	accounts []integration.AccountID,
	config SyncConfig,
	logger *zap.Logger,
	opts ...SyncOption,
) *SyncService {
	if logger == nil {
		logger = zap.NewNop()
	}
	defaults := DefaultSyncConfig()
	if config.DefaultStrategy == nil {
		config.DefaultStrategy = defaults.DefaultStrategy
	}
	if config.ItemsPerPage <= 0 || config.ItemsPerPage > integration.MaxPageSize {
		config.ItemsPerPage = defaults.ItemsPerPage
	}
	if config.StuckAfter <= 0 {
		config.StuckAfter = defaults.StuckAfter
	}
	if config.Retention <= 0 {
		config.Retention = defaults.Retention
	}
	if config.HistoryLimit <= 0 {
		config.HistoryLimit = defaults.HistoryLimit
	}
	if config.MaxConsecutivePageFailures <= 0 {
		config.MaxConsecutivePageFailures = defaults.MaxConsecutivePageFailures
	}
	if config.ArchiveBatchSize <= 0 {
		config.ArchiveBatchSize = defaults.ArchiveBatchSize
	}

	s := &SyncService{
		source:   source,
		records:  records,
		runs:     runs,
		locker:   locker,
		accounts: slices.Clone(accounts),
		config:   config,
		logger:   logger,
		now:      time.Now,
		sleep:    sleepContext,
		active:   make(map[uuid.UUID]*activeRun),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetEventPublisher sets the publisher for SyncRunFinished events
func (s *SyncService) SetEventPublisher(publisher shared.EventPublisher) {
	s.eventPublisher = publisher
}

// SetMetrics sets the sync metrics recorder
func (s *SyncService) SetMetrics(m *telemetry.SyncMetrics) {
	s.metrics = m
}

// Accounts returns the configured account ids
func (s *SyncService) Accounts() []integration.AccountID {
	return slices.Clone(s.accounts)
}

// ---------------------------------------------------------------------------
// Inbound operations
// ---------------------------------------------------------------------------

// StartSync creates a run and executes it. A synchronous run returns the
// terminal summary; an asynchronous run returns the running summary and
// finishes in the background.
func (s *SyncService) StartSync(ctx context.Context, req StartSyncRequest) (*SyncRunResponse, error) {
	run, err := s.newRun(req)
	if err != nil {
		return nil, err
	}
	if err := s.runs.AppendSyncLog(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to record sync run: %w", err)
	}

	ar := s.register(run)
	s.metrics.RunStarted(ctx, run.Mode.String())
	s.logger.Info("Sync run started",
		zap.String("run_id", run.ID.String()),
		zap.String("mode", run.Mode.String()),
		zap.Any("accounts", run.Accounts),
		zap.String("strategy", run.Strategy),
		zap.Bool("async", req.Async),
	)

	if !req.Async {
		final := s.execute(ctx, ar)
		return ToSyncRunResponse(final, nil, s.now()), nil
	}

	if err := s.submit(ar); err != nil {
		s.abort(ctx, ar, err)
		return nil, err
	}
	snap, progress := ar.snapshot()
	return ToSyncRunResponse(snap, progress, s.now()), nil
}

// GetSyncStatus returns the live state of an in-flight run or the stored
// summary of a finished one.
func (s *SyncService) GetSyncStatus(ctx context.Context, id uuid.UUID) (*SyncRunResponse, error) {
	if ar := s.lookup(id); ar != nil {
		snap, progress := ar.snapshot()
		return ToSyncRunResponse(snap, progress, s.now()), nil
	}
	run, err := s.runs.GetSyncRun(ctx, id)
	if err != nil {
		return nil, err
	}
	return ToSyncRunResponse(run, nil, s.now()), nil
}

// GetSyncHistory lists runs, most recent first. In-flight runs report their
// live counters.
func (s *SyncService) GetSyncHistory(ctx context.Context, filter SyncHistoryFilter) ([]SyncRunResponse, error) {
	domainFilter := integration.SyncRunFilter{Limit: filter.Limit}
	if domainFilter.Limit <= 0 {
		domainFilter.Limit = s.config.HistoryLimit
	}
	domainFilter.Limit = min(domainFilter.Limit, maxHistoryLimit)
	if filter.AccountID != "" {
		id := integration.AccountID(filter.AccountID)
		domainFilter.AccountID = &id
	}
	if filter.Status != "" {
		status := integration.SyncRunStatus(filter.Status)
		if !status.IsValid() {
			return nil, shared.NewDomainError(shared.CodeInvalidInput, fmt.Sprintf("Unknown run status %q", filter.Status))
		}
		domainFilter.Status = &status
	}

	runs, err := s.runs.ListSyncRuns(ctx, domainFilter)
	if err != nil {
		return nil, err
	}

	now := s.now()
	out := make([]SyncRunResponse, 0, len(runs))
	for i := range runs {
		run := &runs[i]
		if ar := s.lookup(run.ID); ar != nil {
			snap, progress := ar.snapshot()
			out = append(out, *ToSyncRunResponse(snap, progress, now))
			continue
		}
		out = append(out, *ToSyncRunResponse(run, nil, now))
	}
	return out, nil
}

// CancelSync asks an in-flight run to stop issuing pages. In-flight calls
// finish and the run is stored as partial. The call waits briefly for the
// run to terminate and returns its latest summary.
func (s *SyncService) CancelSync(ctx context.Context, id uuid.UUID) (*SyncRunResponse, error) {
	ar := s.lookup(id)
	if ar == nil {
		run, err := s.runs.GetSyncRun(ctx, id)
		if err != nil {
			return nil, err
		}
		if run.IsTerminal() {
			return nil, integration.ErrSyncRunTerminal
		}
		return nil, shared.NewDomainError(shared.CodeInvalidState, fmt.Sprintf("Sync run %s is not executing on this instance", id))
	}

	ar.requestCancel()
	s.logger.Info("Sync run cancellation requested", zap.String("run_id", id.String()))

	timer := time.NewTimer(cancelWait)
	defer timer.Stop()
	select {
	case <-ar.done:
	case <-timer.C:
	case <-ctx.Done():
	}

	snap, progress := ar.snapshot()
	if snap.IsTerminal() {
		progress = nil
	}
	return ToSyncRunResponse(snap, progress, s.now()), nil
}

// GetAggregatedCatalog returns one page of natural keys, each merged across
// every account that carries it.
func (s *SyncService) GetAggregatedCatalog(ctx context.Context, page, pageSize int) (*AggregatedCatalogResponse, error) {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 || pageSize > integration.MaxPageSize {
		pageSize = integration.MaxPageSize
	}

	keys, total, err := s.records.ListNaturalKeys(ctx, page, pageSize)
	if err != nil {
		return nil, err
	}
	resp := &AggregatedCatalogResponse{
		Items:    make([]AggregatedRecordResponse, 0, len(keys)),
		Page:     page,
		PageSize: pageSize,
		Total:    total,
	}
	if len(keys) == 0 {
		return resp, nil
	}

	records, _, err := s.records.ListSyncedRecords(ctx, integration.SyncedRecordFilter{
		NaturalKeys: keys,
	})
	if err != nil {
		return nil, err
	}
	for _, agg := range integration.AggregateByNaturalKey(records) {
		resp.Items = append(resp.Items, ToAggregatedRecordResponse(&agg))
	}
	return resp, nil
}

// PushRecords saves locally stored records of one account to the
// marketplace in bulk. Accepted records are marked synced, rejected ones
// failed.
func (s *SyncService) PushRecords(ctx context.Context, req PushRecordsRequest) (*PushRecordsResponse, error) {
	if s.writer == nil {
		return nil, shared.NewDomainError(shared.CodeInvalidState, "Catalog push is not configured")
	}
	account := integration.AccountID(req.AccountID)
	if !slices.Contains(s.accounts, account) {
		return nil, fmt.Errorf("%w: %s", integration.ErrUnknownAccount, account)
	}
	if len(req.Keys) == 0 {
		return nil, shared.NewDomainError(shared.CodeInvalidInput, "At least one natural key is required")
	}

	records, _, err := s.records.ListSyncedRecords(ctx, integration.SyncedRecordFilter{
		AccountID:   &account,
		NaturalKeys: req.Keys,
		Page:        1,
		PageSize:    len(req.Keys),
	})
	if err != nil {
		return nil, err
	}

	resp := &PushRecordsResponse{AccountID: account.String()}
	byKey := make(map[string]*integration.SyncedRecord, len(records))
	batch := make([]*integration.SyncedRecord, 0, len(records))
	for i := range records {
		byKey[records[i].NaturalKey] = &records[i]
		batch = append(batch, &records[i])
	}
	for _, k := range req.Keys {
		if _, ok := byKey[k]; !ok {
			resp.Missing = append(resp.Missing, k)
		}
	}
	if len(batch) == 0 {
		return resp, nil
	}

	results, err := s.writer.SaveCatalogRecords(ctx, account, batch)
	if err != nil {
		return nil, err
	}

	now := s.now()
	for _, res := range results {
		rec, ok := byKey[res.NaturalKey]
		if !ok {
			continue
		}
		if err := s.storePushResult(ctx, rec, res.Err, now); err != nil {
			return nil, err
		}
		if res.Err != nil {
			resp.Failed++
			resp.Errors = append(resp.Errors, integration.SyncItemError{
				AccountID:  account,
				NaturalKey: res.NaturalKey,
				Code:       integration.ErrorCode(res.Err),
				Message:    res.Err.Error(),
				OccurredAt: now,
			})
			continue
		}
		resp.Saved++
	}

	s.logger.Info("Catalog records pushed",
		zap.String("account_id", account.String()),
		zap.Int("saved", resp.Saved),
		zap.Int("failed", resp.Failed),
		zap.Int("missing", len(resp.Missing)),
	)
	return resp, nil
}

func (s *SyncService) storePushResult(ctx context.Context, rec *integration.SyncedRecord, saveErr error, now time.Time) error {
	unlock, err := s.locker.Lock(ctx, rec.Key().String())
	if err != nil {
		return err
	}
	defer unlock()

	if saveErr != nil {
		return s.records.UpdateSyncStatus(ctx, rec.Key(), integration.RecordSyncStatusFailed)
	}
	rec.MarkSynced(now)
	return s.records.UpsertSyncedRecord(ctx, rec)
}

// Shutdown cancels every in-flight run and waits for runs executed on
// dedicated goroutines to persist their partial summaries.
func (s *SyncService) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	inflight := make([]*activeRun, 0, len(s.active))
	for _, ar := range s.active {
		inflight = append(inflight, ar)
	}
	s.mu.Unlock()

	for _, ar := range inflight {
		ar.requestCancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ---------------------------------------------------------------------------
// Run lifecycle
// ---------------------------------------------------------------------------

func (s *SyncService) newRun(req StartSyncRequest) (*integration.SyncRun, error) {
	mode, err := integration.ParseSyncMode(req.Mode)
	if err != nil {
		return nil, err
	}

	strategy := s.config.DefaultStrategy
	if req.ConflictStrategy != "" {
		if strategy, err = integration.ParseConflictStrategy(req.ConflictStrategy); err != nil {
			return nil, err
		}
	}

	accounts, err := s.resolveAccounts(req.Accounts)
	if err != nil {
		return nil, err
	}

	itemsPerPage := req.ItemsPerPage
	if itemsPerPage == 0 {
		itemsPerPage = s.config.ItemsPerPage
	}

	return integration.NewSyncRun(mode, accounts, strategy, integration.SyncRunOptions{
		Keys:         dedupeKeys(req.Keys),
		MaxPages:     req.MaxPages,
		ItemsPerPage: itemsPerPage,
	}, s.now())
}

func (s *SyncService) resolveAccounts(requested []string) ([]integration.AccountID, error) {
	if len(requested) == 0 {
		if len(s.accounts) == 0 {
			return nil, fmt.Errorf("%w: no accounts configured", integration.ErrUnknownAccount)
		}
		return slices.Clone(s.accounts), nil
	}
	out := make([]integration.AccountID, 0, len(requested))
	for _, r := range requested {
		id := integration.AccountID(r)
		if !slices.Contains(s.accounts, id) {
			return nil, fmt.Errorf("%w: %q", integration.ErrUnknownAccount, r)
		}
		if !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out, nil
}

func dedupeKeys(keys []string) []string {
	if len(keys) == 0 {
		return nil
	}
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if k != "" && !slices.Contains(out, k) {
			out = append(out, k)
		}
	}
	return out
}

func (s *SyncService) register(run *integration.SyncRun) *activeRun {
	ar := newActiveRun(run, s.now())
	s.mu.Lock()
	s.active[run.ID] = ar
	s.mu.Unlock()
	return ar
}

func (s *SyncService) unregister(ar *activeRun) {
	s.mu.Lock()
	delete(s.active, ar.run.ID)
	s.mu.Unlock()
	close(ar.done)
}

func (s *SyncService) lookup(id uuid.UUID) *activeRun {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active[id]
}

func (s *SyncService) submit(ar *activeRun) error {
	job := func(ctx context.Context) error {
		s.execute(ctx, ar)
		return nil
	}
	if s.submitter != nil {
		return s.submitter.Submit(scheduler.RunJob{RunID: ar.run.ID, Run: job})
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		_ = job(context.Background())
	}()
	return nil
}

// abort fails a run that could not be scheduled
func (s *SyncService) abort(ctx context.Context, ar *activeRun, cause error) {
	now := s.now()
	ar.mu.Lock()
	ar.run.AddError(integration.SyncItemError{
		Code:       integration.ErrorCodeInternal,
		Message:    fmt.Sprintf("run could not be scheduled: %v", cause),
		OccurredAt: now,
	})
	_ = ar.run.Finish(false, now)
	final := ar.run.Snapshot()
	ar.mu.Unlock()

	s.finalize(context.WithoutCancel(ctx), final)
	s.unregister(ar)
}

// execute runs every account worker to completion or cancellation and
// persists the terminal summary. It returns that summary.
func (s *SyncService) execute(ctx context.Context, ar *activeRun) *integration.SyncRun {
	defer s.unregister(ar)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if ar.bind(cancel) {
		cancel()
	}

	run := ar.run
	runCtx, span := telemetry.StartSpan(runCtx, "sync.run",
		telemetry.WithAttribute(telemetry.SpanAttrRunID, run.ID.String()),
		telemetry.WithAttribute(telemetry.SpanAttrMode, run.Mode.String()),
	)
	defer span.End()

	log := s.logger.With(zap.String("run_id", run.ID.String()), zap.String("mode", run.Mode.String()))
	s.runAccounts(runCtx, ar, log)

	canceled := runCtx.Err() != nil
	now := s.now()
	ar.mu.Lock()
	if err := run.Finish(canceled, now); err != nil && !errors.Is(err, integration.ErrSyncRunTerminal) {
		log.Error("Failed to finish sync run", zap.Error(err))
	}
	final := run.Snapshot()
	ar.mu.Unlock()

	if final.Status != integration.SyncRunStatusCompleted {
		telemetry.SetAttributes(span, "sync.status", final.Status.String())
	} else {
		telemetry.SetOK(span)
	}

	s.finalize(context.WithoutCancel(ctx), final)
	return final
}

// finalize persists a terminal run and announces it
func (s *SyncService) finalize(ctx context.Context, final *integration.SyncRun) {
	log := s.logger.With(zap.String("run_id", final.ID.String()))
	if err := s.runs.AppendSyncLog(ctx, final); err != nil {
		if errors.Is(err, integration.ErrSyncRunTerminal) {
			log.Warn("Sync run was already finalized, keeping the stored summary",
				zap.String("status", final.Status.String()))
			return
		}
		log.Error("Failed to persist sync run", zap.Error(err))
	}

	s.metrics.RunFinished(ctx, final.Mode.String(), final.Status.String(), final.Duration(s.now()))
	s.publish(ctx, integration.NewSyncRunFinishedEvent(final))

	log.Info("Sync run finished",
		zap.String("status", final.Status.String()),
		zap.Bool("canceled", final.Canceled),
		zap.Int("processed", final.Counts.Processed),
		zap.Int("created", final.Counts.Created),
		zap.Int("updated", final.Counts.Updated),
		zap.Int("unchanged", final.Counts.Unchanged),
		zap.Int("failed", final.Counts.Failed),
		zap.Int("flagged", final.Counts.Flagged),
		zap.Int("errors", len(final.Errors)),
	)
}

func (s *SyncService) publish(ctx context.Context, events ...shared.DomainEvent) {
	if s.eventPublisher == nil {
		return
	}
	if err := s.eventPublisher.Publish(ctx, events...); err != nil {
		s.logger.Warn("Failed to publish sync events", zap.Error(err))
	}
}

// persistProgress stores the current snapshot so other instances see the
// run making progress. Writes are serialized to keep them in snapshot order.
func (s *SyncService) persistProgress(ctx context.Context, ar *activeRun) {
	ar.persistMu.Lock()
	defer ar.persistMu.Unlock()

	ar.mu.Lock()
	if ar.run.IsTerminal() {
		ar.mu.Unlock()
		return
	}
	snap := ar.run.Snapshot()
	ar.mu.Unlock()

	if err := s.runs.AppendSyncLog(context.WithoutCancel(ctx), snap); err != nil {
		if errors.Is(err, integration.ErrSyncRunTerminal) {
			s.logger.Warn("Sync run was finalized elsewhere, canceling", zap.String("run_id", snap.ID.String()))
			ar.requestCancel()
			return
		}
		s.logger.Warn("Failed to persist sync progress", zap.String("run_id", snap.ID.String()), zap.Error(err))
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
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

// ---------------------------------------------------------------------------
// activeRun
// ---------------------------------------------------------------------------

// activeRun is the in-process state of a run that has not terminated yet.
// mu guards run and progress, which both account workers mutate.
type activeRun struct {
	mu        sync.Mutex
	persistMu sync.Mutex
	run       *integration.SyncRun
	progress  *integration.SyncProgress
	cancel    context.CancelFunc
	canceled  bool
	done      chan struct{}
}

func newActiveRun(run *integration.SyncRun, now time.Time) *activeRun {
	return &activeRun{
		run:      run,
		progress: integration.NewSyncProgress(run.ID, now),
		done:     make(chan struct{}),
	}
}

// bind attaches the cancel function of the executing context. It reports
// whether cancellation was requested before execution started.
func (a *activeRun) bind(cancel context.CancelFunc) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cancel = cancel
	return a.canceled
}

func (a *activeRun) requestCancel() {
	a.mu.Lock()
	a.canceled = true
	cancel := a.cancel
	a.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (a *activeRun) snapshot() (*integration.SyncRun, *integration.SyncProgress) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.run.Snapshot(), a.progress.Clone()
}

func (a *activeRun) record(key string, outcome integration.Outcome) {
	a.mu.Lock()
	a.run.Record(key, outcome)
	a.mu.Unlock()
}

func (a *activeRun) addError(e integration.SyncItemError) {
	a.mu.Lock()
	a.run.AddError(e)
	a.mu.Unlock()
}

func (a *activeRun) addFlagged(item integration.FlaggedItem) {
	a.mu.Lock()
	a.run.AddFlagged(item)
	a.mu.Unlock()
}

func (a *activeRun) addWarning(msg string) {
	a.mu.Lock()
	a.run.AddWarning(msg)
	a.mu.Unlock()
}

func (a *activeRun) pageFetched(page, totalItems int, now time.Time) {
	a.mu.Lock()
	a.run.PageFetched(now)
	if page == 1 {
		a.progress.AddEstimate(totalItems)
	}
	a.mu.Unlock()
}

func (a *activeRun) advance(account integration.AccountID, page, items int, now time.Time) {
	a.mu.Lock()
	a.progress.Advance(account, page, items, now)
	a.run.Touch(now)
	a.mu.Unlock()
}

package integration

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/erp/marketsync/internal/domain/integration"
	"github.com/erp/marketsync/internal/domain/shared"
	"github.com/erp/marketsync/internal/infrastructure/cache"
	"github.com/erp/marketsync/internal/infrastructure/scheduler"
)

const (
	accountA = integration.AccountID("acct-a")
	accountB = integration.AccountID("acct-b")
)

type syncFixture struct {
	source    *MockCatalogSource
	records   *memoryRecordRepo
	runs      *memoryRunRepo
	publisher *capturingPublisher
	service   *SyncService
}

func newSyncFixture(t *testing.T, config SyncConfig, opts ...SyncOption) *syncFixture {
	t.Helper()
	f := &syncFixture{
		source:    new(MockCatalogSource),
		records:   newMemoryRecordRepo(),
		runs:      newMemoryRunRepo(),
		publisher: &capturingPublisher{},
	}
	opts = append([]SyncOption{WithSyncClock(func() time.Time { return testNow })}, opts...)
	f.service = NewSyncService(
		f.source,
		f.records,
		f.runs,
		cache.NewInMemoryKeyLocker(),
		[]integration.AccountID{accountA, accountB},
		config,
		zap.NewNop(),
		opts...,
	)
	f.service.SetEventPublisher(f.publisher)
	return f
}

func (f *syncFixture) onPage(account integration.AccountID, page int, result *integration.CatalogPage, err error) *mock.Call {
	return f.source.On("FetchCatalogPage", mock.Anything, account, page, integration.MaxPageSize, mock.Anything).Return(result, err)
}

func TestSyncService_FullRunAcrossAccounts(t *testing.T) {
	f := newSyncFixture(t, SyncConfig{})
	f.onPage(accountA, 1, catalogPage(accountA, 0, 100, true), nil)
	f.onPage(accountA, 2, catalogPage(accountA, 100, 50, false), nil)
	f.onPage(accountB, 1, &integration.CatalogPage{}, nil)

	resp, err := f.service.StartSync(context.Background(), StartSyncRequest{Mode: "full"})
	require.NoError(t, err)

	assert.Equal(t, "completed", resp.Status)
	assert.Equal(t, 150, resp.Counts.Processed)
	assert.Equal(t, 150, resp.Counts.Created)
	assert.Equal(t, 0, resp.Counts.Failed)
	assert.Equal(t, 3, resp.Counts.PagesFetched)
	assert.Empty(t, resp.Errors)
	assert.Nil(t, resp.Progress)
	assert.Equal(t, 150, f.records.count())

	stored := f.runs.stored(resp.ID)
	require.NotNil(t, stored)
	assert.Equal(t, integration.SyncRunStatusCompleted, stored.Status)
	assert.NotNil(t, stored.FinishedAt)
	assert.Equal(t, []string{integration.EventTypeSyncRunFinished}, f.publisher.types())

	rec := f.records.get("SKU-0042", accountA)
	require.NotNil(t, rec)
	assert.Equal(t, integration.RecordSyncStatusSynced, rec.SyncStatus)
	assert.NotEmpty(t, rec.Checksum)
	f.source.AssertExpectations(t)
}

func TestSyncService_RepeatedRunChangesNothing(t *testing.T) {
	f := newSyncFixture(t, SyncConfig{})
	f.onPage(accountA, 1, catalogPage(accountA, 0, 100, true), nil)
	f.onPage(accountA, 2, catalogPage(accountA, 100, 50, false), nil)
	f.onPage(accountB, 1, &integration.CatalogPage{}, nil)

	_, err := f.service.StartSync(context.Background(), StartSyncRequest{Mode: "full"})
	require.NoError(t, err)
	upserts := f.records.upserts

	second, err := f.service.StartSync(context.Background(), StartSyncRequest{Mode: "full"})
	require.NoError(t, err)

	assert.Equal(t, "completed", second.Status)
	assert.Equal(t, 150, second.Counts.Processed)
	assert.Equal(t, 0, second.Counts.Created)
	assert.Equal(t, 0, second.Counts.Updated)
	assert.Equal(t, 150, second.Counts.Unchanged)
	assert.Equal(t, upserts, f.records.upserts)
}

func TestSyncService_RemoteChangeUpdatesRecord(t *testing.T) {
	f := newSyncFixture(t, SyncConfig{})
	local := remoteRecord(accountA, "SKU-0001", "8.00", 3)
	local.MarkSynced(testNow.Add(-24 * time.Hour))
	require.NoError(t, f.records.UpsertSyncedRecord(context.Background(), local))

	f.onPage(accountA, 1, &integration.CatalogPage{
		Records: []*integration.SyncedRecord{remoteRecord(accountA, "SKU-0001", "12.50", 7)},
	}, nil)

	resp, err := f.service.StartSync(context.Background(), StartSyncRequest{
		Mode:     "full",
		Accounts: []string{accountA.String()},
	})
	require.NoError(t, err)

	assert.Equal(t, 1, resp.Counts.Updated)
	stored := f.records.get("SKU-0001", accountA)
	assert.True(t, stored.Price.Equal(decimal.RequireFromString("12.50")))
	assert.Equal(t, 7, stored.Stock)
	assert.Equal(t, testNow, *stored.LastSyncedAt)
}

func TestSyncService_ManualStrategyFlagsWithoutWriting(t *testing.T) {
	f := newSyncFixture(t, SyncConfig{})
	local := remoteRecord(accountA, "SKU-0001", "8.00", 3)
	local.MarkSynced(testNow.Add(-24 * time.Hour))
	require.NoError(t, f.records.UpsertSyncedRecord(context.Background(), local))

	f.onPage(accountA, 1, &integration.CatalogPage{
		Records: []*integration.SyncedRecord{
			remoteRecord(accountA, "SKU-0001", "10.00", 3),
			remoteRecord(accountA, "SKU-0002", "4.00", 1),
		},
	}, nil)

	resp, err := f.service.StartSync(context.Background(), StartSyncRequest{
		Mode:             "full",
		Accounts:         []string{accountA.String()},
		ConflictStrategy: "manual",
	})
	require.NoError(t, err)

	assert.Equal(t, "completed", resp.Status)
	assert.Equal(t, 2, resp.Counts.Flagged)
	assert.Equal(t, 0, resp.Counts.Created)
	assert.Equal(t, 0, resp.Counts.Updated)
	require.Len(t, resp.Flagged, 2)

	flagged := resp.Flagged[0]
	assert.Equal(t, "SKU-0001", flagged.NaturalKey)
	assert.Equal(t, "8", flagged.LocalPrice)
	assert.Equal(t, "10", flagged.RemotePrice)

	stored := f.records.get("SKU-0001", accountA)
	assert.True(t, stored.Price.Equal(decimal.RequireFromString("8.00")))
	assert.Equal(t, integration.RecordSyncStatusConflict, stored.SyncStatus)
	assert.Nil(t, f.records.get("SKU-0002", accountA))
}

func TestSyncService_LocalPriorityKeepsExisting(t *testing.T) {
	f := newSyncFixture(t, SyncConfig{})
	local := remoteRecord(accountA, "SKU-0001", "8.00", 3)
	local.MarkSynced(testNow.Add(-24 * time.Hour))
	require.NoError(t, f.records.UpsertSyncedRecord(context.Background(), local))

	f.onPage(accountA, 1, &integration.CatalogPage{
		Records: []*integration.SyncedRecord{
			remoteRecord(accountA, "SKU-0001", "10.00", 3),
			remoteRecord(accountA, "SKU-0002", "4.00", 1),
		},
	}, nil)

	resp, err := f.service.StartSync(context.Background(), StartSyncRequest{
		Mode:             "full",
		Accounts:         []string{accountA.String()},
		ConflictStrategy: "local_priority",
	})
	require.NoError(t, err)

	assert.Equal(t, 1, resp.Counts.Unchanged)
	assert.Equal(t, 1, resp.Counts.Created)
	assert.True(t, f.records.get("SKU-0001", accountA).Price.Equal(decimal.RequireFromString("8.00")))
}

func TestSyncService_InvalidRecordCountsAsFailed(t *testing.T) {
	f := newSyncFixture(t, SyncConfig{})
	bad := remoteRecord(accountA, "SKU-0001", "-1.00", 3)
	f.onPage(accountA, 1, &integration.CatalogPage{
		Records: []*integration.SyncedRecord{bad, remoteRecord(accountA, "SKU-0002", "4.00", 1)},
	}, nil)

	resp, err := f.service.StartSync(context.Background(), StartSyncRequest{
		Mode:     "full",
		Accounts: []string{accountA.String()},
	})
	require.NoError(t, err)

	assert.Equal(t, "partial", resp.Status)
	assert.Equal(t, 1, resp.Counts.Failed)
	assert.Equal(t, 1, resp.Counts.Created)
	require.Len(t, resp.Errors, 1)
	assert.Equal(t, integration.ErrorCodeValidation, resp.Errors[0].Code)
	assert.Equal(t, "SKU-0001", resp.Errors[0].NaturalKey)
}

func TestSyncService_UndecodableItemFailsOnlyThatItem(t *testing.T) {
	f := newSyncFixture(t, SyncConfig{})
	page := catalogPage(accountA, 0, 99, false)
	page.ItemErrors = []integration.ItemError{{
		Index: 99,
		Err:   fmt.Errorf("%w: natural key cannot be empty", integration.ErrProtocolViolation),
	}}
	f.onPage(accountA, 1, page, nil)

	resp, err := f.service.StartSync(context.Background(), StartSyncRequest{
		Mode:     "full",
		Accounts: []string{accountA.String()},
	})
	require.NoError(t, err)

	assert.Equal(t, "partial", resp.Status)
	assert.Equal(t, 100, resp.Counts.Processed)
	assert.Equal(t, 99, resp.Counts.Created)
	assert.Equal(t, 1, resp.Counts.Failed)
	assert.Equal(t, 99, resp.Counts.DistinctKeys)
	require.Len(t, resp.Errors, 1)
	assert.Equal(t, integration.ErrorCodeProtocolViolation, resp.Errors[0].Code)
	assert.Equal(t, 1, resp.Errors[0].Page)
	assert.Equal(t, 99, f.records.count())
}

func TestSyncService_AuthenticationAbortsOnlyThatAccount(t *testing.T) {
	f := newSyncFixture(t, SyncConfig{})
	f.onPage(accountA, 1, catalogPage(accountA, 0, 10, false), nil)
	f.onPage(accountB, 1, nil, fmt.Errorf("%w: token rejected", integration.ErrAuthentication)).Once()

	resp, err := f.service.StartSync(context.Background(), StartSyncRequest{Mode: "full"})
	require.NoError(t, err)

	assert.Equal(t, "partial", resp.Status)
	assert.Equal(t, 10, resp.Counts.Created)
	require.Len(t, resp.Errors, 1)
	assert.Equal(t, accountB, resp.Errors[0].AccountID)
	assert.Equal(t, integration.ErrorCodeAuthentication, resp.Errors[0].Code)
	f.source.AssertNumberOfCalls(t, "FetchCatalogPage", 2)
}

func TestSyncService_FailedPageIsSkipped(t *testing.T) {
	f := newSyncFixture(t, SyncConfig{})
	f.onPage(accountA, 1, nil, fmt.Errorf("%w: 503", integration.ErrTransientNetwork))
	f.onPage(accountA, 2, catalogPage(accountA, 100, 5, false), nil)

	resp, err := f.service.StartSync(context.Background(), StartSyncRequest{
		Mode:     "full",
		Accounts: []string{accountA.String()},
	})
	require.NoError(t, err)

	assert.Equal(t, "partial", resp.Status)
	assert.Equal(t, 5, resp.Counts.Created)
	assert.Equal(t, 1, resp.Counts.PagesFetched)
	require.Len(t, resp.Errors, 1)
	assert.Equal(t, 1, resp.Errors[0].Page)
	assert.Equal(t, integration.ErrorCodeTransientNetwork, resp.Errors[0].Code)
}

func TestSyncService_ConsecutivePageFailuresStopAccount(t *testing.T) {
	f := newSyncFixture(t, SyncConfig{MaxConsecutivePageFailures: 2})
	transient := fmt.Errorf("%w: timeout", integration.ErrTransientNetwork)
	f.onPage(accountA, 1, nil, transient)
	f.onPage(accountA, 2, nil, transient)

	resp, err := f.service.StartSync(context.Background(), StartSyncRequest{
		Mode:     "full",
		Accounts: []string{accountA.String()},
	})
	require.NoError(t, err)

	assert.Equal(t, "failed", resp.Status)
	assert.Len(t, resp.Errors, 2)
	require.Len(t, resp.Warnings, 1)
	assert.Contains(t, resp.Warnings[0], "2 consecutive failed pages")
	f.source.AssertNumberOfCalls(t, "FetchCatalogPage", 2)
}

func TestSyncService_MaxPagesStopsEarly(t *testing.T) {
	f := newSyncFixture(t, SyncConfig{})
	f.onPage(accountA, 1, catalogPage(accountA, 0, 100, true), nil)

	resp, err := f.service.StartSync(context.Background(), StartSyncRequest{
		Mode:     "full",
		Accounts: []string{accountA.String()},
		MaxPages: 1,
	})
	require.NoError(t, err)

	assert.Equal(t, "completed", resp.Status)
	assert.Equal(t, 100, resp.Counts.Processed)
	f.source.AssertNumberOfCalls(t, "FetchCatalogPage", 1)
}

func TestSyncService_SelectiveRunPassesKeys(t *testing.T) {
	f := newSyncFixture(t, SyncConfig{})
	f.source.On("FetchCatalogPage", mock.Anything, accountA, 1, integration.MaxPageSize,
		integration.CatalogFilter{Keys: []string{"SKU-0001", "SKU-0002"}}).
		Return(catalogPage(accountA, 1, 2, false), nil)

	resp, err := f.service.StartSync(context.Background(), StartSyncRequest{
		Mode:     "selective",
		Accounts: []string{accountA.String()},
		Keys:     []string{"SKU-0001", "SKU-0002", "SKU-0001"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, resp.Counts.Created)
	f.source.AssertExpectations(t)
}

func TestSyncService_IncrementalRunUsesLastSuccess(t *testing.T) {
	f := newSyncFixture(t, SyncConfig{})
	previous, err := integration.NewSyncRun(integration.SyncModeFull, []integration.AccountID{accountA},
		integration.RemotePriority{}, integration.SyncRunOptions{}, testNow.Add(-6*time.Hour))
	require.NoError(t, err)
	require.NoError(t, previous.Finish(false, testNow.Add(-5*time.Hour)))
	require.NoError(t, f.runs.AppendSyncLog(context.Background(), previous))

	since := testNow.Add(-6 * time.Hour)
	f.source.On("FetchCatalogPage", mock.Anything, accountA, 1, integration.MaxPageSize,
		integration.CatalogFilter{ModifiedSince: &since}).
		Return(&integration.CatalogPage{}, nil)

	resp, err := f.service.StartSync(context.Background(), StartSyncRequest{Accounts: []string{accountA.String()}})
	require.NoError(t, err)
	assert.Equal(t, "incremental", resp.Mode)
	assert.Equal(t, "completed", resp.Status)
	f.source.AssertExpectations(t)
}

func TestSyncService_IncrementalRunIgnoresNarrowRuns(t *testing.T) {
	f := newSyncFixture(t, SyncConfig{})
	ctx := context.Background()
	accounts := []integration.AccountID{accountA}

	full, err := integration.NewSyncRun(integration.SyncModeFull, accounts,
		integration.RemotePriority{}, integration.SyncRunOptions{}, testNow.Add(-6*time.Hour))
	require.NoError(t, err)
	require.NoError(t, full.Finish(false, testNow.Add(-5*time.Hour)))

	selective, err := integration.NewSyncRun(integration.SyncModeSelective, accounts,
		integration.RemotePriority{}, integration.SyncRunOptions{Keys: []string{"SKU-1"}}, testNow.Add(-time.Hour))
	require.NoError(t, err)
	require.NoError(t, selective.Finish(false, testNow.Add(-time.Hour)))

	capped, err := integration.NewSyncRun(integration.SyncModeFull, accounts,
		integration.RemotePriority{}, integration.SyncRunOptions{MaxPages: 1}, testNow.Add(-30*time.Minute))
	require.NoError(t, err)
	require.NoError(t, capped.Finish(false, testNow.Add(-30*time.Minute)))

	for _, r := range []*integration.SyncRun{full, selective, capped} {
		require.NoError(t, f.runs.AppendSyncLog(ctx, r))
	}

	since := testNow.Add(-6 * time.Hour)
	f.source.On("FetchCatalogPage", mock.Anything, accountA, 1, integration.MaxPageSize,
		integration.CatalogFilter{ModifiedSince: &since}).
		Return(&integration.CatalogPage{}, nil)

	resp, err := f.service.StartSync(ctx, StartSyncRequest{Accounts: []string{accountA.String()}})
	require.NoError(t, err)
	assert.Equal(t, "completed", resp.Status)
	f.source.AssertExpectations(t)
}

func TestSyncService_StartSyncRejectsInvalidRequests(t *testing.T) {
	tests := []struct {
		name string
		req  StartSyncRequest
		err  error
	}{
		{"unknown mode", StartSyncRequest{Mode: "delta"}, integration.ErrInvalidSyncMode},
		{"unknown strategy", StartSyncRequest{ConflictStrategy: "coin_flip"}, integration.ErrInvalidStrategy},
		{"unknown account", StartSyncRequest{Accounts: []string{"acct-z"}}, integration.ErrUnknownAccount},
		{"selective without keys", StartSyncRequest{Mode: "selective"}, integration.ErrSelectiveWithoutKeys},
		{"page size too large", StartSyncRequest{ItemsPerPage: 500}, integration.ErrInvalidPageSize},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newSyncFixture(t, SyncConfig{})
			_, err := f.service.StartSync(context.Background(), tt.req)
			assert.ErrorIs(t, err, tt.err)
			assert.Equal(t, 0, f.runs.size())
		})
	}
}

// blockingSource serves page 1 and then blocks until the run is canceled
type blockingSource struct {
	started chan struct{}
	once    sync.Once
}

func (s *blockingSource) FetchCatalogPage(ctx context.Context, account integration.AccountID, page, _ int, _ integration.CatalogFilter) (*integration.CatalogPage, error) {
	if page == 1 {
		return catalogPage(account, 0, 20, true), nil
	}
	s.once.Do(func() { close(s.started) })
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestSyncService_CancelAsyncRun(t *testing.T) {
	source := &blockingSource{started: make(chan struct{})}
	runs := newMemoryRunRepo()
	service := NewSyncService(source, newMemoryRecordRepo(), runs, cache.NewInMemoryKeyLocker(),
		[]integration.AccountID{accountA}, SyncConfig{}, zap.NewNop(),
		WithSyncClock(func() time.Time { return testNow }))

	started, err := service.StartSync(context.Background(), StartSyncRequest{Mode: "full", Async: true})
	require.NoError(t, err)
	assert.Equal(t, "running", started.Status)

	select {
	case <-source.started:
	case <-time.After(5 * time.Second):
		t.Fatal("second page was never requested")
	}

	status, err := service.GetSyncStatus(context.Background(), started.ID)
	require.NoError(t, err)
	assert.Equal(t, "running", status.Status)
	require.NotNil(t, status.Progress)
	assert.Equal(t, 20, status.Progress.ItemsProcessed)

	canceled, err := service.CancelSync(context.Background(), started.ID)
	require.NoError(t, err)
	assert.Equal(t, "partial", canceled.Status)
	assert.True(t, canceled.Canceled)
	assert.Equal(t, 20, canceled.Counts.Processed)

	require.NoError(t, service.Shutdown(context.Background()))
	stored := runs.stored(started.ID)
	require.NotNil(t, stored)
	assert.Equal(t, integration.SyncRunStatusPartial, stored.Status)

	_, err = service.CancelSync(context.Background(), started.ID)
	assert.ErrorIs(t, err, integration.ErrSyncRunTerminal)
}

func TestSyncService_CancelUnknownRun(t *testing.T) {
	f := newSyncFixture(t, SyncConfig{})
	_, err := f.service.CancelSync(context.Background(), uuid.New())
	assert.ErrorIs(t, err, integration.ErrSyncRunNotFound)
}

type rejectingSubmitter struct{}

func (rejectingSubmitter) Submit(_ scheduler.RunJob) error {
	return scheduler.ErrJobQueueFull
}

func TestSyncService_AsyncRunRejectedByQueueIsFailed(t *testing.T) {
	f := newSyncFixture(t, SyncConfig{}, WithRunSubmitter(rejectingSubmitter{}))

	_, err := f.service.StartSync(context.Background(), StartSyncRequest{Async: true})
	require.ErrorIs(t, err, scheduler.ErrJobQueueFull)

	history, err := f.service.GetSyncHistory(context.Background(), SyncHistoryFilter{})
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "failed", history[0].Status)
}

func TestSyncService_GetSyncHistory(t *testing.T) {
	f := newSyncFixture(t, SyncConfig{})
	for i := range 3 {
		run, err := integration.NewSyncRun(integration.SyncModeFull, []integration.AccountID{accountA},
			integration.RemotePriority{}, integration.SyncRunOptions{}, testNow.Add(-time.Duration(i+1)*time.Hour))
		require.NoError(t, err)
		require.NoError(t, run.Finish(false, run.StartedAt.Add(time.Minute)))
		require.NoError(t, f.runs.AppendSyncLog(context.Background(), run))
	}

	history, err := f.service.GetSyncHistory(context.Background(), SyncHistoryFilter{Limit: 2})
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.True(t, history[0].StartedAt.After(history[1].StartedAt))

	_, err = f.service.GetSyncHistory(context.Background(), SyncHistoryFilter{Status: "exploded"})
	assert.ErrorIs(t, err, shared.ErrInvalidInput)

	none, err := f.service.GetSyncHistory(context.Background(), SyncHistoryFilter{AccountID: accountB.String()})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestSyncService_AggregatedCatalogMergesAccounts(t *testing.T) {
	f := newSyncFixture(t, SyncConfig{})
	f.onPage(accountA, 1, catalogPage(accountA, 1, 3, false), nil)
	pageB := catalogPage(accountB, 1, 3, false)
	pageB.Records[0].Price = decimal.RequireFromString("12.00")
	f.onPage(accountB, 1, pageB, nil)

	_, err := f.service.StartSync(context.Background(), StartSyncRequest{Mode: "full"})
	require.NoError(t, err)

	catalog, err := f.service.GetAggregatedCatalog(context.Background(), 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(3), catalog.Total)
	require.Len(t, catalog.Items, 3)

	first := catalog.Items[0]
	assert.Equal(t, "SKU-0001", first.NaturalKey)
	assert.Equal(t, []string{accountA.String(), accountB.String()}, first.Accounts)
	assert.Len(t, first.Entries, 2)
	assert.Equal(t, 10, first.TotalStock)
	assert.True(t, first.MaxPrice.Equal(decimal.RequireFromString("12.00")))
	assert.True(t, first.Diverged)
	assert.False(t, catalog.Items[1].Diverged)

	page2, err := f.service.GetAggregatedCatalog(context.Background(), 2, 2)
	require.NoError(t, err)
	require.Len(t, page2.Items, 1)
	assert.Equal(t, "SKU-0003", page2.Items[0].NaturalKey)
}

func TestSyncService_PushRecords(t *testing.T) {
	writer := new(MockCatalogWriter)
	f := newSyncFixture(t, SyncConfig{}, WithCatalogWriter(writer))
	for _, key := range []string{"SKU-0001", "SKU-0002"} {
		rec := remoteRecord(accountA, key, "5.00", 2)
		rec.SyncStatus = integration.RecordSyncStatusPending
		require.NoError(t, f.records.UpsertSyncedRecord(context.Background(), rec))
	}

	writer.On("SaveCatalogRecords", mock.Anything, accountA, mock.Anything).Return([]integration.ItemResult{
		{NaturalKey: "SKU-0001"},
		{NaturalKey: "SKU-0002", Err: fmt.Errorf("%w: name too long", integration.ErrValidation)},
	}, nil)

	resp, err := f.service.PushRecords(context.Background(), PushRecordsRequest{
		AccountID: accountA.String(),
		Keys:      []string{"SKU-0001", "SKU-0002", "SKU-0404"},
	})
	require.NoError(t, err)

	assert.Equal(t, 1, resp.Saved)
	assert.Equal(t, 1, resp.Failed)
	assert.Equal(t, []string{"SKU-0404"}, resp.Missing)
	require.Len(t, resp.Errors, 1)
	assert.Equal(t, integration.ErrorCodeValidation, resp.Errors[0].Code)
	assert.Equal(t, integration.RecordSyncStatusSynced, f.records.get("SKU-0001", accountA).SyncStatus)
	assert.Equal(t, integration.RecordSyncStatusFailed, f.records.get("SKU-0002", accountA).SyncStatus)
	writer.AssertExpectations(t)
}

func TestSyncService_PushRecordsRequiresWriter(t *testing.T) {
	f := newSyncFixture(t, SyncConfig{})
	_, err := f.service.PushRecords(context.Background(), PushRecordsRequest{AccountID: accountA.String(), Keys: []string{"SKU-0001"}})
	assert.ErrorIs(t, err, shared.ErrInvalidState)
}

func TestSyncService_JitterDelaysWorkers(t *testing.T) {
	var (
		mu     sync.Mutex
		sleeps []time.Duration
	)
	f := newSyncFixture(t, SyncConfig{},
		WithBatchJitter(func(integration.AccountID) time.Duration { return 250 * time.Millisecond }),
		WithSyncSleeper(func(_ context.Context, d time.Duration) error {
			mu.Lock()
			sleeps = append(sleeps, d)
			mu.Unlock()
			return nil
		}),
	)
	f.onPage(accountA, 1, &integration.CatalogPage{}, nil)
	f.onPage(accountB, 1, &integration.CatalogPage{}, nil)

	_, err := f.service.StartSync(context.Background(), StartSyncRequest{Mode: "full"})
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{250 * time.Millisecond, 250 * time.Millisecond}, sleeps)
}

func TestSyncService_ErrorsKeepArrivalOrder(t *testing.T) {
	f := newSyncFixture(t, SyncConfig{})
	page := &integration.CatalogPage{Records: []*integration.SyncedRecord{
		remoteRecord(accountA, "SKU-0003", "-1", 1),
		remoteRecord(accountA, "SKU-0001", "-1", 1),
		remoteRecord(accountA, "SKU-0002", "-1", 1),
	}}
	f.onPage(accountA, 1, page, nil)

	resp, err := f.service.StartSync(context.Background(), StartSyncRequest{Mode: "full", Accounts: []string{accountA.String()}})
	require.NoError(t, err)

	require.Len(t, resp.Errors, 3)
	keys := []string{resp.Errors[0].NaturalKey, resp.Errors[1].NaturalKey, resp.Errors[2].NaturalKey}
	assert.Equal(t, []string{"SKU-0003", "SKU-0001", "SKU-0002"}, keys)
}

package integration

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/erp/marketsync/internal/domain/integration"
	"github.com/erp/marketsync/internal/infrastructure/cache"
)

func seedRun(t *testing.T, repo *memoryRunRepo, startedAt time.Time, finish bool) *integration.SyncRun {
	t.Helper()
	run, err := integration.NewSyncRun(integration.SyncModeFull, []integration.AccountID{accountA},
		integration.RemotePriority{}, integration.SyncRunOptions{}, startedAt)
	require.NoError(t, err)
	if finish {
		require.NoError(t, run.Finish(false, startedAt.Add(time.Minute)))
	}
	require.NoError(t, repo.AppendSyncLog(context.Background(), run))
	return run
}

func TestSyncService_DetectStuckRuns(t *testing.T) {
	f := newSyncFixture(t, SyncConfig{StuckAfter: 30 * time.Minute})
	stuck := seedRun(t, f.runs, testNow.Add(-2*time.Hour), false)
	fresh := seedRun(t, f.runs, testNow.Add(-10*time.Minute), false)
	done := seedRun(t, f.runs, testNow.Add(-3*time.Hour), true)

	marked, err := f.service.DetectStuckRuns(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, marked)

	stored := f.runs.stored(stuck.ID)
	assert.Equal(t, integration.SyncRunStatusFailed, stored.Status)
	require.Len(t, stored.Errors, 1)
	assert.Equal(t, integration.ErrorCodeStale, stored.Errors[0].Code)
	assert.NotNil(t, stored.FinishedAt)

	assert.Equal(t, integration.SyncRunStatusRunning, f.runs.stored(fresh.ID).Status)
	assert.Equal(t, integration.SyncRunStatusCompleted, f.runs.stored(done.ID).Status)
	assert.Equal(t, []string{integration.EventTypeSyncRunFinished}, f.publisher.types())

	again, err := f.service.DetectStuckRuns(context.Background())
	require.NoError(t, err)
	assert.Zero(t, again)
}

func startBlockedRun(t *testing.T, runs *memoryRunRepo, publisher *capturingPublisher, now func() time.Time) (*SyncService, uuid.UUID) {
	t.Helper()
	source := &blockingSource{started: make(chan struct{})}
	service := NewSyncService(source, newMemoryRecordRepo(), runs, cache.NewInMemoryKeyLocker(),
		[]integration.AccountID{accountA}, SyncConfig{StuckAfter: 30 * time.Minute}, zap.NewNop(),
		WithSyncClock(now))
	service.SetEventPublisher(publisher)

	started, err := service.StartSync(context.Background(), StartSyncRequest{Mode: "full", Async: true})
	require.NoError(t, err)
	select {
	case <-source.started:
	case <-time.After(5 * time.Second):
		t.Fatal("second page was never requested")
	}
	return service, started.ID
}

func TestSyncService_StaleLocalRunIsAnnouncedOnce(t *testing.T) {
	var offset atomic.Int64
	now := func() time.Time { return testNow.Add(time.Duration(offset.Load())) }
	runs := newMemoryRunRepo()
	publisher := &capturingPublisher{}
	service, id := startBlockedRun(t, runs, publisher, now)

	offset.Store(int64(time.Hour))
	marked, err := service.DetectStuckRuns(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, marked)

	require.NoError(t, service.Shutdown(context.Background()))
	stored := runs.stored(id)
	require.NotNil(t, stored)
	assert.Equal(t, integration.SyncRunStatusFailed, stored.Status)
	assert.Equal(t, []string{integration.EventTypeSyncRunFinished}, publisher.types())
}

func TestSyncService_RunFinalizedElsewhereKeepsStoredSummary(t *testing.T) {
	runs := newMemoryRunRepo()
	publisher := &capturingPublisher{}
	service, id := startBlockedRun(t, runs, publisher, func() time.Time { return testNow })

	runs.markStale(id, testNow)

	_, err := service.CancelSync(context.Background(), id)
	require.NoError(t, err)
	require.NoError(t, service.Shutdown(context.Background()))

	stored := runs.stored(id)
	require.NotNil(t, stored)
	assert.Equal(t, integration.SyncRunStatusFailed, stored.Status)
	assert.False(t, stored.Canceled)
	assert.Empty(t, publisher.types())
}

func TestSyncService_PurgeHistoryWithoutArchiver(t *testing.T) {
	f := newSyncFixture(t, SyncConfig{})
	seedRun(t, f.runs, testNow.Add(-40*24*time.Hour), true)
	seedRun(t, f.runs, testNow.Add(-31*24*time.Hour), true)
	recent := seedRun(t, f.runs, testNow.Add(-29*24*time.Hour), true)
	running := seedRun(t, f.runs, testNow.Add(-45*24*time.Hour), false)

	purged, err := f.service.PurgeHistory(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(2), purged)
	assert.Equal(t, 2, f.runs.size())
	assert.NotNil(t, f.runs.stored(recent.ID))
	assert.NotNil(t, f.runs.stored(running.ID))
}

func TestSyncService_PurgeHistoryArchivesBeforeDeleting(t *testing.T) {
	archiver := new(MockArchiver)
	f := newSyncFixture(t, SyncConfig{ArchiveBatchSize: 2}, WithArchiver(archiver))
	expired := []*integration.SyncRun{
		seedRun(t, f.runs, testNow.Add(-40*24*time.Hour), true),
		seedRun(t, f.runs, testNow.Add(-35*24*time.Hour), true),
		seedRun(t, f.runs, testNow.Add(-31*24*time.Hour), true),
	}
	recent := seedRun(t, f.runs, testNow.Add(-2*24*time.Hour), true)

	archived := make(map[uuid.UUID]int)
	archiver.On("ArchiveSyncRuns", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			for _, run := range args.Get(1).([]integration.SyncRun) {
				// every archived run must still be stored
				assert.NotNil(t, f.runs.stored(run.ID))
				archived[run.ID]++
			}
		}).
		Return(nil)

	purged, err := f.service.PurgeHistory(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(3), purged)
	assert.Equal(t, 1, f.runs.size())
	assert.NotNil(t, f.runs.stored(recent.ID))
	require.Len(t, archived, 3)
	for _, run := range expired {
		assert.Equal(t, 1, archived[run.ID], "run %s archived once", run.ID)
	}
	archiver.AssertNumberOfCalls(t, "ArchiveSyncRuns", 2)
}

func TestSyncService_PurgeHistoryStopsOnArchiveFailure(t *testing.T) {
	archiver := new(MockArchiver)
	f := newSyncFixture(t, SyncConfig{}, WithArchiver(archiver))
	seedRun(t, f.runs, testNow.Add(-40*24*time.Hour), true)
	archiver.On("ArchiveSyncRuns", mock.Anything, mock.Anything).Return(assert.AnError)

	purged, err := f.service.PurgeHistory(context.Background())
	require.ErrorIs(t, err, assert.AnError)
	assert.Zero(t, purged)
	assert.Equal(t, 1, f.runs.size())
}

func TestSyncService_MaintenanceTasks(t *testing.T) {
	f := newSyncFixture(t, SyncConfig{})
	tasks := f.service.MaintenanceTasks()
	require.Len(t, tasks, 2)
	assert.Equal(t, "detect_stuck_runs", tasks[0].Name)
	assert.Equal(t, "purge_sync_history", tasks[1].Name)
	for _, task := range tasks {
		assert.NoError(t, task.Run(context.Background()))
	}
}

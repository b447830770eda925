package integration

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/erp/marketsync/internal/domain/integration"
	"github.com/erp/marketsync/internal/infrastructure/scheduler"
)

// MaintenanceTasks returns the periodic jobs of the sync log
func (s *SyncService) MaintenanceTasks() []scheduler.Task {
	return []scheduler.Task{
		{
			Name: "detect_stuck_runs",
			Run: func(ctx context.Context) error {
				_, err := s.DetectStuckRuns(ctx)
				return err
			},
		},
		{
			Name: "purge_sync_history",
			Run: func(ctx context.Context) error {
				_, err := s.PurgeHistory(ctx)
				return err
			},
		},
	}
}

// DetectStuckRuns fails running runs whose progress timestamp is older than
// StuckAfter. A stuck run executing on this instance is also canceled.
// Returns the number of runs marked failed.
func (s *SyncService) DetectStuckRuns(ctx context.Context) (int, error) {
	now := s.now()
	stuck, err := s.runs.FindStuckRuns(ctx, now.Add(-s.config.StuckAfter))
	if err != nil {
		return 0, fmt.Errorf("failed to find stuck runs: %w", err)
	}

	marked := 0
	for i := range stuck {
		run := &stuck[i]
		if ar := s.lookup(run.ID); ar != nil {
			if s.markActiveStale(ctx, ar, now) {
				marked++
			}
			continue
		}
		if err := run.MarkStale(now); err != nil {
			continue
		}
		if err := s.runs.AppendSyncLog(ctx, run); err != nil {
			if errors.Is(err, integration.ErrSyncRunTerminal) {
				continue
			}
			return marked, fmt.Errorf("failed to mark run %s stale: %w", run.ID, err)
		}
		s.metrics.RunFinished(ctx, run.Mode.String(), run.Status.String(), run.Duration(now))
		s.publish(ctx, integration.NewSyncRunFinishedEvent(run))
		marked++
		s.logger.Warn("Stuck sync run marked failed",
			zap.String("run_id", run.ID.String()),
			zap.Time("progress_at", run.ProgressAt),
		)
	}
	return marked, nil
}

// markActiveStale fails a locally executing run that stopped progressing.
// The stored failure is final, so execution does not announce the run again.
func (s *SyncService) markActiveStale(ctx context.Context, ar *activeRun, now time.Time) bool {
	ar.mu.Lock()
	if ar.run.IsStale(now, s.config.StuckAfter) && ar.run.MarkStale(now) == nil {
		snap := ar.run.Snapshot()
		ar.mu.Unlock()

		if err := s.runs.AppendSyncLog(ctx, snap); err != nil {
			s.logger.Error("Failed to persist stale run", zap.String("run_id", snap.ID.String()), zap.Error(err))
		} else {
			s.metrics.RunFinished(ctx, snap.Mode.String(), snap.Status.String(), snap.Duration(now))
			s.publish(ctx, integration.NewSyncRunFinishedEvent(snap))
		}
		ar.requestCancel()
		s.logger.Warn("Stuck sync run canceled", zap.String("run_id", snap.ID.String()))
		return true
	}
	ar.mu.Unlock()
	return false
}

// PurgeHistory deletes finished runs older than the retention period,
// archiving them first when an archiver is configured. Returns the number of
// runs deleted.
func (s *SyncService) PurgeHistory(ctx context.Context) (int64, error) {
	cutoff := s.now().Add(-s.config.Retention)
	var purged int64

	if s.archiver != nil {
		archived := make(map[uuid.UUID]struct{})
		for {
			batch, err := s.runs.ListRunsStartedBefore(ctx, cutoff, s.config.ArchiveBatchSize)
			if err != nil {
				return purged, fmt.Errorf("failed to list expired runs: %w", err)
			}
			if len(batch) == 0 {
				break
			}
			fresh := make([]integration.SyncRun, 0, len(batch))
			for i := range batch {
				if _, ok := archived[batch[i].ID]; !ok {
					fresh = append(fresh, batch[i])
				}
			}
			if len(fresh) > 0 {
				if err := s.archiver.ArchiveSyncRuns(ctx, fresh); err != nil {
					return purged, fmt.Errorf("failed to archive runs: %w", err)
				}
				for i := range fresh {
					archived[fresh[i].ID] = struct{}{}
				}
			}
			if len(batch) < s.config.ArchiveBatchSize {
				break
			}
			// runs sharing the boundary timestamp stay for the next round
			n, err := s.runs.PurgeSyncRunsBefore(ctx, batch[len(batch)-1].StartedAt)
			if err != nil {
				return purged, fmt.Errorf("failed to purge runs: %w", err)
			}
			purged += n
			if n == 0 {
				break
			}
		}
	}

	n, err := s.runs.PurgeSyncRunsBefore(ctx, cutoff)
	if err != nil {
		return purged, fmt.Errorf("failed to purge runs: %w", err)
	}
	purged += n

	if purged > 0 {
		s.logger.Info("Sync history purged",
			zap.Int64("purged", purged),
			zap.Time("cutoff", cutoff),
			zap.Bool("archived", s.archiver != nil),
		)
	}
	return purged, nil
}

package integration

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// SyncedRecordFilter narrows synced record listings
type SyncedRecordFilter struct {
	AccountID   *AccountID
	SyncStatus  *RecordSyncStatus
	NaturalKeys []string
	Page        int
	PageSize    int
}

// SyncedRecordRepository persists SyncedRecords. All writes for one
// (naturalKey, accountId) go through UpsertSyncedRecord.
type SyncedRecordRepository interface {
	// UpsertSyncedRecord inserts or replaces the record identified by its key
	UpsertSyncedRecord(ctx context.Context, record *SyncedRecord) error
	// GetSyncedRecord returns ErrSyncRecordNotFound when absent
	GetSyncedRecord(ctx context.Context, naturalKey string, accountID AccountID) (*SyncedRecord, error)
	// UpdateSyncStatus changes only the sync status of an existing record
	UpdateSyncStatus(ctx context.Context, key RecordKey, status RecordSyncStatus) error
	// ListSyncedRecords lists records with the total count for pagination
	ListSyncedRecords(ctx context.Context, filter SyncedRecordFilter) ([]SyncedRecord, int64, error)
	// ListNaturalKeys pages through distinct natural keys across accounts
	ListNaturalKeys(ctx context.Context, page, pageSize int) ([]string, int64, error)
}

// SyncRunFilter narrows the sync history
type SyncRunFilter struct {
	Limit     int
	AccountID *AccountID
	Status    *SyncRunStatus
}

// SyncRunRepository persists the sync log
type SyncRunRepository interface {
	// AppendSyncLog inserts the run or replaces the stored copy with the same id.
	// A stored terminal run is never replaced; the write fails with ErrSyncRunTerminal.
	AppendSyncLog(ctx context.Context, run *SyncRun) error
	// GetSyncRun returns ErrSyncRunNotFound when absent
	GetSyncRun(ctx context.Context, id uuid.UUID) (*SyncRun, error)
	// ListSyncRuns returns the most recent runs first
	ListSyncRuns(ctx context.Context, filter SyncRunFilter) ([]SyncRun, error)
	// LastSuccessfulRun returns the latest completed full or incremental run
	// without a page cap covering the account, nil when none
	LastSuccessfulRun(ctx context.Context, accountID AccountID) (*SyncRun, error)
	// FindStuckRuns returns running runs whose progress timestamp is older than progressBefore
	FindStuckRuns(ctx context.Context, progressBefore time.Time) ([]SyncRun, error)
	// ListRunsStartedBefore returns terminal runs started before cutoff, for archiving
	ListRunsStartedBefore(ctx context.Context, cutoff time.Time, limit int) ([]SyncRun, error)
	// PurgeSyncRunsBefore deletes terminal runs started before cutoff
	PurgeSyncRunsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// SyncRunArchiver stores runs outside the database before they are purged
type SyncRunArchiver interface {
	ArchiveSyncRuns(ctx context.Context, runs []SyncRun) error
}

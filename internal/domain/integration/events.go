package integration

import (
	"time"

	"github.com/erp/marketsync/internal/domain/shared"
)

// AggregateTypeSyncRun is the aggregate type of sync run events
const AggregateTypeSyncRun = "SyncRun"

// Event type constants
const (
	EventTypeSyncRunFinished = "SyncRunFinished"
)

// SyncRunFinishedEvent is raised when a run reaches a terminal status
type SyncRunFinishedEvent struct {
	shared.BaseDomainEvent
	RunID    string        `json:"run_id"`
	Mode     SyncMode      `json:"mode"`
	Status   SyncRunStatus `json:"status"`
	Accounts []AccountID   `json:"accounts"`
	Counts   SyncCounts    `json:"counts"`
	Errors   int           `json:"errors"`
	Duration time.Duration `json:"duration_ns"`
}

// NewSyncRunFinishedEvent creates a SyncRunFinishedEvent
func NewSyncRunFinishedEvent(run *SyncRun) *SyncRunFinishedEvent {
	finished := time.Now()
	if run.FinishedAt != nil {
		finished = *run.FinishedAt
	}
	return &SyncRunFinishedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeSyncRunFinished, AggregateTypeSyncRun, run.ID.String(), finished),
		RunID:           run.ID.String(),
		Mode:            run.Mode,
		Status:          run.Status,
		Accounts:        append([]AccountID(nil), run.Accounts...),
		Counts:          run.Counts,
		Errors:          len(run.Errors),
		Duration:        run.Duration(finished),
	}
}

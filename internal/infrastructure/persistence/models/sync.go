package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/erp/marketsync/internal/domain/integration"
)

// SyncedRecordModel is the persistence model for integration.SyncedRecord.
// (natural_key, account_id) is the primary key so there is at most one row
// per record identity.
type SyncedRecordModel struct {
	NaturalKey       string          `gorm:"type:varchar(128);primaryKey"`
	AccountID        string          `gorm:"type:varchar(64);primaryKey;index:idx_synced_records_account"`
	RemoteID         string          `gorm:"type:varchar(128)"`
	Name             string          `gorm:"type:varchar(500)"`
	Price            decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	Stock            int             `gorm:"not null;default:0"`
	ValidationStatus string          `gorm:"type:varchar(32);not null"`
	Owned            bool            `gorm:"not null;default:false"`
	RemoteModifiedAt *time.Time
	LastSyncedAt     *time.Time `gorm:"index"`
	SyncStatus       string     `gorm:"type:varchar(16);not null;index"`
	Checksum         string     `gorm:"type:varchar(64)"`
	CreatedAt        time.Time  `gorm:"not null"`
	UpdatedAt        time.Time  `gorm:"not null"`
}

// TableName returns the table name for GORM
func (SyncedRecordModel) TableName() string {
	return "synced_records"
}

// ToDomain converts the persistence model to a domain SyncedRecord
func (m *SyncedRecordModel) ToDomain() *integration.SyncedRecord {
	r := &integration.SyncedRecord{
		NaturalKey:       m.NaturalKey,
		AccountID:        integration.AccountID(m.AccountID),
		RemoteID:         m.RemoteID,
		Name:             m.Name,
		Price:            m.Price,
		Stock:            m.Stock,
		ValidationStatus: integration.ValidationStatus(m.ValidationStatus),
		Owned:            m.Owned,
		LastSyncedAt:     m.LastSyncedAt,
		SyncStatus:       integration.RecordSyncStatus(m.SyncStatus),
		Checksum:         m.Checksum,
	}
	if m.RemoteModifiedAt != nil {
		r.ModifiedAt = *m.RemoteModifiedAt
	}
	return r
}

// SyncedRecordModelFromDomain creates a persistence model from a domain SyncedRecord
func SyncedRecordModelFromDomain(r *integration.SyncedRecord) *SyncedRecordModel {
	m := &SyncedRecordModel{
		NaturalKey:       r.NaturalKey,
		AccountID:        r.AccountID.String(),
		RemoteID:         r.RemoteID,
		Name:             r.Name,
		Price:            r.Price,
		Stock:            r.Stock,
		ValidationStatus: r.ValidationStatus.String(),
		Owned:            r.Owned,
		LastSyncedAt:     r.LastSyncedAt,
		SyncStatus:       r.SyncStatus.String(),
		Checksum:         r.Checksum,
	}
	if !r.ModifiedAt.IsZero() {
		t := r.ModifiedAt
		m.RemoteModifiedAt = &t
	}
	return m
}

// SyncRunModel is the persistence model for integration.SyncRun. Nested
// collections are stored as JSON text so the table works on PostgreSQL and
// SQLite alike.
type SyncRunModel struct {
	ID         uuid.UUID                   `gorm:"type:uuid;primaryKey"`
	Mode       string                      `gorm:"type:varchar(16);not null"`
	Accounts   []string                    `gorm:"type:text;serializer:json;not null"`
	Strategy   string                      `gorm:"type:varchar(32);not null"`
	Options    integration.SyncRunOptions  `gorm:"type:text;serializer:json"`
	MaxPages   int                         `gorm:"not null;default:0"`
	Status     string                      `gorm:"type:varchar(16);not null;index:idx_sync_runs_status_progress,priority:1"`
	Counts     integration.SyncCounts      `gorm:"type:text;serializer:json"`
	Errors     []integration.SyncItemError `gorm:"type:text;serializer:json"`
	Flagged    []integration.FlaggedItem   `gorm:"type:text;serializer:json"`
	Warnings   []string                    `gorm:"type:text;serializer:json"`
	Canceled   bool                        `gorm:"not null;default:false"`
	StartedAt  time.Time                   `gorm:"not null;index"`
	ProgressAt time.Time                   `gorm:"not null;index:idx_sync_runs_status_progress,priority:2"`
	FinishedAt *time.Time
}

// TableName returns the table name for GORM
func (SyncRunModel) TableName() string {
	return "sync_runs"
}

// ToDomain converts the persistence model to a domain SyncRun
func (m *SyncRunModel) ToDomain() *integration.SyncRun {
	accounts := make([]integration.AccountID, len(m.Accounts))
	for i, a := range m.Accounts {
		accounts[i] = integration.AccountID(a)
	}
	return &integration.SyncRun{
		ID:         m.ID,
		Mode:       integration.SyncMode(m.Mode),
		Accounts:   accounts,
		Strategy:   m.Strategy,
		Options:    m.Options,
		Status:     integration.SyncRunStatus(m.Status),
		Counts:     m.Counts,
		Errors:     m.Errors,
		Flagged:    m.Flagged,
		Warnings:   m.Warnings,
		StartedAt:  m.StartedAt,
		ProgressAt: m.ProgressAt,
		FinishedAt: m.FinishedAt,
		Canceled:   m.Canceled,
	}
}

// SyncRunModelFromDomain creates a persistence model from a domain SyncRun
func SyncRunModelFromDomain(r *integration.SyncRun) *SyncRunModel {
	accounts := make([]string, len(r.Accounts))
	for i, a := range r.Accounts {
		accounts[i] = a.String()
	}
	return &SyncRunModel{
		ID:         r.ID,
		Mode:       r.Mode.String(),
		Accounts:   accounts,
		Strategy:   r.Strategy,
		Options:    r.Options,
		MaxPages:   r.Options.MaxPages,
		Status:     r.Status.String(),
		Counts:     r.Counts,
		Errors:     r.Errors,
		Flagged:    r.Flagged,
		Warnings:   r.Warnings,
		Canceled:   r.Canceled,
		StartedAt:  r.StartedAt,
		ProgressAt: r.ProgressAt,
		FinishedAt: r.FinishedAt,
	}
}

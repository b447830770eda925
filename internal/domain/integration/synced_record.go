package integration

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Enums
// ---------------------------------------------------------------------------

// RecordSyncStatus is the sync state of a single SyncedRecord
type RecordSyncStatus string

const (
	RecordSyncStatusPending  RecordSyncStatus = "pending"
	RecordSyncStatusSynced   RecordSyncStatus = "synced"
	RecordSyncStatusFailed   RecordSyncStatus = "failed"
	RecordSyncStatusConflict RecordSyncStatus = "conflict"
)

// IsValid returns true if the status is valid
func (s RecordSyncStatus) IsValid() bool {
	switch s {
	case RecordSyncStatusPending, RecordSyncStatusSynced, RecordSyncStatusFailed, RecordSyncStatusConflict:
		return true
	default:
		return false
	}
}

// String returns the string representation of RecordSyncStatus
func (s RecordSyncStatus) String() string {
	return string(s)
}

// ValidationStatus is the marketplace review state of a product document.
// It is ordinary data: rejected and blocked records are synced like any other.
type ValidationStatus string

const (
	ValidationStatusDraft         ValidationStatus = "draft"
	ValidationStatusPendingReview ValidationStatus = "pending_review"
	ValidationStatusApproved      ValidationStatus = "approved"
	ValidationStatusRejected      ValidationStatus = "rejected"
	ValidationStatusBlocked       ValidationStatus = "blocked"
	ValidationStatusArchived      ValidationStatus = "archived"
)

// IsValid returns true if the validation status is known
func (s ValidationStatus) IsValid() bool {
	switch s {
	case ValidationStatusDraft, ValidationStatusPendingReview, ValidationStatusApproved,
		ValidationStatusRejected, ValidationStatusBlocked, ValidationStatusArchived:
		return true
	default:
		return false
	}
}

// String returns the string representation of ValidationStatus
func (s ValidationStatus) String() string {
	return string(s)
}

// ---------------------------------------------------------------------------
// SyncedRecord Entity
// ---------------------------------------------------------------------------

// RecordKey is the identity of a SyncedRecord.
type RecordKey struct {
	NaturalKey string
	AccountID  AccountID
}

// String renders the key as "account/naturalKey", used for lock names and logs
func (k RecordKey) String() string {
	return k.AccountID.String() + "/" + k.NaturalKey
}

// SyncedRecord is a catalog entry scoped to one account.
// There is at most one SyncedRecord per (NaturalKey, AccountID); records of
// different accounts are merged only by the aggregated read model.
type SyncedRecord struct {
	// NaturalKey is the seller-assigned stable identifier (SKU)
	NaturalKey string
	// AccountID is the seller account this record belongs to
	AccountID AccountID
	// RemoteID is the marketplace document id, empty for never-published records
	RemoteID string
	// Name is the product title
	Name string
	// Price is the selling price
	Price decimal.Decimal
	// Stock is the available quantity
	Stock int
	// ValidationStatus is the marketplace review state
	ValidationStatus ValidationStatus
	// Owned is true when this account may mutate the remote documentation
	Owned bool
	// ModifiedAt is the last modification time on the side the record came from
	ModifiedAt time.Time
	// LastSyncedAt is when the record was last written by a sync run
	LastSyncedAt *time.Time
	// SyncStatus is the sync state of this record
	SyncStatus RecordSyncStatus
	// Checksum is a digest of the synced content fields
	Checksum string
}

// NewSyncedRecord creates a record with the required identity fields
func NewSyncedRecord(naturalKey string, accountID AccountID) (*SyncedRecord, error) {
	naturalKey = strings.TrimSpace(naturalKey)
	if naturalKey == "" {
		return nil, ErrInvalidNaturalKey
	}
	if !accountID.IsValid() {
		return nil, ErrInvalidAccountID
	}
	return &SyncedRecord{
		NaturalKey:       naturalKey,
		AccountID:        accountID,
		Price:            decimal.Zero,
		ValidationStatus: ValidationStatusDraft,
		SyncStatus:       RecordSyncStatusPending,
	}, nil
}

// Key returns the record identity
func (r *SyncedRecord) Key() RecordKey {
	return RecordKey{NaturalKey: r.NaturalKey, AccountID: r.AccountID}
}

// Validate checks the record invariants
func (r *SyncedRecord) Validate() error {
	if strings.TrimSpace(r.NaturalKey) == "" {
		return ErrInvalidNaturalKey
	}
	if !r.AccountID.IsValid() {
		return ErrInvalidAccountID
	}
	if r.Price.IsNegative() {
		return fmt.Errorf("%w: price of %s is negative", ErrValidation, r.NaturalKey)
	}
	if r.Stock < 0 {
		return fmt.Errorf("%w: stock of %s is negative", ErrValidation, r.NaturalKey)
	}
	if r.ValidationStatus != "" && !r.ValidationStatus.IsValid() {
		return fmt.Errorf("%w: unknown validation status %q", ErrValidation, r.ValidationStatus)
	}
	return nil
}

// ComputeChecksum digests the content fields that a sync may change.
// Timestamps and sync bookkeeping are excluded.
func (r *SyncedRecord) ComputeChecksum() string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%s|%d|%s|%t",
		r.NaturalKey, r.RemoteID, r.Name, r.Price.String(), r.Stock, r.ValidationStatus, r.Owned)
	return hex.EncodeToString(h.Sum(nil))
}

// SameContent reports whether other carries the same synced content
func (r *SyncedRecord) SameContent(other *SyncedRecord) bool {
	if other == nil {
		return false
	}
	return r.ComputeChecksum() == other.ComputeChecksum()
}

// ApplyRemote overwrites the content fields with the remote values and marks
// the record synced.
func (r *SyncedRecord) ApplyRemote(remote *SyncedRecord, at time.Time) {
	r.RemoteID = remote.RemoteID
	r.Name = remote.Name
	r.Price = remote.Price
	r.Stock = remote.Stock
	r.ValidationStatus = remote.ValidationStatus
	r.Owned = remote.Owned
	r.ModifiedAt = remote.ModifiedAt
	r.MarkSynced(at)
}

// MarkSynced records a successful sync
func (r *SyncedRecord) MarkSynced(at time.Time) {
	r.LastSyncedAt = &at
	r.SyncStatus = RecordSyncStatusSynced
	r.Checksum = r.ComputeChecksum()
}

// MarkConflict records that the remote version diverged and is held for review
func (r *SyncedRecord) MarkConflict() {
	r.SyncStatus = RecordSyncStatusConflict
}

// MarkFailed records a failed sync attempt
func (r *SyncedRecord) MarkFailed() {
	r.SyncStatus = RecordSyncStatusFailed
}

// Clone returns a deep copy of the record
func (r *SyncedRecord) Clone() *SyncedRecord {
	c := *r
	if r.LastSyncedAt != nil {
		t := *r.LastSyncedAt
		c.LastSyncedAt = &t
	}
	return &c
}

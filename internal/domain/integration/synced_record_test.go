package integration

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSyncedRecord(t *testing.T) {
	rec, err := NewSyncedRecord("  SKU-1 ", "acc-a")
	require.NoError(t, err)
	assert.Equal(t, "SKU-1", rec.NaturalKey)
	assert.Equal(t, AccountID("acc-a"), rec.AccountID)
	assert.Equal(t, RecordSyncStatusPending, rec.SyncStatus)
	assert.Equal(t, ValidationStatusDraft, rec.ValidationStatus)

	_, err = NewSyncedRecord("", "acc-a")
	assert.ErrorIs(t, err, ErrInvalidNaturalKey)

	_, err = NewSyncedRecord("SKU-1", " ")
	assert.ErrorIs(t, err, ErrInvalidAccountID)
}

func TestSyncedRecord_Validate(t *testing.T) {
	rec, err := NewSyncedRecord("SKU-1", "acc-a")
	require.NoError(t, err)
	require.NoError(t, rec.Validate())

	rec.Price = decimal.NewFromInt(-1)
	assert.ErrorIs(t, rec.Validate(), ErrValidation)

	rec.Price = decimal.NewFromInt(1)
	rec.Stock = -2
	assert.ErrorIs(t, rec.Validate(), ErrValidation)

	rec.Stock = 0
	rec.ValidationStatus = "exotic"
	assert.ErrorIs(t, rec.Validate(), ErrValidation)
}

func TestSyncedRecord_SameContentIgnoresBookkeeping(t *testing.T) {
	a, _ := NewSyncedRecord("SKU-1", "acc-a")
	a.Name = "Mug"
	a.Price = decimal.RequireFromString("9.90")
	a.Stock = 3

	b := a.Clone()
	b.MarkSynced(time.Now())
	b.ModifiedAt = time.Now().Add(time.Hour)
	assert.True(t, a.SameContent(b))

	b.Price = decimal.RequireFromString("9.91")
	assert.False(t, a.SameContent(b))
	assert.False(t, a.SameContent(nil))
}

func TestSyncedRecord_ApplyRemote(t *testing.T) {
	local, _ := NewSyncedRecord("SKU-1", "acc-a")
	local.Name = "Old"
	remote, _ := NewSyncedRecord("SKU-1", "acc-a")
	remote.Name = "New"
	remote.RemoteID = "doc-7"
	remote.Price = decimal.NewFromInt(15)
	remote.Stock = 8
	remote.ValidationStatus = ValidationStatusRejected

	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	local.ApplyRemote(remote, at)

	assert.Equal(t, "New", local.Name)
	assert.Equal(t, "doc-7", local.RemoteID)
	assert.True(t, local.Price.Equal(decimal.NewFromInt(15)))
	assert.Equal(t, ValidationStatusRejected, local.ValidationStatus)
	assert.Equal(t, RecordSyncStatusSynced, local.SyncStatus)
	require.NotNil(t, local.LastSyncedAt)
	assert.Equal(t, at, *local.LastSyncedAt)
	assert.Equal(t, local.ComputeChecksum(), local.Checksum)
}

func TestRecordKey_String(t *testing.T) {
	assert.Equal(t, "acc-b/SKU-2", RecordKey{NaturalKey: "SKU-2", AccountID: "acc-b"}.String())
}

package persistence

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/erp/marketsync/internal/domain/integration"
	"github.com/erp/marketsync/internal/infrastructure/persistence/models"
)

// GormSyncedRecordRepository implements integration.SyncedRecordRepository using GORM
type GormSyncedRecordRepository struct {
	db *gorm.DB
}

// NewGormSyncedRecordRepository creates a new GormSyncedRecordRepository
func NewGormSyncedRecordRepository(db *gorm.DB) *GormSyncedRecordRepository {
	return &GormSyncedRecordRepository{db: db}
}

// UpsertSyncedRecord inserts the record or overwrites the row with the same
// (natural_key, account_id).
func (r *GormSyncedRecordRepository) UpsertSyncedRecord(ctx context.Context, record *integration.SyncedRecord) error {
	if err := record.Validate(); err != nil {
		return err
	}
	model := models.SyncedRecordModelFromDomain(record)
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "natural_key"}, {Name: "account_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"remote_id", "name", "price", "stock", "validation_status", "owned",
			"remote_modified_at", "last_synced_at", "sync_status", "checksum", "updated_at",
		}),
	}).Create(model).Error
}

// GetSyncedRecord finds a record by its key
func (r *GormSyncedRecordRepository) GetSyncedRecord(ctx context.Context, naturalKey string, accountID integration.AccountID) (*integration.SyncedRecord, error) {
	var model models.SyncedRecordModel
	err := r.db.WithContext(ctx).
		Where("natural_key = ? AND account_id = ?", naturalKey, accountID.String()).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, integration.ErrSyncRecordNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// UpdateSyncStatus changes only the sync status of an existing record
func (r *GormSyncedRecordRepository) UpdateSyncStatus(ctx context.Context, key integration.RecordKey, status integration.RecordSyncStatus) error {
	result := r.db.WithContext(ctx).Model(&models.SyncedRecordModel{}).
		Where("natural_key = ? AND account_id = ?", key.NaturalKey, key.AccountID.String()).
		Update("sync_status", status.String())
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return integration.ErrSyncRecordNotFound
	}
	return nil
}

// ListSyncedRecords lists records ordered by natural key and account
func (r *GormSyncedRecordRepository) ListSyncedRecords(ctx context.Context, filter integration.SyncedRecordFilter) ([]integration.SyncedRecord, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.SyncedRecordModel{})
	if filter.AccountID != nil {
		query = query.Where("account_id = ?", filter.AccountID.String())
	}
	if filter.SyncStatus != nil {
		query = query.Where("sync_status = ?", filter.SyncStatus.String())
	}
	if len(filter.NaturalKeys) > 0 {
		query = query.Where("natural_key IN ?", filter.NaturalKeys)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	query = query.Order("natural_key ASC").Order("account_id ASC")
	if filter.PageSize > 0 {
		page := max(filter.Page, 1)
		query = query.Offset((page - 1) * filter.PageSize).Limit(filter.PageSize)
	}

	var rows []models.SyncedRecordModel
	if err := query.Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	records := make([]integration.SyncedRecord, len(rows))
	for i := range rows {
		records[i] = *rows[i].ToDomain()
	}
	return records, total, nil
}

// ListNaturalKeys pages through distinct natural keys in ascending order
func (r *GormSyncedRecordRepository) ListNaturalKeys(ctx context.Context, page, pageSize int) ([]string, int64, error) {
	var total int64
	if err := r.db.WithContext(ctx).Model(&models.SyncedRecordModel{}).
		Distinct("natural_key").Count(&total).Error; err != nil {
		return nil, 0, err
	}

	query := r.db.WithContext(ctx).Model(&models.SyncedRecordModel{}).
		Distinct("natural_key").Order("natural_key ASC")
	if pageSize > 0 {
		page = max(page, 1)
		query = query.Offset((page - 1) * pageSize).Limit(pageSize)
	}
	var keys []string
	if err := query.Pluck("natural_key", &keys).Error; err != nil {
		return nil, 0, err
	}
	return keys, total, nil
}

var _ integration.SyncedRecordRepository = (*GormSyncedRecordRepository)(nil)

package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/erp/marketsync/internal/domain/integration"
	"github.com/erp/marketsync/internal/infrastructure/persistence/models"
)

// GormSyncRunRepository implements integration.SyncRunRepository using GORM
type GormSyncRunRepository struct {
	db *gorm.DB
}

// NewGormSyncRunRepository creates a new GormSyncRunRepository
func NewGormSyncRunRepository(db *gorm.DB) *GormSyncRunRepository {
	return &GormSyncRunRepository{db: db}
}

// AppendSyncLog inserts the run or replaces the stored copy with the same id.
// Only running rows are replaced: once a run is terminal, here or on another
// instance, later writes fail with ErrSyncRunTerminal.
func (r *GormSyncRunRepository) AppendSyncLog(ctx context.Context, run *integration.SyncRun) error {
	model := models.SyncRunModelFromDomain(run)
	result := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
		Where: clause.Where{Exprs: []clause.Expression{
			clause.Eq{
				Column: clause.Column{Table: model.TableName(), Name: "status"},
				Value:  integration.SyncRunStatusRunning.String(),
			},
		}},
	}).Create(model)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return integration.ErrSyncRunTerminal
	}
	return nil
}

// GetSyncRun finds a run by id
func (r *GormSyncRunRepository) GetSyncRun(ctx context.Context, id uuid.UUID) (*integration.SyncRun, error) {
	var model models.SyncRunModel
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, integration.ErrSyncRunNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// ListSyncRuns returns the most recent runs first
func (r *GormSyncRunRepository) ListSyncRuns(ctx context.Context, filter integration.SyncRunFilter) ([]integration.SyncRun, error) {
	query := r.db.WithContext(ctx).Model(&models.SyncRunModel{})
	if filter.AccountID != nil {
		query = whereAccount(query, *filter.AccountID)
	}
	if filter.Status != nil {
		query = query.Where("status = ?", filter.Status.String())
	}
	query = query.Order("started_at DESC")
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	return findRuns(query)
}

// LastSuccessfulRun returns the latest completed run that walked the whole
// catalog of the account. Selective and page-capped runs are skipped.
func (r *GormSyncRunRepository) LastSuccessfulRun(ctx context.Context, accountID integration.AccountID) (*integration.SyncRun, error) {
	query := whereAccount(r.db.WithContext(ctx).Model(&models.SyncRunModel{}), accountID).
		Where("status = ?", integration.SyncRunStatusCompleted.String()).
		Where("mode IN ?", []string{integration.SyncModeFull.String(), integration.SyncModeIncremental.String()}).
		Where("max_pages = 0").
		Order("started_at DESC").
		Limit(1)
	runs, err := findRuns(query)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, nil
	}
	return &runs[0], nil
}

// FindStuckRuns returns running runs whose progress is older than progressBefore
func (r *GormSyncRunRepository) FindStuckRuns(ctx context.Context, progressBefore time.Time) ([]integration.SyncRun, error) {
	query := r.db.WithContext(ctx).Model(&models.SyncRunModel{}).
		Where("status = ? AND progress_at < ?", integration.SyncRunStatusRunning.String(), progressBefore).
		Order("started_at ASC")
	return findRuns(query)
}

// ListRunsStartedBefore returns terminal runs started before cutoff, oldest first
func (r *GormSyncRunRepository) ListRunsStartedBefore(ctx context.Context, cutoff time.Time, limit int) ([]integration.SyncRun, error) {
	query := r.db.WithContext(ctx).Model(&models.SyncRunModel{}).
		Where("status <> ? AND started_at < ?", integration.SyncRunStatusRunning.String(), cutoff).
		Order("started_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	return findRuns(query)
}

// PurgeSyncRunsBefore deletes terminal runs started before cutoff
func (r *GormSyncRunRepository) PurgeSyncRunsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("status <> ? AND started_at < ?", integration.SyncRunStatusRunning.String(), cutoff).
		Delete(&models.SyncRunModel{})
	return result.RowsAffected, result.Error
}

// whereAccount matches runs whose JSON account list contains the account
func whereAccount(query *gorm.DB, accountID integration.AccountID) *gorm.DB {
	return query.Where("accounts LIKE ?", `%"`+accountID.String()+`"%`)
}

func findRuns(query *gorm.DB) ([]integration.SyncRun, error) {
	var rows []models.SyncRunModel
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	runs := make([]integration.SyncRun, len(rows))
	for i := range rows {
		runs[i] = *rows[i].ToDomain()
	}
	return runs, nil
}

var _ integration.SyncRunRepository = (*GormSyncRunRepository)(nil)

package persistence

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/erp/marketsync/internal/domain/shared"
	"github.com/erp/marketsync/internal/domain/trade"
	"github.com/erp/marketsync/internal/infrastructure/persistence/models"
)

// GormOrderRepository implements trade.OrderRepository using GORM
type GormOrderRepository struct {
	db *gorm.DB
}

// NewGormOrderRepository creates a new GormOrderRepository
func NewGormOrderRepository(db *gorm.DB) *GormOrderRepository {
	return &GormOrderRepository{db: db}
}

// GetOrder loads an order with its lines in marketplace order
func (r *GormOrderRepository) GetOrder(ctx context.Context, id int64) (*trade.Order, error) {
	var model models.OrderModel
	err := r.db.WithContext(ctx).
		Preload("Lines", func(db *gorm.DB) *gorm.DB {
			return db.Order("position ASC")
		}).
		Where("id = ?", id).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.NewDomainError(shared.CodeNotFound, fmt.Sprintf("order %d not found", id))
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// UpsertOrder writes the order and replaces its line set in one transaction
func (r *GormOrderRepository) UpsertOrder(ctx context.Context, order *trade.Order) error {
	model := models.OrderModelFromDomain(order)
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Lines").Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).Create(model).Error; err != nil {
			return fmt.Errorf("upsert order %d: %w", order.ID, err)
		}

		lineIDs := make([]int64, len(model.Lines))
		for i, l := range model.Lines {
			lineIDs[i] = l.ID
		}
		stale := tx.Where("order_id = ?", model.ID)
		if len(lineIDs) > 0 {
			stale = stale.Where("id NOT IN ?", lineIDs)
		}
		if err := stale.Delete(&models.OrderLineModel{}).Error; err != nil {
			return fmt.Errorf("delete stale lines of order %d: %w", order.ID, err)
		}

		if len(model.Lines) == 0 {
			return nil
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).Create(&model.Lines).Error; err != nil {
			return fmt.Errorf("upsert lines of order %d: %w", order.ID, err)
		}
		return nil
	})
}

var _ trade.OrderRepository = (*GormOrderRepository)(nil)

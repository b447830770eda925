package persistence

import "github.com/erp/marketsync/internal/infrastructure/persistence/models"

// AllModels lists every persistence model in migration order
func AllModels() []any {
	return []any{
		&models.SyncedRecordModel{},
		&models.SyncRunModel{},
		&models.OrderModel{},
		&models.OrderLineModel{},
	}
}

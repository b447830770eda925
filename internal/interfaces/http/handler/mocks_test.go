package handler

import (
	"context"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	syncapp "github.com/erp/marketsync/internal/application/integration"
	"github.com/erp/marketsync/internal/domain/trade"
)

// MockSyncUseCases implements SyncUseCases for testing
type MockSyncUseCases struct {
	mock.Mock
}

func (m *MockSyncUseCases) StartSync(ctx context.Context, req syncapp.StartSyncRequest) (*syncapp.SyncRunResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*syncapp.SyncRunResponse), args.Error(1)
}

func (m *MockSyncUseCases) GetSyncStatus(ctx context.Context, id uuid.UUID) (*syncapp.SyncRunResponse, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*syncapp.SyncRunResponse), args.Error(1)
}

func (m *MockSyncUseCases) GetSyncHistory(ctx context.Context, filter syncapp.SyncHistoryFilter) ([]syncapp.SyncRunResponse, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]syncapp.SyncRunResponse), args.Error(1)
}

func (m *MockSyncUseCases) CancelSync(ctx context.Context, id uuid.UUID) (*syncapp.SyncRunResponse, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*syncapp.SyncRunResponse), args.Error(1)
}

func (m *MockSyncUseCases) GetAggregatedCatalog(ctx context.Context, page, pageSize int) (*syncapp.AggregatedCatalogResponse, error) {
	args := m.Called(ctx, page, pageSize)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*syncapp.AggregatedCatalogResponse), args.Error(1)
}

func (m *MockSyncUseCases) PushRecords(ctx context.Context, req syncapp.PushRecordsRequest) (*syncapp.PushRecordsResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*syncapp.PushRecordsResponse), args.Error(1)
}

// MockOrderUseCases implements OrderUseCases for testing
type MockOrderUseCases struct {
	mock.Mock
}

func (m *MockOrderUseCases) GetOrder(ctx context.Context, id int64) (*syncapp.OrderResponse, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*syncapp.OrderResponse), args.Error(1)
}

func (m *MockOrderUseCases) AcknowledgeOrder(ctx context.Context, id int64) (*syncapp.OrderResponse, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*syncapp.OrderResponse), args.Error(1)
}

func (m *MockOrderUseCases) UpdateOrderStatus(ctx context.Context, id int64, req syncapp.UpdateOrderStatusRequest) (*syncapp.OrderResponse, error) {
	args := m.Called(ctx, id, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*syncapp.OrderResponse), args.Error(1)
}

func (m *MockOrderUseCases) Storno(ctx context.Context, id int64, req syncapp.StornoRequest) (*syncapp.OrderResponse, error) {
	args := m.Called(ctx, id, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*syncapp.OrderResponse), args.Error(1)
}

func (m *MockOrderUseCases) RemoveOrderLine(ctx context.Context, id, lineID int64, req syncapp.RemoveOrderLineRequest) (*syncapp.OrderResponse, error) {
	args := m.Called(ctx, id, lineID, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*syncapp.OrderResponse), args.Error(1)
}

func (m *MockOrderUseCases) HandleOrderNotification(ctx context.Context, n syncapp.OrderNotification) (bool, error) {
	args := m.Called(ctx, n)
	return args.Bool(0), args.Error(1)
}

func (m *MockOrderUseCases) PullOrders(ctx context.Context, accountID string, filter trade.OrderListFilter) (int, error) {
	args := m.Called(ctx, accountID, filter)
	return args.Int(0), args.Error(1)
}

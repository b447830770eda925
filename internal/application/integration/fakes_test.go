package integration

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"

	"github.com/erp/marketsync/internal/domain/integration"
	"github.com/erp/marketsync/internal/domain/shared"
	"github.com/erp/marketsync/internal/domain/trade"
)

// ---------------------------------------------------------------------------
// Mocks
// ---------------------------------------------------------------------------

// MockCatalogSource is a mock implementation of integration.CatalogSource
type MockCatalogSource struct {
	mock.Mock
}

func (m *MockCatalogSource) FetchCatalogPage(ctx context.Context, account integration.AccountID, page, pageSize int, filter integration.CatalogFilter) (*integration.CatalogPage, error) {
	args := m.Called(ctx, account, page, pageSize, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*integration.CatalogPage), args.Error(1)
}

// MockCatalogWriter is a mock implementation of integration.CatalogWriter
type MockCatalogWriter struct {
	mock.Mock
}

func (m *MockCatalogWriter) SaveCatalogRecords(ctx context.Context, account integration.AccountID, records []*integration.SyncedRecord) ([]integration.ItemResult, error) {
	args := m.Called(ctx, account, records)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]integration.ItemResult), args.Error(1)
}

// MockArchiver is a mock implementation of integration.SyncRunArchiver
type MockArchiver struct {
	mock.Mock
}

func (m *MockArchiver) ArchiveSyncRuns(ctx context.Context, runs []integration.SyncRun) error {
	args := m.Called(ctx, runs)
	return args.Error(0)
}

// MockOrderGateway is a mock implementation of trade.OrderGateway
type MockOrderGateway struct {
	mock.Mock
}

func (m *MockOrderGateway) AcknowledgeOrder(ctx context.Context, accountID string, orderID int64) error {
	args := m.Called(ctx, accountID, orderID)
	return args.Error(0)
}

func (m *MockOrderGateway) UpdateOrder(ctx context.Context, accountID string, update trade.OrderUpdate) error {
	args := m.Called(ctx, accountID, update)
	return args.Error(0)
}

func (m *MockOrderGateway) FetchOrder(ctx context.Context, accountID string, orderID int64) (*trade.Order, error) {
	args := m.Called(ctx, accountID, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*trade.Order), args.Error(1)
}

func (m *MockOrderGateway) ListOrders(ctx context.Context, accountID string, page, pageSize int, filter trade.OrderListFilter) (*trade.OrderPage, error) {
	args := m.Called(ctx, accountID, page, pageSize, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*trade.OrderPage), args.Error(1)
}

// ---------------------------------------------------------------------------
// In-memory repositories
// ---------------------------------------------------------------------------

type memoryRecordRepo struct {
	mu      sync.Mutex
	records map[integration.RecordKey]*integration.SyncedRecord
	upserts int
}

func newMemoryRecordRepo() *memoryRecordRepo {
	return &memoryRecordRepo{records: make(map[integration.RecordKey]*integration.SyncedRecord)}
}

func (r *memoryRecordRepo) UpsertSyncedRecord(_ context.Context, record *integration.SyncedRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[record.Key()] = record.Clone()
	r.upserts++
	return nil
}

func (r *memoryRecordRepo) GetSyncedRecord(_ context.Context, naturalKey string, accountID integration.AccountID) (*integration.SyncedRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[integration.RecordKey{NaturalKey: naturalKey, AccountID: accountID}]
	if !ok {
		return nil, integration.ErrSyncRecordNotFound
	}
	return rec.Clone(), nil
}

func (r *memoryRecordRepo) UpdateSyncStatus(_ context.Context, key integration.RecordKey, status integration.RecordSyncStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[key]
	if !ok {
		return integration.ErrSyncRecordNotFound
	}
	rec.SyncStatus = status
	return nil
}

func (r *memoryRecordRepo) ListSyncedRecords(_ context.Context, filter integration.SyncedRecordFilter) ([]integration.SyncedRecord, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]integration.SyncedRecord, 0)
	for _, rec := range r.records {
		if filter.AccountID != nil && rec.AccountID != *filter.AccountID {
			continue
		}
		if filter.SyncStatus != nil && rec.SyncStatus != *filter.SyncStatus {
			continue
		}
		if len(filter.NaturalKeys) > 0 && !slices.Contains(filter.NaturalKeys, rec.NaturalKey) {
			continue
		}
		out = append(out, *rec.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].NaturalKey != out[j].NaturalKey {
			return out[i].NaturalKey < out[j].NaturalKey
		}
		return out[i].AccountID < out[j].AccountID
	})
	total := int64(len(out))
	if filter.PageSize > 0 {
		out = paginate(out, max(filter.Page, 1), filter.PageSize)
	}
	return out, total, nil
}

func (r *memoryRecordRepo) ListNaturalKeys(_ context.Context, page, pageSize int) ([]string, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]string, 0)
	for k := range r.records {
		if !slices.Contains(keys, k.NaturalKey) {
			keys = append(keys, k.NaturalKey)
		}
	}
	sort.Strings(keys)
	return paginate(keys, page, pageSize), int64(len(keys)), nil
}

func (r *memoryRecordRepo) get(key string, account integration.AccountID) *integration.SyncedRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[integration.RecordKey{NaturalKey: key, AccountID: account}]
	if !ok {
		return nil
	}
	return rec.Clone()
}

func (r *memoryRecordRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

func paginate[T any](items []T, page, pageSize int) []T {
	start := (page - 1) * pageSize
	if start >= len(items) {
		return []T{}
	}
	end := min(start+pageSize, len(items))
	return items[start:end]
}

type memoryRunRepo struct {
	mu      sync.Mutex
	runs    map[uuid.UUID]*integration.SyncRun
	appends int
	purged  []time.Time
}

func newMemoryRunRepo() *memoryRunRepo {
	return &memoryRunRepo{runs: make(map[uuid.UUID]*integration.SyncRun)}
}

func (r *memoryRunRepo) AppendSyncLog(_ context.Context, run *integration.SyncRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if stored, ok := r.runs[run.ID]; ok && stored.IsTerminal() {
		return integration.ErrSyncRunTerminal
	}
	r.runs[run.ID] = run.Snapshot()
	r.appends++
	return nil
}

func (r *memoryRunRepo) GetSyncRun(_ context.Context, id uuid.UUID) (*integration.SyncRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[id]
	if !ok {
		return nil, integration.ErrSyncRunNotFound
	}
	return run.Snapshot(), nil
}

func (r *memoryRunRepo) ListSyncRuns(_ context.Context, filter integration.SyncRunFilter) ([]integration.SyncRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]integration.SyncRun, 0)
	for _, run := range r.runs {
		if filter.AccountID != nil && !run.IncludesAccount(*filter.AccountID) {
			continue
		}
		if filter.Status != nil && run.Status != *filter.Status {
			continue
		}
		out = append(out, *run.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (r *memoryRunRepo) LastSuccessfulRun(_ context.Context, accountID integration.AccountID) (*integration.SyncRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var last *integration.SyncRun
	for _, run := range r.runs {
		if run.Status != integration.SyncRunStatusCompleted || !run.CoversCatalog() || !run.IncludesAccount(accountID) {
			continue
		}
		if last == nil || run.StartedAt.After(last.StartedAt) {
			last = run
		}
	}
	if last == nil {
		return nil, nil
	}
	return last.Snapshot(), nil
}

func (r *memoryRunRepo) FindStuckRuns(_ context.Context, progressBefore time.Time) ([]integration.SyncRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]integration.SyncRun, 0)
	for _, run := range r.runs {
		if run.Status == integration.SyncRunStatusRunning && run.ProgressAt.Before(progressBefore) {
			out = append(out, *run.Snapshot())
		}
	}
	return out, nil
}

func (r *memoryRunRepo) ListRunsStartedBefore(_ context.Context, cutoff time.Time, limit int) ([]integration.SyncRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]integration.SyncRun, 0)
	for _, run := range r.runs {
		if run.IsTerminal() && run.StartedAt.Before(cutoff) {
			out = append(out, *run.Snapshot())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memoryRunRepo) PurgeSyncRunsBefore(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.purged = append(r.purged, cutoff)
	var n int64
	for id, run := range r.runs {
		if run.IsTerminal() && run.StartedAt.Before(cutoff) {
			delete(r.runs, id)
			n++
		}
	}
	return n, nil
}

func (r *memoryRunRepo) stored(id uuid.UUID) *integration.SyncRun {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[id]
	if !ok {
		return nil
	}
	return run.Snapshot()
}

// markStale fails the stored copy directly, as another instance would
func (r *memoryRunRepo) markStale(id uuid.UUID, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if run, ok := r.runs[id]; ok {
		_ = run.MarkStale(now)
	}
}

func (r *memoryRunRepo) size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.runs)
}

type memoryOrderRepo struct {
	mu      sync.Mutex
	orders  map[int64]*trade.Order
	upserts int
}

func newMemoryOrderRepo(orders ...*trade.Order) *memoryOrderRepo {
	r := &memoryOrderRepo{orders: make(map[int64]*trade.Order)}
	for _, o := range orders {
		r.orders[o.ID] = cloneOrder(o)
	}
	return r
}

func (r *memoryOrderRepo) GetOrder(_ context.Context, id int64) (*trade.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, shared.NewDomainError(shared.CodeNotFound, fmt.Sprintf("order %d not found", id))
	}
	return cloneOrder(o), nil
}

func (r *memoryOrderRepo) UpsertOrder(_ context.Context, order *trade.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orders[order.ID] = cloneOrder(order)
	r.upserts++
	return nil
}

func (r *memoryOrderRepo) get(id int64) *trade.Order {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return nil
	}
	return cloneOrder(o)
}

func cloneOrder(o *trade.Order) *trade.Order {
	c := &trade.Order{
		ID:               o.ID,
		AccountID:        o.AccountID,
		Status:           o.Status,
		PaymentMethod:    o.PaymentMethod,
		Currency:         o.Currency,
		Total:            o.Total,
		ShippingCost:     o.ShippingCost,
		Customer:         o.Customer,
		Lines:            slices.Clone(o.Lines),
		ReturnWindowDays: o.ReturnWindowDays,
		AcknowledgedAt:   o.AcknowledgedAt,
		FinalizedAt:      o.FinalizedAt,
		CanceledAt:       o.CanceledAt,
		ReturnedAt:       o.ReturnedAt,
		RemoteModifiedAt: o.RemoteModifiedAt,
		UpdatedAt:        o.UpdatedAt,
	}
	return c
}

// ---------------------------------------------------------------------------
// Event capture
// ---------------------------------------------------------------------------

type capturingPublisher struct {
	mu     sync.Mutex
	events []shared.DomainEvent
}

func (p *capturingPublisher) Publish(_ context.Context, events ...shared.DomainEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, events...)
	return nil
}

func (p *capturingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.EventType()
	}
	return out
}

// ---------------------------------------------------------------------------
// Builders
// ---------------------------------------------------------------------------

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func remoteRecord(account integration.AccountID, key string, price string, stock int) *integration.SyncedRecord {
	return &integration.SyncedRecord{
		NaturalKey:       key,
		AccountID:        account,
		RemoteID:         "doc-" + key,
		Name:             "Product " + key,
		Price:            decimal.RequireFromString(price),
		Stock:            stock,
		ValidationStatus: integration.ValidationStatusApproved,
		Owned:            true,
		ModifiedAt:       testNow.Add(-time.Hour),
	}
}

func catalogPage(account integration.AccountID, from, n int, hasMore bool) *integration.CatalogPage {
	records := make([]*integration.SyncedRecord, 0, n)
	for i := from; i < from+n; i++ {
		records = append(records, remoteRecord(account, fmt.Sprintf("SKU-%04d", i), "10.00", 5))
	}
	return &integration.CatalogPage{Records: records, HasMore: hasMore}
}

package integration

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/erp/marketsync/internal/domain/shared"
	"github.com/erp/marketsync/internal/domain/trade"
	"github.com/erp/marketsync/internal/infrastructure/telemetry"
)

const (
	orderLockPrefix         = "order:"
	orderAckMarkerPrefix    = "order-ack:"
	orderNoticeMarkerPrefix = "order-notification:"
	defaultOrderPageSize    = 50
)

// OrderOption configures optional OrderService settings
type OrderOption func(*OrderService)

// WithOrderClock overrides time.Now
func WithOrderClock(now func() time.Time) OrderOption {
	return func(s *OrderService) {
		s.now = now
	}
}

// WithMarkerTTL sets how long acknowledgment and notification markers live
func WithMarkerTTL(ttl time.Duration) OrderOption {
	return func(s *OrderService) {
		if ttl > 0 {
			s.markerTTL = ttl
		}
	}
}

// WithOrderPageSize sets the page size used by PullOrders
func WithOrderPageSize(size int) OrderOption {
	return func(s *OrderService) {
		if size > 0 {
			s.pageSize = size
		}
	}
}

// OrderService drives marketplace orders through the status state machine.
// Every change is validated locally before the marketplace is called, and
// stored locally only after the marketplace accepted it.
type OrderService struct {
	repo      trade.OrderRepository
	gateway   trade.OrderGateway
	markers   shared.IdempotencyStore
	locker    shared.KeyLocker
	logger    *zap.Logger
	markerTTL time.Duration
	pageSize  int
	now       func() time.Time

	eventPublisher shared.EventPublisher
	metrics        *telemetry.SyncMetrics
}

// NewOrderService creates a new OrderService
func NewOrderService(
	repo trade.OrderRepository,
	gateway trade.OrderGateway,
	markers shared.IdempotencyStore,
	locker shared.KeyLocker,
	logger *zap.Logger,
	opts ...OrderOption,
) *OrderService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &OrderService{
		repo:      repo,
		gateway:   gateway,
		markers:   markers,
		locker:    locker,
		logger:    logger,
		markerTTL: shared.DefaultIdempotencyConfig().TTL,
		pageSize:  defaultOrderPageSize,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetEventPublisher sets the publisher for order events
func (s *OrderService) SetEventPublisher(publisher shared.EventPublisher) {
	s.eventPublisher = publisher
}

// SetMetrics sets the metrics recorder for order transitions
func (s *OrderService) SetMetrics(m *telemetry.SyncMetrics) {
	s.metrics = m
}

// GetOrder returns the locally stored order
func (s *OrderService) GetOrder(ctx context.Context, id int64) (*OrderResponse, error) {
	order, err := s.repo.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	return ToOrderResponse(order), nil
}

// AcknowledgeOrder confirms receipt of an order to the marketplace. It is
// idempotent: an acknowledged order is returned unchanged and a remembered
// acknowledgment is not sent twice.
func (s *OrderService) AcknowledgeOrder(ctx context.Context, id int64) (*OrderResponse, error) {
	ctx, span := telemetry.StartSpan(ctx, "order.acknowledge", telemetry.WithAttribute(telemetry.SpanAttrOrderID, id))
	defer span.End()

	var resp *OrderResponse
	err := s.withOrder(ctx, id, func(order *trade.Order) error {
		if order.IsAcknowledged() {
			resp = ToOrderResponse(order)
			return nil
		}

		marker := orderAckMarkerPrefix + strconv.FormatInt(id, 10)
		sent, err := s.markers.IsProcessed(ctx, marker)
		if err != nil {
			return fmt.Errorf("failed to check acknowledgment marker: %w", err)
		}
		if !sent {
			if err := s.gateway.AcknowledgeOrder(ctx, order.AccountID, id); err != nil {
				return err
			}
			if _, err := s.markers.MarkProcessed(ctx, marker, s.markerTTL); err != nil {
				s.logger.Warn("Failed to store acknowledgment marker", zap.Int64("order_id", id), zap.Error(err))
			}
		}

		from := order.Status
		order.Acknowledge(s.now())
		if err := s.save(ctx, order); err != nil {
			return err
		}
		s.metrics.OrderTransition(ctx, from.String(), order.Status.String())
		s.logger.Info("Order acknowledged",
			zap.Int64("order_id", id),
			zap.String("account_id", order.AccountID),
			zap.Bool("remote_call_skipped", sent),
		)
		resp = ToOrderResponse(order)
		return nil
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	return resp, nil
}

// UpdateOrderStatus moves an order to the requested status. A request that
// carries lines is a storno and is only accepted for finalized orders.
// Rejected transitions never reach the marketplace.
func (s *OrderService) UpdateOrderStatus(ctx context.Context, id int64, req UpdateOrderStatusRequest) (*OrderResponse, error) {
	target, err := trade.ParseOrderStatus(req.Status)
	if err != nil {
		return nil, shared.NewDomainError(shared.CodeInvalidInput, err.Error())
	}

	ctx, span := telemetry.StartSpan(ctx, "order.update_status",
		telemetry.WithAttribute(telemetry.SpanAttrOrderID, id),
		telemetry.WithAttribute(telemetry.SpanAttrStatus, target.String()),
	)
	defer span.End()

	var resp *OrderResponse
	err = s.withOrder(ctx, id, func(order *trade.Order) error {
		if len(req.Lines) > 0 {
			if order.Status != trade.OrderStatusFinalized {
				return shared.NewPreconditionFailed(fmt.Sprintf("Line changes are only accepted as a storno of a finalized order, order %d is %s", id, order.Status))
			}
			plan, err := order.PlanStorno(toLineQuantities(req.Lines), s.now())
			if err != nil {
				return err
			}
			if plan.ResultStatus != target {
				return shared.NewPreconditionFailed(fmt.Sprintf("Storno leaves order %d %s, not %s", id, plan.ResultStatus, target))
			}
			if err := s.applyStorno(ctx, order, plan); err != nil {
				return err
			}
			resp = ToOrderResponse(order)
			return nil
		}

		if order.Status == target {
			resp = ToOrderResponse(order)
			return nil
		}
		if err := order.CanTransitionTo(target, s.now()); err != nil {
			return err
		}

		from := order.Status
		if err := s.gateway.UpdateOrder(ctx, order.AccountID, trade.OrderUpdate{OrderID: id, Status: target}); err != nil {
			return err
		}
		if err := order.TransitionTo(target, s.now()); err != nil {
			return err
		}
		if err := s.save(ctx, order); err != nil {
			return err
		}
		s.metrics.OrderTransition(ctx, from.String(), target.String())
		s.logger.Info("Order status updated",
			zap.Int64("order_id", id),
			zap.String("from", from.String()),
			zap.String("to", target.String()),
		)
		resp = ToOrderResponse(order)
		return nil
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	return resp, nil
}

// Storno reduces line quantities of a finalized order. The order becomes
// returned when no active quantity remains.
func (s *OrderService) Storno(ctx context.Context, id int64, req StornoRequest) (*OrderResponse, error) {
	ctx, span := telemetry.StartSpan(ctx, "order.storno", telemetry.WithAttribute(telemetry.SpanAttrOrderID, id))
	defer span.End()

	var resp *OrderResponse
	err := s.withOrder(ctx, id, func(order *trade.Order) error {
		plan, err := order.PlanStorno(toLineQuantities(req.Lines), s.now())
		if err != nil {
			return err
		}
		if err := s.applyStorno(ctx, order, plan); err != nil {
			return err
		}
		resp = ToOrderResponse(order)
		return nil
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	return resp, nil
}

func (s *OrderService) applyStorno(ctx context.Context, order *trade.Order, plan *trade.StornoPlan) error {
	returned := trade.CancellationReasonReturned
	lines := make([]trade.LineUpdate, len(plan.Lines))
	for i, l := range plan.Lines {
		lines[i] = trade.LineUpdate{LineID: l.LineID, Quantity: l.Quantity}
		if l.Quantity == 0 {
			lines[i].CancellationReason = &returned
		}
	}

	from := order.Status
	update := trade.OrderUpdate{
		OrderID: order.ID,
		Status:  plan.ResultStatus,
		Lines:   lines,
		Storno:  true,
	}
	if err := s.gateway.UpdateOrder(ctx, order.AccountID, update); err != nil {
		return err
	}
	order.ApplyStorno(plan, s.now())
	if err := s.save(ctx, order); err != nil {
		return err
	}
	if from != order.Status {
		s.metrics.OrderTransition(ctx, from.String(), order.Status.String())
	}
	s.logger.Info("Order storno applied",
		zap.Int64("order_id", order.ID),
		zap.Int("lines", len(plan.Lines)),
		zap.String("status", order.Status.String()),
	)
	return nil
}

// RemoveOrderLine cancels one line of an in-progress or prepared order
func (s *OrderService) RemoveOrderLine(ctx context.Context, id, lineID int64, req RemoveOrderLineRequest) (*OrderResponse, error) {
	ctx, span := telemetry.StartSpan(ctx, "order.remove_line", telemetry.WithAttribute(telemetry.SpanAttrOrderID, id))
	defer span.End()

	reason := trade.CancellationReason(req.Reason)
	var resp *OrderResponse
	err := s.withOrder(ctx, id, func(order *trade.Order) error {
		if err := order.CheckLineRemoval(lineID, reason); err != nil {
			return err
		}
		update := trade.OrderUpdate{
			OrderID: id,
			Status:  order.Status,
			Lines:   []trade.LineUpdate{{LineID: lineID, Quantity: 0, CancellationReason: &reason}},
		}
		if err := s.gateway.UpdateOrder(ctx, order.AccountID, update); err != nil {
			return err
		}
		if err := order.RemoveLine(lineID, reason, s.now()); err != nil {
			return err
		}
		if err := s.save(ctx, order); err != nil {
			return err
		}
		s.logger.Info("Order line removed",
			zap.Int64("order_id", id),
			zap.Int64("line_id", lineID),
			zap.String("reason", reason.String()),
		)
		resp = ToOrderResponse(order)
		return nil
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	return resp, nil
}

// HandleOrderNotification fetches and stores the order a marketplace push
// refers to. Duplicate pushes and pushes about acknowledged orders are
// dropped. It reports whether the order was fetched.
func (s *OrderService) HandleOrderNotification(ctx context.Context, n OrderNotification) (bool, error) {
	if n.OrderID <= 0 || n.AccountID == "" {
		return false, shared.NewDomainError(shared.CodeInvalidInput, "Notification requires an account and an order id")
	}

	noticeMarker := ""
	if n.NotificationID != "" {
		noticeMarker = orderNoticeMarkerPrefix + n.NotificationID
		seen, err := s.markers.IsProcessed(ctx, noticeMarker)
		if err != nil {
			return false, fmt.Errorf("failed to check notification marker: %w", err)
		}
		if seen {
			s.logger.Debug("Duplicate order notification dropped", zap.String("notification_id", n.NotificationID))
			return false, nil
		}
	}

	fetched := false
	err := s.withLock(ctx, n.OrderID, func() error {
		local, err := s.repo.GetOrder(ctx, n.OrderID)
		switch {
		case errors.Is(err, shared.ErrNotFound):
			local = nil
		case err != nil:
			return err
		}
		if local != nil && local.IsAcknowledged() {
			return nil
		}
		acked, err := s.markers.IsProcessed(ctx, orderAckMarkerPrefix+strconv.FormatInt(n.OrderID, 10))
		if err != nil {
			return fmt.Errorf("failed to check acknowledgment marker: %w", err)
		}
		if acked {
			return nil
		}

		remote, err := s.gateway.FetchOrder(ctx, n.AccountID, n.OrderID)
		if err != nil {
			return err
		}
		if err := s.storeRemote(ctx, n.AccountID, remote, local); err != nil {
			return err
		}
		fetched = true
		return nil
	})
	if err != nil {
		return false, err
	}

	if noticeMarker != "" {
		if _, err := s.markers.MarkProcessed(ctx, noticeMarker, s.markerTTL); err != nil {
			s.logger.Warn("Failed to store notification marker", zap.String("notification_id", n.NotificationID), zap.Error(err))
		}
	}
	if fetched {
		s.logger.Info("Order fetched from notification",
			zap.Int64("order_id", n.OrderID),
			zap.String("account_id", n.AccountID),
		)
	}
	return fetched, nil
}

// PullOrders pages through the remote orders of one account and stores them
// locally. It returns the number of orders stored.
func (s *OrderService) PullOrders(ctx context.Context, accountID string, filter trade.OrderListFilter) (int, error) {
	if accountID == "" {
		return 0, shared.NewDomainError(shared.CodeInvalidInput, "Account id is required")
	}

	stored := 0
	for page := 1; ; page++ {
		if err := ctx.Err(); err != nil {
			return stored, err
		}
		result, err := s.gateway.ListOrders(ctx, accountID, page, s.pageSize, filter)
		if err != nil {
			return stored, err
		}
		for _, rejected := range result.Rejected {
			s.logger.Warn("Listed order rejected",
				zap.String("account_id", accountID),
				zap.Int("page", page),
				zap.Int("index", rejected.Index),
				zap.Int64("order_id", rejected.OrderID),
				zap.Error(rejected.Err),
			)
		}
		for _, remote := range result.Orders {
			if remote == nil {
				continue
			}
			err := s.withLock(ctx, remote.ID, func() error {
				local, err := s.repo.GetOrder(ctx, remote.ID)
				switch {
				case errors.Is(err, shared.ErrNotFound):
					local = nil
				case err != nil:
					return err
				}
				return s.storeRemote(ctx, accountID, remote, local)
			})
			if err != nil {
				return stored, err
			}
			stored++
		}
		if !result.HasMore {
			break
		}
	}

	s.logger.Info("Orders pulled", zap.String("account_id", accountID), zap.Int("stored", stored))
	return stored, nil
}

// storeRemote saves a fetched order, keeping acknowledgment state that only
// exists locally.
func (s *OrderService) storeRemote(ctx context.Context, accountID string, remote, local *trade.Order) error {
	if remote.AccountID == "" {
		remote.AccountID = accountID
	}
	if err := remote.Validate(); err != nil {
		return err
	}
	if local != nil {
		keepLocalTime(&remote.AcknowledgedAt, local.AcknowledgedAt)
		keepLocalTime(&remote.FinalizedAt, local.FinalizedAt)
		keepLocalTime(&remote.CanceledAt, local.CanceledAt)
		keepLocalTime(&remote.ReturnedAt, local.ReturnedAt)
	}
	remote.UpdatedAt = s.now()
	return s.repo.UpsertOrder(ctx, remote)
}

// keepLocalTime fills a lifecycle timestamp the marketplace payload omits.
// The reversal windows are measured from these.
func keepLocalTime(remote **time.Time, local *time.Time) {
	if *remote == nil {
		*remote = local
	}
}

// withOrder loads the order under its lock and runs fn
func (s *OrderService) withOrder(ctx context.Context, id int64, fn func(order *trade.Order) error) error {
	return s.withLock(ctx, id, func() error {
		order, err := s.repo.GetOrder(ctx, id)
		if err != nil {
			return err
		}
		return fn(order)
	})
}

func (s *OrderService) withLock(ctx context.Context, id int64, fn func() error) error {
	unlock, err := s.locker.Lock(ctx, orderLockPrefix+strconv.FormatInt(id, 10))
	if err != nil {
		return err
	}
	defer unlock()
	return fn()
}

// save stores the order and publishes the events it raised
func (s *OrderService) save(ctx context.Context, order *trade.Order) error {
	if err := s.repo.UpsertOrder(ctx, order); err != nil {
		return fmt.Errorf("failed to save order %d: %w", order.ID, err)
	}
	events := order.GetDomainEvents()
	order.ClearDomainEvents()
	if s.eventPublisher != nil && len(events) > 0 {
		if err := s.eventPublisher.Publish(ctx, events...); err != nil {
			s.logger.Warn("Failed to publish order events", zap.Int64("order_id", order.ID), zap.Error(err))
		}
	}
	return nil
}

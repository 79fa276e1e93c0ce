package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"orderbroker/db"
	"orderbroker/internal/apperr"
	"orderbroker/internal/metrics"
	"orderbroker/internal/notify"
	"orderbroker/models"

	"github.com/google/uuid"
)

type Orders struct {
	*core
}

// newOrder комиссия фиксируется в момент создания и больше не пересчитывается
func newOrder(b *models.Bid, r *models.Request, rate float64, now time.Time) *models.Order {
	total := round2(b.Price)
	commission := round2(total * rate)
	return &models.Order{
		Number:           "ORD-" + strings.ToUpper(uuid.NewString()[:8]),
		BidID:            b.ID,
		RequestID:        r.ID,
		CustomerID:       r.CustomerID,
		SupplierID:       b.SupplierID,
		TotalAmount:      total,
		CommissionRate:   rate,
		CommissionAmount: commission,
		SupplierEarnings: round2(total - commission),
		Status:           models.OrderConfirmed,
		CreatedAt:        now,
	}
}

func isParty(actor models.Actor, o *models.Order) bool {
	switch actor.Role {
	case models.RoleAdmin:
		return true
	case models.RoleCustomer:
		return o.CustomerID == actor.ID
	case models.RoleSupplier:
		return o.SupplierID == actor.ID
	}
	return false
}

// counterparty получатель уведомления о действии actor
func counterparty(actor models.Actor, o *models.Order) []int64 {
	switch actor.Role {
	case models.RoleCustomer:
		return []int64{o.SupplierID}
	case models.RoleSupplier:
		return []int64{o.CustomerID}
	}
	return []int64{o.CustomerID, o.SupplierID}
}

// change общий путь перехода: блокировка, проверка стороны, условное обновление,
// строка истории и закрытие заявки для терминальных статусов.
func (s *Orders) change(ctx context.Context, actor models.Actor, orderID int64, note string,
	mutate func(o *models.Order, now time.Time) error) (*models.Order, error) {
	var out *models.Order
	err := s.store.InTx(ctx, func(tx db.Store) error {
		peek, err := tx.GetOrder(ctx, orderID)
		if err != nil {
			return notFound(err, "order")
		}
		// заявка блокируется раньше заказа, как и при принятии предложения
		if _, err := tx.LockRequest(ctx, peek.RequestID); err != nil {
			return notFound(err, "request")
		}
		o, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return notFound(err, "order")
		}
		if !isParty(actor, o) {
			return apperr.NotFound("order not found")
		}
		now := s.now()
		prev := o.Status
		if err := mutate(o, now); err != nil {
			return err
		}
		o.UpdatedAt = now
		ok, err := tx.TransitionOrder(ctx, o, prev)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.InvalidState("order status changed concurrently")
		}
		if err := tx.AddOrderHistory(ctx, &models.OrderStatusHistory{
			OrderID:   o.ID,
			ActorID:   actor.ID,
			Status:    o.Status,
			Note:      note,
			CreatedAt: now,
		}); err != nil {
			return err
		}

		var closeTo models.RequestStatus
		switch o.Status {
		case models.OrderCompleted:
			closeTo = models.RequestCompleted
		case models.OrderCancelled:
			closeTo = models.RequestCancelled
		}
		if closeTo != "" {
			if _, err := tx.TransitionRequest(ctx, o.RequestID,
				[]models.RequestStatus{models.RequestInProgress}, closeTo, now); err != nil {
				return err
			}
		}
		out = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.OrderTransitionsTotal.WithLabelValues(string(out.Status)).Inc()
	s.logger.Info("order status changed", "order_id", out.ID, "status", out.Status, "actor_id", actor.ID)
	s.notifyAll(ctx, notify.OrderStatusChanged, map[string]any{
		"orderId":     out.ID,
		"orderNumber": out.Number,
		"status":      out.Status,
		"note":        note,
	}, counterparty(actor, out)...)
	return out, nil
}

// UpdateStatus продвижение заказа поставщиком только вперёд по основному пути
func (s *Orders) UpdateStatus(ctx context.Context, actor models.Actor, orderID int64, p models.OrderStatusPayload) (*models.Order, error) {
	if err := requireRole(actor, models.RoleSupplier); err != nil {
		return nil, err
	}
	if err := s.check(p); err != nil {
		return nil, err
	}
	target, ok := models.ParseSupplierStatus(p.Status)
	if !ok {
		return nil, apperr.Validation("unsupported status %q", p.Status)
	}
	note := strings.TrimSpace(p.Note)

	return s.change(ctx, actor, orderID, note, func(o *models.Order, now time.Time) error {
		if o.Status.Terminal() {
			return apperr.InvalidState("order is %s", o.Status)
		}
		if target == models.OrderCancelled {
			if !o.Status.PreShipment() {
				return apperr.InvalidState("order is %s and can no longer be cancelled", o.Status)
			}
			o.Status = models.OrderCancelled
			o.CancelledAt = &now
			o.CancellationReason = ptr(firstNonEmpty(note, "cancelled by supplier"))
			return nil
		}
		cur, _ := o.Status.Rank()
		next, _ := target.Rank()
		if next <= cur {
			return apperr.InvalidState("cannot move order from %s to %s", o.Status, target)
		}
		switch target {
		case models.OrderShipped:
			o.TrackingNumber, o.Carrier = p.TrackingNumber, p.Carrier
			o.EstimatedDelivery = p.EstimatedDelivery
			o.ShippedAt = &now
		case models.OrderDelivered:
			if o.ShippedAt == nil {
				o.ShippedAt = &now
			}
			o.DeliveredAt = &now
		}
		if note != "" {
			o.SupplierNotes = note
		}
		o.Status = target
		return nil
	})
}

// AddUpdate заметка поставщика о ходе выполнения, статус не меняется
func (s *Orders) AddUpdate(ctx context.Context, actor models.Actor, orderID int64, p models.OrderUpdatePayload) (*models.OrderUpdate, error) {
	if err := requireRole(actor, models.RoleSupplier); err != nil {
		return nil, err
	}
	if err := s.check(p); err != nil {
		return nil, err
	}
	o, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, notFound(err, "order")
	}
	if o.SupplierID != actor.ID {
		return nil, apperr.NotFound("order not found")
	}
	if o.Status == models.OrderCompleted || o.Status == models.OrderCancelled {
		return nil, apperr.InvalidState("order is %s", o.Status)
	}
	u := &models.OrderUpdate{
		OrderID:   orderID,
		ActorID:   actor.ID,
		Message:   strings.TrimSpace(p.Message),
		ImageURL:  p.ImageURL,
		CreatedAt: s.now(),
	}
	if err := s.store.AddOrderUpdate(ctx, u); err != nil {
		return nil, fmt.Errorf("add order update: %w", err)
	}
	s.notifyAll(ctx, notify.OrderUpdatePosted, map[string]any{
		"orderId":  o.ID,
		"updateId": u.ID,
		"message":  u.Message,
	}, o.CustomerID)
	return u, nil
}

// ConfirmDelivery заказчик подтверждает получение отгруженного заказа
func (s *Orders) ConfirmDelivery(ctx context.Context, actor models.Actor, orderID int64, note string) (*models.Order, error) {
	if err := requireRole(actor, models.RoleCustomer); err != nil {
		return nil, err
	}
	note = strings.TrimSpace(note)
	return s.change(ctx, actor, orderID, firstNonEmpty(note, "delivery confirmed by customer"), func(o *models.Order, now time.Time) error {
		switch {
		case o.Status == models.OrderShipped:
			o.DeliveredAt = &now
		case o.Status == models.OrderDelivered && o.DeliveryConfirmedAt == nil:
		case o.Status == models.OrderDelivered:
			return apperr.InvalidState("delivery already confirmed")
		default:
			return apperr.InvalidState("order is %s, delivery can be confirmed only after shipment", o.Status)
		}
		o.Status = models.OrderDelivered
		o.DeliveryConfirmedAt = &now
		if note != "" {
			o.CustomerNotes = note
		}
		return nil
	})
}

// Complete закрывает доставленный заказ; с этого момента он учитывается в заработке
func (s *Orders) Complete(ctx context.Context, actor models.Actor, orderID int64, note string) (*models.Order, error) {
	if err := requireRole(actor, models.RoleCustomer); err != nil {
		return nil, err
	}
	note = strings.TrimSpace(note)
	return s.change(ctx, actor, orderID, firstNonEmpty(note, "order completed"), func(o *models.Order, now time.Time) error {
		if o.Status != models.OrderDelivered {
			return apperr.InvalidState("order is %s, only delivered orders can be completed", o.Status)
		}
		if o.DeliveryConfirmedAt == nil {
			o.DeliveryConfirmedAt = &now
		}
		o.Status = models.OrderCompleted
		o.CompletedAt = &now
		if note != "" {
			o.CustomerNotes = note
		}
		return nil
	})
}

func (s *Orders) Cancel(ctx context.Context, actor models.Actor, orderID int64, reason string) (*models.Order, error) {
	if err := requireRole(actor, models.RoleCustomer); err != nil {
		return nil, err
	}
	reason = firstNonEmpty(strings.TrimSpace(reason), "cancelled by customer")
	return s.change(ctx, actor, orderID, reason, func(o *models.Order, now time.Time) error {
		if !o.Status.PreShipment() {
			return apperr.InvalidState("order is %s and can no longer be cancelled", o.Status)
		}
		o.Status = models.OrderCancelled
		o.CancelledAt = &now
		o.CancellationReason = &reason
		return nil
	})
}

// Dispute спор может открыть любая сторона после начала производства
func (s *Orders) Dispute(ctx context.Context, actor models.Actor, orderID int64, reason string) (*models.Order, error) {
	if err := requireRole(actor, models.RoleCustomer, models.RoleSupplier); err != nil {
		return nil, err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, apperr.Validation("reason is required")
	}
	return s.change(ctx, actor, orderID, reason, func(o *models.Order, now time.Time) error {
		if !o.Status.Disputable() {
			return apperr.InvalidState("order is %s and cannot be disputed", o.Status)
		}
		o.Status = models.OrderDisputed
		o.DisputeReason = &reason
		return nil
	})
}

// Get заказ с историей статусов и заметками
func (s *Orders) Get(ctx context.Context, actor models.Actor, orderID int64) (*models.OrderDetails, error) {
	o, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, notFound(err, "order")
	}
	if !isParty(actor, o) {
		return nil, apperr.NotFound("order not found")
	}
	history, err := s.store.ListOrderHistory(ctx, orderID)
	if err != nil {
		return nil, err
	}
	updates, err := s.store.ListOrderUpdates(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return &models.OrderDetails{Order: *o, History: history, Updates: updates}, nil
}

func (s *Orders) ListMine(ctx context.Context, actor models.Actor, status *models.OrderStatus, limit, offset int) ([]models.Order, error) {
	f := models.OrderFilter{Status: status}
	f.Limit, f.Offset = pageArgs(limit, offset)
	switch actor.Role {
	case models.RoleCustomer:
		f.CustomerID = &actor.ID
	case models.RoleSupplier:
		f.SupplierID = &actor.ID
	case models.RoleAdmin:
	default:
		return nil, apperr.Forbidden("role %q is not allowed to perform this action", actor.Role)
	}
	return s.store.ListOrders(ctx, f)
}

// Earnings поставщик видит свой заработок, администратор - итог платформы
func (s *Orders) Earnings(ctx context.Context, actor models.Actor) (models.Earnings, error) {
	if err := requireRole(actor, models.RoleSupplier, models.RoleAdmin); err != nil {
		return models.Earnings{}, err
	}
	var supplierID *int64
	if actor.Role == models.RoleSupplier {
		supplierID = &actor.ID
	}
	e, err := s.store.Earnings(ctx, supplierID)
	if err != nil {
		return models.Earnings{}, fmt.Errorf("earnings: %w", err)
	}
	e.GrossAmount = round2(e.GrossAmount)
	e.CommissionAmount = round2(e.CommissionAmount)
	e.NetEarnings = round2(e.NetEarnings)
	return e, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

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
)

const siblingRejectionReason = "another bid was accepted for this request"

type Bids struct {
	*core
	requests *Requests
}

// Acceptance результат принятия предложения
type Acceptance struct {
	Bid      models.Bid   `json:"bid"`
	Order    models.Order `json:"order"`
	Rejected []int64      `json:"rejectedBidIds"`
}

func bidEvent(b *models.Bid) map[string]any {
	return map[string]any{"bidId": b.ID, "requestId": b.RequestID, "status": b.Status, "price": b.Price}
}

func (s *Bids) Submit(ctx context.Context, actor models.Actor, requestID int64, p models.SubmitBidPayload) (*models.Bid, error) {
	if err := requireRole(actor, models.RoleSupplier); err != nil {
		return nil, err
	}
	if err := s.check(p); err != nil {
		return nil, err
	}
	breakdown := 0.0
	for _, c := range []*float64{p.MaterialsCost, p.LaborCost, p.OtherCost} {
		if c != nil {
			breakdown += *c
		}
	}
	if round2(breakdown) > round2(p.Price) {
		return nil, apperr.Validation("cost breakdown %.2f exceeds price %.2f", breakdown, p.Price)
	}

	now := s.now()
	ttl := s.settings.BidTTL
	if p.ExpiresInDays > 0 {
		ttl = time.Duration(p.ExpiresInDays) * 24 * time.Hour
	}
	b := &models.Bid{
		RequestID:     requestID,
		SupplierID:    actor.ID,
		Price:         round2(p.Price),
		DeliveryDays:  p.DeliveryDays,
		MaterialsCost: roundPtr(p.MaterialsCost),
		LaborCost:     roundPtr(p.LaborCost),
		OtherCost:     roundPtr(p.OtherCost),
		Message:       strings.TrimSpace(p.Message),
		Status:        models.BidPending,
		ExpiresAt:     now.Add(ttl),
		CreatedAt:     now,
	}

	var customerID int64
	err := s.store.InTx(ctx, func(tx db.Store) error {
		r, err := tx.LockRequest(ctx, requestID)
		if err != nil {
			return notFound(err, "request")
		}
		if !r.Status.AcceptsBids() {
			return apperr.InvalidState("request is %s and is not accepting bids", r.Status)
		}
		if r.ExpiresAt.Before(now) {
			return apperr.InvalidState("request has expired")
		}
		dup, err := tx.HasPendingBid(ctx, requestID, actor.ID)
		if err != nil {
			return err
		}
		if dup {
			return apperr.Conflict("supplier already has an active bid on this request")
		}
		// предложение не живёт дольше заявки
		if r.ExpiresAt.Before(b.ExpiresAt) {
			b.ExpiresAt = r.ExpiresAt
		}
		if err := tx.CreateBid(ctx, b); err != nil {
			if db.IsDuplicate(err) {
				return apperr.Conflict("supplier already has an active bid on this request")
			}
			return err
		}
		customerID = r.CustomerID
		return s.requests.recomputeBidStats(ctx, tx, requestID)
	})
	if err != nil {
		return nil, err
	}

	metrics.BidTransitionsTotal.WithLabelValues(string(models.BidPending)).Inc()
	s.logger.Info("bid submitted", "bid_id", b.ID, "request_id", requestID, "supplier_id", actor.ID)
	s.notifyAll(ctx, notify.BidReceived, bidEvent(b), customerID)
	return b, nil
}

// Accept принимает предложение: отклоняет остальные ожидающие, создаёт заказ
// и переводит заявку в in_progress. Всё выполняется одной транзакцией.
func (s *Bids) Accept(ctx context.Context, actor models.Actor, bidID int64) (*Acceptance, error) {
	if err := requireRole(actor, models.RoleCustomer); err != nil {
		return nil, err
	}
	var (
		res      Acceptance
		siblings []models.Bid
	)
	err := s.store.InTx(ctx, func(tx db.Store) error {
		req, bid, err := lockBidWithRequest(ctx, tx, bidID)
		if err != nil {
			return err
		}
		if req.CustomerID != actor.ID {
			return apperr.NotFound("bid not found")
		}
		now := s.now()
		switch {
		case bid.Status == models.BidAccepted:
			return apperr.InvalidState("bid already accepted")
		case bid.Status != models.BidPending:
			return apperr.InvalidState("bid is %s and cannot be accepted", bid.Status)
		case bid.ExpiresAt.Before(now):
			return apperr.InvalidState("bid has expired")
		case req.Status == models.RequestInProgress || req.Status == models.RequestCompleted:
			return apperr.InvalidState("request already has an accepted bid")
		case !req.Status.AcceptsBids():
			return apperr.InvalidState("request is %s and cannot accept bids", req.Status)
		}

		bid.Status = models.BidAccepted
		bid.AcceptedAt = &now
		bid.UpdatedAt = now
		ok, err := tx.TransitionBid(ctx, bid, models.BidPending)
		if err != nil {
			if db.IsDuplicate(err) {
				return apperr.InvalidState("request already has an accepted bid")
			}
			return err
		}
		if !ok {
			return apperr.InvalidState("bid is no longer pending")
		}

		pending, err := tx.ListRequestBidsByStatus(ctx, req.ID, []models.BidStatus{models.BidPending})
		if err != nil {
			return err
		}
		for i := range pending {
			sib := &pending[i]
			sib.Status = models.BidRejected
			sib.RejectedAt = &now
			sib.RejectionReason = ptr(siblingRejectionReason)
			sib.UpdatedAt = now
			ok, err := tx.TransitionBid(ctx, sib, models.BidPending)
			if err != nil {
				return err
			}
			if !ok {
				return apperr.InvalidState("bid %d changed concurrently", sib.ID)
			}
			res.Rejected = append(res.Rejected, sib.ID)
		}
		siblings = pending

		order := newOrder(bid, req, s.settings.CommissionRate, now)
		if err := tx.CreateOrder(ctx, order); err != nil {
			if db.IsDuplicate(err) {
				return apperr.InvalidState("order already exists for this bid")
			}
			return err
		}
		if err := tx.AddOrderHistory(ctx, &models.OrderStatusHistory{
			OrderID:   order.ID,
			ActorID:   actor.ID,
			Status:    order.Status,
			Note:      "order created from accepted bid",
			CreatedAt: now,
		}); err != nil {
			return err
		}

		ok, err = tx.TransitionRequest(ctx, req.ID,
			[]models.RequestStatus{models.RequestOpenForBids, models.RequestBidsReceived}, models.RequestInProgress, now)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.InvalidState("request status changed concurrently")
		}
		if err := s.requests.recomputeBidStats(ctx, tx, req.ID); err != nil {
			return err
		}
		res.Bid, res.Order = *bid, *order
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.BidTransitionsTotal.WithLabelValues(string(models.BidAccepted)).Inc()
	metrics.BidTransitionsTotal.WithLabelValues(string(models.BidRejected)).Add(float64(len(siblings)))
	metrics.OrdersCreatedTotal.Inc()
	s.logger.Info("bid accepted",
		"bid_id", bidID,
		"request_id", res.Bid.RequestID,
		"order_id", res.Order.ID,
		"rejected", len(siblings),
	)
	event := bidEvent(&res.Bid)
	event["orderId"] = res.Order.ID
	event["orderNumber"] = res.Order.Number
	s.notifyAll(ctx, notify.BidAccepted, event, res.Bid.SupplierID)
	for i := range siblings {
		s.notifyAll(ctx, notify.BidRejected, bidEvent(&siblings[i]), siblings[i].SupplierID)
	}
	return &res, nil
}

func (s *Bids) Reject(ctx context.Context, actor models.Actor, bidID int64, reason string) (*models.Bid, error) {
	if err := requireRole(actor, models.RoleCustomer); err != nil {
		return nil, err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "rejected by customer"
	}
	if len(reason) > 1000 {
		return nil, apperr.Validation("reason must be at most 1000 characters")
	}
	b, err := s.finish(ctx, bidID, func(b *models.Bid, r *models.Request, now time.Time) error {
		if r.CustomerID != actor.ID {
			return apperr.NotFound("bid not found")
		}
		b.Status = models.BidRejected
		b.RejectedAt = &now
		b.RejectionReason = &reason
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.notifyAll(ctx, notify.BidRejected, bidEvent(b), b.SupplierID)
	return b, nil
}

// Cancel отзыв предложения поставщиком
func (s *Bids) Cancel(ctx context.Context, actor models.Actor, bidID int64, reason string) (*models.Bid, error) {
	if err := requireRole(actor, models.RoleSupplier); err != nil {
		return nil, err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "withdrawn by supplier"
	}
	return s.finish(ctx, bidID, func(b *models.Bid, r *models.Request, now time.Time) error {
		if b.SupplierID != actor.ID {
			return apperr.NotFound("bid not found")
		}
		b.Status = models.BidCancelled
		b.CancelledAt = &now
		b.CancellationReason = &reason
		return nil
	})
}

// finish общий путь для перевода ожидающего предложения в терминальный статус
func (s *Bids) finish(ctx context.Context, bidID int64, apply func(*models.Bid, *models.Request, time.Time) error) (*models.Bid, error) {
	var out *models.Bid
	err := s.store.InTx(ctx, func(tx db.Store) error {
		r, b, err := lockBidWithRequest(ctx, tx, bidID)
		if err != nil {
			return err
		}
		now := s.now()
		prev := b.Status
		if err := apply(b, r, now); err != nil {
			return err
		}
		// статус проверяется после владельца, чтобы не раскрывать чужие предложения
		if prev != models.BidPending {
			return apperr.InvalidState("bid is %s, only pending bids can change", prev)
		}
		b.UpdatedAt = now
		ok, err := tx.TransitionBid(ctx, b, models.BidPending)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.InvalidState("bid is no longer pending")
		}
		if err := s.requests.recomputeBidStats(ctx, tx, b.RequestID); err != nil {
			return err
		}
		out = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.BidTransitionsTotal.WithLabelValues(string(out.Status)).Inc()
	s.logger.Info("bid closed", "bid_id", out.ID, "status", out.Status)
	return out, nil
}

// Get поставщик видит свои предложения, заказчик - предложения по своим заявкам
func (s *Bids) Get(ctx context.Context, actor models.Actor, bidID int64) (*models.Bid, error) {
	b, err := s.store.GetBid(ctx, bidID)
	if err != nil {
		return nil, notFound(err, "bid")
	}
	switch actor.Role {
	case models.RoleAdmin:
		return b, nil
	case models.RoleSupplier:
		if b.SupplierID == actor.ID {
			return b, nil
		}
	case models.RoleCustomer:
		r, err := s.store.GetRequest(ctx, b.RequestID)
		if err != nil {
			return nil, notFound(err, "bid")
		}
		if r.CustomerID == actor.ID {
			return b, nil
		}
	}
	return nil, apperr.NotFound("bid not found")
}

// ListByRequest заказчик видит все предложения, поставщик только свои
func (s *Bids) ListByRequest(ctx context.Context, actor models.Actor, requestID int64, limit, offset int) ([]models.Bid, error) {
	r, err := s.store.GetRequest(ctx, requestID)
	if err != nil {
		return nil, notFound(err, "request")
	}
	limit, offset = pageArgs(limit, offset)
	switch actor.Role {
	case models.RoleAdmin:
	case models.RoleCustomer:
		if r.CustomerID != actor.ID {
			return nil, apperr.NotFound("request not found")
		}
	case models.RoleSupplier:
		own, err := s.store.ListRequestBidsByStatus(ctx, requestID, []models.BidStatus{
			models.BidPending, models.BidAccepted, models.BidRejected, models.BidCancelled, models.BidExpired,
		})
		if err != nil {
			return nil, err
		}
		out := []models.Bid{}
		for _, b := range own {
			if b.SupplierID == actor.ID {
				out = append(out, b)
			}
		}
		return out, nil
	default:
		return nil, apperr.Forbidden("role %q is not allowed to perform this action", actor.Role)
	}
	return s.store.ListBidsByRequest(ctx, requestID, limit, offset)
}

func (s *Bids) ListMine(ctx context.Context, actor models.Actor, limit, offset int) ([]models.Bid, error) {
	if err := requireRole(actor, models.RoleSupplier); err != nil {
		return nil, err
	}
	limit, offset = pageArgs(limit, offset)
	return s.store.ListBidsBySupplier(ctx, actor.ID, limit, offset)
}

// ExpireDue переводит просроченные ожидающие предложения в expired.
// Принятое предложение никогда не истекает.
func (s *Bids) ExpireDue(ctx context.Context, batch int) (int, error) {
	due, err := s.store.ListExpiredBids(ctx, s.now(), batch)
	if err != nil {
		return 0, fmt.Errorf("list expired bids: %w", err)
	}
	expired := 0
	for _, candidate := range due {
		changed := false
		err := s.store.InTx(ctx, func(tx db.Store) error {
			if _, err := tx.LockRequest(ctx, candidate.RequestID); err != nil {
				return err
			}
			b, err := tx.LockBid(ctx, candidate.ID)
			if err != nil {
				return err
			}
			now := s.now()
			if b.Status != models.BidPending || !b.ExpiresAt.Before(now) {
				return nil
			}
			b.Status = models.BidExpired
			b.UpdatedAt = now
			ok, err := tx.TransitionBid(ctx, b, models.BidPending)
			if err != nil || !ok {
				return err
			}
			if err := s.requests.recomputeBidStats(ctx, tx, b.RequestID); err != nil {
				return err
			}
			changed = true
			return nil
		})
		switch {
		case err != nil:
			s.logger.Warn("expire bid", "bid_id", candidate.ID, "err", err)
		case changed:
			expired++
		}
	}
	if expired > 0 {
		metrics.BidTransitionsTotal.WithLabelValues(string(models.BidExpired)).Add(float64(expired))
		s.logger.Info("bids expired", "count", expired)
	}
	return expired, nil
}

// lockBidWithRequest блокирует сначала заявку, затем предложение.
// Все транзакции берут блокировки в порядке заявка, предложения, заказ, очередь.
func lockBidWithRequest(ctx context.Context, tx db.Store, bidID int64) (*models.Request, *models.Bid, error) {
	peek, err := tx.GetBid(ctx, bidID)
	if err != nil {
		return nil, nil, notFound(err, "bid")
	}
	r, err := tx.LockRequest(ctx, peek.RequestID)
	if err != nil {
		return nil, nil, notFound(err, "request")
	}
	b, err := tx.LockBid(ctx, bidID)
	if err != nil {
		return nil, nil, notFound(err, "bid")
	}
	return r, b, nil
}

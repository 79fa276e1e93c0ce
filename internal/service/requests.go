package service

import (
	"context"
	"errors"
	"fmt"

	"orderbroker/db"
	"orderbroker/internal/apperr"
	"orderbroker/internal/notify"
	"orderbroker/internal/queue"
	"orderbroker/models"
)

type Requests struct {
	*core
}

const defaultFlexibility = "flexible"

func (s *Requests) Create(ctx context.Context, actor models.Actor, p models.CreateRequestPayload) (*models.Request, error) {
	if err := requireRole(actor, models.RoleCustomer); err != nil {
		return nil, err
	}
	if err := s.check(p); err != nil {
		return nil, err
	}
	now := s.now()
	if p.BudgetMin != nil && p.BudgetMax != nil && *p.BudgetMin > *p.BudgetMax {
		return nil, apperr.Validation("budgetMin must not exceed budgetMax")
	}
	if p.DeliveryDate != nil && !p.DeliveryDate.After(now) {
		return nil, apperr.Validation("deliveryDate must be in the future")
	}

	r := &models.Request{
		CustomerID:          actor.ID,
		Title:               p.Title,
		Description:         p.Description,
		BudgetMin:           roundPtr(p.BudgetMin),
		BudgetMax:           roundPtr(p.BudgetMax),
		DeliveryDate:        p.DeliveryDate,
		DeliveryFlexibility: p.DeliveryFlexibility,
		Status:              models.RequestPendingCategorization,
		ExpiresAt:           now.Add(s.settings.RequestTTL),
		CreatedAt:           now,
	}
	if r.DeliveryFlexibility == "" {
		r.DeliveryFlexibility = defaultFlexibility
	}

	err := s.store.InTx(ctx, func(tx db.Store) error {
		if err := tx.CreateRequest(ctx, r); err != nil {
			return err
		}
		_, err := queue.Enqueue(ctx, tx, r.ID, models.PriorityNormal, now)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	s.logger.Info("request created", "request_id", r.ID, "customer_id", actor.ID)
	return r, nil
}

// Get заказчик видит только свои заявки; поставщики видят заявки после категоризации
func (s *Requests) Get(ctx context.Context, actor models.Actor, id int64) (*models.Request, error) {
	r, err := s.store.GetRequest(ctx, id)
	if err != nil {
		return nil, notFound(err, "request")
	}
	if !s.visible(actor, r) {
		return nil, apperr.NotFound("request not found")
	}
	return r, nil
}

func (s *Requests) visible(actor models.Actor, r *models.Request) bool {
	switch actor.Role {
	case models.RoleAdmin:
		return true
	case models.RoleCustomer:
		return r.CustomerID == actor.ID
	case models.RoleSupplier:
		return r.Status != models.RequestPendingCategorization
	}
	return false
}

// List витрина заявок; по умолчанию только принимающие предложения
func (s *Requests) List(ctx context.Context, actor models.Actor, f models.RequestFilter) ([]models.Request, error) {
	if len(f.Statuses) == 0 {
		f.Statuses = []models.RequestStatus{models.RequestOpenForBids, models.RequestBidsReceived}
	}
	if actor.Role != models.RoleAdmin {
		for _, st := range f.Statuses {
			if st == models.RequestPendingCategorization {
				return nil, apperr.Forbidden("only admins may list uncategorized requests")
			}
		}
	}
	f.Limit, f.Offset = pageArgs(f.Limit, f.Offset)
	return s.store.ListRequests(ctx, f)
}

func (s *Requests) ListMine(ctx context.Context, actor models.Actor, limit, offset int) ([]models.Request, error) {
	if err := requireRole(actor, models.RoleCustomer); err != nil {
		return nil, err
	}
	limit, offset = pageArgs(limit, offset)
	return s.store.ListRequests(ctx, models.RequestFilter{CustomerID: &actor.ID, Limit: limit, Offset: offset})
}

// Cancel отменяет заявку до принятия предложения вместе со всеми активными предложениями
func (s *Requests) Cancel(ctx context.Context, actor models.Actor, id int64, reason string) (*models.Request, error) {
	if err := requireRole(actor, models.RoleCustomer, models.RoleAdmin); err != nil {
		return nil, err
	}
	if reason == "" {
		reason = "request cancelled by customer"
	}
	var (
		out       *models.Request
		cancelled []models.Bid
	)
	err := s.store.InTx(ctx, func(tx db.Store) error {
		r, err := tx.LockRequest(ctx, id)
		if err != nil {
			return notFound(err, "request")
		}
		if actor.Role == models.RoleCustomer && r.CustomerID != actor.ID {
			return apperr.NotFound("request not found")
		}
		cancelled, err = s.closeRequest(ctx, tx, r, models.RequestCancelled, models.BidCancelled, reason)
		if err != nil {
			return err
		}
		out = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("request cancelled", "request_id", id, "bids_cancelled", len(cancelled))
	for _, b := range cancelled {
		s.notifier.Notify(ctx, b.SupplierID, notify.RequestCancelled, bidEvent(&b))
	}
	return out, nil
}

// closeRequest переводит заявку в терминальный статус до принятия предложения
// и каскадно закрывает её ожидающие предложения и элемент очереди.
func (s *Requests) closeRequest(ctx context.Context, tx db.Store, r *models.Request, to models.RequestStatus, bidTo models.BidStatus, reason string) ([]models.Bid, error) {
	now := s.now()
	if r.Status.Terminal() || r.Status == models.RequestInProgress {
		return nil, apperr.InvalidState("request is %s and cannot be %s", r.Status, to)
	}
	ok, err := tx.TransitionRequest(ctx, r.ID, models.CancellableRequestStatuses, to, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.InvalidState("request status changed concurrently")
	}
	r.Status, r.UpdatedAt = to, now

	pending, err := tx.ListRequestBidsByStatus(ctx, r.ID, []models.BidStatus{models.BidPending})
	if err != nil {
		return nil, err
	}
	for i := range pending {
		b := &pending[i]
		b.Status = bidTo
		b.UpdatedAt = now
		if bidTo == models.BidCancelled {
			b.CancelledAt, b.CancellationReason = &now, ptr(reason)
		}
		if _, err := tx.TransitionBid(ctx, b, models.BidPending); err != nil {
			return nil, err
		}
	}

	if item, err := tx.GetActiveQueueItem(ctx, r.ID); err == nil {
		if _, err := tx.CancelQueueItem(ctx, item.ID, now); err != nil {
			return nil, err
		}
	} else if !errors.Is(err, db.ErrNotFound) {
		return nil, err
	}

	if err := s.recomputeBidStats(ctx, tx, r.ID); err != nil {
		return nil, err
	}
	return pending, nil
}

// ApplyClassification применяет результат очереди. Вручную назначенная категория
// не перезаписывается; заявка открывается для предложений даже при неудаче.
func (s *Requests) ApplyClassification(ctx context.Context, tx db.Store, requestID int64, c models.Classification) error {
	r, err := tx.LockRequest(ctx, requestID)
	if err != nil {
		return notFound(err, "request")
	}
	if r.Status.Terminal() {
		return nil
	}
	now := s.now()

	switch {
	case c.Succeeded:
		r.SuggestedCategoryID = ptr(c.CategoryID)
		if !r.ManuallyCategorized {
			r.CategoryID = ptr(c.CategoryID)
			r.CategoryConfidence = ptr(c.Confidence)
			r.ClassificationReasoning = c.Reasoning
			r.NeedsReview = c.Confidence < s.settings.MinConfidence
		}
	case !r.ManuallyCategorized:
		r.ClassificationReasoning = c.Reasoning
		r.NeedsReview = true
	}
	r.UpdatedAt = now
	if err := tx.SaveClassification(ctx, r); err != nil {
		return err
	}

	if _, err := tx.TransitionRequest(ctx, r.ID,
		[]models.RequestStatus{models.RequestPendingCategorization}, models.RequestOpenForBids, now); err != nil {
		return err
	}
	s.logger.Info("classification applied",
		"request_id", r.ID,
		"succeeded", c.Succeeded,
		"needs_review", r.NeedsReview,
	)
	return nil
}

// SetCategory ручная категоризация администратором
func (s *Requests) SetCategory(ctx context.Context, actor models.Actor, requestID, categoryID int64) (*models.Request, error) {
	if err := requireRole(actor, models.RoleAdmin); err != nil {
		return nil, err
	}
	if !s.catalog.Contains(categoryID) {
		return nil, apperr.Validation("unknown category %d", categoryID)
	}
	var out *models.Request
	err := s.store.InTx(ctx, func(tx db.Store) error {
		r, err := tx.LockRequest(ctx, requestID)
		if err != nil {
			return notFound(err, "request")
		}
		if r.Status.Terminal() {
			return apperr.InvalidState("request is %s", r.Status)
		}
		now := s.now()
		r.CategoryID = ptr(categoryID)
		r.CategoryConfidence = ptr(1.0)
		r.ManuallyCategorized = true
		r.NeedsReview = false
		r.ClassificationReasoning = fmt.Sprintf("set manually by user %d", actor.ID)
		r.UpdatedAt = now
		if err := tx.SaveClassification(ctx, r); err != nil {
			return err
		}
		ok, err := tx.TransitionRequest(ctx, r.ID,
			[]models.RequestStatus{models.RequestPendingCategorization}, models.RequestOpenForBids, now)
		if err != nil {
			return err
		}
		if ok {
			r.Status = models.RequestOpenForBids
		}
		out = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("request categorized manually", "request_id", requestID, "category_id", categoryID)
	return out, nil
}

// ClassificationHistory журнал попыток классификации
func (s *Requests) ClassificationHistory(ctx context.Context, actor models.Actor, requestID int64) ([]models.CategorizationLog, error) {
	if err := requireRole(actor, models.RoleCustomer, models.RoleAdmin); err != nil {
		return nil, err
	}
	if _, err := s.Get(ctx, actor, requestID); err != nil {
		return nil, err
	}
	return s.store.ListCategorizationLogs(ctx, requestID)
}

// recomputeBidStats пересчитывает агрегаты и переключает open_for_bids <-> bids_received
func (s *Requests) recomputeBidStats(ctx context.Context, tx db.Store, requestID int64) error {
	bids, err := tx.ListRequestBidsByStatus(ctx, requestID, db.ActiveBidStatuses)
	if err != nil {
		return err
	}
	now := s.now()
	stats := bidStats(bids)
	if err := tx.UpdateRequestBidStats(ctx, requestID, stats, now); err != nil {
		return err
	}

	pending := 0
	for _, b := range bids {
		if b.Status == models.BidPending {
			pending++
		}
	}
	if pending > 0 {
		_, err = tx.TransitionRequest(ctx, requestID, []models.RequestStatus{models.RequestOpenForBids}, models.RequestBidsReceived, now)
	} else {
		_, err = tx.TransitionRequest(ctx, requestID, []models.RequestStatus{models.RequestBidsReceived}, models.RequestOpenForBids, now)
	}
	return err
}

func bidStats(bids []models.Bid) models.BidStats {
	st := models.BidStats{Count: len(bids)}
	if len(bids) == 0 {
		return st
	}
	lo, hi, sum := bids[0].Price, bids[0].Price, 0.0
	for _, b := range bids {
		lo = min(lo, b.Price)
		hi = max(hi, b.Price)
		sum += b.Price
	}
	st.Min, st.Max = ptr(lo), ptr(hi)
	st.Avg = ptr(round2(sum / float64(len(bids))))
	return st
}

// ExpireDue переводит просроченные заявки в expired вместе с их ожидающими предложениями
func (s *Requests) ExpireDue(ctx context.Context, batch int) (int, error) {
	due, err := s.store.ListExpiredRequests(ctx, s.now(), batch)
	if err != nil {
		return 0, fmt.Errorf("list expired requests: %w", err)
	}
	expired := 0
	for _, candidate := range due {
		err := s.store.InTx(ctx, func(tx db.Store) error {
			r, err := tx.LockRequest(ctx, candidate.ID)
			if err != nil {
				return err
			}
			if !r.ExpiresAt.Before(s.now()) {
				return nil
			}
			_, err = s.closeRequest(ctx, tx, r, models.RequestExpired, models.BidExpired, "")
			return err
		})
		if err != nil {
			s.logger.Warn("expire request", "request_id", candidate.ID, "err", err)
			continue
		}
		expired++
	}
	if expired > 0 {
		s.logger.Info("requests expired", "count", expired)
	}
	return expired, nil
}

func roundPtr(v *float64) *float64 {
	if v == nil {
		return nil
	}
	return ptr(round2(*v))
}

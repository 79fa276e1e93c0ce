package db

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"
	"time"

	"orderbroker/models"
)

// MemoryStorage хранит данные в памяти процесса (storage: memory и тесты).
// Все операции сериализуются одним мьютексом; InTx работает на копии состояния
// и подменяет его только при успешном завершении fn.
type MemoryStorage struct {
	mu    sync.Mutex
	state *memState
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{state: newMemState()}
}

type memState struct {
	seq      int64
	requests map[int64]models.Request
	bids     map[int64]models.Bid
	orders   map[int64]models.Order
	history  map[int64]models.OrderStatusHistory
	updates  map[int64]models.OrderUpdate
	queue    map[int64]models.QueueItem
	logs     map[int64]models.CategorizationLog
}

func newMemState() *memState {
	return &memState{
		requests: make(map[int64]models.Request),
		bids:     make(map[int64]models.Bid),
		orders:   make(map[int64]models.Order),
		history:  make(map[int64]models.OrderStatusHistory),
		updates:  make(map[int64]models.OrderUpdate),
		queue:    make(map[int64]models.QueueItem),
		logs:     make(map[int64]models.CategorizationLog),
	}
}

func (s *memState) clone() *memState {
	return &memState{
		seq:      s.seq,
		requests: maps.Clone(s.requests),
		bids:     maps.Clone(s.bids),
		orders:   maps.Clone(s.orders),
		history:  maps.Clone(s.history),
		updates:  maps.Clone(s.updates),
		queue:    maps.Clone(s.queue),
		logs:     maps.Clone(s.logs),
	}
}

func (s *memState) nextID() int64 {
	s.seq++
	return s.seq
}

func (m *MemoryStorage) InTx(ctx context.Context, fn func(Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	work := m.state.clone()
	if err := fn(work); err != nil {
		return err
	}
	m.state = work
	return nil
}

func (s *memState) InTx(ctx context.Context, fn func(Store) error) error {
	return fn(s)
}

// locked выполняет одиночную операцию под мьютексом
func locked[T any](m *MemoryStorage, fn func(*memState) (T, error)) (T, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(m.state)
}

func page[T any](in []T, limit, offset int) []T {
	if offset >= len(in) {
		return []T{}
	}
	in = in[offset:]
	if limit > 0 && limit < len(in) {
		in = in[:limit]
	}
	return in
}

// Request

func (s *memState) CreateRequest(ctx context.Context, r *models.Request) error {
	r.ID = s.nextID()
	r.UpdatedAt = r.CreatedAt
	s.requests[r.ID] = *r
	return nil
}

func (s *memState) GetRequest(ctx context.Context, id int64) (*models.Request, error) {
	r, ok := s.requests[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &r, nil
}

func (s *memState) LockRequest(ctx context.Context, id int64) (*models.Request, error) {
	return s.GetRequest(ctx, id)
}

func (s *memState) ListRequests(ctx context.Context, f models.RequestFilter) ([]models.Request, error) {
	out := []models.Request{}
	for _, r := range s.requests {
		if len(f.Statuses) > 0 && !containsStatus(f.Statuses, r.Status) {
			continue
		}
		if f.CategoryID != nil && (r.CategoryID == nil || *r.CategoryID != *f.CategoryID) {
			continue
		}
		if f.CustomerID != nil && r.CustomerID != *f.CustomerID {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return page(out, f.Limit, f.Offset), nil
}

func (s *memState) TransitionRequest(ctx context.Context, id int64, from []models.RequestStatus, to models.RequestStatus, at time.Time) (bool, error) {
	r, ok := s.requests[id]
	if !ok || !containsStatus(from, r.Status) {
		return false, nil
	}
	r.Status = to
	r.UpdatedAt = at
	s.requests[id] = r
	return true, nil
}

func (s *memState) SaveClassification(ctx context.Context, in *models.Request) error {
	r, ok := s.requests[in.ID]
	if !ok {
		return ErrNotFound
	}
	r.CategoryID = in.CategoryID
	r.CategoryConfidence = in.CategoryConfidence
	r.SuggestedCategoryID = in.SuggestedCategoryID
	r.ClassificationReasoning = in.ClassificationReasoning
	r.ManuallyCategorized = in.ManuallyCategorized
	r.NeedsReview = in.NeedsReview
	r.UpdatedAt = in.UpdatedAt
	s.requests[in.ID] = r
	return nil
}

func (s *memState) UpdateRequestBidStats(ctx context.Context, id int64, stats models.BidStats, at time.Time) error {
	r, ok := s.requests[id]
	if !ok {
		return ErrNotFound
	}
	r.BidCount = stats.Count
	r.MinBid, r.MaxBid, r.AvgBid = stats.Min, stats.Max, stats.Avg
	r.UpdatedAt = at
	s.requests[id] = r
	return nil
}

func (s *memState) ListExpiredRequests(ctx context.Context, now time.Time, limit int) ([]models.Request, error) {
	out := []models.Request{}
	for _, r := range s.requests {
		if r.ExpiresAt.Before(now) && containsStatus(models.CancellableRequestStatuses, r.Status) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	return page(out, limit, 0), nil
}

// Bid

func (s *memState) CreateBid(ctx context.Context, b *models.Bid) error {
	if b.Status == models.BidPending {
		for _, other := range s.bids {
			if other.RequestID == b.RequestID && other.SupplierID == b.SupplierID && other.Status == models.BidPending {
				return fmt.Errorf("%w: bids_one_pending_per_supplier", ErrDuplicate)
			}
		}
	}
	b.ID = s.nextID()
	b.UpdatedAt = b.CreatedAt
	s.bids[b.ID] = *b
	return nil
}

func (s *memState) GetBid(ctx context.Context, id int64) (*models.Bid, error) {
	b, ok := s.bids[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &b, nil
}

func (s *memState) LockBid(ctx context.Context, id int64) (*models.Bid, error) {
	return s.GetBid(ctx, id)
}

func (s *memState) sortedBids(keep func(models.Bid) bool) []models.Bid {
	out := []models.Bid{}
	for _, b := range s.bids {
		if keep(b) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out
}

func (s *memState) ListBidsByRequest(ctx context.Context, requestID int64, limit, offset int) ([]models.Bid, error) {
	out := s.sortedBids(func(b models.Bid) bool { return b.RequestID == requestID })
	return page(out, limit, offset), nil
}

func (s *memState) ListBidsBySupplier(ctx context.Context, supplierID int64, limit, offset int) ([]models.Bid, error) {
	out := s.sortedBids(func(b models.Bid) bool { return b.SupplierID == supplierID })
	return page(out, limit, offset), nil
}

func (s *memState) ListRequestBidsByStatus(ctx context.Context, requestID int64, statuses []models.BidStatus) ([]models.Bid, error) {
	out := s.sortedBids(func(b models.Bid) bool {
		return b.RequestID == requestID && containsStatus(statuses, b.Status)
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memState) HasPendingBid(ctx context.Context, requestID, supplierID int64) (bool, error) {
	for _, b := range s.bids {
		if b.RequestID == requestID && b.SupplierID == supplierID && b.Status == models.BidPending {
			return true, nil
		}
	}
	return false, nil
}

func (s *memState) TransitionBid(ctx context.Context, in *models.Bid, from models.BidStatus) (bool, error) {
	b, ok := s.bids[in.ID]
	if !ok || b.Status != from {
		return false, nil
	}
	if in.Status == models.BidAccepted {
		for _, other := range s.bids {
			if other.RequestID == b.RequestID && other.ID != b.ID && other.Status == models.BidAccepted {
				return false, fmt.Errorf("%w: bids_one_accepted_per_request", ErrDuplicate)
			}
		}
	}
	b.Status = in.Status
	b.AcceptedAt, b.RejectedAt, b.RejectionReason = in.AcceptedAt, in.RejectedAt, in.RejectionReason
	b.CancelledAt, b.CancellationReason = in.CancelledAt, in.CancellationReason
	b.UpdatedAt = in.UpdatedAt
	s.bids[b.ID] = b
	return true, nil
}

func (s *memState) ListExpiredBids(ctx context.Context, now time.Time, limit int) ([]models.Bid, error) {
	out := s.sortedBids(func(b models.Bid) bool {
		return b.Status == models.BidPending && b.ExpiresAt.Before(now)
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	return page(out, limit, 0), nil
}

// Order

func (s *memState) CreateOrder(ctx context.Context, o *models.Order) error {
	for _, other := range s.orders {
		if other.BidID == o.BidID {
			return fmt.Errorf("%w: orders_bid_id_key", ErrDuplicate)
		}
	}
	o.ID = s.nextID()
	o.UpdatedAt = o.CreatedAt
	s.orders[o.ID] = *o
	return nil
}

func (s *memState) GetOrder(ctx context.Context, id int64) (*models.Order, error) {
	o, ok := s.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &o, nil
}

func (s *memState) LockOrder(ctx context.Context, id int64) (*models.Order, error) {
	return s.GetOrder(ctx, id)
}

func (s *memState) ListOrders(ctx context.Context, f models.OrderFilter) ([]models.Order, error) {
	out := []models.Order{}
	for _, o := range s.orders {
		if f.CustomerID != nil && o.CustomerID != *f.CustomerID {
			continue
		}
		if f.SupplierID != nil && o.SupplierID != *f.SupplierID {
			continue
		}
		if f.Status != nil && o.Status != *f.Status {
			continue
		}
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return page(out, f.Limit, f.Offset), nil
}

func (s *memState) TransitionOrder(ctx context.Context, in *models.Order, from models.OrderStatus) (bool, error) {
	o, ok := s.orders[in.ID]
	if !ok || o.Status != from {
		return false, nil
	}
	// неизменяемые поля (сумма, комиссия, стороны) не копируются
	o.Status = in.Status
	o.TrackingNumber, o.Carrier, o.EstimatedDelivery = in.TrackingNumber, in.Carrier, in.EstimatedDelivery
	o.ShippedAt, o.DeliveredAt, o.DeliveryConfirmedAt = in.ShippedAt, in.DeliveredAt, in.DeliveryConfirmedAt
	o.CompletedAt, o.CancelledAt, o.CancellationReason = in.CompletedAt, in.CancelledAt, in.CancellationReason
	o.DisputeReason = in.DisputeReason
	o.CustomerNotes, o.SupplierNotes = in.CustomerNotes, in.SupplierNotes
	o.UpdatedAt = in.UpdatedAt
	s.orders[o.ID] = o
	return true, nil
}

func (s *memState) AddOrderHistory(ctx context.Context, h *models.OrderStatusHistory) error {
	h.ID = s.nextID()
	s.history[h.ID] = *h
	return nil
}

func (s *memState) ListOrderHistory(ctx context.Context, orderID int64) ([]models.OrderStatusHistory, error) {
	out := []models.OrderStatusHistory{}
	for _, h := range s.history {
		if h.OrderID == orderID {
			out = append(out, h)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memState) AddOrderUpdate(ctx context.Context, u *models.OrderUpdate) error {
	u.ID = s.nextID()
	s.updates[u.ID] = *u
	return nil
}

func (s *memState) ListOrderUpdates(ctx context.Context, orderID int64) ([]models.OrderUpdate, error) {
	out := []models.OrderUpdate{}
	for _, u := range s.updates {
		if u.OrderID == orderID {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memState) Earnings(ctx context.Context, supplierID *int64) (models.Earnings, error) {
	var e models.Earnings
	if supplierID != nil {
		e.SupplierID = *supplierID
	}
	for _, o := range s.orders {
		if o.Status != models.OrderCompleted {
			continue
		}
		if supplierID != nil && o.SupplierID != *supplierID {
			continue
		}
		e.CompletedOrders++
		e.GrossAmount += o.TotalAmount
		e.CommissionAmount += o.CommissionAmount
		e.NetEarnings += o.SupplierEarnings
	}
	return e, nil
}

// CategorizationQueue

func (s *memState) CreateQueueItem(ctx context.Context, it *models.QueueItem) error {
	for _, other := range s.queue {
		if other.RequestID == it.RequestID && other.Status.Active() {
			return fmt.Errorf("%w: categorization_queue_one_active_per_request", ErrDuplicate)
		}
	}
	it.ID = s.nextID()
	it.UpdatedAt = it.CreatedAt
	s.queue[it.ID] = *it
	return nil
}

func (s *memState) GetQueueItem(ctx context.Context, id int64) (*models.QueueItem, error) {
	it, ok := s.queue[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &it, nil
}

func (s *memState) GetActiveQueueItem(ctx context.Context, requestID int64) (*models.QueueItem, error) {
	for _, it := range s.queue {
		if it.RequestID == requestID && it.Status.Active() {
			return &it, nil
		}
	}
	return nil, ErrNotFound
}

func (s *memState) SetQueueItemPriority(ctx context.Context, id int64, p models.Priority, at time.Time) (bool, error) {
	it, ok := s.queue[id]
	if !ok || !it.Status.Active() {
		return false, nil
	}
	it.Priority = p
	it.UpdatedAt = at
	s.queue[id] = it
	return true, nil
}

func (s *memState) sortedQueue(keep func(models.QueueItem) bool) []models.QueueItem {
	out := []models.QueueItem{}
	for _, it := range s.queue {
		if keep(it) {
			out = append(out, it)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Priority.Rank() != b.Priority.Rank() {
			return a.Priority.Rank() > b.Priority.Rank()
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return out
}

func (s *memState) ListDueQueueItems(ctx context.Context, now time.Time, limit int) ([]models.QueueItem, error) {
	out := s.sortedQueue(func(it models.QueueItem) bool {
		return it.Status == models.QueuePending && !it.NextAttemptAt.After(now)
	})
	return page(out, limit, 0), nil
}

func (s *memState) ListQueueItems(ctx context.Context, status *models.QueueStatus, limit, offset int) ([]models.QueueItem, error) {
	out := s.sortedQueue(func(it models.QueueItem) bool {
		return status == nil || it.Status == *status
	})
	return page(out, limit, offset), nil
}

func (s *memState) ClaimQueueItem(ctx context.Context, id int64, token string, at time.Time) (*models.QueueItem, bool, error) {
	it, ok := s.queue[id]
	if !ok || it.Status != models.QueuePending {
		return nil, false, nil
	}
	it.Status = models.QueueProcessing
	it.Attempts++
	it.ClaimToken = &token
	it.StartedAt = &at
	it.UpdatedAt = at
	s.queue[id] = it
	return &it, true, nil
}

func (s *memState) CompleteQueueItem(ctx context.Context, id int64, token string, at time.Time) (bool, error) {
	it, ok := s.queue[id]
	if !ok || it.Status != models.QueueProcessing || it.ClaimToken == nil || *it.ClaimToken != token {
		return false, nil
	}
	it.Status = models.QueueCompleted
	it.LastError = nil
	it.ClaimToken = nil
	it.CompletedAt = &at
	it.UpdatedAt = at
	s.queue[id] = it
	return true, nil
}

func (s *memState) ReleaseQueueItem(ctx context.Context, id int64, token string, to models.QueueStatus, lastError string, nextAttemptAt, at time.Time) (bool, error) {
	it, ok := s.queue[id]
	if !ok || it.Status != models.QueueProcessing || it.ClaimToken == nil || *it.ClaimToken != token {
		return false, nil
	}
	it.Status = to
	it.LastError = &lastError
	it.ClaimToken = nil
	it.NextAttemptAt = nextAttemptAt
	it.UpdatedAt = at
	s.queue[id] = it
	return true, nil
}

func (s *memState) CancelQueueItem(ctx context.Context, id int64, at time.Time) (bool, error) {
	it, ok := s.queue[id]
	if !ok || !it.Status.Active() {
		return false, nil
	}
	it.Status = models.QueueCancelled
	it.ClaimToken = nil
	it.UpdatedAt = at
	s.queue[id] = it
	return true, nil
}

func (s *memState) RetryFailedQueueItems(ctx context.Context, at time.Time) (int64, error) {
	var n int64
	for id, it := range s.queue {
		if it.Status != models.QueueFailed {
			continue
		}
		it.Status = models.QueuePending
		it.NextAttemptAt = at
		it.UpdatedAt = at
		s.queue[id] = it
		n++
	}
	return n, nil
}

func (s *memState) ListStaleQueueItems(ctx context.Context, startedBefore time.Time) ([]models.QueueItem, error) {
	out := s.sortedQueue(func(it models.QueueItem) bool {
		return it.Status == models.QueueProcessing && it.StartedAt != nil && it.StartedAt.Before(startedBefore)
	})
	return out, nil
}

func (s *memState) QueueStats(ctx context.Context) (models.QueueStats, error) {
	var st models.QueueStats
	for _, it := range s.queue {
		switch it.Status {
		case models.QueuePending:
			st.Pending++
		case models.QueueProcessing:
			st.Processing++
		case models.QueueCompleted:
			st.Completed++
		case models.QueueFailed:
			st.Failed++
		case models.QueueCancelled:
			st.Cancelled++
		}
	}
	return st, nil
}

func (s *memState) AddCategorizationLog(ctx context.Context, l *models.CategorizationLog) error {
	l.ID = s.nextID()
	s.logs[l.ID] = *l
	return nil
}

func (s *memState) ListCategorizationLogs(ctx context.Context, requestID int64) ([]models.CategorizationLog, error) {
	out := []models.CategorizationLog{}
	for _, l := range s.logs {
		if l.RequestID == requestID {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func containsStatus[T comparable](set []T, v T) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

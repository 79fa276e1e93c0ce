package db

import (
	"context"
	"time"

	"orderbroker/models"
)

var (
	_ Store = (*Storage)(nil)
	_ Store = (*MemoryStorage)(nil)
	_ Store = (*memState)(nil)
)

func (m *MemoryStorage) CreateRequest(ctx context.Context, r *models.Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.CreateRequest(ctx, r)
}

func (m *MemoryStorage) GetRequest(ctx context.Context, id int64) (*models.Request, error) {
	return locked(m, func(s *memState) (*models.Request, error) {
		return s.GetRequest(ctx, id)
	})
}

func (m *MemoryStorage) LockRequest(ctx context.Context, id int64) (*models.Request, error) {
	return locked(m, func(s *memState) (*models.Request, error) {
		return s.LockRequest(ctx, id)
	})
}

func (m *MemoryStorage) ListRequests(ctx context.Context, f models.RequestFilter) ([]models.Request, error) {
	return locked(m, func(s *memState) ([]models.Request, error) {
		return s.ListRequests(ctx, f)
	})
}

func (m *MemoryStorage) TransitionRequest(ctx context.Context, id int64, from []models.RequestStatus, to models.RequestStatus, at time.Time) (bool, error) {
	return locked(m, func(s *memState) (bool, error) {
		return s.TransitionRequest(ctx, id, from, to, at)
	})
}

func (m *MemoryStorage) SaveClassification(ctx context.Context, r *models.Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.SaveClassification(ctx, r)
}

func (m *MemoryStorage) UpdateRequestBidStats(ctx context.Context, id int64, stats models.BidStats, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.UpdateRequestBidStats(ctx, id, stats, at)
}

func (m *MemoryStorage) ListExpiredRequests(ctx context.Context, now time.Time, limit int) ([]models.Request, error) {
	return locked(m, func(s *memState) ([]models.Request, error) {
		return s.ListExpiredRequests(ctx, now, limit)
	})
}

func (m *MemoryStorage) CreateBid(ctx context.Context, b *models.Bid) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.CreateBid(ctx, b)
}

func (m *MemoryStorage) GetBid(ctx context.Context, id int64) (*models.Bid, error) {
	return locked(m, func(s *memState) (*models.Bid, error) {
		return s.GetBid(ctx, id)
	})
}

func (m *MemoryStorage) LockBid(ctx context.Context, id int64) (*models.Bid, error) {
	return locked(m, func(s *memState) (*models.Bid, error) {
		return s.LockBid(ctx, id)
	})
}

func (m *MemoryStorage) ListBidsByRequest(ctx context.Context, requestID int64, limit, offset int) ([]models.Bid, error) {
	return locked(m, func(s *memState) ([]models.Bid, error) {
		return s.ListBidsByRequest(ctx, requestID, limit, offset)
	})
}

func (m *MemoryStorage) ListBidsBySupplier(ctx context.Context, supplierID int64, limit, offset int) ([]models.Bid, error) {
	return locked(m, func(s *memState) ([]models.Bid, error) {
		return s.ListBidsBySupplier(ctx, supplierID, limit, offset)
	})
}

func (m *MemoryStorage) ListRequestBidsByStatus(ctx context.Context, requestID int64, statuses []models.BidStatus) ([]models.Bid, error) {
	return locked(m, func(s *memState) ([]models.Bid, error) {
		return s.ListRequestBidsByStatus(ctx, requestID, statuses)
	})
}

func (m *MemoryStorage) HasPendingBid(ctx context.Context, requestID, supplierID int64) (bool, error) {
	return locked(m, func(s *memState) (bool, error) {
		return s.HasPendingBid(ctx, requestID, supplierID)
	})
}

func (m *MemoryStorage) TransitionBid(ctx context.Context, b *models.Bid, from models.BidStatus) (bool, error) {
	return locked(m, func(s *memState) (bool, error) {
		return s.TransitionBid(ctx, b, from)
	})
}

func (m *MemoryStorage) ListExpiredBids(ctx context.Context, now time.Time, limit int) ([]models.Bid, error) {
	return locked(m, func(s *memState) ([]models.Bid, error) {
		return s.ListExpiredBids(ctx, now, limit)
	})
}

func (m *MemoryStorage) CreateOrder(ctx context.Context, o *models.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.CreateOrder(ctx, o)
}

func (m *MemoryStorage) GetOrder(ctx context.Context, id int64) (*models.Order, error) {
	return locked(m, func(s *memState) (*models.Order, error) {
		return s.GetOrder(ctx, id)
	})
}

func (m *MemoryStorage) LockOrder(ctx context.Context, id int64) (*models.Order, error) {
	return locked(m, func(s *memState) (*models.Order, error) {
		return s.LockOrder(ctx, id)
	})
}

func (m *MemoryStorage) ListOrders(ctx context.Context, f models.OrderFilter) ([]models.Order, error) {
	return locked(m, func(s *memState) ([]models.Order, error) {
		return s.ListOrders(ctx, f)
	})
}

func (m *MemoryStorage) TransitionOrder(ctx context.Context, o *models.Order, from models.OrderStatus) (bool, error) {
	return locked(m, func(s *memState) (bool, error) {
		return s.TransitionOrder(ctx, o, from)
	})
}

func (m *MemoryStorage) AddOrderHistory(ctx context.Context, h *models.OrderStatusHistory) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.AddOrderHistory(ctx, h)
}

func (m *MemoryStorage) ListOrderHistory(ctx context.Context, orderID int64) ([]models.OrderStatusHistory, error) {
	return locked(m, func(s *memState) ([]models.OrderStatusHistory, error) {
		return s.ListOrderHistory(ctx, orderID)
	})
}

func (m *MemoryStorage) AddOrderUpdate(ctx context.Context, u *models.OrderUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.AddOrderUpdate(ctx, u)
}

func (m *MemoryStorage) ListOrderUpdates(ctx context.Context, orderID int64) ([]models.OrderUpdate, error) {
	return locked(m, func(s *memState) ([]models.OrderUpdate, error) {
		return s.ListOrderUpdates(ctx, orderID)
	})
}

func (m *MemoryStorage) Earnings(ctx context.Context, supplierID *int64) (models.Earnings, error) {
	return locked(m, func(s *memState) (models.Earnings, error) {
		return s.Earnings(ctx, supplierID)
	})
}

func (m *MemoryStorage) CreateQueueItem(ctx context.Context, it *models.QueueItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.CreateQueueItem(ctx, it)
}

func (m *MemoryStorage) GetQueueItem(ctx context.Context, id int64) (*models.QueueItem, error) {
	return locked(m, func(s *memState) (*models.QueueItem, error) {
		return s.GetQueueItem(ctx, id)
	})
}

func (m *MemoryStorage) GetActiveQueueItem(ctx context.Context, requestID int64) (*models.QueueItem, error) {
	return locked(m, func(s *memState) (*models.QueueItem, error) {
		return s.GetActiveQueueItem(ctx, requestID)
	})
}

func (m *MemoryStorage) SetQueueItemPriority(ctx context.Context, id int64, p models.Priority, at time.Time) (bool, error) {
	return locked(m, func(s *memState) (bool, error) {
		return s.SetQueueItemPriority(ctx, id, p, at)
	})
}

func (m *MemoryStorage) ListDueQueueItems(ctx context.Context, now time.Time, limit int) ([]models.QueueItem, error) {
	return locked(m, func(s *memState) ([]models.QueueItem, error) {
		return s.ListDueQueueItems(ctx, now, limit)
	})
}

func (m *MemoryStorage) ListQueueItems(ctx context.Context, status *models.QueueStatus, limit, offset int) ([]models.QueueItem, error) {
	return locked(m, func(s *memState) ([]models.QueueItem, error) {
		return s.ListQueueItems(ctx, status, limit, offset)
	})
}

func (m *MemoryStorage) ClaimQueueItem(ctx context.Context, id int64, token string, at time.Time) (*models.QueueItem, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.ClaimQueueItem(ctx, id, token, at)
}

func (m *MemoryStorage) CompleteQueueItem(ctx context.Context, id int64, token string, at time.Time) (bool, error) {
	return locked(m, func(s *memState) (bool, error) {
		return s.CompleteQueueItem(ctx, id, token, at)
	})
}

func (m *MemoryStorage) ReleaseQueueItem(ctx context.Context, id int64, token string, to models.QueueStatus, lastError string, nextAttemptAt, at time.Time) (bool, error) {
	return locked(m, func(s *memState) (bool, error) {
		return s.ReleaseQueueItem(ctx, id, token, to, lastError, nextAttemptAt, at)
	})
}

func (m *MemoryStorage) CancelQueueItem(ctx context.Context, id int64, at time.Time) (bool, error) {
	return locked(m, func(s *memState) (bool, error) {
		return s.CancelQueueItem(ctx, id, at)
	})
}

func (m *MemoryStorage) RetryFailedQueueItems(ctx context.Context, at time.Time) (int64, error) {
	return locked(m, func(s *memState) (int64, error) {
		return s.RetryFailedQueueItems(ctx, at)
	})
}

func (m *MemoryStorage) ListStaleQueueItems(ctx context.Context, startedBefore time.Time) ([]models.QueueItem, error) {
	return locked(m, func(s *memState) ([]models.QueueItem, error) {
		return s.ListStaleQueueItems(ctx, startedBefore)
	})
}

func (m *MemoryStorage) QueueStats(ctx context.Context) (models.QueueStats, error) {
	return locked(m, func(s *memState) (models.QueueStats, error) {
		return s.QueueStats(ctx)
	})
}

func (m *MemoryStorage) AddCategorizationLog(ctx context.Context, l *models.CategorizationLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.AddCategorizationLog(ctx, l)
}

func (m *MemoryStorage) ListCategorizationLogs(ctx context.Context, requestID int64) ([]models.CategorizationLog, error) {
	return locked(m, func(s *memState) ([]models.CategorizationLog, error) {
		return s.ListCategorizationLogs(ctx, requestID)
	})
}

package db

import (
	"context"
	"time"

	"orderbroker/internal/apperr"
	"orderbroker/models"
)

// Общие ошибки хранилища; сервисы уточняют сообщение
var (
	ErrNotFound  = apperr.NotFound("record not found")
	ErrDuplicate = apperr.Conflict("duplicate record")
)

// Store операции хранилища, которые нужны жизненным циклам и очереди.
// Методы Transition*/Claim*/Release* - условные обновления по текущему статусу:
// они возвращают false, если строка уже не в ожидаемом состоянии.
type Store interface {
	// InTx выполняет fn атомарно; ошибка из fn откатывает все изменения
	InTx(ctx context.Context, fn func(Store) error) error

	CreateRequest(ctx context.Context, r *models.Request) error
	GetRequest(ctx context.Context, id int64) (*models.Request, error)
	LockRequest(ctx context.Context, id int64) (*models.Request, error)
	ListRequests(ctx context.Context, f models.RequestFilter) ([]models.Request, error)
	TransitionRequest(ctx context.Context, id int64, from []models.RequestStatus, to models.RequestStatus, at time.Time) (bool, error)
	SaveClassification(ctx context.Context, r *models.Request) error
	UpdateRequestBidStats(ctx context.Context, id int64, stats models.BidStats, at time.Time) error
	ListExpiredRequests(ctx context.Context, now time.Time, limit int) ([]models.Request, error)

	CreateBid(ctx context.Context, b *models.Bid) error
	GetBid(ctx context.Context, id int64) (*models.Bid, error)
	LockBid(ctx context.Context, id int64) (*models.Bid, error)
	ListBidsByRequest(ctx context.Context, requestID int64, limit, offset int) ([]models.Bid, error)
	ListBidsBySupplier(ctx context.Context, supplierID int64, limit, offset int) ([]models.Bid, error)
	ListRequestBidsByStatus(ctx context.Context, requestID int64, statuses []models.BidStatus) ([]models.Bid, error)
	HasPendingBid(ctx context.Context, requestID, supplierID int64) (bool, error)
	TransitionBid(ctx context.Context, b *models.Bid, from models.BidStatus) (bool, error)
	ListExpiredBids(ctx context.Context, now time.Time, limit int) ([]models.Bid, error)

	CreateOrder(ctx context.Context, o *models.Order) error
	GetOrder(ctx context.Context, id int64) (*models.Order, error)
	LockOrder(ctx context.Context, id int64) (*models.Order, error)
	ListOrders(ctx context.Context, f models.OrderFilter) ([]models.Order, error)
	TransitionOrder(ctx context.Context, o *models.Order, from models.OrderStatus) (bool, error)
	AddOrderHistory(ctx context.Context, h *models.OrderStatusHistory) error
	ListOrderHistory(ctx context.Context, orderID int64) ([]models.OrderStatusHistory, error)
	AddOrderUpdate(ctx context.Context, u *models.OrderUpdate) error
	ListOrderUpdates(ctx context.Context, orderID int64) ([]models.OrderUpdate, error)
	Earnings(ctx context.Context, supplierID *int64) (models.Earnings, error)

	CreateQueueItem(ctx context.Context, it *models.QueueItem) error
	GetQueueItem(ctx context.Context, id int64) (*models.QueueItem, error)
	GetActiveQueueItem(ctx context.Context, requestID int64) (*models.QueueItem, error)
	SetQueueItemPriority(ctx context.Context, id int64, p models.Priority, at time.Time) (bool, error)
	ListDueQueueItems(ctx context.Context, now time.Time, limit int) ([]models.QueueItem, error)
	ListQueueItems(ctx context.Context, status *models.QueueStatus, limit, offset int) ([]models.QueueItem, error)
	ClaimQueueItem(ctx context.Context, id int64, token string, at time.Time) (*models.QueueItem, bool, error)
	CompleteQueueItem(ctx context.Context, id int64, token string, at time.Time) (bool, error)
	ReleaseQueueItem(ctx context.Context, id int64, token string, to models.QueueStatus, lastError string, nextAttemptAt, at time.Time) (bool, error)
	CancelQueueItem(ctx context.Context, id int64, at time.Time) (bool, error)
	RetryFailedQueueItems(ctx context.Context, at time.Time) (int64, error)
	ListStaleQueueItems(ctx context.Context, startedBefore time.Time) ([]models.QueueItem, error)
	QueueStats(ctx context.Context) (models.QueueStats, error)
	AddCategorizationLog(ctx context.Context, l *models.CategorizationLog) error
	ListCategorizationLogs(ctx context.Context, requestID int64) ([]models.CategorizationLog, error)
}

// ActiveBidStatuses предложения, учитываемые в агрегатах заявки
var ActiveBidStatuses = []models.BidStatus{models.BidPending, models.BidAccepted}

package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"orderbroker/db"
	"orderbroker/internal/apperr"
	"orderbroker/internal/catalog"
	"orderbroker/internal/classifier"
	"orderbroker/internal/queue"
	"orderbroker/internal/service"
	"orderbroker/models"

	"github.com/stretchr/testify/require"
)

// порядок блокировок, общий для всех транзакций
var lockRank = map[string]int{"request": 0, "bid": 1, "order": 2, "queue": 3}

type lockLog struct {
	mu  sync.Mutex
	txs [][]string
}

func (l *lockLog) begin() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.txs = append(l.txs, nil)
	return len(l.txs) - 1
}

func (l *lockLog) add(tx int, kind string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.txs[tx] = append(l.txs[tx], kind)
}

// lockRecorder записывает, какие строки транзакция блокирует или изменяет
type lockRecorder struct {
	db.Store
	log *lockLog
	tx  int
}

func newLockRecorder(inner db.Store) *lockRecorder {
	return &lockRecorder{Store: inner, log: &lockLog{}, tx: -1}
}

func (r *lockRecorder) touch(kind string) {
	if r.tx >= 0 {
		r.log.add(r.tx, kind)
	}
}

func (r *lockRecorder) InTx(ctx context.Context, fn func(db.Store) error) error {
	if r.tx >= 0 {
		return fn(r)
	}
	return r.Store.InTx(ctx, func(inner db.Store) error {
		return fn(&lockRecorder{Store: inner, log: r.log, tx: r.log.begin()})
	})
}

func (r *lockRecorder) CreateRequest(ctx context.Context, req *models.Request) error {
	r.touch("request")
	return r.Store.CreateRequest(ctx, req)
}

func (r *lockRecorder) LockRequest(ctx context.Context, id int64) (*models.Request, error) {
	r.touch("request")
	return r.Store.LockRequest(ctx, id)
}

func (r *lockRecorder) TransitionRequest(ctx context.Context, id int64, from []models.RequestStatus, to models.RequestStatus, at time.Time) (bool, error) {
	r.touch("request")
	return r.Store.TransitionRequest(ctx, id, from, to, at)
}

func (r *lockRecorder) UpdateRequestBidStats(ctx context.Context, id int64, stats models.BidStats, at time.Time) error {
	r.touch("request")
	return r.Store.UpdateRequestBidStats(ctx, id, stats, at)
}

func (r *lockRecorder) LockBid(ctx context.Context, id int64) (*models.Bid, error) {
	r.touch("bid")
	return r.Store.LockBid(ctx, id)
}

func (r *lockRecorder) CreateBid(ctx context.Context, b *models.Bid) error {
	r.touch("bid")
	return r.Store.CreateBid(ctx, b)
}

func (r *lockRecorder) ListRequestBidsByStatus(ctx context.Context, requestID int64, statuses []models.BidStatus) ([]models.Bid, error) {
	r.touch("bid")
	return r.Store.ListRequestBidsByStatus(ctx, requestID, statuses)
}

func (r *lockRecorder) TransitionBid(ctx context.Context, b *models.Bid, from models.BidStatus) (bool, error) {
	r.touch("bid")
	return r.Store.TransitionBid(ctx, b, from)
}

func (r *lockRecorder) CreateOrder(ctx context.Context, o *models.Order) error {
	r.touch("order")
	return r.Store.CreateOrder(ctx, o)
}

func (r *lockRecorder) LockOrder(ctx context.Context, id int64) (*models.Order, error) {
	r.touch("order")
	return r.Store.LockOrder(ctx, id)
}

func (r *lockRecorder) TransitionOrder(ctx context.Context, o *models.Order, from models.OrderStatus) (bool, error) {
	r.touch("order")
	return r.Store.TransitionOrder(ctx, o, from)
}

func (r *lockRecorder) GetActiveQueueItem(ctx context.Context, requestID int64) (*models.QueueItem, error) {
	r.touch("queue")
	return r.Store.GetActiveQueueItem(ctx, requestID)
}

func (r *lockRecorder) CompleteQueueItem(ctx context.Context, id int64, token string, at time.Time) (bool, error) {
	r.touch("queue")
	return r.Store.CompleteQueueItem(ctx, id, token, at)
}

func (r *lockRecorder) ReleaseQueueItem(ctx context.Context, id int64, token string, to models.QueueStatus, lastError string, nextAttemptAt, at time.Time) (bool, error) {
	r.touch("queue")
	return r.Store.ReleaseQueueItem(ctx, id, token, to, lastError, nextAttemptAt, at)
}

func (r *lockRecorder) CancelQueueItem(ctx context.Context, id int64, at time.Time) (bool, error) {
	r.touch("queue")
	return r.Store.CancelQueueItem(ctx, id, at)
}

// requireLockOrder первое обращение к каждому виду строк идёт по возрастанию ранга
func requireLockOrder(t *testing.T, log *lockLog) {
	t.Helper()
	log.mu.Lock()
	defer log.mu.Unlock()
	require.NotEmpty(t, log.txs)
	for i, seq := range log.txs {
		seen := map[string]bool{}
		last := -1
		for _, kind := range seq {
			if seen[kind] {
				continue
			}
			seen[kind] = true
			require.Greater(t, lockRank[kind], last, "transaction %d locks out of order: %v", i, seq)
			last = lockRank[kind]
		}
	}
}

func TestTransactionsLockRequestBeforeBidsOrdersAndQueue(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	rec := newLockRecorder(e.store)
	svc := service.New(rec, catalog.Default(), e.notes, service.Settings{
		CommissionRate: 0.10,
		BidTTL:         7 * 24 * time.Hour,
		RequestTTL:     30 * 24 * time.Hour,
		MinConfidence:  0.6,
	}, nil).WithClock(e.clock.Now)
	newProcessor := func(cls classifier.Classifier) *queue.Processor {
		return queue.NewProcessor(rec, cls, catalog.Default(), svc.Requests, queue.Options{MaxAttempts: 1}, nil).
			WithClock(e.clock.Now)
	}
	payload := models.CreateRequestPayload{Title: "Steel brackets", Description: "Powder coated steel brackets"}

	// классификация: успех и неустранимый сбой
	r1, err := svc.Requests.Create(ctx, customer, payload)
	require.NoError(t, err)
	sum, err := newProcessor(&stubClassifier{result: &classifier.Result{CategoryID: 7, Confidence: 0.9}}).Drain(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, 1, sum.Succeeded)

	r2, err := svc.Requests.Create(ctx, customer, payload)
	require.NoError(t, err)
	sum, err = newProcessor(&stubClassifier{err: apperr.Fatal(nil, "bad api key")}).Drain(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, 1, sum.Exhausted)

	// предложения: отзыв, повторная подача, принятие с отклонением соседнего
	a, err := svc.Bids.Submit(ctx, supplierA, r1.ID, models.SubmitBidPayload{Price: 150, DeliveryDays: 10})
	require.NoError(t, err)
	b, err := svc.Bids.Submit(ctx, supplierB, r1.ID, models.SubmitBidPayload{Price: 180, DeliveryDays: 10})
	require.NoError(t, err)
	_, err = svc.Bids.Cancel(ctx, supplierB, b.ID, "")
	require.NoError(t, err)
	_, err = svc.Bids.Submit(ctx, supplierB, r1.ID, models.SubmitBidPayload{Price: 170, DeliveryDays: 10})
	require.NoError(t, err)
	res, err := svc.Bids.Accept(ctx, customer, a.ID)
	require.NoError(t, err)
	require.Len(t, res.Rejected, 1)

	// заказ до завершения
	_, err = svc.Orders.UpdateStatus(ctx, supplierA, res.Order.ID, status("shipped"))
	require.NoError(t, err)
	_, err = svc.Orders.ConfirmDelivery(ctx, customer, res.Order.ID, "")
	require.NoError(t, err)
	_, err = svc.Orders.Complete(ctx, customer, res.Order.ID, "")
	require.NoError(t, err)

	// истечение предложения и отмена заявки
	c, err := svc.Bids.Submit(ctx, supplierA, r2.ID, models.SubmitBidPayload{Price: 90, DeliveryDays: 3, ExpiresInDays: 1})
	require.NoError(t, err)
	e.clock.Advance(48 * time.Hour)
	n, err := svc.Bids.ExpireDue(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, models.BidExpired, e.bidByID(t, c.ID).Status)
	_, err = svc.Bids.Submit(ctx, supplierB, r2.ID, models.SubmitBidPayload{Price: 95, DeliveryDays: 3})
	require.NoError(t, err)
	_, err = svc.Requests.Cancel(ctx, customer, r2.ID, "")
	require.NoError(t, err)

	// ручная постановка в очередь
	r3, err := svc.Requests.Create(ctx, customer, payload)
	require.NoError(t, err)
	_, err = newProcessor(&stubClassifier{}).Enqueue(ctx, r3.ID, models.PriorityHigh)
	require.NoError(t, err)

	requireLockOrder(t, rec.log)
}

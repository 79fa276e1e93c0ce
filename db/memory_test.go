package db_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"orderbroker/db"
	"orderbroker/internal/apperr"
	"orderbroker/models"

	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

func newRequest(t *testing.T, st db.Store) *models.Request {
	t.Helper()
	r := &models.Request{
		CustomerID:  1,
		Title:       "Steel brackets",
		Description: "Need 200 steel brackets",
		Status:      models.RequestOpenForBids,
		ExpiresAt:   t0.Add(720 * time.Hour),
		CreatedAt:   t0,
	}
	require.NoError(t, st.CreateRequest(context.Background(), r))
	return r
}

func TestInTxRollsBackOnError(t *testing.T) {
	st := db.NewMemoryStorage()
	ctx := context.Background()
	boom := errors.New("boom")

	err := st.InTx(ctx, func(tx db.Store) error {
		r := &models.Request{CustomerID: 1, Title: "x", Status: models.RequestOpenForBids, CreatedAt: t0}
		require.NoError(t, tx.CreateRequest(ctx, r))
		return boom
	})
	require.ErrorIs(t, err, boom)

	list, err := st.ListRequests(ctx, models.RequestFilter{})
	require.NoError(t, err)
	require.Empty(t, list)
}

func TestInTxCommits(t *testing.T) {
	st := db.NewMemoryStorage()
	ctx := context.Background()
	var id int64

	err := st.InTx(ctx, func(tx db.Store) error {
		r := &models.Request{CustomerID: 1, Title: "x", Status: models.RequestOpenForBids, CreatedAt: t0}
		if err := tx.CreateRequest(ctx, r); err != nil {
			return err
		}
		id = r.ID
		return nil
	})
	require.NoError(t, err)

	got, err := st.GetRequest(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "x", got.Title)
}

func TestGetMissingReturnsNotFound(t *testing.T) {
	st := db.NewMemoryStorage()
	_, err := st.GetBid(context.Background(), 42)
	require.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestTransitionRequestIsConditional(t *testing.T) {
	st := db.NewMemoryStorage()
	ctx := context.Background()
	r := newRequest(t, st)

	ok, err := st.TransitionRequest(ctx, r.ID, []models.RequestStatus{models.RequestPendingCategorization}, models.RequestCancelled, t0)
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = st.TransitionRequest(ctx, r.ID, models.CancellableRequestStatuses, models.RequestCancelled, t0)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestOnePendingBidPerSupplier(t *testing.T) {
	st := db.NewMemoryStorage()
	ctx := context.Background()
	r := newRequest(t, st)

	b := &models.Bid{RequestID: r.ID, SupplierID: 5, Price: 100, DeliveryDays: 3, Status: models.BidPending, CreatedAt: t0}
	require.NoError(t, st.CreateBid(ctx, b))

	dup := &models.Bid{RequestID: r.ID, SupplierID: 5, Price: 90, DeliveryDays: 3, Status: models.BidPending, CreatedAt: t0}
	err := st.CreateBid(ctx, dup)
	require.ErrorIs(t, err, apperr.ErrConflict)
}

func TestOneAcceptedBidPerRequest(t *testing.T) {
	st := db.NewMemoryStorage()
	ctx := context.Background()
	r := newRequest(t, st)

	a := &models.Bid{RequestID: r.ID, SupplierID: 5, Price: 100, DeliveryDays: 3, Status: models.BidPending, CreatedAt: t0}
	b := &models.Bid{RequestID: r.ID, SupplierID: 6, Price: 120, DeliveryDays: 3, Status: models.BidPending, CreatedAt: t0}
	require.NoError(t, st.CreateBid(ctx, a))
	require.NoError(t, st.CreateBid(ctx, b))

	a.Status = models.BidAccepted
	ok, err := st.TransitionBid(ctx, a, models.BidPending)
	require.NoError(t, err)
	require.True(t, ok)

	b.Status = models.BidAccepted
	_, err = st.TransitionBid(ctx, b, models.BidPending)
	require.ErrorIs(t, err, apperr.ErrConflict)
}

func TestDueQueueItemsOrdering(t *testing.T) {
	st := db.NewMemoryStorage()
	ctx := context.Background()

	add := func(priority models.Priority, created time.Time) int64 {
		r := newRequest(t, st)
		it := &models.QueueItem{
			RequestID:     r.ID,
			Priority:      priority,
			Status:        models.QueuePending,
			NextAttemptAt: created,
			CreatedAt:     created,
		}
		require.NoError(t, st.CreateQueueItem(ctx, it))
		return it.ID
	}

	lowOld := add(models.PriorityLow, t0)
	normalNew := add(models.PriorityNormal, t0.Add(2*time.Minute))
	normalOld := add(models.PriorityNormal, t0.Add(time.Minute))
	urgent := add(models.PriorityUrgent, t0.Add(3*time.Minute))
	add(models.PriorityHigh, t0.Add(time.Hour)) // ещё не наступил next_attempt_at

	items, err := st.ListDueQueueItems(ctx, t0.Add(10*time.Minute), 10)
	require.NoError(t, err)

	var ids []int64
	for _, it := range items {
		ids = append(ids, it.ID)
	}
	require.Equal(t, []int64{urgent, normalOld, normalNew, lowOld}, ids)
}

func TestClaimIsExclusive(t *testing.T) {
	st := db.NewMemoryStorage()
	ctx := context.Background()
	r := newRequest(t, st)
	it := &models.QueueItem{RequestID: r.ID, Priority: models.PriorityNormal, Status: models.QueuePending, NextAttemptAt: t0, CreatedAt: t0}
	require.NoError(t, st.CreateQueueItem(ctx, it))

	claimed, ok, err := st.ClaimQueueItem(ctx, it.ID, "a", t0)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 1, claimed.Attempts)

	_, ok, err = st.ClaimQueueItem(ctx, it.ID, "b", t0)
	require.NoError(t, err)
	require.False(t, ok)

	// чужой токен не может завершить элемент
	ok, err = st.CompleteQueueItem(ctx, it.ID, "b", t0)
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = st.CompleteQueueItem(ctx, it.ID, "a", t0)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestOneActiveQueueItemPerRequest(t *testing.T) {
	st := db.NewMemoryStorage()
	ctx := context.Background()
	r := newRequest(t, st)

	first := &models.QueueItem{RequestID: r.ID, Priority: models.PriorityNormal, Status: models.QueuePending, CreatedAt: t0}
	require.NoError(t, st.CreateQueueItem(ctx, first))

	second := &models.QueueItem{RequestID: r.ID, Priority: models.PriorityHigh, Status: models.QueuePending, CreatedAt: t0}
	require.ErrorIs(t, st.CreateQueueItem(ctx, second), apperr.ErrConflict)

	ok, err := st.CancelQueueItem(ctx, first.ID, t0)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, st.CreateQueueItem(ctx, second))
}

func TestEarningsCountsCompletedOrdersOnly(t *testing.T) {
	st := db.NewMemoryStorage()
	ctx := context.Background()

	for i, status := range []models.OrderStatus{models.OrderCompleted, models.OrderCompleted, models.OrderShipped} {
		o := &models.Order{
			BidID: int64(i + 1), SupplierID: 9, CustomerID: 1,
			TotalAmount: 100, CommissionRate: 0.1, CommissionAmount: 10, SupplierEarnings: 90,
			Status: status, CreatedAt: t0,
		}
		require.NoError(t, st.CreateOrder(ctx, o))
	}

	supplier := int64(9)
	e, err := st.Earnings(ctx, &supplier)
	require.NoError(t, err)
	require.Equal(t, 2, e.CompletedOrders)
	require.InDelta(t, 200.0, e.GrossAmount, 0.001)
	require.InDelta(t, 180.0, e.NetEarnings, 0.001)
}

package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"orderbroker/internal/apperr"
	"orderbroker/models"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// Storage реализация Store поверх PostgreSQL
type Storage struct {
	db   *sqlx.DB
	q    sqlx.ExtContext
	inTx bool
}

func NewStorage(db *sqlx.DB) *Storage {
	return &Storage{db: db, q: db}
}

func (s *Storage) InTx(ctx context.Context, fn func(Store) error) error {
	if s.inTx {
		return fn(s)
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()
	if err := fn(&Storage{db: s.db, q: tx, inTx: true}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", mapErr(err))
	}
	return nil
}

// mapErr приводит ошибки драйвера к ошибкам хранилища
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505":
			return fmt.Errorf("%w: %s", ErrDuplicate, pqErr.Constraint)
		case "40P01", "40001":
			return apperr.Wrap(apperr.KindConflict, pqErr, "concurrent update, retry the operation")
		}
	}
	return err
}

// IsAborted транзакция прервана взаимоблокировкой или конфликтом сериализации
func IsAborted(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && (pqErr.Code == "40P01" || pqErr.Code == "40001")
}

// IsDuplicate нарушение уникального индекса
func IsDuplicate(err error) bool {
	return errors.Is(err, ErrDuplicate) && !IsAborted(err)
}

func (s *Storage) get(ctx context.Context, dest any, query string, args ...any) error {
	return mapErr(sqlx.GetContext(ctx, s.q, dest, query, args...))
}

func (s *Storage) selectAll(ctx context.Context, dest any, query string, args ...any) error {
	return mapErr(sqlx.SelectContext(ctx, s.q, dest, query, args...))
}

// execCAS выполняет условное обновление и сообщает, была ли затронута строка
func (s *Storage) execCAS(ctx context.Context, query string, args ...any) (bool, error) {
	res, err := s.q.ExecContext(ctx, query, args...)
	if err != nil {
		return false, mapErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Request (Заявка)

func (s *Storage) CreateRequest(ctx context.Context, r *models.Request) error {
	query := `
        INSERT INTO requests
            (customer_id, title, description, budget_min, budget_max, delivery_date, delivery_flexibility,
             status, expires_at, created_at, updated_at)
        VALUES
            ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
        RETURNING id`
	return mapErr(s.q.QueryRowxContext(ctx, query,
		r.CustomerID, r.Title, r.Description, r.BudgetMin, r.BudgetMax, r.DeliveryDate, r.DeliveryFlexibility,
		r.Status, r.ExpiresAt, r.CreatedAt).Scan(&r.ID))
}

func (s *Storage) GetRequest(ctx context.Context, id int64) (*models.Request, error) {
	r := &models.Request{}
	if err := s.get(ctx, r, `SELECT * FROM requests WHERE id=$1`, id); err != nil {
		return nil, err
	}
	return r, nil
}

func (s *Storage) LockRequest(ctx context.Context, id int64) (*models.Request, error) {
	r := &models.Request{}
	if err := s.get(ctx, r, `SELECT * FROM requests WHERE id=$1 FOR UPDATE`, id); err != nil {
		return nil, err
	}
	return r, nil
}

func (s *Storage) ListRequests(ctx context.Context, f models.RequestFilter) ([]models.Request, error) {
	var (
		where []string
		args  []any
	)
	if len(f.Statuses) > 0 {
		args = append(args, pq.Array(requestStatusStrings(f.Statuses)))
		where = append(where, fmt.Sprintf("status = ANY($%d)", len(args)))
	}
	if f.CategoryID != nil {
		args = append(args, *f.CategoryID)
		where = append(where, fmt.Sprintf("category_id = $%d", len(args)))
	}
	if f.CustomerID != nil {
		args = append(args, *f.CustomerID)
		where = append(where, fmt.Sprintf("customer_id = $%d", len(args)))
	}

	query := "SELECT * FROM requests"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT %d OFFSET %d", f.Limit, f.Offset)

	requests := []models.Request{}
	if err := s.selectAll(ctx, &requests, query, args...); err != nil {
		return nil, err
	}
	return requests, nil
}

func (s *Storage) TransitionRequest(ctx context.Context, id int64, from []models.RequestStatus, to models.RequestStatus, at time.Time) (bool, error) {
	query := `
        UPDATE requests
        SET status=$1, updated_at=$2
        WHERE id=$3 AND status = ANY($4)`
	return s.execCAS(ctx, query, to, at, id, pq.Array(requestStatusStrings(from)))
}

func (s *Storage) SaveClassification(ctx context.Context, r *models.Request) error {
	query := `
        UPDATE requests
        SET category_id=$1, category_confidence=$2, suggested_category_id=$3, classification_reasoning=$4,
            manually_categorized=$5, needs_review=$6, updated_at=$7
        WHERE id=$8`
	_, err := s.q.ExecContext(ctx, query,
		r.CategoryID, r.CategoryConfidence, r.SuggestedCategoryID, r.ClassificationReasoning,
		r.ManuallyCategorized, r.NeedsReview, r.UpdatedAt, r.ID)
	return mapErr(err)
}

func (s *Storage) UpdateRequestBidStats(ctx context.Context, id int64, stats models.BidStats, at time.Time) error {
	query := `
        UPDATE requests
        SET bid_count=$1, min_bid=$2, max_bid=$3, avg_bid=$4, updated_at=$5
        WHERE id=$6`
	_, err := s.q.ExecContext(ctx, query, stats.Count, stats.Min, stats.Max, stats.Avg, at, id)
	return mapErr(err)
}

func (s *Storage) ListExpiredRequests(ctx context.Context, now time.Time, limit int) ([]models.Request, error) {
	query := `
        SELECT * FROM requests
        WHERE expires_at < $1 AND status = ANY($2)
        ORDER BY expires_at ASC
        LIMIT $3`
	requests := []models.Request{}
	err := s.selectAll(ctx, &requests, query, now, pq.Array(requestStatusStrings(models.CancellableRequestStatuses)), limit)
	return requests, err
}

// Bid (Предложение)

func (s *Storage) CreateBid(ctx context.Context, b *models.Bid) error {
	query := `
        INSERT INTO bids
            (request_id, supplier_id, price, delivery_days, materials_cost, labor_cost, other_cost,
             message, status, expires_at, created_at, updated_at)
        VALUES
            ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)
        RETURNING id`
	return mapErr(s.q.QueryRowxContext(ctx, query,
		b.RequestID, b.SupplierID, b.Price, b.DeliveryDays, b.MaterialsCost, b.LaborCost, b.OtherCost,
		b.Message, b.Status, b.ExpiresAt, b.CreatedAt).Scan(&b.ID))
}

func (s *Storage) GetBid(ctx context.Context, id int64) (*models.Bid, error) {
	b := &models.Bid{}
	if err := s.get(ctx, b, `SELECT * FROM bids WHERE id=$1`, id); err != nil {
		return nil, err
	}
	return b, nil
}

func (s *Storage) LockBid(ctx context.Context, id int64) (*models.Bid, error) {
	b := &models.Bid{}
	if err := s.get(ctx, b, `SELECT * FROM bids WHERE id=$1 FOR UPDATE`, id); err != nil {
		return nil, err
	}
	return b, nil
}

func (s *Storage) ListBidsByRequest(ctx context.Context, requestID int64, limit, offset int) ([]models.Bid, error) {
	query := `
        SELECT * FROM bids
        WHERE request_id = $1
        ORDER BY created_at DESC, id DESC
        LIMIT $2 OFFSET $3`
	bids := []models.Bid{}
	err := s.selectAll(ctx, &bids, query, requestID, limit, offset)
	return bids, err
}

func (s *Storage) ListBidsBySupplier(ctx context.Context, supplierID int64, limit, offset int) ([]models.Bid, error) {
	query := `
        SELECT * FROM bids
        WHERE supplier_id = $1
        ORDER BY created_at DESC, id DESC
        LIMIT $2 OFFSET $3`
	bids := []models.Bid{}
	err := s.selectAll(ctx, &bids, query, supplierID, limit, offset)
	return bids, err
}

func (s *Storage) ListRequestBidsByStatus(ctx context.Context, requestID int64, statuses []models.BidStatus) ([]models.Bid, error) {
	query := `
        SELECT * FROM bids
        WHERE request_id = $1 AND status = ANY($2)
        ORDER BY id ASC`
	if s.inTx {
		query += " FOR UPDATE"
	}
	bids := []models.Bid{}
	err := s.selectAll(ctx, &bids, query, requestID, pq.Array(bidStatusStrings(statuses)))
	return bids, err
}

func (s *Storage) HasPendingBid(ctx context.Context, requestID, supplierID int64) (bool, error) {
	var count int
	query := `SELECT COUNT(1) FROM bids WHERE request_id=$1 AND supplier_id=$2 AND status='pending'`
	if err := s.get(ctx, &count, query, requestID, supplierID); err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *Storage) TransitionBid(ctx context.Context, b *models.Bid, from models.BidStatus) (bool, error) {
	query := `
        UPDATE bids
        SET status=$1, accepted_at=$2, rejected_at=$3, rejection_reason=$4,
            cancelled_at=$5, cancellation_reason=$6, updated_at=$7
        WHERE id=$8 AND status=$9`
	return s.execCAS(ctx, query,
		b.Status, b.AcceptedAt, b.RejectedAt, b.RejectionReason,
		b.CancelledAt, b.CancellationReason, b.UpdatedAt, b.ID, from)
}

func (s *Storage) ListExpiredBids(ctx context.Context, now time.Time, limit int) ([]models.Bid, error) {
	query := `
        SELECT * FROM bids
        WHERE status = 'pending' AND expires_at < $1
        ORDER BY expires_at ASC
        LIMIT $2`
	bids := []models.Bid{}
	err := s.selectAll(ctx, &bids, query, now, limit)
	return bids, err
}

// Order (Заказ)

func (s *Storage) CreateOrder(ctx context.Context, o *models.Order) error {
	query := `
        INSERT INTO orders
            (number, bid_id, request_id, customer_id, supplier_id, total_amount, commission_rate,
             commission_amount, supplier_earnings, status, created_at, updated_at)
        VALUES
            ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)
        RETURNING id`
	return mapErr(s.q.QueryRowxContext(ctx, query,
		o.Number, o.BidID, o.RequestID, o.CustomerID, o.SupplierID, o.TotalAmount, o.CommissionRate,
		o.CommissionAmount, o.SupplierEarnings, o.Status, o.CreatedAt).Scan(&o.ID))
}

func (s *Storage) GetOrder(ctx context.Context, id int64) (*models.Order, error) {
	o := &models.Order{}
	if err := s.get(ctx, o, `SELECT * FROM orders WHERE id=$1`, id); err != nil {
		return nil, err
	}
	return o, nil
}

func (s *Storage) LockOrder(ctx context.Context, id int64) (*models.Order, error) {
	o := &models.Order{}
	if err := s.get(ctx, o, `SELECT * FROM orders WHERE id=$1 FOR UPDATE`, id); err != nil {
		return nil, err
	}
	return o, nil
}

func (s *Storage) ListOrders(ctx context.Context, f models.OrderFilter) ([]models.Order, error) {
	var (
		where []string
		args  []any
	)
	if f.CustomerID != nil {
		args = append(args, *f.CustomerID)
		where = append(where, fmt.Sprintf("customer_id = $%d", len(args)))
	}
	if f.SupplierID != nil {
		args = append(args, *f.SupplierID)
		where = append(where, fmt.Sprintf("supplier_id = $%d", len(args)))
	}
	if f.Status != nil {
		args = append(args, *f.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	query := "SELECT * FROM orders"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT %d OFFSET %d", f.Limit, f.Offset)

	orders := []models.Order{}
	if err := s.selectAll(ctx, &orders, query, args...); err != nil {
		return nil, err
	}
	return orders, nil
}

func (s *Storage) TransitionOrder(ctx context.Context, o *models.Order, from models.OrderStatus) (bool, error) {
	query := `
        UPDATE orders
        SET status=$1, tracking_number=$2, carrier=$3, estimated_delivery=$4, shipped_at=$5, delivered_at=$6,
            delivery_confirmed_at=$7, completed_at=$8, cancelled_at=$9, cancellation_reason=$10,
            dispute_reason=$11, customer_notes=$12, supplier_notes=$13, updated_at=$14
        WHERE id=$15 AND status=$16`
	return s.execCAS(ctx, query,
		o.Status, o.TrackingNumber, o.Carrier, o.EstimatedDelivery, o.ShippedAt, o.DeliveredAt,
		o.DeliveryConfirmedAt, o.CompletedAt, o.CancelledAt, o.CancellationReason,
		o.DisputeReason, o.CustomerNotes, o.SupplierNotes, o.UpdatedAt, o.ID, from)
}

func (s *Storage) AddOrderHistory(ctx context.Context, h *models.OrderStatusHistory) error {
	query := `
        INSERT INTO order_status_history (order_id, actor_id, status, note, created_at)
        VALUES ($1, $2, $3, $4, $5)
        RETURNING id`
	return mapErr(s.q.QueryRowxContext(ctx, query, h.OrderID, h.ActorID, h.Status, h.Note, h.CreatedAt).Scan(&h.ID))
}

func (s *Storage) ListOrderHistory(ctx context.Context, orderID int64) ([]models.OrderStatusHistory, error) {
	history := []models.OrderStatusHistory{}
	err := s.selectAll(ctx, &history, `SELECT * FROM order_status_history WHERE order_id=$1 ORDER BY id ASC`, orderID)
	return history, err
}

func (s *Storage) AddOrderUpdate(ctx context.Context, u *models.OrderUpdate) error {
	query := `
        INSERT INTO order_updates (order_id, actor_id, message, image_url, created_at)
        VALUES ($1, $2, $3, $4, $5)
        RETURNING id`
	return mapErr(s.q.QueryRowxContext(ctx, query, u.OrderID, u.ActorID, u.Message, u.ImageURL, u.CreatedAt).Scan(&u.ID))
}

func (s *Storage) ListOrderUpdates(ctx context.Context, orderID int64) ([]models.OrderUpdate, error) {
	updates := []models.OrderUpdate{}
	err := s.selectAll(ctx, &updates, `SELECT * FROM order_updates WHERE order_id=$1 ORDER BY id ASC`, orderID)
	return updates, err
}

func (s *Storage) Earnings(ctx context.Context, supplierID *int64) (models.Earnings, error) {
	var e models.Earnings
	query := `
        SELECT
            COUNT(1) AS completed_orders,
            COALESCE(SUM(total_amount), 0) AS gross_amount,
            COALESCE(SUM(commission_amount), 0) AS commission_amount,
            COALESCE(SUM(supplier_earnings), 0) AS net_earnings
        FROM orders
        WHERE status = 'completed' AND ($1::BIGINT IS NULL OR supplier_id = $1)`
	err := s.get(ctx, &e, query, supplierID)
	if supplierID != nil {
		e.SupplierID = *supplierID
	}
	return e, err
}

// CategorizationQueue (Очередь категоризации)

const queueOrder = `
        ORDER BY CASE priority
                     WHEN 'urgent' THEN 3
                     WHEN 'high' THEN 2
                     WHEN 'normal' THEN 1
                     ELSE 0
                 END DESC,
                 created_at ASC, id ASC`

func (s *Storage) CreateQueueItem(ctx context.Context, it *models.QueueItem) error {
	query := `
        INSERT INTO categorization_queue
            (request_id, priority, status, attempts, next_attempt_at, created_at, updated_at)
        VALUES
            ($1, $2, $3, $4, $5, $6, $6)
        RETURNING id`
	return mapErr(s.q.QueryRowxContext(ctx, query,
		it.RequestID, it.Priority, it.Status, it.Attempts, it.NextAttemptAt, it.CreatedAt).Scan(&it.ID))
}

func (s *Storage) GetQueueItem(ctx context.Context, id int64) (*models.QueueItem, error) {
	it := &models.QueueItem{}
	if err := s.get(ctx, it, `SELECT * FROM categorization_queue WHERE id=$1`, id); err != nil {
		return nil, err
	}
	return it, nil
}

func (s *Storage) GetActiveQueueItem(ctx context.Context, requestID int64) (*models.QueueItem, error) {
	it := &models.QueueItem{}
	query := `
        SELECT * FROM categorization_queue
        WHERE request_id=$1 AND status IN ('pending', 'processing')
        ORDER BY id DESC
        LIMIT 1`
	if s.inTx {
		query += " FOR UPDATE"
	}
	if err := s.get(ctx, it, query, requestID); err != nil {
		return nil, err
	}
	return it, nil
}

func (s *Storage) SetQueueItemPriority(ctx context.Context, id int64, p models.Priority, at time.Time) (bool, error) {
	query := `
        UPDATE categorization_queue
        SET priority=$1, updated_at=$2
        WHERE id=$3 AND status IN ('pending', 'processing')`
	return s.execCAS(ctx, query, p, at, id)
}

func (s *Storage) ListDueQueueItems(ctx context.Context, now time.Time, limit int) ([]models.QueueItem, error) {
	query := `
        SELECT * FROM categorization_queue
        WHERE status = 'pending' AND next_attempt_at <= $1` + queueOrder + `
        LIMIT $2`
	items := []models.QueueItem{}
	err := s.selectAll(ctx, &items, query, now, limit)
	return items, err
}

func (s *Storage) ListQueueItems(ctx context.Context, status *models.QueueStatus, limit, offset int) ([]models.QueueItem, error) {
	query := `
        SELECT * FROM categorization_queue
        WHERE ($1::TEXT IS NULL OR status = $1)` + queueOrder + `
        LIMIT $2 OFFSET $3`
	var st *string
	if status != nil {
		v := string(*status)
		st = &v
	}
	items := []models.QueueItem{}
	err := s.selectAll(ctx, &items, query, st, limit, offset)
	return items, err
}

func (s *Storage) ClaimQueueItem(ctx context.Context, id int64, token string, at time.Time) (*models.QueueItem, bool, error) {
	query := `
        UPDATE categorization_queue
        SET status='processing', attempts=attempts+1, claim_token=$1, started_at=$2, updated_at=$2
        WHERE id=$3 AND status='pending'
        RETURNING *`
	it := &models.QueueItem{}
	err := s.get(ctx, it, query, token, at, id)
	if errors.Is(err, ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return it, true, nil
}

func (s *Storage) CompleteQueueItem(ctx context.Context, id int64, token string, at time.Time) (bool, error) {
	query := `
        UPDATE categorization_queue
        SET status='completed', last_error=NULL, claim_token=NULL, completed_at=$1, updated_at=$1
        WHERE id=$2 AND status='processing' AND claim_token=$3`
	return s.execCAS(ctx, query, at, id, token)
}

func (s *Storage) ReleaseQueueItem(ctx context.Context, id int64, token string, to models.QueueStatus, lastError string, nextAttemptAt, at time.Time) (bool, error) {
	query := `
        UPDATE categorization_queue
        SET status=$1, last_error=$2, claim_token=NULL, next_attempt_at=$3, updated_at=$4
        WHERE id=$5 AND status='processing' AND claim_token=$6`
	return s.execCAS(ctx, query, to, lastError, nextAttemptAt, at, id, token)
}

func (s *Storage) CancelQueueItem(ctx context.Context, id int64, at time.Time) (bool, error) {
	query := `
        UPDATE categorization_queue
        SET status='cancelled', claim_token=NULL, updated_at=$1
        WHERE id=$2 AND status IN ('pending', 'processing')`
	return s.execCAS(ctx, query, at, id)
}

func (s *Storage) RetryFailedQueueItems(ctx context.Context, at time.Time) (int64, error) {
	query := `
        UPDATE categorization_queue
        SET status='pending', next_attempt_at=$1, updated_at=$1
        WHERE status='failed'`
	res, err := s.q.ExecContext(ctx, query, at)
	if err != nil {
		return 0, mapErr(err)
	}
	return res.RowsAffected()
}

func (s *Storage) ListStaleQueueItems(ctx context.Context, startedBefore time.Time) ([]models.QueueItem, error) {
	query := `
        SELECT * FROM categorization_queue
        WHERE status='processing' AND started_at < $1
        ORDER BY started_at ASC`
	items := []models.QueueItem{}
	err := s.selectAll(ctx, &items, query, startedBefore)
	return items, err
}

func (s *Storage) QueueStats(ctx context.Context) (models.QueueStats, error) {
	var st models.QueueStats
	query := `
        SELECT
            COUNT(CASE WHEN status = 'pending' THEN 1 END) AS pending,
            COUNT(CASE WHEN status = 'processing' THEN 1 END) AS processing,
            COUNT(CASE WHEN status = 'completed' THEN 1 END) AS completed,
            COUNT(CASE WHEN status = 'failed' THEN 1 END) AS failed,
            COUNT(CASE WHEN status = 'cancelled' THEN 1 END) AS cancelled
        FROM categorization_queue`
	err := s.get(ctx, &st, query)
	return st, err
}

func (s *Storage) AddCategorizationLog(ctx context.Context, l *models.CategorizationLog) error {
	query := `
        INSERT INTO categorization_logs
            (request_id, queue_item_id, attempt, provider, model, suggested_category_id, confidence, reasoning,
             duration_ms, success, error_message, tokens_used, cost_usd, created_at)
        VALUES
            ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
        RETURNING id`
	return mapErr(s.q.QueryRowxContext(ctx, query,
		l.RequestID, l.QueueItemID, l.Attempt, l.Provider, l.Model, l.SuggestedCategoryID, l.Confidence, l.Reasoning,
		l.DurationMs, l.Success, l.ErrorMessage, l.TokensUsed, l.CostUSD, l.CreatedAt).Scan(&l.ID))
}

func (s *Storage) ListCategorizationLogs(ctx context.Context, requestID int64) ([]models.CategorizationLog, error) {
	logs := []models.CategorizationLog{}
	err := s.selectAll(ctx, &logs, `SELECT * FROM categorization_logs WHERE request_id=$1 ORDER BY id ASC`, requestID)
	return logs, err
}

func requestStatusStrings(in []models.RequestStatus) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = string(s)
	}
	return out
}

func bidStatusStrings(in []models.BidStatus) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = string(s)
	}
	return out
}

// Package queue очередь категоризации заявок: приоритетная выборка,
// захват элемента условным обновлением, повторы с экспоненциальной задержкой.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"orderbroker/db"
	"orderbroker/internal/apperr"
	"orderbroker/internal/catalog"
	"orderbroker/internal/classifier"
	"orderbroker/internal/metrics"
	"orderbroker/models"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"
)

// DrainTask имя задачи планировщика, которая проходит очередь
const DrainTask = "categorization-drain"

// RequestClassifier применяет результат классификации к заявке в транзакции tx
type RequestClassifier interface {
	ApplyClassification(ctx context.Context, tx db.Store, requestID int64, c models.Classification) error
}

type Options struct {
	MaxAttempts int
	Concurrency int
	BackoffBase time.Duration
	BackoffMax  time.Duration
	StaleAfter  time.Duration
}

// Summary итог одного прохода Drain
type Summary struct {
	Processed int `json:"processed"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Exhausted int `json:"exhausted"`
	Skipped   int `json:"skipped"`
}

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeSucceeded
	outcomeRetry
	outcomeExhausted
)

var outcomeLabels = map[outcome]string{
	outcomeSkipped:   "skipped",
	outcomeSucceeded: "completed",
	outcomeRetry:     "retry",
	outcomeExhausted: "failed",
}

func (s *Summary) add(o outcome) {
	if o == outcomeSkipped {
		s.Skipped++
		return
	}
	s.Processed++
	switch o {
	case outcomeSucceeded:
		s.Succeeded++
	case outcomeRetry:
		s.Failed++
	case outcomeExhausted:
		s.Failed++
		s.Exhausted++
	}
}

// errClaimLost элемент отменён или перехвачен, пока шла классификация
var errClaimLost = errors.New("queue item claim lost")

type Processor struct {
	store      db.Store
	classifier classifier.Classifier
	catalog    *catalog.Catalog
	requests   RequestClassifier
	opts       Options
	logger     *slog.Logger
	now        func() time.Time
}

func NewProcessor(store db.Store, cls classifier.Classifier, cat *catalog.Catalog, requests RequestClassifier, opts Options, logger *slog.Logger) *Processor {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = 30 * time.Second
	}
	if opts.BackoffMax < opts.BackoffBase {
		opts.BackoffMax = opts.BackoffBase
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = 10 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		store:      store,
		classifier: cls,
		catalog:    cat,
		requests:   requests,
		opts:       opts,
		logger:     logger.With("component", "categorization_queue"),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// WithClock подменяет источник времени
func (p *Processor) WithClock(now func() time.Time) *Processor {
	p.now = now
	return p
}

// Enqueue ставит заявку в очередь в рамках транзакции вызывающего.
// Если активный элемент уже есть, меняется только его приоритет.
func Enqueue(ctx context.Context, st db.Store, requestID int64, priority models.Priority, at time.Time) (*models.QueueItem, error) {
	existing, err := st.GetActiveQueueItem(ctx, requestID)
	switch {
	case err == nil:
		if existing.Priority != priority {
			ok, err := st.SetQueueItemPriority(ctx, existing.ID, priority, at)
			if err != nil {
				return nil, fmt.Errorf("set queue priority: %w", err)
			}
			if ok {
				existing.Priority = priority
				existing.UpdatedAt = at
			}
		}
		return existing, nil
	case !errors.Is(err, db.ErrNotFound):
		return nil, fmt.Errorf("get active queue item: %w", err)
	}

	it := &models.QueueItem{
		RequestID:     requestID,
		Priority:      priority,
		Status:        models.QueuePending,
		NextAttemptAt: at,
		CreatedAt:     at,
	}
	if err := st.CreateQueueItem(ctx, it); err != nil {
		return nil, err
	}
	return it, nil
}

// Enqueue ручная постановка в очередь (администратор)
func (p *Processor) Enqueue(ctx context.Context, requestID int64, priority models.Priority) (*models.QueueItem, error) {
	if priority == "" {
		priority = models.PriorityNormal
	}
	if _, ok := models.ParsePriority(string(priority)); !ok {
		return nil, apperr.Validation("unknown priority %q", priority)
	}

	var item *models.QueueItem
	run := func() error {
		return p.store.InTx(ctx, func(tx db.Store) error {
			req, err := tx.LockRequest(ctx, requestID)
			if err != nil {
				if errors.Is(err, db.ErrNotFound) {
					return apperr.NotFound("request not found")
				}
				return err
			}
			if req.Status.Terminal() {
				return apperr.InvalidState("request is %s and cannot be categorized", req.Status)
			}
			item, err = Enqueue(ctx, tx, requestID, priority, p.now())
			return err
		})
	}
	err := run()
	// параллельная вставка активного элемента: повторяем, теперь он найдётся
	if errors.Is(err, apperr.ErrConflict) {
		err = run()
	}
	if err != nil {
		return nil, err
	}
	p.logger.Info("request enqueued", "request_id", requestID, "item_id", item.ID, "priority", item.Priority)
	return item, nil
}

// Drain обрабатывает до batch готовых элементов. Сбой отдельного элемента
// не прерывает проход; ошибка возвращается только если не удалось выбрать элементы.
func (p *Processor) Drain(ctx context.Context, batch int) (Summary, error) {
	var summary Summary
	if batch <= 0 {
		return summary, apperr.Validation("batch size must be positive")
	}
	items, err := p.store.ListDueQueueItems(ctx, p.now(), batch)
	if err != nil {
		return summary, fmt.Errorf("list due queue items: %w", err)
	}
	if len(items) == 0 {
		return summary, nil
	}

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(p.opts.Concurrency)
	for _, it := range items {
		it := it
		g.Go(func() error {
			o := p.process(ctx, it)
			metrics.QueueItemsTotal.WithLabelValues(outcomeLabels[o]).Inc()
			mu.Lock()
			summary.add(o)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	p.sampleDepth(ctx)
	p.logger.Info("queue drained",
		"processed", summary.Processed,
		"succeeded", summary.Succeeded,
		"failed", summary.Failed,
		"skipped", summary.Skipped,
	)
	return summary, nil
}

func (p *Processor) process(ctx context.Context, item models.QueueItem) outcome {
	token := uuid.NewString()
	claimed, ok, err := p.store.ClaimQueueItem(ctx, item.ID, token, p.now())
	if err != nil {
		p.logger.Error("claim queue item", "item_id", item.ID, "err", err)
		return outcomeSkipped
	}
	if !ok {
		// уже забран другим проходом или отменён
		return outcomeSkipped
	}
	log := p.logger.With("item_id", claimed.ID, "request_id", claimed.RequestID, "attempt", claimed.Attempts)

	req, err := p.store.GetRequest(ctx, claimed.RequestID)
	if err != nil {
		return p.fail(ctx, log, claimed, token, err)
	}
	if req.Status.Terminal() {
		if _, err := p.store.ReleaseQueueItem(ctx, claimed.ID, token, models.QueueCancelled,
			fmt.Sprintf("request is %s", req.Status), p.now(), p.now()); err != nil {
			log.Error("release queue item", "err", err)
		}
		log.Info("request no longer needs categorization", "status", req.Status)
		return outcomeSkipped
	}

	start := time.Now()
	res, cerr := p.classifier.Classify(ctx, requestText(req), p.catalog.List())
	elapsed := time.Since(start)
	metrics.ClassificationDuration.WithLabelValues(p.classifier.Provider()).Observe(elapsed.Seconds())
	p.record(ctx, log, claimed, res, cerr, elapsed)

	if cerr != nil {
		return p.fail(ctx, log, claimed, token, cerr)
	}
	metrics.ClassificationTokensTotal.WithLabelValues(res.Provider).Add(float64(res.TokensUsed))

	err = p.store.InTx(ctx, func(tx db.Store) error {
		if _, err := tx.LockRequest(ctx, claimed.RequestID); err != nil {
			return err
		}
		ok, err := tx.CompleteQueueItem(ctx, claimed.ID, token, p.now())
		if err != nil {
			return err
		}
		if !ok {
			return errClaimLost
		}
		return p.requests.ApplyClassification(ctx, tx, claimed.RequestID, models.Classification{
			Succeeded:  true,
			CategoryID: res.CategoryID,
			Confidence: res.Confidence,
			Reasoning:  res.Reasoning,
		})
	})
	switch {
	case errors.Is(err, errClaimLost):
		log.Info("queue item cancelled during classification")
		return outcomeSkipped
	case err != nil:
		return p.fail(ctx, log, claimed, token, err)
	}
	log.Info("request categorized", "category_id", res.CategoryID, "confidence", res.Confidence)
	return outcomeSucceeded
}

// fail возвращает элемент в pending с задержкой либо переводит в failed.
// Неповторяемые ошибки сразу исчерпывают попытки.
func (p *Processor) fail(ctx context.Context, log *slog.Logger, item *models.QueueItem, token string, cause error) outcome {
	now := p.now()
	msg := cause.Error()

	if item.Attempts < p.opts.MaxAttempts && apperr.KindOf(cause) != apperr.KindFatal {
		next := now.Add(p.backoff(item.Attempts))
		ok, err := p.store.ReleaseQueueItem(ctx, item.ID, token, models.QueuePending, msg, next, now)
		if err != nil {
			log.Error("release queue item", "err", err)
			return outcomeSkipped
		}
		if !ok {
			return outcomeSkipped
		}
		log.Warn("categorization attempt failed, will retry", "err", cause, "next_attempt_at", next)
		return outcomeRetry
	}

	err := p.store.InTx(ctx, func(tx db.Store) error {
		// заявка раньше элемента очереди, как при отмене заявки
		if _, err := tx.LockRequest(ctx, item.RequestID); err != nil {
			return err
		}
		ok, err := tx.ReleaseQueueItem(ctx, item.ID, token, models.QueueFailed, msg, now, now)
		if err != nil {
			return err
		}
		if !ok {
			return errClaimLost
		}
		// классификация не блокирует торги: заявка открывается с пометкой для проверки
		return p.requests.ApplyClassification(ctx, tx, item.RequestID, models.Classification{
			Succeeded: false,
			Reasoning: msg,
		})
	})
	switch {
	case errors.Is(err, errClaimLost):
		return outcomeSkipped
	case err != nil:
		log.Error("mark queue item failed", "err", err)
		return outcomeSkipped
	}
	log.Error("categorization failed permanently", "err", cause, "attempts", item.Attempts)
	return outcomeExhausted
}

// backoff задержка перед попыткой attempt+1
func (p *Processor) backoff(attempt int) time.Duration {
	b := retry.WithCappedDuration(p.opts.BackoffMax, retry.NewExponential(p.opts.BackoffBase))
	var d time.Duration
	for i := 0; i < max(attempt, 1); i++ {
		next, stop := b.Next()
		if stop {
			break
		}
		d = next
	}
	return d
}

func (p *Processor) record(ctx context.Context, log *slog.Logger, item *models.QueueItem, res *classifier.Result, cerr error, elapsed time.Duration) {
	entry := &models.CategorizationLog{
		RequestID:   item.RequestID,
		QueueItemID: item.ID,
		Attempt:     item.Attempts,
		Provider:    p.classifier.Provider(),
		Model:       p.classifier.Model(),
		DurationMs:  elapsed.Milliseconds(),
		Success:     cerr == nil,
		CreatedAt:   p.now(),
	}
	if res != nil {
		entry.SuggestedCategoryID = &res.CategoryID
		entry.Confidence = &res.Confidence
		entry.Reasoning = res.Reasoning
		entry.TokensUsed = res.TokensUsed
		entry.CostUSD = res.CostUSD
		if res.Model != "" {
			entry.Model = res.Model
		}
	}
	if cerr != nil {
		msg := cerr.Error()
		entry.ErrorMessage = &msg
	}
	if err := p.store.AddCategorizationLog(ctx, entry); err != nil {
		log.Error("write categorization log", "err", err)
	}
}

// RecoverStale возвращает в работу элементы, зависшие в processing
// (процесс упал посреди классификации).
func (p *Processor) RecoverStale(ctx context.Context) (int, error) {
	now := p.now()
	items, err := p.store.ListStaleQueueItems(ctx, now.Add(-p.opts.StaleAfter))
	if err != nil {
		return 0, fmt.Errorf("list stale queue items: %w", err)
	}
	recovered := 0
	for i := range items {
		it := &items[i]
		if it.ClaimToken == nil {
			continue
		}
		log := p.logger.With("item_id", it.ID, "request_id", it.RequestID, "attempt", it.Attempts)
		o := p.fail(ctx, log, it, *it.ClaimToken, apperr.Transient(nil, "processing timed out"))
		if o != outcomeSkipped {
			recovered++
		}
	}
	if recovered > 0 {
		p.logger.Warn("recovered stale queue items", "count", recovered)
	}
	return recovered, nil
}

// RetryFailed возвращает все failed элементы в pending, счётчик попыток сохраняется
func (p *Processor) RetryFailed(ctx context.Context) (int64, error) {
	n, err := p.store.RetryFailedQueueItems(ctx, p.now())
	if err != nil {
		return 0, fmt.Errorf("retry failed queue items: %w", err)
	}
	p.logger.Info("failed queue items reset", "count", n)
	return n, nil
}

func (p *Processor) Cancel(ctx context.Context, itemID int64) (*models.QueueItem, error) {
	it, err := p.store.GetQueueItem(ctx, itemID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, apperr.NotFound("queue item not found")
		}
		return nil, err
	}
	ok, err := p.store.CancelQueueItem(ctx, itemID, p.now())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.InvalidState("queue item is %s and cannot be cancelled", it.Status)
	}
	p.logger.Info("queue item cancelled", "item_id", itemID, "request_id", it.RequestID)
	return p.store.GetQueueItem(ctx, itemID)
}

func (p *Processor) Stats(ctx context.Context) (models.QueueStats, error) {
	return p.store.QueueStats(ctx)
}

func (p *Processor) Items(ctx context.Context, status *models.QueueStatus, limit, offset int) ([]models.QueueItem, error) {
	return p.store.ListQueueItems(ctx, status, limit, offset)
}

// History журнал попыток классификации заявки
func (p *Processor) History(ctx context.Context, requestID int64) ([]models.CategorizationLog, error) {
	return p.store.ListCategorizationLogs(ctx, requestID)
}

func (p *Processor) sampleDepth(ctx context.Context) {
	st, err := p.store.QueueStats(ctx)
	if err != nil {
		p.logger.Warn("queue stats", "err", err)
		return
	}
	metrics.QueueDepth.WithLabelValues(string(models.QueuePending)).Set(float64(st.Pending))
	metrics.QueueDepth.WithLabelValues(string(models.QueueProcessing)).Set(float64(st.Processing))
	metrics.QueueDepth.WithLabelValues(string(models.QueueFailed)).Set(float64(st.Failed))
}

func requestText(r *models.Request) string {
	return strings.TrimSpace(r.Title + "\n\n" + r.Description)
}

// Package notify доставка уведомлений участникам сделки. Ядро вызывает Notify
// после фиксации транзакции и не ждёт подтверждения доставки.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Type вид уведомления. RequestCancelled получают поставщики, чьи ожидающие
// предложения закрыты вместе с отменённой заявкой.
type Type string

const (
	BidReceived        Type = "bid_received"
	BidAccepted        Type = "bid_accepted"
	BidRejected        Type = "bid_rejected"
	RequestCancelled   Type = "request_cancelled"
	OrderStatusChanged Type = "order_status_changed"
	OrderUpdatePosted  Type = "order_update_posted"
)

// Event сообщение, которое получает подписчик
type Event struct {
	UserID  int64     `json:"userId"`
	Type    Type      `json:"type"`
	Payload any       `json:"payload"`
	At      time.Time `json:"at"`
}

type Notifier interface {
	Notify(ctx context.Context, userID int64, typ Type, payload any)
}

// Log пишет уведомления в журнал, когда Redis не настроен
type Log struct {
	logger *slog.Logger
}

func NewLog(logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{logger: logger}
}

func (l *Log) Notify(ctx context.Context, userID int64, typ Type, payload any) {
	l.logger.InfoContext(ctx, "notification", "user_id", userID, "type", typ, "payload", payload)
}

// Memory накапливает события; удобно для тестов и отладки
type Memory struct {
	mu     sync.Mutex
	events []Event
}

func NewMemory() *Memory { return &Memory{} }

func (m *Memory) Notify(ctx context.Context, userID int64, typ Type, payload any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, Event{UserID: userID, Type: typ, Payload: payload, At: time.Now()})
}

func (m *Memory) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Event(nil), m.events...)
}

// For события конкретного получателя указанного типа
func (m *Memory) For(userID int64, typ Type) []Event {
	var out []Event
	for _, e := range m.Events() {
		if e.UserID == userID && e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

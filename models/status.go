package models

import "strings"

type RequestStatus string

const (
	RequestPendingCategorization RequestStatus = "pending_categorization"
	RequestOpenForBids           RequestStatus = "open_for_bids"
	RequestBidsReceived          RequestStatus = "bids_received"
	RequestInProgress            RequestStatus = "in_progress"
	RequestCompleted             RequestStatus = "completed"
	RequestCancelled             RequestStatus = "cancelled"
	RequestExpired               RequestStatus = "expired"
)

// Terminal возвращает true для статусов, из которых нет переходов
func (s RequestStatus) Terminal() bool {
	switch s {
	case RequestCompleted, RequestCancelled, RequestExpired:
		return true
	}
	return false
}

// AcceptsBids возвращает true, если по заявке можно подавать и принимать предложения
func (s RequestStatus) AcceptsBids() bool {
	return s == RequestOpenForBids || s == RequestBidsReceived
}

// CancellableRequestStatuses статусы, в которых клиент может отменить заявку
var CancellableRequestStatuses = []RequestStatus{
	RequestPendingCategorization,
	RequestOpenForBids,
	RequestBidsReceived,
}

func ParseRequestStatus(v string) (RequestStatus, bool) {
	s := RequestStatus(strings.TrimSpace(v))
	switch s {
	case RequestPendingCategorization, RequestOpenForBids, RequestBidsReceived,
		RequestInProgress, RequestCompleted, RequestCancelled, RequestExpired:
		return s, true
	}
	return "", false
}

type BidStatus string

const (
	BidPending   BidStatus = "pending"
	BidAccepted  BidStatus = "accepted"
	BidRejected  BidStatus = "rejected"
	BidCancelled BidStatus = "cancelled"
	BidExpired   BidStatus = "expired"
)

// Terminal все статусы, кроме pending, конечные
func (s BidStatus) Terminal() bool {
	return s != BidPending
}

type OrderStatus string

const (
	OrderConfirmed    OrderStatus = "confirmed"
	OrderInProduction OrderStatus = "in_production"
	OrderQualityCheck OrderStatus = "quality_check"
	OrderShipped      OrderStatus = "shipped"
	OrderDelivered    OrderStatus = "delivered"
	OrderCompleted    OrderStatus = "completed"
	OrderCancelled    OrderStatus = "cancelled"
	OrderDisputed     OrderStatus = "disputed"
)

// порядок статусов на основном пути выполнения
var orderRank = map[OrderStatus]int{
	OrderConfirmed:    0,
	OrderInProduction: 1,
	OrderQualityCheck: 2,
	OrderShipped:      3,
	OrderDelivered:    4,
	OrderCompleted:    5,
}

// Rank позиция статуса на основном пути; false для боковых выходов
func (s OrderStatus) Rank() (int, bool) {
	r, ok := orderRank[s]
	return r, ok
}

func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderCompleted, OrderCancelled, OrderDisputed:
		return true
	}
	return false
}

// PreShipment заказ ещё не отгружен и может быть отменён
func (s OrderStatus) PreShipment() bool {
	switch s {
	case OrderConfirmed, OrderInProduction, OrderQualityCheck:
		return true
	}
	return false
}

// Disputable статусы, из которых любая сторона может открыть спор
func (s OrderStatus) Disputable() bool {
	switch s {
	case OrderInProduction, OrderQualityCheck, OrderShipped, OrderDelivered:
		return true
	}
	return false
}

// supplierStatuses значения, которые поставщик может передать в обновлении статуса,
// и их единственное отображение на статусы заказа
var supplierStatuses = map[string]OrderStatus{
	"in_progress":   OrderInProduction,
	"production":    OrderInProduction,
	"in_production": OrderInProduction,
	"quality_check": OrderQualityCheck,
	"shipped":       OrderShipped,
	"delivered":     OrderDelivered,
	"cancelled":     OrderCancelled,
}

// ParseSupplierStatus переводит значение поставщика в статус заказа
func ParseSupplierStatus(v string) (OrderStatus, bool) {
	s, ok := supplierStatuses[strings.ToLower(strings.TrimSpace(v))]
	return s, ok
}

type Priority string

const (
	PriorityUrgent Priority = "urgent"
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

var priorityRank = map[Priority]int{
	PriorityUrgent: 3,
	PriorityHigh:   2,
	PriorityNormal: 1,
	PriorityLow:    0,
}

// Rank больше - раньше в очереди
func (p Priority) Rank() int {
	return priorityRank[p]
}

func ParsePriority(v string) (Priority, bool) {
	p := Priority(strings.ToLower(strings.TrimSpace(v)))
	if _, ok := priorityRank[p]; ok {
		return p, true
	}
	return "", false
}

type QueueStatus string

const (
	QueuePending    QueueStatus = "pending"
	QueueProcessing QueueStatus = "processing"
	QueueCompleted  QueueStatus = "completed"
	QueueFailed     QueueStatus = "failed"
	QueueCancelled  QueueStatus = "cancelled"
)

// Active элемент ещё не обработан окончательно
func (s QueueStatus) Active() bool {
	return s == QueuePending || s == QueueProcessing
}

func ParseQueueStatus(v string) (QueueStatus, bool) {
	s := QueueStatus(strings.TrimSpace(v))
	switch s {
	case QueuePending, QueueProcessing, QueueCompleted, QueueFailed, QueueCancelled:
		return s, true
	}
	return "", false
}

type Role string

const (
	RoleCustomer Role = "customer"
	RoleSupplier Role = "supplier"
	RoleAdmin    Role = "admin"
)

func ParseRole(v string) (Role, bool) {
	r := Role(strings.ToLower(strings.TrimSpace(v)))
	switch r {
	case RoleCustomer, RoleSupplier, RoleAdmin:
		return r, true
	}
	return "", false
}

// Actor пользователь, от имени которого выполняется операция
type Actor struct {
	ID   int64
	Role Role
}

// System actor для фоновых задач
var System = Actor{ID: 0, Role: RoleAdmin}

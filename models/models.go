package models

import "time"

// Сущность Заявки (запрос клиента на изготовление)
type Request struct {
	ID                      int64         `db:"id" json:"id"`
	CustomerID              int64         `db:"customer_id" json:"customerId"`
	Title                   string        `db:"title" json:"title"`
	Description             string        `db:"description" json:"description"`
	BudgetMin               *float64      `db:"budget_min" json:"budgetMin,omitempty"`
	BudgetMax               *float64      `db:"budget_max" json:"budgetMax,omitempty"`
	DeliveryDate            *time.Time    `db:"delivery_date" json:"deliveryDate,omitempty"`
	DeliveryFlexibility     string        `db:"delivery_flexibility" json:"deliveryFlexibility"`
	CategoryID              *int64        `db:"category_id" json:"categoryId,omitempty"`
	CategoryConfidence      *float64      `db:"category_confidence" json:"categoryConfidence,omitempty"`
	SuggestedCategoryID     *int64        `db:"suggested_category_id" json:"suggestedCategoryId,omitempty"`
	ClassificationReasoning string        `db:"classification_reasoning" json:"classificationReasoning,omitempty"`
	ManuallyCategorized     bool          `db:"manually_categorized" json:"manuallyCategorized"`
	NeedsReview             bool          `db:"needs_review" json:"needsReview"`
	Status                  RequestStatus `db:"status" json:"status"`
	BidCount                int           `db:"bid_count" json:"bidCount"`
	MinBid                  *float64      `db:"min_bid" json:"minBid,omitempty"`
	MaxBid                  *float64      `db:"max_bid" json:"maxBid,omitempty"`
	AvgBid                  *float64      `db:"avg_bid" json:"avgBid,omitempty"`
	ExpiresAt               time.Time     `db:"expires_at" json:"expiresAt"`
	CreatedAt               time.Time     `db:"created_at" json:"createdAt"`
	UpdatedAt               time.Time     `db:"updated_at" json:"updatedAt"`
}

// Сущность Предложения поставщика
type Bid struct {
	ID                 int64      `db:"id" json:"id"`
	RequestID          int64      `db:"request_id" json:"requestId"`
	SupplierID         int64      `db:"supplier_id" json:"supplierId"`
	Price              float64    `db:"price" json:"price"`
	DeliveryDays       int        `db:"delivery_days" json:"deliveryDays"`
	MaterialsCost      *float64   `db:"materials_cost" json:"materialsCost,omitempty"`
	LaborCost          *float64   `db:"labor_cost" json:"laborCost,omitempty"`
	OtherCost          *float64   `db:"other_cost" json:"otherCost,omitempty"`
	Message            string     `db:"message" json:"message"`
	Status             BidStatus  `db:"status" json:"status"`
	AcceptedAt         *time.Time `db:"accepted_at" json:"acceptedAt,omitempty"`
	RejectedAt         *time.Time `db:"rejected_at" json:"rejectedAt,omitempty"`
	RejectionReason    *string    `db:"rejection_reason" json:"rejectionReason,omitempty"`
	CancelledAt        *time.Time `db:"cancelled_at" json:"cancelledAt,omitempty"`
	CancellationReason *string    `db:"cancellation_reason" json:"cancellationReason,omitempty"`
	ExpiresAt          time.Time  `db:"expires_at" json:"expiresAt"`
	CreatedAt          time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt          time.Time  `db:"updated_at" json:"updatedAt"`
}

// Сущность Заказа, создаётся ровно один раз на принятое предложение
type Order struct {
	ID                  int64       `db:"id" json:"id"`
	Number              string      `db:"number" json:"number"`
	BidID               int64       `db:"bid_id" json:"bidId"`
	RequestID           int64       `db:"request_id" json:"requestId"`
	CustomerID          int64       `db:"customer_id" json:"customerId"`
	SupplierID          int64       `db:"supplier_id" json:"supplierId"`
	TotalAmount         float64     `db:"total_amount" json:"totalAmount"`
	CommissionRate      float64     `db:"commission_rate" json:"commissionRate"`
	CommissionAmount    float64     `db:"commission_amount" json:"commissionAmount"`
	SupplierEarnings    float64     `db:"supplier_earnings" json:"supplierEarnings"`
	Status              OrderStatus `db:"status" json:"status"`
	TrackingNumber      *string     `db:"tracking_number" json:"trackingNumber,omitempty"`
	Carrier             *string     `db:"carrier" json:"carrier,omitempty"`
	EstimatedDelivery   *time.Time  `db:"estimated_delivery" json:"estimatedDelivery,omitempty"`
	ShippedAt           *time.Time  `db:"shipped_at" json:"shippedAt,omitempty"`
	DeliveredAt         *time.Time  `db:"delivered_at" json:"deliveredAt,omitempty"`
	DeliveryConfirmedAt *time.Time  `db:"delivery_confirmed_at" json:"deliveryConfirmedAt,omitempty"`
	CompletedAt         *time.Time  `db:"completed_at" json:"completedAt,omitempty"`
	CancelledAt         *time.Time  `db:"cancelled_at" json:"cancelledAt,omitempty"`
	CancellationReason  *string     `db:"cancellation_reason" json:"cancellationReason,omitempty"`
	DisputeReason       *string     `db:"dispute_reason" json:"disputeReason,omitempty"`
	CustomerNotes       string      `db:"customer_notes" json:"customerNotes"`
	SupplierNotes       string      `db:"supplier_notes" json:"supplierNotes"`
	CreatedAt           time.Time   `db:"created_at" json:"createdAt"`
	UpdatedAt           time.Time   `db:"updated_at" json:"updatedAt"`
}

// Запись истории статусов заказа (только добавление)
type OrderStatusHistory struct {
	ID        int64       `db:"id" json:"id"`
	OrderID   int64       `db:"order_id" json:"orderId"`
	ActorID   int64       `db:"actor_id" json:"actorId"`
	Status    OrderStatus `db:"status" json:"status"`
	Note      string      `db:"note" json:"note,omitempty"`
	CreatedAt time.Time   `db:"created_at" json:"createdAt"`
}

// Заметка о ходе выполнения заказа от поставщика (только добавление)
type OrderUpdate struct {
	ID        int64     `db:"id" json:"id"`
	OrderID   int64     `db:"order_id" json:"orderId"`
	ActorID   int64     `db:"actor_id" json:"actorId"`
	Message   string    `db:"message" json:"message"`
	ImageURL  *string   `db:"image_url" json:"imageUrl,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

// OrderDetails заказ вместе с полной историей
type OrderDetails struct {
	Order   Order                `json:"order"`
	History []OrderStatusHistory `json:"history"`
	Updates []OrderUpdate        `json:"updates"`
}

// Элемент очереди категоризации
type QueueItem struct {
	ID            int64       `db:"id" json:"id"`
	RequestID     int64       `db:"request_id" json:"requestId"`
	Priority      Priority    `db:"priority" json:"priority"`
	Status        QueueStatus `db:"status" json:"status"`
	Attempts      int         `db:"attempts" json:"attempts"`
	LastError     *string     `db:"last_error" json:"lastError,omitempty"`
	ClaimToken    *string     `db:"claim_token" json:"-"`
	NextAttemptAt time.Time   `db:"next_attempt_at" json:"nextAttemptAt"`
	StartedAt     *time.Time  `db:"started_at" json:"startedAt,omitempty"`
	CompletedAt   *time.Time  `db:"completed_at" json:"completedAt,omitempty"`
	CreatedAt     time.Time   `db:"created_at" json:"createdAt"`
	UpdatedAt     time.Time   `db:"updated_at" json:"updatedAt"`
}

// Запись журнала категоризации, одна на каждую попытку
type CategorizationLog struct {
	ID                  int64     `db:"id" json:"id"`
	RequestID           int64     `db:"request_id" json:"requestId"`
	QueueItemID         int64     `db:"queue_item_id" json:"queueItemId"`
	Attempt             int       `db:"attempt" json:"attempt"`
	Provider            string    `db:"provider" json:"provider"`
	Model               string    `db:"model" json:"model"`
	SuggestedCategoryID *int64    `db:"suggested_category_id" json:"suggestedCategoryId,omitempty"`
	Confidence          *float64  `db:"confidence" json:"confidence,omitempty"`
	Reasoning           string    `db:"reasoning" json:"reasoning,omitempty"`
	DurationMs          int64     `db:"duration_ms" json:"durationMs"`
	Success             bool      `db:"success" json:"success"`
	ErrorMessage        *string   `db:"error_message" json:"errorMessage,omitempty"`
	TokensUsed          int       `db:"tokens_used" json:"tokensUsed"`
	CostUSD             float64   `db:"cost_usd" json:"costUsd"`
	CreatedAt           time.Time `db:"created_at" json:"createdAt"`
}

// QueueStats количество элементов очереди по статусам
type QueueStats struct {
	Pending    int `db:"pending" json:"pending"`
	Processing int `db:"processing" json:"processing"`
	Completed  int `db:"completed" json:"completed"`
	Failed     int `db:"failed" json:"failed"`
	Cancelled  int `db:"cancelled" json:"cancelled"`
}

// BidStats денормализованные агрегаты предложений по заявке
type BidStats struct {
	Count int
	Min   *float64
	Max   *float64
	Avg   *float64
}

// Classification результат классификации, применяемый к заявке
type Classification struct {
	Succeeded  bool
	CategoryID int64
	Confidence float64
	Reasoning  string
}

// Earnings сводка по завершённым заказам
type Earnings struct {
	SupplierID       int64   `db:"-" json:"supplierId,omitempty"`
	CompletedOrders  int     `db:"completed_orders" json:"completedOrders"`
	GrossAmount      float64 `db:"gross_amount" json:"grossAmount"`
	CommissionAmount float64 `db:"commission_amount" json:"commissionAmount"`
	NetEarnings      float64 `db:"net_earnings" json:"netEarnings"`
}

// RequestFilter фильтр списка заявок
type RequestFilter struct {
	Statuses   []RequestStatus
	CategoryID *int64
	CustomerID *int64
	Limit      int
	Offset     int
}

// OrderFilter фильтр списка заказов
type OrderFilter struct {
	CustomerID *int64
	SupplierID *int64
	Status     *OrderStatus
	Limit      int
	Offset     int
}

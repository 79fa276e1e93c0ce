package models

import "time"

// CreateRequestPayload тело запроса на создание заявки.
// Суммы здесь и в предложении ограничены колонками NUMERIC(12, 2).
type CreateRequestPayload struct {
	Title               string     `json:"title" validate:"required,min=3,max=200"`
	Description         string     `json:"description" validate:"required,min=10,max=5000"`
	BudgetMin           *float64   `json:"budgetMin" validate:"omitempty,gte=0,lte=9999999999.99"`
	BudgetMax           *float64   `json:"budgetMax" validate:"omitempty,gt=0,lte=9999999999.99"`
	DeliveryDate        *time.Time `json:"deliveryDate"`
	DeliveryFlexibility string     `json:"deliveryFlexibility" validate:"omitempty,oneof=strict flexible very_flexible"`
}

// SubmitBidPayload тело предложения поставщика
type SubmitBidPayload struct {
	Price         float64  `json:"price" validate:"required,gt=0,lte=9999999999.99"`
	DeliveryDays  int      `json:"deliveryDays" validate:"required,min=1,max=365"`
	MaterialsCost *float64 `json:"materialsCost" validate:"omitempty,gte=0,lte=9999999999.99"`
	LaborCost     *float64 `json:"laborCost" validate:"omitempty,gte=0,lte=9999999999.99"`
	OtherCost     *float64 `json:"otherCost" validate:"omitempty,gte=0,lte=9999999999.99"`
	Message       string   `json:"message" validate:"max=2000"`
	ExpiresInDays int      `json:"expiresInDays" validate:"omitempty,min=1,max=90"`
}

// OrderStatusPayload обновление статуса заказа поставщиком
type OrderStatusPayload struct {
	Status            string     `json:"status" validate:"required"`
	Note              string     `json:"note" validate:"max=1000"`
	TrackingNumber    *string    `json:"trackingNumber" validate:"omitempty,max=100"`
	Carrier           *string    `json:"carrier" validate:"omitempty,max=100"`
	EstimatedDelivery *time.Time `json:"estimatedDelivery"`
}

// OrderUpdatePayload заметка о ходе выполнения
type OrderUpdatePayload struct {
	Message  string  `json:"message" validate:"required,max=2000"`
	ImageURL *string `json:"imageUrl" validate:"omitempty,url"`
}

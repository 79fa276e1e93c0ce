package handlers

import (
	"context"
	"net/http"

	"orderbroker/internal/apperr"
	"orderbroker/models"
)

func (h *Handler) MyOrdersHandler(w http.ResponseWriter, r *http.Request) {
	params := parsePaginationParams(r)
	var status *models.OrderStatus
	if v := r.URL.Query().Get("status"); v != "" {
		st := models.OrderStatus(v)
		if _, ok := st.Rank(); !ok && st != models.OrderCancelled && st != models.OrderDisputed {
			h.writeError(w, r, apperr.Validation("invalid status %q", v))
			return
		}
		status = &st
	}
	orders, err := h.Services.Orders.ListMine(r.Context(), actorFrom(r), status, params.Limit, params.Offset)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

// EarningsHandler GET /api/orders/earnings
func (h *Handler) EarningsHandler(w http.ResponseWriter, r *http.Request) {
	e, err := h.Services.Orders.Earnings(r.Context(), actorFrom(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

// GetOrderHandler заказ с историей статусов и заметками поставщика
func (h *Handler) GetOrderHandler(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "orderId")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	details, err := h.Services.Orders.Get(r.Context(), actorFrom(r), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, details)
}

// UpdateOrderStatusHandler PUT /api/orders/{orderId}/status
func (h *Handler) UpdateOrderStatusHandler(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "orderId")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var p models.OrderStatusPayload
	if err := decodeBody(w, r, &p, false); err != nil {
		h.writeError(w, r, err)
		return
	}
	o, err := h.Services.Orders.UpdateStatus(r.Context(), actorFrom(r), id, p)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *Handler) AddOrderUpdateHandler(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "orderId")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var p models.OrderUpdatePayload
	if err := decodeBody(w, r, &p, false); err != nil {
		h.writeError(w, r, err)
		return
	}
	u, err := h.Services.Orders.AddUpdate(r.Context(), actorFrom(r), id, p)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

type orderAction func(ctx context.Context, actor models.Actor, orderID int64, note string) (*models.Order, error)

// orderActionHandler общий обработчик для confirm-delivery, complete, cancel и dispute
func (h *Handler) orderActionHandler(action orderAction) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := idParam(r, "orderId")
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		var p reasonPayload
		if err := decodeBody(w, r, &p, true); err != nil {
			h.writeError(w, r, err)
			return
		}
		o, err := action(r.Context(), actorFrom(r), id, p.Reason)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, o)
	}
}

func (h *Handler) ConfirmDeliveryHandler(w http.ResponseWriter, r *http.Request) {
	h.orderActionHandler(h.Services.Orders.ConfirmDelivery)(w, r)
}

func (h *Handler) CompleteOrderHandler(w http.ResponseWriter, r *http.Request) {
	h.orderActionHandler(h.Services.Orders.Complete)(w, r)
}

func (h *Handler) CancelOrderHandler(w http.ResponseWriter, r *http.Request) {
	h.orderActionHandler(h.Services.Orders.Cancel)(w, r)
}

func (h *Handler) DisputeOrderHandler(w http.ResponseWriter, r *http.Request) {
	h.orderActionHandler(h.Services.Orders.Dispute)(w, r)
}

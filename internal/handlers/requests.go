package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"orderbroker/internal/apperr"
	"orderbroker/models"
)

// CreateRequestHandler обрабатывает POST /api/requests
func (h *Handler) CreateRequestHandler(w http.ResponseWriter, r *http.Request) {
	var p models.CreateRequestPayload
	if err := decodeBody(w, r, &p, false); err != nil {
		h.writeError(w, r, err)
		return
	}
	req, err := h.Services.Requests.Create(r.Context(), actorFrom(r), p)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

// ListRequestsHandler витрина заявок с фильтрами status и category_id
func (h *Handler) ListRequestsHandler(w http.ResponseWriter, r *http.Request) {
	params := parsePaginationParams(r)
	f := models.RequestFilter{Limit: params.Limit, Offset: params.Offset}

	// статусы можно передать несколькими параметрами или через запятую
	for _, raw := range r.URL.Query()["status"] {
		for _, v := range strings.Split(raw, ",") {
			if v == "" {
				continue
			}
			st, ok := models.ParseRequestStatus(v)
			if !ok {
				h.writeError(w, r, apperr.Validation("invalid status %q", v))
				return
			}
			f.Statuses = append(f.Statuses, st)
		}
	}
	if v := r.URL.Query().Get("category_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id <= 0 {
			h.writeError(w, r, apperr.Validation("invalid category_id"))
			return
		}
		f.CategoryID = &id
	}

	list, err := h.Services.Requests.List(r.Context(), actorFrom(r), f)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// MyRequestsHandler GET /api/requests/my
func (h *Handler) MyRequestsHandler(w http.ResponseWriter, r *http.Request) {
	params := parsePaginationParams(r)
	list, err := h.Services.Requests.ListMine(r.Context(), actorFrom(r), params.Limit, params.Offset)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handler) GetRequestHandler(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "requestId")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	req, err := h.Services.Requests.Get(r.Context(), actorFrom(r), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (h *Handler) CancelRequestHandler(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "requestId")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var p reasonPayload
	if err := decodeBody(w, r, &p, true); err != nil {
		h.writeError(w, r, err)
		return
	}
	req, err := h.Services.Requests.Cancel(r.Context(), actorFrom(r), id, strings.TrimSpace(p.Reason))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

// SetCategoryHandler PUT /api/requests/{requestId}/category, только администратор
func (h *Handler) SetCategoryHandler(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "requestId")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var p struct {
		CategoryID int64 `json:"categoryId"`
	}
	if err := decodeBody(w, r, &p, false); err != nil {
		h.writeError(w, r, err)
		return
	}
	if p.CategoryID <= 0 {
		h.writeError(w, r, apperr.Validation("categoryId is required"))
		return
	}
	req, err := h.Services.Requests.SetCategory(r.Context(), actorFrom(r), id, p.CategoryID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

// ClassificationHistoryHandler журнал попыток категоризации заявки
func (h *Handler) ClassificationHistoryHandler(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "requestId")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	logs, err := h.Services.Requests.ClassificationHistory(r.Context(), actorFrom(r), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, logs)
}

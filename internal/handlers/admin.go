package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"orderbroker/internal/apperr"
	"orderbroker/internal/queue"
	"orderbroker/internal/scheduler"
	"orderbroker/models"
)

// QueueStatsHandler GET /api/admin/queue/stats
func (h *Handler) QueueStatsHandler(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Queue.Stats(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) QueueItemsHandler(w http.ResponseWriter, r *http.Request) {
	params := parsePaginationParams(r)
	var status *models.QueueStatus
	if v := r.URL.Query().Get("status"); v != "" {
		st, ok := models.ParseQueueStatus(v)
		if !ok {
			h.writeError(w, r, apperr.Validation("invalid status %q", v))
			return
		}
		status = &st
	}
	items, err := h.Queue.Items(r.Context(), status, params.Limit, params.Offset)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

// EnqueueHandler ставит заявку в очередь или меняет приоритет активного элемента
func (h *Handler) EnqueueHandler(w http.ResponseWriter, r *http.Request) {
	var p struct {
		RequestID int64  `json:"requestId"`
		Priority  string `json:"priority"`
	}
	if err := decodeBody(w, r, &p, false); err != nil {
		h.writeError(w, r, err)
		return
	}
	if p.RequestID <= 0 {
		h.writeError(w, r, apperr.Validation("requestId is required"))
		return
	}
	priority := models.PriorityNormal
	if p.Priority != "" {
		var ok bool
		if priority, ok = models.ParsePriority(p.Priority); !ok {
			h.writeError(w, r, apperr.Validation("invalid priority %q", p.Priority))
			return
		}
	}
	item, err := h.Queue.Enqueue(r.Context(), p.RequestID, priority)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (h *Handler) CancelQueueItemHandler(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "itemId")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	item, err := h.Queue.Cancel(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (h *Handler) RetryFailedHandler(w http.ResponseWriter, r *http.Request) {
	n, err := h.Queue.RetryFailed(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"retried": n})
}

// DrainHandler POST /api/admin/queue/drain?batch=
func (h *Handler) DrainHandler(w http.ResponseWriter, r *http.Request) {
	batch := h.DrainBatch
	if v := r.URL.Query().Get("batch"); v != "" {
		b, err := strconv.Atoi(v)
		if err != nil || b <= 0 || b > 100 {
			h.writeError(w, r, apperr.Validation("batch must be between 1 and 100"))
			return
		}
		batch = b
	}
	var summary queue.Summary
	drain := func(ctx context.Context) error {
		var err error
		summary, err = h.Queue.Drain(ctx, batch)
		return err
	}
	var err error
	if h.Tasks != nil {
		err = h.Tasks.Exclusive(r.Context(), queue.DrainTask, drain)
	} else {
		err = drain(r.Context())
	}
	if errors.Is(err, scheduler.ErrBusy) {
		err = apperr.Conflict("queue drain is already running")
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

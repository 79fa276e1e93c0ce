package handlers

import (
	"net/http"

	"orderbroker/models"
)

// SubmitBidHandler POST /api/requests/{requestId}/bids
func (h *Handler) SubmitBidHandler(w http.ResponseWriter, r *http.Request) {
	requestID, err := idParam(r, "requestId")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var p models.SubmitBidPayload
	if err := decodeBody(w, r, &p, false); err != nil {
		h.writeError(w, r, err)
		return
	}
	bid, err := h.Services.Bids.Submit(r.Context(), actorFrom(r), requestID, p)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, bid)
}

// RequestBidsHandler GET /api/requests/{requestId}/bids
func (h *Handler) RequestBidsHandler(w http.ResponseWriter, r *http.Request) {
	requestID, err := idParam(r, "requestId")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	params := parsePaginationParams(r)
	bids, err := h.Services.Bids.ListByRequest(r.Context(), actorFrom(r), requestID, params.Limit, params.Offset)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, bids)
}

// MyBidsHandler возвращает список предложений поставщика
func (h *Handler) MyBidsHandler(w http.ResponseWriter, r *http.Request) {
	params := parsePaginationParams(r)
	bids, err := h.Services.Bids.ListMine(r.Context(), actorFrom(r), params.Limit, params.Offset)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, bids)
}

func (h *Handler) GetBidHandler(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "bidId")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	bid, err := h.Services.Bids.Get(r.Context(), actorFrom(r), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, bid)
}

// AcceptBidHandler принимает предложение и возвращает созданный заказ
func (h *Handler) AcceptBidHandler(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "bidId")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := h.Services.Bids.Accept(r.Context(), actorFrom(r), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) RejectBidHandler(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "bidId")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var p reasonPayload
	if err := decodeBody(w, r, &p, true); err != nil {
		h.writeError(w, r, err)
		return
	}
	bid, err := h.Services.Bids.Reject(r.Context(), actorFrom(r), id, p.Reason)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, bid)
}

func (h *Handler) CancelBidHandler(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "bidId")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var p reasonPayload
	if err := decodeBody(w, r, &p, true); err != nil {
		h.writeError(w, r, err)
		return
	}
	bid, err := h.Services.Bids.Cancel(r.Context(), actorFrom(r), id, p.Reason)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, bid)
}

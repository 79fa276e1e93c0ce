package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"orderbroker/internal/apperr"
	"orderbroker/internal/catalog"
	"orderbroker/internal/queue"
	"orderbroker/internal/service"
	"orderbroker/models"

	"github.com/go-chi/chi/v5"
)

// QueueAdmin операции очереди категоризации, доступные администратору
type QueueAdmin interface {
	Enqueue(ctx context.Context, requestID int64, priority models.Priority) (*models.QueueItem, error)
	Drain(ctx context.Context, batch int) (queue.Summary, error)
	Cancel(ctx context.Context, itemID int64) (*models.QueueItem, error)
	RetryFailed(ctx context.Context) (int64, error)
	Stats(ctx context.Context) (models.QueueStats, error)
	Items(ctx context.Context, status *models.QueueStatus, limit, offset int) ([]models.QueueItem, error)
}

// TaskGuard запрет наложения фоновых задач, общий с планировщиком
type TaskGuard interface {
	Exclusive(ctx context.Context, name string, fn func(context.Context) error) error
}

// Handler транспорт поверх сервисов жизненного цикла
type Handler struct {
	Services   *service.Services
	Queue      QueueAdmin
	Catalog    *catalog.Catalog
	DrainBatch int
	// Tasks необязателен; без него ручной проход очереди не согласуется с планировщиком
	Tasks  TaskGuard
	logger *slog.Logger
}

// NewHandler создает новый Handler
func NewHandler(svc *service.Services, q QueueAdmin, cat *catalog.Catalog, drainBatch int, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if drainBatch <= 0 {
		drainBatch = 10
	}
	return &Handler{Services: svc, Queue: q, Catalog: cat, DrainBatch: drainBatch, logger: logger}
}

// PingHandler отвечает "ok" для проверки сервера
func (h *Handler) PingHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// CategoriesHandler GET /api/categories
func (h *Handler) CategoriesHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Catalog.List())
}

type errorResponse struct {
	Error   apperr.Kind `json:"error"`
	Message string      `json:"message"`
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := apperr.HTTPStatus(err)
	kind := apperr.KindOf(err)
	if code >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "request failed", "method", r.Method, "path", r.URL.Path, "err", err)
	}
	if kind == "" || kind == apperr.KindFatal {
		kind = "INTERNAL"
	}
	writeJSON(w, code, errorResponse{Error: kind, Message: apperr.Message(err)})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// decodeBody читает JSON тело; при optional пустое тело допустимо
func decodeBody(w http.ResponseWriter, r *http.Request, dst any, optional bool) error {
	// Ограничение размера тела, чтобы избежать DoS
	r.Body = http.MaxBytesReader(w, r.Body, 1048576)
	defer r.Body.Close()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		return apperr.Validation("failed to read request body")
	}
	if optional && len(strings.TrimSpace(string(body))) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, dst); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return apperr.Validation("invalid value for field %s", typeErr.Field)
		}
		return apperr.Validation("invalid JSON format")
	}
	return nil
}

func idParam(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.Validation("invalid %s", name)
	}
	return id, nil
}

type PaginationParams struct {
	Limit  int
	Offset int
}

// parsePaginationParams парсит limit и offset из query, с дефолтами и ограничениями
func parsePaginationParams(r *http.Request) PaginationParams {
	var params PaginationParams
	limitStr := r.URL.Query().Get("limit")
	offsetStr := r.URL.Query().Get("offset")

	params.Limit = 5 // дефолт
	params.Offset = 0

	if limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 50 {
			params.Limit = l
		}
	}
	if offsetStr != "" {
		if o, err := strconv.Atoi(offsetStr); err == nil && o >= 0 {
			params.Offset = o
		}
	}
	return params
}

// reasonPayload необязательная причина для отмен и отклонений
type reasonPayload struct {
	Reason string `json:"reason"`
}

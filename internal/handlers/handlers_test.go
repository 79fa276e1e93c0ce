package handlers_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"orderbroker/db"
	"orderbroker/internal/catalog"
	"orderbroker/internal/classifier"
	"orderbroker/internal/handlers"
	"orderbroker/internal/handlers/testutils"
	"orderbroker/internal/notify"
	"orderbroker/internal/queue"
	"orderbroker/internal/scheduler"
	"orderbroker/internal/service"
	"orderbroker/models"

	"github.com/stretchr/testify/require"
)

var (
	customer = models.Actor{ID: 10, Role: models.RoleCustomer}
	supplier = models.Actor{ID: 20, Role: models.RoleSupplier}
	admin    = models.Actor{ID: 1, Role: models.RoleAdmin}
)

type electronics struct{}

func (electronics) Classify(ctx context.Context, text string, allowed []catalog.Category) (*classifier.Result, error) {
	return &classifier.Result{CategoryID: 7, Confidence: 0.92, Reasoning: "pcb", Provider: "stub"}, nil
}
func (electronics) Provider() string { return "stub" }
func (electronics) Model() string    { return "stub-1" }

func newServer(t *testing.T) (*handlers.Handler, http.Handler) {
	t.Helper()
	store := db.NewMemoryStorage()
	cat := catalog.Default()
	svc := service.New(store, cat, notify.NewMemory(), service.Settings{CommissionRate: 0.1, MinConfidence: 0.6}, nil)
	proc := queue.NewProcessor(store, electronics{}, cat, svc.Requests, queue.Options{}, nil)
	h := handlers.NewHandler(svc, proc, cat, 10, nil)
	return h, handlers.NewRouter(h, nil)
}

func do(t *testing.T, router http.Handler, method, path string, actor *models.Actor, body string) (int, []byte) {
	t.Helper()
	req := testutils.NewJSONRequest(method, path, body, actor)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	res := w.Result()
	defer res.Body.Close()
	out, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return res.StatusCode, out
}

func decode[T any](t *testing.T, body []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(body, &v), string(body))
	return v
}

func TestPingHandler(t *testing.T) {
	_, router := newServer(t)
	code, body := do(t, router, http.MethodGet, "/api/ping", nil, "")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "ok", string(body))
}

func TestCategoriesHandler(t *testing.T) {
	_, router := newServer(t)
	code, body := do(t, router, http.MethodGet, "/api/categories", nil, "")
	require.Equal(t, http.StatusOK, code)
	require.Contains(t, string(body), "electronics")
}

func TestMissingActorHeaders(t *testing.T) {
	_, router := newServer(t)
	code, body := do(t, router, http.MethodGet, "/api/requests", nil, "")
	require.Equal(t, http.StatusUnauthorized, code)
	require.Contains(t, string(body), "UNAUTHORIZED")
}

func TestCreateRequestValidation(t *testing.T) {
	_, router := newServer(t)

	code, body := do(t, router, http.MethodPost, "/api/requests", &customer, `{"title":`)
	require.Equal(t, http.StatusBadRequest, code)
	require.Contains(t, string(body), "invalid JSON format")

	code, body = do(t, router, http.MethodPost, "/api/requests", &customer, `{"title":"ab","description":"x"}`)
	require.Equal(t, http.StatusBadRequest, code)
	require.Contains(t, string(body), "VALIDATION_ERROR")

	code, _ = do(t, router, http.MethodPost, "/api/requests", &supplier,
		`{"title":"Sensor board","description":"Board for a humidity sensor"}`)
	require.Equal(t, http.StatusForbidden, code)
}

func TestAdminRoutesRequireAdmin(t *testing.T) {
	_, router := newServer(t)
	code, _ := do(t, router, http.MethodGet, "/api/admin/queue/stats", &customer, "")
	require.Equal(t, http.StatusForbidden, code)

	code, body := do(t, router, http.MethodGet, "/api/admin/queue/stats", &admin, "")
	require.Equal(t, http.StatusOK, code)
	require.Contains(t, string(body), "pending")

	code, _ = do(t, router, http.MethodPost, "/api/admin/queue/drain?batch=0", &admin, "")
	require.Equal(t, http.StatusBadRequest, code)
}

func TestRequestToOrderFlow(t *testing.T) {
	_, router := newServer(t)

	code, body := do(t, router, http.MethodPost, "/api/requests", &customer,
		`{"title":"LED driver board","description":"Custom PCB with an LED driver","budgetMax":500}`)
	require.Equal(t, http.StatusCreated, code, string(body))
	req := decode[models.Request](t, body)
	require.Equal(t, models.RequestPendingCategorization, req.Status)

	// до категоризации поставщик заявку не видит
	code, _ = do(t, router, http.MethodGet, fmt.Sprintf("/api/requests/%d", req.ID), &supplier, "")
	require.Equal(t, http.StatusNotFound, code)

	code, body = do(t, router, http.MethodPost, "/api/admin/queue/drain", &admin, "")
	require.Equal(t, http.StatusOK, code)
	summary := decode[queue.Summary](t, body)
	require.Equal(t, 1, summary.Succeeded)

	code, body = do(t, router, http.MethodGet, "/api/requests?category_id=7", &supplier, "")
	require.Equal(t, http.StatusOK, code)
	list := decode[[]models.Request](t, body)
	require.Len(t, list, 1)
	require.Equal(t, models.RequestOpenForBids, list[0].Status)

	code, body = do(t, router, http.MethodPost, fmt.Sprintf("/api/requests/%d/bids", req.ID), &supplier,
		`{"price":150,"deliveryDays":10,"message":"can start next week"}`)
	require.Equal(t, http.StatusCreated, code, string(body))
	bid := decode[models.Bid](t, body)

	code, _ = do(t, router, http.MethodPost, fmt.Sprintf("/api/requests/%d/bids", req.ID), &supplier,
		`{"price":140,"deliveryDays":10}`)
	require.Equal(t, http.StatusConflict, code)

	code, body = do(t, router, http.MethodPost, fmt.Sprintf("/api/bids/%d/accept", bid.ID), &customer, "")
	require.Equal(t, http.StatusOK, code, string(body))
	acc := decode[service.Acceptance](t, body)
	require.InDelta(t, 150, acc.Order.TotalAmount, 1e-9)
	orderPath := fmt.Sprintf("/api/orders/%d", acc.Order.ID)

	code, body = do(t, router, http.MethodPost, fmt.Sprintf("/api/bids/%d/accept", bid.ID), &customer, "")
	require.Equal(t, http.StatusConflict, code)
	require.Contains(t, string(body), "bid already accepted")

	code, body = do(t, router, http.MethodPut, orderPath+"/status", &supplier,
		`{"status":"shipped","trackingNumber":"TRK-1","carrier":"DHL"}`)
	require.Equal(t, http.StatusOK, code, string(body))

	code, body = do(t, router, http.MethodPut, orderPath+"/status", &supplier, `{"status":"in_production"}`)
	require.Equal(t, http.StatusConflict, code)
	require.Contains(t, string(body), "INVALID_STATE")

	code, _ = do(t, router, http.MethodPost, orderPath+"/updates", &supplier, `{"message":"handed to courier"}`)
	require.Equal(t, http.StatusCreated, code)

	code, _ = do(t, router, http.MethodPost, orderPath+"/confirm-delivery", &customer, "")
	require.Equal(t, http.StatusOK, code)
	code, _ = do(t, router, http.MethodPost, orderPath+"/complete", &customer, `{"reason":"all good"}`)
	require.Equal(t, http.StatusOK, code)

	code, body = do(t, router, http.MethodGet, orderPath, &customer, "")
	require.Equal(t, http.StatusOK, code)
	details := decode[models.OrderDetails](t, body)
	require.Equal(t, models.OrderCompleted, details.Order.Status)
	require.Len(t, details.History, 4)
	require.Len(t, details.Updates, 1)

	code, body = do(t, router, http.MethodGet, "/api/orders/earnings", &supplier, "")
	require.Equal(t, http.StatusOK, code)
	earnings := decode[models.Earnings](t, body)
	require.Equal(t, 1, earnings.CompletedOrders)
	require.InDelta(t, 135, earnings.NetEarnings, 1e-9)

	code, body = do(t, router, http.MethodGet, fmt.Sprintf("/api/requests/%d", req.ID), &customer, "")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, models.RequestCompleted, decode[models.Request](t, body).Status)
}

func TestListRequestsRejectsUnknownStatus(t *testing.T) {
	_, router := newServer(t)
	code, _ := do(t, router, http.MethodGet, "/api/requests?status=bogus", &supplier, "")
	require.Equal(t, http.StatusBadRequest, code)

	code, _ = do(t, router, http.MethodGet, "/api/requests?status=pending_categorization", &supplier, "")
	require.Equal(t, http.StatusForbidden, code)
}

func TestGetRequestHandlerInvalidID(t *testing.T) {
	h, _ := newServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/requests/abc", nil)
	req = testutils.WithChiURLParams(req, map[string]string{"requestId": "abc"})
	req = handlers.WithActor(req, customer)
	w := httptest.NewRecorder()

	h.GetRequestHandler(w, req)

	res := w.Result()
	defer res.Body.Close()
	require.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestAdminEnqueueAndCancel(t *testing.T) {
	_, router := newServer(t)
	code, body := do(t, router, http.MethodPost, "/api/requests", &customer,
		`{"title":"Gearbox housing","description":"Aluminium gearbox housing, CNC milled"}`)
	require.Equal(t, http.StatusCreated, code)
	req := decode[models.Request](t, body)

	code, body = do(t, router, http.MethodPost, "/api/admin/queue", &admin,
		fmt.Sprintf(`{"requestId":%d,"priority":"urgent"}`, req.ID))
	require.Equal(t, http.StatusOK, code, string(body))
	item := decode[models.QueueItem](t, body)
	require.Equal(t, models.PriorityUrgent, item.Priority)

	code, _ = do(t, router, http.MethodPost, "/api/admin/queue", &admin,
		fmt.Sprintf(`{"requestId":%d,"priority":"asap"}`, req.ID))
	require.Equal(t, http.StatusBadRequest, code)

	code, body = do(t, router, http.MethodPost, fmt.Sprintf("/api/admin/queue/%d/cancel", item.ID), &admin, "")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, models.QueueCancelled, decode[models.QueueItem](t, body).Status)

	code, body = do(t, router, http.MethodGet, "/api/admin/queue/items?status=cancelled", &admin, "")
	require.Equal(t, http.StatusOK, code)
	require.Len(t, decode[[]models.QueueItem](t, body), 1)

	// отмена элемента очереди не блокирует заявку навсегда: администратор может назначить категорию
	code, _ = do(t, router, http.MethodPut, fmt.Sprintf("/api/requests/%d/category", req.ID), &admin, `{"categoryId":2}`)
	require.Equal(t, http.StatusOK, code)
}

func TestManualDrainSharesSchedulerGuard(t *testing.T) {
	h, router := newServer(t)
	sched := scheduler.New(nil)
	require.NoError(t, sched.Add(scheduler.Task{
		Name:     queue.DrainTask,
		Interval: time.Hour,
		Run:      func(context.Context) error { return nil },
	}))
	h.Tasks = sched

	// плановый проход ещё идёт
	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- sched.Exclusive(context.Background(), queue.DrainTask, func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	code, body := do(t, router, http.MethodPost, "/api/admin/queue/drain", &admin, "")
	require.Equal(t, http.StatusConflict, code)
	require.Contains(t, string(body), "queue drain is already running")

	close(release)
	require.NoError(t, <-done)

	code, body = do(t, router, http.MethodPost, "/api/admin/queue/drain", &admin, "")
	require.Equal(t, http.StatusOK, code, string(body))
}

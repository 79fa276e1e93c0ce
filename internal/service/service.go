// Package service жизненные циклы заявок, предложений и заказов.
// Каждое изменение статуса выполняется в транзакции хранилища условным
// обновлением; уведомления отправляются только после фиксации.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"reflect"
	"slices"
	"strings"
	"time"

	"orderbroker/db"
	"orderbroker/internal/apperr"
	"orderbroker/internal/catalog"
	"orderbroker/internal/notify"
	"orderbroker/models"

	"github.com/go-playground/validator/v10"
)

// Settings параметры платформы, влияющие на бизнес-правила
type Settings struct {
	CommissionRate float64
	BidTTL         time.Duration
	RequestTTL     time.Duration
	MinConfidence  float64
}

type core struct {
	store    db.Store
	catalog  *catalog.Catalog
	notifier notify.Notifier
	validate *validator.Validate
	settings Settings
	logger   *slog.Logger
	now      func() time.Time
}

// Services точка входа для HTTP-слоя и фоновых задач
type Services struct {
	Requests *Requests
	Bids     *Bids
	Orders   *Orders
}

func New(store db.Store, cat *catalog.Catalog, notifier notify.Notifier, settings Settings, logger *slog.Logger) *Services {
	if logger == nil {
		logger = slog.Default()
	}
	if notifier == nil {
		notifier = notify.NewLog(logger)
	}
	if settings.BidTTL <= 0 {
		settings.BidTTL = 7 * 24 * time.Hour
	}
	if settings.RequestTTL <= 0 {
		settings.RequestTTL = 30 * 24 * time.Hour
	}
	c := &core{
		store:    store,
		catalog:  cat,
		notifier: notifier,
		validate: newValidator(),
		settings: settings,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
	requests := &Requests{core: c}
	return &Services{
		Requests: requests,
		Bids:     &Bids{core: c, requests: requests},
		Orders:   &Orders{core: c},
	}
}

// WithClock подменяет источник времени во всех сервисах
func (s *Services) WithClock(now func() time.Time) *Services {
	// core общий для всех сервисов
	s.Requests.core.now = now
	return s
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// в сообщениях об ошибках - имена полей из JSON
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func (c *core) check(payload any) error {
	err := c.validate.Struct(payload)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperr.Validation("invalid payload: %v", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msg := fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag())
		if fe.Param() != "" {
			msg += "=" + fe.Param()
		}
		msgs = append(msgs, msg)
	}
	return apperr.Validation("%s", strings.Join(msgs, "; "))
}

func requireRole(a models.Actor, roles ...models.Role) error {
	if slices.Contains(roles, a.Role) {
		return nil
	}
	return apperr.Forbidden("role %q is not allowed to perform this action", a.Role)
}

// notFound приводит ErrNotFound хранилища к сообщению о конкретной сущности
func notFound(err error, what string) error {
	if errors.Is(err, db.ErrNotFound) {
		return apperr.NotFound("%s not found", what)
	}
	return err
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func ptr[T any](v T) *T {
	return &v
}

// notifyAll рассылает уведомления после коммита, ошибки доставки не влияют на операцию
func (c *core) notifyAll(ctx context.Context, typ notify.Type, payload any, users ...int64) {
	for _, id := range users {
		c.notifier.Notify(ctx, id, typ, payload)
	}
}

func pageArgs(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = 5
	}
	if limit > 50 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

package handlers

import (
	"context"
	"net/http"
	"strconv"

	"orderbroker/internal/apperr"
	"orderbroker/models"
)

type actorKey struct{}

// Заголовки с пользователем; аутентификация выполняется шлюзом перед сервисом
const (
	HeaderUserID   = "X-User-ID"
	HeaderUserRole = "X-User-Role"
)

// ActorMiddleware кладёт models.Actor из заголовков в контекст запроса
func (h *Handler) ActorMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(r.Header.Get(HeaderUserID), 10, 64)
		if err != nil || id <= 0 {
			h.writeError(w, r, apperr.New(apperr.KindUnauthorized, "missing or invalid %s header", HeaderUserID))
			return
		}
		role, ok := models.ParseRole(r.Header.Get(HeaderUserRole))
		if !ok {
			h.writeError(w, r, apperr.New(apperr.KindUnauthorized, "missing or invalid %s header", HeaderUserRole))
			return
		}
		ctx := context.WithValue(r.Context(), actorKey{}, models.Actor{ID: id, Role: role})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAdmin пропускает только администраторов
func (h *Handler) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if actorFrom(r).Role != models.RoleAdmin {
			h.writeError(w, r, apperr.Forbidden("admin role required"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func actorFrom(r *http.Request) models.Actor {
	a, _ := r.Context().Value(actorKey{}).(models.Actor)
	return a
}

// WithActor для тестов и внутренних вызовов без middleware
func WithActor(r *http.Request, a models.Actor) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), actorKey{}, a))
}

package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const publishTimeout = 2 * time.Second

// Redis публикует события в канал <prefix>:<userID>
type Redis struct {
	client *redis.Client
	prefix string
	logger *slog.Logger
}

func NewRedis(addr, password, prefix string, logger *slog.Logger) (*Redis, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, errors.New("redis addr is required")
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "orderbroker:notify"
	}
	if logger == nil {
		logger = slog.Default()
	}
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Redis{client: client, prefix: prefix, logger: logger}, nil
}

func (r *Redis) Channel(userID int64) string {
	return fmt.Sprintf("%s:%d", r.prefix, userID)
}

func (r *Redis) Notify(ctx context.Context, userID int64, typ Type, payload any) {
	data, err := json.Marshal(Event{UserID: userID, Type: typ, Payload: payload, At: time.Now().UTC()})
	if err != nil {
		r.logger.Error("notification marshal failed", "type", typ, "err", err)
		return
	}
	// отмена HTTP-запроса не должна терять уже зафиксированное уведомление
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := r.client.Publish(ctx, r.Channel(userID), data).Err(); err != nil {
		r.logger.Warn("notification publish failed", "user_id", userID, "type", typ, "err", err)
	}
}

func (r *Redis) Close() error {
	return r.client.Close()
}

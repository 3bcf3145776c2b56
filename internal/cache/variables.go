// Package cache — кэш глобальных переменных в Redis.
//
// Глобальные переменные нужны каждому poll, который выдал работу.
// Кэш снимает эту нагрузку с PostgreSQL: снимок всех переменных
// хранится одним ключом с TTL. Redis недоступен — чтение идёт
// напрямую во внутреннее хранилище.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shaiso/Relay/internal/repo"
)

// DefaultKey — ключ снимка переменных.
const DefaultKey = "relay:variables:globals"

// Variables — repo.Variables с кэшем в Redis.
type Variables struct {
	client *redis.Client
	inner  repo.Variables
	key    string
	ttl    time.Duration
	logger *slog.Logger
}

var _ repo.Variables = (*Variables)(nil)

// NewVariables создаёт кэширующую обёртку над inner.
func NewVariables(client *redis.Client, inner repo.Variables, ttl time.Duration, logger *slog.Logger) *Variables {
	if logger == nil {
		logger = slog.Default()
	}
	return &Variables{
		client: client,
		inner:  inner,
		key:    DefaultKey,
		ttl:    ttl,
		logger: logger.With("component", "variables-cache"),
	}
}

// NewClient создаёт клиент Redis по URL и проверяет соединение.
func NewClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// Globals возвращает переменные из кэша или из inner.
func (v *Variables) Globals(ctx context.Context) (map[string]string, error) {
	raw, err := v.client.Get(ctx, v.key).Bytes()
	switch {
	case err == nil:
		var vars map[string]string
		if err := json.Unmarshal(raw, &vars); err == nil {
			return vars, nil
		}
		v.logger.Warn("corrupted cache entry, reloading")
	case !errors.Is(err, redis.Nil):
		v.logger.Warn("redis unavailable, reading store", "error", err)
		return v.inner.Globals(ctx)
	}

	vars, err := v.inner.Globals(ctx)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(vars); err == nil {
		if err := v.client.Set(ctx, v.key, data, v.ttl).Err(); err != nil {
			v.logger.Warn("failed to cache variables", "error", err)
		}
	}
	return vars, nil
}

// Invalidate удаляет снимок, следующий Globals перечитает хранилище.
func (v *Variables) Invalidate(ctx context.Context) error {
	return v.client.Del(ctx, v.key).Err()
}

package api

import (
	"context"
	"log/slog"

	"github.com/shaiso/Relay/internal/dispatch"
	"github.com/shaiso/Relay/internal/orchestrator"
	"github.com/shaiso/Relay/internal/registry"
	"github.com/shaiso/Relay/internal/repo"
)

// Handler — главный обработчик API с зависимостями.
type Handler struct {
	orch     *orchestrator.Orchestrator
	router   *dispatch.Router
	registry *registry.Registry
	tags     repo.TagIndex
	health   func(ctx context.Context) error
	logger   *slog.Logger
}

// Config — конфигурация для создания Handler.
type Config struct {
	Orchestrator *orchestrator.Orchestrator
	Router       *dispatch.Router
	Registry     *registry.Registry
	Tags         repo.TagIndex

	// Health проверяет зависимости для /healthz (опционально).
	Health func(ctx context.Context) error

	Logger *slog.Logger
}

// NewHandler создаёт новый Handler.
func NewHandler(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Handler{
		orch:     cfg.Orchestrator,
		router:   cfg.Router,
		registry: cfg.Registry,
		tags:     cfg.Tags,
		health:   cfg.Health,
		logger:   logger.With("component", "api"),
	}
}

// Package registry — реестр worker'ов.
//
// Worker идентифицируется hostname. Регистрация создаёт запись
// или обновляет ip и last_seen существующей; теги записываются
// только при первой регистрации, дальше ими управляет оператор.
//
// OFFLINE не хранится: статус вычисляется при чтении по last_seen.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Relay/internal/domain"
	"github.com/shaiso/Relay/internal/repo"
)

// Ошибки реестра.
var (
	// ErrWorkerNotFound — worker с таким id или hostname не зарегистрирован.
	ErrWorkerNotFound = errors.New("worker not found")

	// ErrInvalidHostname — пустой hostname.
	ErrInvalidHostname = errors.New("hostname is required")
)

// Registry — реестр worker'ов.
type Registry struct {
	workers      repo.Workers
	offlineAfter time.Duration
	now          func() time.Time
	logger       *slog.Logger
}

// Config — конфигурация Registry.
type Config struct {
	Workers repo.Workers

	// OfflineAfter — порог OFFLINE (default: 60s).
	OfflineAfter time.Duration

	// Now — источник времени (для тестов).
	Now func() time.Time

	Logger *slog.Logger
}

// New создаёт Registry.
func New(cfg Config) *Registry {
	offlineAfter := cfg.OfflineAfter
	if offlineAfter <= 0 {
		offlineAfter = domain.DefaultOfflineAfter
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Registry{
		workers:      cfg.Workers,
		offlineAfter: offlineAfter,
		now:          now,
		logger:       logger.With("component", "registry"),
	}
}

// RegisterRequest — данные саморегистрации worker'а.
type RegisterRequest struct {
	Hostname  string
	Tags      []string
	IPAddress string
}

// Register создаёт или обновляет worker'а.
func (r *Registry) Register(ctx context.Context, req RegisterRequest) (*domain.Worker, error) {
	hostname := strings.TrimSpace(req.Hostname)
	if hostname == "" {
		return nil, ErrInvalidHostname
	}

	w, err := r.workers.Register(ctx, &domain.Worker{
		ID:        uuid.New(),
		Hostname:  hostname,
		IPAddress: req.IPAddress,
		Tags:      domain.NormalizeTags(req.Tags),
		Status:    domain.WorkerStatusOnline,
		LastSeen:  r.now(),
	})
	if err != nil {
		return nil, fmt.Errorf("register worker: %w", err)
	}

	r.logger.Info("worker registered",
		"worker_id", w.ID,
		"hostname", w.Hostname,
		"tags", w.Tags,
	)
	return r.withEffectiveStatus(w), nil
}

// Heartbeat обновляет last_seen. DISABLED worker остаётся DISABLED.
func (r *Registry) Heartbeat(ctx context.Context, hostname string) (*domain.Worker, error) {
	w, err := r.workers.Touch(ctx, strings.TrimSpace(hostname), r.now())
	if err != nil {
		return nil, r.mapErr(err)
	}
	return r.withEffectiveStatus(w), nil
}

// Get возвращает worker'а по id с вычисленным статусом.
func (r *Registry) Get(ctx context.Context, id uuid.UUID) (*domain.Worker, error) {
	w, err := r.workers.GetByID(ctx, id)
	if err != nil {
		return nil, r.mapErr(err)
	}
	return r.withEffectiveStatus(w), nil
}

// List возвращает всех worker'ов с вычисленным статусом.
func (r *Registry) List(ctx context.Context) ([]domain.Worker, error) {
	workers, err := r.workers.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list workers: %w", err)
	}

	now := r.now()
	for i := range workers {
		workers[i].Status = workers[i].EffectiveStatus(now, r.offlineAfter)
	}
	return workers, nil
}

// Online возвращает worker'ов, которые могут получить работу прямо сейчас:
// не DISABLED и видны в пределах порога.
func (r *Registry) Online(ctx context.Context) ([]domain.Worker, error) {
	workers, err := r.workers.ListOnline(ctx, r.now().Add(-r.offlineAfter))
	if err != nil {
		return nil, fmt.Errorf("list online workers: %w", err)
	}
	return workers, nil
}

// SetTags заменяет теги worker'а (операторское действие).
func (r *Registry) SetTags(ctx context.Context, id uuid.UUID, tags []string) (*domain.Worker, error) {
	w, err := r.workers.SetTags(ctx, id, domain.NormalizeTags(tags))
	if err != nil {
		return nil, r.mapErr(err)
	}

	r.logger.Info("worker tags updated", "worker_id", id, "tags", w.Tags)
	return r.withEffectiveStatus(w), nil
}

// SetEnabled включает или отключает выдачу работы worker'у.
func (r *Registry) SetEnabled(ctx context.Context, id uuid.UUID, enabled bool) (*domain.Worker, error) {
	status := domain.WorkerStatusDisabled
	if enabled {
		status = domain.WorkerStatusOnline
	}

	w, err := r.workers.SetStatus(ctx, id, status)
	if err != nil {
		return nil, r.mapErr(err)
	}

	r.logger.Info("worker status updated", "worker_id", id, "enabled", enabled)
	return r.withEffectiveStatus(w), nil
}

// OfflineAfter возвращает порог OFFLINE.
func (r *Registry) OfflineAfter() time.Duration {
	return r.offlineAfter
}

func (r *Registry) withEffectiveStatus(w *domain.Worker) *domain.Worker {
	w.Status = w.EffectiveStatus(r.now(), r.offlineAfter)
	return w
}

func (r *Registry) mapErr(err error) error {
	if errors.Is(err, repo.ErrNotFound) {
		return ErrWorkerNotFound
	}
	return err
}

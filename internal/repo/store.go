package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Relay/internal/domain"
)

// Executions — хранилище task executions.
type Executions interface {
	// Create сохраняет execution. Для execution внутри run второй execution
	// того же (run, node) отклоняется с ErrAlreadyExists.
	Create(ctx context.Context, e *domain.TaskExecution) error

	GetByID(ctx context.Context, id uuid.UUID) (*domain.TaskExecution, error)

	// ListByRunID возвращает executions run в порядке создания.
	ListByRunID(ctx context.Context, runID uuid.UUID) ([]domain.TaskExecution, error)

	// ListCandidates возвращает PENDING executions, которые может взять worker:
	// закреплённые за ним, глобальные и с пересекающимися тегами. FIFO.
	// limit <= 0 — без ограничения.
	ListCandidates(ctx context.Context, workerID uuid.UUID, tags []string, limit int) ([]domain.TaskExecution, error)

	// Claim атомарно переводит PENDING → RUNNING. ErrInvalidState,
	// если execution уже не PENDING или закреплён за другим worker'ом.
	Claim(ctx context.Context, id, workerID uuid.UUID, now time.Time) (*domain.TaskExecution, error)

	// Finish записывает финальный статус, если execution ещё активен.
	// ErrInvalidState, если execution уже завершён.
	Finish(ctx context.Context, e *domain.TaskExecution) error

	// ListActive возвращает PENDING/RUNNING executions (для watchdog).
	// limit <= 0 — без ограничения.
	ListActive(ctx context.Context, limit int) ([]domain.TaskExecution, error)

	// FailActiveByRunID переводит все активные executions run в FAILED.
	FailActiveByRunID(ctx context.Context, runID uuid.UUID, reason string, now time.Time) (int64, error)
}

// Runs — хранилище workflow executions.
type Runs interface {
	Create(ctx context.Context, run *domain.WorkflowExecution) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.WorkflowExecution, error)
	List(ctx context.Context, filter RunFilter) ([]domain.WorkflowExecution, error)
	ListChildren(ctx context.Context, parentID uuid.UUID) ([]domain.WorkflowExecution, error)

	// Update записывает статус, completed_at, duration и error,
	// только пока run не завершён. ErrInvalidState для завершённого run.
	Update(ctx context.Context, run *domain.WorkflowExecution) error
}

// RunFilter — параметры фильтрации runs.
type RunFilter struct {
	WorkflowID *uuid.UUID
	ParentID   *uuid.UUID
	Status     domain.Status
	Limit      int
	Offset     int
}

// Workers — реестр worker'ов.
type Workers interface {
	// Register создаёт worker или обновляет ip/last_seen существующего.
	// Теги записываются только если у worker'а их ещё нет.
	Register(ctx context.Context, w *domain.Worker) (*domain.Worker, error)

	GetByID(ctx context.Context, id uuid.UUID) (*domain.Worker, error)
	GetByHostname(ctx context.Context, hostname string) (*domain.Worker, error)
	List(ctx context.Context) ([]domain.Worker, error)

	// ListOnline возвращает ONLINE worker'ов, которых видели после since.
	ListOnline(ctx context.Context, since time.Time) ([]domain.Worker, error)

	// Touch обновляет last_seen. DISABLED остаётся DISABLED.
	Touch(ctx context.Context, hostname string, now time.Time) (*domain.Worker, error)

	SetTags(ctx context.Context, id uuid.UUID, tags []string) (*domain.Worker, error)
	SetStatus(ctx context.Context, id uuid.UUID, status domain.WorkerStatus) (*domain.Worker, error)
}

// Tasks — каталог task (только чтение).
type Tasks interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Task, error)
	List(ctx context.Context) ([]domain.Task, error)
}

// Workflows — определения workflow (только чтение).
type Workflows interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Workflow, error)
	List(ctx context.Context) ([]domain.Workflow, error)
}

// Settings — системные настройки.
type Settings interface {
	// StatusDefaults возвращает снимок шаблонов кодов успеха/неуспеха.
	StatusDefaults(ctx context.Context) (domain.StatusDefaults, error)
}

// Variables — глобальные переменные.
type Variables interface {
	Globals(ctx context.Context) (map[string]string, error)
}

// TagIndex — производный список тегов.
type TagIndex interface {
	List(ctx context.Context) ([]domain.TagUsage, error)
}

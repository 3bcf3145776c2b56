package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shaiso/Relay/internal/domain"
)

const workerColumns = `id, hostname, ip_address, tags, status, last_seen, created_at`

// WorkerRepo — репозиторий worker'ов.
type WorkerRepo struct {
	pool *pgxpool.Pool
}

// NewWorkerRepo создаёт новый WorkerRepo.
func NewWorkerRepo(pool *pgxpool.Pool) *WorkerRepo {
	return &WorkerRepo{pool: pool}
}

// Register создаёт или обновляет worker по hostname.
//
// Теги оператора не перезаписываются: значение из регистрации
// применяется, только пока у worker'а нет ни одного тега.
// DISABLED worker остаётся DISABLED.
func (r *WorkerRepo) Register(ctx context.Context, w *domain.Worker) (*domain.Worker, error) {
	query := `
		INSERT INTO workers (id, hostname, ip_address, tags, status, last_seen, created_at)
		VALUES ($1, $2, $3, $4, 'ONLINE', $5, $5)
		ON CONFLICT (hostname) DO UPDATE SET
			ip_address = COALESCE(EXCLUDED.ip_address, workers.ip_address),
			tags = CASE WHEN cardinality(workers.tags) = 0 THEN EXCLUDED.tags ELSE workers.tags END,
			status = CASE WHEN workers.status = 'DISABLED' THEN workers.status ELSE 'ONLINE' END,
			last_seen = EXCLUDED.last_seen
		RETURNING ` + workerColumns

	return scanWorker(r.pool.QueryRow(ctx, query,
		w.ID,
		w.Hostname,
		nullString(w.IPAddress),
		tagsOrEmpty(w.Tags),
		w.LastSeen,
	))
}

// GetByID возвращает worker по ID.
func (r *WorkerRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Worker, error) {
	query := `SELECT ` + workerColumns + ` FROM workers WHERE id = $1`
	return scanWorker(r.pool.QueryRow(ctx, query, id))
}

// GetByHostname возвращает worker по hostname.
func (r *WorkerRepo) GetByHostname(ctx context.Context, hostname string) (*domain.Worker, error) {
	query := `SELECT ` + workerColumns + ` FROM workers WHERE hostname = $1`
	return scanWorker(r.pool.QueryRow(ctx, query, hostname))
}

// List возвращает всех worker'ов.
func (r *WorkerRepo) List(ctx context.Context) ([]domain.Worker, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+workerColumns+` FROM workers ORDER BY hostname`)
	if err != nil {
		return nil, fmt.Errorf("list workers: %w", err)
	}
	return collectWorkers(rows)
}

// ListOnline возвращает ONLINE worker'ов, которых видели после since.
func (r *WorkerRepo) ListOnline(ctx context.Context, since time.Time) ([]domain.Worker, error) {
	query := `
		SELECT ` + workerColumns + `
		FROM workers
		WHERE status = 'ONLINE' AND last_seen >= $1
		ORDER BY hostname
	`
	rows, err := r.pool.Query(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("list online workers: %w", err)
	}
	return collectWorkers(rows)
}

// Touch обновляет last_seen (heartbeat).
func (r *WorkerRepo) Touch(ctx context.Context, hostname string, now time.Time) (*domain.Worker, error) {
	query := `
		UPDATE workers
		SET last_seen = $2,
		    status = CASE WHEN status = 'DISABLED' THEN status ELSE 'ONLINE' END
		WHERE hostname = $1
		RETURNING ` + workerColumns
	return scanWorker(r.pool.QueryRow(ctx, query, hostname, now))
}

// SetTags заменяет теги worker'а (операция оператора).
func (r *WorkerRepo) SetTags(ctx context.Context, id uuid.UUID, tags []string) (*domain.Worker, error) {
	query := `UPDATE workers SET tags = $2 WHERE id = $1 RETURNING ` + workerColumns
	return scanWorker(r.pool.QueryRow(ctx, query, id, tagsOrEmpty(tags)))
}

// SetStatus меняет хранимый статус (ONLINE / DISABLED).
func (r *WorkerRepo) SetStatus(ctx context.Context, id uuid.UUID, status domain.WorkerStatus) (*domain.Worker, error) {
	query := `UPDATE workers SET status = $2 WHERE id = $1 RETURNING ` + workerColumns
	return scanWorker(r.pool.QueryRow(ctx, query, id, status))
}

// --- Helpers ---

func scanWorker(row pgx.Row) (*domain.Worker, error) {
	var w domain.Worker
	var ip *string

	err := row.Scan(&w.ID, &w.Hostname, &ip, &w.Tags, &w.Status, &w.LastSeen, &w.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan worker: %w", err)
	}

	if ip != nil {
		w.IPAddress = *ip
	}
	if w.Tags == nil {
		w.Tags = []string{}
	}
	return &w, nil
}

func collectWorkers(rows pgx.Rows) ([]domain.Worker, error) {
	defer rows.Close()

	var workers []domain.Worker
	for rows.Next() {
		w, err := scanWorker(rows)
		if err != nil {
			return nil, err
		}
		workers = append(workers, *w)
	}
	return workers, rows.Err()
}

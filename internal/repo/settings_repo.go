package repo

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shaiso/Relay/internal/domain"
)

// Ключи system_settings.
const (
	SettingSuccessCodes = "status.success_codes"
	SettingFailureCodes = "status.failure_codes"
)

// SettingsRepo — системные настройки (key/value).
type SettingsRepo struct {
	pool *pgxpool.Pool
}

// NewSettingsRepo создаёт новый SettingsRepo.
func NewSettingsRepo(pool *pgxpool.Pool) *SettingsRepo {
	return &SettingsRepo{pool: pool}
}

// StatusDefaults читает снимок шаблонов кодов. Отсутствующие ключи
// заменяются встроенными умолчаниями.
func (r *SettingsRepo) StatusDefaults(ctx context.Context) (domain.StatusDefaults, error) {
	defaults := domain.DefaultStatusDefaults()

	rows, err := r.pool.Query(ctx,
		`SELECT key, value FROM system_settings WHERE key = ANY($1)`,
		[]string{SettingSuccessCodes, SettingFailureCodes},
	)
	if err != nil {
		return defaults, fmt.Errorf("read settings: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return defaults, fmt.Errorf("scan setting: %w", err)
		}
		if value == "" {
			continue
		}
		switch key {
		case SettingSuccessCodes:
			defaults.SuccessCodes = value
		case SettingFailureCodes:
			defaults.FailureCodes = value
		}
	}
	return defaults, rows.Err()
}

// VariableRepo — глобальные переменные.
//
// Шифрование значений — забота внешнего хранилища; сюда
// попадают уже разрешённые значения.
type VariableRepo struct {
	pool *pgxpool.Pool
}

// NewVariableRepo создаёт новый VariableRepo.
func NewVariableRepo(pool *pgxpool.Pool) *VariableRepo {
	return &VariableRepo{pool: pool}
}

// Globals возвращает все глобальные переменные.
func (r *VariableRepo) Globals(ctx context.Context) (map[string]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT name, value FROM global_variables`)
	if err != nil {
		return nil, fmt.Errorf("list global variables: %w", err)
	}
	defer rows.Close()

	vars := make(map[string]string)
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return nil, fmt.Errorf("scan global variable: %w", err)
		}
		vars[name] = value
	}
	return vars, rows.Err()
}

// TagRepo — производный список тегов.
//
// Отдельной таблицы тегов нет: список собирается из workers, tasks
// и workflows на каждый запрос и не может разойтись с ними.
type TagRepo struct {
	pool *pgxpool.Pool
}

// NewTagRepo создаёт новый TagRepo.
func NewTagRepo(pool *pgxpool.Pool) *TagRepo {
	return &TagRepo{pool: pool}
}

// List возвращает теги с количеством использований.
func (r *TagRepo) List(ctx context.Context) ([]domain.TagUsage, error) {
	query := `
		WITH usage AS (
			SELECT unnest(tags) AS tag, 'worker' AS source FROM workers
			UNION ALL
			SELECT unnest(tags), 'task' FROM tasks
			UNION ALL
			SELECT unnest(tags), 'workflow' FROM workflows
		)
		SELECT tag,
		       COUNT(*) FILTER (WHERE source = 'worker'),
		       COUNT(*) FILTER (WHERE source = 'task'),
		       COUNT(*) FILTER (WHERE source = 'workflow')
		FROM usage
		GROUP BY tag
		ORDER BY tag
	`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	defer rows.Close()

	var tags []domain.TagUsage
	for rows.Next() {
		var u domain.TagUsage
		if err := rows.Scan(&u.Tag, &u.Workers, &u.Tasks, &u.Workflows); err != nil {
			return nil, fmt.Errorf("scan tag: %w", err)
		}
		tags = append(tags, u)
	}
	return tags, rows.Err()
}

package domain

import (
	"time"

	"github.com/google/uuid"
)

// DefaultOfflineAfter — через сколько без heartbeat worker считается OFFLINE.
const DefaultOfflineAfter = 60 * time.Second

// Worker — удалённый агент, выполняющий task executions.
type Worker struct {
	// ID — уникальный идентификатор worker'а.
	ID uuid.UUID `json:"id"`

	// Hostname — уникальное имя, под которым агент регистрируется.
	Hostname string `json:"hostname"`

	IPAddress string `json:"ip_address,omitempty"`

	// Tags — теги worker'а. Принадлежат оператору: регистрация
	// задаёт их только один раз.
	Tags []string `json:"tags"`

	// Status — хранимый статус: ONLINE или DISABLED.
	Status WorkerStatus `json:"status"`

	LastSeen  time.Time `json:"last_seen"`
	CreatedAt time.Time `json:"created_at"`
}

// EffectiveStatus возвращает статус для отображения:
// DISABLED как есть, OFFLINE если last_seen старше offlineAfter.
func (w *Worker) EffectiveStatus(now time.Time, offlineAfter time.Duration) WorkerStatus {
	if w.Status == WorkerStatusDisabled {
		return WorkerStatusDisabled
	}
	if now.Sub(w.LastSeen) > offlineAfter {
		return WorkerStatusOffline
	}
	return WorkerStatusOnline
}

// IsAvailable возвращает true, если worker может получать работу.
func (w *Worker) IsAvailable(now time.Time, offlineAfter time.Duration) bool {
	return w.EffectiveStatus(now, offlineAfter) == WorkerStatusOnline
}

// StatusDefaults — снимок системных настроек интерпретации HTTP-кодов.
//
// Читается из system_settings на каждую оценку и передаётся
// в evaluation явно.
type StatusDefaults struct {
	SuccessCodes string `json:"success_codes"`
	FailureCodes string `json:"failure_codes"`
}

// DefaultStatusDefaults — значения, если в system_settings ничего нет.
func DefaultStatusDefaults() StatusDefaults {
	return StatusDefaults{
		SuccessCodes: "200-299",
		FailureCodes: "400-599",
	}
}

// TagUsage — строка производного списка тегов.
type TagUsage struct {
	Tag       string `json:"tag"`
	Workers   int    `json:"workers"`
	Tasks     int    `json:"tasks"`
	Workflows int    `json:"workflows"`
}

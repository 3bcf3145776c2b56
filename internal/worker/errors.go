package worker

import (
	"errors"
	"fmt"
)

// Ошибки агента.
var (
	// ErrUnknownKind — нет executor'а для вида execution.
	ErrUnknownKind = errors.New("unknown execution kind")

	// ErrHTTPRequest — HTTP-запрос task не выполнен (транспортная ошибка).
	ErrHTTPRequest = errors.New("http request failed")

	// ErrNotRegistered — API не знает этот hostname.
	ErrNotRegistered = errors.New("worker is not registered")

	// ErrNoHostname — агент запущен без hostname.
	ErrNoHostname = errors.New("agent hostname is required")

	// ErrLateReport — execution уже завершён (terminate или watchdog).
	ErrLateReport = errors.New("execution already finished")
)

// APIError — ошибка, возвращённая relay-api.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("relay api: HTTP %d", e.Status)
	}
	return fmt.Sprintf("relay api: %s: %s", e.Code, e.Message)
}

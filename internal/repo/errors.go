package repo

import "errors"

var (
	// ErrNotFound — нет записи с таким ключом.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists — нарушена уникальность: повторный ID,
	// второй execution того же узла в run.
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidState — условное обновление не применилось, запись
	// уже ушла из ожидаемого статуса (захвачена, завершена).
	ErrInvalidState = errors.New("invalid state")
)

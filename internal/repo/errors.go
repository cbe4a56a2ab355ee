package repo

import "errors"

// Общие ошибки репозиториев.
var (
	// ErrNotFound — запись не найдена в БД.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists — run с таким idempotency key уже существует.
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidState — run уже не в ожидаемом состоянии (переход применил кто-то другой).
	ErrInvalidState = errors.New("invalid state")
)

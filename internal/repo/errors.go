package repo

import "errors"

// Общие ошибки репозиториев.
var (
	// ErrNotFound — запись не найдена в БД.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists — запись уже существует (конфликт уникальности).
	ErrAlreadyExists = errors.New("already exists")

	// ErrConflict — условный переход статуса не прошёл (проигран CAS).
	// Проигравший перечитывает состояние и повторяет выбор;
	// наружу как ошибка пользователя не отдаётся.
	ErrConflict = errors.New("status transition conflict")
)

// errors.go — ошибки бизнес-логики сервисного слоя.
package service

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound — ресурс не найден.
	ErrNotFound = errors.New("ресурс не найден")
	// ErrForbidden — у субъекта нет доступа к ресурсу.
	ErrForbidden = errors.New("доступ запрещён")
	// ErrValidation — ошибка валидации входных данных.
	ErrValidation = errors.New("ошибка валидации")
	// ErrInvalidRole — некорректная роль.
	ErrInvalidRole = errors.New("некорректная роль: допустимые значения — client, admin")
	// ErrStorageUnavailable — хранилище недоступно (сеть, таймаут).
	ErrStorageUnavailable = errors.New("хранилище недоступно")
	// ErrConstraintViolation — параллельный запрос уже создал основной портфель.
	// Наружу не возвращается: разрешается повторным чтением.
	ErrConstraintViolation = errors.New("нарушение ограничения уникальности")
	// ErrInvalidUser — пустой идентификатор или пользователь не зеркалирован.
	ErrInvalidUser = errors.New("некорректный пользователь")
	// ErrIDPUnavailable — Identity Provider недоступен.
	ErrIDPUnavailable = errors.New("Identity Provider недоступен")
	// ErrNotDevelopment — операция разрешена только в development.
	ErrNotDevelopment = errors.New("операция доступна только при PF_ENV=development")
)

// StorageError — ошибка обращения к хранилищу с именем операции.
// Сохраняет исходный текст ошибки PostgreSQL.
type StorageError struct {
	// Op — имя операции (например, "portfolios.list")
	Op string
	// Err — исходная ошибка
	Err error
	// Unavailable — хранилище недоступно или истёк таймаут
	Unavailable bool
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap позволяет errors.Is(err, ErrStorageUnavailable) для недоступности
// и доступ к исходной ошибке.
func (e *StorageError) Unwrap() []error {
	if e.Unavailable {
		return []error{ErrStorageUnavailable, e.Err}
	}
	return []error{e.Err}
}

// validationf формирует ошибку валидации с сообщением для клиента.
func validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

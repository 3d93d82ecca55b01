// errors.go - ошибки бизнес-логики сервисного слоя.
package service

import (
	"errors"
	"fmt"

	"github.com/bigkaa/worklog/internal/repository"
)

var (
	// ErrNotFound - ресурс не найден.
	ErrNotFound = errors.New("ресурс не найден")
	// ErrConflict - конфликт состояния или дубликат.
	ErrConflict = errors.New("конфликт: ресурс уже существует или состояние изменилось")
	// ErrValidation - ошибка валидации входных данных.
	ErrValidation = errors.New("ошибка валидации")
	// ErrUnauthorized - нет или неверны учётные данные.
	ErrUnauthorized = errors.New("требуется аутентификация")
	// ErrForbidden - недостаточно прав.
	ErrForbidden = errors.New("недостаточно прав")

	// ErrInviteNotFound - инвайт-код не найден.
	ErrInviteNotFound = errors.New("инвайт-код не найден")
	// ErrInviteExpired - срок действия кода истёк.
	ErrInviteExpired = errors.New("срок действия кода истёк")
	// ErrInviteUsed - код уже использован.
	ErrInviteUsed = errors.New("код уже использован")

	// ErrNothingToCommit - нет медиа для фиксации.
	ErrNothingToCommit = errors.New("нет медиа для фиксации")
	// ErrGeoRejected - отметка вне геозоны объекта.
	ErrGeoRejected = errors.New("отметка вне геозоны объекта")
	// ErrOutsideWindow - отметка вне окна регистрации смены.
	ErrOutsideWindow = errors.New("отметка вне окна регистрации смены")
	// ErrUpstream - внешний сервис недоступен.
	ErrUpstream = errors.New("внешний сервис недоступен")
)

// FieldError - ошибка валидации конкретного поля запроса.
type FieldError struct {
	Field   string
	Message string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Unwrap позволяет проверять errors.Is(err, ErrValidation).
func (e *FieldError) Unwrap() error { return ErrValidation }

// invalid создаёт FieldError.
func invalid(field, format string, args ...any) error {
	return &FieldError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// mapRepoErr переводит ошибки репозиториев в ошибки сервиса.
func mapRepoErr(err error, what string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrNotFound):
		return fmt.Errorf("%w: %s", ErrNotFound, what)
	case errors.Is(err, repository.ErrConflict):
		return fmt.Errorf("%w: %s", ErrConflict, err.Error())
	}
	return err
}

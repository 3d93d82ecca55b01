// Пакет upstream - классификация ошибок внешних сервисов
// (Telegram Bot API, объектное хранилище, STT) для драйверов повторов.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Kind - класс ошибки внешнего сервиса.
type Kind int

const (
	// Transient - 5xx, таймаут, сетевой сбой: повторяем с backoff.
	Transient Kind = iota
	// Permanent - 4xx, файл не найден, токен отозван: повтор бессмысленен.
	Permanent
	// RateLimited - 429: повтор не раньше RetryAfter.
	RateLimited
)

func (k Kind) String() string {
	switch k {
	case Transient:
		return "transient"
	case Permanent:
		return "permanent"
	case RateLimited:
		return "rate_limited"
	}
	return "unknown"
}

// Error - классифицированная ошибка внешнего сервиса.
type Error struct {
	Service    string
	Kind       Kind
	Status     int
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s (%s, HTTP %d): %v", e.Service, e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("%s (%s): %v", e.Service, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// FromStatus классифицирует HTTP-статус ответа.
func FromStatus(service string, status int, err error) *Error {
	e := &Error{Service: service, Status: status, Err: err}
	switch {
	case status == http.StatusTooManyRequests:
		e.Kind = RateLimited
	case status == http.StatusRequestTimeout, status >= 500:
		e.Kind = Transient
	default:
		e.Kind = Permanent
	}
	return e
}

// Wrap классифицирует ошибку без HTTP-статуса (сеть, таймаут) как временную.
// Отмена контекста возвращается как есть.
func Wrap(service string, err error) error {
	if err == nil {
		return nil
	}
	var ue *Error
	if errors.As(err, &ue) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return &Error{Service: service, Kind: Transient, Err: err}
}

// Permanentf создаёт постоянную ошибку.
func Permanentf(service, format string, args ...any) *Error {
	return &Error{Service: service, Kind: Permanent, Err: fmt.Errorf(format, args...)}
}

// KindOf возвращает класс ошибки; неклассифицированные ошибки считаются временными.
func KindOf(err error) Kind {
	var ue *Error
	if errors.As(err, &ue) {
		return ue.Kind
	}
	return Transient
}

// IsPermanent сообщает, что повтор бессмысленен.
func IsPermanent(err error) bool {
	var ue *Error
	return errors.As(err, &ue) && ue.Kind == Permanent
}

// RetryAfterOf возвращает рекомендованную паузу для RateLimited.
func RetryAfterOf(err error) (time.Duration, bool) {
	var ue *Error
	if errors.As(err, &ue) && ue.Kind == RateLimited {
		return ue.RetryAfter, true
	}
	return 0, false
}

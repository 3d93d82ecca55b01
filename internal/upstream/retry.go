package upstream

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy - параметры экспоненциального повтора.
type Policy struct {
	// Initial - пауза перед первым повтором.
	Initial time.Duration
	// Multiplier - множитель паузы.
	Multiplier float64
	// MaxInterval - потолок паузы (0 - без потолка).
	MaxInterval time.Duration
	// MaxRetries - число повторов после первой попытки.
	MaxRetries uint64
	// Notify вызывается перед каждой паузой.
	Notify func(err error, wait time.Duration)
}

// DefaultPolicy - 1 с, множитель 2, три повтора.
func DefaultPolicy() Policy {
	return Policy{Initial: time.Second, Multiplier: 2, MaxRetries: 3}
}

// hintBackOff учитывает Retry-After: пауза не короче подсказки сервера.
type hintBackOff struct {
	backoff.BackOff
	hint *time.Duration
}

func (b *hintBackOff) NextBackOff() time.Duration {
	d := b.BackOff.NextBackOff()
	if d == backoff.Stop {
		return d
	}
	if *b.hint > d {
		d = *b.hint
	}
	*b.hint = 0
	return d
}

// Retry выполняет op, повторяя временные ошибки и RateLimited.
// Permanent и отмена контекста прекращают повторы сразу.
func Retry(ctx context.Context, p Policy, op func() error) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.Initial
	eb.Multiplier = p.Multiplier
	eb.RandomizationFactor = 0
	eb.MaxElapsedTime = 0
	if p.MaxInterval > 0 {
		eb.MaxInterval = p.MaxInterval
	}

	var hint time.Duration
	b := backoff.WithContext(backoff.WithMaxRetries(&hintBackOff{BackOff: eb, hint: &hint}, p.MaxRetries), ctx)

	wrapped := func() error {
		err := op()
		if err == nil {
			return nil
		}
		if errors.Is(err, context.Canceled) || (errors.Is(err, context.DeadlineExceeded) && ctx.Err() != nil) {
			return backoff.Permanent(err)
		}
		switch KindOf(err) {
		case Permanent:
			return backoff.Permanent(err)
		case RateLimited:
			hint, _ = RetryAfterOf(err)
		}
		return err
	}

	notify := func(err error, d time.Duration) {
		if p.Notify != nil {
			p.Notify(err, d)
		}
	}
	return backoff.RetryNotify(wrapped, b, notify)
}

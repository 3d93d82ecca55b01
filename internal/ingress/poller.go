package ingress

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/bigkaa/worklog/internal/telegram"
)

// Updater - источник обновлений для long polling.
type Updater interface {
	DeleteWebhook(ctx context.Context) error
	GetUpdates(ctx context.Context, offset int, timeout time.Duration) ([]telegram.Update, error)
}

// PollTimeout - таймаут long polling getUpdates.
const PollTimeout = 30 * time.Second

// Poll получает обновления через getUpdates до отмены ctx. Используется,
// когда публичный адрес вебхука не настроен. Ошибки повторяются с
// экспоненциальной задержкой.
func (r *Router) Poll(ctx context.Context, src Updater) error {
	if err := src.DeleteWebhook(ctx); err != nil {
		r.logger.Warn("Не удалось снять вебхук", slog.String("error", err.Error()))
	}
	r.logger.Info("Long polling запущен")

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = time.Minute
	bo.MaxElapsedTime = 0

	offset := 0
	for {
		if ctx.Err() != nil {
			r.logger.Info("Long polling остановлен")
			return nil
		}
		updates, err := src.GetUpdates(ctx, offset, PollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			wait := bo.NextBackOff()
			r.logger.Warn("Ошибка getUpdates",
				slog.String("error", err.Error()),
				slog.Duration("retry_in", wait),
			)
			select {
			case <-ctx.Done():
			case <-time.After(wait):
			}
			continue
		}
		bo.Reset()
		for _, u := range updates {
			if err := r.Enqueue(ctx, u); err != nil {
				return nil
			}
			offset = u.UpdateID + 1
		}
	}
}

// recovery.go - подбор зависших задач конвейера.
package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/bigkaa/worklog/internal/domain/model"
	"github.com/bigkaa/worklog/internal/pipeline"
)

// Пороги восстановления.
const (
	RecoverAfter = 2 * time.Minute
	StaleAfter   = 24 * time.Hour
	recoverBatch = 500
)

// Recovery повторно ставит в очередь pending-медиа, потерянные при
// переполнении очереди или перезапуске, и удаляет безнадёжно устаревшие.
type Recovery struct {
	store  *Store
	queue  Enqueuer
	now    func() time.Time
	logger *slog.Logger
}

// NewRecovery создаёт задачу восстановления.
func NewRecovery(store *Store, queue Enqueuer, logger *slog.Logger) *Recovery {
	return &Recovery{
		store:  store,
		queue:  queue,
		now:    time.Now,
		logger: logger.With(slog.String("component", "recovery")),
	}
}

// RecoveryResult - итог прохода.
type RecoveryResult struct {
	Requeued int
	Stale    int
}

// Run выполняет один проход.
func (r *Recovery) Run(ctx context.Context) (RecoveryResult, error) {
	var res RecoveryResult
	now := r.now()
	items, err := r.store.Media.ListStalePending(ctx, now.Add(-RecoverAfter), recoverBatch)
	if err != nil {
		return res, err
	}
	for _, m := range items {
		if now.Sub(m.CreatedAt) >= StaleAfter {
			if err := r.store.Media.MarkDeleted(ctx, m.ID, "stale"); err == nil {
				res.Stale++
			}
			continue
		}
		if m.Status != model.MediaPending {
			continue
		}
		if r.queue.TryEnqueue(pipeline.Task{Kind: pipeline.KindDownload, MediaID: m.ID}) {
			res.Requeued++
		}
	}
	if res.Requeued > 0 || res.Stale > 0 {
		r.logger.Info("Восстановление конвейера",
			slog.Int("requeued", res.Requeued),
			slog.Int("stale", res.Stale),
		)
	}
	return res, nil
}

// resolver.go - сопоставление (чат, тема, отправитель) -> (бригада, работник).
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/worklog/internal/domain/model"
	"github.com/bigkaa/worklog/internal/repository"
)

// RejectReason - категория отказа в приёме сообщения.
type RejectReason string

const (
	RejectUnknownChat   RejectReason = "unknown_chat"
	RejectUnknownTopic  RejectReason = "unknown_topic"
	RejectUnknownSender RejectReason = "unknown_sender"
	RejectNotMember     RejectReason = "not_member"
	RejectForwarded     RejectReason = "forwarded"
)

var (
	rejectsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wl_ingress_rejects_total",
		Help: "Отклонённые сообщения по причине.",
	}, []string{"reason"})

	cacheTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wl_resolver_cache_total",
		Help: "Обращения к кэшам резолвера (hit, miss).",
	}, []string{"cache", "result"})
)

// CountReject учитывает отказ в метриках.
func CountReject(reason RejectReason) {
	rejectsTotal.WithLabelValues(string(reason)).Inc()
}

// Resolution - результат сопоставления.
type Resolution struct {
	Supergroup *model.Supergroup
	Team       *model.Team
	Worker     *model.Worker
}

// Resolver - сопоставление тем супергрупп с бригадами.
// Супергруппы и работники кэшируются на cacheTTL; промахи не кэшируются.
type Resolver struct {
	store   *Store
	groups  *expirable.LRU[int64, *model.Supergroup]
	workers *expirable.LRU[int64, *model.Worker]
	logger  *slog.Logger
}

// NewResolver создаёт резолвер с кэшами на size записей.
func NewResolver(store *Store, size int, cacheTTL time.Duration, logger *slog.Logger) *Resolver {
	return &Resolver{
		store:   store,
		groups:  expirable.NewLRU[int64, *model.Supergroup](size, nil, cacheTTL),
		workers: expirable.NewLRU[int64, *model.Worker](size, nil, cacheTTL),
		logger:  logger.With(slog.String("component", "resolver")),
	}
}

// Supergroup возвращает супергруппу по chat_id.
func (r *Resolver) Supergroup(ctx context.Context, chatID int64) (*model.Supergroup, error) {
	if sg, ok := r.groups.Get(chatID); ok {
		cacheTotal.WithLabelValues("supergroup", "hit").Inc()
		return sg, nil
	}
	cacheTotal.WithLabelValues("supergroup", "miss").Inc()
	sg, err := r.store.Supergroups.GetByChatID(ctx, chatID)
	if err != nil {
		return nil, mapRepoErr(err, "супергруппа")
	}
	r.groups.Add(chatID, sg)
	return sg, nil
}

// Worker возвращает активного работника по telegram_id.
func (r *Resolver) Worker(ctx context.Context, telegramID int64) (*model.Worker, error) {
	if w, ok := r.workers.Get(telegramID); ok {
		cacheTotal.WithLabelValues("worker", "hit").Inc()
		return w, nil
	}
	cacheTotal.WithLabelValues("worker", "miss").Inc()
	w, err := r.store.Workers.GetByTelegramID(ctx, telegramID)
	if err != nil {
		return nil, mapRepoErr(err, "работник")
	}
	if !w.IsActive {
		return nil, ErrNotFound
	}
	r.workers.Add(telegramID, w)
	return w, nil
}

// InvalidateWorker сбрасывает кэш работника.
func (r *Resolver) InvalidateWorker(telegramID int64) {
	r.workers.Remove(telegramID)
}

// InvalidateChat сбрасывает кэш супергруппы.
func (r *Resolver) InvalidateChat(chatID int64) {
	r.groups.Remove(chatID)
}

// Resolve сопоставляет сообщение в теме с бригадой и автором.
// Отказ возвращается причиной, ошибка - только при сбое хранилища.
// Автоматической переадресации в другую бригаду нет: чужое сообщение отбрасывается.
func (r *Resolver) Resolve(ctx context.Context, chatID, threadID, senderID int64) (*Resolution, RejectReason, error) {
	sg, err := r.Supergroup(ctx, chatID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, RejectUnknownChat, nil
		}
		return nil, "", err
	}

	if threadID == 0 {
		return nil, RejectUnknownTopic, nil
	}
	team, err := r.store.Teams.GetActiveByTopic(ctx, sg.ObjectID, sg.ContractorID, threadID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, RejectUnknownTopic, nil
		}
		return nil, "", err
	}

	w, err := r.Worker(ctx, senderID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, RejectUnknownSender, nil
		}
		return nil, "", err
	}

	member, err := r.store.Memberships.IsOpenMember(ctx, team.ID, w.ID)
	if err != nil {
		return nil, "", err
	}
	if !member {
		r.logger.Info("Сообщение от работника не из состава бригады",
			slog.String("team_id", team.ID.String()),
			slog.String("worker_id", w.ID.String()),
		)
		return nil, RejectNotMember, nil
	}
	return &Resolution{Supergroup: sg, Team: team, Worker: w}, "", nil
}

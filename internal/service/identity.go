// identity.go - работники, инвайт-коды и привязка супергрупп.
//
// Использование кода атомарно: работник создаётся и код помечается
// использованным в одной транзакции; условное обновление invite_tokens
// гарантирует, что из двух одновременных попыток успешна ровно одна.
package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/google/uuid"

	"github.com/bigkaa/worklog/internal/domain/model"
	"github.com/bigkaa/worklog/internal/pipeline"
	"github.com/bigkaa/worklog/internal/repository"
)

const (
	inviteCodeLen  = 12
	inviteAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"
	// InvitePrefix - префикс аргумента /start.
	InvitePrefix = "inv_"
)

// IdentityService - работники и регистрация по инвайт-кодам.
type IdentityService struct {
	store       *Store
	queue       Enqueuer
	resolver    *Resolver
	botUsername string
	now         func() time.Time
	logger      *slog.Logger
}

// NewIdentityService создаёт сервис.
func NewIdentityService(store *Store, queue Enqueuer, resolver *Resolver, botUsername string, logger *slog.Logger) *IdentityService {
	return &IdentityService{
		store:       store,
		queue:       queue,
		resolver:    resolver,
		botUsername: botUsername,
		now:         time.Now,
		logger:      logger.With(slog.String("component", "identity")),
	}
}

// GenerateInviteCode возвращает 12 символов base62 из crypto/rand.
func GenerateInviteCode() (string, error) {
	return randomBase62(inviteCodeLen)
}

func randomBase62(n int) (string, error) {
	buf := make([]byte, n)
	limit := big.NewInt(int64(len(inviteAlphabet)))
	for i := range buf {
		v, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", fmt.Errorf("генерация случайного кода: %w", err)
		}
		buf[i] = inviteAlphabet[v.Int64()]
	}
	return string(buf), nil
}

// DeepLink возвращает ссылку https://t.me/<bot>?start=inv_<code>.
func (s *IdentityService) DeepLink(code string) string {
	return fmt.Sprintf("https://t.me/%s?start=%s%s", s.botUsername, InvitePrefix, code)
}

// CreateInviteParams - параметры нового инвайт-кода.
type CreateInviteParams struct {
	ContractorID uuid.UUID
	Role         model.WorkerRole
	TTL          time.Duration
	CreatedBy    string
}

// CreateInvite создаёт инвайт-код и возвращает его вместе с deep-link.
func (s *IdentityService) CreateInvite(ctx context.Context, p CreateInviteParams) (*model.InviteToken, string, error) {
	if p.ContractorID == uuid.Nil {
		return nil, "", invalid("contractor_id", "обязательное поле")
	}
	if !p.Role.Valid() {
		return nil, "", invalid("role", "допустимые значения: worker, brigadier")
	}
	if p.TTL <= 0 || p.TTL > 30*24*time.Hour {
		return nil, "", invalid("ttl_hours", "от 1 часа до 30 суток")
	}

	// Коллизия 62^12 практически невозможна, но ключ первичный - повторим.
	for range 3 {
		code, err := GenerateInviteCode()
		if err != nil {
			return nil, "", err
		}
		inv := &model.InviteToken{
			Code:         code,
			ContractorID: p.ContractorID,
			Role:         p.Role,
			ExpiresAt:    s.now().Add(p.TTL),
			CreatedBy:    p.CreatedBy,
		}
		err = s.store.Invites.Create(ctx, inv)
		if errors.Is(err, repository.ErrConflict) {
			continue
		}
		if err != nil {
			return nil, "", err
		}
		s.logger.Info("Инвайт-код создан",
			slog.String("contractor_id", inv.ContractorID.String()),
			slog.String("role", string(inv.Role)),
			slog.Time("expires_at", inv.ExpiresAt),
		)
		return inv, s.DeepLink(code), nil
	}
	return nil, "", fmt.Errorf("%w: не удалось подобрать уникальный код", ErrConflict)
}

// CheckInvite проверяет код перед началом регистрации.
func (s *IdentityService) CheckInvite(ctx context.Context, code string) (*model.InviteToken, error) {
	inv, err := s.store.Invites.Get(ctx, code)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrInviteNotFound
		}
		return nil, err
	}
	return inv, checkInvite(inv, s.now())
}

func checkInvite(inv *model.InviteToken, now time.Time) error {
	switch {
	case inv.Used:
		return ErrInviteUsed
	case inv.Expired(now):
		return ErrInviteExpired
	}
	return nil
}

// ConsumeParams - данные, собранные автоматом регистрации.
type ConsumeParams struct {
	Code       string
	TelegramID int64
	Name       string
	Phone      string
	Language   model.Language
}

// ConsumeInvite регистрирует работника по коду. Если работник с таким
// telegram_id уже есть, код не расходуется и возвращается существующий
// работник с created = false.
func (s *IdentityService) ConsumeInvite(ctx context.Context, p ConsumeParams) (*model.Worker, bool, error) {
	if w, err := s.store.Workers.GetByTelegramID(ctx, p.TelegramID); err == nil {
		return w, false, nil
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, false, err
	}

	lang := p.Language
	if !lang.Valid() {
		lang = model.LangRU
	}

	var worker *model.Worker
	err := s.store.InTx(ctx, func(r *repository.Set) error {
		inv, err := r.Invites.Get(ctx, p.Code)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrInviteNotFound
			}
			return err
		}
		now := s.now()
		if err := checkInvite(inv, now); err != nil {
			return err
		}

		worker = &model.Worker{
			ID:           uuid.New(),
			TelegramID:   p.TelegramID,
			Name:         p.Name,
			Phone:        p.Phone,
			Role:         inv.Role,
			Language:     lang,
			ContractorID: inv.ContractorID,
			BotStarted:   true,
			IsActive:     true,
		}
		if err := r.Workers.Create(ctx, worker); err != nil {
			return err
		}
		if err := r.Invites.Consume(ctx, p.Code, worker.ID, now); err != nil {
			if errors.Is(err, repository.ErrConflict) {
				return ErrInviteUsed
			}
			return err
		}
		return nil
	})
	if err != nil {
		// Параллельная регистрация того же пользователя: работник уже создан.
		if errors.Is(err, repository.ErrConflict) {
			if w, gerr := s.store.Workers.GetByTelegramID(ctx, p.TelegramID); gerr == nil {
				return w, false, nil
			}
		}
		return nil, false, err
	}

	s.logger.Info("Работник зарегистрирован по инвайт-коду",
		slog.String("worker_id", worker.ID.String()),
		slog.Int64("telegram_id", worker.TelegramID),
		slog.String("contractor_id", worker.ContractorID.String()),
	)
	return worker, true, nil
}

// CreateWorkerParams - прямое создание работника сотрудником.
type CreateWorkerParams struct {
	TelegramID   int64
	Name         string
	Phone        string
	Role         model.WorkerRole
	Language     model.Language
	ContractorID uuid.UUID
}

// CreateWorker создаёт работника без инвайт-кода.
func (s *IdentityService) CreateWorker(ctx context.Context, p CreateWorkerParams) (*model.Worker, error) {
	switch {
	case p.TelegramID <= 0:
		return nil, invalid("telegram_id", "должен быть положительным")
	case len([]rune(p.Name)) < 2 || len([]rune(p.Name)) > 100:
		return nil, invalid("name", "от 2 до 100 символов")
	case !p.Role.Valid():
		return nil, invalid("role", "допустимые значения: worker, brigadier")
	case p.ContractorID == uuid.Nil:
		return nil, invalid("contractor_id", "обязательное поле")
	}
	if p.Language == "" {
		p.Language = model.LangRU
	}
	if !p.Language.Valid() {
		return nil, invalid("language", "допустимые значения: ru, uz, tg, ky")
	}

	w := &model.Worker{
		ID:           uuid.New(),
		TelegramID:   p.TelegramID,
		Name:         p.Name,
		Phone:        p.Phone,
		Role:         p.Role,
		Language:     p.Language,
		ContractorID: p.ContractorID,
		IsActive:     true,
	}
	if err := s.store.Workers.Create(ctx, w); err != nil {
		return nil, mapRepoErr(err, "работник")
	}
	return w, nil
}

// GetWorker возвращает работника по ID.
func (s *IdentityService) GetWorker(ctx context.Context, id uuid.UUID) (*model.Worker, error) {
	w, err := s.store.Workers.GetByID(ctx, id)
	return w, mapRepoErr(err, "работник")
}

// WorkerByTelegramID возвращает работника по telegram_id (через кэш резолвера).
func (s *IdentityService) WorkerByTelegramID(ctx context.Context, telegramID int64) (*model.Worker, error) {
	return s.resolver.Worker(ctx, telegramID)
}

// ListWorkers возвращает страницу работников и их общее число.
func (s *IdentityService) ListWorkers(ctx context.Context, f repository.WorkerFilter, p repository.Page) ([]*model.Worker, int, error) {
	items, err := s.store.Workers.List(ctx, f, p)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.store.Workers.Count(ctx, f)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// Deactivate снимает работника с учёта.
func (s *IdentityService) Deactivate(ctx context.Context, id uuid.UUID) (*model.Worker, error) {
	if err := s.store.Workers.Deactivate(ctx, id); err != nil {
		return nil, mapRepoErr(err, "работник")
	}
	w, err := s.store.Workers.GetByID(ctx, id)
	if err != nil {
		return nil, mapRepoErr(err, "работник")
	}
	s.resolver.InvalidateWorker(w.TelegramID)
	return w, nil
}

// MarkBotStarted отмечает, что работник открыл личный чат с ботом.
func (s *IdentityService) MarkBotStarted(ctx context.Context, telegramID int64) error {
	err := s.store.Workers.MarkBotStarted(ctx, telegramID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	return err
}

// InviteLinks возвращает ссылки на супергруппы подрядчика. Для групп без
// ссылки ставится задача её создания.
func (s *IdentityService) InviteLinks(ctx context.Context, contractorID uuid.UUID) ([]string, error) {
	groups, err := s.store.Supergroups.ListByContractor(ctx, contractorID)
	if err != nil {
		return nil, err
	}
	links := make([]string, 0, len(groups))
	for _, g := range groups {
		if g.InviteLink != "" {
			links = append(links, g.InviteLink)
			continue
		}
		s.queue.TryEnqueue(pipeline.Task{Kind: pipeline.KindCreateInviteLink, SupergroupID: g.ID, ChatID: g.TelegramGroupID})
	}
	return links, nil
}

// UpsertSupergroupParams - привязка супергруппы к (объект, подрядчик).
type UpsertSupergroupParams struct {
	ObjectID        uuid.UUID
	ContractorID    uuid.UUID
	TelegramGroupID int64
	Title           string
}

// UpsertSupergroup сохраняет привязку и ставит задачу создания ссылки-приглашения.
func (s *IdentityService) UpsertSupergroup(ctx context.Context, p UpsertSupergroupParams) (*model.Supergroup, error) {
	switch {
	case p.ObjectID == uuid.Nil:
		return nil, invalid("object_id", "обязательное поле")
	case p.ContractorID == uuid.Nil:
		return nil, invalid("contractor_id", "обязательное поле")
	case p.TelegramGroupID >= 0:
		return nil, invalid("telegram_group_id", "идентификатор супергруппы отрицательный")
	}
	sg := &model.Supergroup{
		ID:              uuid.New(),
		ObjectID:        p.ObjectID,
		ContractorID:    p.ContractorID,
		TelegramGroupID: p.TelegramGroupID,
		Title:           p.Title,
	}
	if err := s.store.Supergroups.Upsert(ctx, sg); err != nil {
		return nil, mapRepoErr(err, "супергруппа")
	}
	s.resolver.InvalidateChat(p.TelegramGroupID)
	if sg.InviteLink == "" {
		s.queue.TryEnqueue(pipeline.Task{Kind: pipeline.KindCreateInviteLink, SupergroupID: sg.ID, ChatID: sg.TelegramGroupID})
	}
	return sg, nil
}

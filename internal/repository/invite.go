package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/bigkaa/worklog/internal/domain/model"
)

// InviteRepository - интерфейс доступа к таблице invite_tokens.
type InviteRepository interface {
	Create(ctx context.Context, t *model.InviteToken) error
	Get(ctx context.Context, code string) (*model.InviteToken, error)
	// Consume атомарно помечает код использованным.
	// Если код уже использован или истёк, возвращает ErrConflict.
	Consume(ctx context.Context, code string, workerID uuid.UUID, now time.Time) error
}

type inviteRepo struct {
	db DBTX
}

// NewInviteRepository создаёт репозиторий кодов приглашения.
func NewInviteRepository(db DBTX) InviteRepository {
	return &inviteRepo{db: db}
}

func (r *inviteRepo) Create(ctx context.Context, t *model.InviteToken) error {
	query := `
		INSERT INTO invite_tokens (code, contractor_id, role, expires_at, created_by)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at`
	err := r.db.QueryRow(ctx, query, t.Code, t.ContractorID, t.Role, t.ExpiresAt, t.CreatedBy).
		Scan(&t.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: код приглашения уже существует", ErrConflict)
		}
		return fmt.Errorf("ошибка создания кода приглашения: %w", err)
	}
	return nil
}

func (r *inviteRepo) Get(ctx context.Context, code string) (*model.InviteToken, error) {
	t := &model.InviteToken{}
	err := r.db.QueryRow(ctx, `
		SELECT code, contractor_id, role, expires_at, used, used_by_id, used_at, created_by, created_at
		FROM invite_tokens WHERE code = $1`, code,
	).Scan(&t.Code, &t.ContractorID, &t.Role, &t.ExpiresAt, &t.Used, &t.UsedByID, &t.UsedAt, &t.CreatedBy, &t.CreatedAt)
	if err != nil {
		return nil, notFound(err, "ошибка получения кода приглашения")
	}
	return t, nil
}

func (r *inviteRepo) Consume(ctx context.Context, code string, workerID uuid.UUID, now time.Time) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE invite_tokens
		SET used = TRUE, used_by_id = $2, used_at = $3
		WHERE code = $1 AND NOT used AND expires_at > $3`, code, workerID, now)
	if err != nil {
		return fmt.Errorf("ошибка использования кода приглашения: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: код %s уже использован или истёк", ErrConflict, code)
	}
	return nil
}

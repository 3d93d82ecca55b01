package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/worklog/internal/domain/model"
)

// SupergroupRepository - интерфейс доступа к таблице supergroups.
type SupergroupRepository interface {
	// Upsert создаёт или обновляет привязку (объект, подрядчик) к супергруппе.
	Upsert(ctx context.Context, sg *model.Supergroup) error
	GetByChatID(ctx context.Context, chatID int64) (*model.Supergroup, error)
	GetByObjectContractor(ctx context.Context, objectID, contractorID uuid.UUID) (*model.Supergroup, error)
	ListByContractor(ctx context.Context, contractorID uuid.UUID) ([]*model.Supergroup, error)
	SetInviteLink(ctx context.Context, id uuid.UUID, link string) error
}

type supergroupRepo struct {
	db DBTX
}

// NewSupergroupRepository создаёт репозиторий супергрупп.
func NewSupergroupRepository(db DBTX) SupergroupRepository {
	return &supergroupRepo{db: db}
}

const supergroupColumns = `id, object_id, contractor_id, telegram_group_id, title, invite_link, created_at`

func scanSupergroup(row pgx.Row) (*model.Supergroup, error) {
	sg := &model.Supergroup{}
	err := row.Scan(&sg.ID, &sg.ObjectID, &sg.ContractorID, &sg.TelegramGroupID, &sg.Title, &sg.InviteLink, &sg.CreatedAt)
	return sg, err
}

func (r *supergroupRepo) Upsert(ctx context.Context, sg *model.Supergroup) error {
	query := `
		INSERT INTO supergroups (id, object_id, contractor_id, telegram_group_id, title, invite_link)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (object_id, contractor_id) DO UPDATE
		SET telegram_group_id = EXCLUDED.telegram_group_id,
			title = EXCLUDED.title,
			invite_link = CASE WHEN EXCLUDED.invite_link <> '' THEN EXCLUDED.invite_link
			                   ELSE supergroups.invite_link END
		RETURNING id, invite_link, created_at`
	err := r.db.QueryRow(ctx, query,
		sg.ID, sg.ObjectID, sg.ContractorID, sg.TelegramGroupID, sg.Title, sg.InviteLink,
	).Scan(&sg.ID, &sg.InviteLink, &sg.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: супергруппа %d уже привязана к другому объекту", ErrConflict, sg.TelegramGroupID)
		}
		return fmt.Errorf("ошибка сохранения супергруппы: %w", err)
	}
	return nil
}

func (r *supergroupRepo) GetByChatID(ctx context.Context, chatID int64) (*model.Supergroup, error) {
	query := fmt.Sprintf(`SELECT %s FROM supergroups WHERE telegram_group_id = $1`, supergroupColumns)
	sg, err := scanSupergroup(r.db.QueryRow(ctx, query, chatID))
	if err != nil {
		return nil, notFound(err, "ошибка получения супергруппы")
	}
	return sg, nil
}

func (r *supergroupRepo) GetByObjectContractor(ctx context.Context, objectID, contractorID uuid.UUID) (*model.Supergroup, error) {
	query := fmt.Sprintf(`SELECT %s FROM supergroups WHERE object_id = $1 AND contractor_id = $2`, supergroupColumns)
	sg, err := scanSupergroup(r.db.QueryRow(ctx, query, objectID, contractorID))
	if err != nil {
		return nil, notFound(err, "ошибка получения супергруппы объекта")
	}
	return sg, nil
}

func (r *supergroupRepo) ListByContractor(ctx context.Context, contractorID uuid.UUID) ([]*model.Supergroup, error) {
	query := fmt.Sprintf(`SELECT %s FROM supergroups WHERE contractor_id = $1 ORDER BY created_at`, supergroupColumns)
	rows, err := r.db.Query(ctx, query, contractorID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения супергрупп подрядчика: %w", err)
	}
	defer rows.Close()

	var result []*model.Supergroup
	for rows.Next() {
		sg, err := scanSupergroup(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования супергруппы: %w", err)
		}
		result = append(result, sg)
	}
	return result, rows.Err()
}

func (r *supergroupRepo) SetInviteLink(ctx context.Context, id uuid.UUID, link string) error {
	tag, err := r.db.Exec(ctx, `UPDATE supergroups SET invite_link = $2 WHERE id = $1`, id, link)
	if err != nil {
		return fmt.Errorf("ошибка сохранения ссылки-приглашения: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/worklog/internal/domain/model"
)

// TeamRepository - интерфейс доступа к таблице teams.
type TeamRepository interface {
	Create(ctx context.Context, t *model.Team) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.Team, error)
	// Lock читает бригаду с блокировкой строки.
	Lock(ctx context.Context, id uuid.UUID) (*model.Team, error)
	// GetActiveByTopic находит активную бригаду по теме супергруппы.
	GetActiveByTopic(ctx context.Context, objectID, contractorID uuid.UUID, topicID int64) (*model.Team, error)
	ListByShift(ctx context.Context, shiftID uuid.UUID) ([]*model.Team, error)
	SetTopic(ctx context.Context, id uuid.UUID, topicID int64) error
	// Close закрывает активную бригаду (условный переход).
	Close(ctx context.Context, id uuid.UUID, now time.Time) error
	// LatestClosedByBrigadier - последняя закрытая бригада бригадира на объекте подрядчика.
	LatestClosedByBrigadier(ctx context.Context, brigadierID, objectID, contractorID uuid.UUID) (*model.Team, error)
	// ListClosedWithOpenMedia - закрытые бригады, у которых остались
	// загруженные, но не зафиксированные медиа.
	ListClosedWithOpenMedia(ctx context.Context, limit int) ([]*model.Team, error)
}

type teamRepo struct {
	db DBTX
}

// NewTeamRepository создаёт репозиторий бригад.
func NewTeamRepository(db DBTX) TeamRepository {
	return &teamRepo{db: db}
}

const teamColumns = `t.id, t.object_id, t.contractor_id, t.shift_id, t.topic_id, t.topic_name, t.brigadier_id,
	t.status, t.is_solo, t.previous_team_id, t.created_at, t.closed_at`

func scanTeam(row pgx.Row) (*model.Team, error) {
	t := &model.Team{}
	err := row.Scan(&t.ID, &t.ObjectID, &t.ContractorID, &t.ShiftID, &t.TopicID, &t.TopicName, &t.BrigadierID,
		&t.Status, &t.IsSolo, &t.PreviousTeamID, &t.CreatedAt, &t.ClosedAt)
	return t, err
}

func (r *teamRepo) Create(ctx context.Context, t *model.Team) error {
	query := `
		INSERT INTO teams (id, object_id, contractor_id, shift_id, topic_id, topic_name, brigadier_id,
			status, is_solo, previous_team_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at`
	err := r.db.QueryRow(ctx, query,
		t.ID, t.ObjectID, t.ContractorID, t.ShiftID, t.TopicID, t.TopicName, t.BrigadierID,
		t.Status, t.IsSolo, t.PreviousTeamID,
	).Scan(&t.CreatedAt)
	if err != nil {
		return fmt.Errorf("ошибка создания бригады: %w", err)
	}
	return nil
}

func (r *teamRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.Team, error) {
	query := fmt.Sprintf(`SELECT %s FROM teams t WHERE t.id = $1`, teamColumns)
	t, err := scanTeam(r.db.QueryRow(ctx, query, id))
	if err != nil {
		return nil, notFound(err, "ошибка получения бригады")
	}
	return t, nil
}

func (r *teamRepo) Lock(ctx context.Context, id uuid.UUID) (*model.Team, error) {
	query := fmt.Sprintf(`SELECT %s FROM teams t WHERE t.id = $1 FOR UPDATE`, teamColumns)
	t, err := scanTeam(r.db.QueryRow(ctx, query, id))
	if err != nil {
		return nil, notFound(err, "ошибка блокировки бригады")
	}
	return t, nil
}

func (r *teamRepo) GetActiveByTopic(ctx context.Context, objectID, contractorID uuid.UUID, topicID int64) (*model.Team, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM teams t
		WHERE t.object_id = $1 AND t.contractor_id = $2 AND t.topic_id = $3 AND t.status = 'active'
		ORDER BY t.created_at DESC
		LIMIT 1`, teamColumns)
	t, err := scanTeam(r.db.QueryRow(ctx, query, objectID, contractorID, topicID))
	if err != nil {
		return nil, notFound(err, "ошибка поиска бригады по теме")
	}
	return t, nil
}

func (r *teamRepo) ListByShift(ctx context.Context, shiftID uuid.UUID) ([]*model.Team, error) {
	query := fmt.Sprintf(`SELECT %s FROM teams t WHERE t.shift_id = $1 ORDER BY t.created_at`, teamColumns)
	return r.query(ctx, query, shiftID)
}

func (r *teamRepo) query(ctx context.Context, query string, args ...any) ([]*model.Team, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения бригад: %w", err)
	}
	defer rows.Close()

	var result []*model.Team
	for rows.Next() {
		t, err := scanTeam(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования бригады: %w", err)
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

func (r *teamRepo) SetTopic(ctx context.Context, id uuid.UUID, topicID int64) error {
	tag, err := r.db.Exec(ctx, `UPDATE teams SET topic_id = $2 WHERE id = $1 AND topic_id IS NULL`, id, topicID)
	if err != nil {
		return fmt.Errorf("ошибка сохранения темы бригады: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: тема бригады уже создана", ErrConflict)
	}
	return nil
}

func (r *teamRepo) Close(ctx context.Context, id uuid.UUID, now time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE teams SET status = 'closed', closed_at = $2 WHERE id = $1 AND status = 'active'`, id, now)
	if err != nil {
		return fmt.Errorf("ошибка закрытия бригады: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: бригада уже закрыта", ErrConflict)
	}
	return nil
}

func (r *teamRepo) LatestClosedByBrigadier(ctx context.Context, brigadierID, objectID, contractorID uuid.UUID) (*model.Team, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM teams t
		WHERE t.brigadier_id = $1 AND t.object_id = $2 AND t.contractor_id = $3 AND t.status = 'closed'
		ORDER BY t.closed_at DESC NULLS LAST
		LIMIT 1`, teamColumns)
	t, err := scanTeam(r.db.QueryRow(ctx, query, brigadierID, objectID, contractorID))
	if err != nil {
		return nil, notFound(err, "ошибка поиска предыдущей бригады")
	}
	return t, nil
}

func (r *teamRepo) ListClosedWithOpenMedia(ctx context.Context, limit int) ([]*model.Team, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM teams t
		WHERE t.status = 'closed'
		  AND EXISTS (
			SELECT 1 FROM media m
			WHERE m.team_id = t.id
			  AND ((m.status = 'downloaded' AND m.report_id IS NULL) OR m.needs_supplement)
		  )
		ORDER BY t.closed_at
		LIMIT $1`, teamColumns)
	return r.query(ctx, query, limit)
}

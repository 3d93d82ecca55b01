package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/bigkaa/worklog/internal/domain/model"
)

// MembershipRepository - история состава бригад (только добавление и закрытие записей).
type MembershipRepository interface {
	// Join открывает членство. Повторное открытое членство даёт ErrConflict.
	Join(ctx context.Context, m *model.TeamMembership) error
	// Leave закрывает открытое членство и связывает его с отчётом, если он был создан.
	Leave(ctx context.Context, teamID, workerID uuid.UUID, at time.Time, reportID *uuid.UUID) error
	// SetTriggeredReport связывает только что открытое членство с отчётом перехода.
	SetTriggeredReport(ctx context.Context, id, reportID uuid.UUID) error
	// LeaveAll закрывает все открытые членства бригады.
	LeaveAll(ctx context.Context, teamID uuid.UUID, at time.Time) error
	// OpenMembers возвращает текущий состав в порядке вступления.
	OpenMembers(ctx context.Context, teamID uuid.UUID) ([]uuid.UUID, error)
	IsOpenMember(ctx context.Context, teamID, workerID uuid.UUID) (bool, error)
	// ActiveTeamInShift возвращает активную бригаду смены, где работник сейчас состоит.
	ActiveTeamInShift(ctx context.Context, workerID, shiftID uuid.UUID) (uuid.UUID, error)
	ListByTeam(ctx context.Context, teamID uuid.UUID) ([]*model.TeamMembership, error)
}

type membershipRepo struct {
	db DBTX
}

// NewMembershipRepository создаёт репозиторий членства.
func NewMembershipRepository(db DBTX) MembershipRepository {
	return &membershipRepo{db: db}
}

func (r *membershipRepo) Join(ctx context.Context, m *model.TeamMembership) error {
	err := r.db.QueryRow(ctx, `
		INSERT INTO team_memberships (id, team_id, worker_id, joined_at)
		VALUES ($1, $2, $3, $4)
		RETURNING joined_at`, m.ID, m.TeamID, m.WorkerID, m.JoinedAt,
	).Scan(&m.JoinedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: работник уже состоит в бригаде", ErrConflict)
		}
		return fmt.Errorf("ошибка добавления в бригаду: %w", err)
	}
	return nil
}

func (r *membershipRepo) Leave(ctx context.Context, teamID, workerID uuid.UUID, at time.Time, reportID *uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE team_memberships
		SET left_at = $3, triggered_report_id = COALESCE($4, triggered_report_id)
		WHERE team_id = $1 AND worker_id = $2 AND left_at IS NULL`, teamID, workerID, at, reportID)
	if err != nil {
		return fmt.Errorf("ошибка выхода из бригады: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *membershipRepo) SetTriggeredReport(ctx context.Context, id, reportID uuid.UUID) error {
	_, err := r.db.Exec(ctx, `UPDATE team_memberships SET triggered_report_id = $2 WHERE id = $1`, id, reportID)
	if err != nil {
		return fmt.Errorf("ошибка связи членства с отчётом: %w", err)
	}
	return nil
}

func (r *membershipRepo) LeaveAll(ctx context.Context, teamID uuid.UUID, at time.Time) error {
	_, err := r.db.Exec(ctx,
		`UPDATE team_memberships SET left_at = $2 WHERE team_id = $1 AND left_at IS NULL`, teamID, at)
	if err != nil {
		return fmt.Errorf("ошибка закрытия состава бригады: %w", err)
	}
	return nil
}

func (r *membershipRepo) OpenMembers(ctx context.Context, teamID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := r.db.Query(ctx, `
		SELECT worker_id FROM team_memberships
		WHERE team_id = $1 AND left_at IS NULL
		ORDER BY joined_at, id`, teamID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения состава бригады: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("ошибка сканирования состава: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *membershipRepo) IsOpenMember(ctx context.Context, teamID, workerID uuid.UUID) (bool, error) {
	var ok bool
	err := r.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM team_memberships
			WHERE team_id = $1 AND worker_id = $2 AND left_at IS NULL
		)`, teamID, workerID).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("ошибка проверки членства: %w", err)
	}
	return ok, nil
}

func (r *membershipRepo) ActiveTeamInShift(ctx context.Context, workerID, shiftID uuid.UUID) (uuid.UUID, error) {
	var teamID uuid.UUID
	err := r.db.QueryRow(ctx, `
		SELECT m.team_id FROM team_memberships m
		JOIN teams t ON t.id = m.team_id
		WHERE m.worker_id = $1 AND t.shift_id = $2 AND t.status = 'active' AND m.left_at IS NULL
		LIMIT 1`, workerID, shiftID).Scan(&teamID)
	if err != nil {
		return uuid.Nil, notFound(err, "ошибка поиска бригады работника")
	}
	return teamID, nil
}

func (r *membershipRepo) ListByTeam(ctx context.Context, teamID uuid.UUID) ([]*model.TeamMembership, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, team_id, worker_id, joined_at, left_at, triggered_report_id
		FROM team_memberships WHERE team_id = $1 ORDER BY joined_at, id`, teamID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения истории состава: %w", err)
	}
	defer rows.Close()

	var result []*model.TeamMembership
	for rows.Next() {
		m := &model.TeamMembership{}
		if err := rows.Scan(&m.ID, &m.TeamID, &m.WorkerID, &m.JoinedAt, &m.LeftAt, &m.TriggeredReportID); err != nil {
			return nil, fmt.Errorf("ошибка сканирования членства: %w", err)
		}
		result = append(result, m)
	}
	return result, rows.Err()
}

package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/worklog/internal/domain/model"
)

// ReportFilter - фильтр списка отчётов.
type ReportFilter struct {
	TeamID  *uuid.UUID
	ShiftID *uuid.UUID
}

// ReportRepository - интерфейс доступа к таблице reports.
// Отчёты неизменяемы, кроме divider_message_id и статуса обработки.
type ReportRepository interface {
	Create(ctx context.Context, rep *model.Report) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.Report, error)
	List(ctx context.Context, f ReportFilter, p Page) ([]*model.Report, error)
	// NextNumber - max(report_number) + 1 в пределах смены.
	NextNumber(ctx context.Context, shiftID uuid.UUID) (int, error)
	// LastByTeam - последний не-дополнительный отчёт бригады.
	LastByTeam(ctx context.Context, teamID uuid.UUID) (*model.Report, error)
	SetDivider(ctx context.Context, id uuid.UUID, messageID int64) error
	// SetStatus - условный переход статуса обработки.
	SetStatus(ctx context.Context, id uuid.UUID, from []model.ReportStatus, to model.ReportStatus, now time.Time) error
}

type reportRepo struct {
	db DBTX
}

// NewReportRepository создаёт репозиторий отчётов.
func NewReportRepository(db DBTX) ReportRepository {
	return &reportRepo{db: db}
}

const reportColumns = `id, team_id, shift_id, parent_report_id, report_number, report_type, trigger,
	media_count, members_snapshot, first_message_id, last_message_id, divider_message_id, status,
	created_by, created_at, completed_at`

func scanReport(row pgx.Row) (*model.Report, error) {
	rep := &model.Report{}
	err := row.Scan(
		&rep.ID, &rep.TeamID, &rep.ShiftID, &rep.ParentReportID, &rep.ReportNumber, &rep.ReportType, &rep.Trigger,
		&rep.MediaCount, &rep.MembersSnapshot, &rep.FirstMessageID, &rep.LastMessageID, &rep.DividerMessageID, &rep.Status,
		&rep.CreatedBy, &rep.CreatedAt, &rep.CompletedAt,
	)
	return rep, err
}

func (r *reportRepo) Create(ctx context.Context, rep *model.Report) error {
	if rep.MembersSnapshot == nil {
		rep.MembersSnapshot = []uuid.UUID{}
	}
	query := `
		INSERT INTO reports (id, team_id, shift_id, parent_report_id, report_number, report_type, trigger,
			media_count, members_snapshot, first_message_id, last_message_id, status, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING created_at`
	err := r.db.QueryRow(ctx, query,
		rep.ID, rep.TeamID, rep.ShiftID, rep.ParentReportID, rep.ReportNumber, rep.ReportType, rep.Trigger,
		rep.MediaCount, rep.MembersSnapshot, rep.FirstMessageID, rep.LastMessageID, rep.Status, rep.CreatedBy,
	).Scan(&rep.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: номер отчёта %d уже занят", ErrConflict, rep.ReportNumber)
		}
		return fmt.Errorf("ошибка создания отчёта: %w", err)
	}
	return nil
}

func (r *reportRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.Report, error) {
	query := fmt.Sprintf(`SELECT %s FROM reports WHERE id = $1`, reportColumns)
	rep, err := scanReport(r.db.QueryRow(ctx, query, id))
	if err != nil {
		return nil, notFound(err, "ошибка получения отчёта")
	}
	return rep, nil
}

func (r *reportRepo) List(ctx context.Context, f ReportFilter, p Page) ([]*model.Report, error) {
	p = p.normalize()
	var conditions []string
	var args []any
	if f.TeamID != nil {
		args = append(args, *f.TeamID)
		conditions = append(conditions, fmt.Sprintf("team_id = $%d", len(args)))
	}
	if f.ShiftID != nil {
		args = append(args, *f.ShiftID)
		conditions = append(conditions, fmt.Sprintf("shift_id = $%d", len(args)))
	}
	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}
	query := fmt.Sprintf(`
		SELECT %s FROM reports
		%s
		ORDER BY shift_id, report_number
		LIMIT $%d OFFSET $%d`, reportColumns, where, len(args)+1, len(args)+2)
	args = append(args, p.Limit, p.Offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения отчётов: %w", err)
	}
	defer rows.Close()

	var result []*model.Report
	for rows.Next() {
		rep, err := scanReport(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования отчёта: %w", err)
		}
		result = append(result, rep)
	}
	return result, rows.Err()
}

func (r *reportRepo) NextNumber(ctx context.Context, shiftID uuid.UUID) (int, error) {
	var n int
	err := r.db.QueryRow(ctx,
		`SELECT COALESCE(MAX(report_number), 0) + 1 FROM reports WHERE shift_id = $1`, shiftID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("ошибка вычисления номера отчёта: %w", err)
	}
	return n, nil
}

func (r *reportRepo) LastByTeam(ctx context.Context, teamID uuid.UUID) (*model.Report, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM reports
		WHERE team_id = $1 AND report_type <> 'supplement'
		ORDER BY report_number DESC
		LIMIT 1`, reportColumns)
	rep, err := scanReport(r.db.QueryRow(ctx, query, teamID))
	if err != nil {
		return nil, notFound(err, "ошибка получения последнего отчёта")
	}
	return rep, nil
}

func (r *reportRepo) SetDivider(ctx context.Context, id uuid.UUID, messageID int64) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE reports SET divider_message_id = $2 WHERE id = $1 AND divider_message_id IS NULL`, id, messageID)
	if err != nil {
		return fmt.Errorf("ошибка записи разделителя: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: разделитель уже записан", ErrConflict)
	}
	return nil
}

func (r *reportRepo) SetStatus(ctx context.Context, id uuid.UUID, from []model.ReportStatus, to model.ReportStatus, now time.Time) error {
	var completedAt *time.Time
	if to == model.ReportCompleted {
		completedAt = &now
	}
	fromStr := make([]string, len(from))
	for i, s := range from {
		fromStr[i] = string(s)
	}
	tag, err := r.db.Exec(ctx, `
		UPDATE reports SET status = $2, completed_at = COALESCE($3, completed_at)
		WHERE id = $1 AND status = ANY($4)`, id, to, completedAt, fromStr)
	if err != nil {
		return fmt.Errorf("ошибка смены статуса отчёта: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: статус отчёта изменился", ErrConflict)
	}
	return nil
}

package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/bigkaa/worklog/internal/domain/model"
)

// ShiftFilter - фильтр списка смен.
type ShiftFilter struct {
	ObjectID     *uuid.UUID
	ContractorID *uuid.UUID
	Date         *time.Time
	Status       *model.ShiftStatus
}

// ShiftRepository - интерфейс доступа к таблице shifts.
// Переходы статусов выполняются условными UPDATE: переход срабатывает,
// только если прежнее состояние ещё держится, иначе ErrConflict.
type ShiftRepository interface {
	Create(ctx context.Context, s *model.Shift) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.Shift, error)
	// Lock читает смену с блокировкой строки (только внутри транзакции).
	Lock(ctx context.Context, id uuid.UUID) (*model.Shift, error)
	List(ctx context.Context, f ShiftFilter, p Page) ([]*model.Shift, error)
	// ListByStatus возвращает все смены в статусе (для планировщика).
	ListByStatus(ctx context.Context, status model.ShiftStatus) ([]*model.Shift, error)
	Activate(ctx context.Context, id uuid.UUID, now time.Time) error
	Close(ctx context.Context, id uuid.UUID, now time.Time) error
	Extend(ctx context.Context, id uuid.UUID, until time.Time) error
	// MarkWarningSent фиксирует отправку предупреждения; повторная отметка даёт ErrConflict.
	MarkWarningSent(ctx context.Context, id uuid.UUID, now time.Time) error
}

type shiftRepo struct {
	db DBTX
}

// NewShiftRepository создаёт репозиторий смен.
func NewShiftRepository(db DBTX) ShiftRepository {
	return &shiftRepo{db: db}
}

const shiftColumns = `id, object_id, contractor_id, date, shift_type, start_time, end_time, status,
	qr_token, extended_until, warning_sent_at, activated_at, closed_at, created_at, updated_at`

func scanShift(row pgx.Row) (*model.Shift, error) {
	s := &model.Shift{}
	var start, end pgtype.Time
	err := row.Scan(
		&s.ID, &s.ObjectID, &s.ContractorID, &s.Date, &s.ShiftType, &start, &end, &s.Status,
		&s.QRToken, &s.ExtendedUntil, &s.WarningSentAt, &s.ActivatedAt, &s.ClosedAt, &s.CreatedAt, &s.UpdatedAt,
	)
	s.StartTime, s.EndTime = clock(start), clock(end)
	return s, err
}

func (r *shiftRepo) Create(ctx context.Context, s *model.Shift) error {
	query := `
		INSERT INTO shifts (id, object_id, contractor_id, date, shift_type, start_time, end_time, status, qr_token)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at`
	err := r.db.QueryRow(ctx, query,
		s.ID, s.ObjectID, s.ContractorID, s.Date, s.ShiftType,
		pgTime(s.StartTime), pgTime(s.EndTime), s.Status, s.QRToken,
	).Scan(&s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: активная смена с такими параметрами уже существует", ErrConflict)
		}
		return fmt.Errorf("ошибка создания смены: %w", err)
	}
	return nil
}

func (r *shiftRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.Shift, error) {
	query := fmt.Sprintf(`SELECT %s FROM shifts WHERE id = $1`, shiftColumns)
	s, err := scanShift(r.db.QueryRow(ctx, query, id))
	if err != nil {
		return nil, notFound(err, "ошибка получения смены")
	}
	return s, nil
}

func (r *shiftRepo) Lock(ctx context.Context, id uuid.UUID) (*model.Shift, error) {
	query := fmt.Sprintf(`SELECT %s FROM shifts WHERE id = $1 FOR UPDATE`, shiftColumns)
	s, err := scanShift(r.db.QueryRow(ctx, query, id))
	if err != nil {
		return nil, notFound(err, "ошибка блокировки смены")
	}
	return s, nil
}

func (r *shiftRepo) List(ctx context.Context, f ShiftFilter, p Page) ([]*model.Shift, error) {
	p = p.normalize()
	var conditions []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		conditions = append(conditions, fmt.Sprintf(cond, len(args)))
	}
	if f.ObjectID != nil {
		add("object_id = $%d", *f.ObjectID)
	}
	if f.ContractorID != nil {
		add("contractor_id = $%d", *f.ContractorID)
	}
	if f.Date != nil {
		add("date = $%d", *f.Date)
	}
	if f.Status != nil {
		add("status = $%d", *f.Status)
	}
	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	query := fmt.Sprintf(`
		SELECT %s FROM shifts
		%s
		ORDER BY date DESC, start_time DESC
		LIMIT $%d OFFSET $%d`, shiftColumns, where, len(args)+1, len(args)+2)
	args = append(args, p.Limit, p.Offset)

	return r.query(ctx, query, args...)
}

func (r *shiftRepo) ListByStatus(ctx context.Context, status model.ShiftStatus) ([]*model.Shift, error) {
	query := fmt.Sprintf(`SELECT %s FROM shifts WHERE status = $1 ORDER BY date, start_time`, shiftColumns)
	return r.query(ctx, query, status)
}

func (r *shiftRepo) query(ctx context.Context, query string, args ...any) ([]*model.Shift, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения смен: %w", err)
	}
	defer rows.Close()

	var result []*model.Shift
	for rows.Next() {
		s, err := scanShift(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования смены: %w", err)
		}
		result = append(result, s)
	}
	return result, rows.Err()
}

// transition выполняет условный UPDATE и переводит 0 строк в ErrConflict.
func (r *shiftRepo) transition(ctx context.Context, op, query string, args ...any) error {
	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s: активная смена уже существует", ErrConflict, op)
		}
		return fmt.Errorf("ошибка %s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s: состояние смены изменилось", ErrConflict, op)
	}
	return nil
}

func (r *shiftRepo) Activate(ctx context.Context, id uuid.UUID, now time.Time) error {
	return r.transition(ctx, "активации смены", `
		UPDATE shifts SET status = 'active', activated_at = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'scheduled'`, id, now)
}

func (r *shiftRepo) Close(ctx context.Context, id uuid.UUID, now time.Time) error {
	return r.transition(ctx, "закрытия смены", `
		UPDATE shifts SET status = 'closed', closed_at = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'active'`, id, now)
}

func (r *shiftRepo) Extend(ctx context.Context, id uuid.UUID, until time.Time) error {
	return r.transition(ctx, "продления смены", `
		UPDATE shifts SET extended_until = $2, warning_sent_at = NULL, updated_at = NOW()
		WHERE id = $1 AND status = 'active'`, id, until)
}

func (r *shiftRepo) MarkWarningSent(ctx context.Context, id uuid.UUID, now time.Time) error {
	return r.transition(ctx, "отметки предупреждения", `
		UPDATE shifts SET warning_sent_at = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'active' AND warning_sent_at IS NULL`, id, now)
}

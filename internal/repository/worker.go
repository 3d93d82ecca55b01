package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/worklog/internal/domain/model"
)

// WorkerFilter - фильтр списка работников.
type WorkerFilter struct {
	ContractorID *uuid.UUID
	Active       *bool
	Role         *model.WorkerRole
}

// WorkerRepository - интерфейс доступа к таблице workers.
type WorkerRepository interface {
	// Create создаёт работника. Дубликат telegram_id даёт ErrConflict.
	Create(ctx context.Context, w *model.Worker) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.Worker, error)
	GetByTelegramID(ctx context.Context, telegramID int64) (*model.Worker, error)
	List(ctx context.Context, f WorkerFilter, p Page) ([]*model.Worker, error)
	Count(ctx context.Context, f WorkerFilter) (int, error)
	// Deactivate снимает флаг is_active (работники не удаляются).
	Deactivate(ctx context.Context, id uuid.UUID) error
	// MarkBotStarted отмечает, что работник открыл личный чат с ботом.
	MarkBotStarted(ctx context.Context, telegramID int64) error
}

type workerRepo struct {
	db DBTX
}

// NewWorkerRepository создаёт репозиторий работников.
func NewWorkerRepository(db DBTX) WorkerRepository {
	return &workerRepo{db: db}
}

const workerColumns = `id, telegram_id, name, phone, role, language, contractor_id,
	bot_started, is_active, created_at, updated_at`

func scanWorker(row pgx.Row) (*model.Worker, error) {
	w := &model.Worker{}
	err := row.Scan(
		&w.ID, &w.TelegramID, &w.Name, &w.Phone, &w.Role, &w.Language, &w.ContractorID,
		&w.BotStarted, &w.IsActive, &w.CreatedAt, &w.UpdatedAt,
	)
	return w, err
}

func (r *workerRepo) Create(ctx context.Context, w *model.Worker) error {
	query := `
		INSERT INTO workers (id, telegram_id, name, phone, role, language, contractor_id, bot_started, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at`

	err := r.db.QueryRow(ctx, query,
		w.ID, w.TelegramID, w.Name, w.Phone, w.Role, w.Language, w.ContractorID, w.BotStarted, w.IsActive,
	).Scan(&w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: работник с telegram_id %d уже существует", ErrConflict, w.TelegramID)
		}
		return fmt.Errorf("ошибка создания работника: %w", err)
	}
	return nil
}

func (r *workerRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.Worker, error) {
	query := fmt.Sprintf(`SELECT %s FROM workers WHERE id = $1`, workerColumns)
	w, err := scanWorker(r.db.QueryRow(ctx, query, id))
	if err != nil {
		return nil, notFound(err, "ошибка получения работника")
	}
	return w, nil
}

func (r *workerRepo) GetByTelegramID(ctx context.Context, telegramID int64) (*model.Worker, error) {
	query := fmt.Sprintf(`SELECT %s FROM workers WHERE telegram_id = $1`, workerColumns)
	w, err := scanWorker(r.db.QueryRow(ctx, query, telegramID))
	if err != nil {
		return nil, notFound(err, "ошибка получения работника по telegram_id")
	}
	return w, nil
}

func workerWhere(f WorkerFilter) (string, []any) {
	var conditions []string
	var args []any
	if f.ContractorID != nil {
		args = append(args, *f.ContractorID)
		conditions = append(conditions, fmt.Sprintf("contractor_id = $%d", len(args)))
	}
	if f.Active != nil {
		args = append(args, *f.Active)
		conditions = append(conditions, fmt.Sprintf("is_active = $%d", len(args)))
	}
	if f.Role != nil {
		args = append(args, *f.Role)
		conditions = append(conditions, fmt.Sprintf("role = $%d", len(args)))
	}
	if len(conditions) == 0 {
		return "", args
	}
	return "WHERE " + strings.Join(conditions, " AND "), args
}

func (r *workerRepo) List(ctx context.Context, f WorkerFilter, p Page) ([]*model.Worker, error) {
	p = p.normalize()
	where, args := workerWhere(f)
	query := fmt.Sprintf(`
		SELECT %s FROM workers
		%s
		ORDER BY name, id
		LIMIT $%d OFFSET $%d`, workerColumns, where, len(args)+1, len(args)+2)
	args = append(args, p.Limit, p.Offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка работников: %w", err)
	}
	defer rows.Close()

	var result []*model.Worker
	for rows.Next() {
		w, err := scanWorker(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования работника: %w", err)
		}
		result = append(result, w)
	}
	return result, rows.Err()
}

func (r *workerRepo) Count(ctx context.Context, f WorkerFilter) (int, error) {
	where, args := workerWhere(f)
	var count int
	if err := r.db.QueryRow(ctx, "SELECT COUNT(*) FROM workers "+where, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("ошибка подсчёта работников: %w", err)
	}
	return count, nil
}

func (r *workerRepo) Deactivate(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE workers SET is_active = FALSE, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("ошибка деактивации работника: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *workerRepo) MarkBotStarted(ctx context.Context, telegramID int64) error {
	_, err := r.db.Exec(ctx,
		`UPDATE workers SET bot_started = TRUE, updated_at = NOW()
		 WHERE telegram_id = $1 AND NOT bot_started`, telegramID)
	if err != nil {
		return fmt.Errorf("ошибка отметки bot_started: %w", err)
	}
	return nil
}

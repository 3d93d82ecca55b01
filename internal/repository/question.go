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

// QuestionRepository - вопросы и ответы по отчётам.
type QuestionRepository interface {
	Create(ctx context.Context, q *model.Question) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.Question, error)
	ListByReport(ctx context.Context, reportID uuid.UUID) ([]*model.Question, error)
	SetMessageID(ctx context.Context, id uuid.UUID, messageID int64) error
	// MarkAnswered: pending -> answered (условный переход).
	MarkAnswered(ctx context.Context, id uuid.UUID, now time.Time) error
	CreateAnswer(ctx context.Context, a *model.Answer) error
	GetAnswer(ctx context.Context, questionID uuid.UUID) (*model.Answer, error)
	CountPending(ctx context.Context, reportID uuid.UUID) (int, error)
	// ExpireForCompleted переводит в expired pending-вопросы, созданные
	// раньше завершения своего отчёта. Возвращает истёкшие вопросы.
	ExpireForCompleted(ctx context.Context) ([]*model.Question, error)
}

type questionRepo struct {
	db DBTX
}

// NewQuestionRepository создаёт репозиторий вопросов.
func NewQuestionRepository(db DBTX) QuestionRepository {
	return &questionRepo{db: db}
}

const questionColumns = `id, report_id, team_id, text, choices, message_id, status, created_by, created_at, answered_at`

func scanQuestion(row pgx.Row) (*model.Question, error) {
	q := &model.Question{}
	err := row.Scan(&q.ID, &q.ReportID, &q.TeamID, &q.Text, &q.Choices, &q.MessageID, &q.Status,
		&q.CreatedBy, &q.CreatedAt, &q.AnsweredAt)
	return q, err
}

func (r *questionRepo) Create(ctx context.Context, q *model.Question) error {
	err := r.db.QueryRow(ctx, `
		INSERT INTO questions (id, report_id, team_id, text, choices, status, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at`,
		q.ID, q.ReportID, q.TeamID, q.Text, q.Choices, q.Status, q.CreatedBy,
	).Scan(&q.CreatedAt)
	if err != nil {
		return fmt.Errorf("ошибка создания вопроса: %w", err)
	}
	return nil
}

func (r *questionRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.Question, error) {
	query := fmt.Sprintf(`SELECT %s FROM questions WHERE id = $1`, questionColumns)
	q, err := scanQuestion(r.db.QueryRow(ctx, query, id))
	if err != nil {
		return nil, notFound(err, "ошибка получения вопроса")
	}
	return q, nil
}

func (r *questionRepo) query(ctx context.Context, query string, args ...any) ([]*model.Question, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения вопросов: %w", err)
	}
	defer rows.Close()

	var result []*model.Question
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования вопроса: %w", err)
		}
		result = append(result, q)
	}
	return result, rows.Err()
}

func (r *questionRepo) ListByReport(ctx context.Context, reportID uuid.UUID) ([]*model.Question, error) {
	query := fmt.Sprintf(`SELECT %s FROM questions WHERE report_id = $1 ORDER BY created_at`, questionColumns)
	return r.query(ctx, query, reportID)
}

func (r *questionRepo) SetMessageID(ctx context.Context, id uuid.UUID, messageID int64) error {
	_, err := r.db.Exec(ctx, `UPDATE questions SET message_id = $2 WHERE id = $1`, id, messageID)
	if err != nil {
		return fmt.Errorf("ошибка записи сообщения вопроса: %w", err)
	}
	return nil
}

func (r *questionRepo) MarkAnswered(ctx context.Context, id uuid.UUID, now time.Time) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE questions SET status = 'answered', answered_at = $2
		WHERE id = $1 AND status = 'pending'`, id, now)
	if err != nil {
		return fmt.Errorf("ошибка отметки ответа: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: на вопрос уже ответили", ErrConflict)
	}
	return nil
}

func (r *questionRepo) CreateAnswer(ctx context.Context, a *model.Answer) error {
	err := r.db.QueryRow(ctx, `
		INSERT INTO answers (id, question_id, worker_id, answered_by, choice_index, answer_text)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at`,
		a.ID, a.QuestionID, a.WorkerID, a.AnsweredBy, a.ChoiceIndex, a.AnswerText,
	).Scan(&a.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: ответ уже сохранён", ErrConflict)
		}
		return fmt.Errorf("ошибка сохранения ответа: %w", err)
	}
	return nil
}

func (r *questionRepo) GetAnswer(ctx context.Context, questionID uuid.UUID) (*model.Answer, error) {
	a := &model.Answer{}
	err := r.db.QueryRow(ctx, `
		SELECT id, question_id, worker_id, answered_by, choice_index, answer_text, created_at
		FROM answers WHERE question_id = $1`, questionID,
	).Scan(&a.ID, &a.QuestionID, &a.WorkerID, &a.AnsweredBy, &a.ChoiceIndex, &a.AnswerText, &a.CreatedAt)
	if err != nil {
		return nil, notFound(err, "ошибка получения ответа")
	}
	return a, nil
}

func (r *questionRepo) CountPending(ctx context.Context, reportID uuid.UUID) (int, error) {
	var n int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM questions WHERE report_id = $1 AND status = 'pending'`, reportID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("ошибка подсчёта вопросов: %w", err)
	}
	return n, nil
}

func (r *questionRepo) ExpireForCompleted(ctx context.Context) ([]*model.Question, error) {
	query := fmt.Sprintf(`
		UPDATE questions q SET status = 'expired'
		FROM reports rep
		WHERE rep.id = q.report_id
		  AND q.status = 'pending'
		  AND rep.completed_at IS NOT NULL
		  AND q.created_at < rep.completed_at
		RETURNING %s`, "q."+strings.ReplaceAll(questionColumns, ", ", ", q."))
	return r.query(ctx, query)
}

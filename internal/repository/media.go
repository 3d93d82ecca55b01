package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/worklog/internal/domain/model"
)

// TranscriptPrefix - маркер расшифровки в text_content.
const TranscriptPrefix = "[transcript:"

// MediaFilter - фильтр списка медиа.
type MediaFilter struct {
	TeamID   *uuid.UUID
	AuthorID *uuid.UUID
	ReportID *uuid.UUID
	Status   *model.MediaStatus
}

// MediaRepository - интерфейс доступа к таблице media.
// Все переходы статуса выполняются условными UPDATE вида
// "WHERE id = ? AND status = <прежний>"; несработавший переход даёт ErrConflict.
type MediaRepository interface {
	// Insert создаёт запись. Повторная доставка того же сообщения
	// (team_id, message_id) не создаёт вторую запись: inserted = false.
	Insert(ctx context.Context, m *model.Media) (inserted bool, err error)
	GetByID(ctx context.Context, id uuid.UUID) (*model.Media, error)
	GetByMessage(ctx context.Context, teamID uuid.UUID, messageID int64) (*model.Media, error)
	// GetByChatMessage ищет медиа по сообщению супергруппы (объект, подрядчик):
	// реакции приходят без темы.
	GetByChatMessage(ctx context.Context, objectID, contractorID uuid.UUID, messageID int64) (*model.Media, error)
	List(ctx context.Context, f MediaFilter, p Page) ([]*model.Media, error)
	Count(ctx context.Context, f MediaFilter) (int, error)

	SetFileSize(ctx context.Context, id uuid.UUID, size int64) error
	// MarkDownloaded: pending -> downloaded с записью file_url.
	MarkDownloaded(ctx context.Context, id uuid.UUID, fileURL string, exifDate *time.Time) error
	SetPHash(ctx context.Context, id uuid.UUID, phash string) error
	SetThumbnail(ctx context.Context, id uuid.UUID, url string) error
	// SetTranscript записывает text_content с расшифровкой, если её ещё нет.
	// Для уже зафиксированного медиа выставляется needs_supplement.
	SetTranscript(ctx context.Context, id uuid.UUID, text string) (needsSupplement bool, err error)
	SetTag(ctx context.Context, teamID uuid.UUID, messageID int64, tag model.MediaTag, source model.TagSource) error
	SetTagByID(ctx context.Context, id uuid.UUID, tag model.MediaTag, source model.TagSource) error
	// MarkDeleted: pending|downloaded -> deleted с причиной.
	MarkDeleted(ctx context.Context, id uuid.UUID, reason string) error

	// ListCommitCandidates - загруженные незафиксированные медиа бригады в порядке created_at.
	ListCommitCandidates(ctx context.Context, teamID uuid.UUID) ([]*model.Media, error)
	// ListNeedsSupplement - зафиксированные медиа, изменившиеся после фиксации.
	ListNeedsSupplement(ctx context.Context, teamID uuid.UUID) ([]*model.Media, error)
	// AttachToReport: downloaded -> committed. Возвращает число изменённых строк.
	AttachToReport(ctx context.Context, reportID uuid.UUID, ids []uuid.UUID) (int64, error)
	// AttachSupplement связывает изменившиеся медиа с отчётом-дополнением.
	AttachSupplement(ctx context.Context, reportID uuid.UUID, ids []uuid.UUID) (int64, error)

	// ListStalePending - pending-записи, созданные раньше before.
	ListStalePending(ctx context.Context, before time.Time, limit int) ([]*model.Media, error)
}

type mediaRepo struct {
	db DBTX
}

// NewMediaRepository создаёт репозиторий медиа.
func NewMediaRepository(db DBTX) MediaRepository {
	return &mediaRepo{db: db}
}

const mediaColumns = `id, team_id, author_id, report_id, supplement_report_id, message_id, media_type,
	tag, tag_source, file_id, file_unique_id, thumb_file_id, file_name, mime_type, file_url, file_size,
	duration, thumbnail_url, text_content, exif_date, phash, status, needs_supplement, delete_reason,
	created_at, updated_at`

func scanMedia(row pgx.Row) (*model.Media, error) {
	m := &model.Media{}
	err := row.Scan(
		&m.ID, &m.TeamID, &m.AuthorID, &m.ReportID, &m.SupplementReportID, &m.MessageID, &m.MediaType,
		&m.Tag, &m.TagSource, &m.FileID, &m.FileUniqueID, &m.ThumbFileID, &m.FileName, &m.MimeType, &m.FileURL, &m.FileSize,
		&m.Duration, &m.ThumbnailURL, &m.TextContent, &m.ExifDate, &m.PHash, &m.Status, &m.NeedsSupplement, &m.DeleteReason,
		&m.CreatedAt, &m.UpdatedAt,
	)
	return m, err
}

func (r *mediaRepo) Insert(ctx context.Context, m *model.Media) (bool, error) {
	query := `
		INSERT INTO media (id, team_id, author_id, message_id, media_type, tag, tag_source,
			file_id, file_unique_id, thumb_file_id, file_name, mime_type, file_size, duration,
			text_content, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (team_id, message_id) DO NOTHING
		RETURNING created_at, updated_at`
	err := r.db.QueryRow(ctx, query,
		m.ID, m.TeamID, m.AuthorID, m.MessageID, m.MediaType, m.Tag, m.TagSource,
		m.FileID, m.FileUniqueID, m.ThumbFileID, m.FileName, m.MimeType, m.FileSize, m.Duration,
		m.TextContent, m.Status,
	).Scan(&m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("ошибка создания медиа: %w", err)
	}
	return true, nil
}

func (r *mediaRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.Media, error) {
	query := fmt.Sprintf(`SELECT %s FROM media WHERE id = $1`, mediaColumns)
	m, err := scanMedia(r.db.QueryRow(ctx, query, id))
	if err != nil {
		return nil, notFound(err, "ошибка получения медиа")
	}
	return m, nil
}

func (r *mediaRepo) GetByMessage(ctx context.Context, teamID uuid.UUID, messageID int64) (*model.Media, error) {
	query := fmt.Sprintf(`SELECT %s FROM media WHERE team_id = $1 AND message_id = $2`, mediaColumns)
	m, err := scanMedia(r.db.QueryRow(ctx, query, teamID, messageID))
	if err != nil {
		return nil, notFound(err, "ошибка получения медиа по сообщению")
	}
	return m, nil
}

func (r *mediaRepo) GetByChatMessage(ctx context.Context, objectID, contractorID uuid.UUID, messageID int64) (*model.Media, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM media
		WHERE message_id = $3 AND status <> 'deleted'
		  AND team_id IN (SELECT id FROM teams WHERE object_id = $1 AND contractor_id = $2)
		ORDER BY created_at DESC
		LIMIT 1`, mediaColumns)
	m, err := scanMedia(r.db.QueryRow(ctx, query, objectID, contractorID, messageID))
	if err != nil {
		return nil, notFound(err, "ошибка получения медиа по сообщению чата")
	}
	return m, nil
}

func mediaWhere(f MediaFilter) (string, []any) {
	var conditions []string
	var args []any
	if f.TeamID != nil {
		args = append(args, *f.TeamID)
		conditions = append(conditions, fmt.Sprintf("team_id = $%d", len(args)))
	}
	if f.AuthorID != nil {
		args = append(args, *f.AuthorID)
		conditions = append(conditions, fmt.Sprintf("author_id = $%d", len(args)))
	}
	if f.ReportID != nil {
		args = append(args, *f.ReportID)
		conditions = append(conditions, fmt.Sprintf("(report_id = $%d OR supplement_report_id = $%d)", len(args), len(args)))
	}
	if f.Status != nil {
		args = append(args, *f.Status)
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}
	if len(conditions) == 0 {
		return "", args
	}
	return "WHERE " + strings.Join(conditions, " AND "), args
}

func (r *mediaRepo) List(ctx context.Context, f MediaFilter, p Page) ([]*model.Media, error) {
	p = p.normalize()
	where, args := mediaWhere(f)
	query := fmt.Sprintf(`
		SELECT %s FROM media
		%s
		ORDER BY created_at, id
		LIMIT $%d OFFSET $%d`, mediaColumns, where, len(args)+1, len(args)+2)
	args = append(args, p.Limit, p.Offset)
	return r.query(ctx, query, args...)
}

func (r *mediaRepo) Count(ctx context.Context, f MediaFilter) (int, error) {
	where, args := mediaWhere(f)
	var count int
	if err := r.db.QueryRow(ctx, "SELECT COUNT(*) FROM media "+where, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("ошибка подсчёта медиа: %w", err)
	}
	return count, nil
}

func (r *mediaRepo) query(ctx context.Context, query string, args ...any) ([]*model.Media, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения медиа: %w", err)
	}
	defer rows.Close()

	var result []*model.Media
	for rows.Next() {
		m, err := scanMedia(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования медиа: %w", err)
		}
		result = append(result, m)
	}
	return result, rows.Err()
}

// exec выполняет условный UPDATE и переводит 0 строк в ErrConflict.
func (r *mediaRepo) exec(ctx context.Context, op, query string, args ...any) error {
	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("ошибка %s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrConflict, op)
	}
	return nil
}

func (r *mediaRepo) SetFileSize(ctx context.Context, id uuid.UUID, size int64) error {
	return r.exec(ctx, "записи размера файла", `
		UPDATE media SET file_size = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'pending'`, id, size)
}

func (r *mediaRepo) MarkDownloaded(ctx context.Context, id uuid.UUID, fileURL string, exifDate *time.Time) error {
	return r.exec(ctx, "перехода pending -> downloaded", `
		UPDATE media SET status = 'downloaded', file_url = $2, exif_date = COALESCE($3, exif_date), updated_at = NOW()
		WHERE id = $1 AND status = 'pending'`, id, fileURL, exifDate)
}

func (r *mediaRepo) SetPHash(ctx context.Context, id uuid.UUID, phash string) error {
	return r.exec(ctx, "записи phash", `
		UPDATE media SET phash = $2, updated_at = NOW()
		WHERE id = $1 AND phash = '' AND status IN ('downloaded', 'committed')`, id, phash)
}

func (r *mediaRepo) SetThumbnail(ctx context.Context, id uuid.UUID, url string) error {
	return r.exec(ctx, "записи миниатюры", `
		UPDATE media SET thumbnail_url = $2, updated_at = NOW()
		WHERE id = $1 AND status IN ('downloaded', 'committed')`, id, url)
}

func (r *mediaRepo) SetTranscript(ctx context.Context, id uuid.UUID, text string) (bool, error) {
	var needs bool
	err := r.db.QueryRow(ctx, `
		UPDATE media
		SET text_content = $2, needs_supplement = (status = 'committed'), updated_at = NOW()
		WHERE id = $1
		  AND status IN ('downloaded', 'committed')
		  AND NOT starts_with(text_content, $3)
		RETURNING needs_supplement`, id, text, TranscriptPrefix).Scan(&needs)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, fmt.Errorf("%w: расшифровка уже записана", ErrConflict)
		}
		return false, fmt.Errorf("ошибка записи расшифровки: %w", err)
	}
	return needs, nil
}

func (r *mediaRepo) SetTag(ctx context.Context, teamID uuid.UUID, messageID int64, tag model.MediaTag, source model.TagSource) error {
	t, err := r.db.Exec(ctx, `
		UPDATE media SET tag = $3, tag_source = $4, updated_at = NOW()
		WHERE team_id = $1 AND message_id = $2 AND status <> 'deleted'`, teamID, messageID, tag, source)
	if err != nil {
		return fmt.Errorf("ошибка пометки медиа: %w", err)
	}
	if t.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *mediaRepo) SetTagByID(ctx context.Context, id uuid.UUID, tag model.MediaTag, source model.TagSource) error {
	t, err := r.db.Exec(ctx, `
		UPDATE media SET tag = $2, tag_source = $3, updated_at = NOW()
		WHERE id = $1 AND status <> 'deleted'`, id, tag, source)
	if err != nil {
		return fmt.Errorf("ошибка пометки медиа: %w", err)
	}
	if t.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *mediaRepo) MarkDeleted(ctx context.Context, id uuid.UUID, reason string) error {
	return r.exec(ctx, "удаления медиа", `
		UPDATE media SET status = 'deleted', delete_reason = $2, updated_at = NOW()
		WHERE id = $1 AND status IN ('pending', 'downloaded')`, id, reason)
}

func (r *mediaRepo) ListCommitCandidates(ctx context.Context, teamID uuid.UUID) ([]*model.Media, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM media
		WHERE team_id = $1 AND status = 'downloaded' AND report_id IS NULL
		ORDER BY created_at, id`, mediaColumns)
	return r.query(ctx, query, teamID)
}

func (r *mediaRepo) ListNeedsSupplement(ctx context.Context, teamID uuid.UUID) ([]*model.Media, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM media
		WHERE team_id = $1 AND needs_supplement AND status = 'committed'
		ORDER BY created_at, id`, mediaColumns)
	return r.query(ctx, query, teamID)
}

func (r *mediaRepo) AttachToReport(ctx context.Context, reportID uuid.UUID, ids []uuid.UUID) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE media SET report_id = $1, status = 'committed', updated_at = NOW()
		WHERE id = ANY($2) AND status = 'downloaded' AND report_id IS NULL`, reportID, ids)
	if err != nil {
		return 0, fmt.Errorf("ошибка фиксации медиа в отчёте: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *mediaRepo) AttachSupplement(ctx context.Context, reportID uuid.UUID, ids []uuid.UUID) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE media SET supplement_report_id = $1, needs_supplement = FALSE, updated_at = NOW()
		WHERE id = ANY($2) AND needs_supplement AND status = 'committed'`, reportID, ids)
	if err != nil {
		return 0, fmt.Errorf("ошибка фиксации дополнения: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *mediaRepo) ListStalePending(ctx context.Context, before time.Time, limit int) ([]*model.Media, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM media
		WHERE status = 'pending' AND created_at < $1
		ORDER BY created_at
		LIMIT $2`, mediaColumns)
	return r.query(ctx, query, before, limit)
}

// media.go - приём медиа из тем бригад и операции над медиа через API.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/bigkaa/worklog/internal/domain/mediakind"
	"github.com/bigkaa/worklog/internal/domain/model"
	"github.com/bigkaa/worklog/internal/objectstore"
	"github.com/bigkaa/worklog/internal/pipeline"
	"github.com/bigkaa/worklog/internal/repository"
)

// MediaService - приём и выдача медиа.
type MediaService struct {
	store   *Store
	objects objectstore.Store
	queue   Enqueuer
	getTTL  time.Duration
	putTTL  time.Duration
	now     func() time.Time
	logger  *slog.Logger
}

// NewMediaService создаёт сервис.
func NewMediaService(store *Store, objects objectstore.Store, queue Enqueuer, getTTL, putTTL time.Duration, logger *slog.Logger) *MediaService {
	return &MediaService{
		store:   store,
		objects: objects,
		queue:   queue,
		getTTL:  getTTL,
		putTTL:  putTTL,
		now:     time.Now,
		logger:  logger.With(slog.String("component", "media")),
	}
}

// IngestParams - принятое сообщение темы, уже сопоставленное с бригадой.
type IngestParams struct {
	Team      *model.Team
	Author    *model.Worker
	ChatID    int64
	ThreadID  int64
	MessageID int64
	Kind      mediakind.Kind

	FileID       string
	FileUniqueID string
	ThumbFileID  string
	FileName     string
	MimeType     string
	FileSize     int64
	Duration     int
	// Text - подпись или текст сообщения.
	Text string
}

// Ingest создаёт запись медиа. Повторная доставка того же сообщения
// возвращает существующую запись с created = false.
// Текст создаётся сразу загруженным, файлы ставятся в очередь скачивания.
func (s *MediaService) Ingest(ctx context.Context, p IngestParams) (*model.Media, bool, error) {
	m := &model.Media{
		ID:           uuid.New(),
		TeamID:       p.Team.ID,
		AuthorID:     p.Author.ID,
		MessageID:    p.MessageID,
		MediaType:    p.Kind.Type(),
		Tag:          model.TagNone,
		TagSource:    model.TagSourceNone,
		FileID:       p.FileID,
		FileUniqueID: p.FileUniqueID,
		ThumbFileID:  p.ThumbFileID,
		FileName:     p.FileName,
		MimeType:     p.MimeType,
		FileSize:     p.FileSize,
		Duration:     p.Duration,
		TextContent:  p.Text,
		Status:       model.MediaPending,
	}
	if tag, ok := mediakind.TagFromText(p.Text); ok {
		m.Tag, m.TagSource = tag, model.TagSourceHashtag
	}
	if !p.Kind.HasFile() {
		m.Status = model.MediaDownloaded
	}

	inserted, err := s.store.Media.Insert(ctx, m)
	if err != nil {
		return nil, false, err
	}
	if !inserted {
		existing, err := s.store.Media.GetByMessage(ctx, p.Team.ID, p.MessageID)
		if err != nil {
			return nil, false, mapRepoErr(err, "медиа")
		}
		return existing, false, nil
	}

	if m.Status == model.MediaPending {
		if err := s.queue.Enqueue(ctx, pipeline.Task{Kind: pipeline.KindDownload, MediaID: m.ID}); err != nil {
			// Запись остаётся pending и будет подобрана восстановлением.
			s.logger.Warn("Не удалось поставить скачивание в очередь",
				slog.String("media_id", m.ID.String()),
				slog.String("error", err.Error()),
			)
		}
	}
	s.queue.TryEnqueue(pipeline.Task{
		Kind: pipeline.KindSetReaction, ChatID: p.ChatID, MessageID: p.MessageID, ThreadID: p.ThreadID,
	})

	s.logger.Info("Медиа принято",
		slog.String("media_id", m.ID.String()),
		slog.String("team_id", m.TeamID.String()),
		slog.String("type", string(m.MediaType)),
		slog.Int64("message_id", m.MessageID),
	)
	return m, true, nil
}

// TagByReaction помечает медиа по реакции участника его бригады.
// Возвращает false, если эмодзи не означает пометку, медиа не найдено
// или автор реакции не состоит в бригаде.
func (s *MediaService) TagByReaction(ctx context.Context, sg *model.Supergroup, w *model.Worker, messageID int64, emoji string) (bool, error) {
	tag, ok := mediakind.TagFromReaction(emoji)
	if !ok {
		return false, nil
	}
	m, err := s.store.Media.GetByChatMessage(ctx, sg.ObjectID, sg.ContractorID, messageID)
	if errors.Is(err, repository.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	member, err := s.store.Memberships.IsOpenMember(ctx, m.TeamID, w.ID)
	if err != nil || !member {
		return false, err
	}
	err = s.store.Media.SetTag(ctx, m.TeamID, messageID, tag, model.TagSourceReaction)
	if errors.Is(err, repository.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// SetTag - ручная пометка через API.
func (s *MediaService) SetTag(ctx context.Context, id uuid.UUID, tag model.MediaTag) (*model.Media, error) {
	switch tag {
	case model.TagNone, model.TagProblem, model.TagSupply, model.TagFinalReport:
	default:
		return nil, invalid("tag", "допустимые значения: none, problem, supply, final_report")
	}
	if err := s.store.Media.SetTagByID(ctx, id, tag, model.TagSourceManual); err != nil {
		return nil, mapRepoErr(err, "медиа")
	}
	return s.Get(ctx, id)
}

// Get возвращает медиа по ID.
func (s *MediaService) Get(ctx context.Context, id uuid.UUID) (*model.Media, error) {
	m, err := s.store.Media.GetByID(ctx, id)
	return m, mapRepoErr(err, "медиа")
}

// List возвращает страницу медиа и общее число.
func (s *MediaService) List(ctx context.Context, f repository.MediaFilter, p repository.Page) ([]*model.Media, int, error) {
	items, err := s.store.Media.List(ctx, f, p)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.store.Media.Count(ctx, f)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// Delete переводит медиа в deleted. Зафиксированное медиа удалить нельзя.
func (s *MediaService) Delete(ctx context.Context, id uuid.UUID, reason string) error {
	if reason == "" {
		reason = "manual"
	}
	err := s.store.Media.MarkDeleted(ctx, id, reason)
	if errors.Is(err, repository.ErrConflict) {
		return fmt.Errorf("%w: медиа уже зафиксировано или удалено", ErrConflict)
	}
	return mapRepoErr(err, "медиа")
}

// PresignedURL - временная ссылка на объект.
type PresignedURL struct {
	URL       string    `json:"url"`
	Key       string    `json:"key,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
}

// PresignGet выдаёт ссылку на файл медиа (thumb - на превью).
// Недоверенный вызывающий получает ссылку только на объект, загрузку
// которого инициировал сам.
func (s *MediaService) PresignGet(ctx context.Context, id uuid.UUID, thumb bool, caller Caller) (*PresignedURL, error) {
	m, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	fileURL := m.FileURL
	if thumb {
		fileURL = m.ThumbnailURL
	}
	key, ok := objectstore.KeyFromFileURL(s.objects.Bucket(), fileURL)
	if !ok {
		return nil, fmt.Errorf("%w: у медиа нет загруженного файла", ErrNotFound)
	}
	if err := s.checkRead(ctx, key, caller); err != nil {
		return nil, err
	}
	u, err := s.objects.PresignGet(ctx, key, s.getTTL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	return &PresignedURL{URL: u, ExpiresAt: s.now().Add(s.getTTL)}, nil
}

func (s *MediaService) checkRead(ctx context.Context, key string, caller Caller) error {
	if caller.Trusted() {
		return nil
	}
	up, err := s.store.Uploads.Get(ctx, key)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrForbidden
		}
		return err
	}
	if up.UploadedBy != caller.Actor() {
		return ErrForbidden
	}
	return nil
}

// PresignUpload выдаёт ссылку для прямой загрузки и запоминает инициатора.
func (s *MediaService) PresignUpload(ctx context.Context, fileName string, caller Caller) (*PresignedURL, error) {
	if fileName == "" {
		return nil, invalid("filename", "обязательное поле")
	}
	now := s.now()
	key := mediakind.UploadKey(now, uuid.New(), fileName)
	if err := s.store.Uploads.Record(ctx, &model.ObjectUpload{ObjectKey: key, UploadedBy: caller.Actor()}); err != nil {
		return nil, err
	}
	u, err := s.objects.PresignPut(ctx, key, s.putTTL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	return &PresignedURL{URL: u, Key: key, ExpiresAt: now.Add(s.putTTL)}, nil
}

// PresignUploadGet - ссылка на чтение объекта, загруженного через PresignUpload.
func (s *MediaService) PresignUploadGet(ctx context.Context, key string, caller Caller) (*PresignedURL, error) {
	if err := s.checkRead(ctx, key, caller); err != nil {
		return nil, err
	}
	if _, err := s.objects.Head(ctx, key); err != nil {
		if errors.Is(err, objectstore.ErrNotFound) {
			return nil, fmt.Errorf("%w: объект", ErrNotFound)
		}
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	u, err := s.objects.PresignGet(ctx, key, s.getTTL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	return &PresignedURL{URL: u, Key: key, ExpiresAt: s.now().Add(s.getTTL)}, nil
}

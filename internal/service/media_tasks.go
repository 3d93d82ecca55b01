// media_tasks.go - исполнитель задач конвейера: скачивание, загрузка в хранилище,
// производные артефакты и побочные действия в Telegram.
package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"

	"github.com/google/uuid"

	"github.com/bigkaa/worklog/internal/domain/mediakind"
	"github.com/bigkaa/worklog/internal/domain/model"
	"github.com/bigkaa/worklog/internal/imageproc"
	"github.com/bigkaa/worklog/internal/objectstore"
	"github.com/bigkaa/worklog/internal/pipeline"
	"github.com/bigkaa/worklog/internal/repository"
	"github.com/bigkaa/worklog/internal/stt"
	"github.com/bigkaa/worklog/internal/telegram"
	"github.com/bigkaa/worklog/internal/upstream"
)

// AckEmoji - реакция подтверждения приёма.
const AckEmoji = "✅"

const taskService = "pipeline"

// TaskHandler реализует pipeline.Handler.
type TaskHandler struct {
	store       *Store
	objects     objectstore.Store
	messenger   Messenger
	transcriber Transcriber
	queue       Enqueuer
	maxDownload int64
	logger      *slog.Logger
}

// NewTaskHandler создаёт исполнитель. Очередь привязывается позже через
// SetQueue: пулу нужен исполнитель, исполнителю - пул.
func NewTaskHandler(store *Store, objects objectstore.Store, messenger Messenger, transcriber Transcriber, maxDownload int64, logger *slog.Logger) *TaskHandler {
	return &TaskHandler{
		store:       store,
		objects:     objects,
		messenger:   messenger,
		transcriber: transcriber,
		maxDownload: maxDownload,
		logger:      logger.With(slog.String("component", "pipeline_handler")),
	}
}

// SetQueue привязывает очередь для постановки следующих стадий.
func (h *TaskHandler) SetQueue(q Enqueuer) { h.queue = q }

// Handle исполняет задачу.
func (h *TaskHandler) Handle(ctx context.Context, t pipeline.Task) error {
	switch t.Kind {
	case pipeline.KindDownload:
		return h.download(ctx, t)
	case pipeline.KindUpload:
		return h.upload(ctx, t)
	case pipeline.KindPHash:
		return h.phash(ctx, t)
	case pipeline.KindThumbnail:
		return h.thumbnail(ctx, t)
	case pipeline.KindTranscribe:
		return h.transcribe(ctx, t)
	case pipeline.KindCreateTopic:
		return h.createTopic(ctx, t)
	case pipeline.KindCloseTopic:
		return h.closeTopic(ctx, t)
	case pipeline.KindNotify:
		return h.notify(ctx, t)
	case pipeline.KindPostDivider:
		return h.postDivider(ctx, t)
	case pipeline.KindSetReaction:
		return h.setReaction(ctx, t)
	case pipeline.KindCreateInviteLink:
		return h.createInviteLink(ctx, t)
	}
	return upstream.Permanentf(taskService, "неизвестный вид задачи %q", t.Kind)
}

// OnFailure: окончательный отказ скачивания или загрузки переводит медиа
// в deleted с причиной. Отказы остальных задач не влияют на запись.
func (h *TaskHandler) OnFailure(ctx context.Context, t pipeline.Task, err error) {
	log := h.logger.With(slog.String("task", t.String()), slog.String("error", err.Error()))
	if (t.Kind != pipeline.KindDownload && t.Kind != pipeline.KindUpload) || !upstream.IsPermanent(err) {
		log.Warn("Задача конвейера не выполнена")
		return
	}
	reason := fmt.Sprintf("%s: %s", t.Kind, err.Error())
	if derr := h.store.Media.MarkDeleted(ctx, t.MediaID, reason); derr != nil && !errors.Is(derr, repository.ErrConflict) {
		log.Error("Не удалось пометить медиа удалённым", slog.String("delete_error", derr.Error()))
		return
	}
	log.Warn("Медиа удалено после постоянной ошибки")
}

// media загружает запись и её вид. Отсутствие записи - постоянная ошибка.
func (h *TaskHandler) media(ctx context.Context, id uuid.UUID) (*model.Media, mediakind.Kind, error) {
	m, err := h.store.Media.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, 0, upstream.Permanentf(taskService, "медиа %s не найдено", id)
		}
		return nil, 0, err
	}
	kind, err := mediakind.FromType(m.MediaType)
	if err != nil {
		return nil, 0, upstream.Permanentf(taskService, "%v", err)
	}
	return m, kind, nil
}

func (h *TaskHandler) enqueue(t pipeline.Task) {
	if h.queue != nil {
		h.queue.TryEnqueue(t)
	}
}

func (h *TaskHandler) download(ctx context.Context, t pipeline.Task) error {
	m, _, err := h.media(ctx, t.MediaID)
	if err != nil {
		return err
	}
	if m.Status != model.MediaPending {
		return nil
	}
	if m.FileID == "" {
		return upstream.Permanentf(taskService, "у медиа нет file_id")
	}
	f, err := h.messenger.GetFile(ctx, m.FileID)
	if err != nil {
		return err
	}
	if h.maxDownload > 0 && f.FileSize > h.maxDownload {
		return upstream.Permanentf(taskService, "файл %d байт больше лимита %d", f.FileSize, h.maxDownload)
	}
	if f.FileSize > 0 {
		if err := h.store.Media.SetFileSize(ctx, m.ID, f.FileSize); err != nil && !errors.Is(err, repository.ErrConflict) {
			return err
		}
	}
	h.enqueue(pipeline.Task{Kind: pipeline.KindUpload, MediaID: m.ID, FilePath: f.FilePath})
	return nil
}

func (h *TaskHandler) upload(ctx context.Context, t pipeline.Task) error {
	m, kind, err := h.media(ctx, t.MediaID)
	if err != nil {
		return err
	}
	if m.Status != model.MediaPending {
		return nil
	}
	data, err := h.messenger.Download(ctx, t.FilePath)
	if err != nil {
		return err
	}

	key := mediakind.ObjectKey(kind, m.CreatedAt, m.ID, kind.Ext(t.FilePath, m.FileName, m.MimeType))
	if err := h.putOnce(ctx, key, data); err != nil {
		return err
	}

	fileURL := objectstore.FileURL(h.objects.Bucket(), key)
	err = h.markDownloaded(ctx, m, kind, fileURL, data)
	if errors.Is(err, repository.ErrConflict) {
		// Запись уже переведена другим исполнителем или удалена.
		return nil
	}
	if err != nil {
		return err
	}
	if err := h.store.Uploads.Record(ctx, &model.ObjectUpload{ObjectKey: key, UploadedBy: WorkerActor(m.AuthorID)}); err != nil {
		h.logger.Warn("Не удалось записать инициатора загрузки",
			slog.String("key", key), slog.String("error", err.Error()))
	}

	h.logger.Info("Медиа загружено",
		slog.String("media_id", m.ID.String()),
		slog.String("key", key),
		slog.Int("bytes", len(data)),
	)

	if kind.Hashable() {
		h.enqueue(pipeline.Task{Kind: pipeline.KindPHash, MediaID: m.ID})
		h.enqueue(pipeline.Task{Kind: pipeline.KindThumbnail, MediaID: m.ID})
	}
	if kind.Transcribable() && h.transcriber != nil && h.transcriber.Enabled() {
		h.enqueue(pipeline.Task{Kind: pipeline.KindTranscribe, MediaID: m.ID})
	}
	return nil
}

func (h *TaskHandler) markDownloaded(ctx context.Context, m *model.Media, kind mediakind.Kind, fileURL string, data []byte) error {
	if !kind.HasExif() {
		return h.store.Media.MarkDownloaded(ctx, m.ID, fileURL, nil)
	}
	taken, err := imageproc.ExifDate(data)
	if err != nil {
		return h.store.Media.MarkDownloaded(ctx, m.ID, fileURL, nil)
	}
	return h.store.Media.MarkDownloaded(ctx, m.ID, fileURL, &taken)
}

// putOnce кладёт объект, если его ещё нет: повторная задача не делает второй PUT.
func (h *TaskHandler) putOnce(ctx context.Context, key string, data []byte) error {
	_, err := h.objects.Head(ctx, key)
	if err == nil {
		return nil
	}
	if !errors.Is(err, objectstore.ErrNotFound) {
		return err
	}
	return h.objects.Put(ctx, key, bytes.NewReader(data), int64(len(data)), mediakind.ContentType(key))
}

// imageBytes - байты изображения для phash и превью. Для видео берётся
// превью Telegram, для фото - сам объект из хранилища.
func (h *TaskHandler) imageBytes(ctx context.Context, m *model.Media, kind mediakind.Kind) ([]byte, error) {
	if kind == mediakind.Video {
		if m.ThumbFileID == "" {
			return nil, upstream.Permanentf(taskService, "у видео нет превью")
		}
		f, err := h.messenger.GetFile(ctx, m.ThumbFileID)
		if err != nil {
			return nil, err
		}
		return h.messenger.Download(ctx, f.FilePath)
	}
	key, ok := objectstore.KeyFromFileURL(h.objects.Bucket(), m.FileURL)
	if !ok {
		return nil, upstream.Permanentf(taskService, "некорректный file_url %q", m.FileURL)
	}
	rc, err := h.objects.Get(ctx, key)
	if err != nil {
		if errors.Is(err, objectstore.ErrNotFound) {
			return nil, upstream.Permanentf(taskService, "объект %s отсутствует", key)
		}
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// derivable сообщает, нужна ли производная задача для медиа.
func derivable(m *model.Media) bool {
	return m.Status == model.MediaDownloaded || m.Status == model.MediaCommitted
}

func (h *TaskHandler) phash(ctx context.Context, t pipeline.Task) error {
	m, kind, err := h.media(ctx, t.MediaID)
	if err != nil {
		return err
	}
	if !kind.Hashable() || !derivable(m) || m.PHash != "" {
		return nil
	}
	data, err := h.imageBytes(ctx, m, kind)
	if err != nil {
		return err
	}
	img, err := imageproc.Decode(data)
	if err != nil {
		return upstream.Permanentf(taskService, "%v", err)
	}
	hash, err := imageproc.PHash(img)
	if err != nil {
		return upstream.Permanentf(taskService, "%v", err)
	}
	if err := h.store.Media.SetPHash(ctx, m.ID, hash); err != nil && !errors.Is(err, repository.ErrConflict) {
		return err
	}
	return nil
}

func (h *TaskHandler) thumbnail(ctx context.Context, t pipeline.Task) error {
	m, kind, err := h.media(ctx, t.MediaID)
	if err != nil {
		return err
	}
	if !kind.Hashable() || !derivable(m) || m.ThumbnailURL != "" {
		return nil
	}
	data, err := h.imageBytes(ctx, m, kind)
	if err != nil {
		return err
	}
	img, err := imageproc.Decode(data)
	if err != nil {
		return upstream.Permanentf(taskService, "%v", err)
	}
	thumb, err := imageproc.Thumbnail(img)
	if err != nil {
		return upstream.Permanentf(taskService, "%v", err)
	}
	key := mediakind.ThumbnailKey(m.CreatedAt, m.ID)
	if err := h.putOnce(ctx, key, thumb); err != nil {
		return err
	}
	if err := h.store.Media.SetThumbnail(ctx, m.ID, objectstore.FileURL(h.objects.Bucket(), key)); err != nil && !errors.Is(err, repository.ErrConflict) {
		return err
	}
	if err := h.store.Uploads.Record(ctx, &model.ObjectUpload{ObjectKey: key, UploadedBy: WorkerActor(m.AuthorID)}); err != nil {
		h.logger.Warn("Не удалось записать инициатора загрузки",
			slog.String("key", key), slog.String("error", err.Error()))
	}
	return nil
}

func (h *TaskHandler) transcribe(ctx context.Context, t pipeline.Task) error {
	if h.transcriber == nil || !h.transcriber.Enabled() {
		return nil
	}
	m, kind, err := h.media(ctx, t.MediaID)
	if err != nil {
		return err
	}
	if !kind.Transcribable() || !derivable(m) || strings.HasPrefix(m.TextContent, repository.TranscriptPrefix) {
		return nil
	}
	author, err := h.store.Workers.GetByID(ctx, m.AuthorID)
	if err != nil {
		return err
	}
	key, ok := objectstore.KeyFromFileURL(h.objects.Bucket(), m.FileURL)
	if !ok {
		return upstream.Permanentf(taskService, "некорректный file_url %q", m.FileURL)
	}
	rc, err := h.objects.Get(ctx, key)
	if err != nil {
		return err
	}
	audio, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		return upstream.Wrap("object_store", err)
	}

	res, err := h.transcriber.Transcribe(ctx, audio, path.Base(key), author.Language)
	if err != nil {
		return err
	}
	text := strings.TrimSpace(res.Text)
	if text == "" {
		return nil
	}
	lang := res.LanguageCode
	if lang == "" {
		lang = stt.LanguageCode(author.Language)
	}
	content := fmt.Sprintf("%s%s] %s", repository.TranscriptPrefix, lang, text)
	if m.TextContent != "" {
		content += "\n" + m.TextContent
	}

	needsSupplement, err := h.store.Media.SetTranscript(ctx, m.ID, content)
	if errors.Is(err, repository.ErrConflict) {
		return nil
	}
	if err != nil {
		return err
	}
	h.logger.Info("Расшифровка записана",
		slog.String("media_id", m.ID.String()),
		slog.String("language", lang),
		slog.Bool("needs_supplement", needsSupplement),
	)
	return nil
}

func sendOpts(threadID int64) telegram.SendOptions {
	return telegram.SendOptions{ThreadID: threadID}
}

// teamChat возвращает чат и тему бригады.
func (h *TaskHandler) teamChat(ctx context.Context, teamID uuid.UUID) (*model.Team, int64, error) {
	team, err := h.store.Teams.GetByID(ctx, teamID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, 0, upstream.Permanentf(taskService, "бригада %s не найдена", teamID)
		}
		return nil, 0, err
	}
	sg, err := h.store.Supergroups.GetByObjectContractor(ctx, team.ObjectID, team.ContractorID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, 0, upstream.Permanentf(taskService, "нет супергруппы для объекта %s", team.ObjectID)
		}
		return nil, 0, err
	}
	return team, sg.TelegramGroupID, nil
}

func (h *TaskHandler) createTopic(ctx context.Context, t pipeline.Task) error {
	team, chatID, err := h.teamChat(ctx, t.TeamID)
	if err != nil {
		return err
	}
	if team.TopicID != nil {
		return nil
	}
	threadID, err := h.messenger.CreateForumTopic(ctx, chatID, team.TopicName)
	if err != nil {
		return err
	}
	if err := h.store.Teams.SetTopic(ctx, team.ID, threadID); err != nil {
		return err
	}
	h.logger.Info("Тема бригады создана",
		slog.String("team_id", team.ID.String()),
		slog.Int64("thread_id", threadID),
	)
	return nil
}

func (h *TaskHandler) closeTopic(ctx context.Context, t pipeline.Task) error {
	team, chatID, err := h.teamChat(ctx, t.TeamID)
	if err != nil {
		return err
	}
	if team.TopicID == nil {
		return nil
	}
	return h.messenger.CloseForumTopic(ctx, chatID, *team.TopicID)
}

func (h *TaskHandler) notify(ctx context.Context, t pipeline.Task) error {
	chatID, threadID := t.ChatID, t.ThreadID
	if chatID == 0 {
		team, c, err := h.teamChat(ctx, t.TeamID)
		if err != nil {
			return err
		}
		if team.TopicID == nil {
			return upstream.Permanentf(taskService, "у бригады %s нет темы", team.ID)
		}
		chatID, threadID = c, *team.TopicID
	}
	_, err := h.messenger.SendMessage(ctx, chatID, t.Text, sendOpts(threadID))
	return err
}

func (h *TaskHandler) postDivider(ctx context.Context, t pipeline.Task) error {
	rep, err := h.store.Reports.GetByID(ctx, t.ReportID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return upstream.Permanentf(taskService, "отчёт %s не найден", t.ReportID)
		}
		return err
	}
	if rep.DividerMessageID != nil {
		return nil
	}
	team, chatID, err := h.teamChat(ctx, rep.TeamID)
	if err != nil {
		return err
	}
	if team.TopicID == nil {
		return upstream.Permanentf(taskService, "у бригады %s нет темы", team.ID)
	}
	msgID, err := h.messenger.SendMessage(ctx, chatID, dividerText(rep), sendOpts(*team.TopicID))
	if err != nil {
		return err
	}
	return h.store.Reports.SetDivider(ctx, rep.ID, msgID)
}

// setReaction ставит ✅; если реакции в чате запрещены, отвечает текстом.
func (h *TaskHandler) setReaction(ctx context.Context, t pipeline.Task) error {
	err := h.messenger.SetMessageReaction(ctx, t.ChatID, t.MessageID, AckEmoji)
	if err == nil || !upstream.IsPermanent(err) {
		return err
	}
	h.logger.Debug("Реакция недоступна, ответ текстом",
		slog.Int64("chat_id", t.ChatID), slog.String("error", err.Error()))
	opts := sendOpts(t.ThreadID)
	opts.ReplyTo = t.MessageID
	_, err = h.messenger.SendMessage(ctx, t.ChatID, MsgReceived, opts)
	return err
}

func (h *TaskHandler) createInviteLink(ctx context.Context, t pipeline.Task) error {
	link, err := h.messenger.CreateChatInviteLink(ctx, t.ChatID, "worklog")
	if err != nil {
		return err
	}
	return h.store.Supergroups.SetInviteLink(ctx, t.SupergroupID, link)
}

// question.go - уточняющие вопросы по отчётам и ответы на них.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"

	"github.com/bigkaa/worklog/internal/domain/model"
	"github.com/bigkaa/worklog/internal/repository"
	"github.com/bigkaa/worklog/internal/telegram"
)

// CallbackPrefix - префикс callback_data кнопок ответа.
const CallbackPrefix = "answer:"

// Ограничения вопроса.
const (
	MinChoices    = 2
	MaxChoices    = 8
	maxChoiceLen  = 64
	maxQuestionLn = 1000
)

// CallbackData кодирует ответ в callback_data: answer:{question_id}:{index}.
func CallbackData(questionID uuid.UUID, index int) string {
	return fmt.Sprintf("%s%s:%d", CallbackPrefix, questionID, index)
}

// ParseCallbackData разбирает callback_data кнопки ответа.
func ParseCallbackData(data string) (uuid.UUID, int, bool) {
	rest, ok := strings.CutPrefix(data, CallbackPrefix)
	if !ok {
		return uuid.Nil, 0, false
	}
	idStr, idxStr, ok := strings.Cut(rest, ":")
	if !ok {
		return uuid.Nil, 0, false
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		return uuid.Nil, 0, false
	}
	idx, err := strconv.Atoi(idxStr)
	if err != nil || idx < 0 {
		return uuid.Nil, 0, false
	}
	return id, idx, true
}

// QuestionService - вопросы и ответы.
type QuestionService struct {
	store     *Store
	messenger Messenger
	now       func() time.Time
	logger    *slog.Logger
}

// NewQuestionService создаёт сервис.
func NewQuestionService(store *Store, messenger Messenger, logger *slog.Logger) *QuestionService {
	return &QuestionService{
		store:     store,
		messenger: messenger,
		now:       time.Now,
		logger:    logger.With(slog.String("component", "questions")),
	}
}

// CreateQuestionParams - новый вопрос.
type CreateQuestionParams struct {
	ReportID  uuid.UUID
	Text      string
	Choices   []string
	CreatedBy string
}

// Create сохраняет вопрос, переводит отчёт в questions_pending и публикует
// вопрос с кнопками в теме бригады. Ошибка публикации не отменяет вопрос.
func (s *QuestionService) Create(ctx context.Context, p CreateQuestionParams) (*model.Question, error) {
	text := strings.TrimSpace(p.Text)
	if text == "" || utf8.RuneCountInString(text) > maxQuestionLn {
		return nil, invalid("text", "от 1 до %d символов", maxQuestionLn)
	}
	if len(p.Choices) < MinChoices || len(p.Choices) > MaxChoices {
		return nil, invalid("choices", "от %d до %d вариантов", MinChoices, MaxChoices)
	}
	choices := make([]string, len(p.Choices))
	for i, c := range p.Choices {
		c = strings.TrimSpace(c)
		if c == "" || utf8.RuneCountInString(c) > maxChoiceLen {
			return nil, invalid("choices", "вариант %d: от 1 до %d символов", i, maxChoiceLen)
		}
		choices[i] = c
	}

	var q *model.Question
	err := s.store.InTx(ctx, func(r *repository.Set) error {
		rep, err := r.Reports.GetByID(ctx, p.ReportID)
		if err != nil {
			return mapRepoErr(err, "отчёт")
		}
		if rep.Status == model.ReportCompleted {
			return fmt.Errorf("%w: отчёт завершён", ErrConflict)
		}
		q = &model.Question{
			ID:        uuid.New(),
			ReportID:  rep.ID,
			TeamID:    rep.TeamID,
			Text:      text,
			Choices:   choices,
			Status:    model.QuestionPending,
			CreatedBy: p.CreatedBy,
		}
		if err := r.Questions.Create(ctx, q); err != nil {
			return err
		}
		return mapRepoErr(r.Reports.SetStatus(ctx, rep.ID,
			[]model.ReportStatus{model.ReportSubmitted, model.ReportQuestionsPending},
			model.ReportQuestionsPending, s.now()), "отчёт")
	})
	if err != nil {
		return nil, err
	}

	if err := s.post(ctx, q); err != nil {
		s.logger.Warn("Вопрос не опубликован в теме",
			slog.String("question_id", q.ID.String()), slog.String("error", err.Error()))
	}
	return q, nil
}

func (s *QuestionService) post(ctx context.Context, q *model.Question) error {
	chatID, threadID, err := s.teamTopic(ctx, q.TeamID)
	if err != nil {
		return err
	}
	rows := make([][]tgbotapi.InlineKeyboardButton, len(q.Choices))
	for i, c := range q.Choices {
		rows[i] = tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData(c, CallbackData(q.ID, i)))
	}
	msgID, err := s.messenger.SendMessage(ctx, chatID, questionText(q), telegram.SendOptions{
		ThreadID:    threadID,
		ReplyMarkup: tgbotapi.NewInlineKeyboardMarkup(rows...),
	})
	if err != nil {
		return err
	}
	q.MessageID = &msgID
	return s.store.Questions.SetMessageID(ctx, q.ID, msgID)
}

// teamTopic возвращает чат и тему бригады.
func (s *QuestionService) teamTopic(ctx context.Context, teamID uuid.UUID) (int64, int64, error) {
	team, err := s.store.Teams.GetByID(ctx, teamID)
	if err != nil {
		return 0, 0, err
	}
	if team.TopicID == nil {
		return 0, 0, fmt.Errorf("у бригады %s нет темы", teamID)
	}
	sg, err := s.store.Supergroups.GetByObjectContractor(ctx, team.ObjectID, team.ContractorID)
	if err != nil {
		return 0, 0, err
	}
	return sg.TelegramGroupID, *team.TopicID, nil
}

// AnswerParams - ответ из Telegram или веб-клиента.
type AnswerParams struct {
	QuestionID  uuid.UUID
	ChoiceIndex int
	// Worker - ответивший работник (nil для ответа сотрудника через API).
	Worker     *model.Worker
	AnsweredBy string
}

// Answer сохраняет ответ. Ответ на последний открытый вопрос отчёта
// переводит отчёт в completed.
func (s *QuestionService) Answer(ctx context.Context, p AnswerParams) (*model.Answer, *model.Question, error) {
	q, err := s.store.Questions.GetByID(ctx, p.QuestionID)
	if err != nil {
		return nil, nil, mapRepoErr(err, "вопрос")
	}
	if q.Status != model.QuestionPending {
		return nil, q, fmt.Errorf("%w: вопрос уже закрыт (%s)", ErrConflict, q.Status)
	}
	if p.ChoiceIndex < 0 || p.ChoiceIndex >= len(q.Choices) {
		return nil, q, invalid("choice_index", "вне диапазона 0..%d", len(q.Choices)-1)
	}

	a := &model.Answer{
		ID:          uuid.New(),
		QuestionID:  q.ID,
		AnsweredBy:  p.AnsweredBy,
		ChoiceIndex: p.ChoiceIndex,
		AnswerText:  q.Choices[p.ChoiceIndex],
	}
	if p.Worker != nil {
		a.WorkerID = &p.Worker.ID
		if a.AnsweredBy == "" {
			a.AnsweredBy = WorkerActor(p.Worker.ID)
		}
	}
	now := s.now()
	completed := false
	err = s.store.InTx(ctx, func(r *repository.Set) error {
		if err := r.Questions.MarkAnswered(ctx, q.ID, now); err != nil {
			return mapRepoErr(err, "вопрос")
		}
		if err := r.Questions.CreateAnswer(ctx, a); err != nil {
			return mapRepoErr(err, "ответ")
		}
		pending, err := r.Questions.CountPending(ctx, q.ReportID)
		if err != nil {
			return err
		}
		if pending > 0 {
			return nil
		}
		err = r.Reports.SetStatus(ctx, q.ReportID,
			[]model.ReportStatus{model.ReportQuestionsPending}, model.ReportCompleted, now)
		if errors.Is(err, repository.ErrConflict) {
			return nil
		}
		completed = err == nil
		return err
	})
	if err != nil {
		return nil, q, err
	}
	q.Status = model.QuestionAnswered
	q.AnsweredAt = &now

	if q.MessageID != nil {
		if chatID, _, err := s.teamTopic(ctx, q.TeamID); err == nil {
			if err := s.messenger.EditMessageText(ctx, chatID, *q.MessageID, answeredText(q, a.AnswerText)); err != nil {
				s.logger.Warn("Не удалось обновить сообщение вопроса",
					slog.String("question_id", q.ID.String()), slog.String("error", err.Error()))
			}
		}
	}
	s.logger.Info("Получен ответ на вопрос",
		slog.String("question_id", q.ID.String()),
		slog.Int("choice", a.ChoiceIndex),
		slog.Bool("report_completed", completed),
	)
	return a, q, nil
}

// AnswerCallback обрабатывает нажатие кнопки: проверяет данные, сохраняет
// ответ и подтверждает callback в Telegram.
func (s *QuestionService) AnswerCallback(ctx context.Context, callbackID, data string, w *model.Worker) error {
	qid, idx, ok := ParseCallbackData(data)
	if !ok {
		return invalid("callback_data", "неизвестный формат")
	}
	_, _, err := s.Answer(ctx, AnswerParams{QuestionID: qid, ChoiceIndex: idx, Worker: w})
	reply := "Ответ принят ✅"
	switch {
	case errors.Is(err, ErrConflict):
		reply = "На вопрос уже ответили."
	case err != nil:
		reply = "Не удалось сохранить ответ."
	}
	if aerr := s.messenger.AnswerCallbackQuery(ctx, callbackID, reply); aerr != nil {
		s.logger.Debug("answerCallbackQuery не выполнен", slog.String("error", aerr.Error()))
	}
	return err
}

// Get возвращает вопрос.
func (s *QuestionService) Get(ctx context.Context, id uuid.UUID) (*model.Question, error) {
	q, err := s.store.Questions.GetByID(ctx, id)
	return q, mapRepoErr(err, "вопрос")
}

// ListByReport возвращает вопросы отчёта.
func (s *QuestionService) ListByReport(ctx context.Context, reportID uuid.UUID) ([]*model.Question, error) {
	return s.store.Questions.ListByReport(ctx, reportID)
}

// ExpireSweep переводит в expired вопросы завершённых отчётов.
func (s *QuestionService) ExpireSweep(ctx context.Context) (int, error) {
	expired, err := s.store.Questions.ExpireForCompleted(ctx)
	if err != nil {
		return 0, err
	}
	for _, q := range expired {
		s.logger.Info("Вопрос истёк",
			slog.String("question_id", q.ID.String()),
			slog.String("report_id", q.ReportID.String()),
		)
	}
	return len(expired), nil
}

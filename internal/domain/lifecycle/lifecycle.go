// Пакет lifecycle - матрицы допустимых переходов статусов медиа, смен,
// отчётов и вопросов.
//
// Медиа:   pending → downloaded → committed; pending|downloaded → deleted
// Смена:   scheduled → active → closed; scheduled → closed (ручная отмена)
// Отчёт:   submitted → questions_pending → completed; submitted → completed
// Вопрос:  pending → answered | expired
//
// Сами переходы в БД выполняются условным UPDATE ... WHERE status = <from>,
// матрицы здесь служат проверкой перед записью.
package lifecycle

import (
	"fmt"

	"github.com/bigkaa/worklog/internal/domain/model"
)

// TransitionError - ошибка недопустимого перехода.
type TransitionError struct {
	Code    string
	Message string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// CodeInvalidTransition - код ошибки недопустимого перехода.
const CodeInvalidTransition = "INVALID_TRANSITION"

var mediaTransitions = map[model.MediaStatus]map[model.MediaStatus]bool{
	model.MediaPending:    {model.MediaDownloaded: true, model.MediaDeleted: true},
	model.MediaDownloaded: {model.MediaCommitted: true, model.MediaDeleted: true},
	model.MediaCommitted:  {},
	model.MediaDeleted:    {},
}

var shiftTransitions = map[model.ShiftStatus]map[model.ShiftStatus]bool{
	model.ShiftScheduled: {model.ShiftActive: true, model.ShiftClosed: true},
	model.ShiftActive:    {model.ShiftClosed: true},
	model.ShiftClosed:    {},
}

var reportTransitions = map[model.ReportStatus]map[model.ReportStatus]bool{
	model.ReportSubmitted:        {model.ReportQuestionsPending: true, model.ReportCompleted: true},
	model.ReportQuestionsPending: {model.ReportQuestionsPending: true, model.ReportCompleted: true},
	model.ReportCompleted:        {},
}

var questionTransitions = map[model.QuestionStatus]map[model.QuestionStatus]bool{
	model.QuestionPending:  {model.QuestionAnswered: true, model.QuestionExpired: true},
	model.QuestionAnswered: {},
	model.QuestionExpired:  {},
}

// Media проверяет переход статуса медиа.
func Media(from, to model.MediaStatus) error {
	return check(mediaTransitions, from, to)
}

// Shift проверяет переход статуса смены.
func Shift(from, to model.ShiftStatus) error {
	return check(shiftTransitions, from, to)
}

// Report проверяет переход статуса отчёта.
func Report(from, to model.ReportStatus) error {
	return check(reportTransitions, from, to)
}

// Question проверяет переход статуса вопроса.
func Question(from, to model.QuestionStatus) error {
	return check(questionTransitions, from, to)
}

// MediaRank возвращает порядок статуса медиа на основной ветке
// (pending < downloaded < committed). Для deleted возвращает -1.
func MediaRank(s model.MediaStatus) int {
	switch s {
	case model.MediaPending:
		return 0
	case model.MediaDownloaded:
		return 1
	case model.MediaCommitted:
		return 2
	default:
		return -1
	}
}

func check[S ~string](matrix map[S]map[S]bool, from, to S) error {
	targets, ok := matrix[from]
	if !ok {
		return &TransitionError{
			Code:    CodeInvalidTransition,
			Message: fmt.Sprintf("неизвестный исходный статус %q", from),
		}
	}
	if !targets[to] {
		return &TransitionError{
			Code:    CodeInvalidTransition,
			Message: fmt.Sprintf("переход %s → %s недопустим", from, to),
		}
	}
	return nil
}

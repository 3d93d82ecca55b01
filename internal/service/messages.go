package service

import (
	"fmt"
	"strings"

	"github.com/bigkaa/worklog/internal/domain/model"
)

// Тексты сообщений бота.
const (
	MsgReceived         = "Получено ✅"
	MsgNotRegistered    = "Вы не зарегистрированы. Попросите у бригадира ссылку-приглашение."
	MsgHelp             = "Фото, видео, голосовые и документы отправляйте в тему своей бригады.\n/cancel - прервать регистрацию."
	MsgAskName          = "Введите имя и фамилию:"
	MsgAskPhone         = "Отправьте номер телефона (кнопкой ниже или текстом):"
	MsgCancelled        = "Регистрация прервана."
	MsgInviteNotFound   = "Код приглашения не найден."
	MsgInviteExpired    = "Срок действия приглашения истёк."
	MsgInviteUsed       = "Приглашение уже использовано."
	MsgShiftWarning     = "⏰ До закрытия смены 30 минут. Отправьте оставшиеся материалы."
	MsgShiftClosed      = "Смена закрыта. Материалы зафиксированы в отчёте."
	MsgSharePhoneButton = "Отправить номер"
	MsgOpenApp          = "Открыть приложение"
)

// Greeting - приветствие после регистрации со ссылками на супергруппы.
func Greeting(w *model.Worker, links []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Добро пожаловать, %s! Регистрация завершена.", w.Name)
	if len(links) > 0 {
		b.WriteString("\n\nВступите в группу объекта:")
		for _, l := range links {
			b.WriteString("\n")
			b.WriteString(l)
		}
	}
	return b.String()
}

// WelcomeBack - ответ уже зарегистрированному работнику.
func WelcomeBack(w *model.Worker) string {
	return fmt.Sprintf("С возвращением, %s! Вы уже зарегистрированы.", w.Name)
}

// dividerText - разделитель в теме после фиксации отчёта.
func dividerText(rep *model.Report) string {
	kind := map[model.ReportType]string{
		model.ReportIntermediate: "промежуточный",
		model.ReportFinal:        "итоговый",
		model.ReportSupplement:   "дополнение",
	}[rep.ReportType]
	return fmt.Sprintf("━━━━━━━━━━\n📋 Отчёт №%d (%s): %d материалов", rep.ReportNumber, kind, rep.MediaCount)
}

// questionText - вопрос с вариантами.
func questionText(q *model.Question) string {
	return "❓ " + q.Text
}

// answeredText - вопрос после ответа.
func answeredText(q *model.Question, answer string) string {
	return fmt.Sprintf("%s\n\n✅ Ответ: %s", questionText(q), answer)
}

// topicName - название темы бригады.
func topicName(brigadier *model.Worker, sh *model.Shift) string {
	return fmt.Sprintf("%s · %s", brigadier.Name, sh.Date.Format("02.01"))
}

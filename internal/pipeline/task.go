// Пакет pipeline - типизированная очередь задач и ограниченный пул исполнителей.
// Постановка в очередь - единственный способ перехода задачи между стадиями.
package pipeline

import (
	"fmt"

	"github.com/google/uuid"
)

// Kind - вид задачи.
type Kind string

const (
	KindDownload         Kind = "download"
	KindUpload           Kind = "upload"
	KindPHash            Kind = "phash"
	KindThumbnail        Kind = "thumbnail"
	KindTranscribe       Kind = "transcribe"
	KindCreateTopic      Kind = "create_topic"
	KindCloseTopic       Kind = "close_topic"
	KindNotify           Kind = "notify"
	KindPostDivider      Kind = "post_divider"
	KindSetReaction      Kind = "set_reaction"
	KindCreateInviteLink Kind = "create_invite_link"
)

// Kinds - все виды задач (для метрик и проверок полноты обработчика).
var Kinds = []Kind{
	KindDownload, KindUpload, KindPHash, KindThumbnail, KindTranscribe,
	KindCreateTopic, KindCloseTopic, KindNotify, KindPostDivider,
	KindSetReaction, KindCreateInviteLink,
}

// Task - единица работы. Заполняются только поля, нужные виду задачи.
type Task struct {
	Kind Kind
	// MediaID - для download/upload/phash/thumbnail/transcribe.
	MediaID uuid.UUID
	// TeamID - для create_topic/close_topic/notify.
	TeamID uuid.UUID
	// ReportID - для post_divider.
	ReportID uuid.UUID
	// SupergroupID - для create_invite_link.
	SupergroupID uuid.UUID
	// ChatID, MessageID - для set_reaction и ответов в чат.
	ChatID    int64
	MessageID int64
	ThreadID  int64
	// FilePath - путь файла на стороне Bot API (upload).
	FilePath string
	// Text - текст уведомления.
	Text string
}

// Key - ключ дедупликации. Пустой ключ означает, что задача не схлопывается.
func (t Task) Key() string {
	switch t.Kind {
	case KindDownload, KindUpload, KindPHash, KindThumbnail, KindTranscribe:
		return fmt.Sprintf("%s:%s", t.Kind, t.MediaID)
	case KindCreateTopic, KindCloseTopic:
		return fmt.Sprintf("%s:%s", t.Kind, t.TeamID)
	case KindPostDivider:
		return fmt.Sprintf("%s:%s", t.Kind, t.ReportID)
	case KindCreateInviteLink:
		return fmt.Sprintf("%s:%s", t.Kind, t.SupergroupID)
	case KindSetReaction:
		return fmt.Sprintf("%s:%d:%d", t.Kind, t.ChatID, t.MessageID)
	}
	return ""
}

// String - краткое описание для логов.
func (t Task) String() string {
	if k := t.Key(); k != "" {
		return k
	}
	return string(t.Kind)
}

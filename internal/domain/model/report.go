package model

import (
	"time"

	"github.com/google/uuid"
)

// ReportType - тип отчёта.
type ReportType string

const (
	ReportIntermediate ReportType = "intermediate"
	ReportFinal        ReportType = "final"
	ReportSupplement   ReportType = "supplement"
)

// ReportTrigger - причина фиксации отчёта.
type ReportTrigger string

const (
	TriggerManual       ReportTrigger = "manual"
	TriggerMemberChange ReportTrigger = "member_change"
	TriggerShiftEnd     ReportTrigger = "shift_end"
	TriggerAuto         ReportTrigger = "auto"
)

// ReportStatus - статус обработки отчёта.
type ReportStatus string

const (
	ReportSubmitted        ReportStatus = "submitted"
	ReportQuestionsPending ReportStatus = "questions_pending"
	ReportCompleted        ReportStatus = "completed"
)

// Report - неизменяемый конверт над непрерывным хвостом медиа бригады.
type Report struct {
	ID               uuid.UUID     `json:"id"`
	TeamID           uuid.UUID     `json:"team_id"`
	ShiftID          uuid.UUID     `json:"shift_id"`
	ParentReportID   *uuid.UUID    `json:"parent_report_id,omitempty"`
	ReportNumber     int           `json:"report_number"`
	ReportType       ReportType    `json:"report_type"`
	Trigger          ReportTrigger `json:"trigger"`
	MediaCount       int           `json:"media_count"`
	MembersSnapshot  []uuid.UUID   `json:"members_snapshot"`
	FirstMessageID   int64         `json:"first_message_id"`
	LastMessageID    int64         `json:"last_message_id"`
	DividerMessageID *int64        `json:"divider_message_id,omitempty"`
	Status           ReportStatus  `json:"status"`
	CreatedBy        string        `json:"created_by,omitempty"`
	CreatedAt        time.Time     `json:"created_at"`
	CompletedAt      *time.Time    `json:"completed_at,omitempty"`
}

// QuestionStatus - статус уточняющего вопроса.
type QuestionStatus string

const (
	QuestionPending  QuestionStatus = "pending"
	QuestionAnswered QuestionStatus = "answered"
	QuestionExpired  QuestionStatus = "expired"
)

// Question - уточнение по отчёту с вариантами ответа.
type Question struct {
	ID         uuid.UUID      `json:"id"`
	ReportID   uuid.UUID      `json:"report_id"`
	TeamID     uuid.UUID      `json:"team_id"`
	Text       string         `json:"text"`
	Choices    []string       `json:"choices"`
	MessageID  *int64         `json:"message_id,omitempty"`
	Status     QuestionStatus `json:"status"`
	CreatedBy  string         `json:"created_by,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	AnsweredAt *time.Time     `json:"answered_at,omitempty"`
}

// Answer - ответ на вопрос.
type Answer struct {
	ID          uuid.UUID  `json:"id"`
	QuestionID  uuid.UUID  `json:"question_id"`
	WorkerID    *uuid.UUID `json:"worker_id,omitempty"`
	AnsweredBy  string     `json:"answered_by"`
	ChoiceIndex int        `json:"choice_index"`
	AnswerText  string     `json:"answer_text"`
	CreatedAt   time.Time  `json:"created_at"`
}

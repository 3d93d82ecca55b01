package model

import (
	"time"

	"github.com/google/uuid"
)

// TeamStatus - статус бригады.
type TeamStatus string

const (
	TeamActive TeamStatus = "active"
	TeamClosed TeamStatus = "closed"
)

// Team - бригада внутри смены, привязанная к теме супергруппы.
// PreviousTeamID хранится как идентификатор, обход делается явным запросом.
type Team struct {
	ID             uuid.UUID  `json:"id"`
	ObjectID       uuid.UUID  `json:"object_id"`
	ContractorID   uuid.UUID  `json:"contractor_id"`
	ShiftID        uuid.UUID  `json:"shift_id"`
	TopicID        *int64     `json:"topic_id,omitempty"`
	TopicName      string     `json:"topic_name"`
	BrigadierID    uuid.UUID  `json:"brigadier_id"`
	Status         TeamStatus `json:"status"`
	IsSolo         bool       `json:"is_solo"`
	PreviousTeamID *uuid.UUID `json:"previous_team_id,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	ClosedAt       *time.Time `json:"closed_at,omitempty"`
}

// TeamMembership - запись истории состава (append-only).
// LeftAt == nil означает, что работник сейчас в бригаде.
type TeamMembership struct {
	ID                uuid.UUID  `json:"id"`
	TeamID            uuid.UUID  `json:"team_id"`
	WorkerID          uuid.UUID  `json:"worker_id"`
	JoinedAt          time.Time  `json:"joined_at"`
	LeftAt            *time.Time `json:"left_at,omitempty"`
	TriggeredReportID *uuid.UUID `json:"triggered_report_id,omitempty"`
}

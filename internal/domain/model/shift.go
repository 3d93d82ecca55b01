package model

import (
	"time"

	"github.com/google/uuid"
)

// ShiftType - тип смены.
type ShiftType string

const (
	ShiftDay     ShiftType = "day"
	ShiftEvening ShiftType = "evening"
	ShiftNight   ShiftType = "night"
)

// Valid сообщает, является ли тип смены допустимым.
func (t ShiftType) Valid() bool {
	switch t {
	case ShiftDay, ShiftEvening, ShiftNight:
		return true
	}
	return false
}

// ShiftStatus - статус смены.
type ShiftStatus string

const (
	ShiftScheduled ShiftStatus = "scheduled"
	ShiftActive    ShiftStatus = "active"
	ShiftClosed    ShiftStatus = "closed"
)

// Shift - рабочее окно на объекте.
// Date хранит календарную дату (00:00 UTC), StartTime/EndTime - смещение от полуночи
// в часовом поясе объекта.
type Shift struct {
	ID            uuid.UUID     `json:"id"`
	ObjectID      uuid.UUID     `json:"object_id"`
	ContractorID  uuid.UUID     `json:"contractor_id"`
	Date          time.Time     `json:"date"`
	ShiftType     ShiftType     `json:"shift_type"`
	StartTime     time.Duration `json:"-"`
	EndTime       time.Duration `json:"-"`
	Status        ShiftStatus   `json:"status"`
	QRToken       string        `json:"-"`
	ExtendedUntil *time.Time    `json:"extended_until,omitempty"`
	WarningSentAt *time.Time    `json:"warning_sent_at,omitempty"`
	ActivatedAt   *time.Time    `json:"activated_at,omitempty"`
	ClosedAt      *time.Time    `json:"closed_at,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// ShiftRegistration - отметка работника на смене.
type ShiftRegistration struct {
	ID             uuid.UUID  `json:"id"`
	ShiftID        uuid.UUID  `json:"shift_id"`
	WorkerID       uuid.UUID  `json:"worker_id"`
	RegisteredAt   time.Time  `json:"registered_at"`
	RegisteredByID *uuid.UUID `json:"registered_by_id,omitempty"`
	Latitude       *float64   `json:"latitude,omitempty"`
	Longitude      *float64   `json:"longitude,omitempty"`
	GeoValid       bool       `json:"geo_valid"`
}

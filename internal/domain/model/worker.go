// Пакет model - доменные модели Worklog.
package model

import (
	"time"

	"github.com/google/uuid"
)

// WorkerRole - роль работника в бригаде.
type WorkerRole string

const (
	RoleWorker    WorkerRole = "worker"
	RoleBrigadier WorkerRole = "brigadier"
)

// Valid сообщает, является ли роль допустимой.
func (r WorkerRole) Valid() bool {
	return r == RoleWorker || r == RoleBrigadier
}

// Language - язык работника (для подсказки STT).
type Language string

const (
	LangRU Language = "ru"
	LangUZ Language = "uz"
	LangTG Language = "tg"
	LangKY Language = "ky"
)

// Valid сообщает, поддерживается ли язык.
func (l Language) Valid() bool {
	switch l {
	case LangRU, LangUZ, LangTG, LangKY:
		return true
	}
	return false
}

// Worker - полевой работник, идентифицируемый по telegram_id.
// Не удаляется, только деактивируется.
type Worker struct {
	ID           uuid.UUID  `json:"id"`
	TelegramID   int64      `json:"telegram_id"`
	Name         string     `json:"name"`
	Phone        string     `json:"phone"`
	Role         WorkerRole `json:"role"`
	Language     Language   `json:"language"`
	ContractorID uuid.UUID  `json:"contractor_id"`
	BotStarted   bool       `json:"bot_started"`
	IsActive     bool       `json:"is_active"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// InviteToken - одноразовый код регистрации из deep-link.
type InviteToken struct {
	Code         string     `json:"code"`
	ContractorID uuid.UUID  `json:"contractor_id"`
	Role         WorkerRole `json:"role"`
	ExpiresAt    time.Time  `json:"expires_at"`
	Used         bool       `json:"used"`
	UsedByID     *uuid.UUID `json:"used_by_id,omitempty"`
	UsedAt       *time.Time `json:"used_at,omitempty"`
	CreatedBy    string     `json:"created_by"`
	CreatedAt    time.Time  `json:"created_at"`
}

// Expired сообщает, истёк ли срок действия кода на момент now.
func (t *InviteToken) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// Supergroup - супергруппа Telegram с темами, одна на (объект, подрядчик).
type Supergroup struct {
	ID              uuid.UUID `json:"id"`
	ObjectID        uuid.UUID `json:"object_id"`
	ContractorID    uuid.UUID `json:"contractor_id"`
	TelegramGroupID int64     `json:"telegram_group_id"`
	Title           string    `json:"title"`
	InviteLink      string    `json:"invite_link"`
	CreatedAt       time.Time `json:"created_at"`
}

// Object - проекция объекта строительства из ERP.
// Центр геозоны задан, только если оба поля Latitude/Longitude не nil.
type Object struct {
	ID                        uuid.UUID `json:"id"`
	Name                      string    `json:"name"`
	Latitude                  *float64  `json:"latitude,omitempty"`
	Longitude                 *float64  `json:"longitude,omitempty"`
	GeoRadiusM                int       `json:"geo_radius_m"`
	AllowGeoBypass            bool      `json:"allow_geo_bypass"`
	RegistrationWindowMinutes int       `json:"registration_window_minutes"`
	UpdatedAt                 time.Time `json:"updated_at"`
}

// HasCentre сообщает, задан ли центр геозоны.
func (o *Object) HasCentre() bool {
	return o.Latitude != nil && o.Longitude != nil
}

package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/bigkaa/worklog/internal/domain/model"
)

// RegistrationRepository - отметки работников на сменах.
type RegistrationRepository interface {
	// Create сохраняет отметку. Повторная отметка на той же смене даёт ErrConflict.
	Create(ctx context.Context, reg *model.ShiftRegistration) error
	ListByShift(ctx context.Context, shiftID uuid.UUID) ([]*model.ShiftRegistration, error)
}

type registrationRepo struct {
	db DBTX
}

// NewRegistrationRepository создаёт репозиторий отметок.
func NewRegistrationRepository(db DBTX) RegistrationRepository {
	return &registrationRepo{db: db}
}

func (r *registrationRepo) Create(ctx context.Context, reg *model.ShiftRegistration) error {
	query := `
		INSERT INTO shift_registrations (id, shift_id, worker_id, registered_by_id, latitude, longitude, geo_valid)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING registered_at`
	err := r.db.QueryRow(ctx, query,
		reg.ID, reg.ShiftID, reg.WorkerID, reg.RegisteredByID, reg.Latitude, reg.Longitude, reg.GeoValid,
	).Scan(&reg.RegisteredAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: работник уже отмечен на смене", ErrConflict)
		}
		return fmt.Errorf("ошибка создания отметки: %w", err)
	}
	return nil
}

func (r *registrationRepo) ListByShift(ctx context.Context, shiftID uuid.UUID) ([]*model.ShiftRegistration, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, shift_id, worker_id, registered_at, registered_by_id, latitude, longitude, geo_valid
		FROM shift_registrations WHERE shift_id = $1 ORDER BY registered_at`, shiftID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения отметок: %w", err)
	}
	defer rows.Close()

	var result []*model.ShiftRegistration
	for rows.Next() {
		reg := &model.ShiftRegistration{}
		if err := rows.Scan(&reg.ID, &reg.ShiftID, &reg.WorkerID, &reg.RegisteredAt,
			&reg.RegisteredByID, &reg.Latitude, &reg.Longitude, &reg.GeoValid); err != nil {
			return nil, fmt.Errorf("ошибка сканирования отметки: %w", err)
		}
		result = append(result, reg)
	}
	return result, rows.Err()
}

package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/bigkaa/worklog/internal/domain/model"
)

// ObjectRepository - проекция объектов ERP (геозона и окно регистрации).
type ObjectRepository interface {
	Upsert(ctx context.Context, o *model.Object) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.Object, error)
}

type objectRepo struct {
	db DBTX
}

// NewObjectRepository создаёт репозиторий объектов.
func NewObjectRepository(db DBTX) ObjectRepository {
	return &objectRepo{db: db}
}

func (r *objectRepo) Upsert(ctx context.Context, o *model.Object) error {
	query := `
		INSERT INTO objects (id, name, latitude, longitude, geo_radius_m, allow_geo_bypass, registration_window_minutes)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name,
			latitude = EXCLUDED.latitude,
			longitude = EXCLUDED.longitude,
			geo_radius_m = EXCLUDED.geo_radius_m,
			allow_geo_bypass = EXCLUDED.allow_geo_bypass,
			registration_window_minutes = EXCLUDED.registration_window_minutes,
			updated_at = NOW()
		RETURNING updated_at`
	err := r.db.QueryRow(ctx, query,
		o.ID, o.Name, o.Latitude, o.Longitude, o.GeoRadiusM, o.AllowGeoBypass, o.RegistrationWindowMinutes,
	).Scan(&o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("ошибка сохранения объекта: %w", err)
	}
	return nil
}

func (r *objectRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.Object, error) {
	o := &model.Object{}
	err := r.db.QueryRow(ctx, `
		SELECT id, name, latitude, longitude, geo_radius_m, allow_geo_bypass,
			registration_window_minutes, updated_at
		FROM objects WHERE id = $1`, id,
	).Scan(&o.ID, &o.Name, &o.Latitude, &o.Longitude, &o.GeoRadiusM, &o.AllowGeoBypass,
		&o.RegistrationWindowMinutes, &o.UpdatedAt)
	if err != nil {
		return nil, notFound(err, "ошибка получения объекта")
	}
	return o, nil
}

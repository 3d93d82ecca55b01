package repository

import (
	"context"
	"fmt"

	"github.com/bigkaa/worklog/internal/domain/model"
)

// UploadRepository - кто инициировал загрузку объекта (ACL presigned GET).
type UploadRepository interface {
	Record(ctx context.Context, u *model.ObjectUpload) error
	Get(ctx context.Context, key string) (*model.ObjectUpload, error)
}

type uploadRepo struct {
	db DBTX
}

// NewUploadRepository создаёт репозиторий загрузок.
func NewUploadRepository(db DBTX) UploadRepository {
	return &uploadRepo{db: db}
}

func (r *uploadRepo) Record(ctx context.Context, u *model.ObjectUpload) error {
	err := r.db.QueryRow(ctx, `
		INSERT INTO object_uploads (object_key, uploaded_by)
		VALUES ($1, $2)
		ON CONFLICT (object_key) DO UPDATE SET uploaded_by = object_uploads.uploaded_by
		RETURNING uploaded_by, created_at`, u.ObjectKey, u.UploadedBy,
	).Scan(&u.UploadedBy, &u.CreatedAt)
	if err != nil {
		return fmt.Errorf("ошибка записи загрузки: %w", err)
	}
	return nil
}

func (r *uploadRepo) Get(ctx context.Context, key string) (*model.ObjectUpload, error) {
	u := &model.ObjectUpload{}
	err := r.db.QueryRow(ctx,
		`SELECT object_key, uploaded_by, created_at FROM object_uploads WHERE object_key = $1`, key,
	).Scan(&u.ObjectKey, &u.UploadedBy, &u.CreatedAt)
	if err != nil {
		return nil, notFound(err, "ошибка получения загрузки")
	}
	return u, nil
}

// Пакет objectstore - адаптер S3-совместимого хранилища (minio-go).
// Ключи строит вызывающий код (mediakind); адаптер их не угадывает.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/bigkaa/worklog/internal/upstream"
)

const service = "object_store"

// ErrNotFound - объект отсутствует в хранилище.
var ErrNotFound = errors.New("объект не найден")

// ObjectInfo - метаданные объекта.
type ObjectInfo struct {
	Key         string
	Size        int64
	ContentType string
	ETag        string
}

// Store - операции над хранилищем объектов.
type Store interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Head(ctx context.Context, key string) (*ObjectInfo, error)
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
	PresignPut(ctx context.Context, key string, ttl time.Duration) (string, error)
	// Bucket - имя бакета (префикс file_url).
	Bucket() string
}

// Options - параметры подключения.
type Options struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	Bucket    string
	UseSSL    bool
}

// MinioStore - реализация Store поверх minio-go.
type MinioStore struct {
	client *minio.Client
	bucket string
	logger *slog.Logger
}

// NewMinio создаёт клиент S3. Сетевых запросов не выполняет.
func NewMinio(opts Options, logger *slog.Logger) (*MinioStore, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
		Region: opts.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("создание клиента S3: %w", err)
	}
	return &MinioStore{
		client: client,
		bucket: opts.Bucket,
		logger: logger.With(slog.String("component", "object_store")),
	}, nil
}

// Bucket возвращает имя бакета.
func (s *MinioStore) Bucket() string { return s.bucket }

// EnsureBucket создаёт бакет, если его нет.
func (s *MinioStore) EnsureBucket(ctx context.Context, region string) error {
	ok, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return classify(err)
	}
	if ok {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: region}); err != nil {
		return classify(err)
	}
	s.logger.Info("Бакет создан", slog.String("bucket", s.bucket))
	return nil
}

// Put записывает объект. Ключи содержат id записи, поэтому
// параллельная запись одного ключа перезаписывает одинаковые байты.
func (s *MinioStore) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	info, err := s.client.PutObject(ctx, s.bucket, key, r, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return classify(err)
	}
	s.logger.Debug("Объект записан",
		slog.String("key", key),
		slog.Int64("size", info.Size),
	)
	return nil
}

// Get открывает объект на чтение. Отсутствие объекта даёт ErrNotFound.
func (s *MinioStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	if _, err := s.Head(ctx, key); err != nil {
		return nil, err
	}
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, classify(err)
	}
	return obj, nil
}

// Head возвращает метаданные объекта.
func (s *MinioStore) Head(ctx context.Context, key string) (*ObjectInfo, error) {
	st, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return nil, classify(err)
	}
	return &ObjectInfo{Key: st.Key, Size: st.Size, ContentType: st.ContentType, ETag: st.ETag}, nil
}

// PresignGet выдаёт временную ссылку на скачивание.
func (s *MinioStore) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, ttl, url.Values{})
	if err != nil {
		return "", classify(err)
	}
	return u.String(), nil
}

// PresignPut выдаёт временную ссылку на загрузку.
func (s *MinioStore) PresignPut(ctx context.Context, key string, ttl time.Duration) (string, error) {
	u, err := s.client.PresignedPutObject(ctx, s.bucket, key, ttl)
	if err != nil {
		return "", classify(err)
	}
	return u.String(), nil
}

// classify переводит ошибку minio в ErrNotFound или upstream.Error.
func classify(err error) error {
	resp := minio.ToErrorResponse(err)
	switch {
	case resp.Code == "NoSuchKey" || resp.Code == "NoSuchBucket":
		return fmt.Errorf("%w: %s", ErrNotFound, resp.Message)
	case resp.StatusCode != 0:
		return upstream.FromStatus(service, resp.StatusCode, err)
	}
	return upstream.Wrap(service, err)
}

// ReadinessChecker - проверка доступности бакета для /health/ready.
type ReadinessChecker struct {
	store *MinioStore
}

// NewReadinessChecker создаёт проверку готовности хранилища.
func NewReadinessChecker(store *MinioStore) *ReadinessChecker {
	return &ReadinessChecker{store: store}
}

// CheckReady проверяет наличие бакета.
func (c *ReadinessChecker) CheckReady() (status string, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	ok, err := c.store.client.BucketExists(ctx, c.store.bucket)
	if err != nil {
		return "fail", fmt.Sprintf("хранилище недоступно: %v", err)
	}
	if !ok {
		return "fail", fmt.Sprintf("бакет %s не найден", c.store.bucket)
	}
	return "ok", "бакет доступен"
}

// FileURL - значение media.file_url: {bucket}/{key}.
func FileURL(bucket, key string) string {
	return bucket + "/" + key
}

// KeyFromFileURL выделяет ключ из file_url.
func KeyFromFileURL(bucket, fileURL string) (string, bool) {
	prefix := bucket + "/"
	if len(fileURL) <= len(prefix) || fileURL[:len(prefix)] != prefix {
		return "", false
	}
	return fileURL[len(prefix):], true
}


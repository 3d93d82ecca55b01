// Пакет objectstoretest - хранилище объектов в памяти для тестов
// сервисов, которым нужен objectstore.Store без S3.
package objectstoretest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/bigkaa/worklog/internal/objectstore"
)

var _ objectstore.Store = (*Memory)(nil)

// Memory - objectstore.Store в памяти процесса. Считает записи по ключам.
type Memory struct {
	mu      sync.Mutex
	bucket  string
	objects map[string]memObject
	puts    map[string]int
}

type memObject struct {
	data        []byte
	contentType string
}

// NewMemory создаёт пустое хранилище в памяти.
func NewMemory(bucket string) *Memory {
	return &Memory{bucket: bucket, objects: make(map[string]memObject), puts: make(map[string]int)}
}

// Bucket возвращает имя бакета.
func (m *Memory) Bucket() string { return m.bucket }

// Put сохраняет копию данных.
func (m *Memory) Put(_ context.Context, key string, r io.Reader, _ int64, contentType string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = memObject{data: data, contentType: contentType}
	m.puts[key]++
	return nil
}

// Get возвращает содержимое объекта.
func (m *Memory) Get(_ context.Context, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", objectstore.ErrNotFound, key)
	}
	return io.NopCloser(bytes.NewReader(obj.data)), nil
}

// Head возвращает метаданные объекта.
func (m *Memory) Head(_ context.Context, key string) (*objectstore.ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", objectstore.ErrNotFound, key)
	}
	return &objectstore.ObjectInfo{Key: key, Size: int64(len(obj.data)), ContentType: obj.contentType}, nil
}

// PresignGet возвращает псевдо-ссылку с TTL.
func (m *Memory) PresignGet(_ context.Context, key string, ttl time.Duration) (string, error) {
	return fmt.Sprintf("memory://%s/%s?ttl=%s&op=get", m.bucket, key, ttl), nil
}

// PresignPut возвращает псевдо-ссылку с TTL.
func (m *Memory) PresignPut(_ context.Context, key string, ttl time.Duration) (string, error) {
	return fmt.Sprintf("memory://%s/%s?ttl=%s&op=put", m.bucket, key, ttl), nil
}

// Puts возвращает число записей ключа.
func (m *Memory) Puts(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.puts[key]
}

// Len возвращает число хранимых объектов.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}

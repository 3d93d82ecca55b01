package registration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "wl:reg:"

// RedisStore - хранилище состояний в Redis (ключ wl:reg:<telegram_id>).
// Состояние переживает перезапуск и общее для нескольких реплик.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore создаёт хранилище по URL вида redis://host:6379/0.
func NewRedisStore(url string, ttl time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("разбор REDIS_URL: %w", err)
	}
	return &RedisStore{client: redis.NewClient(opts), ttl: ttl}, nil
}

func key(telegramID int64) string {
	return keyPrefix + strconv.FormatInt(telegramID, 10)
}

func (s *RedisStore) Get(ctx context.Context, telegramID int64) (*State, error) {
	data, err := s.client.Get(ctx, key(telegramID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("чтение состояния регистрации: %w", err)
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("разбор состояния регистрации: %w", err)
	}
	return &st, nil
}

func (s *RedisStore) Save(ctx context.Context, telegramID int64, st *State) error {
	data, err := json.Marshal(st)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, key(telegramID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("запись состояния регистрации: %w", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, telegramID int64) error {
	if err := s.client.Del(ctx, key(telegramID)).Err(); err != nil {
		return fmt.Errorf("удаление состояния регистрации: %w", err)
	}
	return nil
}

// CheckReady проверяет доступность Redis.
func (s *RedisStore) CheckReady() (status string, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.client.Ping(ctx).Err(); err != nil {
		return "fail", err.Error()
	}
	return "ok", ""
}

// Close закрывает соединения.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

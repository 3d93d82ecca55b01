package registration

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// MemoryStore - хранилище состояний в памяти процесса с TTL.
// Используется, когда REDIS_URL не задан.
type MemoryStore struct {
	cache *expirable.LRU[int64, State]
}

// NewMemoryStore создаёт хранилище на size записей.
func NewMemoryStore(size int, ttl time.Duration) *MemoryStore {
	return &MemoryStore{cache: expirable.NewLRU[int64, State](size, nil, ttl)}
}

func (s *MemoryStore) Get(_ context.Context, telegramID int64) (*State, error) {
	st, ok := s.cache.Get(telegramID)
	if !ok {
		return nil, nil
	}
	return &st, nil
}

func (s *MemoryStore) Save(_ context.Context, telegramID int64, st *State) error {
	s.cache.Add(telegramID, *st)
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, telegramID int64) error {
	s.cache.Remove(telegramID)
	return nil
}

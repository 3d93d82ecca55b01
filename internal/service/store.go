package service

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bigkaa/worklog/internal/repository"
)

// Store - доступ к репозиториям вне и внутри транзакции.
type Store struct {
	*repository.Set
	tx *repository.TxRunner
}

// NewStore создаёт Store поверх пула соединений.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{Set: repository.NewSet(pool), tx: repository.NewTxRunner(pool)}
}

// InTx выполняет fn с репозиториями, привязанными к одной транзакции.
func (s *Store) InTx(ctx context.Context, fn func(r *repository.Set) error) error {
	return s.tx.RunInTx(ctx, func(tx pgx.Tx) error {
		return fn(repository.NewSet(tx))
	})
}

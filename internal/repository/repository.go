// Пакет repository - слой доступа к данным PostgreSQL.
// Все запросы - чистый SQL через pgx, без ORM.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Ошибки слоя репозиториев.
var (
	// ErrNotFound - запись не найдена.
	ErrNotFound = errors.New("запись не найдена")
	// ErrConflict - конфликт уникальности или условного перехода состояния.
	ErrConflict = errors.New("конфликт: запись уже существует или состояние изменилось")
)

// DBTX - общее у *pgxpool.Pool и pgx.Tx: репозиторий работает
// одинаково в транзакции и вне её.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// TxRunner открывает транзакции на пуле.
type TxRunner struct {
	pool *pgxpool.Pool
}

// NewTxRunner создаёт TxRunner.
func NewTxRunner(pool *pgxpool.Pool) *TxRunner {
	return &TxRunner{pool: pool}
}

// RunInTx коммитит, если fn вернула nil, иначе откатывает.
func (r *TxRunner) RunInTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return pgx.BeginFunc(ctx, r.pool, fn)
}

// codeUniqueViolation - SQLSTATE нарушения уникального индекса.
const codeUniqueViolation = "23505"

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func isUniqueViolation(err error) bool { return pgCode(err) == codeUniqueViolation }

// notFound переводит pgx.ErrNoRows в ErrNotFound, остальное оборачивает.
func notFound(err error, op string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return fmt.Errorf("%s: %w", op, err)
}

// pgTime переводит время суток в значение колонки TIME.
func pgTime(d time.Duration) pgtype.Time {
	return pgtype.Time{Microseconds: d.Microseconds(), Valid: true}
}

// clock переводит значение колонки TIME обратно во время суток.
func clock(t pgtype.Time) time.Duration {
	return time.Duration(t.Microseconds) * time.Microsecond
}

// Page - параметры постраничной выборки.
type Page struct {
	Limit  int
	Offset int
}

// normalize ограничивает limit разумными пределами.
func (p Page) normalize() Page {
	if p.Limit <= 0 || p.Limit > 500 {
		p.Limit = 100
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

// Пакет database - пул PostgreSQL (pgxpool), схема (golang-migrate)
// и проверка готовности для /health/ready.
package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bigkaa/worklog/internal/config"
)

const (
	// startupWait - сколько ждать PostgreSQL при старте пода.
	startupWait  = time.Minute
	readyTimeout = 3 * time.Second
)

// Connect открывает пул и дожидается первого успешного ping.
// В кластере под может подняться раньше базы, поэтому недоступность
// в первые startupWait не считается ошибкой.
func Connect(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseDSN())
	if err != nil {
		return nil, fmt.Errorf("ошибка парсинга DSN: %w", err)
	}
	tunePool(poolCfg, cfg.PipelineWorkers)

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания пула подключений: %w", err)
	}

	err = waitFor(ctx, logger, "ping PostgreSQL", func() error {
		pingCtx, cancel := context.WithTimeout(ctx, readyTimeout)
		defer cancel()
		return pool.Ping(pingCtx)
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("PostgreSQL недоступен: %w", err)
	}

	logger.Info("Пул PostgreSQL готов",
		slog.String("dsn", cfg.DatabaseURL()),
		slog.Int("max_conns", int(poolCfg.MaxConns)),
	)
	return pool, nil
}

// tunePool: воркеры конвейера держат соединение только на короткую
// транзакцию, плюс запас под HTTP API и планировщик.
func tunePool(c *pgxpool.Config, workers int) {
	c.MaxConns = int32(max(workers+4, 8)) //nolint:gosec // ограничено валидацией конфигурации
	c.MinConns = 1
	c.MaxConnIdleTime = 5 * time.Minute
	c.HealthCheckPeriod = 30 * time.Second
}

// waitFor повторяет op с экспоненциальной паузой, пока не истечёт
// startupWait или ctx.
func waitFor(ctx context.Context, logger *slog.Logger, what string, op func() error) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 500 * time.Millisecond
	eb.MaxInterval = 5 * time.Second
	eb.MaxElapsedTime = startupWait

	return backoff.RetryNotify(op, backoff.WithContext(eb, ctx), func(err error, d time.Duration) {
		logger.Warn("Ожидание PostgreSQL",
			slog.String("step", what),
			slog.Duration("retry_in", d),
			slog.String("error", err.Error()),
		)
	})
}

// ReadinessChecker - проверка PostgreSQL для readiness probe.
type ReadinessChecker struct {
	pool *pgxpool.Pool
}

// NewReadinessChecker создаёт проверку готовности PostgreSQL.
func NewReadinessChecker(pool *pgxpool.Pool) *ReadinessChecker {
	return &ReadinessChecker{pool: pool}
}

// CheckReady: fail - ping не прошёл; degraded - все соединения пула
// заняты и новые запросы встанут в очередь.
func (c *ReadinessChecker) CheckReady() (status string, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), readyTimeout)
	defer cancel()

	if err := c.pool.Ping(ctx); err != nil {
		return "fail", fmt.Sprintf("PostgreSQL недоступен: %v", err)
	}
	st := c.pool.Stat()
	return poolStatus(st.AcquiredConns(), st.MaxConns())
}

func poolStatus(acquired, maxConns int32) (string, string) {
	if maxConns > 0 && acquired >= maxConns {
		return "degraded", fmt.Sprintf("пул исчерпан: занято %d из %d", acquired, maxConns)
	}
	return "ok", fmt.Sprintf("занято %d из %d соединений", acquired, maxConns)
}

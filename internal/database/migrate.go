package database

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/cenkalti/backoff/v4"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/bigkaa/worklog/internal/config"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// migrateURL - DSN для драйвера pgx5 golang-migrate.
func migrateURL(cfg *config.Config) string {
	u := url.URL{
		Scheme:   "pgx5",
		User:     url.UserPassword(cfg.DBUser, cfg.DBPassword),
		Host:     fmt.Sprintf("%s:%d", cfg.DBHost, cfg.DBPort),
		Path:     "/" + cfg.DBName,
		RawQuery: url.Values{"sslmode": {cfg.DBSSLMode}}.Encode(),
	}
	return u.String()
}

// Migrate доводит схему до последней версии из встроенных миграций.
// Подключение повторяется до startupWait; ошибка самой миграции - нет.
func Migrate(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	var m *migrate.Migrate
	err := waitFor(ctx, logger, "migrate", func() error {
		source, err := iofs.New(migrationsFS, "migrations")
		if err != nil {
			return backoff.Permanent(fmt.Errorf("источник миграций: %w", err))
		}
		m, err = migrate.NewWithSourceInstance("iofs", source, migrateURL(cfg))
		return err
	})
	if err != nil {
		return fmt.Errorf("ошибка инициализации миграций: %w", err)
	}
	defer m.Close()

	before, _, _ := m.Version()
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("ошибка применения миграций: %w", err)
	}
	after, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("версия схемы: %w", err)
	}
	if dirty {
		return fmt.Errorf("схема в состоянии dirty на версии %d", after)
	}

	if after != before {
		logger.Info("Схема обновлена",
			slog.Uint64("from", uint64(before)),
			slog.Uint64("to", uint64(after)),
		)
	} else {
		logger.Debug("Схема актуальна", slog.Uint64("version", uint64(after)))
	}
	return nil
}

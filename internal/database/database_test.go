package database_test

import (
	"context"
	"testing"

	"github.com/bigkaa/worklog/internal/database"
	"github.com/bigkaa/worklog/internal/database/dbtest"
)

// TestMigrate проверяет применение миграций и их идемпотентность.
func TestMigrate(t *testing.T) {
	cfg := dbtest.Config(t)
	logger := dbtest.Logger()
	ctx := context.Background()

	if err := database.Migrate(ctx, cfg, logger); err != nil {
		t.Fatalf("Migrate() вернул ошибку: %v", err)
	}
	// Повторное применение должно пройти без ошибки (ErrNoChange)
	if err := database.Migrate(ctx, cfg, logger); err != nil {
		t.Fatalf("Повторный Migrate() вернул ошибку: %v", err)
	}

	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		t.Fatalf("Connect() вернул ошибку: %v", err)
	}
	defer pool.Close()

	tables := []string{
		"objects", "workers", "invite_tokens", "supergroups", "shifts",
		"shift_registrations", "teams", "team_memberships", "media",
		"reports", "questions", "answers", "object_uploads",
	}
	for _, table := range tables {
		var exists bool
		err := pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = $1)`,
			table,
		).Scan(&exists)
		if err != nil {
			t.Fatalf("Ошибка проверки таблицы %s: %v", table, err)
		}
		if !exists {
			t.Errorf("Таблица %s не создана", table)
		}
	}

	status, msg := database.NewReadinessChecker(pool).CheckReady()
	if status != "ok" {
		t.Errorf("CheckReady() = %s (%s), ожидается ok", status, msg)
	}
}

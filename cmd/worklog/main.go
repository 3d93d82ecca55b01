// Точка входа Worklog - Telegram-бот учёта работ бригад.
// Загружает конфигурацию, применяет миграции, подключается к PostgreSQL,
// S3 и Bot API, собирает сервисы, конвейер медиа и планировщик,
// принимает обновления через webhook или long polling и обслуживает
// внутренний API до сигнала завершения.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/bigkaa/worklog/internal/api/handlers"
	"github.com/bigkaa/worklog/internal/api/middleware"
	"github.com/bigkaa/worklog/internal/config"
	"github.com/bigkaa/worklog/internal/database"
	"github.com/bigkaa/worklog/internal/ingress"
	"github.com/bigkaa/worklog/internal/objectstore"
	"github.com/bigkaa/worklog/internal/pipeline"
	"github.com/bigkaa/worklog/internal/registration"
	"github.com/bigkaa/worklog/internal/scheduler"
	"github.com/bigkaa/worklog/internal/server"
	"github.com/bigkaa/worklog/internal/service"
	"github.com/bigkaa/worklog/internal/stt"
	"github.com/bigkaa/worklog/internal/telegram"
)

const (
	resolverCacheSize   = 4096
	resolverCacheTTL    = 5 * time.Minute
	registrationMemSize = 10000
	initDataMaxAge      = 24 * time.Hour
)

func main() {
	if err := run(); err != nil {
		slog.Error("Worklog завершился с ошибкой", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

//nolint:funlen // линейная сборка зависимостей
func run() error {
	// 1. .env для локального запуска; в кластере переменные задаёт окружение
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("Не удалось прочитать .env", slog.String("error", err.Error()))
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := config.SetupLogger(cfg)
	logger.Info("Worklog запускается",
		slog.String("version", config.Version),
		slog.String("addr", cfg.ListenAddr()),
		slog.String("updates_mode", cfg.UpdatesMode),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 2. PostgreSQL
	logger.Info("Применение миграций БД...")
	if err := database.Migrate(ctx, cfg, logger); err != nil {
		return err
	}
	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer pool.Close()

	// 3. Object store
	objects, err := objectstore.NewMinio(objectstore.Options{
		Endpoint:  cfg.ObjectStoreEndpoint,
		AccessKey: cfg.ObjectStoreAccessKey,
		SecretKey: cfg.ObjectStoreSecretKey,
		Region:    cfg.ObjectStoreRegion,
		Bucket:    cfg.ObjectStoreBucket,
		UseSSL:    cfg.ObjectStoreUseSSL,
	}, logger)
	if err != nil {
		return err
	}
	if err := objects.EnsureBucket(ctx, cfg.ObjectStoreRegion); err != nil {
		return err
	}

	// 4. Bot API и STT
	tg, err := telegram.New(telegram.Options{
		Token:            cfg.BotToken,
		APIEndpoint:      cfg.BotAPIEndpoint,
		FileEndpoint:     cfg.BotFileEndpoint,
		RPS:              cfg.TelegramRPS,
		MaxRetries:       cfg.TelegramMaxRetries,
		MaxDownloadBytes: cfg.MaxDownloadBytes,
	}, logger)
	if err != nil {
		return err
	}
	botUsername := cfg.BotUsername
	if botUsername == "" {
		botUsername = tg.Username()
	}

	sttClient := stt.New(cfg.STTURL, cfg.STTAPIKey, cfg.STTTimeout, logger)
	if !sttClient.Enabled() {
		logger.Warn("STT_URL не задан, транскрипция голосовых отключена")
	}

	// 5. Состояние регистрации: redis или память процесса
	checks := []handlers.NamedChecker{
		{Name: "postgresql", Checker: database.NewReadinessChecker(pool)},
		{Name: "object_store", Checker: objectstore.NewReadinessChecker(objects)},
	}
	var regStore registration.Store
	if cfg.RedisURL != "" {
		rs, err := registration.NewRedisStore(cfg.RedisURL, cfg.RegistrationTTL)
		if err != nil {
			return err
		}
		defer func() { _ = rs.Close() }()
		regStore = rs
		checks = append(checks, handlers.NamedChecker{Name: "redis", Checker: rs})
	} else {
		logger.Warn("REDIS_URL не задан, незавершённые регистрации хранятся в памяти")
		regStore = registration.NewMemoryStore(registrationMemSize, cfg.RegistrationTTL)
	}

	// 6. Конвейер: пулу нужен исполнитель, исполнителю - пул
	store := service.NewStore(pool)
	tasks := service.NewTaskHandler(store, objects, tg, sttClient, cfg.MaxDownloadBytes, logger)
	queue := pipeline.New(tasks, pipeline.Options{
		Workers:     cfg.PipelineWorkers,
		QueueSize:   cfg.PipelineQueueSize,
		MaxAttempts: cfg.PipelineMaxAttempts,
	}, logger)
	tasks.SetQueue(queue)

	// 7. Сервисы
	resolver := service.NewResolver(store, resolverCacheSize, resolverCacheTTL, logger)
	identitySvc := service.NewIdentityService(store, queue, resolver, botUsername, logger)
	authSvc := service.NewAuthService(cfg.BotToken, cfg.SessionSecret, cfg.SessionTTL, initDataMaxAge, resolver, logger)
	reportSvc := service.NewReportService(store, queue, logger)
	shiftSvc := service.NewShiftService(store, reportSvc, queue, cfg.Location, logger)
	teamSvc := service.NewTeamService(store, reportSvc, queue, logger)
	mediaSvc := service.NewMediaService(store, objects, queue, cfg.PresignGetTTL, cfg.PresignPutTTL, logger)
	questionSvc := service.NewQuestionService(store, tg, logger)
	recovery := service.NewRecovery(store, queue, logger)

	// 8. Планировщик
	sched := scheduler.New(logger)
	sched.Add("auto_activate_scheduled", cfg.ActivateInterval, counted(logger, "auto_activate_scheduled", shiftSvc.ActivateDue))
	sched.Add("auto_close_expired", cfg.CloseInterval, counted(logger, "auto_close_expired", shiftSvc.CloseDue))
	sched.Add("send_report_warnings", cfg.WarningInterval, counted(logger, "send_report_warnings", shiftSvc.SendWarnings))
	sched.Add("expire_questions", cfg.QuestionInterval, counted(logger, "expire_questions", questionSvc.ExpireSweep))
	sched.Add("commit_late_media", cfg.LateCommitInterval, counted(logger, "commit_late_media", reportSvc.CommitLate))
	sched.Add("recover_pipeline", cfg.RecoverInterval, func(ctx context.Context) error {
		res, err := recovery.Run(ctx)
		if res.Requeued > 0 || res.Stale > 0 {
			logger.Info("Восстановление конвейера",
				slog.Int("requeued", res.Requeued),
				slog.Int("stale", res.Stale),
			)
		}
		return err
	})

	// 9. Приём обновлений Telegram
	fsm := registration.New(regStore)
	router := ingress.New(tg, identitySvc, resolver, mediaSvc, questionSvc, fsm,
		ingress.Options{MiniAppURL: cfg.MiniAppURL}, logger)

	// 10. HTTP API
	auth, err := middleware.NewAuth(middleware.AuthOptions{
		PublicKeyPEM: cfg.JWTPublicKey,
		JWKSURL:      cfg.JWTJWKSURL,
		Issuer:       cfg.JWTIssuer,
		Audience:     cfg.JWTAudience,
		Leeway:       cfg.JWTLeeway,
		ServiceToken: cfg.ServiceToken,
	}, authSvc, logger)
	if err != nil {
		return err
	}
	api := handlers.NewAPIHandler(handlers.Deps{
		Health:    handlers.NewHealthHandler(checks...),
		Identity:  identitySvc,
		Auth:      authSvc,
		Shifts:    shiftSvc,
		Teams:     teamSvc,
		Media:     mediaSvc,
		Reports:   reportSvc,
		Questions: questionSvc,
		Jobs:      sched,
	}, logger)

	webhookMode := cfg.UpdatesMode == config.UpdatesModeWebhook
	var srv *server.Server
	if webhookMode {
		srv = server.New(cfg, logger, api, auth, router.Webhook(cfg.WebhookSecret))
	} else {
		srv = server.New(cfg, logger, api, auth, nil)
	}

	// 11. topologymetrics - опционально, без него сервис работает
	pgDB := stdlib.OpenDBFromPool(pool)
	defer pgDB.Close()
	dephealthSvc, err := service.NewDephealthService(service.DephealthOptions{
		ServiceID:             "worklog",
		Group:                 cfg.DephealthGroup,
		DB:                    pgDB,
		PostgresURL:           cfg.DatabaseURL(),
		ObjectStoreURL:        cfg.ObjectStoreURL(),
		ObjectStoreHealthPath: cfg.ObjectStoreHealthPath,
		STTURL:                cfg.STTURL,
		CheckInterval:         cfg.DephealthCheckInterval,
	}, logger)
	if err != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", err.Error()),
		)
		dephealthSvc = nil
	} else if err := dephealthSvc.Start(ctx); err != nil {
		logger.Warn("Ошибка запуска topologymetrics", slog.String("error", err.Error()))
		dephealthSvc = nil
	}

	// 12. Запуск
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx) })
	g.Go(func() error { queue.Run(gctx); return nil })
	g.Go(func() error { sched.Run(gctx); return nil })
	g.Go(func() error { return router.Run(gctx) })
	g.Go(func() error {
		// Медиа, потерянные при прошлой остановке, возвращаются в очередь сразу.
		if err := sched.RunNow(gctx, "recover_pipeline"); err != nil && !errors.Is(err, scheduler.ErrRunning) {
			logger.Warn("Начальное восстановление конвейера не выполнено", slog.String("error", err.Error()))
		}
		return nil
	})
	if webhookMode {
		g.Go(func() error {
			url := cfg.WebhookURL + cfg.WebhookPath
			if err := tg.SetWebhook(gctx, url, cfg.WebhookSecret); err != nil {
				return err
			}
			logger.Info("Webhook зарегистрирован", slog.String("url", url))
			return nil
		})
	} else {
		g.Go(func() error { return router.Poll(gctx, tg) })
	}

	err = g.Wait()
	if dephealthSvc != nil {
		dephealthSvc.Stop()
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("Worklog остановлен")
	return nil
}

// counted превращает проход вида "обработано N" в задачу планировщика.
func counted(logger *slog.Logger, name string, fn func(context.Context) (int, error)) scheduler.JobFunc {
	return func(ctx context.Context) error {
		n, err := fn(ctx)
		if n > 0 {
			logger.Info("Задача планировщика обработала записи",
				slog.String("job", name),
				slog.Int("count", n),
			)
		}
		return err
	}
}

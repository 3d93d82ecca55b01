// Пакет server - HTTP-сервер Worklog: webhook Telegram, внутренний API,
// health и метрики. Без TLS - терминация на ingress.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/bigkaa/worklog/internal/api/handlers"
	"github.com/bigkaa/worklog/internal/api/middleware"
	"github.com/bigkaa/worklog/internal/config"
	"github.com/bigkaa/worklog/internal/service"
)

// Server - HTTP-сервер Worklog.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	cfg        *config.Config
}

// New создаёт сервер с маршрутами и middleware.
// webhook - приёмник обновлений Telegram; nil в режиме polling.
func New(cfg *config.Config, logger *slog.Logger, api *handlers.APIHandler, auth *middleware.Auth, webhook http.Handler) *Server {
	srv := &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      NewRouter(cfg, logger, api, auth, webhook),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return &Server{
		httpServer: srv,
		logger:     logger,
		cfg:        cfg,
	}
}

// NewRouter собирает chi-роутер. Вынесен отдельно для тестов.
func NewRouter(cfg *config.Config, logger *slog.Logger, api *handlers.APIHandler, auth *middleware.Auth, webhook http.Handler) http.Handler {
	router := chi.NewRouter()

	// Глобальные middleware
	router.Use(chimw.RequestID)
	router.Use(chimw.Recoverer)
	router.Use(middleware.MetricsMiddleware())
	router.Use(middleware.RequestLogger(logger))

	// Публичные endpoints: probes и метрики снимает Kubernetes напрямую,
	// webhook защищён секретным заголовком Telegram.
	router.Get("/health/live", api.HealthLive)
	router.Get("/health/ready", api.HealthReady)
	router.Get("/metrics", api.GetMetrics)
	if webhook != nil {
		router.Method(http.MethodPost, cfg.WebhookPath, webhook)
	}
	router.Post("/worklog/auth/telegram", api.TelegramAuth)

	router.Group(func(r chi.Router) {
		r.Use(auth.Middleware())
		serviceOnly := middleware.RequireRole(service.RoleService)

		r.Get("/worklog/me", api.Me)

		// Работники и инвайты
		r.Get("/worklog/workers", api.ListWorkers)
		r.Post("/worklog/workers", api.CreateWorker)
		r.Get("/worklog/workers/{id}", api.GetWorker)
		r.Post("/worklog/workers/{id}/deactivate", api.DeactivateWorker)
		r.Post("/worklog/invites", api.CreateInvite)
		r.Get("/worklog/invites/{code}", api.GetInvite)
		r.With(serviceOnly).Put("/worklog/supergroups", api.UpsertSupergroup)

		// Объекты и смены
		r.With(serviceOnly).Put("/worklog/objects/{id}", api.UpsertObject)
		r.Post("/worklog/shifts", api.CreateShift)
		r.Get("/worklog/shifts", api.ListShifts)
		r.Get("/worklog/shifts/{id}", api.GetShift)
		r.Post("/worklog/shifts/{id}/register", api.RegisterOnShift)
		r.Get("/worklog/shifts/{id}/registrations", api.ListRegistrations)
		r.Post("/worklog/shifts/{id}/extend", api.ExtendShift)
		r.Post("/worklog/shifts/{id}/close", api.CloseShift)

		// Бригады
		r.Post("/worklog/teams", api.CreateTeam)
		r.Get("/worklog/teams", api.ListTeams)
		r.Get("/worklog/teams/{id}", api.GetTeam)
		r.Get("/worklog/teams/{id}/members", api.ListMembers)
		r.Post("/worklog/teams/{id}/members", api.AddMember)
		r.Delete("/worklog/teams/{id}/members/{worker_id}", api.RemoveMember)

		// Медиа и загрузки
		r.Get("/worklog/media", api.ListMedia)
		r.Get("/worklog/media/{id}", api.GetMedia)
		r.Delete("/worklog/media/{id}", api.DeleteMedia)
		r.Put("/worklog/media/{id}/tag", api.SetMediaTag)
		r.Get("/worklog/media/{id}/url", api.MediaURL)
		r.Post("/worklog/uploads", api.CreateUpload)
		r.Get("/worklog/uploads/url", api.UploadURL)

		// Отчёты и вопросы
		r.Post("/worklog/reports", api.CommitReport)
		r.Get("/worklog/reports", api.ListReports)
		r.Get("/worklog/reports/{id}", api.GetReport)
		r.Post("/worklog/reports/{id}/complete", api.CompleteReport)
		r.Post("/worklog/reports/{id}/questions", api.CreateQuestion)
		r.Get("/worklog/reports/{id}/questions", api.ListQuestions)
		r.Get("/worklog/questions/{id}", api.GetQuestion)
		r.Post("/worklog/questions/{id}/answer", api.AnswerQuestion)

		// Планировщик
		r.With(serviceOnly).Get("/worklog/jobs", api.ListJobs)
		r.With(serviceOnly).Post("/worklog/jobs/{name}/run", api.RunJob)
	})

	return router
}

// Run запускает сервер и блокируется до отмены ctx, после чего
// выполняет graceful shutdown с таймаутом из конфигурации.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("HTTP-сервер запущен",
			slog.String("addr", s.httpServer.Addr),
		)
		err := s.httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("Получен сигнал завершения")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("ошибка HTTP-сервера: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Выполняется graceful shutdown...")
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("ошибка при graceful shutdown: %w", err)
	}

	s.logger.Info("HTTP-сервер остановлен")
	return nil
}

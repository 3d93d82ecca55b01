// dephealth.go - мониторинг зависимостей через topologymetrics SDK.
//
// Worklog мониторит:
//   - PostgreSQL - SQL checker через существующий pgxpool (pool mode, critical)
//   - хранилище объектов - HTTP checker к health endpoint (critical)
//   - STT - HTTP checker, если сервис распознавания настроен (не critical)
//
// Метрики доступны на /metrics вместе с остальными:
//   - app_dependency_health
//   - app_dependency_latency_seconds
//   - app_dependency_status, app_dependency_status_detail
package service

import (
	"context"
	"database/sql"
	"log/slog"
	"net/url"
	"time"

	"github.com/BigKAA/topologymetrics/sdk-go/dephealth"
	_ "github.com/BigKAA/topologymetrics/sdk-go/dephealth/checks/httpcheck" // HTTP checker
	"github.com/BigKAA/topologymetrics/sdk-go/dephealth/checks/pgcheck"
	"github.com/prometheus/client_golang/prometheus"
)

// DephealthOptions - параметры мониторинга.
type DephealthOptions struct {
	// ServiceID - имя вершины графа текущего приложения.
	ServiceID string
	Group     string
	// DB - *sql.DB, полученный из pgxpool через stdlib.OpenDBFromPool().
	DB *sql.DB
	// PostgresURL - только для меток, не для подключения.
	PostgresURL string
	// ObjectStoreURL и ObjectStoreHealthPath - health endpoint хранилища.
	ObjectStoreURL        string
	ObjectStoreHealthPath string
	// STTURL - URL сервиса распознавания; пустой - зависимость не добавляется.
	STTURL        string
	CheckInterval time.Duration
	// Registerer - для изоляции метрик в тестах (nil - глобальный).
	Registerer prometheus.Registerer
}

// DephealthService - мониторинг зависимостей.
type DephealthService struct {
	dh     *dephealth.DepHealth
	logger *slog.Logger
}

// NewDephealthService создаёт сервис мониторинга зависимостей.
func NewDephealthService(opts DephealthOptions, logger *slog.Logger) (*DephealthService, error) {
	dhOpts := []dephealth.Option{
		dephealth.WithLogger(logger),
		dephealth.AddDependency("postgresql", dephealth.TypePostgres,
			pgcheck.New(pgcheck.WithDB(opts.DB)),
			dephealth.FromURL(opts.PostgresURL),
			dephealth.CheckInterval(opts.CheckInterval),
			dephealth.Critical(true),
		),
		dephealth.HTTP("object-store",
			dephealth.FromURL(opts.ObjectStoreURL),
			dephealth.WithHTTPHealthPath(opts.ObjectStoreHealthPath),
			dephealth.CheckInterval(opts.CheckInterval),
			dephealth.Critical(true),
		),
	}
	if opts.STTURL != "" {
		base, path := healthTarget(opts.STTURL)
		dhOpts = append(dhOpts, dephealth.HTTP("stt",
			dephealth.FromURL(base),
			dephealth.WithHTTPHealthPath(path),
			dephealth.CheckInterval(opts.CheckInterval),
			dephealth.Critical(false),
		))
	}
	if opts.Registerer != nil {
		dhOpts = append(dhOpts, dephealth.WithRegisterer(opts.Registerer))
	}

	dh, err := dephealth.New(opts.ServiceID, opts.Group, dhOpts...)
	if err != nil {
		return nil, err
	}
	return &DephealthService{
		dh:     dh,
		logger: logger.With(slog.String("component", "dephealth")),
	}, nil
}

// healthTarget делит URL сервиса на адрес и путь проверки.
// Без пути проверяется "/".
func healthTarget(raw string) (base, path string) {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw, "/"
	}
	path = u.Path
	if path == "" {
		path = "/"
	}
	return u.Scheme + "://" + u.Host, path
}

// Start запускает периодическую проверку зависимостей.
func (ds *DephealthService) Start(ctx context.Context) error {
	ds.logger.Info("Мониторинг зависимостей запущен")
	return ds.dh.Start(ctx)
}

// Stop останавливает мониторинг зависимостей.
func (ds *DephealthService) Stop() {
	ds.dh.Stop()
	ds.logger.Info("Мониторинг зависимостей остановлен")
}

// Health возвращает текущее состояние зависимостей (true - ok).
func (ds *DephealthService) Health() map[string]bool {
	return ds.dh.Health()
}

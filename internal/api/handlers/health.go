// health.go - пробы Kubernetes и экспорт метрик.
package handlers

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bigkaa/worklog/internal/config"
)

const serviceName = "worklog"

// Статусы проверок в порядке ухудшения.
const (
	statusOK       = "ok"
	statusDegraded = "degraded"
	statusFail     = "fail"
)

// ReadinessChecker - проверка готовности зависимости.
type ReadinessChecker interface {
	// CheckReady возвращает статус ("ok", "degraded", "fail") и сообщение.
	CheckReady() (status string, message string)
}

// NamedChecker - проверка с именем для ответа readiness.
type NamedChecker struct {
	Name    string
	Checker ReadinessChecker
}

// HealthHandler обслуживает /health/live, /health/ready и /metrics.
type HealthHandler struct {
	checks  []NamedChecker
	metrics http.Handler
}

// NewHealthHandler создаёт обработчик. Проверка с nil Checker даёт "fail".
func NewHealthHandler(checks ...NamedChecker) *HealthHandler {
	return &HealthHandler{checks: checks, metrics: promhttp.Handler()}
}

type healthCheckResult struct {
	Status     string `json:"status"`
	Message    string `json:"message,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

// healthReadyResponse - тело обеих проб; у liveness Checks пуст.
type healthReadyResponse struct {
	Status    string                       `json:"status"`
	Service   string                       `json:"service"`
	Version   string                       `json:"version"`
	Timestamp time.Time                    `json:"timestamp"`
	Checks    map[string]healthCheckResult `json:"checks,omitempty"`
}

func probe(status string) healthReadyResponse {
	return healthReadyResponse{
		Status:    status,
		Service:   serviceName,
		Version:   config.Version,
		Timestamp: time.Now().UTC().Truncate(time.Second),
	}
}

// HealthLive отвечает 200, пока процесс обслуживает HTTP.
func (h *HealthHandler) HealthLive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, probe(statusOK))
}

// HealthReady опрашивает зависимости параллельно: медленный S3 не должен
// съедать таймаут пробы, отведённый PostgreSQL. 503 только при fail.
func (h *HealthHandler) HealthReady(w http.ResponseWriter, _ *http.Request) {
	results := make([]healthCheckResult, len(h.checks))
	var wg sync.WaitGroup
	for i, c := range h.checks {
		if c.Checker == nil {
			results[i] = healthCheckResult{Status: statusFail, Message: "не инициализирован"}
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			start := time.Now()
			st, msg := c.Checker.CheckReady()
			results[i] = healthCheckResult{Status: st, Message: msg, DurationMS: time.Since(start).Milliseconds()}
		}()
	}
	wg.Wait()

	resp := probe(statusOK)
	resp.Checks = make(map[string]healthCheckResult, len(h.checks))
	for i, c := range h.checks {
		resp.Checks[c.Name] = results[i]
		resp.Status = worse(resp.Status, results[i].Status)
	}

	code := http.StatusOK
	if resp.Status == statusFail {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

// GetMetrics - Prometheus метрики.
func (h *HealthHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.metrics.ServeHTTP(w, r)
}

// worse возвращает худший из двух статусов; неизвестный считается fail.
func worse(a, b string) string {
	rank := func(s string) int {
		switch s {
		case statusOK:
			return 0
		case statusDegraded:
			return 1
		}
		return 2
	}
	if rank(b) > rank(a) {
		if rank(b) == 2 {
			return statusFail
		}
		return b
	}
	return a
}

// handler.go - основной обработчик внутреннего API Worklog.
// Объединяет доменные обработчики и делегирует запросы в сервисный слой.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	apierrors "github.com/bigkaa/worklog/internal/api/errors"
	"github.com/bigkaa/worklog/internal/api/middleware"
	"github.com/bigkaa/worklog/internal/repository"
	"github.com/bigkaa/worklog/internal/service"
)

// JobRunner - ручной запуск задач планировщика.
type JobRunner interface {
	RunNow(ctx context.Context, name string) error
	Names() []string
}

// Deps - зависимости обработчика.
type Deps struct {
	Health    *HealthHandler
	Identity  *service.IdentityService
	Auth      *service.AuthService
	Shifts    *service.ShiftService
	Teams     *service.TeamService
	Media     *service.MediaService
	Reports   *service.ReportService
	Questions *service.QuestionService
	Jobs      JobRunner
}

// APIHandler - обработчик внутреннего API.
type APIHandler struct {
	health    *HealthHandler
	identity  *service.IdentityService
	auth      *service.AuthService
	shifts    *service.ShiftService
	teams     *service.TeamService
	media     *service.MediaService
	reports   *service.ReportService
	questions *service.QuestionService
	jobs      JobRunner
	logger    *slog.Logger
}

// NewAPIHandler создаёт основной обработчик API.
func NewAPIHandler(d Deps, logger *slog.Logger) *APIHandler {
	return &APIHandler{
		health:    d.Health,
		identity:  d.Identity,
		auth:      d.Auth,
		shifts:    d.Shifts,
		teams:     d.Teams,
		media:     d.Media,
		reports:   d.Reports,
		questions: d.Questions,
		jobs:      d.Jobs,
		logger:    logger.With(slog.String("component", "api_handler")),
	}
}

// HealthLive - liveness probe.
func (h *APIHandler) HealthLive(w http.ResponseWriter, r *http.Request) {
	h.health.HealthLive(w, r)
}

// HealthReady - readiness probe.
func (h *APIHandler) HealthReady(w http.ResponseWriter, r *http.Request) {
	h.health.HealthReady(w, r)
}

// GetMetrics - Prometheus метрики.
func (h *APIHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.health.GetMetrics(w, r)
}

// --- Вспомогательные функции ---

// listResponse - страница списка.
type listResponse[T any] struct {
	Items   []T  `json:"items"`
	Total   int  `json:"total"`
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"has_more"`
}

func newList[T any](items []T, total int, p repository.Page) listResponse[T] {
	if items == nil {
		items = []T{}
	}
	return listResponse[T]{
		Items:   items,
		Total:   total,
		Limit:   p.Limit,
		Offset:  p.Offset,
		HasMore: p.Offset+p.Limit < total,
	}
}

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

const maxBodyBytes = 1 << 20

// decodeJSON разбирает тело запроса; при ошибке пишет 400 и возвращает false.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		apierrors.ValidationError(w, r, "", "Некорректный JSON: "+err.Error())
		return false
	}
	return true
}

// pageFromQuery разбирает limit/offset. Значения по умолчанию: 100 и 0,
// limit ограничен диапазоном 1..500.
func pageFromQuery(w http.ResponseWriter, r *http.Request) (repository.Page, bool) {
	p := repository.Page{Limit: 100}
	q := r.URL.Query()
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			apierrors.ValidationError(w, r, "limit", "ожидается целое число")
			return p, false
		}
		p.Limit = min(max(n, 1), 500)
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			apierrors.ValidationError(w, r, "offset", "ожидается целое число")
			return p, false
		}
		p.Offset = max(n, 0)
	}
	return p, true
}

// pathUUID разбирает UUID из параметра пути.
func pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		apierrors.ValidationError(w, r, name, "ожидается UUID")
		return uuid.Nil, false
	}
	return id, true
}

// queryUUID разбирает необязательный UUID из query; nil, если параметра нет.
func queryUUID(w http.ResponseWriter, r *http.Request, name string) (*uuid.UUID, bool) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return nil, true
	}
	id, err := uuid.Parse(v)
	if err != nil {
		apierrors.ValidationError(w, r, name, "ожидается UUID")
		return nil, false
	}
	return &id, true
}

// callerOf возвращает вызывающего; при его отсутствии пишет 401.
func callerOf(w http.ResponseWriter, r *http.Request) (*service.Caller, bool) {
	c := middleware.CallerFromContext(r.Context())
	if c == nil {
		apierrors.Unauthorized(w, r, "Требуется аутентификация")
		return nil, false
	}
	return c, true
}

// requireTrusted пропускает только service и staff.
func requireTrusted(w http.ResponseWriter, r *http.Request) (*service.Caller, bool) {
	c, ok := callerOf(w, r)
	if !ok {
		return nil, false
	}
	if !c.Trusted() {
		apierrors.Forbidden(w, r, "Недостаточно прав: требуется роль service или staff")
		return nil, false
	}
	return c, true
}

// writeServiceError переводит ошибку сервисного слоя в HTTP-ответ.
// Непредвиденные ошибки логируются с request_id.
func (h *APIHandler) writeServiceError(w http.ResponseWriter, r *http.Request, err error, op string) {
	var fe *service.FieldError
	switch {
	case errors.As(err, &fe):
		apierrors.ValidationError(w, r, fe.Field, fe.Message)
	case errors.Is(err, service.ErrValidation):
		apierrors.ValidationError(w, r, "", err.Error())
	case errors.Is(err, service.ErrGeoRejected):
		apierrors.WriteError(w, r, http.StatusBadRequest, apierrors.CodeGeoRejected, err.Error(), "latitude")
	case errors.Is(err, service.ErrNotFound), errors.Is(err, service.ErrInviteNotFound):
		apierrors.NotFound(w, r, err.Error())
	case errors.Is(err, service.ErrUnauthorized):
		apierrors.Unauthorized(w, r, err.Error())
	case errors.Is(err, service.ErrForbidden):
		apierrors.Forbidden(w, r, err.Error())
	case errors.Is(err, service.ErrNothingToCommit):
		apierrors.Conflict(w, r, apierrors.CodeNothingToCommit, err.Error())
	case errors.Is(err, service.ErrOutsideWindow):
		apierrors.Conflict(w, r, apierrors.CodeOutsideWindow, err.Error())
	case errors.Is(err, service.ErrInviteExpired):
		apierrors.Conflict(w, r, apierrors.CodeInviteExpired, err.Error())
	case errors.Is(err, service.ErrInviteUsed):
		apierrors.Conflict(w, r, apierrors.CodeInviteUsed, err.Error())
	case errors.Is(err, service.ErrConflict):
		apierrors.Conflict(w, r, apierrors.CodeConflict, err.Error())
	case errors.Is(err, service.ErrUpstream):
		h.logger.Warn("Внешний сервис недоступен",
			slog.String("op", op),
			slog.String("request_id", chimw.GetReqID(r.Context())),
			slog.String("error", err.Error()),
		)
		apierrors.Upstream(w, r, "Внешний сервис недоступен, повторите позже")
	default:
		h.logger.Error("Внутренняя ошибка",
			slog.String("op", op),
			slog.String("request_id", chimw.GetReqID(r.Context())),
			slog.String("error", err.Error()),
		)
		apierrors.InternalError(w, r, fmt.Sprintf("Ошибка: %s", op))
	}
}

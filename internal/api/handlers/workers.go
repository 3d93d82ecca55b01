// workers.go - работники, инвайт-коды, супергруппы и вход через Mini App.
package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	apierrors "github.com/bigkaa/worklog/internal/api/errors"
	"github.com/bigkaa/worklog/internal/domain/model"
	"github.com/bigkaa/worklog/internal/repository"
	"github.com/bigkaa/worklog/internal/service"
)

// ListWorkers - GET /worklog/workers?contractor_id&active&role.
// Доступ: service, staff.
func (h *APIHandler) ListWorkers(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireTrusted(w, r); !ok {
		return
	}
	page, ok := pageFromQuery(w, r)
	if !ok {
		return
	}
	var f repository.WorkerFilter
	if f.ContractorID, ok = queryUUID(w, r, "contractor_id"); !ok {
		return
	}
	q := r.URL.Query()
	if v := q.Get("active"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			apierrors.ValidationError(w, r, "active", "ожидается true или false")
			return
		}
		f.Active = &b
	}
	if v := q.Get("role"); v != "" {
		role := model.WorkerRole(v)
		if !role.Valid() {
			apierrors.ValidationError(w, r, "role", "допустимые значения: worker, brigadier")
			return
		}
		f.Role = &role
	}

	items, total, err := h.identity.ListWorkers(r.Context(), f, page)
	if err != nil {
		h.writeServiceError(w, r, err, "получение списка работников")
		return
	}
	writeJSON(w, http.StatusOK, newList(items, total, page))
}

type createWorkerRequest struct {
	TelegramID   int64            `json:"telegram_id"`
	Name         string           `json:"name"`
	Phone        string           `json:"phone"`
	Role         model.WorkerRole `json:"role"`
	Language     model.Language   `json:"language"`
	ContractorID uuid.UUID        `json:"contractor_id"`
}

// CreateWorker - POST /worklog/workers. Создание работника сотрудником без инвайта.
// Доступ: service, staff.
func (h *APIHandler) CreateWorker(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireTrusted(w, r); !ok {
		return
	}
	var req createWorkerRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	wk, err := h.identity.CreateWorker(r.Context(), service.CreateWorkerParams{
		TelegramID:   req.TelegramID,
		Name:         req.Name,
		Phone:        req.Phone,
		Role:         req.Role,
		Language:     req.Language,
		ContractorID: req.ContractorID,
	})
	if err != nil {
		h.writeServiceError(w, r, err, "создание работника")
		return
	}
	writeJSON(w, http.StatusCreated, wk)
}

// GetWorker - GET /worklog/workers/{id}.
// Доступ: service, staff; работник - только себя.
func (h *APIHandler) GetWorker(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOf(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	if !caller.Trusted() && caller.WorkerID != id {
		apierrors.Forbidden(w, r, "Работник видит только свою карточку")
		return
	}
	wk, err := h.identity.GetWorker(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err, "получение работника")
		return
	}
	writeJSON(w, http.StatusOK, wk)
}

// DeactivateWorker - POST /worklog/workers/{id}/deactivate.
// Доступ: service, staff.
func (h *APIHandler) DeactivateWorker(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireTrusted(w, r); !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	wk, err := h.identity.Deactivate(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err, "деактивация работника")
		return
	}
	writeJSON(w, http.StatusOK, wk)
}

type meResponse struct {
	Role    service.Role  `json:"role"`
	Subject string        `json:"subject"`
	Worker  *model.Worker `json:"worker,omitempty"`
}

// Me - GET /worklog/me. Текущая вызывающая сторона.
func (h *APIHandler) Me(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOf(w, r)
	if !ok {
		return
	}
	resp := meResponse{Role: caller.Role, Subject: caller.Subject}
	if caller.Role == service.RoleWorker {
		wk, err := h.identity.GetWorker(r.Context(), caller.WorkerID)
		if err != nil {
			h.writeServiceError(w, r, err, "получение работника")
			return
		}
		resp.Worker = wk
	}
	writeJSON(w, http.StatusOK, resp)
}

// --- Инвайт-коды ---

type createInviteRequest struct {
	ContractorID uuid.UUID        `json:"contractor_id"`
	Role         model.WorkerRole `json:"role"`
	TTLHours     int              `json:"ttl_hours"`
}

type inviteResponse struct {
	*model.InviteToken
	Link string `json:"link"`
}

// CreateInvite - POST /worklog/invites.
// Доступ: service, staff.
func (h *APIHandler) CreateInvite(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireTrusted(w, r)
	if !ok {
		return
	}
	var req createInviteRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Role == "" {
		req.Role = model.RoleWorker
	}
	inv, link, err := h.identity.CreateInvite(r.Context(), service.CreateInviteParams{
		ContractorID: req.ContractorID,
		Role:         req.Role,
		TTL:          time.Duration(req.TTLHours) * time.Hour,
		CreatedBy:    caller.Actor(),
	})
	if err != nil {
		h.writeServiceError(w, r, err, "создание инвайт-кода")
		return
	}
	writeJSON(w, http.StatusCreated, inviteResponse{InviteToken: inv, Link: link})
}

// GetInvite - GET /worklog/invites/{code}. Проверка кода без погашения.
// Доступ: service, staff.
func (h *APIHandler) GetInvite(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireTrusted(w, r); !ok {
		return
	}
	code := chi.URLParam(r, "code")
	inv, err := h.identity.CheckInvite(r.Context(), code)
	if err != nil {
		h.writeServiceError(w, r, err, "проверка инвайт-кода")
		return
	}
	writeJSON(w, http.StatusOK, inviteResponse{InviteToken: inv, Link: h.identity.DeepLink(inv.Code)})
}

// --- Супергруппы ---

type upsertSupergroupRequest struct {
	ObjectID        uuid.UUID `json:"object_id"`
	ContractorID    uuid.UUID `json:"contractor_id"`
	TelegramGroupID int64     `json:"telegram_group_id"`
	Title           string    `json:"title"`
}

// UpsertSupergroup - PUT /worklog/supergroups. Привязка супергруппы
// к паре объект/подрядчик.
// Доступ: service.
func (h *APIHandler) UpsertSupergroup(w http.ResponseWriter, r *http.Request) {
	var req upsertSupergroupRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	sg, err := h.identity.UpsertSupergroup(r.Context(), service.UpsertSupergroupParams{
		ObjectID:        req.ObjectID,
		ContractorID:    req.ContractorID,
		TelegramGroupID: req.TelegramGroupID,
		Title:           req.Title,
	})
	if err != nil {
		h.writeServiceError(w, r, err, "привязка супергруппы")
		return
	}
	writeJSON(w, http.StatusOK, sg)
}

// --- Вход через Mini App ---

type telegramAuthRequest struct {
	InitData string `json:"init_data"`
}

// TelegramAuth - POST /worklog/auth/telegram. Публичный.
// Проверяет подпись init data и выдаёт сессионный токен.
func (h *APIHandler) TelegramAuth(w http.ResponseWriter, r *http.Request) {
	var req telegramAuthRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	sess, err := h.auth.TelegramLogin(r.Context(), req.InitData)
	if err != nil {
		h.writeServiceError(w, r, err, "вход через Mini App")
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// media.go - медиа бригад, временные ссылки и прямые загрузки.
package handlers

import (
	"net/http"

	apierrors "github.com/bigkaa/worklog/internal/api/errors"
	"github.com/bigkaa/worklog/internal/domain/model"
	"github.com/bigkaa/worklog/internal/repository"
	"github.com/bigkaa/worklog/internal/service"
)

// ListMedia - GET /worklog/media?team_id&author_id&report_id&status.
// Работник видит только свои медиа.
func (h *APIHandler) ListMedia(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOf(w, r)
	if !ok {
		return
	}
	page, ok := pageFromQuery(w, r)
	if !ok {
		return
	}
	var f repository.MediaFilter
	if f.TeamID, ok = queryUUID(w, r, "team_id"); !ok {
		return
	}
	if f.AuthorID, ok = queryUUID(w, r, "author_id"); !ok {
		return
	}
	if f.ReportID, ok = queryUUID(w, r, "report_id"); !ok {
		return
	}
	if v := r.URL.Query().Get("status"); v != "" {
		st := model.MediaStatus(v)
		switch st {
		case model.MediaPending, model.MediaDownloaded, model.MediaCommitted, model.MediaDeleted:
		default:
			apierrors.ValidationError(w, r, "status", "допустимые значения: pending, downloaded, committed, deleted")
			return
		}
		f.Status = &st
	}
	if !caller.Trusted() {
		self := caller.WorkerID
		f.AuthorID = &self
	}

	items, total, err := h.media.List(r.Context(), f, page)
	if err != nil {
		h.writeServiceError(w, r, err, "получение списка медиа")
		return
	}
	writeJSON(w, http.StatusOK, newList(items, total, page))
}

// GetMedia - GET /worklog/media/{id}.
// Доступ: service, staff; работник - только свои.
func (h *APIHandler) GetMedia(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOf(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	m, err := h.media.Get(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err, "получение медиа")
		return
	}
	if !ownMedia(caller, m) {
		apierrors.Forbidden(w, r, "Работник видит только свои медиа")
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func ownMedia(c *service.Caller, m *model.Media) bool {
	return c.Trusted() || m.AuthorID == c.WorkerID
}

// DeleteMedia - DELETE /worklog/media/{id}?reason=...
// pending/downloaded -> deleted; зафиксированное медиа - 409.
// Доступ: service, staff; работник - только свои.
func (h *APIHandler) DeleteMedia(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOf(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	if !caller.Trusted() {
		m, err := h.media.Get(r.Context(), id)
		if err != nil {
			h.writeServiceError(w, r, err, "удаление медиа")
			return
		}
		if !ownMedia(caller, m) {
			apierrors.Forbidden(w, r, "Работник удаляет только свои медиа")
			return
		}
	}
	if err := h.media.Delete(r.Context(), id, r.URL.Query().Get("reason")); err != nil {
		h.writeServiceError(w, r, err, "удаление медиа")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type setTagRequest struct {
	Tag model.MediaTag `json:"tag"`
}

// SetMediaTag - PUT /worklog/media/{id}/tag. Ручная пометка.
// Доступ: service, staff.
func (h *APIHandler) SetMediaTag(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireTrusted(w, r); !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var req setTagRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	m, err := h.media.SetTag(r.Context(), id, req.Tag)
	if err != nil {
		h.writeServiceError(w, r, err, "пометка медиа")
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// MediaURL - GET /worklog/media/{id}/url?thumb=1. Временная ссылка на
// файл или превью; права проверяет сервис по журналу загрузок.
func (h *APIHandler) MediaURL(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOf(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	thumb := r.URL.Query().Get("thumb") == "1"
	u, err := h.media.PresignGet(r.Context(), id, thumb, *caller)
	if err != nil {
		h.writeServiceError(w, r, err, "ссылка на медиа")
		return
	}
	writeJSON(w, http.StatusOK, u)
}

type createUploadRequest struct {
	FileName string `json:"filename"`
}

// CreateUpload - POST /worklog/uploads. Ссылка для прямой загрузки в хранилище;
// вызывающий записывается инициатором загрузки.
func (h *APIHandler) CreateUpload(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOf(w, r)
	if !ok {
		return
	}
	var req createUploadRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	u, err := h.media.PresignUpload(r.Context(), req.FileName, *caller)
	if err != nil {
		h.writeServiceError(w, r, err, "ссылка для загрузки")
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

// UploadURL - GET /worklog/uploads/url?key=... Ссылка на чтение загруженного объекта.
func (h *APIHandler) UploadURL(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOf(w, r)
	if !ok {
		return
	}
	key := r.URL.Query().Get("key")
	if key == "" {
		apierrors.ValidationError(w, r, "key", "обязательный параметр")
		return
	}
	u, err := h.media.PresignUploadGet(r.Context(), key, *caller)
	if err != nil {
		h.writeServiceError(w, r, err, "ссылка на загрузку")
		return
	}
	writeJSON(w, http.StatusOK, u)
}

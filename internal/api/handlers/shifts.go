// shifts.go - объекты, смены и отметки на смене.
package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	apierrors "github.com/bigkaa/worklog/internal/api/errors"
	"github.com/bigkaa/worklog/internal/domain/model"
	"github.com/bigkaa/worklog/internal/repository"
	"github.com/bigkaa/worklog/internal/service"
)

// shiftResponse - смена с временем в формате HH:MM. QR-токен видят
// только доверенные вызывающие.
type shiftResponse struct {
	*model.Shift
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	QRToken   string `json:"qr_token,omitempty"`
}

func mapShift(sh *model.Shift, caller *service.Caller) shiftResponse {
	resp := shiftResponse{
		Shift:     sh,
		StartTime: formatClock(sh.StartTime),
		EndTime:   formatClock(sh.EndTime),
	}
	if caller.Trusted() {
		resp.QRToken = sh.QRToken
	}
	return resp
}

func formatClock(d time.Duration) string {
	return fmt.Sprintf("%02d:%02d", int(d.Hours()), int(d.Minutes())%60)
}

// parseClock разбирает "HH:MM" в смещение от полуночи.
func parseClock(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, err
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

// UpsertObject - PUT /worklog/objects/{id}. Зеркало объекта ERP.
// Доступ: service.
func (h *APIHandler) UpsertObject(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var obj model.Object
	if !decodeJSON(w, r, &obj) {
		return
	}
	obj.ID = id
	saved, err := h.shifts.UpsertObject(r.Context(), &obj)
	if err != nil {
		h.writeServiceError(w, r, err, "сохранение объекта")
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

type createShiftRequest struct {
	ObjectID     uuid.UUID       `json:"object_id"`
	ContractorID uuid.UUID       `json:"contractor_id"`
	Date         string          `json:"date"`
	ShiftType    model.ShiftType `json:"shift_type"`
	StartTime    string          `json:"start_time"`
	EndTime      string          `json:"end_time"`
}

// CreateShift - POST /worklog/shifts.
// Доступ: service, staff.
func (h *APIHandler) CreateShift(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireTrusted(w, r)
	if !ok {
		return
	}
	var req createShiftRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	date, err := time.Parse(time.DateOnly, req.Date)
	if err != nil {
		apierrors.ValidationError(w, r, "date", "ожидается дата YYYY-MM-DD")
		return
	}
	start, err := parseClock(req.StartTime)
	if err != nil {
		apierrors.ValidationError(w, r, "start_time", "ожидается время HH:MM")
		return
	}
	end, err := parseClock(req.EndTime)
	if err != nil {
		apierrors.ValidationError(w, r, "end_time", "ожидается время HH:MM")
		return
	}

	sh, err := h.shifts.Create(r.Context(), service.CreateShiftParams{
		ObjectID:     req.ObjectID,
		ContractorID: req.ContractorID,
		Date:         date,
		ShiftType:    req.ShiftType,
		StartTime:    start,
		EndTime:      end,
	})
	if err != nil {
		h.writeServiceError(w, r, err, "создание смены")
		return
	}
	writeJSON(w, http.StatusCreated, mapShift(sh, caller))
}

// ListShifts - GET /worklog/shifts?object_id&contractor_id&date&status.
// Доступ: service, staff.
func (h *APIHandler) ListShifts(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireTrusted(w, r)
	if !ok {
		return
	}
	page, ok := pageFromQuery(w, r)
	if !ok {
		return
	}
	var f repository.ShiftFilter
	if f.ObjectID, ok = queryUUID(w, r, "object_id"); !ok {
		return
	}
	if f.ContractorID, ok = queryUUID(w, r, "contractor_id"); !ok {
		return
	}
	q := r.URL.Query()
	if v := q.Get("date"); v != "" {
		d, err := time.Parse(time.DateOnly, v)
		if err != nil {
			apierrors.ValidationError(w, r, "date", "ожидается дата YYYY-MM-DD")
			return
		}
		f.Date = &d
	}
	if v := q.Get("status"); v != "" {
		st := model.ShiftStatus(v)
		switch st {
		case model.ShiftScheduled, model.ShiftActive, model.ShiftClosed:
		default:
			apierrors.ValidationError(w, r, "status", "допустимые значения: scheduled, active, closed")
			return
		}
		f.Status = &st
	}

	shifts, err := h.shifts.List(r.Context(), f, page)
	if err != nil {
		h.writeServiceError(w, r, err, "получение списка смен")
		return
	}
	items := make([]shiftResponse, len(shifts))
	for i, sh := range shifts {
		items[i] = mapShift(sh, caller)
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// GetShift - GET /worklog/shifts/{id}.
// Доступ: любой аутентифицированный (QR-токен - только доверенным).
func (h *APIHandler) GetShift(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOf(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	sh, err := h.shifts.Get(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err, "получение смены")
		return
	}
	writeJSON(w, http.StatusOK, mapShift(sh, caller))
}

type registerRequest struct {
	QRToken   string   `json:"qr_token"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	// WorkerID - кого отмечают; пусто - вызывающий работник.
	WorkerID *uuid.UUID `json:"worker_id,omitempty"`
}

// RegisterOnShift - POST /worklog/shifts/{id}/register.
// Работник отмечает себя по QR и геопозиции; бригадир может отметить
// другого работника (QR обязателен). Доверенные вызывающие отмечают
// любого работника без QR.
func (h *APIHandler) RegisterOnShift(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOf(w, r)
	if !ok {
		return
	}
	shiftID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var req registerRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	p := service.RegisterParams{
		ShiftID:   shiftID,
		QRToken:   req.QRToken,
		Latitude:  req.Latitude,
		Longitude: req.Longitude,
	}
	switch {
	case caller.Trusted():
		if req.WorkerID == nil {
			apierrors.ValidationError(w, r, "worker_id", "обязательное поле")
			return
		}
		p.WorkerID = *req.WorkerID
		p.SkipQR = req.QRToken == ""
	case req.WorkerID == nil || *req.WorkerID == caller.WorkerID:
		p.WorkerID = caller.WorkerID
	default:
		self, err := h.identity.GetWorker(r.Context(), caller.WorkerID)
		if err != nil {
			h.writeServiceError(w, r, err, "отметка на смене")
			return
		}
		if self.Role != model.RoleBrigadier {
			apierrors.Forbidden(w, r, "Отмечать других может только бригадир")
			return
		}
		p.WorkerID = *req.WorkerID
		p.RegisteredBy = &self.ID
	}

	reg, err := h.shifts.Register(r.Context(), p)
	if err != nil {
		h.writeServiceError(w, r, err, "отметка на смене")
		return
	}
	writeJSON(w, http.StatusCreated, reg)
}

// ListRegistrations - GET /worklog/shifts/{id}/registrations.
// Доступ: service, staff.
func (h *APIHandler) ListRegistrations(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireTrusted(w, r); !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	regs, err := h.shifts.Registrations(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err, "получение отметок")
		return
	}
	if regs == nil {
		regs = []*model.ShiftRegistration{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": regs})
}

type extendShiftRequest struct {
	Until time.Time `json:"until"`
}

// ExtendShift - POST /worklog/shifts/{id}/extend.
// Доступ: service, staff.
func (h *APIHandler) ExtendShift(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireTrusted(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var req extendShiftRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	sh, err := h.shifts.Extend(r.Context(), id, req.Until)
	if err != nil {
		h.writeServiceError(w, r, err, "продление смены")
		return
	}
	writeJSON(w, http.StatusOK, mapShift(sh, caller))
}

// CloseShift - POST /worklog/shifts/{id}/close. Тот же путь, что и автозакрытие.
// Доступ: service, staff.
func (h *APIHandler) CloseShift(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireTrusted(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	sh, err := h.shifts.Close(r.Context(), id, caller.Actor())
	if err != nil {
		h.writeServiceError(w, r, err, "закрытие смены")
		return
	}
	writeJSON(w, http.StatusOK, mapShift(sh, caller))
}

// reports.go - фиксация отчётов, уточняющие вопросы и ответы.
package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	apierrors "github.com/bigkaa/worklog/internal/api/errors"
	"github.com/bigkaa/worklog/internal/domain/model"
	"github.com/bigkaa/worklog/internal/repository"
	"github.com/bigkaa/worklog/internal/scheduler"
	"github.com/bigkaa/worklog/internal/service"
)

type commitRequest struct {
	TeamID     uuid.UUID           `json:"team_id"`
	ReportType model.ReportType    `json:"report_type"`
	Trigger    model.ReportTrigger `json:"trigger"`
}

// CommitReport - POST /worklog/reports. Фиксирует медиа бригады.
// Ответ - созданные отчёты: хвост и дополнения к прежним отчётам.
// Доступ: service, staff; работник - для бригады, которой руководит.
func (h *APIHandler) CommitReport(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOf(w, r)
	if !ok {
		return
	}
	var req commitRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.TeamID == uuid.Nil {
		apierrors.ValidationError(w, r, "team_id", "обязательное поле")
		return
	}
	if !caller.Trusted() {
		lead, err := h.teams.IsBrigadier(r.Context(), req.TeamID, caller.WorkerID)
		if err != nil {
			h.writeServiceError(w, r, err, "фиксация отчёта")
			return
		}
		if !lead {
			apierrors.Forbidden(w, r, "Фиксировать отчёт может только бригадир бригады")
			return
		}
	}

	reports, err := h.reports.Commit(r.Context(), service.CommitParams{
		TeamID:     req.TeamID,
		ReportType: req.ReportType,
		Trigger:    req.Trigger,
		CreatedBy:  caller.Actor(),
	})
	if err != nil {
		h.writeServiceError(w, r, err, "фиксация отчёта")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"items": reports})
}

// ListReports - GET /worklog/reports?team_id|shift_id.
// Доступ: service, staff.
func (h *APIHandler) ListReports(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireTrusted(w, r); !ok {
		return
	}
	page, ok := pageFromQuery(w, r)
	if !ok {
		return
	}
	var f repository.ReportFilter
	if f.TeamID, ok = queryUUID(w, r, "team_id"); !ok {
		return
	}
	if f.ShiftID, ok = queryUUID(w, r, "shift_id"); !ok {
		return
	}
	reports, err := h.reports.List(r.Context(), f, page)
	if err != nil {
		h.writeServiceError(w, r, err, "получение списка отчётов")
		return
	}
	if reports == nil {
		reports = []*model.Report{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": reports})
}

// GetReport - GET /worklog/reports/{id}.
// Доступ: service, staff.
func (h *APIHandler) GetReport(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireTrusted(w, r); !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	rep, err := h.reports.Get(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err, "получение отчёта")
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// CompleteReport - POST /worklog/reports/{id}/complete.
// Доступ: service, staff.
func (h *APIHandler) CompleteReport(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireTrusted(w, r); !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	rep, err := h.reports.Complete(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err, "завершение отчёта")
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// --- Вопросы ---

type createQuestionRequest struct {
	Text    string   `json:"text"`
	Choices []string `json:"choices"`
}

// CreateQuestion - POST /worklog/reports/{id}/questions.
// Публикует вопрос с кнопками в теме бригады.
// Доступ: service, staff.
func (h *APIHandler) CreateQuestion(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireTrusted(w, r)
	if !ok {
		return
	}
	reportID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var req createQuestionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	q, err := h.questions.Create(r.Context(), service.CreateQuestionParams{
		ReportID:  reportID,
		Text:      req.Text,
		Choices:   req.Choices,
		CreatedBy: caller.Actor(),
	})
	if err != nil {
		h.writeServiceError(w, r, err, "создание вопроса")
		return
	}
	writeJSON(w, http.StatusCreated, q)
}

// ListQuestions - GET /worklog/reports/{id}/questions.
// Доступ: service, staff.
func (h *APIHandler) ListQuestions(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireTrusted(w, r); !ok {
		return
	}
	reportID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	qs, err := h.questions.ListByReport(r.Context(), reportID)
	if err != nil {
		h.writeServiceError(w, r, err, "получение вопросов")
		return
	}
	if qs == nil {
		qs = []*model.Question{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": qs})
}

// GetQuestion - GET /worklog/questions/{id}.
func (h *APIHandler) GetQuestion(w http.ResponseWriter, r *http.Request) {
	if _, ok := callerOf(w, r); !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	q, err := h.questions.Get(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err, "получение вопроса")
		return
	}
	writeJSON(w, http.StatusOK, q)
}

type answerRequest struct {
	ChoiceIndex *int `json:"choice_index"`
}

type answerResponse struct {
	Answer   *model.Answer   `json:"answer"`
	Question *model.Question `json:"question"`
}

// AnswerQuestion - POST /worklog/questions/{id}/answer. Ответ из веб-клиента.
// Работник отвечает от своего имени.
func (h *APIHandler) AnswerQuestion(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOf(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var req answerRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.ChoiceIndex == nil {
		apierrors.ValidationError(w, r, "choice_index", "обязательное поле")
		return
	}

	p := service.AnswerParams{QuestionID: id, ChoiceIndex: *req.ChoiceIndex, AnsweredBy: caller.Actor()}
	if caller.Role == service.RoleWorker {
		wk, err := h.identity.GetWorker(r.Context(), caller.WorkerID)
		if err != nil {
			h.writeServiceError(w, r, err, "ответ на вопрос")
			return
		}
		p.Worker = wk
	}
	a, q, err := h.questions.Answer(r.Context(), p)
	if err != nil {
		h.writeServiceError(w, r, err, "ответ на вопрос")
		return
	}
	writeJSON(w, http.StatusCreated, answerResponse{Answer: a, Question: q})
}

// --- Задачи планировщика ---

// ListJobs - GET /worklog/jobs.
// Доступ: service.
func (h *APIHandler) ListJobs(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"items": h.jobs.Names()})
}

// RunJob - POST /worklog/jobs/{name}/run. Синхронный внеочередной запуск.
// Доступ: service.
func (h *APIHandler) RunJob(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	err := h.jobs.RunNow(r.Context(), name)
	switch {
	case errors.Is(err, scheduler.ErrUnknownJob):
		apierrors.NotFound(w, r, err.Error())
	case errors.Is(err, scheduler.ErrRunning):
		apierrors.Conflict(w, r, apierrors.CodeConflict, err.Error())
	case err != nil:
		h.writeServiceError(w, r, err, "запуск задачи "+name)
	default:
		writeJSON(w, http.StatusOK, map[string]string{"job": name, "status": "ok"})
	}
}

// teams.go - бригады и их состав.
package handlers

import (
	"net/http"

	"github.com/google/uuid"

	apierrors "github.com/bigkaa/worklog/internal/api/errors"
	"github.com/bigkaa/worklog/internal/domain/model"
	"github.com/bigkaa/worklog/internal/service"
)

type createTeamRequest struct {
	ShiftID     uuid.UUID   `json:"shift_id"`
	MemberIDs   []uuid.UUID `json:"member_ids"`
	BrigadierID uuid.UUID   `json:"brigadier_id"`
}

// CreateTeam - POST /worklog/teams. Создаёт бригаду и ставит задачу создания темы.
// Доступ: service, staff.
func (h *APIHandler) CreateTeam(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireTrusted(w, r); !ok {
		return
	}
	var req createTeamRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.ShiftID == uuid.Nil {
		apierrors.ValidationError(w, r, "shift_id", "обязательное поле")
		return
	}
	team, err := h.teams.Create(r.Context(), service.CreateTeamParams{
		ShiftID:     req.ShiftID,
		MemberIDs:   req.MemberIDs,
		BrigadierID: req.BrigadierID,
	})
	if err != nil {
		h.writeServiceError(w, r, err, "создание бригады")
		return
	}
	writeJSON(w, http.StatusCreated, team)
}

// ListTeams - GET /worklog/teams?shift_id=...
// Доступ: service, staff.
func (h *APIHandler) ListTeams(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireTrusted(w, r); !ok {
		return
	}
	shiftID, ok := queryUUID(w, r, "shift_id")
	if !ok {
		return
	}
	if shiftID == nil {
		apierrors.ValidationError(w, r, "shift_id", "обязательный параметр")
		return
	}
	teams, err := h.teams.ListByShift(r.Context(), *shiftID)
	if err != nil {
		h.writeServiceError(w, r, err, "получение списка бригад")
		return
	}
	if teams == nil {
		teams = []*model.Team{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": teams})
}

// GetTeam - GET /worklog/teams/{id}.
// Доступ: service, staff; работник - бригада, которой он руководит.
func (h *APIHandler) GetTeam(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOf(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	team, err := h.teams.Get(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err, "получение бригады")
		return
	}
	if !caller.Trusted() && team.BrigadierID != caller.WorkerID {
		apierrors.Forbidden(w, r, "Бригада доступна только её бригадиру")
		return
	}
	writeJSON(w, http.StatusOK, team)
}

// ListMembers - GET /worklog/teams/{id}/members. История состава.
// Доступ: service, staff.
func (h *APIHandler) ListMembers(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireTrusted(w, r); !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	members, err := h.teams.Members(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err, "получение состава бригады")
		return
	}
	if members == nil {
		members = []*model.TeamMembership{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": members})
}

type addMemberRequest struct {
	WorkerID uuid.UUID `json:"worker_id"`
}

// AddMember - POST /worklog/teams/{id}/members. Фиксирует отчёт member_change
// и добавляет работника в одной транзакции.
// Доступ: service, staff.
func (h *APIHandler) AddMember(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireTrusted(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var req addMemberRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.WorkerID == uuid.Nil {
		apierrors.ValidationError(w, r, "worker_id", "обязательное поле")
		return
	}
	m, err := h.teams.AddMember(r.Context(), id, req.WorkerID, caller.Actor())
	if err != nil {
		h.writeServiceError(w, r, err, "добавление в бригаду")
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

// RemoveMember - DELETE /worklog/teams/{id}/members/{worker_id}.
// Доступ: service, staff.
func (h *APIHandler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireTrusted(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	workerID, ok := pathUUID(w, r, "worker_id")
	if !ok {
		return
	}
	if err := h.teams.RemoveMember(r.Context(), id, workerID, caller.Actor()); err != nil {
		h.writeServiceError(w, r, err, "исключение из бригады")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

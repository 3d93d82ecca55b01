package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/bigkaa/worklog/internal/api/middleware"
	"github.com/bigkaa/worklog/internal/repository"
	"github.com/bigkaa/worklog/internal/scheduler"
	"github.com/bigkaa/worklog/internal/service"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		Field   string `json:"field"`
	} `json:"error"`
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var resp errorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("не удалось разобрать тело ошибки: %v", err)
	}
	return resp
}

func TestWriteServiceError(t *testing.T) {
	h := NewAPIHandler(Deps{}, testLogger())

	tests := []struct {
		name      string
		err       error
		wantCode  int
		wantError string
		wantField string
	}{
		{"поле", &service.FieldError{Field: "name", Message: "пусто"}, http.StatusBadRequest, "VALIDATION_ERROR", "name"},
		{"валидация", fmt.Errorf("x: %w", service.ErrValidation), http.StatusBadRequest, "VALIDATION_ERROR", ""},
		{"геозона", service.ErrGeoRejected, http.StatusBadRequest, "GEO_REJECTED", "latitude"},
		{"не найден", fmt.Errorf("смена: %w", service.ErrNotFound), http.StatusNotFound, "NOT_FOUND", ""},
		{"инвайт не найден", service.ErrInviteNotFound, http.StatusNotFound, "NOT_FOUND", ""},
		{"401", service.ErrUnauthorized, http.StatusUnauthorized, "UNAUTHORIZED", ""},
		{"403", service.ErrForbidden, http.StatusForbidden, "FORBIDDEN", ""},
		{"нечего фиксировать", service.ErrNothingToCommit, http.StatusConflict, "NOTHING_TO_COMMIT", ""},
		{"вне окна", service.ErrOutsideWindow, http.StatusConflict, "OUTSIDE_WINDOW", ""},
		{"инвайт истёк", service.ErrInviteExpired, http.StatusConflict, "INVITE_EXPIRED", ""},
		{"инвайт использован", service.ErrInviteUsed, http.StatusConflict, "INVITE_USED", ""},
		{"конфликт", service.ErrConflict, http.StatusConflict, "CONFLICT", ""},
		{"внешний сервис", fmt.Errorf("stt: %w", service.ErrUpstream), http.StatusBadGateway, "UPSTREAM_UNAVAILABLE", ""},
		{"прочее", errors.New("boom"), http.StatusInternalServerError, "INTERNAL_ERROR", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			h.writeServiceError(rec, req, tt.err, "тест")

			if rec.Code != tt.wantCode {
				t.Fatalf("статус = %d, ожидался %d", rec.Code, tt.wantCode)
			}
			resp := decodeError(t, rec)
			if resp.Error.Code != tt.wantError {
				t.Errorf("code = %q, ожидался %q", resp.Error.Code, tt.wantError)
			}
			if resp.Error.Field != tt.wantField {
				t.Errorf("field = %q, ожидался %q", resp.Error.Field, tt.wantField)
			}
		})
	}
}

func TestPageFromQuery(t *testing.T) {
	tests := []struct {
		query      string
		ok         bool
		wantLimit  int
		wantOffset int
	}{
		{"", true, 100, 0},
		{"limit=10&offset=20", true, 10, 20},
		{"limit=0", true, 1, 0},
		{"limit=10000", true, 500, 0},
		{"offset=-5", true, 100, 0},
		{"limit=abc", false, 0, 0},
		{"offset=x", false, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/?"+tt.query, nil)
			p, ok := pageFromQuery(rec, req)
			if ok != tt.ok {
				t.Fatalf("ok = %v, ожидалось %v", ok, tt.ok)
			}
			if !ok {
				if rec.Code != http.StatusBadRequest {
					t.Errorf("статус = %d, ожидался 400", rec.Code)
				}
				return
			}
			if p.Limit != tt.wantLimit || p.Offset != tt.wantOffset {
				t.Errorf("page = %+v, ожидалось limit=%d offset=%d", p, tt.wantLimit, tt.wantOffset)
			}
		})
	}
}

func pageOf(limit, offset int) repository.Page {
	return repository.Page{Limit: limit, Offset: offset}
}

func TestNewList_HasMore(t *testing.T) {
	l := newList([]int(nil), 0, pageOf(10, 0))
	if l.Items == nil || l.HasMore {
		t.Errorf("пустой список: items=%v has_more=%v", l.Items, l.HasMore)
	}
	l = newList([]int{1, 2}, 5, pageOf(2, 2))
	if !l.HasMore {
		t.Error("ожидалось has_more=true при offset+limit < total")
	}
	l = newList([]int{5}, 5, pageOf(2, 4))
	if l.HasMore {
		t.Error("ожидалось has_more=false на последней странице")
	}
}

func TestClock(t *testing.T) {
	d, err := parseClock("08:30")
	if err != nil {
		t.Fatal(err)
	}
	if d != 8*time.Hour+30*time.Minute {
		t.Errorf("parseClock = %v", d)
	}
	if got := formatClock(d); got != "08:30" {
		t.Errorf("formatClock = %q, ожидалось 08:30", got)
	}
	if got := formatClock(23*time.Hour + 5*time.Minute); got != "23:05" {
		t.Errorf("formatClock = %q, ожидалось 23:05", got)
	}
	for _, bad := range []string{"", "25:00", "8.30", "ab:cd"} {
		if _, err := parseClock(bad); err == nil {
			t.Errorf("parseClock(%q): ожидалась ошибка", bad)
		}
	}
}

// --- Health ---

type stubChecker struct{ status, msg string }

func (s stubChecker) CheckReady() (string, string) { return s.status, s.msg }

func TestHealthReady(t *testing.T) {
	tests := []struct {
		name       string
		checks     []NamedChecker
		wantCode   int
		wantStatus string
	}{
		{"все ok", []NamedChecker{{"postgresql", stubChecker{"ok", ""}}, {"object_store", stubChecker{"ok", ""}}}, http.StatusOK, "ok"},
		{"degraded", []NamedChecker{{"postgresql", stubChecker{"ok", ""}}, {"redis", stubChecker{"degraded", "медленно"}}}, http.StatusOK, "degraded"},
		{"fail", []NamedChecker{{"postgresql", stubChecker{"fail", "нет соединения"}}, {"redis", stubChecker{"degraded", ""}}}, http.StatusServiceUnavailable, "fail"},
		{"не инициализирован", []NamedChecker{{"object_store", nil}}, http.StatusServiceUnavailable, "fail"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandler(tt.checks...)
			rec := httptest.NewRecorder()
			h.HealthReady(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
			if rec.Code != tt.wantCode {
				t.Fatalf("статус = %d, ожидался %d", rec.Code, tt.wantCode)
			}
			var resp healthReadyResponse
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatal(err)
			}
			if resp.Status != tt.wantStatus {
				t.Errorf("status = %q, ожидался %q", resp.Status, tt.wantStatus)
			}
			if len(resp.Checks) != len(tt.checks) {
				t.Errorf("checks = %d, ожидалось %d", len(resp.Checks), len(tt.checks))
			}
			if resp.Service != "worklog" {
				t.Errorf("service = %q", resp.Service)
			}
		})
	}
}

func TestWorse(t *testing.T) {
	tests := []struct{ a, b, want string }{
		{"ok", "ok", "ok"},
		{"ok", "degraded", "degraded"},
		{"degraded", "ok", "degraded"},
		{"degraded", "fail", "fail"},
		{"fail", "degraded", "fail"},
		{"ok", "странный", "fail"},
	}
	for _, tt := range tests {
		if got := worse(tt.a, tt.b); got != tt.want {
			t.Errorf("worse(%q, %q) = %q, ожидался %q", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestHealthLive(t *testing.T) {
	h := NewHealthHandler()
	rec := httptest.NewRecorder()
	h.HealthLive(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("статус = %d", rec.Code)
	}
}

// --- Ранние отказы ---

// Проверки доступа и разбор запроса выполняются до обращения к сервисам,
// поэтому обработчик без сервисов отвечает на такие запросы сам.

func newTestRouter(h *APIHandler, caller *service.Caller) http.Handler {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if caller != nil {
				req = req.WithContext(middleware.WithCaller(req.Context(), caller))
			}
			next.ServeHTTP(w, req)
		})
	})
	r.Get("/worklog/workers", h.ListWorkers)
	r.Post("/worklog/workers", h.CreateWorker)
	r.Get("/worklog/workers/{id}", h.GetWorker)
	r.Post("/worklog/shifts", h.CreateShift)
	r.Post("/worklog/shifts/{id}/register", h.RegisterOnShift)
	r.Get("/worklog/teams", h.ListTeams)
	r.Post("/worklog/teams/{id}/members", h.AddMember)
	r.Get("/worklog/media", h.ListMedia)
	r.Get("/worklog/uploads/url", h.UploadURL)
	r.Post("/worklog/reports", h.CommitReport)
	r.Get("/worklog/reports", h.ListReports)
	r.Post("/worklog/questions/{id}/answer", h.AnswerQuestion)
	return r
}

func TestHandlers_EarlyRejections(t *testing.T) {
	h := NewAPIHandler(Deps{}, testLogger())
	workerID := uuid.New()
	worker := &service.Caller{Subject: workerID.String(), Role: service.RoleWorker, WorkerID: workerID}
	staff := &service.Caller{Subject: "erp-user", Role: service.RoleStaff}

	tests := []struct {
		name      string
		caller    *service.Caller
		method    string
		path      string
		body      string
		wantCode  int
		wantField string
	}{
		{"без вызывающего", nil, http.MethodGet, "/worklog/workers/" + workerID.String(), "", http.StatusUnauthorized, ""},
		{"работник читает чужую карточку", worker, http.MethodGet, "/worklog/workers/" + uuid.NewString(), "", http.StatusForbidden, ""},
		{"некорректный UUID", staff, http.MethodGet, "/worklog/workers/not-a-uuid", "", http.StatusBadRequest, "id"},
		{"работник создаёт работника", worker, http.MethodPost, "/worklog/workers", `{}`, http.StatusForbidden, ""},
		{"работник листает работников", worker, http.MethodGet, "/worklog/workers", "", http.StatusForbidden, ""},
		{"limit не число", staff, http.MethodGet, "/worklog/workers?limit=abc", "", http.StatusBadRequest, "limit"},
		{"active не bool", staff, http.MethodGet, "/worklog/workers?active=maybe", "", http.StatusBadRequest, "active"},
		{"неизвестная роль", staff, http.MethodGet, "/worklog/workers?role=boss", "", http.StatusBadRequest, "role"},
		{"дата смены", staff, http.MethodPost, "/worklog/shifts", `{"date":"16.10.2026","start_time":"08:00","end_time":"20:00"}`, http.StatusBadRequest, "date"},
		{"время смены", staff, http.MethodPost, "/worklog/shifts", `{"date":"2026-10-16","start_time":"8","end_time":"20:00"}`, http.StatusBadRequest, "start_time"},
		{"неизвестное поле", staff, http.MethodPost, "/worklog/shifts", `{"date":"2026-10-16","color":"red"}`, http.StatusBadRequest, ""},
		{"отметка без worker_id", staff, http.MethodPost, "/worklog/shifts/" + uuid.NewString() + "/register", `{}`, http.StatusBadRequest, "worker_id"},
		{"бригады без shift_id", staff, http.MethodGet, "/worklog/teams", "", http.StatusBadRequest, "shift_id"},
		{"работник меняет состав", worker, http.MethodPost, "/worklog/teams/" + uuid.NewString() + "/members", `{}`, http.StatusForbidden, ""},
		{"состав без worker_id", staff, http.MethodPost, "/worklog/teams/" + uuid.NewString() + "/members", `{}`, http.StatusBadRequest, "worker_id"},
		{"неизвестный статус медиа", staff, http.MethodGet, "/worklog/media?status=lost", "", http.StatusBadRequest, "status"},
		{"team_id медиа", worker, http.MethodGet, "/worklog/media?team_id=42", "", http.StatusBadRequest, "team_id"},
		{"ссылка без key", worker, http.MethodGet, "/worklog/uploads/url", "", http.StatusBadRequest, "key"},
		{"фиксация без team_id", worker, http.MethodPost, "/worklog/reports", `{"report_type":"intermediate","trigger":"manual"}`, http.StatusBadRequest, "team_id"},
		{"работник листает отчёты", worker, http.MethodGet, "/worklog/reports", "", http.StatusForbidden, ""},
		{"ответ без choice_index", worker, http.MethodPost, "/worklog/questions/" + uuid.NewString() + "/answer", `{}`, http.StatusBadRequest, "choice_index"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body io.Reader
			if tt.body != "" {
				body = strings.NewReader(tt.body)
			}
			req := httptest.NewRequest(tt.method, tt.path, body)
			rec := httptest.NewRecorder()
			newTestRouter(h, tt.caller).ServeHTTP(rec, req)

			if rec.Code != tt.wantCode {
				t.Fatalf("статус = %d, ожидался %d; тело: %s", rec.Code, tt.wantCode, rec.Body.String())
			}
			resp := decodeError(t, rec)
			if resp.Error.Field != tt.wantField {
				t.Errorf("field = %q, ожидался %q", resp.Error.Field, tt.wantField)
			}
		})
	}
}

// --- Задачи ---

type fakeJobs struct {
	ran []string
	err error
}

func (f *fakeJobs) RunNow(_ context.Context, name string) error {
	if f.err != nil {
		return f.err
	}
	f.ran = append(f.ran, name)
	return nil
}

func (f *fakeJobs) Names() []string { return []string{"activate_shifts", "close_shifts"} }

func TestRunJob(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
	}{
		{"успех", nil, http.StatusOK},
		{"неизвестная задача", fmt.Errorf("x: %w", scheduler.ErrUnknownJob), http.StatusNotFound},
		{"уже выполняется", scheduler.ErrRunning, http.StatusConflict},
		{"ошибка задачи", errors.New("db down"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			jobs := &fakeJobs{err: tt.err}
			h := NewAPIHandler(Deps{Jobs: jobs}, testLogger())
			r := chi.NewRouter()
			r.Post("/worklog/jobs/{name}/run", h.RunJob)

			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/worklog/jobs/close_shifts/run", nil))
			if rec.Code != tt.wantCode {
				t.Fatalf("статус = %d, ожидался %d", rec.Code, tt.wantCode)
			}
			if tt.err == nil && (len(jobs.ran) != 1 || jobs.ran[0] != "close_shifts") {
				t.Errorf("запущены %v, ожидалось [close_shifts]", jobs.ran)
			}
		})
	}
}

func TestListJobs(t *testing.T) {
	h := NewAPIHandler(Deps{Jobs: &fakeJobs{}}, testLogger())
	rec := httptest.NewRecorder()
	h.ListJobs(rec, httptest.NewRequest(http.MethodGet, "/worklog/jobs", nil))

	var resp struct {
		Items []string `json:"items"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Items) != 2 {
		t.Errorf("items = %v", resp.Items)
	}
}

// Пакет errors - ответы об ошибках в едином формате:
// {"error": {"code": "...", "message": "...", "field": "...", "request_id": "..."}}.
// Все HTTP-ответы с ошибками пишутся через WriteError.
package errors

import (
	"encoding/json"
	"net/http"

	chimw "github.com/go-chi/chi/v5/middleware"
)

// Коды ошибок.
const (
	CodeValidationError = "VALIDATION_ERROR"
	CodeNotFound        = "NOT_FOUND"
	CodeUnauthorized    = "UNAUTHORIZED"
	CodeForbidden       = "FORBIDDEN"
	CodeConflict        = "CONFLICT"
	CodeNothingToCommit = "NOTHING_TO_COMMIT"
	CodeGeoRejected     = "GEO_REJECTED"
	CodeOutsideWindow   = "OUTSIDE_WINDOW"
	CodeInviteExpired   = "INVITE_EXPIRED"
	CodeInviteUsed      = "INVITE_USED"
	CodeUpstream        = "UPSTREAM_UNAVAILABLE"
	CodeInternalError   = "INTERNAL_ERROR"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Field     string `json:"field,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// WriteError записывает ответ ошибки. field - имя поля запроса для
// ошибок валидации (может быть пустым). request_id берётся из контекста
// запроса (chi middleware.RequestID).
func WriteError(w http.ResponseWriter, r *http.Request, statusCode int, code, message, field string) {
	var reqID string
	if r != nil {
		reqID = chimw.GetReqID(r.Context())
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(errorBody{
		Error: errorDetail{
			Code:      code,
			Message:   message,
			Field:     field,
			RequestID: reqID,
		},
	})
}

// --- Конструкторы для типичных ошибок ---

// ValidationError - 400 некорректные входные данные.
func ValidationError(w http.ResponseWriter, r *http.Request, field, message string) {
	WriteError(w, r, http.StatusBadRequest, CodeValidationError, message, field)
}

// NotFound - 404 ресурс не найден.
func NotFound(w http.ResponseWriter, r *http.Request, message string) {
	WriteError(w, r, http.StatusNotFound, CodeNotFound, message, "")
}

// Unauthorized - 401 требуется аутентификация.
func Unauthorized(w http.ResponseWriter, r *http.Request, message string) {
	WriteError(w, r, http.StatusUnauthorized, CodeUnauthorized, message, "")
}

// Forbidden - 403 недостаточно прав.
func Forbidden(w http.ResponseWriter, r *http.Request, message string) {
	WriteError(w, r, http.StatusForbidden, CodeForbidden, message, "")
}

// Conflict - 409 конфликт состояния.
func Conflict(w http.ResponseWriter, r *http.Request, code, message string) {
	WriteError(w, r, http.StatusConflict, code, message, "")
}

// Upstream - 502 внешний сервис недоступен.
func Upstream(w http.ResponseWriter, r *http.Request, message string) {
	WriteError(w, r, http.StatusBadGateway, CodeUpstream, message, "")
}

// InternalError - 500 внутренняя ошибка.
func InternalError(w http.ResponseWriter, r *http.Request, message string) {
	WriteError(w, r, http.StatusInternalServerError, CodeInternalError, message, "")
}

// logging.go - журнал HTTP-запросов в slog.
package middleware

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
)

// Пробы и скрейп метрик идут каждые несколько секунд - в DEBUG.
var quietPrefixes = []string{"/health/", "/metrics"}

// wrap оборачивает ответ, чтобы после обработчика знать статус и размер.
func wrap(w http.ResponseWriter, r *http.Request) chimw.WrapResponseWriter {
	return chimw.NewWrapResponseWriter(w, r.ProtoMajor)
}

// statusOf: обработчик, не вызвавший WriteHeader, отдал 200.
func statusOf(ww chimw.WrapResponseWriter) int {
	if s := ww.Status(); s != 0 {
		return s
	}
	return http.StatusOK
}

func requestLevel(path string, status int) slog.Level {
	switch {
	case status >= http.StatusInternalServerError:
		return slog.LevelError
	case status >= http.StatusBadRequest:
		return slog.LevelWarn
	}
	for _, p := range quietPrefixes {
		if strings.HasPrefix(path, p) {
			return slog.LevelDebug
		}
	}
	return slog.LevelInfo
}

// RequestLogger пишет одну запись на запрос: маршрут chi, статус,
// длительность и request_id, который тот же клиент видит в теле ошибки.
func RequestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := wrap(w, r)
			start := time.Now()
			next.ServeHTTP(ww, r)

			status := statusOf(ww)
			level := requestLevel(r.URL.Path, status)
			if !logger.Enabled(r.Context(), level) {
				return
			}
			attrs := []slog.Attr{
				slog.String("method", r.Method),
				slog.String("route", routePattern(r)),
				slog.Int("status", status),
				slog.Duration("took", time.Since(start)),
				slog.Int("bytes", ww.BytesWritten()),
				slog.String("request_id", chimw.GetReqID(r.Context())),
			}
			if status >= http.StatusBadRequest {
				attrs = append(attrs,
					slog.String("path", r.URL.Path),
					slog.String("remote_addr", r.RemoteAddr),
				)
			}
			logger.LogAttrs(r.Context(), level, "HTTP запрос", attrs...)
		})
	}
}

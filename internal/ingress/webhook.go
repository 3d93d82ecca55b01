package ingress

import (
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/bigkaa/worklog/internal/telegram"
)

// SecretHeader - заголовок с секретом вебхука (secret_token в setWebhook).
const SecretHeader = "X-Telegram-Bot-Api-Secret-Token"

const maxUpdateBytes = 1 << 20

// Webhook возвращает обработчик вебхука Telegram. Обновление ставится в
// очередь маршрутизатора; если очередь не освободилась до отмены запроса,
// отвечаем 503, и Telegram повторит доставку.
func (r *Router) Webhook(secret string) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		got := req.Header.Get(SecretHeader)
		if secret != "" && subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		var u telegram.Update
		body := http.MaxBytesReader(w, req.Body, maxUpdateBytes)
		if err := json.NewDecoder(body).Decode(&u); err != nil {
			r.logger.Warn("Некорректное обновление вебхука", slog.String("error", err.Error()))
			// 200: повторная доставка того же тела ничего не изменит.
			w.WriteHeader(http.StatusOK)
			return
		}

		if err := r.Enqueue(req.Context(), u); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

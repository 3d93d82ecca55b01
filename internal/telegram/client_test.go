package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bigkaa/worklog/internal/upstream"
)

const testToken = "123:test"

// fakeBotAPI - httptest-сервер Bot API. Обработчики методов задаются тестом,
// getMe отвечает всегда.
type fakeBotAPI struct {
	mu      sync.Mutex
	calls   map[string]int
	params  map[string]map[string]string
	handler map[string]func(w http.ResponseWriter, r *http.Request, n int)
	server  *httptest.Server
}

func newFakeBotAPI(t *testing.T) *fakeBotAPI {
	t.Helper()
	f := &fakeBotAPI{
		calls:   make(map[string]int),
		params:  make(map[string]map[string]string),
		handler: make(map[string]func(http.ResponseWriter, *http.Request, int)),
	}
	f.server = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeBotAPI) serve(w http.ResponseWriter, r *http.Request) {
	if strings.HasPrefix(r.URL.Path, "/file/") {
		f.mu.Lock()
		f.calls["download"]++
		n := f.calls["download"]
		h := f.handler["download"]
		f.mu.Unlock()
		h(w, r, n)
		return
	}

	method := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
	_ = r.ParseForm()
	f.mu.Lock()
	f.calls[method]++
	n := f.calls[method]
	p := make(map[string]string)
	for k := range r.Form {
		p[k] = r.Form.Get(k)
	}
	f.params[method] = p
	h := f.handler[method]
	f.mu.Unlock()

	if method == "getMe" {
		writeOK(w, map[string]any{"id": 123, "is_bot": true, "first_name": "Worklog", "username": "worklog_bot"})
		return
	}
	if h == nil {
		writeOK(w, true)
		return
	}
	h(w, r, n)
}

func (f *fakeBotAPI) count(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

func (f *fakeBotAPI) param(method, key string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.params[method][key]
}

func writeOK(w http.ResponseWriter, result any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "result": result})
}

func writeErr(w http.ResponseWriter, code int, desc string, retryAfter int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	body := map[string]any{"ok": false, "error_code": code, "description": desc}
	if retryAfter > 0 {
		body["parameters"] = map[string]any{"retry_after": retryAfter}
	}
	_ = json.NewEncoder(w).Encode(body)
}

func newTestClient(t *testing.T, f *fakeBotAPI) *Client {
	t.Helper()
	c, err := New(Options{
		Token:            testToken,
		APIEndpoint:      f.server.URL + "/bot%s/%s",
		FileEndpoint:     f.server.URL + "/file/bot%s/%s",
		RPS:              1000,
		MaxRetries:       3,
		RetryInitial:     time.Millisecond,
		MaxDownloadBytes: 16,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestNew_Username(t *testing.T) {
	f := newFakeBotAPI(t)
	c := newTestClient(t, f)
	if c.Username() != "worklog_bot" {
		t.Errorf("Username = %q, ожидается worklog_bot", c.Username())
	}
}

func TestSendMessage_Thread(t *testing.T) {
	f := newFakeBotAPI(t)
	f.handler["sendMessage"] = func(w http.ResponseWriter, _ *http.Request, _ int) {
		writeOK(w, map[string]any{"message_id": 777, "date": 0, "chat": map[string]any{"id": -100, "type": "supergroup"}})
	}
	c := newTestClient(t, f)

	id, err := c.SendMessage(context.Background(), -100, "привет", SendOptions{ThreadID: 42})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if id != 777 {
		t.Errorf("message_id = %d, ожидается 777", id)
	}
	if got := f.param("sendMessage", "message_thread_id"); got != "42" {
		t.Errorf("message_thread_id = %q, ожидается 42", got)
	}
}

func TestCall_RetryOn503(t *testing.T) {
	f := newFakeBotAPI(t)
	f.handler["createForumTopic"] = func(w http.ResponseWriter, _ *http.Request, n int) {
		if n < 3 {
			writeErr(w, http.StatusServiceUnavailable, "Service Unavailable", 0)
			return
		}
		writeOK(w, map[string]any{"message_thread_id": 55, "name": "Бригада"})
	}
	c := newTestClient(t, f)

	id, err := c.CreateForumTopic(context.Background(), -100, "Бригада")
	if err != nil {
		t.Fatalf("CreateForumTopic: %v", err)
	}
	if id != 55 || f.count("createForumTopic") != 3 {
		t.Errorf("thread = %d, calls = %d; ожидается 55 и 3", id, f.count("createForumTopic"))
	}
}

func TestCall_PermanentNoRetry(t *testing.T) {
	f := newFakeBotAPI(t)
	f.handler["deleteMessage"] = func(w http.ResponseWriter, _ *http.Request, _ int) {
		writeErr(w, http.StatusBadRequest, "Bad Request: message to delete not found", 0)
	}
	c := newTestClient(t, f)

	err := c.DeleteMessage(context.Background(), -100, 5)
	if !upstream.IsPermanent(err) {
		t.Fatalf("ожидается постоянная ошибка, получено %v", err)
	}
	if f.count("deleteMessage") != 1 {
		t.Errorf("4xx не должна повторяться, calls = %d", f.count("deleteMessage"))
	}
}

func TestCall_RateLimited(t *testing.T) {
	f := newFakeBotAPI(t)
	f.handler["setMessageReaction"] = func(w http.ResponseWriter, _ *http.Request, n int) {
		if n == 1 {
			writeErr(w, http.StatusTooManyRequests, "Too Many Requests: retry after 1", 1)
			return
		}
		writeOK(w, true)
	}
	c := newTestClient(t, f)

	start := time.Now()
	if err := c.SetMessageReaction(context.Background(), -100, 5, "✅"); err != nil {
		t.Fatalf("SetMessageReaction: %v", err)
	}
	if time.Since(start) < time.Second {
		t.Error("повтор после 429 должен ждать retry_after")
	}
	if !strings.Contains(f.param("setMessageReaction", "reaction"), "✅") {
		t.Errorf("reaction = %q", f.param("setMessageReaction", "reaction"))
	}
}

func TestCall_CancelInFlight(t *testing.T) {
	f := newFakeBotAPI(t)
	hang := func(_ http.ResponseWriter, r *http.Request, _ int) { <-r.Context().Done() }
	f.handler["sendMessage"] = hang
	f.handler["getUpdates"] = hang
	c := newTestClient(t, f)

	tests := []struct {
		name string
		do   func(ctx context.Context) error
	}{
		{"sendMessage", func(ctx context.Context) error {
			_, err := c.SendMessage(ctx, -100, "привет", SendOptions{})
			return err
		}},
		{"getUpdates", func(ctx context.Context) error {
			_, err := c.GetUpdates(ctx, 0, 30*time.Second)
			return err
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			time.AfterFunc(50*time.Millisecond, cancel)

			start := time.Now()
			err := tt.do(ctx)
			if !errors.Is(err, context.Canceled) {
				t.Fatalf("ожидается context.Canceled, получено %v", err)
			}
			if d := time.Since(start); d > 2*time.Second {
				t.Errorf("запрос отменён через %v, ожидалось сразу", d)
			}
			if f.count(tt.name) != 1 {
				t.Errorf("после отмены не должно быть повторов, calls = %d", f.count(tt.name))
			}
		})
	}
}

func TestGetFileAndDownload(t *testing.T) {
	f := newFakeBotAPI(t)
	f.handler["getFile"] = func(w http.ResponseWriter, _ *http.Request, _ int) {
		writeOK(w, map[string]any{"file_id": "F1", "file_unique_id": "U1", "file_size": 4, "file_path": "photos/file_1.jpg"})
	}
	f.handler["download"] = func(w http.ResponseWriter, r *http.Request, _ int) {
		if !strings.HasSuffix(r.URL.Path, "/photos/file_1.jpg") {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("JPEG"))
	}
	c := newTestClient(t, f)
	ctx := context.Background()

	file, err := c.GetFile(ctx, "F1")
	if err != nil {
		t.Fatalf("GetFile: %v", err)
	}
	data, err := c.Download(ctx, file.FilePath)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if string(data) != "JPEG" {
		t.Errorf("Download = %q", data)
	}

	if _, err := c.Download(ctx, "missing.jpg"); !upstream.IsPermanent(err) {
		t.Errorf("404 при скачивании должен быть постоянной ошибкой, получено %v", err)
	}
}

func TestDownload_TooLarge(t *testing.T) {
	f := newFakeBotAPI(t)
	f.handler["download"] = func(w http.ResponseWriter, _ *http.Request, _ int) {
		_, _ = w.Write([]byte(strings.Repeat("x", 32)))
	}
	c := newTestClient(t, f)

	_, err := c.Download(context.Background(), "big.mp4")
	var ue *upstream.Error
	if !errors.As(err, &ue) || ue.Kind != upstream.Permanent {
		t.Errorf("файл больше лимита должен давать постоянную ошибку, получено %v", err)
	}
}

func TestMessage_Command(t *testing.T) {
	tests := []struct {
		text, cmd, arg string
	}{
		{"/start inv_ABC123DEF456", "start", "inv_ABC123DEF456"},
		{"/start@worklog_bot inv_X", "start", "inv_X"},
		{"/cancel", "cancel", ""},
		{"привет", "", ""},
	}
	for _, tt := range tests {
		m := &Message{Text: tt.text}
		cmd, arg := m.Command()
		if cmd != tt.cmd || arg != tt.arg {
			t.Errorf("Command(%q) = %q, %q; ожидается %q, %q", tt.text, cmd, arg, tt.cmd, tt.arg)
		}
	}
}

func TestUpdate_Decode(t *testing.T) {
	raw := `{"update_id":1,"message":{"message_id":10,"message_thread_id":42,"is_topic_message":true,
		"date":1770000000,"chat":{"id":-1001,"type":"supergroup"},"from":{"id":10001,"is_bot":false,"first_name":"Иван"},
		"video":{"file_id":"V","file_unique_id":"VU","width":1,"height":1,"duration":5,
		"thumbnail":{"file_id":"T","file_unique_id":"TU","width":1,"height":1}}}}`
	var u Update
	if err := json.Unmarshal([]byte(raw), &u); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if u.ChatID() != -1001 || u.Message.MessageThreadID != 42 {
		t.Errorf("chat = %d, thread = %d", u.ChatID(), u.Message.MessageThreadID)
	}
	if th := u.Message.Video.Thumb(); th == nil || th.FileID != "T" {
		t.Errorf("превью видео не разобрано: %+v", th)
	}
	if u.Message.IsForwarded() {
		t.Error("сообщение не переслано")
	}
}

package stt

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bigkaa/worklog/internal/domain/model"
	"github.com/bigkaa/worklog/internal/upstream"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestLanguageCode(t *testing.T) {
	tests := map[model.Language]string{
		model.LangRU: "rus",
		model.LangUZ: "uzb",
		model.LangTG: "tgk",
		model.LangKY: "kir",
		"en":         "",
	}
	for in, want := range tests {
		if got := LanguageCode(in); got != want {
			t.Errorf("LanguageCode(%q) = %q, ожидается %q", in, got, want)
		}
	}
}

func TestTranscribe_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("xi-api-key") != "key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("ParseMultipartForm: %v", err)
		}
		if got := r.FormValue("language_code"); got != "uzb" {
			t.Errorf("language_code = %q, ожидается uzb", got)
		}
		f, hdr, err := r.FormFile("file")
		if err != nil {
			t.Errorf("нет файла: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		data, _ := io.ReadAll(f)
		if string(data) != "OGG" || hdr.Filename != "voice.ogg" {
			t.Errorf("файл = %q (%s)", data, hdr.Filename)
		}
		_ = json.NewEncoder(w).Encode(Result{Text: "бетон привезли", LanguageCode: "uzb"})
	}))
	defer srv.Close()

	c := New(srv.URL, "key", 0, testLogger())
	res, err := c.Transcribe(context.Background(), []byte("OGG"), "voice.ogg", model.LangUZ)
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if res.Text != "бетон привезли" {
		t.Errorf("Text = %q", res.Text)
	}
}

func TestTranscribe_ErrorClasses(t *testing.T) {
	tests := []struct {
		status int
		want   upstream.Kind
	}{
		{http.StatusBadGateway, upstream.Transient},
		{http.StatusUnprocessableEntity, upstream.Permanent},
		{http.StatusTooManyRequests, upstream.RateLimited},
	}
	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(tt.status)
		}))
		c := New(srv.URL, "", 0, testLogger())
		_, err := c.Transcribe(context.Background(), []byte("x"), "a.ogg", model.LangRU)
		if upstream.KindOf(err) != tt.want {
			t.Errorf("HTTP %d: класс %s, ожидается %s", tt.status, upstream.KindOf(err), tt.want)
		}
		srv.Close()
	}
}

func TestEnabled(t *testing.T) {
	var nilClient *Client
	if nilClient.Enabled() {
		t.Error("nil-клиент не должен быть включён")
	}
	if New("", "", 0, testLogger()).Enabled() {
		t.Error("клиент без URL не должен быть включён")
	}
}

package service

import (
	"testing"

	"github.com/google/uuid"
)

func TestParseCallbackData(t *testing.T) {
	id := uuid.New()
	tests := []struct {
		name    string
		data    string
		wantOK  bool
		wantIdx int
	}{
		{"корректные данные", CallbackData(id, 3), true, 3},
		{"нулевой индекс", CallbackData(id, 0), true, 0},
		{"чужой префикс", "vote:" + id.String() + ":1", false, 0},
		{"нет индекса", CallbackPrefix + id.String(), false, 0},
		{"отрицательный индекс", CallbackPrefix + id.String() + ":-1", false, 0},
		{"не UUID", CallbackPrefix + "abc:1", false, 0},
		{"индекс не число", CallbackPrefix + id.String() + ":x", false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotID, gotIdx, ok := ParseCallbackData(tt.data)
			if ok != tt.wantOK {
				t.Fatalf("ParseCallbackData(%q) ok = %v, ожидается %v", tt.data, ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if gotID != id || gotIdx != tt.wantIdx {
				t.Errorf("ParseCallbackData(%q) = %s, %d; ожидается %s, %d", tt.data, gotID, gotIdx, id, tt.wantIdx)
			}
		})
	}
}

func TestCallbackData_FitsTelegramLimit(t *testing.T) {
	// callback_data в Telegram ограничен 64 байтами.
	data := CallbackData(uuid.New(), MaxChoices-1)
	if len(data) > 64 {
		t.Errorf("длина callback_data = %d, больше 64", len(data))
	}
}

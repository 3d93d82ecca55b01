package service

import (
	"strings"
	"testing"
	"time"

	"github.com/bigkaa/worklog/internal/domain/model"
)

func TestDividerText(t *testing.T) {
	rep := &model.Report{ReportNumber: 4, ReportType: model.ReportSupplement, MediaCount: 2}
	got := dividerText(rep)
	for _, want := range []string{"№4", "дополнение", "2 материалов"} {
		if !strings.Contains(got, want) {
			t.Errorf("dividerText = %q, нет %q", got, want)
		}
	}
}

func TestGreeting(t *testing.T) {
	w := &model.Worker{Name: "Алишер"}
	if got := Greeting(w, nil); strings.Contains(got, "Вступите") {
		t.Errorf("без ссылок не должно быть приглашения в группу: %q", got)
	}
	got := Greeting(w, []string{"https://t.me/+a", "https://t.me/+b"})
	if !strings.Contains(got, "Алишер") || !strings.Contains(got, "https://t.me/+b") {
		t.Errorf("Greeting = %q", got)
	}
}

func TestTopicName(t *testing.T) {
	sh := &model.Shift{Date: time.Date(2026, 3, 7, 0, 0, 0, 0, time.UTC)}
	if got := topicName(&model.Worker{Name: "Иван"}, sh); got != "Иван · 07.03" {
		t.Errorf("topicName = %q", got)
	}
}

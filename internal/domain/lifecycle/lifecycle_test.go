package lifecycle

import (
	"errors"
	"testing"

	"github.com/bigkaa/worklog/internal/domain/model"
)

func TestMediaTransitions(t *testing.T) {
	tests := []struct {
		from, to model.MediaStatus
		ok       bool
	}{
		{model.MediaPending, model.MediaDownloaded, true},
		{model.MediaPending, model.MediaDeleted, true},
		{model.MediaDownloaded, model.MediaCommitted, true},
		{model.MediaDownloaded, model.MediaDeleted, true},
		{model.MediaPending, model.MediaCommitted, false},
		{model.MediaCommitted, model.MediaDeleted, false},
		{model.MediaCommitted, model.MediaDownloaded, false},
		{model.MediaDeleted, model.MediaPending, false},
	}
	for _, tt := range tests {
		err := Media(tt.from, tt.to)
		if (err == nil) != tt.ok {
			t.Errorf("Media(%s → %s) = %v, ожидается ok=%v", tt.from, tt.to, err, tt.ok)
		}
		if err != nil {
			var te *TransitionError
			if !errors.As(err, &te) || te.Code != CodeInvalidTransition {
				t.Errorf("ожидается TransitionError с кодом %s, получено %v", CodeInvalidTransition, err)
			}
		}
	}
}

func TestShiftTransitions(t *testing.T) {
	if err := Shift(model.ShiftScheduled, model.ShiftActive); err != nil {
		t.Errorf("scheduled → active: %v", err)
	}
	if err := Shift(model.ShiftActive, model.ShiftClosed); err != nil {
		t.Errorf("active → closed: %v", err)
	}
	if err := Shift(model.ShiftClosed, model.ShiftActive); err == nil {
		t.Error("closed → active должен быть запрещён")
	}
	if err := Shift("unknown", model.ShiftActive); err == nil {
		t.Error("неизвестный статус должен давать ошибку")
	}
}

func TestReportAndQuestionTransitions(t *testing.T) {
	if err := Report(model.ReportSubmitted, model.ReportQuestionsPending); err != nil {
		t.Errorf("submitted → questions_pending: %v", err)
	}
	if err := Report(model.ReportCompleted, model.ReportSubmitted); err == nil {
		t.Error("completed → submitted должен быть запрещён")
	}
	if err := Question(model.QuestionPending, model.QuestionExpired); err != nil {
		t.Errorf("pending → expired: %v", err)
	}
	if err := Question(model.QuestionAnswered, model.QuestionExpired); err == nil {
		t.Error("answered → expired должен быть запрещён")
	}
}

func TestMediaRank(t *testing.T) {
	if !(MediaRank(model.MediaPending) < MediaRank(model.MediaDownloaded) &&
		MediaRank(model.MediaDownloaded) < MediaRank(model.MediaCommitted)) {
		t.Error("нарушен порядок pending < downloaded < committed")
	}
	if MediaRank(model.MediaDeleted) != -1 {
		t.Error("deleted вне основной ветки")
	}
}

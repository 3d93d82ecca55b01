package schedule

import (
	"testing"
	"time"

	"github.com/bigkaa/worklog/internal/domain/model"
)

var msk = time.FixedZone("MSK", 3*3600)

func newShift(status model.ShiftStatus, start, end string) *model.Shift {
	s, _ := ParseClock(start)
	e, _ := ParseClock(end)
	return &model.Shift{
		Date:      time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC),
		StartTime: s,
		EndTime:   e,
		Status:    status,
	}
}

func TestShiftWindow_Night(t *testing.T) {
	sh := newShift(model.ShiftActive, "20:00", "08:00")
	w := Of(sh, msk)
	if !w.Start.Equal(time.Date(2026, 2, 10, 20, 0, 0, 0, msk)) {
		t.Errorf("Start = %v", w.Start)
	}
	if !w.End.Equal(time.Date(2026, 2, 11, 8, 0, 0, 0, msk)) {
		t.Errorf("ночная смена должна заканчиваться на следующий день, End = %v", w.End)
	}
}

func TestDueForActivation(t *testing.T) {
	sh := newShift(model.ShiftScheduled, "08:00", "20:00")

	tests := []struct {
		name string
		now  time.Time
		want bool
	}{
		{"накануне", time.Date(2026, 2, 9, 23, 0, 0, 0, msk), false},
		{"до начала", time.Date(2026, 2, 10, 7, 59, 0, 0, msk), false},
		{"ровно в start_time", time.Date(2026, 2, 10, 8, 0, 0, 0, msk), true},
		{"после начала", time.Date(2026, 2, 10, 9, 0, 0, 0, msk), true},
		{"на следующий день", time.Date(2026, 2, 11, 1, 0, 0, 0, msk), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DueForActivation(sh, tt.now, msk); got != tt.want {
				t.Errorf("DueForActivation = %v, ожидается %v", got, tt.want)
			}
		})
	}

	active := newShift(model.ShiftActive, "08:00", "20:00")
	if DueForActivation(active, time.Date(2026, 2, 10, 9, 0, 0, 0, msk), msk) {
		t.Error("активная смена не должна активироваться повторно")
	}
}

func TestDueForClose(t *testing.T) {
	sh := newShift(model.ShiftActive, "08:00", "20:00")

	if DueForClose(sh, time.Date(2026, 2, 10, 19, 59, 0, 0, msk), msk) {
		t.Error("смена не должна закрываться до end_time")
	}
	if !DueForClose(sh, time.Date(2026, 2, 10, 20, 0, 0, 0, msk), msk) {
		t.Error("смена должна закрываться ровно в end_time")
	}

	ext := time.Date(2026, 2, 10, 21, 0, 0, 0, msk)
	sh.ExtendedUntil = &ext
	if DueForClose(sh, time.Date(2026, 2, 10, 20, 30, 0, 0, msk), msk) {
		t.Error("продлённая смена не должна закрываться до extended_until")
	}
	if !DueForClose(sh, ext, msk) {
		t.Error("продлённая смена должна закрываться в extended_until")
	}
}

func TestInWarningWindow(t *testing.T) {
	sh := newShift(model.ShiftActive, "08:00", "20:00")

	tests := []struct {
		now  time.Time
		want bool
	}{
		{time.Date(2026, 2, 10, 19, 24, 0, 0, msk), false},
		{time.Date(2026, 2, 10, 19, 25, 0, 0, msk), true},
		{time.Date(2026, 2, 10, 19, 30, 0, 0, msk), true},
		{time.Date(2026, 2, 10, 19, 35, 0, 0, msk), true},
		{time.Date(2026, 2, 10, 19, 36, 0, 0, msk), false},
	}
	for _, tt := range tests {
		if got := InWarningWindow(sh, tt.now, msk); got != tt.want {
			t.Errorf("InWarningWindow(%s) = %v, ожидается %v", tt.now.Format("15:04"), got, tt.want)
		}
	}

	sent := time.Now()
	sh.WarningSentAt = &sent
	if InWarningWindow(sh, time.Date(2026, 2, 10, 19, 30, 0, 0, msk), msk) {
		t.Error("предупреждение не должно отправляться повторно")
	}
}

func TestRegistrationAllowed(t *testing.T) {
	sh := newShift(model.ShiftScheduled, "08:00", "20:00")

	if !RegistrationAllowed(sh, 0, time.Date(2026, 1, 1, 0, 0, 0, 0, msk), msk) {
		t.Error("без окна регистрация разрешена всегда")
	}
	if !RegistrationAllowed(sh, 30, time.Date(2026, 2, 10, 7, 30, 0, 0, msk), msk) {
		t.Error("за 30 минут до начала регистрация разрешена")
	}
	if RegistrationAllowed(sh, 30, time.Date(2026, 2, 10, 7, 29, 0, 0, msk), msk) {
		t.Error("за 31 минуту до начала регистрация запрещена")
	}
	if RegistrationAllowed(sh, 30, time.Date(2026, 2, 10, 20, 31, 0, 0, msk), msk) {
		t.Error("через 31 минуту после окончания регистрация запрещена")
	}
}

func TestParseFormatClock(t *testing.T) {
	d, err := ParseClock("07:45")
	if err != nil || d != 7*time.Hour+45*time.Minute {
		t.Fatalf("ParseClock = %v, %v", d, err)
	}
	if FormatClock(d) != "07:45" {
		t.Errorf("FormatClock = %q", FormatClock(d))
	}
	if _, err := ParseClock("25:00"); err == nil {
		t.Error("25:00 должно быть ошибкой")
	}
}

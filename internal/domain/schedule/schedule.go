// Пакет schedule - вычисление границ смены во времени объекта и условий
// срабатывания периодических задач планировщика.
package schedule

import (
	"fmt"
	"time"

	"github.com/bigkaa/worklog/internal/domain/model"
)

// Границы окна предупреждения о закрытии смены.
const (
	WarningFrom = 25 * time.Minute
	WarningTo   = 35 * time.Minute
)

// Window - абсолютные границы смены.
type Window struct {
	Start time.Time
	End   time.Time
}

// Contains сообщает, попадает ли момент в окно, расширенное на margin с обеих сторон.
func (w Window) Contains(t time.Time, margin time.Duration) bool {
	return !t.Before(w.Start.Add(-margin)) && !t.After(w.End.Add(margin))
}

// ShiftWindow переводит дату и время начала/окончания смены в абсолютные моменты.
// Если end <= start, смена заканчивается на следующий день (ночная).
func ShiftWindow(date time.Time, start, end time.Duration, loc *time.Location) Window {
	day := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, loc)
	w := Window{
		Start: at(day, start, loc),
		End:   at(day, end, loc),
	}
	if end <= start {
		w.End = at(day.AddDate(0, 0, 1), end, loc)
	}
	return w
}

// at собирает момент из дня и времени суток с учётом перехода на летнее время.
func at(day time.Time, clock time.Duration, loc *time.Location) time.Time {
	h := int(clock / time.Hour)
	m := int(clock % time.Hour / time.Minute)
	s := int(clock % time.Minute / time.Second)
	return time.Date(day.Year(), day.Month(), day.Day(), h, m, s, 0, loc)
}

// Of возвращает окно смены.
func Of(sh *model.Shift, loc *time.Location) Window {
	return ShiftWindow(sh.Date, sh.StartTime, sh.EndTime, loc)
}

// Deadline - момент закрытия смены: extended_until, если задано, иначе date + end_time.
func Deadline(sh *model.Shift, loc *time.Location) time.Time {
	if sh.ExtendedUntil != nil {
		return *sh.ExtendedUntil
	}
	return Of(sh, loc).End
}

// DueForActivation: date < сегодня ИЛИ (date = сегодня И start_time <= сейчас).
// Смена, у которой start_time равен текущему моменту, активируется.
func DueForActivation(sh *model.Shift, now time.Time, loc *time.Location) bool {
	if sh.Status != model.ShiftScheduled {
		return false
	}
	local := now.In(loc)
	today := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
	date := time.Date(sh.Date.Year(), sh.Date.Month(), sh.Date.Day(), 0, 0, 0, 0, time.UTC)
	if date.Before(today) {
		return true
	}
	if !date.Equal(today) {
		return false
	}
	return sh.StartTime <= Clock(local)
}

// DueForClose: extended_until <= сейчас (если задано), иначе date + end_time <= сейчас.
func DueForClose(sh *model.Shift, now time.Time, loc *time.Location) bool {
	if sh.Status != model.ShiftActive {
		return false
	}
	return !now.Before(Deadline(sh, loc))
}

// InWarningWindow сообщает, попадает ли закрытие смены в интервал [25 мин, 35 мин] от now.
func InWarningWindow(sh *model.Shift, now time.Time, loc *time.Location) bool {
	if sh.Status != model.ShiftActive || sh.WarningSentAt != nil {
		return false
	}
	left := Deadline(sh, loc).Sub(now)
	return left >= WarningFrom && left <= WarningTo
}

// RegistrationAllowed проверяет окно регистрации:
// при window > 0 now должен лежать в [начало − window, конец + window].
func RegistrationAllowed(sh *model.Shift, windowMinutes int, now time.Time, loc *time.Location) bool {
	if windowMinutes <= 0 {
		return true
	}
	w := Window{Start: Of(sh, loc).Start, End: Deadline(sh, loc)}
	return w.Contains(now, time.Duration(windowMinutes)*time.Minute)
}

// Clock возвращает время суток момента t как смещение от полуночи.
func Clock(t time.Time) time.Duration {
	return time.Duration(t.Hour())*time.Hour +
		time.Duration(t.Minute())*time.Minute +
		time.Duration(t.Second())*time.Second
}

// ParseClock разбирает "HH:MM" или "HH:MM:SS".
func ParseClock(s string) (time.Duration, error) {
	for _, layout := range []string{"15:04", "15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return Clock(t), nil
		}
	}
	return 0, fmt.Errorf("некорректное время %q, ожидается HH:MM", s)
}

// FormatClock форматирует смещение от полуночи как "HH:MM".
func FormatClock(d time.Duration) string {
	return fmt.Sprintf("%02d:%02d", int(d/time.Hour), int(d%time.Hour/time.Minute))
}

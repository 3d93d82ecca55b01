// shift.go - смены: создание, отметки с геопроверкой, продление,
// автоматическая активация и закрытие.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/bigkaa/worklog/internal/domain/geo"
	"github.com/bigkaa/worklog/internal/domain/model"
	"github.com/bigkaa/worklog/internal/domain/schedule"
	"github.com/bigkaa/worklog/internal/pipeline"
	"github.com/bigkaa/worklog/internal/repository"
)

const qrTokenLen = 24

// ShiftService - смены и отметки работников.
type ShiftService struct {
	store   *Store
	reports *ReportService
	queue   Enqueuer
	loc     *time.Location
	now     func() time.Time
	logger  *slog.Logger
}

// NewShiftService создаёт сервис. loc - часовой пояс объектов.
func NewShiftService(store *Store, reports *ReportService, queue Enqueuer, loc *time.Location, logger *slog.Logger) *ShiftService {
	return &ShiftService{
		store:   store,
		reports: reports,
		queue:   queue,
		loc:     loc,
		now:     time.Now,
		logger:  logger.With(slog.String("component", "shifts")),
	}
}

// UpsertObject сохраняет проекцию объекта ERP.
func (s *ShiftService) UpsertObject(ctx context.Context, o *model.Object) (*model.Object, error) {
	if o.ID == uuid.Nil {
		return nil, invalid("id", "обязательное поле")
	}
	if (o.Latitude == nil) != (o.Longitude == nil) {
		return nil, invalid("latitude", "широта и долгота задаются вместе")
	}
	if o.HasCentre() {
		if err := (geo.Point{Lat: *o.Latitude, Lon: *o.Longitude}).Validate(); err != nil {
			return nil, invalid("latitude", "%v", err)
		}
	}
	if o.GeoRadiusM < 0 {
		return nil, invalid("geo_radius_m", "не может быть отрицательным")
	}
	if o.RegistrationWindowMinutes < 0 {
		return nil, invalid("registration_window_minutes", "не может быть отрицательным")
	}
	if err := s.store.Objects.Upsert(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}

// CreateShiftParams - параметры новой смены.
type CreateShiftParams struct {
	ObjectID     uuid.UUID
	ContractorID uuid.UUID
	Date         time.Time
	ShiftType    model.ShiftType
	StartTime    time.Duration
	EndTime      time.Duration
}

// Create создаёт смену в статусе scheduled с новым QR-токеном.
func (s *ShiftService) Create(ctx context.Context, p CreateShiftParams) (*model.Shift, error) {
	switch {
	case p.ContractorID == uuid.Nil:
		return nil, invalid("contractor_id", "обязательное поле")
	case p.Date.IsZero():
		return nil, invalid("date", "обязательное поле")
	case !p.ShiftType.Valid():
		return nil, invalid("shift_type", "допустимые значения: day, evening, night")
	case p.StartTime < 0 || p.StartTime >= 24*time.Hour:
		return nil, invalid("start_time", "время вне суток")
	case p.EndTime < 0 || p.EndTime >= 24*time.Hour:
		return nil, invalid("end_time", "время вне суток")
	case p.StartTime == p.EndTime:
		return nil, invalid("end_time", "совпадает с началом смены")
	}
	if _, err := s.store.Objects.GetByID(ctx, p.ObjectID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, invalid("object_id", "объект не найден")
		}
		return nil, err
	}
	token, err := randomBase62(qrTokenLen)
	if err != nil {
		return nil, err
	}
	sh := &model.Shift{
		ID:           uuid.New(),
		ObjectID:     p.ObjectID,
		ContractorID: p.ContractorID,
		Date:         time.Date(p.Date.Year(), p.Date.Month(), p.Date.Day(), 0, 0, 0, 0, time.UTC),
		ShiftType:    p.ShiftType,
		StartTime:    p.StartTime,
		EndTime:      p.EndTime,
		Status:       model.ShiftScheduled,
		QRToken:      token,
	}
	if err := s.store.Shifts.Create(ctx, sh); err != nil {
		return nil, mapRepoErr(err, "смена")
	}
	s.logger.Info("Смена создана",
		slog.String("shift_id", sh.ID.String()),
		slog.String("date", sh.Date.Format(time.DateOnly)),
		slog.String("type", string(sh.ShiftType)),
	)
	return sh, nil
}

// Get возвращает смену.
func (s *ShiftService) Get(ctx context.Context, id uuid.UUID) (*model.Shift, error) {
	sh, err := s.store.Shifts.GetByID(ctx, id)
	return sh, mapRepoErr(err, "смена")
}

// List возвращает смены по фильтру.
func (s *ShiftService) List(ctx context.Context, f repository.ShiftFilter, p repository.Page) ([]*model.Shift, error) {
	return s.store.Shifts.List(ctx, f, p)
}

// Registrations возвращает отметки смены.
func (s *ShiftService) Registrations(ctx context.Context, shiftID uuid.UUID) ([]*model.ShiftRegistration, error) {
	if _, err := s.Get(ctx, shiftID); err != nil {
		return nil, err
	}
	return s.store.Registrations.ListByShift(ctx, shiftID)
}

// RegisterParams - отметка работника на смене.
type RegisterParams struct {
	ShiftID   uuid.UUID
	WorkerID  uuid.UUID
	QRToken   string
	Latitude  *float64
	Longitude *float64
	// RegisteredBy - бригадир, отмечающий работника за него.
	RegisteredBy *uuid.UUID
	// SkipQR - отметка доверенным вызывающим без QR-кода.
	SkipQR bool
}

// Registration - результат отметки; Warning непуст, если отметка
// принята вне геозоны по разрешению объекта.
type Registration struct {
	*model.ShiftRegistration
	Warning string `json:"warning,omitempty"`
}

// Register отмечает работника на смене с проверкой окна и геозоны.
func (s *ShiftService) Register(ctx context.Context, p RegisterParams) (*Registration, error) {
	sh, err := s.Get(ctx, p.ShiftID)
	if err != nil {
		return nil, err
	}
	if sh.Status == model.ShiftClosed {
		return nil, fmt.Errorf("%w: смена закрыта", ErrConflict)
	}
	if !p.SkipQR && p.QRToken != sh.QRToken {
		return nil, invalid("qr_token", "неверный QR-код смены")
	}
	w, err := s.store.Workers.GetByID(ctx, p.WorkerID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, invalid("worker_id", "работник не найден")
		}
		return nil, err
	}
	if !w.IsActive {
		return nil, invalid("worker_id", "работник деактивирован")
	}
	if w.ContractorID != sh.ContractorID {
		return nil, invalid("worker_id", "работник другого подрядчика")
	}
	obj, err := s.store.Objects.GetByID(ctx, sh.ObjectID)
	if err != nil {
		return nil, mapRepoErr(err, "объект")
	}

	now := s.now()
	if !schedule.RegistrationAllowed(sh, obj.RegistrationWindowMinutes, now, s.loc) {
		return nil, ErrOutsideWindow
	}

	var point *geo.Point
	if p.Latitude != nil || p.Longitude != nil {
		if p.Latitude == nil || p.Longitude == nil {
			return nil, invalid("latitude", "широта и долгота передаются вместе")
		}
		pt := geo.Point{Lat: *p.Latitude, Lon: *p.Longitude}
		if err := pt.Validate(); err != nil {
			return nil, invalid("latitude", "%v", err)
		}
		point = &pt
	}
	geoValid := false
	if point != nil && obj.HasCentre() {
		fence := geo.Fence{
			Centre:  geo.Point{Lat: *obj.Latitude, Lon: *obj.Longitude},
			RadiusM: float64(obj.GeoRadiusM),
		}
		geoValid = fence.Contains(*point)
	}
	res := &Registration{}
	if !geoValid {
		if !obj.AllowGeoBypass {
			return nil, ErrGeoRejected
		}
		res.Warning = "отметка вне геозоны объекта"
	}

	reg := &model.ShiftRegistration{
		ID:             uuid.New(),
		ShiftID:        sh.ID,
		WorkerID:       w.ID,
		RegisteredByID: p.RegisteredBy,
		Latitude:       p.Latitude,
		Longitude:      p.Longitude,
		GeoValid:       geoValid,
	}
	if err := s.store.Registrations.Create(ctx, reg); err != nil {
		return nil, mapRepoErr(err, "отметка")
	}
	res.ShiftRegistration = reg
	s.logger.Info("Работник отмечен на смене",
		slog.String("shift_id", sh.ID.String()),
		slog.String("worker_id", w.ID.String()),
		slog.Bool("geo_valid", geoValid),
	)
	return res, nil
}

// Extend переносит закрытие активной смены на until.
func (s *ShiftService) Extend(ctx context.Context, id uuid.UUID, until time.Time) (*model.Shift, error) {
	if !until.After(s.now()) {
		return nil, invalid("until", "момент продления уже прошёл")
	}
	if err := s.store.Shifts.Extend(ctx, id, until); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			if _, gerr := s.Get(ctx, id); gerr != nil {
				return nil, gerr
			}
		}
		return nil, mapRepoErr(err, "смена")
	}
	return s.Get(ctx, id)
}

// Close закрывает смену вручную тем же путём, что и планировщик.
func (s *ShiftService) Close(ctx context.Context, id uuid.UUID, actor string) (*model.Shift, error) {
	if err := s.closeShift(ctx, id, actor); err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

// closeShift в одной транзакции фиксирует итоговые отчёты бригад, закрывает
// бригады и смену; уведомления и закрытие тем ставятся в очередь после.
func (s *ShiftService) closeShift(ctx context.Context, id uuid.UUID, actor string) error {
	now := s.now()
	var (
		reports []*model.Report
		closed  []uuid.UUID
	)
	err := s.store.InTx(ctx, func(r *repository.Set) error {
		sh, err := r.Shifts.Lock(ctx, id)
		if err != nil {
			return mapRepoErr(err, "смена")
		}
		if sh.Status != model.ShiftActive {
			return fmt.Errorf("%w: смена не активна (%s)", ErrConflict, sh.Status)
		}
		teams, err := r.Teams.ListByShift(ctx, id)
		if err != nil {
			return err
		}
		for _, t := range teams {
			if t.Status != model.TeamActive {
				continue
			}
			team, err := r.Teams.Lock(ctx, t.ID)
			if err != nil {
				return err
			}
			reps, err := commitTx(ctx, r, team, model.TriggerShiftEnd, "", actor)
			if err != nil {
				return err
			}
			reports = append(reports, reps...)
			if err := r.Teams.Close(ctx, team.ID, now); err != nil {
				return err
			}
			if err := r.Memberships.LeaveAll(ctx, team.ID, now); err != nil {
				return err
			}
			closed = append(closed, team.ID)
		}
		return r.Shifts.Close(ctx, id, now)
	})
	if err != nil {
		return err
	}

	s.reports.published(reports)
	for _, teamID := range closed {
		s.enqueue(ctx, pipeline.Task{Kind: pipeline.KindNotify, TeamID: teamID, Text: MsgShiftClosed})
		s.enqueue(ctx, pipeline.Task{Kind: pipeline.KindCloseTopic, TeamID: teamID})
	}
	s.logger.Info("Смена закрыта",
		slog.String("shift_id", id.String()),
		slog.Int("teams", len(closed)),
		slog.Int("reports", len(reports)),
		slog.String("actor", actor),
	)
	return nil
}

func (s *ShiftService) enqueue(ctx context.Context, t pipeline.Task) {
	if err := s.queue.Enqueue(ctx, t); err != nil {
		s.logger.Warn("Задача не поставлена в очередь",
			slog.String("task", t.String()), slog.String("error", err.Error()))
	}
}

// ActivateDue переводит наступившие смены в active. Повторный запуск
// в ту же минуту ничего не меняет.
func (s *ShiftService) ActivateDue(ctx context.Context) (int, error) {
	shifts, err := s.store.Shifts.ListByStatus(ctx, model.ShiftScheduled)
	if err != nil {
		return 0, err
	}
	now := s.now()
	activated := 0
	for _, sh := range shifts {
		if !schedule.DueForActivation(sh, now, s.loc) {
			continue
		}
		if err := s.store.Shifts.Activate(ctx, sh.ID, now); err != nil {
			if errors.Is(err, repository.ErrConflict) {
				s.logger.Warn("Смена не активирована",
					slog.String("shift_id", sh.ID.String()), slog.String("error", err.Error()))
				continue
			}
			return activated, err
		}
		activated++
		s.logger.Info("Смена активирована", slog.String("shift_id", sh.ID.String()))
	}
	return activated, nil
}

// CloseDue закрывает активные смены с истёкшим сроком.
func (s *ShiftService) CloseDue(ctx context.Context) (int, error) {
	shifts, err := s.store.Shifts.ListByStatus(ctx, model.ShiftActive)
	if err != nil {
		return 0, err
	}
	now := s.now()
	closed := 0
	for _, sh := range shifts {
		if !schedule.DueForClose(sh, now, s.loc) {
			continue
		}
		if err := s.closeShift(ctx, sh.ID, "system"); err != nil {
			if errors.Is(err, ErrConflict) {
				continue
			}
			s.logger.Error("Ошибка закрытия смены",
				slog.String("shift_id", sh.ID.String()), slog.String("error", err.Error()))
			continue
		}
		closed++
	}
	return closed, nil
}

// SendWarnings один раз на смену рассылает предупреждение о скором закрытии
// во все активные бригады.
func (s *ShiftService) SendWarnings(ctx context.Context) (int, error) {
	shifts, err := s.store.Shifts.ListByStatus(ctx, model.ShiftActive)
	if err != nil {
		return 0, err
	}
	now := s.now()
	sent := 0
	for _, sh := range shifts {
		if !schedule.InWarningWindow(sh, now, s.loc) {
			continue
		}
		if err := s.store.Shifts.MarkWarningSent(ctx, sh.ID, now); err != nil {
			if errors.Is(err, repository.ErrConflict) {
				continue
			}
			return sent, err
		}
		teams, err := s.store.Teams.ListByShift(ctx, sh.ID)
		if err != nil {
			return sent, err
		}
		for _, t := range teams {
			if t.Status != model.TeamActive || t.TopicID == nil {
				continue
			}
			s.enqueue(ctx, pipeline.Task{Kind: pipeline.KindNotify, TeamID: t.ID, Text: MsgShiftWarning})
			sent++
		}
	}
	return sent, nil
}

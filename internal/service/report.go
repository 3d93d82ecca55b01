// report.go - фиксация отчётов: хвост медиа бригады и дополнения.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/worklog/internal/domain/commit"
	"github.com/bigkaa/worklog/internal/domain/lifecycle"
	"github.com/bigkaa/worklog/internal/domain/model"
	"github.com/bigkaa/worklog/internal/pipeline"
	"github.com/bigkaa/worklog/internal/repository"
)

var reportsCommitted = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "wl_reports_committed_total",
	Help: "Зафиксированные отчёты по причине и типу.",
}, []string{"trigger", "type"})

// lateBatch - сколько закрытых бригад обрабатывает один проход commit_late_media.
const lateBatch = 100

// ReportService - фиксация и просмотр отчётов.
type ReportService struct {
	store  *Store
	queue  Enqueuer
	now    func() time.Time
	logger *slog.Logger
}

// NewReportService создаёт сервис отчётов.
func NewReportService(store *Store, queue Enqueuer, logger *slog.Logger) *ReportService {
	return &ReportService{
		store:  store,
		queue:  queue,
		now:    time.Now,
		logger: logger.With(slog.String("component", "reports")),
	}
}

// CommitParams - ручная фиксация через API.
type CommitParams struct {
	TeamID     uuid.UUID
	ReportType model.ReportType
	Trigger    model.ReportTrigger
	CreatedBy  string
}

// Commit фиксирует хвост медиа бригады и дополнения к прежним отчётам.
// Пустая фиксация даёт ErrNothingToCommit.
func (s *ReportService) Commit(ctx context.Context, p CommitParams) ([]*model.Report, error) {
	if p.Trigger == "" {
		p.Trigger = model.TriggerManual
	}
	if p.Trigger != model.TriggerManual {
		return nil, invalid("trigger", "через API допустима только ручная фиксация (manual)")
	}
	if _, err := commit.TypeFor(p.Trigger, p.ReportType); err != nil {
		return nil, invalid("report_type", "допустимые значения: intermediate, final")
	}

	var reports []*model.Report
	err := s.store.InTx(ctx, func(r *repository.Set) error {
		team, err := lockTeam(ctx, r, p.TeamID)
		if err != nil {
			return mapRepoErr(err, "бригада")
		}
		if team.Status != model.TeamActive {
			return fmt.Errorf("%w: бригада закрыта", ErrConflict)
		}
		reports, err = commitTx(ctx, r, team, p.Trigger, p.ReportType, p.CreatedBy)
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(reports) == 0 {
		return nil, ErrNothingToCommit
	}
	s.published(reports)
	return reports, nil
}

// lockTeam блокирует смену бригады и саму бригаду. Порядок блокировок
// (смена, затем бригада) общий для всех транзакций фиксации.
func lockTeam(ctx context.Context, r *repository.Set, teamID uuid.UUID) (*model.Team, error) {
	t, err := r.Teams.GetByID(ctx, teamID)
	if err != nil {
		return nil, err
	}
	if _, err := r.Shifts.Lock(ctx, t.ShiftID); err != nil {
		return nil, err
	}
	return r.Teams.Lock(ctx, teamID)
}

// commitTx выполняет фиксацию внутри транзакции вызывающего. Бригада должна
// быть заблокирована вызывающим через lockTeam; повторная блокировка смены
// в той же транзакции сериализует номера отчётов.
func commitTx(ctx context.Context, r *repository.Set, team *model.Team, trigger model.ReportTrigger, requested model.ReportType, createdBy string) ([]*model.Report, error) {
	if _, err := r.Shifts.Lock(ctx, team.ShiftID); err != nil {
		return nil, mapRepoErr(err, "смена")
	}
	open, err := r.Media.ListCommitCandidates(ctx, team.ID)
	if err != nil {
		return nil, err
	}
	late, err := r.Media.ListNeedsSupplement(ctx, team.ID)
	if err != nil {
		return nil, err
	}
	plan := commit.Build(items(open), items(late))
	if plan.Empty() {
		return nil, nil
	}
	members, err := r.Memberships.OpenMembers(ctx, team.ID)
	if err != nil {
		return nil, err
	}

	var reports []*model.Report
	if len(plan.Tail) > 0 {
		typ, err := commit.TypeFor(trigger, requested)
		if err != nil {
			return nil, invalid("report_type", "%v", err)
		}
		var parent *uuid.UUID
		if typ == model.ReportSupplement {
			last, err := r.Reports.LastByTeam(ctx, team.ID)
			switch {
			case errors.Is(err, repository.ErrNotFound):
				typ = model.ReportFinal
			case err != nil:
				return nil, err
			default:
				parent = &last.ID
			}
		}
		rep, err := createReport(ctx, r, team, typ, trigger, parent, plan.Tail, members, createdBy)
		if err != nil {
			return nil, err
		}
		n, err := r.Media.AttachToReport(ctx, rep.ID, commit.IDs(plan.Tail))
		if err != nil {
			return nil, err
		}
		if int(n) != len(plan.Tail) {
			return nil, fmt.Errorf("%w: часть медиа изменилась во время фиксации", ErrConflict)
		}
		reports = append(reports, rep)
	}

	for _, sup := range plan.Supplements {
		parent := sup.ParentID
		rep, err := createReport(ctx, r, team, model.ReportSupplement, trigger, &parent, sup.Items, members, createdBy)
		if err != nil {
			return nil, err
		}
		n, err := r.Media.AttachSupplement(ctx, rep.ID, commit.IDs(sup.Items))
		if err != nil {
			return nil, err
		}
		if int(n) != len(sup.Items) {
			return nil, fmt.Errorf("%w: часть медиа изменилась во время фиксации", ErrConflict)
		}
		reports = append(reports, rep)
	}
	return reports, nil
}

func createReport(ctx context.Context, r *repository.Set, team *model.Team, typ model.ReportType, trigger model.ReportTrigger, parent *uuid.UUID, batch []commit.Item, members []uuid.UUID, createdBy string) (*model.Report, error) {
	number, err := r.Reports.NextNumber(ctx, team.ShiftID)
	if err != nil {
		return nil, err
	}
	first, last := commit.MessageRange(batch)
	if members == nil {
		members = []uuid.UUID{}
	}
	rep := &model.Report{
		ID:              uuid.New(),
		TeamID:          team.ID,
		ShiftID:         team.ShiftID,
		ParentReportID:  parent,
		ReportNumber:    number,
		ReportType:      typ,
		Trigger:         trigger,
		MediaCount:      len(batch),
		MembersSnapshot: members,
		FirstMessageID:  first,
		LastMessageID:   last,
		Status:          model.ReportSubmitted,
		CreatedBy:       createdBy,
	}
	if err := r.Reports.Create(ctx, rep); err != nil {
		return nil, mapRepoErr(err, "отчёт")
	}
	return rep, nil
}

func items(media []*model.Media) []commit.Item {
	out := make([]commit.Item, len(media))
	for i, m := range media {
		out[i] = commit.Item{
			ID:              m.ID,
			MessageID:       m.MessageID,
			Status:          m.Status,
			ReportID:        m.ReportID,
			NeedsSupplement: m.NeedsSupplement,
			CreatedAt:       m.CreatedAt,
		}
	}
	return out
}

// published выполняет действия после фиксации: метрики, лог, разделитель в теме.
func (s *ReportService) published(reports []*model.Report) {
	for _, rep := range reports {
		reportsCommitted.WithLabelValues(string(rep.Trigger), string(rep.ReportType)).Inc()
		s.logger.Info("Отчёт зафиксирован",
			slog.String("report_id", rep.ID.String()),
			slog.String("team_id", rep.TeamID.String()),
			slog.Int("number", rep.ReportNumber),
			slog.String("type", string(rep.ReportType)),
			slog.String("trigger", string(rep.Trigger)),
			slog.Int("media_count", rep.MediaCount),
		)
		s.queue.TryEnqueue(pipeline.Task{Kind: pipeline.KindPostDivider, ReportID: rep.ID})
	}
}

// CommitLate фиксирует медиа, дошедшие до закрытых бригад: хвост становится
// дополнением последнего отчёта бригады. Возвращает число новых отчётов.
func (s *ReportService) CommitLate(ctx context.Context) (int, error) {
	teams, err := s.store.Teams.ListClosedWithOpenMedia(ctx, lateBatch)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, t := range teams {
		var reports []*model.Report
		err := s.store.InTx(ctx, func(r *repository.Set) error {
			team, err := lockTeam(ctx, r, t.ID)
			if err != nil {
				return err
			}
			reports, err = commitTx(ctx, r, team, model.TriggerAuto, "", "system")
			return err
		})
		if err != nil {
			s.logger.Error("Ошибка фиксации поздних медиа",
				slog.String("team_id", t.ID.String()),
				slog.String("error", err.Error()),
			)
			continue
		}
		s.published(reports)
		total += len(reports)
	}
	return total, nil
}

// Get возвращает отчёт.
func (s *ReportService) Get(ctx context.Context, id uuid.UUID) (*model.Report, error) {
	rep, err := s.store.Reports.GetByID(ctx, id)
	return rep, mapRepoErr(err, "отчёт")
}

// List возвращает отчёты бригады или смены.
func (s *ReportService) List(ctx context.Context, f repository.ReportFilter, p repository.Page) ([]*model.Report, error) {
	if f.TeamID == nil && f.ShiftID == nil {
		return nil, invalid("team_id", "нужен team_id или shift_id")
	}
	return s.store.Reports.List(ctx, f, p)
}

// Complete завершает обработку отчёта.
func (s *ReportService) Complete(ctx context.Context, id uuid.UUID) (*model.Report, error) {
	rep, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := lifecycle.Report(rep.Status, model.ReportCompleted); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConflict, err)
	}
	err = s.store.Reports.SetStatus(ctx, id,
		[]model.ReportStatus{model.ReportSubmitted, model.ReportQuestionsPending},
		model.ReportCompleted, s.now())
	if err != nil {
		return nil, mapRepoErr(err, "отчёт")
	}
	return s.Get(ctx, id)
}

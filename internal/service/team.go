// team.go - бригады и изменения состава.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/bigkaa/worklog/internal/domain/model"
	"github.com/bigkaa/worklog/internal/pipeline"
	"github.com/bigkaa/worklog/internal/repository"
)

// TeamService - бригады.
type TeamService struct {
	store   *Store
	reports *ReportService
	queue   Enqueuer
	now     func() time.Time
	logger  *slog.Logger
}

// NewTeamService создаёт сервис.
func NewTeamService(store *Store, reports *ReportService, queue Enqueuer, logger *slog.Logger) *TeamService {
	return &TeamService{
		store:   store,
		reports: reports,
		queue:   queue,
		now:     time.Now,
		logger:  logger.With(slog.String("component", "teams")),
	}
}

// CreateTeamParams - новая бригада.
type CreateTeamParams struct {
	ShiftID     uuid.UUID
	MemberIDs   []uuid.UUID
	BrigadierID uuid.UUID
}

// Create создаёт бригаду, открывает членства и ставит задачу создания темы.
func (s *TeamService) Create(ctx context.Context, p CreateTeamParams) (*model.Team, error) {
	if p.BrigadierID == uuid.Nil {
		return nil, invalid("brigadier_id", "обязательное поле")
	}
	members := uniqueMembers(p.BrigadierID, p.MemberIDs)

	var team *model.Team
	err := s.store.InTx(ctx, func(r *repository.Set) error {
		sh, err := r.Shifts.Lock(ctx, p.ShiftID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return invalid("shift_id", "смена не найдена")
			}
			return err
		}
		if sh.Status == model.ShiftClosed {
			return fmt.Errorf("%w: смена закрыта", ErrConflict)
		}
		var brigadier *model.Worker
		for _, id := range members {
			w, err := checkMember(ctx, r, sh, id)
			if err != nil {
				return err
			}
			if id == p.BrigadierID {
				brigadier = w
			}
		}

		var previous *uuid.UUID
		prev, err := r.Teams.LatestClosedByBrigadier(ctx, p.BrigadierID, sh.ObjectID, sh.ContractorID)
		switch {
		case err == nil:
			previous = &prev.ID
		case !errors.Is(err, repository.ErrNotFound):
			return err
		}

		team = &model.Team{
			ID:             uuid.New(),
			ObjectID:       sh.ObjectID,
			ContractorID:   sh.ContractorID,
			ShiftID:        sh.ID,
			TopicName:      topicName(brigadier, sh),
			BrigadierID:    p.BrigadierID,
			Status:         model.TeamActive,
			IsSolo:         len(members) == 1,
			PreviousTeamID: previous,
		}
		if err := r.Teams.Create(ctx, team); err != nil {
			return err
		}
		now := s.now()
		for _, id := range members {
			m := &model.TeamMembership{ID: uuid.New(), TeamID: team.ID, WorkerID: id, JoinedAt: now}
			if err := r.Memberships.Join(ctx, m); err != nil {
				return mapRepoErr(err, "членство")
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := s.queue.Enqueue(ctx, pipeline.Task{Kind: pipeline.KindCreateTopic, TeamID: team.ID}); err != nil {
		s.logger.Warn("Создание темы не поставлено в очередь",
			slog.String("team_id", team.ID.String()), slog.String("error", err.Error()))
	}
	s.logger.Info("Бригада создана",
		slog.String("team_id", team.ID.String()),
		slog.String("shift_id", team.ShiftID.String()),
		slog.Int("members", len(members)),
	)
	return team, nil
}

// uniqueMembers возвращает состав без повторов; бригадир всегда первый.
func uniqueMembers(brigadier uuid.UUID, ids []uuid.UUID) []uuid.UUID {
	seen := map[uuid.UUID]bool{brigadier: true}
	out := []uuid.UUID{brigadier}
	for _, id := range ids {
		if id == uuid.Nil || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// checkMember проверяет, что работник может войти в бригаду смены:
// существует, активен, того же подрядчика и не состоит в другой активной бригаде.
func checkMember(ctx context.Context, r *repository.Set, sh *model.Shift, workerID uuid.UUID) (*model.Worker, error) {
	w, err := r.Workers.GetByID(ctx, workerID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, invalid("member_ids", "работник %s не найден", workerID)
		}
		return nil, err
	}
	if !w.IsActive {
		return nil, invalid("member_ids", "работник %s деактивирован", workerID)
	}
	if w.ContractorID != sh.ContractorID {
		return nil, invalid("member_ids", "работник %s другого подрядчика", workerID)
	}
	_, err = r.Memberships.ActiveTeamInShift(ctx, workerID, sh.ID)
	switch {
	case err == nil:
		return nil, fmt.Errorf("%w: работник %s уже в другой бригаде смены", ErrConflict, workerID)
	case !errors.Is(err, repository.ErrNotFound):
		return nil, err
	}
	return w, nil
}

// transitionReport - отчёт, закрывший серию перед изменением состава.
func transitionReport(reports []*model.Report) *uuid.UUID {
	for _, rep := range reports {
		if rep.Trigger == model.TriggerMemberChange && rep.ReportType != model.ReportSupplement {
			id := rep.ID
			return &id
		}
	}
	return nil
}

// AddMember фиксирует текущую серию и добавляет работника в бригаду.
func (s *TeamService) AddMember(ctx context.Context, teamID, workerID uuid.UUID, actor string) (*model.TeamMembership, error) {
	var (
		membership *model.TeamMembership
		reports    []*model.Report
	)
	err := s.store.InTx(ctx, func(r *repository.Set) error {
		team, err := lockTeam(ctx, r, teamID)
		if err != nil {
			return mapRepoErr(err, "бригада")
		}
		if team.Status != model.TeamActive {
			return fmt.Errorf("%w: бригада закрыта", ErrConflict)
		}
		sh, err := r.Shifts.GetByID(ctx, team.ShiftID)
		if err != nil {
			return err
		}
		if _, err := checkMember(ctx, r, sh, workerID); err != nil {
			return err
		}
		reports, err = commitTx(ctx, r, team, model.TriggerMemberChange, "", actor)
		if err != nil {
			return err
		}
		membership = &model.TeamMembership{ID: uuid.New(), TeamID: team.ID, WorkerID: workerID, JoinedAt: s.now()}
		if err := r.Memberships.Join(ctx, membership); err != nil {
			return mapRepoErr(err, "членство")
		}
		if id := transitionReport(reports); id != nil {
			if err := r.Memberships.SetTriggeredReport(ctx, membership.ID, *id); err != nil {
				return err
			}
			membership.TriggeredReportID = id
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.reports.published(reports)
	s.logger.Info("Работник добавлен в бригаду",
		slog.String("team_id", teamID.String()),
		slog.String("worker_id", workerID.String()),
	)
	return membership, nil
}

// RemoveMember фиксирует текущую серию и выводит работника из бригады.
func (s *TeamService) RemoveMember(ctx context.Context, teamID, workerID uuid.UUID, actor string) error {
	var reports []*model.Report
	err := s.store.InTx(ctx, func(r *repository.Set) error {
		team, err := lockTeam(ctx, r, teamID)
		if err != nil {
			return mapRepoErr(err, "бригада")
		}
		if team.Status != model.TeamActive {
			return fmt.Errorf("%w: бригада закрыта", ErrConflict)
		}
		member, err := r.Memberships.IsOpenMember(ctx, teamID, workerID)
		if err != nil {
			return err
		}
		if !member {
			return fmt.Errorf("%w: работник не состоит в бригаде", ErrNotFound)
		}
		reports, err = commitTx(ctx, r, team, model.TriggerMemberChange, "", actor)
		if err != nil {
			return err
		}
		return mapRepoErr(r.Memberships.Leave(ctx, teamID, workerID, s.now(), transitionReport(reports)), "членство")
	})
	if err != nil {
		return err
	}
	s.reports.published(reports)
	s.logger.Info("Работник выведен из бригады",
		slog.String("team_id", teamID.String()),
		slog.String("worker_id", workerID.String()),
	)
	return nil
}

// Get возвращает бригаду.
func (s *TeamService) Get(ctx context.Context, id uuid.UUID) (*model.Team, error) {
	t, err := s.store.Teams.GetByID(ctx, id)
	return t, mapRepoErr(err, "бригада")
}

// ListByShift возвращает бригады смены.
func (s *TeamService) ListByShift(ctx context.Context, shiftID uuid.UUID) ([]*model.Team, error) {
	return s.store.Teams.ListByShift(ctx, shiftID)
}

// Members возвращает историю состава бригады.
func (s *TeamService) Members(ctx context.Context, teamID uuid.UUID) ([]*model.TeamMembership, error) {
	if _, err := s.Get(ctx, teamID); err != nil {
		return nil, err
	}
	return s.store.Memberships.ListByTeam(ctx, teamID)
}

// IsBrigadier сообщает, является ли работник бригадиром бригады.
func (s *TeamService) IsBrigadier(ctx context.Context, teamID, workerID uuid.UUID) (bool, error) {
	t, err := s.Get(ctx, teamID)
	if err != nil {
		return false, err
	}
	return t.BrigadierID == workerID, nil
}

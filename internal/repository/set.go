package repository

// Set - все репозитории поверх одного DBTX: пула или транзакции.
type Set struct {
	Workers       WorkerRepository
	Invites       InviteRepository
	Supergroups   SupergroupRepository
	Objects       ObjectRepository
	Shifts        ShiftRepository
	Registrations RegistrationRepository
	Teams         TeamRepository
	Memberships   MembershipRepository
	Media         MediaRepository
	Reports       ReportRepository
	Questions     QuestionRepository
	Uploads       UploadRepository
}

// NewSet создаёт набор репозиториев.
func NewSet(db DBTX) *Set {
	return &Set{
		Workers:       NewWorkerRepository(db),
		Invites:       NewInviteRepository(db),
		Supergroups:   NewSupergroupRepository(db),
		Objects:       NewObjectRepository(db),
		Shifts:        NewShiftRepository(db),
		Registrations: NewRegistrationRepository(db),
		Teams:         NewTeamRepository(db),
		Memberships:   NewMembershipRepository(db),
		Media:         NewMediaRepository(db),
		Reports:       NewReportRepository(db),
		Questions:     NewQuestionRepository(db),
		Uploads:       NewUploadRepository(db),
	}
}

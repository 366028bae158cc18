package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/go-playground/validator/v10"
	"github.com/gosimple/slug"
	"github.com/smallbiznis/tally/internal/billingerror"
	"github.com/smallbiznis/tally/internal/clock"
	"github.com/smallbiznis/tally/internal/orgcontext"
	"github.com/smallbiznis/tally/internal/project/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  domain.Repository
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	repo     domain.Repository
	validate *validator.Validate
}

func New(p Params) domain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("project.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		repo:     p.Repo,
		validate: validator.New(),
	}
}

func (s *Service) CreateClient(ctx context.Context, req domain.CreateClientRequest) (*domain.Client, error) {
	orgID, err := orgcontext.Require(ctx)
	if err != nil {
		return nil, err
	}
	req.Name = strings.TrimSpace(req.Name)
	if err := s.validate.Struct(req); err != nil {
		return nil, err
	}

	client := &domain.Client{
		ID:        s.genID.Generate(),
		OrgID:     orgID,
		Name:      req.Name,
		Email:     strings.TrimSpace(req.Email),
		CreatedAt: s.clock.Now(),
	}
	if err := s.repo.InsertClient(ctx, s.db, client); err != nil {
		return nil, err
	}
	return client, nil
}

func (s *Service) CreateProject(ctx context.Context, req domain.CreateProjectRequest) (*domain.Project, error) {
	orgID, err := orgcontext.Require(ctx)
	if err != nil {
		return nil, err
	}
	req.Name = strings.TrimSpace(req.Name)
	if err := s.validate.Struct(req); err != nil {
		return nil, err
	}

	client, err := s.repo.FindClient(ctx, s.db, orgID, req.ClientID)
	if err != nil {
		return nil, err
	}
	if client == nil {
		return nil, billingerror.NotFound("project.create", "client not found")
	}

	project := &domain.Project{
		ID:        s.genID.Generate(),
		OrgID:     orgID,
		ClientID:  client.ID,
		Name:      req.Name,
		CreatedAt: s.clock.Now(),
	}
	project.Slug = slug.Make(req.Name) + "-" + project.ID.Base36()
	if err := s.repo.InsertProject(ctx, s.db, project); err != nil {
		return nil, err
	}

	s.log.Info("project created",
		zap.String("org_id", orgID.String()),
		zap.String("project_id", project.ID.String()),
	)
	return project, nil
}

func (s *Service) GetProject(ctx context.Context, projectID snowflake.ID) (*domain.Project, error) {
	orgID, err := orgcontext.Require(ctx)
	if err != nil {
		return nil, err
	}
	project, err := s.repo.FindProject(ctx, s.db, orgID, projectID)
	if err != nil {
		return nil, err
	}
	if project == nil {
		return nil, billingerror.NotFound("project.get", "project not found").WithProject(projectID)
	}
	return project, nil
}

func (s *Service) LogTime(ctx context.Context, req domain.TimeEntryRequest) (*domain.TimeEntry, error) {
	project, err := s.GetProject(ctx, req.ProjectID)
	if err != nil {
		return nil, err
	}
	if !req.Hours.IsPositive() {
		return nil, domain.ErrInvalidHours
	}
	if req.CostRate.IsNegative() {
		return nil, domain.ErrInvalidAmount
	}

	now := s.clock.Now()
	workDate := req.WorkDate
	if workDate.IsZero() {
		workDate = now
	}
	entry := &domain.TimeEntry{
		ID:          s.genID.Generate(),
		OrgID:       project.OrgID,
		ProjectID:   project.ID,
		Description: strings.TrimSpace(req.Description),
		Hours:       req.Hours.Round(2),
		CostRate:    req.CostRate,
		WorkDate:    workDate.UTC(),
		Billable:    boolOr(req.Billable, true),
		CreatedAt:   now,
	}
	if err := s.repo.InsertTimeEntry(ctx, s.db, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

func (s *Service) ApproveTimeEntry(ctx context.Context, id snowflake.ID) error {
	orgID, err := orgcontext.Require(ctx)
	if err != nil {
		return err
	}
	ok, err := s.repo.ApproveTimeEntry(ctx, s.db, orgID, id)
	if err != nil {
		return err
	}
	if !ok {
		return billingerror.NotFound("time_entry.approve", "time entry not found")
	}
	return nil
}

func (s *Service) RecordExpense(ctx context.Context, req domain.ExpenseRequest) (*domain.Expense, error) {
	project, err := s.GetProject(ctx, req.ProjectID)
	if err != nil {
		return nil, err
	}
	if !req.Amount.IsPositive() {
		return nil, domain.ErrInvalidAmount
	}

	now := s.clock.Now()
	incurredAt := req.IncurredAt
	if incurredAt.IsZero() {
		incurredAt = now
	}
	expense := &domain.Expense{
		ID:          s.genID.Generate(),
		OrgID:       project.OrgID,
		ProjectID:   project.ID,
		Description: strings.TrimSpace(req.Description),
		Amount:      req.Amount.Round(2),
		IncurredAt:  incurredAt.UTC(),
		Billable:    boolOr(req.Billable, true),
		CreatedAt:   now,
	}
	if err := s.repo.InsertExpense(ctx, s.db, expense); err != nil {
		return nil, err
	}
	return expense, nil
}

func (s *Service) ApproveExpense(ctx context.Context, id snowflake.ID) error {
	orgID, err := orgcontext.Require(ctx)
	if err != nil {
		return err
	}
	ok, err := s.repo.ApproveExpense(ctx, s.db, orgID, id)
	if err != nil {
		return err
	}
	if !ok {
		return billingerror.NotFound("expense.approve", "expense not found")
	}
	return nil
}

func (s *Service) CreateMilestone(ctx context.Context, req domain.MilestoneRequest) (*domain.Milestone, error) {
	project, err := s.GetProject(ctx, req.ProjectID)
	if err != nil {
		return nil, err
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return nil, domain.ErrInvalidName
	}

	milestone := &domain.Milestone{
		ID:        s.genID.Generate(),
		OrgID:     project.OrgID,
		ProjectID: project.ID,
		Name:      req.Name,
		CreatedAt: s.clock.Now(),
	}
	if err := s.repo.InsertMilestone(ctx, s.db, milestone); err != nil {
		return nil, err
	}
	return milestone, nil
}

// CompleteMilestone is idempotent for milestones that are already complete.
func (s *Service) CompleteMilestone(ctx context.Context, id snowflake.ID) error {
	orgID, err := orgcontext.Require(ctx)
	if err != nil {
		return err
	}
	ok, err := s.repo.CompleteMilestone(ctx, s.db, orgID, id, s.clock.Now())
	if err != nil || ok {
		return err
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&domain.Milestone{}).
		Where("org_id = ? AND id = ?", orgID, id).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return billingerror.NotFound("milestone.complete", "milestone not found")
	}
	return nil
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}


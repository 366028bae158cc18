package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tally/internal/billingerror"
	"github.com/smallbiznis/tally/internal/billingmodel/domain"
	"github.com/smallbiznis/tally/internal/clock"
	"github.com/smallbiznis/tally/internal/orgcontext"
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
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  domain.Repository
}

func New(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("billingmodel.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

// CreateContract replaces the project's active contract with a new one.
func (s *Service) CreateContract(ctx context.Context, req domain.CreateContractRequest) (*domain.Contract, error) {
	orgID, err := orgcontext.Require(ctx)
	if err != nil {
		return nil, err
	}
	if req.ProjectID == 0 {
		return nil, billingerror.Configuration("contract.create", "project_id is required")
	}

	cfg := req.Configuration.Normalized()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	payload, err := domain.EncodeModel(req.Model)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	startsAt := req.StartsAt
	if startsAt.IsZero() {
		startsAt = now
	}
	contract := &domain.Contract{
		ID:           s.genID.Generate(),
		OrgID:        orgID,
		ProjectID:    req.ProjectID,
		ModelType:    req.Model.Type(),
		Model:        payload,
		AutoInvoice:  cfg.AutoInvoice,
		BillingCycle: cfg.BillingCycle,
		PaymentTerms: cfg.PaymentTerms,
		TaxRate:      cfg.TaxRate,
		DiscountRate: cfg.DiscountRate,
		Currency:     cfg.Currency,
		StartsAt:     startsAt.UTC(),
		EndsAt:       req.EndsAt,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.DeactivateProject(ctx, tx, orgID, req.ProjectID, now); err != nil {
			return err
		}
		return s.repo.Insert(ctx, tx, contract)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("billing contract created",
		zap.String("org_id", orgID.String()),
		zap.String("project_id", req.ProjectID.String()),
		zap.String("model_type", string(contract.ModelType)),
	)
	return contract, nil
}

func (s *Service) ActiveContract(ctx context.Context, projectID snowflake.ID) (*domain.Contract, error) {
	orgID, err := orgcontext.Require(ctx)
	if err != nil {
		return nil, err
	}
	contract, err := s.repo.FindActiveByProject(ctx, s.db, orgID, projectID)
	if err != nil {
		return nil, err
	}
	if contract == nil {
		return nil, billingerror.NotFound("contract.active", "project has no active billing contract").WithProject(projectID)
	}
	return contract, nil
}

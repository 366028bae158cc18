package service

import (
	"context"
	"time"

	"github.com/smallbiznis/tally/internal/billingcycle/domain"
	billingmodeldomain "github.com/smallbiznis/tally/internal/billingmodel/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	Log  *zap.Logger
	Repo domain.Repository
}

type Service struct {
	log  *zap.Logger
	repo domain.Repository
}

func NewService(p ServiceParam) domain.Service {
	return &Service{
		log:  p.Log.Named("billingcycle.service"),
		repo: p.Repo,
	}
}

// DuePeriods resolves the last billed period of a contract component and returns what is due at now.
func (s *Service) DuePeriods(ctx context.Context, db *gorm.DB, contract *billingmodeldomain.Contract, component billingmodeldomain.Type, now time.Time) ([]domain.Period, error) {
	last, err := s.repo.LastBilledPeriod(ctx, db, contract.OrgID, contract.ID, component)
	if err != nil {
		return nil, err
	}
	periods := DuePeriods(domain.ScheduleOf(contract), last, now)
	if len(periods) > 0 {
		s.log.Debug("billing periods due",
			zap.String("contract_id", contract.ID.String()),
			zap.String("component", string(component)),
			zap.Int("count", len(periods)),
		)
	}
	return periods, nil
}

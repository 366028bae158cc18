package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Contract binds a project to a billing model and its terms.
type Contract struct {
	ID           snowflake.ID    `gorm:"primaryKey"`
	OrgID        snowflake.ID    `gorm:"not null;index"`
	ProjectID    snowflake.ID    `gorm:"not null;index"`
	ModelType    Type            `gorm:"type:text;not null"`
	Model        datatypes.JSON  `gorm:"type:jsonb;not null"`
	AutoInvoice  bool            `gorm:"not null;default:false"`
	BillingCycle BillingCycle    `gorm:"type:text;not null"`
	PaymentTerms int             `gorm:"not null;default:0"`
	TaxRate      decimal.Decimal `gorm:"type:numeric(7,4);not null;default:0"`
	DiscountRate decimal.Decimal `gorm:"type:numeric(7,4);not null;default:0"`
	Currency     string          `gorm:"type:text;not null"`
	StartsAt     time.Time       `gorm:"not null"`
	EndsAt       *time.Time
	Active       bool      `gorm:"not null;default:true;index"`
	CreatedAt    time.Time `gorm:"not null"`
	UpdatedAt    time.Time `gorm:"not null"`
}

func (Contract) TableName() string { return "billing_contracts" }

func (c *Contract) Configuration() Configuration {
	return Configuration{
		AutoInvoice:  c.AutoInvoice,
		BillingCycle: c.BillingCycle,
		PaymentTerms: c.PaymentTerms,
		TaxRate:      c.TaxRate,
		DiscountRate: c.DiscountRate,
		Currency:     c.Currency,
	}
}

func (c *Contract) BillingModel() (Model, error) {
	return DecodeModel(c.Model)
}

// HasRecurringComponent reports whether the contract bills RETAINER or SUBSCRIPTION periods.
func (c *Contract) HasRecurringComponent() bool {
	m, err := c.BillingModel()
	if err != nil {
		return false
	}
	for _, component := range Components(m) {
		switch component.Type() {
		case TypeRetainer, TypeSubscription:
			return true
		}
	}
	return false
}

type CreateContractRequest struct {
	ProjectID     snowflake.ID
	Model         Model
	Configuration Configuration
	StartsAt      time.Time
	EndsAt        *time.Time
}

type Service interface {
	CreateContract(ctx context.Context, req CreateContractRequest) (*Contract, error)
	ActiveContract(ctx context.Context, projectID snowflake.ID) (*Contract, error)
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, contract *Contract) error
	FindActiveByProject(ctx context.Context, db *gorm.DB, orgID, projectID snowflake.ID) (*Contract, error)
	DeactivateProject(ctx context.Context, db *gorm.DB, orgID, projectID snowflake.ID, at time.Time) error
	// ListAutoInvoice pages active auto-invoicing contracts across all orgs in id order.
	ListAutoInvoice(ctx context.Context, db *gorm.DB, afterID snowflake.ID, limit int) ([]Contract, error)
}

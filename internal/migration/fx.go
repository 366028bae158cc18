package migration

import (
	"strings"

	auditdomain "github.com/smallbiznis/tally/internal/audit/domain"
	billingmodeldomain "github.com/smallbiznis/tally/internal/billingmodel/domain"
	"github.com/smallbiznis/tally/internal/config"
	invoicedomain "github.com/smallbiznis/tally/internal/invoice/domain"
	paymentdomain "github.com/smallbiznis/tally/internal/payment/domain"
	projectdomain "github.com/smallbiznis/tally/internal/project/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Module migrates the schema before the app starts serving.
var Module = fx.Module("migrations",
	fx.Invoke(Apply),
)

// Models lists every table the billing core persists.
func Models() []any {
	return []any{
		&projectdomain.Client{},
		&projectdomain.Project{},
		&projectdomain.TimeEntry{},
		&projectdomain.Expense{},
		&projectdomain.Milestone{},
		&billingmodeldomain.Contract{},
		&invoicedomain.InvoiceSequence{},
		&invoicedomain.Invoice{},
		&invoicedomain.InvoiceItem{},
		&paymentdomain.Payment{},
		&paymentdomain.Refund{},
		&auditdomain.AuditLog{},
	}
}

// Apply runs the versioned SQL migrations on postgres. Other dialects are
// local setups and get gorm's AutoMigrate instead.
func Apply(cfg config.Config, conn *gorm.DB, log *zap.Logger) error {
	log = log.Named("migration")
	switch strings.ToLower(strings.TrimSpace(cfg.DBType)) {
	case "postgres", "postgresql":
		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		if err := RunMigrations(sqlDB); err != nil {
			return err
		}
	default:
		if err := conn.AutoMigrate(Models()...); err != nil {
			return err
		}
	}
	log.Info("schema up to date", zap.String("db_type", cfg.DBType))
	return nil
}

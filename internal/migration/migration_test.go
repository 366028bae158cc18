package migration

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/smallbiznis/tally/internal/config"
	"github.com/smallbiznis/tally/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	entries, err := fs.ReadDir(embeddedMigrations, migrationsDir)
	require.NoError(t, err)

	ups := map[string]bool{}
	downs := map[string]bool{}
	for _, entry := range entries {
		name := entry.Name()
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			ups[strings.TrimSuffix(name, ".up.sql")] = true
		case strings.HasSuffix(name, ".down.sql"):
			downs[strings.TrimSuffix(name, ".down.sql")] = true
		}
	}
	require.NotEmpty(t, ups)
	assert.Equal(t, ups, downs)
}

func TestSchemaCoversBillingTables(t *testing.T) {
	var schema strings.Builder
	require.NoError(t, fs.WalkDir(embeddedMigrations, migrationsDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(path, ".up.sql") {
			return err
		}
		raw, err := embeddedMigrations.ReadFile(path)
		schema.Write(raw)
		return err
	}))

	for _, table := range []string{
		"clients", "projects", "time_entries", "expenses", "milestones", "billing_contracts",
		"invoice_sequences", "invoices", "invoice_items", "payments", "refunds", "audit_logs",
	} {
		assert.Contains(t, schema.String(), "CREATE TABLE IF NOT EXISTS "+table+" (", table)
	}
}

func TestNilHandleRejected(t *testing.T) {
	assert.Error(t, RunMigrations(nil))
	assert.Error(t, Rollback(nil, 0))
}

func TestApplyAutoMigratesNonPostgres(t *testing.T) {
	conn := testutil.OpenDB(t)
	cfg := config.Config{DBType: "sqlite"}

	require.NoError(t, Apply(cfg, conn, zap.NewNop()))
	for _, table := range []string{"invoices", "payments", "refunds", "billing_contracts", "audit_logs"} {
		assert.True(t, conn.Migrator().HasTable(table), table)
	}
}

package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/tally/internal/audit/domain"
	"github.com/smallbiznis/tally/internal/audit/repository"
	"github.com/smallbiznis/tally/internal/clock"
	obscontext "github.com/smallbiznis/tally/internal/observability/context"
	"github.com/smallbiznis/tally/internal/orgcontext"
	"github.com/smallbiznis/tally/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) (auditdomain.Service, *gorm.DB) {
	t.Helper()
	db := testutil.OpenDB(t, &auditdomain.AuditLog{})

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	svc := NewService(Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clock.NewFakeClock(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)),
		Repo:  repository.Provide(),
	})
	return svc, db
}

func TestAuditLogMasksSecretsAndRecordsActor(t *testing.T) {
	svc, db := newTestService(t)
	ctx := obscontext.WithActor(context.Background(), "user", "u-7")
	ctx = obscontext.WithRequestID(ctx, "req-1")

	err := svc.AuditLog(ctx, nil, 42, "payment.recorded", "invoice", "991", map[string]any{
		"source_token": "pm_card_4242424242",
		"amount":       "10.00",
	})
	require.NoError(t, err)

	var entry auditdomain.AuditLog
	require.NoError(t, db.First(&entry).Error)
	assert.Equal(t, snowflake.ID(42), entry.OrgID)
	assert.Equal(t, "user", entry.ActorType)
	require.NotNil(t, entry.ActorID)
	assert.Equal(t, "u-7", *entry.ActorID)
	assert.Equal(t, "pm_card_****4242", entry.Metadata["source_token"])
	assert.Equal(t, "10.00", entry.Metadata["amount"])
	assert.Equal(t, "req-1", entry.Metadata["request_id"])
}

func TestAuditLogRequiresAction(t *testing.T) {
	svc, _ := newTestService(t)
	err := svc.AuditLog(context.Background(), nil, 1, " ", "invoice", "1", nil)
	assert.ErrorIs(t, err, auditdomain.ErrInvalidAction)
}

func TestListPaginates(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := orgcontext.WithOrgID(context.Background(), 5)
	for i := 0; i < 3; i++ {
		require.NoError(t, svc.AuditLog(ctx, nil, 0, "invoice.sent", "invoice", "1", nil))
	}

	first, err := svc.List(ctx, auditdomain.ListAuditLogRequest{})
	require.NoError(t, err)
	assert.Len(t, first.AuditLogs, 3)
	assert.False(t, first.HasMore)

	req := auditdomain.ListAuditLogRequest{}
	req.PageSize = 2
	page, err := svc.List(ctx, req)
	require.NoError(t, err)
	require.Len(t, page.AuditLogs, 2)
	require.True(t, page.HasMore)

	req.PageToken = page.NextPageToken
	rest, err := svc.List(ctx, req)
	require.NoError(t, err)
	assert.Len(t, rest.AuditLogs, 1)
	assert.Less(t, int64(rest.AuditLogs[0].ID), int64(page.AuditLogs[1].ID))
}

func TestListFiltersByTargetAndWindow(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := orgcontext.WithOrgID(context.Background(), 5)
	require.NoError(t, svc.AuditLog(ctx, nil, 0, "invoice.sent", "invoice", "1", nil))
	require.NoError(t, svc.AuditLog(ctx, nil, 0, "invoice.paid", "invoice", "2", nil))
	require.NoError(t, svc.AuditLog(ctx, nil, 0, "invoice.sent", "invoice", "2", nil))

	history, err := svc.List(ctx, auditdomain.ListAuditLogRequest{TargetType: "invoice", TargetID: "2"})
	require.NoError(t, err)
	require.Len(t, history.AuditLogs, 2)
	assert.Equal(t, "invoice.sent", history.AuditLogs[0].Action)

	loggedAt := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	inWindow, err := svc.List(ctx, auditdomain.ListAuditLogRequest{Since: loggedAt, Until: loggedAt.Add(time.Hour)})
	require.NoError(t, err)
	assert.Len(t, inWindow.AuditLogs, 3)

	later, err := svc.List(ctx, auditdomain.ListAuditLogRequest{Since: loggedAt.Add(time.Second)})
	require.NoError(t, err)
	assert.Empty(t, later.AuditLogs)

	_, err = svc.List(ctx, auditdomain.ListAuditLogRequest{Since: loggedAt, Until: loggedAt})
	assert.ErrorIs(t, err, auditdomain.ErrInvalidTimeRange)
}

// halfWrittenRepo stores the entry and then reports a failure, leaving a row
// the caller must not commit.
type halfWrittenRepo struct {
	auditdomain.Repository
}

func (r halfWrittenRepo) Insert(ctx context.Context, db *gorm.DB, entry *auditdomain.AuditLog) error {
	if err := r.Repository.Insert(ctx, db, entry); err != nil {
		return err
	}
	return errors.New("audit store rejected entry")
}

func TestFailedAuditLeavesTransactionUsable(t *testing.T) {
	db := testutil.OpenDB(t, &auditdomain.AuditLog{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	loggedAt := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	svc := NewService(Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clock.NewFakeClock(loggedAt),
		Repo:  halfWrittenRepo{Repository: repository.Provide()},
	})

	kept := auditdomain.AuditLog{
		ID: node.Generate(), OrgID: 5, ActorType: auditdomain.ActorTypeSystem,
		Action: "invoice.created", TargetType: "invoice", TargetID: "1", CreatedAt: loggedAt,
	}
	err = db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&kept).Error; err != nil {
			return err
		}
		assert.Error(t, svc.AuditLog(context.Background(), tx, 5, "invoice.sent", "invoice", "1", nil))
		return tx.Model(&auditdomain.AuditLog{}).Where("id = ?", kept.ID).Update("target_id", "2").Error
	})
	require.NoError(t, err)

	var logs []auditdomain.AuditLog
	require.NoError(t, db.Find(&logs).Error)
	require.Len(t, logs, 1)
	assert.Equal(t, kept.ID, logs[0].ID)
	assert.Equal(t, "2", logs[0].TargetID)
}

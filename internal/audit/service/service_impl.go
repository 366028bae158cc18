package service

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/tally/internal/audit/domain"
	"github.com/smallbiznis/tally/internal/audit/masking"
	"github.com/smallbiznis/tally/internal/clock"
	obscontext "github.com/smallbiznis/tally/internal/observability/context"
	"github.com/smallbiznis/tally/internal/orgcontext"
	"github.com/smallbiznis/tally/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  auditdomain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  auditdomain.Repository
}

func NewService(p Params) auditdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("audit.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) AuditLog(ctx context.Context, db *gorm.DB, orgID snowflake.ID, action, targetType, targetID string, metadata map[string]any) error {
	action = strings.TrimSpace(action)
	if action == "" {
		return auditdomain.ErrInvalidAction
	}
	targetType = strings.TrimSpace(targetType)
	if targetType == "" {
		targetType = "unknown"
	}
	if orgID == 0 {
		orgID, _ = orgcontext.OrgIDFromContext(ctx)
	}
	if db == nil {
		db = s.db
	}

	payload := masking.Metadata(metadata)
	if requestID := obscontext.RequestIDFromContext(ctx); requestID != "" {
		payload["request_id"] = requestID
	}

	actorType, actorID := obscontext.ActorFromContext(ctx)
	if actorType == "" {
		actorType = auditdomain.ActorTypeSystem
	}

	entry := auditdomain.AuditLog{
		ID:         s.genID.Generate(),
		OrgID:      orgID,
		ActorType:  actorType,
		Action:     action,
		TargetType: targetType,
		TargetID:   strings.TrimSpace(targetID),
		Metadata:   datatypes.JSONMap(payload),
		CreatedAt:  s.clock.Now(),
	}
	if actorID != "" {
		entry.ActorID = &actorID
	}

	if err := s.insert(ctx, db, &entry); err != nil {
		s.log.Warn("failed to write audit log", zap.String("action", action), zap.Error(err))
		return err
	}
	return nil
}

const auditSavepoint = "audit_log"

// insert writes the entry. Inside a caller's transaction the write runs under
// a savepoint, so a failed insert leaves the transaction usable.
func (s *Service) insert(ctx context.Context, db *gorm.DB, entry *auditdomain.AuditLog) error {
	if _, ok := db.Statement.ConnPool.(gorm.TxCommitter); !ok {
		return s.repo.Insert(ctx, db, entry)
	}
	if err := db.WithContext(ctx).SavePoint(auditSavepoint).Error; err != nil {
		return err
	}
	if err := s.repo.Insert(ctx, db, entry); err != nil {
		if rbErr := db.WithContext(ctx).RollbackTo(auditSavepoint).Error; rbErr != nil {
			return errors.Join(err, rbErr)
		}
		return err
	}
	return db.WithContext(ctx).Exec("RELEASE SAVEPOINT " + auditSavepoint).Error
}

func (s *Service) List(ctx context.Context, req auditdomain.ListAuditLogRequest) (auditdomain.ListAuditLogResponse, error) {
	orgID, err := orgcontext.Require(ctx)
	if err != nil {
		return auditdomain.ListAuditLogResponse{}, err
	}

	if !req.Since.IsZero() && !req.Until.IsZero() && !req.Until.After(req.Since) {
		return auditdomain.ListAuditLogResponse{}, auditdomain.ErrInvalidTimeRange
	}

	cursor, err := pagination.DecodeCursor(req.PageToken)
	if err != nil {
		return auditdomain.ListAuditLogResponse{}, auditdomain.ErrInvalidPageToken
	}
	var afterID snowflake.ID
	if cursor != nil {
		afterID, err = snowflake.ParseString(strings.TrimSpace(cursor.ID))
		if err != nil || afterID == 0 {
			return auditdomain.ListAuditLogResponse{}, auditdomain.ErrInvalidPageToken
		}
	}

	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}
	if pageSize > 250 {
		pageSize = 250
	}

	items, err := s.repo.List(ctx, s.db, auditdomain.ListFilter{
		OrgID:      orgID,
		Action:     req.Action,
		TargetType: req.TargetType,
		TargetID:   req.TargetID,
		Since:      req.Since,
		Until:      req.Until,
		AfterID:    afterID,
		Limit:      pageSize,
	})
	if err != nil {
		return auditdomain.ListAuditLogResponse{}, err
	}

	items, pageInfo := pagination.Trim(items, pageSize, func(item auditdomain.AuditLog) pagination.Cursor {
		return pagination.Cursor{ID: item.ID.String()}
	})
	return auditdomain.ListAuditLogResponse{PageInfo: pageInfo, AuditLogs: items}, nil
}

package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/tally/internal/audit/domain"
	"github.com/smallbiznis/tally/pkg/db/pagination"
)

type auditLogsQuery struct {
	PageToken  string `form:"page_token"`
	PageSize   int    `form:"page_size"`
	Action     string `form:"action"`
	TargetType string `form:"target_type"`
	TargetID   string `form:"target_id"`
}

// ListAuditLogs serves the org trail filtered by action, target and a
// since/until window.
func (s *Server) ListAuditLogs(c *gin.Context) {
	req, ok := bindAuditQuery(c)
	if !ok {
		return
	}
	s.respondAuditLogs(c, req)
}

// InvoiceHistory lists every recorded state change of one invoice.
func (s *Server) InvoiceHistory(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	req, ok := bindAuditQuery(c)
	if !ok {
		return
	}
	req.TargetType = "invoice"
	req.TargetID = id.String()
	s.respondAuditLogs(c, req)
}

func bindAuditQuery(c *gin.Context) (auditdomain.ListAuditLogRequest, bool) {
	var query auditLogsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return auditdomain.ListAuditLogRequest{}, false
	}
	since, ok := queryTime(c, "since")
	if !ok {
		return auditdomain.ListAuditLogRequest{}, false
	}
	until, ok := queryTime(c, "until")
	if !ok {
		return auditdomain.ListAuditLogRequest{}, false
	}
	return auditdomain.ListAuditLogRequest{
		Pagination: pagination.Pagination{PageToken: strings.TrimSpace(query.PageToken), PageSize: query.PageSize},
		Action:     strings.TrimSpace(query.Action),
		TargetType: strings.TrimSpace(query.TargetType),
		TargetID:   strings.TrimSpace(query.TargetID),
		Since:      since,
		Until:      until,
	}, true
}

func (s *Server) respondAuditLogs(c *gin.Context, req auditdomain.ListAuditLogRequest) {
	resp, err := s.auditSvc.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp.AuditLogs, "page_info": resp.PageInfo})
}

package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	invoicedomain "github.com/smallbiznis/tally/internal/invoice/domain"
	"github.com/smallbiznis/tally/pkg/db/pagination"
)

type listInvoicesQuery struct {
	PageToken string `form:"page_token"`
	PageSize  int    `form:"page_size"`
	ProjectID string `form:"project_id"`
	Status    string `form:"status"`
}

var invoiceStatuses = map[invoicedomain.InvoiceStatus]struct{}{
	invoicedomain.InvoiceStatusDraft:     {},
	invoicedomain.InvoiceStatusSent:      {},
	invoicedomain.InvoiceStatusPaid:      {},
	invoicedomain.InvoiceStatusOverdue:   {},
	invoicedomain.InvoiceStatusCancelled: {},
}

func (s *Server) ListInvoices(c *gin.Context) {
	var query listInvoicesQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	projectID, err := parseOptionalSnowflakeID(query.ProjectID)
	if err != nil {
		AbortWithError(c, newValidationError("project_id", "invalid_project_id", "invalid project_id"))
		return
	}
	status := invoicedomain.InvoiceStatus(strings.ToUpper(strings.TrimSpace(query.Status)))
	if status != "" {
		if _, ok := invoiceStatuses[status]; !ok {
			AbortWithError(c, newValidationError("status", "invalid_status", "invalid status"))
			return
		}
	}

	resp, err := s.invoiceSvc.List(c.Request.Context(), invoicedomain.ListInvoiceRequest{
		ProjectID: projectID,
		Status:    status,
		Pagination: pagination.Pagination{
			PageToken: strings.TrimSpace(query.PageToken),
			PageSize:  query.PageSize,
		},
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.Invoices, "page_info": resp.PageInfo})
}

func (s *Server) GenerateInvoice(c *gin.Context) {
	var req invoicedomain.GenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if req.ProjectID == 0 {
		AbortWithError(c, newValidationError("project_id", "required", "project_id is required"))
		return
	}

	invoice, err := s.invoiceSvc.GenerateInvoice(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": invoice})
}

func (s *Server) GetInvoiceByID(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	invoice, err := s.invoiceSvc.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": invoice})
}

func (s *Server) RenderInvoice(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	html, err := s.invoiceSvc.RenderInvoice(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(html))
}

func (s *Server) SendInvoice(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	invoice, err := s.invoiceSvc.Send(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": invoice})
}

func (s *Server) CancelInvoice(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	var req invoicedomain.CancelRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
	}
	if len(req.Reason) > 500 {
		AbortWithError(c, newValidationError("reason", "too_long", "reason must be at most 500 characters"))
		return
	}

	invoice, err := s.invoiceSvc.Cancel(c.Request.Context(), id, req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": invoice})
}

func (s *Server) MarkInvoiceOverdue(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	invoice, err := s.invoiceSvc.MarkOverdue(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": invoice})
}

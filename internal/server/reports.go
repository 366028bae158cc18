package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/tally/internal/report"
	"github.com/smallbiznis/tally/internal/report/export"
)

func (s *Server) GetProfitability(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	metrics, err := s.profitabilitySvc.Compute(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": metrics})
}

func (s *Server) ExportInvoice(c *gin.Context) {
	s.export(c, s.exportSvc.Invoice)
}

func (s *Server) ExportProfitability(c *gin.Context) {
	s.export(c, s.exportSvc.Profitability)
}

func (s *Server) export(c *gin.Context, build func(context.Context, snowflake.ID, report.Format) (*export.File, error)) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	format, err := report.ParseFormat(c.Query("format"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	file, err := build(c.Request.Context(), id, format)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, file.Name))
	c.Data(http.StatusOK, file.ContentType, file.Data)
}

// runAction handles the POST /<resource>/:id/<verb> endpoints that return no body.
func (s *Server) runAction(c *gin.Context, action func(context.Context, snowflake.ID) error) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := action(c.Request.Context(), id); err != nil {
		AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

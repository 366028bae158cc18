package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	billingmodeldomain "github.com/smallbiznis/tally/internal/billingmodel/domain"
	projectdomain "github.com/smallbiznis/tally/internal/project/domain"
)

func (s *Server) CreateClient(c *gin.Context) {
	var req projectdomain.CreateClientRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	client, err := s.projectSvc.CreateClient(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": client})
}

func (s *Server) CreateProject(c *gin.Context) {
	var req projectdomain.CreateProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	project, err := s.projectSvc.CreateProject(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": project})
}

func (s *Server) GetProject(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	project, err := s.projectSvc.GetProject(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": project})
}

type createContractRequest struct {
	Model         json.RawMessage                  `json:"model"`
	Configuration billingmodeldomain.Configuration `json:"configuration"`
	StartsAt      *time.Time                       `json:"starts_at"`
	EndsAt        *time.Time                       `json:"ends_at"`
}

type contractResponse struct {
	ID           string                          `json:"id"`
	ProjectID    string                          `json:"project_id"`
	ModelType    billingmodeldomain.Type         `json:"model_type"`
	Model        json.RawMessage                 `json:"model"`
	AutoInvoice  bool                            `json:"auto_invoice"`
	BillingCycle billingmodeldomain.BillingCycle `json:"billing_cycle"`
	PaymentTerms int                             `json:"payment_terms"`
	TaxRate      string                          `json:"tax_rate"`
	DiscountRate string                          `json:"discount_rate"`
	Currency     string                          `json:"currency"`
	StartsAt     time.Time                       `json:"starts_at"`
	EndsAt       *time.Time                      `json:"ends_at,omitempty"`
}

func newContractResponse(contract *billingmodeldomain.Contract) contractResponse {
	return contractResponse{
		ID:           contract.ID.String(),
		ProjectID:    contract.ProjectID.String(),
		ModelType:    contract.ModelType,
		Model:        json.RawMessage(contract.Model),
		AutoInvoice:  contract.AutoInvoice,
		BillingCycle: contract.BillingCycle,
		PaymentTerms: contract.PaymentTerms,
		TaxRate:      contract.TaxRate.String(),
		DiscountRate: contract.DiscountRate.String(),
		Currency:     contract.Currency,
		StartsAt:     contract.StartsAt,
		EndsAt:       contract.EndsAt,
	}
}

// CreateContract replaces the project's active billing model.
func (s *Server) CreateContract(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	var req createContractRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if len(req.Model) == 0 {
		AbortWithError(c, newValidationError("model", "required", "model is required"))
		return
	}
	model, err := billingmodeldomain.DecodeModel(req.Model)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	create := billingmodeldomain.CreateContractRequest{
		ProjectID:     id,
		Model:         model,
		Configuration: req.Configuration,
		EndsAt:        req.EndsAt,
	}
	if req.StartsAt != nil {
		create.StartsAt = *req.StartsAt
	}

	contract, err := s.contractSvc.CreateContract(c.Request.Context(), create)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": newContractResponse(contract)})
}

func (s *Server) GetActiveContract(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	contract, err := s.contractSvc.ActiveContract(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": newContractResponse(contract)})
}

func (s *Server) LogTime(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	var req projectdomain.TimeEntryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.ProjectID = id

	entry, err := s.projectSvc.LogTime(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": entry})
}

func (s *Server) RecordExpense(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	var req projectdomain.ExpenseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.ProjectID = id

	expense, err := s.projectSvc.RecordExpense(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": expense})
}

func (s *Server) CreateMilestone(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	var req projectdomain.MilestoneRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.ProjectID = id

	milestone, err := s.projectSvc.CreateMilestone(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": milestone})
}

func (s *Server) ApproveTimeEntry(c *gin.Context) {
	s.runAction(c, s.projectSvc.ApproveTimeEntry)
}

func (s *Server) ApproveExpense(c *gin.Context) {
	s.runAction(c, s.projectSvc.ApproveExpense)
}

func (s *Server) CompleteMilestone(c *gin.Context) {
	s.runAction(c, s.projectSvc.CompleteMilestone)
}

package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/tally/internal/billingerror"
	paymentdomain "github.com/smallbiznis/tally/internal/payment/domain"
)

// HeaderIdempotencyKey is forwarded to gateways and used to deduplicate
// payments and refunds.
const HeaderIdempotencyKey = "Idempotency-Key"

func (s *Server) RecordPayment(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	var attempt paymentdomain.Attempt
	if err := c.ShouldBindJSON(&attempt); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	attempt.IdempotencyKey = strings.TrimSpace(c.GetHeader(HeaderIdempotencyKey))

	result, err := s.invoiceSvc.RecordPayment(c.Request.Context(), id, attempt)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if !result.Success {
		respondGatewayFailure(c, "invoice.record_payment", result)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": result})
}

func (s *Server) ListPayments(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	payments, err := s.invoiceSvc.ListPayments(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": payments})
}

func (s *Server) RefundPayment(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	var input paymentdomain.RefundInput
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&input); err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
	}
	if key := strings.TrimSpace(c.GetHeader(HeaderIdempotencyKey)); key != "" {
		input.IdempotencyKey = key
	}

	result, err := s.refundSvc.Refund(c.Request.Context(), id, input)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if !result.Success {
		respondGatewayFailure(c, "payment.refund", result)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": result})
}

func (s *Server) ListRefunds(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	refunds, err := s.refundSvc.ListRefunds(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": refunds})
}

// respondGatewayFailure surfaces a declined or failed gateway call as a
// gateway_error while still returning the recorded result.
func respondGatewayFailure(c *gin.Context, op string, result *paymentdomain.Result) {
	err := billingerror.Gateway(op, result.Error).WithAmount(result.Amount)
	_ = c.Error(err)
	status, payload := mapError(err)
	c.AbortWithStatusJSON(status, gin.H{"error": payload, "data": result})
}

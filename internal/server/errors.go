package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	auditdomain "github.com/smallbiznis/tally/internal/audit/domain"
	"github.com/smallbiznis/tally/internal/billingerror"
	invoicedomain "github.com/smallbiznis/tally/internal/invoice/domain"
	"github.com/smallbiznis/tally/internal/orgcontext"
	paymentdomain "github.com/smallbiznis/tally/internal/payment/domain"
	projectdomain "github.com/smallbiznis/tally/internal/project/domain"
	"github.com/smallbiznis/tally/internal/report"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrNotFound       = errors.New("not_found")
	ErrInvalidRequest = errors.New("invalid_request")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{{Field: field, Code: code, Message: message}},
	}
}

// kindStatus maps the billing failure taxonomy onto HTTP.
var kindStatus = map[billingerror.Kind]int{
	billingerror.KindConfiguration:          http.StatusUnprocessableEntity,
	billingerror.KindNotFound:               http.StatusNotFound,
	billingerror.KindInvalidState:           http.StatusConflict,
	billingerror.KindOverpayment:            http.StatusUnprocessableEntity,
	billingerror.KindGateway:                http.StatusBadGateway,
	billingerror.KindConcurrentModification: http.StatusConflict,
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{Type: "internal_error", Message: "internal server error"}
	}

	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) {
		payload := errorPayload{Type: "validation_error", Message: "validation error"}
		for _, fe := range fieldErrs {
			payload.Errors = append(payload.Errors, ValidationError{
				Field:   fe.Field(),
				Code:    fe.Tag(),
				Message: fe.Error(),
			})
		}
		return http.StatusBadRequest, payload
	}

	if code, ok := validationCode(err); ok {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: err.Error(),
			Errors:  []ValidationError{{Code: code, Message: err.Error()}},
		}
	}

	if kind, ok := billingerror.KindOf(err); ok {
		status, known := kindStatus[kind]
		if !known {
			status = http.StatusInternalServerError
		}
		return status, errorPayload{Type: string(kind), Message: err.Error()}
	}

	if errors.Is(err, ErrNotFound) || errors.Is(err, gorm.ErrRecordNotFound) {
		return http.StatusNotFound, errorPayload{Type: "not_found", Message: "not found"}
	}

	return http.StatusInternalServerError, errorPayload{Type: "internal_error", Message: "internal server error"}
}

// validationCode reports sentinel input errors raised below the handlers.
func validationCode(err error) (string, bool) {
	for _, sentinel := range []error{
		ErrInvalidRequest,
		orgcontext.ErrMissingOrg,
		invoicedomain.ErrInvalidPaymentInput,
		invoicedomain.ErrInvalidPageToken,
		auditdomain.ErrInvalidPageToken,
		auditdomain.ErrInvalidAction,
		auditdomain.ErrInvalidTimeRange,
		paymentdomain.ErrInvalidAmount,
		paymentdomain.ErrInvalidCurrency,
		projectdomain.ErrInvalidName,
		projectdomain.ErrInvalidHours,
		projectdomain.ErrInvalidAmount,
		report.ErrUnsupportedFormat,
	} {
		if errors.Is(err, sentinel) {
			return sentinel.Error(), true
		}
	}
	return "", false
}

func classifyErrorForLog(err error) string {
	if err == nil {
		return ""
	}
	if _, ok := validationCode(err); ok {
		return "validation_error"
	}
	var vErr *ValidationErrors
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &vErr) || errors.As(err, &fieldErrs) {
		return "validation_error"
	}
	if kind, ok := billingerror.KindOf(err); ok {
		return string(kind)
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, gorm.ErrRecordNotFound) {
		return "not_found"
	}
	return "internal_error"
}

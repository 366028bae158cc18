// Package billingerror defines the failure taxonomy shared by the billing
// packages. Every error carries enough context (operation, invoice, amount,
// reason) for a caller to render a specific message.
package billingerror

import (
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

type Kind string

const (
	KindConfiguration          Kind = "configuration_error"
	KindNotFound               Kind = "not_found"
	KindInvalidState           Kind = "invalid_state"
	KindOverpayment            Kind = "overpayment"
	KindGateway                Kind = "gateway_error"
	KindConcurrentModification Kind = "concurrent_modification"
)

var (
	ErrConfiguration          = errors.New(string(KindConfiguration))
	ErrNotFound               = errors.New(string(KindNotFound))
	ErrInvalidState           = errors.New(string(KindInvalidState))
	ErrOverpayment            = errors.New(string(KindOverpayment))
	ErrGateway                = errors.New(string(KindGateway))
	ErrConcurrentModification = errors.New(string(KindConcurrentModification))
)

var sentinels = map[Kind]error{
	KindConfiguration:          ErrConfiguration,
	KindNotFound:               ErrNotFound,
	KindInvalidState:           ErrInvalidState,
	KindOverpayment:            ErrOverpayment,
	KindGateway:                ErrGateway,
	KindConcurrentModification: ErrConcurrentModification,
}

type Error struct {
	Kind      Kind
	Op        string
	InvoiceID snowflake.ID
	ProjectID snowflake.ID
	Amount    *decimal.Decimal
	Reason    string
	Err       error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Op != "" {
		b.WriteString(": ")
		b.WriteString(e.Op)
	}
	if e.InvoiceID != 0 {
		fmt.Fprintf(&b, " invoice=%s", e.InvoiceID)
	}
	if e.ProjectID != 0 {
		fmt.Fprintf(&b, " project=%s", e.ProjectID)
	}
	if e.Amount != nil {
		fmt.Fprintf(&b, " amount=%s", e.Amount.StringFixed(2))
	}
	if e.Reason != "" {
		b.WriteString(": ")
		b.WriteString(e.Reason)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel for the error's kind.
func (e *Error) Is(target error) bool {
	sentinel, ok := sentinels[e.Kind]
	return ok && sentinel == target
}

func newError(kind Kind, op, reason string) *Error {
	return &Error{Kind: kind, Op: op, Reason: reason}
}

func Configuration(op, reason string) *Error { return newError(KindConfiguration, op, reason) }
func NotFound(op, reason string) *Error      { return newError(KindNotFound, op, reason) }
func InvalidState(op, reason string) *Error  { return newError(KindInvalidState, op, reason) }
func Overpayment(op, reason string) *Error   { return newError(KindOverpayment, op, reason) }
func Gateway(op, reason string) *Error       { return newError(KindGateway, op, reason) }

func ConcurrentModification(op, reason string) *Error {
	return newError(KindConcurrentModification, op, reason)
}

func (e *Error) WithInvoice(id snowflake.ID) *Error {
	e.InvoiceID = id
	return e
}

func (e *Error) WithProject(id snowflake.ID) *Error {
	e.ProjectID = id
	return e
}

func (e *Error) WithAmount(amount decimal.Decimal) *Error {
	e.Amount = &amount
	return e
}

func (e *Error) Wrap(err error) *Error {
	e.Err = err
	return e
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) (Kind, bool) {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind, true
	}
	return "", false
}

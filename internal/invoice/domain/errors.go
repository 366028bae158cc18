package domain

import "errors"

var (
	ErrNothingToBill       = errors.New("nothing_to_bill")
	ErrInvalidLineItem     = errors.New("invalid_line_item")
	ErrCurrencyMismatch    = errors.New("currency_mismatch")
	ErrInvalidPaymentInput = errors.New("invalid_payment_input")
)

var ErrInvalidPageToken = errors.New("invalid_page_token")

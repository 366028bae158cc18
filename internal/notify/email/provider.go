// Package email delivers rendered invoices to client billing addresses.
package email

import "context"

type Provider interface {
	Send(ctx context.Context, to []string, subject string, htmlBody string) error
}

// NoOpProvider drops every message. It stands in when SMTP is not configured.
type NoOpProvider struct{}

func (NoOpProvider) Send(context.Context, []string, string, string) error {
	return nil
}

package context

import (
	stdctx "context"
	"strings"
)

type requestIDKey struct{}
type orgIDKey struct{}
type actorKey struct{}

type actor struct {
	kind string
	id   string
}

// WithRequestID attaches the inbound request identifier.
func WithRequestID(ctx stdctx.Context, requestID string) stdctx.Context {
	return stdctx.WithValue(ctx, requestIDKey{}, strings.TrimSpace(requestID))
}

func RequestIDFromContext(ctx stdctx.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(requestIDKey{}).(string)
	return value
}

func WithOrgID(ctx stdctx.Context, orgID string) stdctx.Context {
	return stdctx.WithValue(ctx, orgIDKey{}, strings.TrimSpace(orgID))
}

func OrgIDFromContext(ctx stdctx.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(orgIDKey{}).(string)
	return value
}

// WithActor records who triggered the work, e.g. ("user", "123") or ("scheduler", "recurring_invoices").
func WithActor(ctx stdctx.Context, actorType, actorID string) stdctx.Context {
	return stdctx.WithValue(ctx, actorKey{}, actor{
		kind: strings.TrimSpace(actorType),
		id:   strings.TrimSpace(actorID),
	})
}

func ActorFromContext(ctx stdctx.Context) (string, string) {
	if ctx == nil {
		return "", ""
	}
	value, ok := ctx.Value(actorKey{}).(actor)
	if !ok {
		return "", ""
	}
	return value.kind, value.id
}

package orgcontext

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

var ErrMissingOrg = errors.New("organization_required")

type orgKey struct{}

// WithOrgID scopes ctx to a single tenant.
func WithOrgID(ctx context.Context, orgID snowflake.ID) context.Context {
	return context.WithValue(ctx, orgKey{}, orgID)
}

// OrgIDFromContext returns the tenant attached by WithOrgID.
func OrgIDFromContext(ctx context.Context) (snowflake.ID, bool) {
	if ctx == nil {
		return 0, false
	}
	orgID, ok := ctx.Value(orgKey{}).(snowflake.ID)
	if !ok || orgID == 0 {
		return 0, false
	}
	return orgID, true
}

// Require is OrgIDFromContext for call sites that cannot proceed without a tenant.
func Require(ctx context.Context) (snowflake.ID, error) {
	orgID, ok := OrgIDFromContext(ctx)
	if !ok {
		return 0, ErrMissingOrg
	}
	return orgID, nil
}

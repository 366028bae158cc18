package server

import (
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/tally/internal/observability/context"
	"github.com/smallbiznis/tally/internal/orgcontext"
)

// OrgContext scopes the request to the org named in the path.
func OrgContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		orgID, err := snowflake.ParseString(strings.TrimSpace(c.Param("org_id")))
		if err != nil || orgID == 0 {
			AbortWithError(c, newValidationError("org_id", "invalid_org_id", "invalid org id"))
			return
		}
		ctx := orgcontext.WithOrgID(c.Request.Context(), orgID)
		ctx = obscontext.WithOrgID(ctx, orgID.String())
		if actor := strings.TrimSpace(c.GetHeader(HeaderActor)); actor != "" {
			ctx = obscontext.WithActor(ctx, "user", actor)
		}
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// HeaderActor names the caller for audit entries; authentication happens upstream.
const HeaderActor = "X-Actor-ID"

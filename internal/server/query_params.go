package server

import (
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
)

var errInvalidID = errors.New("invalid_snowflake_id")

// parseOptionalSnowflakeID returns nil for a blank value and rejects zero ids.
func parseOptionalSnowflakeID(value string) (*snowflake.ID, error) {
	if value = strings.TrimSpace(value); value == "" {
		return nil, nil
	}
	id, err := snowflake.ParseString(value)
	if err != nil || id == 0 {
		return nil, errInvalidID
	}
	return &id, nil
}

func pathID(c *gin.Context) (snowflake.ID, bool) {
	id, err := parseOptionalSnowflakeID(c.Param("id"))
	if err != nil || id == nil {
		AbortWithError(c, newValidationError("id", "invalid_id", "invalid id"))
		return 0, false
	}
	return *id, true
}

// queryTime parses an optional RFC 3339 query value. Date-only values are
// read as midnight UTC.
func queryTime(c *gin.Context, key string) (time.Time, bool) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return time.Time{}, true
	}
	for _, layout := range []string{time.RFC3339, time.DateOnly} {
		if parsed, err := time.Parse(layout, raw); err == nil {
			return parsed.UTC(), true
		}
	}
	AbortWithError(c, newValidationError(key, "invalid_"+key, "invalid "+key))
	return time.Time{}, false
}

package orgcontext

import (
	"context"
	"testing"

	"github.com/bwmarrin/snowflake"
)

func TestRequire(t *testing.T) {
	if _, err := Require(context.Background()); err != ErrMissingOrg {
		t.Fatalf("expected ErrMissingOrg, got %v", err)
	}

	ctx := WithOrgID(context.Background(), snowflake.ID(42))
	orgID, err := Require(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if orgID != 42 {
		t.Fatalf("expected org 42, got %d", orgID)
	}
}

func TestZeroOrgIsMissing(t *testing.T) {
	ctx := WithOrgID(context.Background(), 0)
	if _, ok := OrgIDFromContext(ctx); ok {
		t.Fatalf("expected zero org to be treated as missing")
	}
}

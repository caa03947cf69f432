package store

import (
	"context"
	"testing"
	"time"

	"github.com/erazemk/zaloga/internal/db"
)

func TestRevokeToken(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()
	exp := time.Now().Add(time.Hour)

	if revoked, err := IsTokenRevoked(ctx, database, "jti-clerk"); err != nil || revoked {
		t.Fatalf("expected live token, got revoked=%v err=%v", revoked, err)
	}

	for range 2 {
		if err := RevokeToken(ctx, database, "jti-clerk", "clerk", exp); err != nil {
			t.Fatalf("RevokeToken: %v", err)
		}
	}

	if revoked, _ := IsTokenRevoked(ctx, database, "jti-clerk"); !revoked {
		t.Error("expected token to be revoked")
	}
	if revoked, _ := IsTokenRevoked(ctx, database, "jti-manager"); revoked {
		t.Error("expected other token to stay live")
	}

	var username string
	database.QueryRowContext(ctx, `SELECT username FROM revoked_tokens WHERE jti = ?`, "jti-clerk").Scan(&username)
	if username != "clerk" {
		t.Errorf("expected revocation to record clerk, got %q", username)
	}
}

func TestPurgeExpiredTokens(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	RevokeToken(ctx, database, "old", "clerk", now.Add(-time.Minute))
	RevokeToken(ctx, database, "live", "clerk", now.Add(time.Hour))

	n, err := PurgeExpiredTokens(ctx, database, now)
	if err != nil {
		t.Fatalf("PurgeExpiredTokens: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 purged, got %d", n)
	}
	if revoked, _ := IsTokenRevoked(ctx, database, "live"); !revoked {
		t.Error("expected unexpired revocation to be kept")
	}
	if revoked, _ := IsTokenRevoked(ctx, database, "old"); revoked {
		t.Error("expected expired revocation to be purged")
	}
}

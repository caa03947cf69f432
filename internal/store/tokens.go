package store

import (
	"context"
	"fmt"
	"time"

	"github.com/erazemk/zaloga/internal/db"
)

// RevokeToken records that the token with the given JTI, issued to
// username, must no longer be accepted. Revoking twice is a no-op.
func RevokeToken(ctx context.Context, conn db.Conn, jti, username string, expiresAt time.Time) error {
	_, err := conn.ExecContext(ctx,
		`INSERT INTO revoked_tokens (jti, username, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT (jti) DO NOTHING`,
		jti, username, expiresAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("revoking token: %w", err)
	}
	return nil
}

// IsTokenRevoked reports whether a JTI has been revoked.
func IsTokenRevoked(ctx context.Context, conn db.Conn, jti string) (bool, error) {
	var count int
	err := conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM revoked_tokens WHERE jti = ?`, jti,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("checking token revocation: %w", err)
	}
	return count > 0, nil
}

// PurgeExpiredTokens drops revocations of tokens that expired before now;
// validation rejects those tokens anyway. It returns how many were removed.
func PurgeExpiredTokens(ctx context.Context, conn db.Conn, now time.Time) (int64, error) {
	res, err := conn.ExecContext(ctx,
		`DELETE FROM revoked_tokens WHERE expires_at < ?`, now.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("purging revoked tokens: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purging revoked tokens: %w", err)
	}
	return n, nil
}

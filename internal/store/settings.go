package store

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/erazemk/zaloga/internal/db"
)

// SettingJWTSecret holds the generated token signing secret.
const SettingJWTSecret = "jwt_secret"

// GetSetting returns the value stored under key. ok is false if it is unset.
func GetSetting(ctx context.Context, conn db.Conn, key string) (value string, ok bool, err error) {
	err = conn.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("reading setting %s: %w", key, err)
	}
	return value, true, nil
}

// PutSetting stores value under key, replacing any previous value.
func PutSetting(ctx context.Context, conn db.Conn, key, value string) error {
	_, err := conn.ExecContext(ctx,
		`INSERT INTO settings (key, value) VALUES (?, ?)
		 ON CONFLICT (key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("storing setting %s: %w", key, err)
	}
	return nil
}

// JWTSecret returns the secret API tokens are signed with. A configured
// secret (JWT_SECRET) is used as-is and never persisted. Without one, a
// random secret is generated on first start and stored, so tokens survive
// restarts. Concurrent first calls agree on a single value because the
// insert is conditional and the value is always read back.
func JWTSecret(ctx context.Context, conn db.Conn, configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating jwt secret: %w", err)
	}

	_, err := conn.ExecContext(ctx,
		`INSERT INTO settings (key, value) VALUES (?, ?)
		 ON CONFLICT (key) DO NOTHING`,
		SettingJWTSecret, hex.EncodeToString(buf),
	)
	if err != nil {
		return "", fmt.Errorf("storing jwt secret: %w", err)
	}

	secret, ok, err := GetSetting(ctx, conn, SettingJWTSecret)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", errors.New("jwt secret missing after insert")
	}
	return secret, nil
}

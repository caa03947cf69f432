package db

import (
	"fmt"
)

// sqliteSchema is the full SQLite schema.
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS users (
    id            INTEGER PRIMARY KEY,
    username      TEXT NOT NULL,
    password_hash TEXT NOT NULL,
    role          TEXT NOT NULL DEFAULT 'staff' CHECK (role IN ('admin', 'manager', 'staff')),
    created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    deleted_at    DATETIME
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_users_username_active
    ON users(username) WHERE deleted_at IS NULL;

CREATE TABLE IF NOT EXISTS revoked_tokens (
    jti        TEXT PRIMARY KEY,
    username   TEXT NOT NULL DEFAULT '',
    expires_at DATETIME NOT NULL,
    revoked_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS settings (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS locations (
    id                    INTEGER PRIMARY KEY,
    name                  TEXT NOT NULL,
    is_default            BOOLEAN NOT NULL DEFAULT FALSE,
    is_fulfillment_center BOOLEAN NOT NULL DEFAULT FALSE,
    is_pickup_location    BOOLEAN NOT NULL DEFAULT FALSE,
    created_at            DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    deleted_at            DATETIME
);

CREATE TABLE IF NOT EXISTS variants (
    id         INTEGER PRIMARY KEY,
    product_id INTEGER NOT NULL,
    sku        TEXT NOT NULL UNIQUE,
    price      TEXT NOT NULL DEFAULT '0',
    cost       TEXT NOT NULL DEFAULT '0',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS inventory_levels (
    variant_id  INTEGER NOT NULL,
    location_id INTEGER NOT NULL,
    on_hand     INTEGER NOT NULL DEFAULT 0 CHECK (on_hand >= 0),
    committed   INTEGER NOT NULL DEFAULT 0 CHECK (committed >= 0),
    reserved    INTEGER NOT NULL DEFAULT 0 CHECK (reserved >= 0),
    version     INTEGER NOT NULL DEFAULT 0,
    updated_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (variant_id, location_id),
    CHECK (on_hand - committed - reserved >= 0)
);

CREATE TABLE IF NOT EXISTS inventory_movements (
    id              INTEGER PRIMARY KEY,
    variant_id      INTEGER NOT NULL,
    location_id     INTEGER NOT NULL,
    delta_on_hand   INTEGER NOT NULL,
    delta_committed INTEGER NOT NULL,
    delta_reserved  INTEGER NOT NULL,
    reason          TEXT NOT NULL,
    transfer_id     INTEGER,
    note            TEXT,
    actor           TEXT,
    created_at      DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS transfers (
    id               INTEGER PRIMARY KEY,
    number           TEXT NOT NULL DEFAULT '',
    from_location_id INTEGER NOT NULL REFERENCES locations(id),
    to_location_id   INTEGER NOT NULL REFERENCES locations(id),
    status           TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'in_transit', 'completed', 'cancelled')),
    reason           TEXT,
    notes            TEXT,
    total_quantity   INTEGER NOT NULL CHECK (total_quantity > 0),
    idempotency_key  TEXT UNIQUE,
    created_by       TEXT,
    created_at       DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    shipped_at       DATETIME,
    received_at      DATETIME,
    cancelled_at     DATETIME,
    updated_at       DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    CHECK (from_location_id <> to_location_id)
);

CREATE TABLE IF NOT EXISTS transfer_line_items (
    id                INTEGER PRIMARY KEY,
    transfer_id       INTEGER NOT NULL REFERENCES transfers(id),
    variant_id        INTEGER NOT NULL,
    quantity          INTEGER NOT NULL CHECK (quantity > 0),
    received_quantity INTEGER CHECK (received_quantity >= 0),
    returned_quantity INTEGER CHECK (returned_quantity >= 0),
    UNIQUE (transfer_id, variant_id)
);

CREATE TABLE IF NOT EXISTS transfer_events (
    id          INTEGER PRIMARY KEY,
    transfer_id INTEGER NOT NULL REFERENCES transfers(id),
    from_status TEXT NOT NULL DEFAULT '',
    to_status   TEXT NOT NULL,
    actor       TEXT,
    note        TEXT,
    created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// postgresSchema mirrors sqliteSchema with PostgreSQL types. Counters and
// quantities are BIGINT to match Go's int; SQLite's INTEGER is already 64-bit.
const postgresSchema = `
CREATE TABLE IF NOT EXISTS users (
    id            BIGINT GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY,
    username      TEXT NOT NULL,
    password_hash TEXT NOT NULL,
    role          TEXT NOT NULL DEFAULT 'staff' CHECK (role IN ('admin', 'manager', 'staff')),
    created_at    TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
    deleted_at    TIMESTAMPTZ
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_users_username_active
    ON users(username) WHERE deleted_at IS NULL;

CREATE TABLE IF NOT EXISTS revoked_tokens (
    jti        TEXT PRIMARY KEY,
    username   TEXT NOT NULL DEFAULT '',
    expires_at TIMESTAMPTZ NOT NULL,
    revoked_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS settings (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS locations (
    id                    BIGINT GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY,
    name                  TEXT NOT NULL,
    is_default            BOOLEAN NOT NULL DEFAULT FALSE,
    is_fulfillment_center BOOLEAN NOT NULL DEFAULT FALSE,
    is_pickup_location    BOOLEAN NOT NULL DEFAULT FALSE,
    created_at            TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
    deleted_at            TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS variants (
    id         BIGINT GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY,
    product_id BIGINT NOT NULL,
    sku        TEXT NOT NULL UNIQUE,
    price      NUMERIC(14, 4) NOT NULL DEFAULT 0,
    cost       NUMERIC(14, 4) NOT NULL DEFAULT 0,
    created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS inventory_levels (
    variant_id  BIGINT NOT NULL,
    location_id BIGINT NOT NULL,
    on_hand     BIGINT NOT NULL DEFAULT 0 CHECK (on_hand >= 0),
    committed   BIGINT NOT NULL DEFAULT 0 CHECK (committed >= 0),
    reserved    BIGINT NOT NULL DEFAULT 0 CHECK (reserved >= 0),
    version     BIGINT NOT NULL DEFAULT 0,
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (variant_id, location_id),
    CHECK (on_hand - committed - reserved >= 0)
);

CREATE TABLE IF NOT EXISTS inventory_movements (
    id              BIGINT GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY,
    variant_id      BIGINT NOT NULL,
    location_id     BIGINT NOT NULL,
    delta_on_hand   BIGINT NOT NULL,
    delta_committed BIGINT NOT NULL,
    delta_reserved  BIGINT NOT NULL,
    reason          TEXT NOT NULL,
    transfer_id     BIGINT,
    note            TEXT,
    actor           TEXT,
    created_at      TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS transfers (
    id               BIGINT GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY,
    number           TEXT NOT NULL DEFAULT '',
    from_location_id BIGINT NOT NULL REFERENCES locations(id),
    to_location_id   BIGINT NOT NULL REFERENCES locations(id),
    status           TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'in_transit', 'completed', 'cancelled')),
    reason           TEXT,
    notes            TEXT,
    total_quantity   BIGINT NOT NULL CHECK (total_quantity > 0),
    idempotency_key  TEXT UNIQUE,
    created_by       TEXT,
    created_at       TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
    shipped_at       TIMESTAMPTZ,
    received_at      TIMESTAMPTZ,
    cancelled_at     TIMESTAMPTZ,
    updated_at       TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
    CHECK (from_location_id <> to_location_id)
);

CREATE TABLE IF NOT EXISTS transfer_line_items (
    id                BIGINT GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY,
    transfer_id       BIGINT NOT NULL REFERENCES transfers(id),
    variant_id        BIGINT NOT NULL,
    quantity          BIGINT NOT NULL CHECK (quantity > 0),
    received_quantity BIGINT CHECK (received_quantity >= 0),
    returned_quantity BIGINT CHECK (returned_quantity >= 0),
    UNIQUE (transfer_id, variant_id)
);

CREATE TABLE IF NOT EXISTS transfer_events (
    id          BIGINT GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY,
    transfer_id BIGINT NOT NULL REFERENCES transfers(id),
    from_status TEXT NOT NULL DEFAULT '',
    to_status   TEXT NOT NULL,
    actor       TEXT,
    note        TEXT,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// EnsureSchema creates all tables and indexes if they don't already exist.
func EnsureSchema(d *DB) error {
	schema := sqliteSchema
	if d.Dialect() == Postgres {
		schema = postgresSchema
	}
	if _, err := d.DB.Exec(schema); err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}
	return nil
}

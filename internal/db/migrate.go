package db

import (
	"context"
	"database/sql"
)

const portalMigration = `
CREATE TABLE IF NOT EXISTS portal_sessions (
    id text PRIMARY KEY,
    record jsonb NOT NULL,
    expires_at timestamptz,
    created_at timestamptz NOT NULL DEFAULT NOW(),
    updated_at timestamptz NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS portal_sessions_expires_at_idx
ON portal_sessions (expires_at);
`

func RunMigration(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, portalMigration)
	return err
}

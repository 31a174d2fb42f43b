package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"care-portal/internal/db"
)

// PostgresStore keeps sessions in the portal_sessions table. Expired rows
// are invisible to Get; removing them is left to Delete or a periodic
// cleanup outside the request path.
type PostgresStore struct {
	db *db.DB
}

func NewPostgresStore(db *db.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Record, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT record
		FROM portal_sessions
		WHERE id = $1
		  AND (expires_at IS NULL OR expires_at > NOW())
	`, id).Scan(&raw)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("session: postgres get: %w", err)
	}

	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("session: failed to unmarshal: %w", err)
	}
	return &rec, nil
}

func (s *PostgresStore) Set(ctx context.Context, id string, rec Record, ttl time.Duration) error {
	if id == "" {
		return fmt.Errorf("session: missing session id")
	}
	if ttl < 0 {
		return s.Delete(ctx, id)
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("session: failed to marshal: %w", err)
	}

	var expiresAt sql.NullTime
	if ttl > 0 {
		expiresAt = sql.NullTime{Time: time.Now().Add(ttl), Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO portal_sessions (id, record, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE
		SET record = EXCLUDED.record,
		    expires_at = EXCLUDED.expires_at,
		    updated_at = NOW()
	`, id, data, expiresAt)
	if err != nil {
		return fmt.Errorf("session: postgres set: %w", err)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM portal_sessions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("session: postgres delete: %w", err)
	}
	return nil
}

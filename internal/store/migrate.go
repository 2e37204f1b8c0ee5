package store

import (
	"context"
	"fmt"
)

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS pending (
		order_code  text        NOT NULL,
		position    integer     NOT NULL,
		state_token text        NOT NULL UNIQUE,
		created     timestamptz NOT NULL,
		nickname    text,
		roles       bigint[]    NOT NULL DEFAULT '{}',
		PRIMARY KEY (order_code, position)
	)`,
	`CREATE TABLE IF NOT EXISTS active (
		order_code  text        NOT NULL,
		position    integer     NOT NULL,
		user_id     text        NOT NULL,
		created     timestamptz NOT NULL,
		nickname    text,
		roles       bigint[]    NOT NULL DEFAULT '{}',
		PRIMARY KEY (order_code, position)
	)`,
}

// Migrate creates the pending and active tables. Statements are idempotent so
// running it against an existing schema is safe.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range migrations {
		if _, err := s.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("applying migration: %w", err)
		}
	}
	return nil
}

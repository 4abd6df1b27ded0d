package postgres

import (
	"context"
	"fmt"
)

// Schema is the DDL for the analysis cache table. The payload column holds
// the checksummed entry envelope.
const Schema = `
CREATE TABLE IF NOT EXISTS vad_analysis_cache (
    key         TEXT         PRIMARY KEY,
    payload     BYTEA        NOT NULL,
    created_at  TIMESTAMPTZ  NOT NULL,
    updated_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);
`

// Migrate executes Schema. It is idempotent and safe to call on every start.
func Migrate(ctx context.Context, db DB) error {
	if _, err := db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("postgres migrate: %w", err)
	}
	return nil
}

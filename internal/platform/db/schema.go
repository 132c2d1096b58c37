package db

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

// Schema returns the embedded DDL applied by EnsureSchema.
func Schema() string {
	return schemaSQL
}

// EnsureSchema applies the idempotent schema. Production deployments run
// versioned migrations instead and leave AUTO_MIGRATE disabled.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("platform/db: apply schema: %w", err)
	}
	return nil
}

package pgstore

import (
	"context"
	"os"
	"testing"

	"shortsq/internal/config"
	"shortsq/internal/ports"
	"shortsq/internal/registry/registrytest"
)

// Runs against a real database only when SHORTSQ_TEST_DB_URL is set.
func TestRegistry(t *testing.T) {
	dsn := os.Getenv("SHORTSQ_TEST_DB_URL")
	if dsn == "" {
		t.Skip("SHORTSQ_TEST_DB_URL not set")
	}
	ctx := context.Background()
	pool, err := NewPool(ctx, config.Postgres{DSN: dsn, MaxConns: 25})
	if err != nil {
		t.Fatalf("NewPool() error = %v", err)
	}
	t.Cleanup(pool.Close)
	if err := EnsureSchema(ctx, pool); err != nil {
		t.Fatalf("EnsureSchema() error = %v", err)
	}

	registrytest.Run(t, func(t *testing.T) ports.Registry {
		if _, err := pool.Exec(ctx, `TRUNCATE tasks`); err != nil {
			t.Fatalf("truncate: %v", err)
		}
		return NewRegistry(pool)
	})
}

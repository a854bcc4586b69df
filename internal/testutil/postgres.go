// Package testutil provides a shared Postgres testcontainer for integration
// tests across internal/eventlog, internal/cursorlock, internal/jobqueue and
// internal/aicost, grounded on the teacher's package-level emulator-container
// TestMain pattern (internal/storage/spanner_test.go) adapted onto
// testcontainers-go's dedicated postgres module.
package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/chatcore/eventsub/internal/store/postgres"
)

// StartPostgres launches a throwaway Postgres container, applies the schema,
// and returns a connected pool. The container and pool are torn down via
// t.Cleanup. Tests that need a real database skip entirely (not fail) when
// Docker is unavailable in the sandbox, matching the teacher's "skip on
// unreachable dependency" convention for its own dev-stack-backed tests.
func StartPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	ctr, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("chatcore"),
		tcpostgres.WithUsername("chatcore"),
		tcpostgres.WithPassword("chatcore"),
		tcpostgres.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		t.Skipf("postgres testcontainer unavailable, skipping: %v", err)
	}
	t.Cleanup(func() { _ = ctr.Terminate(ctx) })

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("connection string: %v", err)
	}

	pool, err := postgres.Open(ctx, dsn)
	if err != nil {
		t.Fatalf("open pool: %v", err)
	}
	t.Cleanup(pool.Close)

	if err := postgres.Bootstrap(ctx, pool); err != nil {
		t.Fatalf("bootstrap schema: %v", err)
	}
	return pool
}

// UniqueID returns a short, test-run-unique suffix for building workspace,
// stream, or actor ids that must not collide across parallel test cases
// sharing one container.
func UniqueID(prefix string, n int) string {
	return fmt.Sprintf("%s-%d", prefix, n)
}

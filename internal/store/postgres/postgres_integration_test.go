package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/chatcore/eventsub/internal/store"
	"github.com/chatcore/eventsub/internal/store/storetest"
)

func makePGStore(t *testing.T) store.Store {
	t.Helper()
	dsn := os.Getenv("CHATCORE_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("CHATCORE_POSTGRES_DSN not set; skipping postgres store integration test")
	}
	ctx := context.Background()
	pool, err := Open(ctx, dsn)
	if err != nil {
		t.Fatalf("postgres open: %v", err)
	}
	if err := Bootstrap(ctx, pool); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	t.Cleanup(pool.Close)
	return NewWithPool(pool)
}

func TestPostgresStore_Compliance(t *testing.T) {
	storetest.Run(t, makePGStore)
}

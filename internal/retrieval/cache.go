package retrieval

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chatcore/eventsub/internal/model"
)

// cacheStore is the Retrieval Loop's own write-through cache, kept separate
// from internal/store since the cache is owned by this component and never
// read or written by any other handler (per spec.md §4.G Phase 3).
type cacheStore struct {
	pool *pgxpool.Pool
}

func newCacheStore(pool *pgxpool.Pool) *cacheStore {
	return &cacheStore{pool: pool}
}

// get returns the cached entry for (workspaceID, triggerMessageID), if any.
func (c *cacheStore) get(ctx context.Context, r reader, workspaceID, triggerMessageID string) (*model.RetrievalCacheEntry, error) {
	var e model.RetrievalCacheEntry
	var searchesRaw []byte
	err := r.QueryRow(ctx, `
		SELECT workspace_id, trigger_message_id, should_search, retrieved_context, sources, searches_performed, created_at
		FROM retrieval_cache WHERE workspace_id = $1 AND trigger_message_id = $2
	`, workspaceID, triggerMessageID).Scan(
		&e.WorkspaceID, &e.TriggerMessageID, &e.ShouldSearch, &e.RetrievedContext, &e.Sources, &searchesRaw, &e.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(searchesRaw) > 0 {
		_ = json.Unmarshal(searchesRaw, &e.SearchesPerformed)
	}
	return &e, nil
}

// put writes the cache entry inside tx, overwriting any existing row for the
// same key — last writer wins, per spec.md §4.G's explicit eventual-
// consistency note for concurrent invocations.
func (c *cacheStore) put(ctx context.Context, tx pgx.Tx, e *model.RetrievalCacheEntry) error {
	b, err := json.Marshal(e.SearchesPerformed)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO retrieval_cache (workspace_id, trigger_message_id, should_search, retrieved_context, sources, searches_performed)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (workspace_id, trigger_message_id) DO UPDATE SET
			should_search = EXCLUDED.should_search,
			retrieved_context = EXCLUDED.retrieved_context,
			sources = EXCLUDED.sources,
			searches_performed = EXCLUDED.searches_performed,
			created_at = now()
	`, e.WorkspaceID, e.TriggerMessageID, e.ShouldSearch, e.RetrievedContext, e.Sources, b)
	return err
}

// reader is the minimal read surface both pgx.Tx and the runner's pooled
// Reader satisfy, letting get() run during either Fetch or a plain lookup.
type reader interface {
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

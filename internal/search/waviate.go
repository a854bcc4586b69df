package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	weaviate "github.com/weaviate/weaviate-go-client/v5/weaviate"
	filters "github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	gql "github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
)

// ErrTenantNotFound is returned when a GraphQL query targets a workspace
// tenant that Waviate has not provisioned yet — typically a workspace that
// has never indexed anything. Callers treat it the same as an empty result
// set; the Retrieval Loop isolates it per query rather than failing the
// whole DECIDE/EXECUTE/EVALUATE pass.
var ErrTenantNotFound = errors.New("search: tenant not found")

// Result is a single hit returned by one of the per-target search methods,
// prior to any Retrieval Loop enrichment (neighbor messages, recency).
type Result struct {
	ID          string  `json:"id"`
	StreamID    string  `json:"streamId"`
	WorkspaceID string  `json:"workspaceId"`
	Snippet     string  `json:"snippet"`
	Score       float64 `json:"score"`
}

// Searcher abstracts Waviate interactions for the three retrieval targets
// the spec names (memos, messages, attachments), scoped per workspace
// tenant and optionally narrowed to a set of stream IDs.
//
//go:generate mockery --name=Searcher
type Searcher interface {
	SearchMemos(ctx context.Context, workspaceID string, streamIDs []string, query string, vec []float32, topK int, alpha float32) ([]Result, error)
	SearchMessages(ctx context.Context, workspaceID string, streamIDs []string, query string, vec []float32, topK int, alpha float32) ([]Result, error)
	SearchAttachments(ctx context.Context, workspaceID string, streamIDs []string, query string, topK int) ([]Result, error)

	UpsertMemo(ctx context.Context, id string, vec []float32, payload map[string]interface{}) error
	UpsertMessage(ctx context.Context, id string, vec []float32, payload map[string]interface{}) error
	UpsertAttachment(ctx context.Context, id string, payload map[string]interface{}) error

	DeleteMemo(ctx context.Context, workspaceID, id string) error
	DeleteMessage(ctx context.Context, workspaceID, id string) error
	DeleteAttachment(ctx context.Context, workspaceID, id string) error
}

// waviateSearcher implements Searcher using weaviate-go-client.
type waviateSearcher struct {
	client *weaviate.Client
}

// NewWaviateSearcher constructs a Searcher for baseURL host.
func NewWaviateSearcher(baseURL string) (Searcher, error) {
	cfg := weaviate.Config{Scheme: "http", Host: baseURL}
	cl, err := weaviate.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	return &waviateSearcher{client: cl}, nil
}

// ensureTenant creates the tenant for the given class if it does not already
// exist. A tenant here is a workspace, not an individual actor.
func (w *waviateSearcher) ensureTenant(ctx context.Context, className, tenant string) {
	if tenant == "" {
		return
	}
	t := models.Tenant{Name: tenant}
	_ = w.client.Schema().TenantsCreator().WithClassName(className).WithTenants(t).Do(ctx)
}

func (w *waviateSearcher) UpsertMemo(ctx context.Context, id string, vec []float32, payload map[string]interface{}) error {
	return w.upsert(ctx, classMemo, id, vec, payload)
}

func (w *waviateSearcher) UpsertMessage(ctx context.Context, id string, vec []float32, payload map[string]interface{}) error {
	return w.upsert(ctx, classMessage, id, vec, payload)
}

// UpsertAttachment indexes extracted attachment text for keyword search only;
// attachments are not embedded, so no vector is attached.
func (w *waviateSearcher) UpsertAttachment(ctx context.Context, id string, payload map[string]interface{}) error {
	return w.upsert(ctx, classAttachment, id, nil, payload)
}

func (w *waviateSearcher) upsert(ctx context.Context, className, id string, vec []float32, payload map[string]interface{}) error {
	if w == nil || w.client == nil {
		return fmt.Errorf("waviate client not initialised")
	}
	tenant, _ := payload["workspaceId"].(string)
	w.ensureTenant(ctx, className, tenant)

	creator := w.client.Data().Creator().WithClassName(className).WithTenant(tenant).WithID(id).WithProperties(payload)
	if vec != nil {
		creator = creator.WithVector(vec)
	}
	_, err := creator.Do(ctx)
	return err
}

func (w *waviateSearcher) DeleteMemo(ctx context.Context, workspaceID, id string) error {
	return w.delete(ctx, classMemo, workspaceID, id)
}

func (w *waviateSearcher) DeleteMessage(ctx context.Context, workspaceID, id string) error {
	return w.delete(ctx, classMessage, workspaceID, id)
}

func (w *waviateSearcher) DeleteAttachment(ctx context.Context, workspaceID, id string) error {
	return w.delete(ctx, classAttachment, workspaceID, id)
}

// delete is best-effort; index cleanup failures never surface to the caller,
// matching the rest of this package's tolerance for a lagging search index.
func (w *waviateSearcher) delete(ctx context.Context, className, workspaceID, id string) error {
	if w == nil || w.client == nil || workspaceID == "" || id == "" {
		return nil
	}
	_ = w.client.Data().Deleter().WithClassName(className).WithTenant(workspaceID).WithID(id).Do(ctx)
	return nil
}

func (w *waviateSearcher) SearchMemos(ctx context.Context, workspaceID string, streamIDs []string, query string, vec []float32, topK int, alpha float32) ([]Result, error) {
	return w.hybridSearch(ctx, classMemo, workspaceID, streamIDs, query, vec, topK, alpha, []string{"body"})
}

func (w *waviateSearcher) SearchMessages(ctx context.Context, workspaceID string, streamIDs []string, query string, vec []float32, topK int, alpha float32) ([]Result, error) {
	return w.hybridSearch(ctx, classMessage, workspaceID, streamIDs, query, vec, topK, alpha, []string{"body"})
}

// SearchAttachments is a keyword-only (alpha=0) hybrid search — attachment
// extraction text has no embedding, so vec is left nil and the query degrades
// to pure BM25 over extractionText.
func (w *waviateSearcher) SearchAttachments(ctx context.Context, workspaceID string, streamIDs []string, query string, topK int) ([]Result, error) {
	return w.hybridSearch(ctx, classAttachment, workspaceID, streamIDs, query, nil, topK, 0, []string{"filename", "extractionText"})
}

func (w *waviateSearcher) hybridSearch(ctx context.Context, className, workspaceID string, streamIDs []string, query string, vec []float32, topK int, alpha float32, props []string) ([]Result, error) {
	hy := (&gql.HybridArgumentBuilder{}).
		WithQuery(query).
		WithAlpha(alpha).
		WithProperties(props)
	if vec != nil {
		hy = hy.WithVector(vec)
	}

	req := w.client.GraphQL().Get().
		WithClassName(className).
		WithHybrid(hy).
		WithLimit(topK).
		WithFields(
			gql.Field{Name: "objId"},
			gql.Field{Name: "streamId"},
			gql.Field{Name: "workspaceId"},
			gql.Field{Name: "snippet"},
			gql.Field{Name: "_additional", Fields: []gql.Field{{Name: "score"}}},
		)
	if where := streamFilter(streamIDs); where != nil {
		req = req.WithWhere(where)
	}
	if workspaceID != "" {
		req = req.WithTenant(workspaceID)
	}

	resp, err := req.Do(ctx)
	if err != nil {
		return nil, err
	}
	if len(resp.Errors) > 0 {
		if isTenantNotFound(resp.Errors) {
			return nil, ErrTenantNotFound
		}
		return nil, fmt.Errorf("waviate graphql: %s", formatGraphQLErrors(resp.Errors))
	}

	getData, ok := resp.Data["Get"].(map[string]interface{})
	if !ok {
		return nil, nil
	}
	classVal := getData[className]
	if classVal == nil {
		return []Result{}, nil
	}
	raw, ok := classVal.([]interface{})
	if !ok {
		return nil, nil
	}

	out := make([]Result, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		out = append(out, Result{
			ID:          stringField(m, "objId"),
			StreamID:    stringField(m, "streamId"),
			WorkspaceID: stringField(m, "workspaceId"),
			Snippet:     stringField(m, "snippet"),
			Score:       scoreField(m),
		})
	}
	return out, nil
}

// streamFilter builds a WHERE clause matching any of streamIDs, or nil when
// the caller did not narrow the search to specific streams.
func streamFilter(streamIDs []string) *filters.WhereBuilder {
	switch len(streamIDs) {
	case 0:
		return nil
	case 1:
		return filters.Where().WithPath([]string{"streamId"}).WithOperator(filters.Equal).WithValueText(streamIDs[0])
	default:
		operands := make([]*filters.WhereBuilder, 0, len(streamIDs))
		for _, id := range streamIDs {
			operands = append(operands, filters.Where().WithPath([]string{"streamId"}).WithOperator(filters.Equal).WithValueText(id))
		}
		return filters.Where().WithOperator(filters.Or).WithOperands(operands)
	}
}

func stringField(m map[string]interface{}, name string) string {
	if v, ok := m[name].(string); ok {
		return v
	}
	return ""
}

func scoreField(m map[string]interface{}) float64 {
	add, ok := m["_additional"].(map[string]interface{})
	if !ok {
		return 0
	}
	switch v := add["score"].(type) {
	case float64:
		return v
	case string:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return 0
}

// isTenantNotFound inspects a GraphQL errors payload for a tenant-not-found
// message, the shape Waviate uses when a workspace has never been indexed.
func isTenantNotFound(errs interface{}) bool {
	switch v := errs.(type) {
	case []interface{}:
		for _, e := range v {
			if tenantMsg(e) {
				return true
			}
		}
	case []error:
		for _, e := range v {
			if strings.Contains(e.Error(), "tenant not found") {
				return true
			}
		}
	}
	return strings.Contains(strings.ToLower(fmt.Sprintf("%v", errs)), "tenant not found")
}

func tenantMsg(e interface{}) bool {
	switch m := e.(type) {
	case map[string]interface{}:
		if msg, ok := m["message"].(string); ok {
			return strings.Contains(strings.ToLower(msg), "tenant not found")
		}
	case string:
		return strings.Contains(strings.ToLower(m), "tenant not found")
	}
	return false
}

func formatGraphQLErrors(errs interface{}) string {
	if b, err := json.Marshal(errs); err == nil {
		return string(b)
	}
	return fmt.Sprintf("%v", errs)
}

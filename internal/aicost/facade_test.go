package aicost

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatcore/eventsub/internal/model"
	"github.com/chatcore/eventsub/internal/testutil"
)

func newTestProvider(t *testing.T, hits *int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(hits, 1)
		switch r.URL.Path {
		case "/chat/completions":
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"choices": []map[string]interface{}{
					{"message": map[string]string{"content": "hello"}},
				},
				"usage": map[string]interface{}{"prompt_tokens": 5, "completion_tokens": 2, "total_tokens": 7, "cost": 0.01},
			})
		case "/embeddings":
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"data": []map[string]interface{}{{"embedding": []float32{0.1, 0.2}}},
				"usage": map[string]interface{}{"prompt_tokens": 3, "total_tokens": 3, "cost": 0.001},
			})
		}
	}))
}

func TestFacade_GenerateText_HappyPath_RecordsUsage(t *testing.T) {
	pool := testutil.StartPostgres(t)
	var hits int32
	srv := newTestProvider(t, &hits)
	defer srv.Close()

	enforcer := NewEnforcer(pool, time.Hour, 0, 0, nil)
	recorder := NewRecorder(pool)
	f := NewFacade(srv.URL, "", 5*time.Second, enforcer, recorder, zerolog.Nop(), 0, 0)

	cc := CallContext{WorkspaceID: "ws-happy", FunctionID: "test"}
	reply, err := f.GenerateText(context.Background(), cc, "gpt-test", "hi")
	require.NoError(t, err)
	assert.Equal(t, "hello", reply)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))

	var count int
	require.NoError(t, pool.QueryRow(context.Background(),
		`SELECT count(*) FROM cost_records WHERE workspace_id = $1`, "ws-happy").Scan(&count))
	assert.Equal(t, 1, count)
}

// TestFacade_HardLimitBlocksAllProviderHTTP exercises seed scenario 3: once a
// workspace's spend meets the hard limit, every facade call returns
// model.ErrBudgetExceeded before issuing any HTTP request, and no cost
// record is written for the blocked call.
func TestFacade_HardLimitBlocksAllProviderHTTP(t *testing.T) {
	pool := testutil.StartPostgres(t)
	var hits int32
	srv := newTestProvider(t, &hits)
	defer srv.Close()

	recorder := NewRecorder(pool)
	ctx := context.Background()
	require.NoError(t, recorder.RecordUsage(ctx, CallContext{WorkspaceID: "ws-blocked", FunctionID: "seed"}, "gpt-test", Usage{
		TotalTokens: 1,
		CostUSD:     floatPtr(500.0), // 50000 cents
	}))

	enforcer := NewEnforcer(pool, time.Hour, 10000, 20000, nil)
	f := NewFacade(srv.URL, "", 5*time.Second, enforcer, recorder, zerolog.Nop(), 0, 0)

	cc := CallContext{WorkspaceID: "ws-blocked", FunctionID: "test"}

	_, err := f.GenerateText(ctx, cc, "gpt-test", "hi")
	assert.ErrorIs(t, err, model.ErrBudgetExceeded)

	_, err = f.Embed(ctx, cc, "embed-test", "hi")
	assert.ErrorIs(t, err, model.ErrBudgetExceeded)

	assert.Equal(t, int32(0), atomic.LoadInt32(&hits), "no HTTP request may reach the provider once the hard limit is tripped")

	var count int
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT count(*) FROM cost_records WHERE workspace_id = $1 AND function_id = 'test'`, "ws-blocked").Scan(&count))
	assert.Equal(t, 0, count, "a blocked call must not write a cost record")
}

func TestFacade_GenerateObject_RepairsNearJSONOnce(t *testing.T) {
	pool := testutil.StartPostgres(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"content": "```json\n{\"stream_id\": \"s1\"}\n```"}},
			},
			"usage": map[string]interface{}{"prompt_tokens": 1, "completion_tokens": 1, "total_tokens": 2},
		})
	}))
	defer srv.Close()

	enforcer := NewEnforcer(pool, time.Hour, 0, 0, nil)
	recorder := NewRecorder(pool)
	f := NewFacade(srv.URL, "", 5*time.Second, enforcer, recorder, zerolog.Nop(), 0, 0)

	schema := Schema{Required: []string{"streamId"}, Types: map[string]string{"streamId": "string"}}
	obj, err := f.GenerateObject(context.Background(), CallContext{WorkspaceID: "ws-repair", FunctionID: "test"}, "gpt-test", "prompt", schema)
	require.NoError(t, err)
	require.NotNil(t, obj)
	assert.Equal(t, "s1", obj["streamId"])
}

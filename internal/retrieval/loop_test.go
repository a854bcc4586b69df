package retrieval

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatcore/eventsub/internal/aicost"
	"github.com/chatcore/eventsub/internal/model"
	"github.com/chatcore/eventsub/internal/search"
)

type fakeGenerator struct {
	calls     int
	responses []map[string]interface{}
	err       error
}

func (f *fakeGenerator) GenerateObject(ctx context.Context, cc aicost.CallContext, modelName, prompt string, schema aicost.Schema) (map[string]interface{}, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.calls >= len(f.responses) {
		return map[string]interface{}{"sufficient": true}, nil
	}
	resp := f.responses[f.calls]
	f.calls++
	return resp, nil
}

type fakeSearcher struct {
	memoHits       []search.Result
	messageHits    []search.Result
	attachmentHits []search.Result
}

func (f *fakeSearcher) SearchMemos(ctx context.Context, workspaceID string, streamIDs []string, q string, vec []float32, topK int, alpha float32) ([]search.Result, error) {
	return f.memoHits, nil
}
func (f *fakeSearcher) SearchMessages(ctx context.Context, workspaceID string, streamIDs []string, q string, vec []float32, topK int, alpha float32) ([]search.Result, error) {
	return f.messageHits, nil
}
func (f *fakeSearcher) SearchAttachments(ctx context.Context, workspaceID string, streamIDs []string, q string, topK int) ([]search.Result, error) {
	return f.attachmentHits, nil
}
func (f *fakeSearcher) UpsertMemo(ctx context.Context, id string, vec []float32, payload map[string]interface{}) error {
	return nil
}
func (f *fakeSearcher) UpsertMessage(ctx context.Context, id string, vec []float32, payload map[string]interface{}) error {
	return nil
}
func (f *fakeSearcher) UpsertAttachment(ctx context.Context, id string, payload map[string]interface{}) error {
	return nil
}
func (f *fakeSearcher) DeleteMemo(ctx context.Context, workspaceID, id string) error      { return nil }
func (f *fakeSearcher) DeleteMessage(ctx context.Context, workspaceID, id string) error   { return nil }
func (f *fakeSearcher) DeleteAttachment(ctx context.Context, workspaceID, id string) error { return nil }

type fakeEmbedder struct{ err error }

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []float32{0.1, 0.2}, nil
}

func TestBaselineQueries_DeterministicVariants(t *testing.T) {
	trigger := &model.Message{MessageID: "m1", Body: "where did we leave the deployment runbook discussion"}
	qs := baselineQueries(trigger)
	require.NotEmpty(t, qs)
	assert.Equal(t, trigger.Body, qs[0].QueryText)
	for _, q := range qs {
		assert.Contains(t, []string{"memos", "messages"}, q.Target)
		assert.Equal(t, "semantic", q.Type)
	}
}

func TestBaselineQueries_EmptyBodyProducesNoQueries(t *testing.T) {
	assert.Empty(t, baselineQueries(&model.Message{MessageID: "m1", Body: "   "}))
}

func TestMergeDedup_RemovesDuplicateTriples(t *testing.T) {
	planned := []query{{Target: "memos", Type: "semantic", QueryText: "x"}}
	baseline := []query{{Target: "memos", Type: "semantic", QueryText: "x"}, {Target: "messages", Type: "semantic", QueryText: "y"}}
	merged := mergeDedup(planned, baseline)
	assert.Len(t, merged, 2)
}

func TestAccumulator_DedupsByID(t *testing.T) {
	acc := newAccumulator()
	acc.addMemo(&model.Memo{MemoID: "a", Body: "first"})
	acc.addMemo(&model.Memo{MemoID: "a", Body: "second"})
	memos, _, _ := acc.snapshot()
	require.Len(t, memos, 1)
	assert.Equal(t, "second", memos[0].Body)
}

func TestLoop_Execute_IsolatesPerQueryFailure(t *testing.T) {
	log := zerolog.Nop()
	l := &Loop{
		searcher: &erroringSearcher{},
		embedder: &fakeEmbedder{},
		cfg:      Config{}.withDefaults(),
		log:      log,
	}
	s := &fetchSnapshot{inv: Invocation{WorkspaceID: "ws1"}, streamIDs: []string{"s1"}}
	acc := newAccumulator()
	executed := l.execute(context.Background(), s, []query{{Target: "memos", Type: "semantic", QueryText: "x"}}, acc)
	require.Len(t, executed, 1)
	assert.Equal(t, 0, executed[0].ResultCount)
}

func TestLoop_Decide_ParsesPlannedQueries(t *testing.T) {
	l := &Loop{
		ai: &fakeGenerator{responses: []map[string]interface{}{
			{"needsSearch": true, "queries": []interface{}{
				map[string]interface{}{"target": "memos", "type": "semantic", "queryText": "deploy runbook"},
			}},
		}},
		cfg: Config{}.withDefaults(),
		log: zerolog.Nop(),
	}
	s := &fetchSnapshot{inv: Invocation{WorkspaceID: "ws1", TriggerMessage: &model.Message{MessageID: "m1", Body: "hi"}}}
	resp, err := l.decide(context.Background(), s)
	require.NoError(t, err)
	require.Len(t, resp.Queries, 1)
	assert.Equal(t, "memos", resp.Queries[0].Target)
}

func TestLoop_Decide_GeneratorErrorIsReturned(t *testing.T) {
	l := &Loop{
		ai:  &fakeGenerator{err: assertErr},
		cfg: Config{}.withDefaults(),
		log: zerolog.Nop(),
	}
	s := &fetchSnapshot{inv: Invocation{WorkspaceID: "ws1", TriggerMessage: &model.Message{MessageID: "m1", Body: "hi"}}}
	_, err := l.decide(context.Background(), s)
	assert.Error(t, err)
}

func TestLoop_Execute_MergesHybridSearchHits(t *testing.T) {
	l := &Loop{
		searcher: &fakeSearcher{memoHits: []search.Result{{ID: "mo1", Snippet: "deploy steps"}}},
		embedder: &fakeEmbedder{},
		cfg:      Config{}.withDefaults(),
		log:      zerolog.Nop(),
	}
	s := &fetchSnapshot{inv: Invocation{WorkspaceID: "ws1"}, streamIDs: []string{"s1"}}
	acc := newAccumulator()
	executed := l.execute(context.Background(), s, []query{{Target: "memos", Type: "semantic", QueryText: "deploy"}}, acc)
	require.Len(t, executed, 1)
	assert.Equal(t, 1, executed[0].ResultCount)
	memos, _, _ := acc.snapshot()
	require.Len(t, memos, 1)
	assert.Equal(t, "deploy steps", memos[0].Body)
}

type erroringSearcher struct{ fakeSearcher }

func (e *erroringSearcher) SearchMemos(ctx context.Context, workspaceID string, streamIDs []string, q string, vec []float32, topK int, alpha float32) ([]search.Result, error) {
	return nil, assertErr
}

var assertErr = assertError("boom")

type assertError string

func (e assertError) Error() string { return string(e) }

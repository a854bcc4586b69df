package workers

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatcore/eventsub/internal/aicost"
	"github.com/chatcore/eventsub/internal/model"
)

type fakeGenerator struct {
	obj map[string]interface{}
	err error
}

func (f *fakeGenerator) GenerateObject(ctx context.Context, cc aicost.CallContext, modelName, prompt string, schema aicost.Schema) (map[string]interface{}, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.obj, nil
}

func newTestWorkers(ai ObjectGenerator) *Workers {
	return &Workers{ai: ai, cfg: Config{}.withDefaults(), log: zerolog.Nop()}
}

func TestNamerHandler_Compute_OptionalDeclineReturnsNilEffect(t *testing.T) {
	h := &namerHandler{w: newTestWorkers(&fakeGenerator{obj: map[string]interface{}{"name": namerSentinel}})}
	eff, err := h.Compute(context.Background(), &namerSnapshot{stream: &model.Stream{}, required: false})
	require.NoError(t, err)
	assert.Nil(t, eff)
}

func TestNamerHandler_Compute_RequiredDeclineReturnsError(t *testing.T) {
	h := &namerHandler{w: newTestWorkers(&fakeGenerator{obj: map[string]interface{}{"name": namerSentinel}}), streamID: "s1"}
	_, err := h.Compute(context.Background(), &namerSnapshot{stream: &model.Stream{}, required: true})
	assert.Error(t, err)
}

func TestNamerHandler_Compute_TrimsQuotesAndCapsLength(t *testing.T) {
	long := make([]byte, namerMaxNameLen+20)
	for i := range long {
		long[i] = 'a'
	}
	h := &namerHandler{w: newTestWorkers(&fakeGenerator{obj: map[string]interface{}{"name": `"` + string(long) + `"`}})}
	eff, err := h.Compute(context.Background(), &namerSnapshot{stream: &model.Stream{}})
	require.NoError(t, err)
	ne := eff.(*namerEffect)
	assert.Len(t, ne.name, namerMaxNameLen)
}

func TestParseConversationUpdates_SkipsInvalidEntries(t *testing.T) {
	raw := []interface{}{
		map[string]interface{}{"action": "create", "title": "t", "summary": "s"},
		map[string]interface{}{"action": "update"}, // missing conversationId, dropped
		"not a map",
		map[string]interface{}{"action": "update", "conversationId": "c1", "title": "t2"},
	}
	out := parseConversationUpdates(raw)
	require.Len(t, out, 2)
	assert.Equal(t, "create", out[0].action)
	assert.Equal(t, "c1", out[1].conversationID)
}

func TestBoundaryHandler_Compute_NoUpdatesReturnsNilEffect(t *testing.T) {
	h := &boundaryHandler{w: newTestWorkers(&fakeGenerator{obj: map[string]interface{}{"conversations": []interface{}{}}})}
	eff, err := h.Compute(context.Background(), &boundarySnapshot{trigger: &model.Message{Body: "hi"}})
	require.NoError(t, err)
	assert.Nil(t, eff)
}

func TestBoundaryHandler_CommitUpdate_DropsConversationOutsideValidTargets(t *testing.T) {
	h := &boundaryHandler{w: newTestWorkers(nil), streamID: "s1"}
	err := h.commitUpdate(context.Background(), nil, conversationUpdate{action: "update", conversationID: "unknown"}, map[string]struct{}{"c1": {}})
	require.NoError(t, err, "a rejected completeness-update target is a dropped fragment, not a Commit failure")
}

func TestMemoProcessorHandler_Compute_EmptyBodySkips(t *testing.T) {
	h := &memoProcessorHandler{w: newTestWorkers(&fakeGenerator{obj: map[string]interface{}{"body": "   "}})}
	eff, err := h.Compute(context.Background(), &memoSnapshot{pending: []*model.MemoPendingItem{{ID: 1, SourceType: "message", SourceID: "m1"}}})
	require.NoError(t, err)
	assert.Nil(t, eff)
}

func TestMemoProcessorHandler_Compute_TracksThroughMessageAndPendingIDs(t *testing.T) {
	h := &memoProcessorHandler{w: newTestWorkers(&fakeGenerator{obj: map[string]interface{}{"body": "summary"}})}
	eff, err := h.Compute(context.Background(), &memoSnapshot{pending: []*model.MemoPendingItem{
		{ID: 1, SourceType: "message", SourceID: "m1"},
		{ID: 2, SourceType: "conversation", SourceID: "c1"},
	}})
	require.NoError(t, err)
	me := eff.(*memoEffect)
	assert.Equal(t, "m1", me.throughMessageID)
	assert.Equal(t, []int64{1, 2}, me.pendingIDs)
}

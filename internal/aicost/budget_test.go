package aicost

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatcore/eventsub/internal/testutil"
)

func TestEnforcer_CheckBudget_AllowsUnderSoftLimit(t *testing.T) {
	pool := testutil.StartPostgres(t)
	recorder := NewRecorder(pool)
	ctx := context.Background()

	require.NoError(t, recorder.RecordUsage(ctx, CallContext{WorkspaceID: "ws-1", FunctionID: "test"}, "gpt-test", Usage{
		TotalTokens: 10,
		CostUSD:     floatPtr(0.50),
	}))

	e := NewEnforcer(pool, time.Hour, 10000, 20000, nil)
	status, err := e.CheckBudget(ctx, "ws-1", "gpt-test")
	require.NoError(t, err)
	assert.True(t, status.Allowed)
	assert.False(t, status.SoftExceeded)
	assert.False(t, status.HardExceeded)
}

func TestEnforcer_CheckBudget_SoftLimitSubstitutesModel(t *testing.T) {
	pool := testutil.StartPostgres(t)
	recorder := NewRecorder(pool)
	ctx := context.Background()

	require.NoError(t, recorder.RecordUsage(ctx, CallContext{WorkspaceID: "ws-2", FunctionID: "test"}, "gpt-big", Usage{
		TotalTokens: 10,
		CostUSD:     floatPtr(150.0), // 15000 cents
	}))

	e := NewEnforcer(pool, time.Hour, 10000, 20000, map[string]string{"gpt-big": "gpt-small"})
	status, err := e.CheckBudget(ctx, "ws-2", "gpt-big")
	require.NoError(t, err)
	assert.True(t, status.Allowed)
	assert.True(t, status.SoftExceeded)
	assert.Equal(t, "gpt-small", status.RecommendedModel)
}

// TestEnforcer_CheckBudget_HardLimitBlocks exercises seed scenario 3: once
// spend meets the hard limit, CheckBudget reports Allowed=false.
func TestEnforcer_CheckBudget_HardLimitBlocks(t *testing.T) {
	pool := testutil.StartPostgres(t)
	recorder := NewRecorder(pool)
	ctx := context.Background()

	require.NoError(t, recorder.RecordUsage(ctx, CallContext{WorkspaceID: "ws-3", FunctionID: "test"}, "gpt-test", Usage{
		TotalTokens: 10,
		CostUSD:     floatPtr(300.0), // 30000 cents
	}))

	e := NewEnforcer(pool, time.Hour, 10000, 20000, nil)
	status, err := e.CheckBudget(ctx, "ws-3", "gpt-test")
	require.NoError(t, err)
	assert.False(t, status.Allowed)
	assert.True(t, status.HardExceeded)
}

func TestEnforcer_CheckBudget_IgnoresSpendOutsideWindow(t *testing.T) {
	pool := testutil.StartPostgres(t)
	ctx := context.Background()

	_, err := pool.Exec(ctx, `
		INSERT INTO cost_records (workspace_id, function_id, model, origin, prompt_tokens, completion_tokens, total_tokens, cost_cents, created_at)
		VALUES ('ws-4', 'test', 'gpt-test', 'system', 0, 0, 10, 50000, now() - interval '2 hours')
	`)
	require.NoError(t, err)

	e := NewEnforcer(pool, time.Hour, 10000, 20000, nil)
	status, err := e.CheckBudget(ctx, "ws-4", "gpt-test")
	require.NoError(t, err)
	assert.True(t, status.Allowed)
	assert.Equal(t, float64(0), status.SpentCents)
}

func floatPtr(f float64) *float64 { return &f }

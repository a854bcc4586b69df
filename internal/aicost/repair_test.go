package aicost

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRepair_StripsMarkdownFence(t *testing.T) {
	out, ok := Repair("```json\n{\"reasoning\": \"ok\"}\n```")
	require.True(t, ok)
	assert.Equal(t, `{"reasoning": "ok"}`, out)
}

func TestRepair_RenamesAliasedFields(t *testing.T) {
	out, ok := Repair(`{"preserve": true, "reason": "novel fact"}`)
	require.True(t, ok)
	assert.Contains(t, out, `"isKnowledgeWorthy":`)
	assert.Contains(t, out, `"reasoning":`)
}

func TestRepair_SnakeCaseKeysBecomeCamelCase(t *testing.T) {
	out, ok := Repair(`{"stream_id": "s1", "is_boundary": true}`)
	require.True(t, ok)
	assert.Contains(t, out, `"streamId":`)
	assert.Contains(t, out, `"isBoundary":`)
}

func TestRepair_EmptyInput_ReturnsFalse(t *testing.T) {
	_, ok := Repair("   ")
	assert.False(t, ok)
}

// TestRepair_Idempotent exercises the invariant that applying Repair to its
// own output produces the same text: already-camelCase keys and fence-free
// text are no-ops on a second pass.
func TestRepair_Idempotent(t *testing.T) {
	first, ok := Repair("```json\n{\"preserve\": false, \"stream_id\": \"s9\"}\n```")
	require.True(t, ok)

	second, ok := Repair(first)
	require.True(t, ok)

	assert.Equal(t, first, second)
}

package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewForTesting(t *testing.T) {
	cfg := NewForTesting()
	require.NotNil(t, cfg)
	assert.True(t, cfg.IsTesting())
	assert.False(t, cfg.IsProduction())
	assert.Equal(t, ":8080", cfg.GetHTTPAddr())
}

func TestResolveDefaults_FillsPoolSize(t *testing.T) {
	cfg := &Config{}
	require.NoError(t, cfg.ResolveDefaults())
	assert.Equal(t, int32(20), cfg.PostgresMaxConns)
}

func TestResolveDefaults_RejectsInvertedBudget(t *testing.T) {
	cfg := &Config{BudgetSoftLimitCents: 1000, BudgetHardLimitCents: 100}
	err := cfg.ResolveDefaults()
	assert.Error(t, err)
}

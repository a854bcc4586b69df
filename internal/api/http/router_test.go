package http

import (
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatcore/eventsub/internal/health"
)

func TestRouter_Healthz_NilCheckerReportsUp(t *testing.T) {
	r := NewRouter(nil, "test-version")

	req := httptest.NewRequest("GET", "/healthz", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, 200, w.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "UP", body["status"])
}

func TestRouter_Healthz_UnstartedCheckerReportsDown(t *testing.T) {
	checker := health.NewServiceHealthChecker(zerolog.Nop())
	r := NewRouter(checker, "test-version")

	req := httptest.NewRequest("GET", "/healthz", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, 503, w.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "DOWN", body["status"])
}

func TestRouter_Version_ReturnsConfiguredVersion(t *testing.T) {
	r := NewRouter(nil, "v1.2.3")

	req := httptest.NewRequest("GET", "/version", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, 200, w.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "v1.2.3", body["version"])
}

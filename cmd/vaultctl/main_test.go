package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withServer(t *testing.T, handler http.HandlerFunc) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	old := serverURL
	serverURL = srv.URL
	t.Cleanup(func() { serverURL = old })
}

func TestGetJSON(t *testing.T) {
	withServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		w.Write([]byte(`{"status":"ok"}`))
	})

	var resp HealthResponse
	require.NoError(t, getJSON("/health", &resp))
	assert.Equal(t, "ok", resp.Status)
}

func TestPostJSONSendsBody(t *testing.T) {
	withServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req EnqueueRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gmail", req.Source)
		assert.Equal(t, "post the launch", req.Body)

		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":"t-1","status":"new"}`))
	})

	var resp EnqueueResponse
	req := EnqueueRequest{Source: "gmail", Body: "post the launch"}
	require.NoError(t, postJSON("/api/v1/tasks", req, &resp))
	assert.Equal(t, "t-1", resp.ID)
}

func TestPostJSONSurfacesServerErrors(t *testing.T) {
	withServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"message":"task not found"}`))
	})

	err := postJSON("/api/v1/tasks/bogus/approve", nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
	assert.Contains(t, err.Error(), "task not found")
}

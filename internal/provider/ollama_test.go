package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOllama_Query(t *testing.T) {
	var got ollamaChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"model":"gemma3:27b","message":{"role":"assistant","content":"hello there"},"done":true}`))
	}))
	defer srv.Close()

	o := NewOllama(WithOllamaBaseURL(srv.URL + "/"))
	resp, err := o.Query(context.Background(), Request{
		Model:    "gemma3:27b",
		Messages: UserMessage("say hi"),
	})
	require.NoError(t, err)

	assert.Equal(t, "hello there", resp.Content)
	assert.Equal(t, "gemma3:27b", resp.Model)
	assert.Equal(t, "ollama", resp.Provider)
	assert.False(t, got.Stream)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, RoleUser, got.Messages[0].Role)
	assert.Equal(t, "say hi", got.Messages[0].Content)
}

func TestOllama_QueryErrors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		transient bool
	}{
		{name: "server error", status: http.StatusInternalServerError, body: "boom", transient: true},
		{name: "model missing", status: http.StatusNotFound, body: `{"error":"model not found"}`},
		{name: "error field", status: http.StatusOK, body: `{"error":"out of memory"}`},
		{name: "bad json", status: http.StatusOK, body: `not json`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewOllama(WithOllamaBaseURL(srv.URL)).Query(context.Background(), Request{Model: "m", Messages: UserMessage("x")})
			require.Error(t, err)
			assert.Equal(t, tt.transient, IsTransient(err))
		})
	}
}

func TestOllama_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewOllama(WithOllamaBaseURL(url)).Query(context.Background(), Request{Model: "m", Messages: UserMessage("x")})
	require.Error(t, err)
	assert.True(t, IsTransient(err), "connection refused should be transient: %v", err)
}

func TestOllama_ListModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/tags", r.URL.Path)
		_, _ = w.Write([]byte(`{"models":[{"name":"gemma3:27b"},{"name":"llama3:latest"}]}`))
	}))
	defer srv.Close()

	models, err := NewOllama(WithOllamaBaseURL(srv.URL)).ListModels(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"gemma3:27b", "llama3:latest"}, models)
}

func TestIsTransient(t *testing.T) {
	assert.False(t, IsTransient(nil))
	assert.False(t, IsTransient(context.DeadlineExceeded))
	assert.False(t, IsTransient(errors.New("plain")))
	assert.True(t, IsTransient(&APIError{StatusCode: http.StatusTooManyRequests}))
	assert.False(t, IsTransient(&APIError{StatusCode: http.StatusBadRequest}))
}

package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/johnayoung/llm-council/internal/config"
	"github.com/johnayoung/llm-council/internal/council"
	"github.com/johnayoung/llm-council/internal/provider"
	"github.com/johnayoung/llm-council/internal/storage"
	"github.com/johnayoung/llm-council/internal/storage/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeLister struct {
	models []string
	err    error
}

func (f fakeLister) ListModels(context.Context) ([]string, error) { return f.models, f.err }

// councilModel answers stage 1, ranks in presentation order and synthesizes.
func councilModel(chairErr error) provider.Provider {
	return provider.ProviderFunc(func(ctx context.Context, req provider.Request) (provider.Response, error) {
		prompt := req.Prompt()
		switch {
		case strings.Contains(prompt, "Chairman of an LLM Council"):
			if chairErr != nil {
				return provider.Response{}, chairErr
			}
			return provider.Response{Content: "final answer"}, nil
		case strings.Contains(prompt, "FINAL RANKING:"):
			return provider.Response{Content: "FINAL RANKING:\n1. Response A\n2. Response B"}, nil
		case strings.HasPrefix(prompt, "Generate a very short title"):
			return provider.Response{Content: "Go Basics"}, nil
		default:
			return provider.Response{Content: "answer from " + req.Model}, nil
		}
	})
}

func newTestServer(t *testing.T, chairErr error) (*Server, *config.Settings) {
	t.Helper()
	return newTestServerWith(t, councilModel(chairErr), []string{"http://localhost:5173"})
}

// newTestServerWith serves Ollama-style models from backend. Only the
// openai/ prefix is reserved, and nothing is registered for it.
func newTestServerWith(t *testing.T, backend provider.Provider, origins []string) (*Server, *config.Settings) {
	t.Helper()

	reg := provider.NewRegistry()
	reg.SetFallback(backend)
	reg.Reserve(provider.PrefixOpenAI)

	store, err := sqlite.Open(filepath.Join(t.TempDir(), "council.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	settings := config.NewSettings(config.Config{
		CouncilModels: []string{"gemma3:27b", "llama3"},
		ChairmanModel: "gemma3:27b",
	}, config.WithRouteCheck(func(model string) error {
		_, err := reg.Get(model)
		return err
	}))
	svc := council.NewService(store,
		func() *council.Pipeline { return council.NewPipeline(reg, settings.Snapshot()) },
		council.NewTitleGenerator(reg, settings.TitleModel, 0, nil),
		nil)

	lister := fakeLister{models: []string{"gemma3:27b", "llama3:latest"}}
	return New(svc, settings, lister, origins, nil), settings
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func createConversation(t *testing.T, h http.Handler) storage.Conversation {
	t.Helper()
	rec := do(t, h, http.MethodPost, "/api/conversations", "{}")
	require.Equal(t, http.StatusOK, rec.Code)
	return decode[storage.Conversation](t, rec)
}

func TestRootAndHealth(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	h := srv.Router()

	rec := do(t, h, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode[map[string]string](t, rec)["status"])

	rec = do(t, h, http.MethodGet, "/api/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	report := decode[provider.HealthReport](t, rec)
	assert.True(t, report.BackendAvailable)
	assert.True(t, report.Ready)
	assert.Len(t, report.CouncilModels, 2)
}

func TestConfigRoutes(t *testing.T) {
	srv, settings := newTestServer(t, nil)
	h := srv.Router()

	rec := do(t, h, http.MethodGet, "/api/config", "")
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[map[string]any](t, rec)
	assert.Equal(t, "gemma3:27b", got["chairman_model"])
	assert.Len(t, got["available_models"], 2)

	rec = do(t, h, http.MethodPost, "/api/config", `{"council_models":["llama3"],"chairman_model":"llama3"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"llama3"}, settings.Snapshot().CouncilModels)

	rec = do(t, h, http.MethodPost, "/api/config", `{"council_models":[],"chairman_model":"llama3"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = do(t, h, http.MethodPost, "/api/config", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/config", `{"council_models":["llama3","llama3"],"chairman_model":"llama3"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode[map[string]string](t, rec)["error"], "more than once")
}

func TestUpdateConfig_RejectsUnroutableModels(t *testing.T) {
	srv, settings := newTestServer(t, nil)
	h := srv.Router()

	rec := do(t, h, http.MethodPost, "/api/config", `{"council_models":["llama3","openai/gpt-4.1-mini"],"chairman_model":"llama3"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode[map[string]string](t, rec)["error"], "openai/gpt-4.1-mini")

	rec = do(t, h, http.MethodPost, "/api/config", `{"council_models":["llama3"],"chairman_model":"openai/gpt-4.1-mini"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Equal(t, []string{"gemma3:27b", "llama3"}, settings.Snapshot().CouncilModels)
	assert.Equal(t, "gemma3:27b", settings.Snapshot().ChairmanModel)
}

func TestTitleFollowsChairman(t *testing.T) {
	var (
		mu          sync.Mutex
		titleModels []string
	)
	base := councilModel(nil)
	backend := provider.ProviderFunc(func(ctx context.Context, req provider.Request) (provider.Response, error) {
		if strings.HasPrefix(req.Prompt(), "Generate a very short title") {
			mu.Lock()
			titleModels = append(titleModels, req.Model)
			mu.Unlock()
		}
		return base.Query(ctx, req)
	})
	srv, _ := newTestServerWith(t, backend, nil)
	h := srv.Router()

	rec := do(t, h, http.MethodPost, "/api/config", `{"council_models":["gemma3:27b","llama3"],"chairman_model":"llama3"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	conv := createConversation(t, h)
	rec = do(t, h, http.MethodPost, "/api/conversations/"+conv.ID+"/message", `{"content":"What is Go?"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"llama3"}, titleModels)
}

func TestConversationRoutes(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	h := srv.Router()

	conv := createConversation(t, h)
	assert.NotEmpty(t, conv.ID)

	rec := do(t, h, http.MethodGet, "/api/conversations/"+conv.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, conv.ID, decode[storage.Conversation](t, rec).ID)

	rec = do(t, h, http.MethodGet, "/api/conversations/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/conversations/"+conv.ID+"/message", `{"content":"  "}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/conversations/missing/message", `{"content":"hi"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/conversations/"+conv.ID+"/message", `{"content":"What is Go?"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[council.Result](t, rec)
	assert.Len(t, res.Stage1, 2)
	require.NotNil(t, res.Stage2)
	assert.Len(t, res.Stage2.Rankings, 2)
	require.NotNil(t, res.Stage3)
	assert.Equal(t, "final answer", res.Stage3.Response)

	rec = do(t, h, http.MethodGet, "/api/conversations", "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[[]storage.ConversationSummary](t, rec)
	require.Len(t, list, 1)
	assert.Equal(t, "Go Basics", list[0].Title)
	assert.Equal(t, 2, list[0].MessageCount)
}

func TestSendMessage_ChairmanFailure(t *testing.T) {
	srv, _ := newTestServer(t, errors.New("chairman down"))
	h := srv.Router()
	conv := createConversation(t, h)

	rec := do(t, h, http.MethodPost, "/api/conversations/"+conv.ID+"/message", `{"content":"What is Go?"}`)
	require.Equal(t, http.StatusBadGateway, rec.Code)

	var body struct {
		Error  string         `json:"error"`
		Result council.Result `json:"result"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body.Error, "chairman down")
	assert.Len(t, body.Result.Stage1, 2, "partial results surfaced")
	assert.Nil(t, body.Result.Stage3)
}

func readEvents(t *testing.T, rec *httptest.ResponseRecorder) []map[string]any {
	t.Helper()
	var events []map[string]any
	sc := bufio.NewScanner(rec.Body)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		payload, ok := strings.CutPrefix(line, "data: ")
		require.True(t, ok, "unexpected line %q", line)
		var e map[string]any
		require.NoError(t, json.Unmarshal([]byte(payload), &e))
		events = append(events, e)
	}
	require.NoError(t, sc.Err())
	return events
}

func TestSendMessageStream(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	h := srv.Router()
	conv := createConversation(t, h)

	rec := do(t, h, http.MethodPost, "/api/conversations/"+conv.ID+"/message/stream", `{"content":"What is Go?"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))

	var types []string
	var stage2 map[string]any
	for _, e := range readEvents(t, rec) {
		types = append(types, e["type"].(string))
		if e["type"] == "stage2_complete" {
			stage2 = e
		}
	}
	assert.Equal(t, []string{
		"stage1_start", "stage1_model_complete", "stage1_model_complete", "stage1_complete",
		"stage2_start", "stage2_complete", "stage3_start", "stage3_complete",
		"title_complete", "complete",
	}, types)

	require.NotNil(t, stage2)
	meta := stage2["metadata"].(map[string]any)
	assert.Equal(t, map[string]any{"Response A": "gemma3:27b", "Response B": "llama3"}, meta["label_to_model"])
	assert.Len(t, meta["aggregate_rankings"], 2)
}

func TestSendMessageStream_Errors(t *testing.T) {
	t.Run("unknown conversation", func(t *testing.T) {
		srv, _ := newTestServer(t, nil)
		rec := do(t, srv.Router(), http.MethodPost, "/api/conversations/missing/message/stream", `{"content":"hi"}`)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("chairman failure ends with error event", func(t *testing.T) {
		srv, _ := newTestServer(t, errors.New("chairman down"))
		h := srv.Router()
		conv := createConversation(t, h)

		rec := do(t, h, http.MethodPost, "/api/conversations/"+conv.ID+"/message/stream", `{"content":"What is Go?"}`)
		events := readEvents(t, rec)
		require.NotEmpty(t, events)
		last := events[len(events)-1]
		assert.Equal(t, "error", last["type"])
		assert.Contains(t, last["message"], "chairman down")
		assert.Equal(t, map[string]any{"kind": "synthesis"}, last["data"])
	})
}

func TestCORS(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	h := srv.Router()

	req := httptest.NewRequest(http.MethodOptions, "/api/conversations", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))

	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "http://evil.example")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORS_AnyOrigin(t *testing.T) {
	srv, _ := newTestServerWith(t, councilModel(nil), []string{"*"})
	h := srv.Router()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "http://anywhere.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Credentials"), "credentials are never sent to every origin")
}

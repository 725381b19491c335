package council

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/johnayoung/llm-council/internal/provider"
	"github.com/johnayoung/llm-council/internal/storage"
	"github.com/johnayoung/llm-council/internal/storage/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "council.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

type titlerFunc func(ctx context.Context, content string) string

func (f titlerFunc) Title(ctx context.Context, content string) string { return f(ctx, content) }

func newTestService(t *testing.T, chairErr error, titler Titler) (*Service, *sqlite.Store) {
	t.Helper()
	reg, _ := fakeRegistry(map[string]fakeModel{
		"model-a": member("alpha text", "Response B", "Response A"),
		"model-b": member("beta text", "Response B", "Response A"),
		"chair":   chair("final answer", chairErr),
	})
	settings := Settings{CouncilModels: []string{"model-a", "model-b"}, ChairmanModel: "chair"}
	store := openStore(t)
	svc := NewService(store, func() *Pipeline { return NewPipeline(reg, settings) }, titler, nil)
	return svc, store
}

func TestService_SendMessage(t *testing.T) {
	var titled atomic.Int32
	svc, _ := newTestService(t, nil, titlerFunc(func(ctx context.Context, content string) string {
		titled.Add(1)
		return "Go Question"
	}))
	ctx := context.Background()

	conv, err := svc.CreateConversation(ctx)
	require.NoError(t, err)
	assert.Equal(t, DefaultTitle, conv.Title)

	res, err := svc.SendMessage(ctx, conv.ID, "What is Go?")
	require.NoError(t, err)
	assert.Equal(t, "final answer", res.Stage3.Response)

	got, err := svc.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "Go Question", got.Title)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "What is Go?", got.Messages[0].Content)
	assert.Equal(t, storage.RoleAssistant, got.Messages[1].Role)
	assert.Equal(t, "final answer", got.Messages[1].Stage3.Response)
	assert.Equal(t, []string{"model-b", "model-a"}, got.Messages[1].Stage2.Aggregate.Models())

	// Only the first message names the conversation.
	_, err = svc.SendMessage(ctx, conv.ID, "And generics?")
	require.NoError(t, err)
	assert.Equal(t, int32(1), titled.Load())

	list, err := svc.ListConversations(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 4, list[0].MessageCount)
}

func TestService_UnknownConversation(t *testing.T) {
	svc, _ := newTestService(t, nil, nil)

	_, err := svc.SendMessage(context.Background(), "missing", "hi")
	require.ErrorIs(t, err, storage.ErrNotFound)

	_, err = svc.SendMessageStream(context.Background(), "missing", "hi")
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestService_SendMessageStream(t *testing.T) {
	release := make(chan struct{})
	svc, _ := newTestService(t, nil, titlerFunc(func(ctx context.Context, content string) string {
		<-release
		return "Slow Title"
	}))
	ctx := context.Background()
	conv, err := svc.CreateConversation(ctx)
	require.NoError(t, err)

	events, err := svc.SendMessageStream(ctx, conv.ID, "What is Go?")
	require.NoError(t, err)

	var got []EventType
	for e := range events {
		got = append(got, e.Type)
		// The title task must not gate any stage.
		if e.Type == EventStage3Complete {
			close(release)
		}
		if e.Type == EventTitleComplete {
			assert.Equal(t, TitleData{Title: "Slow Title"}, e.Data)
		}
	}

	assert.Equal(t, []EventType{
		EventStage1Start,
		EventStage1ModelComplete, EventStage1ModelComplete,
		EventStage1Complete,
		EventStage2Start, EventStage2Complete,
		EventStage3Start, EventStage3Complete,
		EventTitleComplete,
		EventComplete,
	}, got)

	stored, err := svc.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "Slow Title", stored.Title)
	assert.Len(t, stored.Messages, 2)
}

func TestService_ChairmanFailureNotPersisted(t *testing.T) {
	svc, _ := newTestService(t, errors.New("chairman down"), nil)
	ctx := context.Background()
	conv, err := svc.CreateConversation(ctx)
	require.NoError(t, err)

	events, err := svc.SendMessageStream(ctx, conv.ID, "What is Go?")
	require.NoError(t, err)

	var last Event
	var sawStage2 bool
	for e := range events {
		if e.Type == EventStage2Complete {
			sawStage2 = true
		}
		last = e
	}
	assert.True(t, sawStage2)
	assert.Equal(t, EventError, last.Type)
	assert.True(t, strings.Contains(last.Message, "chairman down"), last.Message)

	stored, err := svc.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, stored.Messages, 1, "only the user message is stored")
	assert.Equal(t, storage.RoleUser, stored.Messages[0].Role)
}

func TestTitleGenerator(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		err   error
		want  string
	}{
		{name: "trims quotes", reply: "  \"Go Concurrency Basics\"\n", want: "Go Concurrency Basics"},
		{name: "first line only", reply: "Go Basics\nThis title summarizes...", want: "Go Basics"},
		{name: "truncates", reply: strings.Repeat("word ", 20), want: strings.Repeat("word ", 20)[:47] + "..."},
		{name: "empty falls back", reply: "\"\"", want: DefaultTitle},
		{name: "error falls back", err: errors.New("down"), want: DefaultTitle},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := provider.ProviderFunc(func(ctx context.Context, req provider.Request) (provider.Response, error) {
				assert.Equal(t, "titler", req.Model)
				assert.Contains(t, req.Prompt(), "What is Go?")
				return provider.Response{Content: tt.reply}, tt.err
			})
			got := NewTitleGenerator(p, func() string { return "titler" }, time.Second, nil).Title(context.Background(), "What is Go?")
			assert.Equal(t, tt.want, got)
		})
	}

	var nilGen *TitleGenerator
	assert.Equal(t, DefaultTitle, nilGen.Title(context.Background(), "x"))
}

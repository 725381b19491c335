package council

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/johnayoung/llm-council/internal/storage"
)

// Titler names a conversation from its first message.
type Titler interface {
	Title(ctx context.Context, content string) string
}

// PipelineFactory returns the pipeline for the next run. It is called once
// per message so runtime council changes apply to the following message.
type PipelineFactory func() *Pipeline

// Service runs the council inside stored conversations.
type Service struct {
	store    storage.Store
	pipeline PipelineFactory
	titler   Titler
	logger   *slog.Logger
	newID    func() string
}

// NewService creates a conversation service. titler may be nil, in which
// case conversations keep DefaultTitle.
func NewService(store storage.Store, pipeline PipelineFactory, titler Titler, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    store,
		pipeline: pipeline,
		titler:   titler,
		logger:   logger,
		newID:    uuid.NewString,
	}
}

// CreateConversation starts an empty conversation.
func (s *Service) CreateConversation(ctx context.Context) (storage.Conversation, error) {
	return s.store.Create(ctx, s.newID())
}

// ListConversations returns conversation summaries, newest first.
func (s *Service) ListConversations(ctx context.Context) ([]storage.ConversationSummary, error) {
	return s.store.List(ctx)
}

// GetConversation returns a conversation or storage.ErrNotFound.
func (s *Service) GetConversation(ctx context.Context, id string) (storage.Conversation, error) {
	return s.store.Get(ctx, id)
}

// SendMessage runs the council for content and persists the result.
func (s *Service) SendMessage(ctx context.Context, id, content string) (*Result, error) {
	conv, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.send(ctx, conv, content, nil)
}

// SendMessageStream is SendMessage with progress events. Unknown
// conversations are reported before streaming starts. The stream ends with
// a complete event carrying the *Result, or an error event.
func (s *Service) SendMessageStream(ctx context.Context, id, content string) (<-chan Event, error) {
	conv, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	out := make(chan Event, 16)
	go func() {
		defer close(out)
		emit := func(e Event) {
			select {
			case out <- e:
			case <-ctx.Done():
			}
		}
		res, err := s.send(ctx, conv, content, emit)
		if err != nil {
			emit(ErrorEvent(err))
			return
		}
		emit(Event{Type: EventComplete, Data: res})
	}()
	return out, nil
}

func (s *Service) send(ctx context.Context, conv storage.Conversation, content string, emit Emitter) (*Result, error) {
	if emit == nil {
		emit = func(Event) {}
	}
	// Writes must land even if the caller leaves mid-run.
	persistCtx := context.WithoutCancel(ctx)

	first := len(conv.Messages) == 0
	if err := s.store.AppendUserMessage(persistCtx, conv.ID, content); err != nil {
		return nil, fmt.Errorf("store user message: %w", err)
	}

	var title chan string
	if first && s.titler != nil {
		title = make(chan string, 1)
		go func() { title <- s.titler.Title(persistCtx, content) }()
	}

	res, err := s.pipeline().Run(ctx, content, emit)
	if err != nil {
		return res, err
	}

	if title != nil {
		t := <-title
		if err := s.store.UpdateTitle(persistCtx, conv.ID, t); err != nil {
			s.logger.Warn("update title failed", "conversation", conv.ID, "error", err)
		} else {
			emit(Event{Type: EventTitleComplete, Data: TitleData{Title: t}})
		}
	}

	if err := s.store.AppendAssistantMessage(persistCtx, conv.ID, storage.AssistantMessage{
		Stage1: res.Stage1,
		Stage2: *res.Stage2,
		Stage3: *res.Stage3,
	}); err != nil {
		return res, fmt.Errorf("store assistant message: %w", err)
	}
	return res, nil
}

package council

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/johnayoung/llm-council/internal/provider"
)

// DefaultTitle is used whenever a title cannot be generated.
const DefaultTitle = "New Conversation"

const maxTitleLen = 50

const titlePrompt = `Generate a very short title (3-5 words maximum) that summarizes the following question.
The title should be concise and descriptive. Do not use quotes or punctuation in the title.

Question: `

// TitleGenerator names conversations from their first message.
type TitleGenerator struct {
	provider provider.Provider
	model    func() string
	timeout  time.Duration
	logger   *slog.Logger
}

// NewTitleGenerator creates a generator that asks p for titles. model is
// resolved on every call, so it may follow runtime council changes.
func NewTitleGenerator(p provider.Provider, model func() string, timeout time.Duration, logger *slog.Logger) *TitleGenerator {
	if logger == nil {
		logger = slog.Default()
	}
	return &TitleGenerator{provider: p, model: model, timeout: timeout, logger: logger}
}

// Title never fails: on any error it returns DefaultTitle.
func (g *TitleGenerator) Title(ctx context.Context, content string) string {
	if g == nil || g.provider == nil || g.model == nil {
		return DefaultTitle
	}
	model := g.model()
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	resp, err := g.provider.Query(ctx, provider.Request{
		Model:    model,
		Messages: provider.UserMessage(titlePrompt + content + "\n\nTitle:"),
	})
	if err != nil {
		g.logger.Warn("title generation failed", "model", model, "error", err)
		return DefaultTitle
	}
	return cleanTitle(resp.Content)
}

func cleanTitle(s string) string {
	s = strings.TrimSpace(s)
	if line, _, ok := strings.Cut(s, "\n"); ok {
		s = strings.TrimSpace(line)
	}
	s = strings.Trim(s, "\"'` ")
	if s == "" {
		return DefaultTitle
	}
	if r := []rune(s); len(r) > maxTitleLen {
		s = string(r[:maxTitleLen-3]) + "..."
	}
	return s
}

package consensus

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/johnayoung/llm-council/internal/provider"
)

const chairmanPromptTemplate = `
Role
You are the Chairman of an LLM Council. Several models answered the user's question, then ranked each other's answers anonymously. Your job is to produce the single best final answer.

Original question:
{{.Query}}

Stage 1 - individual answers:
{{range .Responses}}
--- Model: {{.Model}} ---
{{.Response}}
{{end}}
Stage 2 - peer evaluations:
{{range .Rankings}}
--- Evaluation by {{.Model}} ---
{{if .Rationale}}{{.Rationale}}{{else}}(no rationale given){{end}}
Ranking: {{join .Models " > "}}
{{else}}
No valid peer evaluations were collected.
{{end}}
{{if .Aggregate}}Aggregate ranking (best first):
{{range $i, $e := .Aggregate}}{{inc $i}}. {{$e.Model}} (average position {{printf "%.2f" $e.AverageRank}} over {{$e.RankingsCount}} rankings)
{{end}}{{end}}
Task
Synthesize ONE final answer to the original question.
- Weigh the answers by their accuracy and by the peer evaluations.
- Resolve disagreements in favor of the better-justified claim; qualify what stays uncertain.
- Do not invent facts.

Output Requirements
- Output ONLY the final answer (no preamble, no mention of the council, the models or the rankings).
- Keep it coherent, non-redundant and well-structured. Use code blocks for code.
`

var chairmanTmpl = template.Must(template.New("chairman").Funcs(template.FuncMap{
	"join": strings.Join,
	"inc":  func(i int) int { return i + 1 },
}).Parse(chairmanPromptTemplate))

// ErrSynthesis matches every *SynthesisError.
var ErrSynthesis = errors.New("chairman synthesis failed")

// SynthesisError reports a failed stage-3 invocation. It is fatal to the
// run, unlike per-model failures in the first two stages.
type SynthesisError struct {
	Model string
	Err   error
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("chairman %s: %v", e.Model, e.Err)
}

func (e *SynthesisError) Unwrap() error { return e.Err }

func (e *SynthesisError) Is(target error) bool { return target == ErrSynthesis }

// Chairman synthesizes the council's final answer.
type Chairman struct {
	provider provider.Provider
	model    string
	timeout  time.Duration
}

// ChairmanOption configures a Chairman.
type ChairmanOption func(*Chairman)

// WithChairmanTimeout bounds the synthesis call.
func WithChairmanTimeout(d time.Duration) ChairmanOption {
	return func(c *Chairman) { c.timeout = d }
}

// NewChairman creates a chairman using the specified provider and model.
func NewChairman(p provider.Provider, model string, opts ...ChairmanOption) *Chairman {
	c := &Chairman{
		provider: p,
		model:    model,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SynthesisPrompt renders the chairman prompt from the successful stage-1
// responses and the ranking stage output.
func SynthesisPrompt(query string, responses []ModelResponse, stage2 Stage2Result) (string, error) {
	type evaluation struct {
		Model     string
		Rationale string
		Models    []string
	}

	evals := make([]evaluation, 0, len(stage2.Rankings))
	for _, r := range stage2.Rankings {
		models := make([]string, 0, len(r.Labels))
		for _, l := range r.Labels {
			if m, ok := stage2.LabelToModel[l]; ok {
				models = append(models, m)
			}
		}
		evals = append(evals, evaluation{Model: r.Model, Rationale: r.Rationale, Models: models})
	}

	data := struct {
		Query     string
		Responses []ModelResponse
		Rankings  []evaluation
		Aggregate AggregateRanking
	}{
		Query:     query,
		Responses: Succeeded(responses),
		Rankings:  evals,
		Aggregate: stage2.Aggregate,
	}

	var buf bytes.Buffer
	if err := chairmanTmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("executing template: %w", err)
	}
	return buf.String(), nil
}

// Synthesize makes exactly one chairman call. Any failure, including an
// empty answer, is returned as a *SynthesisError.
func (c *Chairman) Synthesize(ctx context.Context, query string, responses []ModelResponse, stage2 Stage2Result) (Synthesis, error) {
	if len(Succeeded(responses)) == 0 {
		return Synthesis{}, &SynthesisError{Model: c.model, Err: errors.New("no responses to synthesize")}
	}

	prompt, err := SynthesisPrompt(query, responses, stage2)
	if err != nil {
		return Synthesis{}, &SynthesisError{Model: c.model, Err: err}
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	resp, err := c.provider.Query(ctx, provider.Request{
		Model:    c.model,
		Messages: provider.UserMessage(prompt),
	})
	if err != nil {
		return Synthesis{}, &SynthesisError{Model: c.model, Err: err}
	}
	if strings.TrimSpace(resp.Content) == "" {
		return Synthesis{}, &SynthesisError{Model: c.model, Err: errors.New("empty response")}
	}

	return Synthesis{Model: c.model, Response: resp.Content}, nil
}

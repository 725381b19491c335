package consensus

import (
	"bytes"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"text/template"
)

const rankingPromptTemplate = `You are evaluating different responses to the following question:

Question: {{.Query}}

Here are the responses, anonymized:
{{range .Responses}}
{{.Label}}:
{{.Text}}
{{end}}
Your task:
1) Evaluate each response individually. For each one, explain what it does well and what it does poorly.
2) Then, at the very end of your answer, provide a final ranking.

IMPORTANT: your final ranking MUST be formatted EXACTLY as follows:
- Start with the line "FINAL RANKING:" (all caps, with colon)
- Then list the responses from best to worst as a numbered list
- Each line is: number, period, space, then ONLY the response label (e.g. "1. {{index .Labels 0}}")
- Include every response exactly once: {{join .Labels ", "}}
- Do not add any text after the ranking

Example of the expected ending:

FINAL RANKING:
{{range $i, $l := .Labels}}{{inc $i}}. {{$l}}
{{end}}
Now provide your evaluation and ranking:
`

var rankingTmpl = template.Must(template.New("ranking").Funcs(template.FuncMap{
	"join": strings.Join,
	"inc":  func(i int) int { return i + 1 },
}).Parse(rankingPromptTemplate))

// RankingPrompt renders the stage-2 prompt. It carries the query and the
// labelled texts only, never model identities.
func RankingPrompt(query string, presented []LabeledResponse) (string, error) {
	if len(presented) == 0 {
		return "", fmt.Errorf("no responses to rank")
	}
	labels := make([]string, len(presented))
	for i, p := range presented {
		labels[i] = p.Label
	}

	data := struct {
		Query     string
		Responses []LabeledResponse
		Labels    []string
	}{
		Query:     query,
		Responses: presented,
		Labels:    labels,
	}

	var buf bytes.Buffer
	if err := rankingTmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("executing template: %w", err)
	}
	return buf.String(), nil
}

// ParseError explains why a ranking output was rejected.
type ParseError struct {
	Reason string
}

func (e *ParseError) Error() string {
	return "malformed ranking: " + e.Reason
}

func parseErrorf(format string, args ...any) *ParseError {
	return &ParseError{Reason: fmt.Sprintf(format, args...)}
}

var (
	headerRe = regexp.MustCompile(`(?i)^[*_#\s]*final ranking[*_\s]*:[*_\s]*$`)
	// 1. Response A | 2) **Response B** - short note
	entryRe = regexp.MustCompile(`^(\d+)[.)]\s+(?:\*\*)?(Response [A-Z]+)(?:\*\*)?(?:\s+-\s.*)?\s*$`)
)

// ParseRanking extracts the ordered labels following the FINAL RANKING
// header. The result must be a complete permutation of presented; anything
// else is a *ParseError. Text before the header becomes the rationale.
func ParseRanking(text string, presented []string) (Ranking, error) {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")

	header := -1
	for i, line := range lines {
		if headerRe.MatchString(strings.TrimSpace(line)) {
			header = i
		}
	}
	if header < 0 {
		return Ranking{}, parseErrorf("missing FINAL RANKING header")
	}

	var labels []string
	for _, line := range lines[header+1:] {
		line = strings.TrimSpace(line)
		if line == "" {
			if len(labels) == 0 {
				continue
			}
			break
		}
		m := entryRe.FindStringSubmatch(line)
		if m == nil {
			break
		}
		n, err := strconv.Atoi(m[1])
		if err != nil || n != len(labels)+1 {
			return Ranking{}, parseErrorf("entry %q out of sequence", line)
		}
		labels = append(labels, m[2])
	}

	if len(labels) == 0 {
		return Ranking{}, parseErrorf("empty ranking")
	}

	known := make(map[string]bool, len(presented))
	for _, l := range presented {
		known[l] = true
	}
	seen := make(map[string]bool, len(labels))
	for _, l := range labels {
		if !known[l] {
			return Ranking{}, parseErrorf("unknown label %q", l)
		}
		if seen[l] {
			return Ranking{}, parseErrorf("duplicate label %q", l)
		}
		seen[l] = true
	}
	if len(labels) != len(presented) {
		return Ranking{}, parseErrorf("ranked %d of %d responses", len(labels), len(presented))
	}

	return Ranking{
		Labels:    labels,
		Rationale: strings.TrimSpace(strings.Join(lines[:header], "\n")),
		Raw:       text,
	}, nil
}

package consensus

import "time"

// ModelResponse is one council member's stage-1 answer. A failed invocation
// keeps its slot with Success false so callers can see partial failure.
type ModelResponse struct {
	Model    string        `json:"model"`
	Response string        `json:"response"`
	Success  bool          `json:"success"`
	Error    string        `json:"error,omitempty"`
	Latency  time.Duration `json:"latency_ns"`
}

// Succeeded returns the successful responses, preserving order.
func Succeeded(responses []ModelResponse) []ModelResponse {
	out := make([]ModelResponse, 0, len(responses))
	for _, r := range responses {
		if r.Success {
			out = append(out, r)
		}
	}
	return out
}

// Ranking is a parsed stage-2 evaluation. Labels is a complete permutation
// of the labels that were presented to the ranking model, best first.
type Ranking struct {
	Model     string   `json:"model"`
	Labels    []string `json:"parsed_ranking"`
	Rationale string   `json:"rationale,omitempty"`
	Raw       string   `json:"ranking"`
}

// RejectedRanking records a stage-2 output that was not aggregated, either
// because the invocation failed or because its text did not parse.
type RejectedRanking struct {
	Model  string `json:"model"`
	Raw    string `json:"raw,omitempty"`
	Reason string `json:"reason"`
}

// AggregateEntry is one model's place in the consensus order.
type AggregateEntry struct {
	Model string `json:"model"`
	// Score is the sum of 0-based positions across the rankings that
	// mention the model.
	Score int `json:"score"`
	// AverageRank is Score divided by RankingsCount.
	AverageRank   float64 `json:"average_rank"`
	Positions     []int   `json:"positions"`
	RankingsCount int     `json:"rankings_count"`
}

// AggregateRanking is the consensus order over models, best first.
type AggregateRanking []AggregateEntry

// Models returns the model identifiers in consensus order.
func (a AggregateRanking) Models() []string {
	out := make([]string, len(a))
	for i, e := range a {
		out[i] = e.Model
	}
	return out
}

// Stage2Result bundles everything produced by the ranking stage.
type Stage2Result struct {
	Rankings     []Ranking         `json:"rankings"`
	Rejected     []RejectedRanking `json:"rejected"`
	LabelToModel map[string]string `json:"label_to_model"`
	Aggregate    AggregateRanking  `json:"aggregate_rankings"`
}

// Synthesis is the chairman's final answer.
type Synthesis struct {
	Model    string `json:"model"`
	Response string `json:"response"`
}

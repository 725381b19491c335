package council

import (
	"time"

	"github.com/johnayoung/llm-council/internal/consensus"
)

// Result is the outcome of one council run. Fields for stages that did not
// run are left empty.
type Result struct {
	Query    string                    `json:"query"`
	Stage1   []consensus.ModelResponse `json:"stage1"`
	Stage2   *consensus.Stage2Result   `json:"stage2,omitempty"`
	Stage3   *consensus.Synthesis      `json:"stage3,omitempty"`
	Metadata Metadata                  `json:"metadata"`
}

// Metadata holds timings and failure counts for a run.
type Metadata struct {
	StartedAt      time.Time     `json:"started_at"`
	Stage1Duration time.Duration `json:"stage1_duration_ns"`
	Stage2Duration time.Duration `json:"stage2_duration_ns"`
	Stage3Duration time.Duration `json:"stage3_duration_ns"`
	TotalDuration  time.Duration `json:"total_duration_ns"`
	CouncilSize    int           `json:"council_size"`
	Stage1Failures int           `json:"stage1_failures"`
	// Stage2Failures counts ranking invocations that failed outright.
	Stage2Failures int `json:"stage2_failures"`
	ParseFailures  int `json:"parse_failures"`
}

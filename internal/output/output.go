package output

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/johnayoung/llm-council/internal/council"
)

// Files written into a run directory.
const (
	PromptFile = "prompt.txt"
	FinalFile  = "final.md"
	ResultFile = "result.json"
)

// Result is the JSON document the CLI prints or saves. Error is set when
// the run failed after producing partial results.
type Result struct {
	*council.Result
	Error string `json:"error,omitempty"`
}

// NewRunID creates a run identifier from the time plus a random suffix,
// for example 20260112-143052-a1b2c3.
func NewRunID(now time.Time) string {
	suffix := make([]byte, 3)
	_, _ = rand.Read(suffix)
	return fmt.Sprintf("%s-%s", now.Format("20060102-150405"), hex.EncodeToString(suffix))
}

// WriteJSON encodes v as indented JSON.
func WriteJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteFile writes res as JSON to path.
func WriteFile(path string, res Result) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating output file: %w", err)
	}
	if err := WriteJSON(f, res); err != nil {
		f.Close()
		return fmt.Errorf("writing output file: %w", err)
	}
	return f.Close()
}

// SaveRun writes the prompt, the final answer (when there is one) and the
// full result into a new directory under dataDir, returning its path.
func SaveRun(dataDir string, res Result, now time.Time) (string, error) {
	runDir := filepath.Join(dataDir, NewRunID(now))
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", fmt.Errorf("creating run directory: %w", err)
	}

	if err := os.WriteFile(filepath.Join(runDir, PromptFile), []byte(res.Query), 0o644); err != nil {
		return runDir, fmt.Errorf("saving prompt: %w", err)
	}
	if res.Stage3 != nil {
		if err := os.WriteFile(filepath.Join(runDir, FinalFile), []byte(res.Stage3.Response), 0o644); err != nil {
			return runDir, fmt.Errorf("saving final answer: %w", err)
		}
	}
	if err := WriteFile(filepath.Join(runDir, ResultFile), res); err != nil {
		return runDir, err
	}
	return runDir, nil
}

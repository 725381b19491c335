// Command council-health reports whether the configured council models are
// installed on the Ollama backend, as JSON.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/johnayoung/llm-council/internal/config"
	"github.com/johnayoung/llm-council/internal/logging"
	"github.com/johnayoung/llm-council/internal/provider"
)

func main() {
	logging.ConfigureLogging()

	var (
		outPath        string
		strict         bool
		timeoutSeconds int
	)
	fs := flag.NewFlagSet("council-health", flag.ContinueOnError)
	cfg, err := config.ParseConfig(fs, os.Args[1:], func(_ *config.Config, fs *flag.FlagSet) {
		fs.StringVar(&outPath, "out", "", "output file path (defaults to stdout)")
		fs.BoolVar(&strict, "strict", false, "exit non-zero when the council is not ready")
		fs.IntVar(&timeoutSeconds, "http-timeout", 10, "HTTP timeout in seconds")
	})
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(timeoutSeconds)*time.Second)
	defer cancel()

	lister := provider.NewOllama(
		provider.WithOllamaBaseURL(cfg.OllamaURL),
		provider.WithOllamaHTTPClient(&http.Client{Timeout: time.Duration(timeoutSeconds) * time.Second}),
	)
	report := provider.CheckAvailability(ctx, lister, cfg.CouncilModels, cfg.ChairmanModel)

	payload, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		fatal(err)
	}

	if outPath == "" {
		_, _ = os.Stdout.Write(payload)
		_, _ = os.Stdout.Write([]byte("\n"))
	} else if err := os.WriteFile(outPath, payload, 0o644); err != nil {
		fatal(err)
	}

	if strict && !report.Ready {
		fmt.Fprintln(os.Stderr, "council not ready")
		os.Exit(2)
	}
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

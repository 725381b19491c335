package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/johnayoung/llm-council/internal/config"
	"github.com/johnayoung/llm-council/internal/council"
	"github.com/johnayoung/llm-council/internal/logging"
	"github.com/johnayoung/llm-council/internal/output"
	"github.com/johnayoung/llm-council/internal/provider"
	"github.com/johnayoung/llm-council/internal/ui"
)

// Version information set via ldflags at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

type cliOptions struct {
	file        string
	output      string
	dataDir     string
	quiet       bool
	json        bool
	noSave      bool
	showVersion bool
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	logger := logging.ConfigureLogging()

	cfg, opts, rest, err := parseFlags(args)
	if errors.Is(err, flag.ErrHelp) {
		return nil
	}
	if err != nil {
		return err
	}
	if opts.showVersion {
		fmt.Printf("llm-council %s\n", getVersion())
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
		return nil
	}

	prompt, err := getPrompt(rest, opts.file)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Progress goes to stderr even when the result is written to a file.
	showUI := ui.IsTerminal(os.Stderr) && !opts.quiet && !opts.json
	if !showUI {
		logging.SetLogLevel(slog.LevelError)
	}

	registry, err := provider.NewRegistryFor(cfg.AllModels(), cfg.RegistryOptions())
	if err != nil {
		return err
	}

	if showUI {
		ui.PrintHeader(os.Stderr, prompt)
	}

	progress := ui.NewProgress(os.Stderr, cfg.CouncilModels, cfg.ChairmanModel, !showUI)
	pipeline := council.NewPipeline(registry, cfg.CouncilSettings(), append(cfg.PipelineOptions(logger), council.WithCallbacks(progress.Callbacks()))...)

	progress.Start()
	res, runErr := pipeline.Run(ctx, prompt, progress.Handle)
	progress.Stop()

	if res == nil {
		return runErr
	}
	out := output.Result{Result: res}
	if runErr != nil {
		out.Error = runErr.Error()
	}

	switch {
	case opts.output != "":
		if err := output.WriteFile(opts.output, out); err != nil {
			return err
		}
		if showUI {
			ui.PrintSuccess(os.Stderr, fmt.Sprintf("Result written to %s", opts.output))
		}
	case opts.json || !showUI:
		if err := output.WriteJSON(os.Stdout, out); err != nil {
			return err
		}
	default:
		for _, r := range res.Stage1 {
			ui.PrintModelResponse(os.Stderr, r)
		}
		if res.Stage2 != nil {
			ui.PrintRanking(os.Stderr, res.Stage2.Aggregate)
		}
		if res.Stage3 != nil {
			ui.PrintFinal(os.Stderr, *res.Stage3)
		}
		ui.PrintSummary(os.Stderr, res.Metadata)
	}

	if opts.output == "" && !opts.json && !opts.noSave {
		runDir, err := output.SaveRun(opts.dataDir, out, time.Now())
		if err != nil {
			if showUI {
				ui.PrintError(os.Stderr, err.Error())
			}
		} else if showUI {
			ui.PrintSuccess(os.Stderr, fmt.Sprintf("Run saved to %s", runDir))
		}
	}

	if runErr != nil {
		return fmt.Errorf("council run: %w", runErr)
	}
	return nil
}

// getVersion returns the version string, using build info as fallback.
func getVersion() string {
	if version != "dev" {
		return version
	}
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "(devel)" {
		return info.Main.Version
	}
	return "dev"
}

// parseFlags returns the configuration, the CLI-only options and the
// positional arguments.
func parseFlags(args []string) (config.Config, cliOptions, []string, error) {
	var opts cliOptions
	fs := flag.NewFlagSet("llm-council", flag.ContinueOnError)

	cfg, err := config.ParseConfig(fs, args, func(_ *config.Config, fs *flag.FlagSet) {
		fs.StringVar(&opts.file, "file", "", "Read prompt from file")
		fs.StringVar(&opts.output, "output", "", "Write JSON output to specific file (overrides auto-save)")
		fs.StringVar(&opts.dataDir, "data-dir", "data", "Directory for auto-saved runs")
		fs.BoolVar(&opts.quiet, "quiet", false, "Suppress progress output")
		fs.BoolVar(&opts.quiet, "q", false, "Suppress progress output (shorthand)")
		fs.BoolVar(&opts.json, "json", false, "Output JSON to stdout (no interactive display, no auto-save)")
		fs.BoolVar(&opts.noSave, "no-save", false, "Don't auto-save results to data directory")
		fs.BoolVar(&opts.showVersion, "version", false, "Print version information and exit")
	})
	if err != nil {
		return config.Config{}, cliOptions{}, nil, err
	}
	return cfg, opts, fs.Args(), nil
}

func getPrompt(args []string, file string) (string, error) {
	// Priority 1: Positional argument
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}

	// Priority 2: File flag
	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("reading prompt file: %w", err)
		}
		return strings.TrimSpace(string(data)), nil
	}

	// Priority 3: Stdin (if not a terminal)
	if !ui.IsTerminal(os.Stdin) {
		scanner := bufio.NewScanner(os.Stdin)
		var lines []string
		for scanner.Scan() {
			lines = append(lines, scanner.Text())
		}
		if err := scanner.Err(); err != nil {
			return "", fmt.Errorf("reading stdin: %w", err)
		}
		if prompt := strings.TrimSpace(strings.Join(lines, "\n")); prompt != "" {
			return prompt, nil
		}
	}

	return "", fmt.Errorf("no prompt provided: use positional argument, --file, or pipe to stdin")
}

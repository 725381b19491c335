// Command llm-council-mcp serves the council as MCP tools over stdio.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/johnayoung/llm-council/internal/config"
	"github.com/johnayoung/llm-council/internal/council"
	"github.com/johnayoung/llm-council/internal/logging"
	"github.com/johnayoung/llm-council/internal/mcpserver"
	"github.com/johnayoung/llm-council/internal/provider"
	"github.com/johnayoung/llm-council/internal/telemetry"
)

var version = "dev"

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	// Stdout carries the protocol; logs stay on stderr.
	logger := logging.ConfigureLogging()

	fs := flag.NewFlagSet("llm-council-mcp", flag.ContinueOnError)
	cfg, err := config.ParseConfig(fs, args, nil)
	if errors.Is(err, flag.ErrHelp) {
		return nil
	}
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdown, err := telemetry.Setup(ctx, "llm-council-mcp")
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			logger.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	registry, err := provider.NewRegistryFor(cfg.AllModels(), cfg.RegistryOptions())
	if err != nil {
		return err
	}

	settings := cfg.CouncilSettings()
	pipelineOpts := cfg.PipelineOptions(logger)
	svc := mcpserver.NewService(func() *council.Pipeline {
		return council.NewPipeline(registry, settings, pipelineOpts...)
	}, logger)

	logger.Info("serving council over stdio", "council", cfg.CouncilModels, "chairman", cfg.ChairmanModel)
	err = mcpserver.RunStdio(ctx, mcpserver.NewServer(svc, getVersion()))
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func getVersion() string {
	if version != "dev" {
		return version
	}
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "(devel)" {
		return info.Main.Version
	}
	return "dev"
}

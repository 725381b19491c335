// Command llm-council-server serves the council HTTP API with stored
// conversations.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/johnayoung/llm-council/internal/config"
	"github.com/johnayoung/llm-council/internal/council"
	"github.com/johnayoung/llm-council/internal/logging"
	"github.com/johnayoung/llm-council/internal/provider"
	"github.com/johnayoung/llm-council/internal/server"
	"github.com/johnayoung/llm-council/internal/storage/sqlite"
	"github.com/johnayoung/llm-council/internal/telemetry"
)

const serviceName = "llm-council-server"

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	logger := logging.ConfigureLogging()

	fs := flag.NewFlagSet(serviceName, flag.ContinueOnError)
	cfg, err := config.ParseConfig(fs, args, func(c *config.Config, fs *flag.FlagSet) {
		fs.StringVar(&c.HTTPAddr, "addr", c.HTTPAddr, "HTTP listen address")
		fs.StringVar(&c.DatabasePath, "db", c.DatabasePath, "SQLite database path")
	})
	if errors.Is(err, flag.ErrHelp) {
		return nil
	}
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdown, err := telemetry.Setup(ctx, serviceName)
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

	store, err := sqlite.Open(cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer store.Close()

	// Runtime updates may only name models this registry can serve.
	settings := config.NewSettings(cfg, config.WithRouteCheck(func(model string) error {
		_, err := registry.Get(model)
		return err
	}))
	pipelineOpts := cfg.PipelineOptions(logger)
	newPipeline := func() *council.Pipeline {
		return council.NewPipeline(registry, settings.Snapshot(), pipelineOpts...)
	}
	titler := council.NewTitleGenerator(registry, settings.TitleModel, cfg.ModelTimeout, logger)

	svc := council.NewService(store, newPipeline, titler, logger)
	lister := provider.NewOllama(provider.WithOllamaBaseURL(cfg.OllamaURL))

	logger.Info("starting council server",
		slog.Any("council", cfg.CouncilModels),
		slog.String("chairman", cfg.ChairmanModel),
		slog.String("db", cfg.DatabasePath))

	return server.New(svc, settings, lister, cfg.CORSOrigins, logger).Run(ctx, cfg.HTTPAddr)
}

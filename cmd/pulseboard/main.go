package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"pulseboard/internal/config"
	"pulseboard/internal/logger"
	"pulseboard/internal/processor"
)

func main() {
	configPath := flag.String("config", envOr("PULSEBOARD_CONFIG", "config.yaml"), "path to the YAML config file")
	seedPath := flag.String("seed", "", "YAML file of users, data sources and metric cards to load at startup")
	runNow := flag.Bool("run-now", false, "run one evaluation pass immediately instead of waiting an interval")
	logLevel := flag.String("log-level", "", "override the configured log level")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Init(logger.Options{})
		log := logger.WithError(err)
		log.Fatal().Str("path", *configPath).Msg("failed to load config")
	}
	if *seedPath != "" {
		cfg.SeedPath = *seedPath
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	logger.Init(logger.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})
	log := logger.WithComponent("main")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var opts []processor.Option
	if *runNow {
		opts = append(opts, processor.WithRunNow())
	}

	if err := processor.New(cfg, opts...).Run(ctx); err != nil {
		log.Error().Err(err).Msg("processor exited")
		stop()
		os.Exit(1)
	}
	log.Info().Msg("exited")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

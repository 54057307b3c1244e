package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/sjawhar/intake/internal/app"
	"github.com/sjawhar/intake/internal/cli"
	"github.com/sjawhar/intake/internal/config"
	"github.com/sjawhar/intake/internal/logging"
	"github.com/sjawhar/intake/internal/output"
)

const defaultConfigPath = "intake.yaml"

func main() {
	deps := &cli.Dependencies{
		Load: load,
		Out:  os.Stdout,
	}
	if err := cli.NewRootCmd(deps).ExecuteContext(context.Background()); err != nil {
		output.NewFormatter(os.Stderr).Error(err.Error())
		os.Exit(1)
	}
}

func load(ctx context.Context, configPath string) (*app.App, error) {
	if configPath == "" {
		configPath = defaultConfigPath
	}
	cfg, warnings, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger := logging.New(cfg.Logging, os.Stderr)
	slog.SetDefault(logger)
	for _, w := range warnings {
		logger.Warn("config", "warning", w)
	}

	return app.New(ctx, cfg, warnings, logger)
}

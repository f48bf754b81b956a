package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/petredig/tidl/internal/auth"
	"github.com/petredig/tidl/internal/journal"
	"github.com/petredig/tidl/internal/services"
	"github.com/petredig/tidl/internal/shared"
	"github.com/urfave/cli/v3"
)

func main() {
	logger := shared.NewLogger(nil)

	config := loadConfig()

	store, err := auth.NewTokenStore("")
	if err != nil {
		logger.Fatalf("failed to initialize token store: %v", err)
	}

	flow := auth.NewLoginFlow(config.Auth, store, logger)

	tokens := func(ctx context.Context) (string, error) {
		source, err := flow.TokenSource(ctx)
		if err != nil {
			return "", err
		}
		token, err := source.Token()
		if err != nil {
			return "", err
		}
		return token.AccessToken, nil
	}

	backend := services.NewTidalService("", nil, tokens,
		time.Duration(config.Download.DelaySeconds)*time.Second)

	requestLog, err := journal.New("", logger)
	if err != nil {
		logger.Fatalf("failed to initialize request journal: %v", err)
	}

	runner := NewRunner(RunnerOpts{
		Config:  config,
		Backend: backend,
		Store:   store,
		Flow:    flow,
		Journal: requestLog,
		Logger:  logger,
	})

	app := &cli.Command{
		Name:     "tidl",
		Usage:    "Personal TIDAL track downloader with a local control plane",
		Version:  "0.3.0",
		Commands: runner.register(),
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		err_ := errors.Unwrap(err)
		if errors.Is(err_, shared.ErrNotImplemented) {
			logger.Warn("not implemented")
			os.Exit(0)
		} else {
			logger.Fatalf("application error: %v", err)
		}
	}
}

// loadConfig reads config.toml from the working directory, then the tidl
// state directory, falling back to embedded defaults.
func loadConfig() *shared.Config {
	if loaded, err := shared.LoadConfig("config.toml"); err == nil {
		return loaded
	}

	if dir, err := shared.StateDir(); err == nil {
		if loaded, err := shared.LoadConfig(filepath.Join(dir, "config.toml")); err == nil {
			return loaded
		}
	}

	return shared.DefaultConfig()
}

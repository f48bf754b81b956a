package main

import (
	"context"
	"fmt"

	"github.com/petredig/tidl/internal/server"
	"github.com/petredig/tidl/internal/services"
	"github.com/petredig/tidl/internal/shared"
	"github.com/petredig/tidl/internal/tasks"
	"github.com/urfave/cli/v3"
)

// Login runs the PKCE authorization flow and persists the resulting token.
func (r *Runner) Login(ctx context.Context, cmd *cli.Command) error {
	if r.flow == nil {
		return fmt.Errorf("%w: login flow not configured", shared.ErrInvalidConfig)
	}

	if err := r.flow.Login(ctx); err != nil {
		return err
	}

	return r.writePlain("✓ Login successful\n")
}

// Get downloads one track through the same engine the listener uses.
func (r *Runner) Get(ctx context.Context, cmd *cli.Command) error {
	rawURL := cmd.StringArg("url")
	if rawURL == "" {
		return fmt.Errorf("%w: url", shared.ErrMissingArgument)
	}
	if !services.IsTrackURL(rawURL) {
		return fmt.Errorf("%w: url must start with https://tidal.com/track", shared.ErrInvalidArgument)
	}

	job := tasks.Job{
		ID:          shared.GenerateID(),
		URL:         rawURL,
		BearerToken: cmd.String("bearer"),
	}

	outcome := r.engine().Run(ctx, job)

	if cmd.Bool("json") {
		return r.writeJSON(outcome, true)
	}

	if outcome.FinalCode == 0 {
		return r.writePlain("✓ %s [%s]\n", outcome.Title, outcome.Codec)
	}
	return r.writePlain("✗ download failed (code=%d)\n", outcome.FinalCode)
}

// Listen starts listener mode and serves until the process exits.
func (r *Runner) Listen(ctx context.Context, cmd *cli.Command) error {
	if err := r.config.ValidateListener(); err != nil {
		return fmt.Errorf("refusing to start listener: %w", err)
	}

	listener, err := server.NewListenerServer(server.ListenerOpts{
		Config:      r.config.Listener,
		Runner:      r.engine(),
		Journal:     r.journal,
		Logger:      r.logger,
		DownloadDir: r.config.Download.Path,
	})
	if err != nil {
		return err
	}

	return listener.ListenAndServe()
}

// History lists recorded downloads, newest first.
func (r *Runner) History(ctx context.Context, cmd *cli.Command) error {
	history := r.ensureHistory()
	if history == nil {
		return fmt.Errorf("%w: history database unavailable", shared.ErrServiceUnavailable)
	}

	criteria := map[string]any{}
	if cmd.Bool("failed") {
		criteria["final_code"] = 1
	}

	records, err := history.List(criteria)
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		out := make([]map[string]any, 0, len(records))
		for _, rec := range records {
			out = append(out, map[string]any{
				"url":        rec.URL,
				"title":      rec.Title,
				"codec":      rec.Codec,
				"quality":    rec.Quality,
				"final_code": rec.FinalCode,
				"fallback":   rec.Fallback,
				"created_at": rec.CreatedAt(),
			})
		}
		return r.writeJSON(out, true)
	}

	if len(records) == 0 {
		return r.writePlain("No downloads recorded yet\n")
	}

	for _, rec := range records {
		marker := "✓"
		if rec.FinalCode != 0 {
			marker = "✗"
		}
		r.writePlain("%s %s [%s] %s\n", marker, rec.Title, rec.Codec, rec.URL)
	}
	return nil
}

// SetupConfig writes the example configuration file.
func (r *Runner) SetupConfig(ctx context.Context, cmd *cli.Command) error {
	path := cmd.String("path")
	if err := shared.CreateConfigFile(path); err != nil {
		return err
	}
	return r.writePlain("✓ Wrote %s\n", path)
}

// SetupDatabase initializes the history database and runs migrations.
func (r *Runner) SetupDatabase(ctx context.Context, cmd *cli.Command) error {
	db, err := shared.NewDatabase(r.config.Database.Path)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := shared.RunMigrations(db); err != nil {
		return err
	}

	return r.writePlain("✓ History database ready at %s\n", r.config.Database.Path)
}

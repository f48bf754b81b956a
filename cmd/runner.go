package main

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/log"
	"github.com/petredig/tidl/internal/auth"
	"github.com/petredig/tidl/internal/journal"
	"github.com/petredig/tidl/internal/models"
	"github.com/petredig/tidl/internal/repositories"
	"github.com/petredig/tidl/internal/services"
	"github.com/petredig/tidl/internal/shared"
	"github.com/petredig/tidl/internal/tasks"
	"github.com/urfave/cli/v3"
)

// Runner holds all dependencies for CLI commands and provides methods for each command action.
type Runner struct {
	config  *shared.Config
	backend services.Service
	store   *auth.TokenStore
	flow    *auth.LoginFlow
	journal *journal.RequestLog
	logger  *log.Logger
	output  io.Writer

	db      *sql.DB
	history *repositories.HistoryRepository
}

// RunnerOpts contains configuration options for creating a Runner.
type RunnerOpts struct {
	Config  *shared.Config
	Backend services.Service
	Store   *auth.TokenStore
	Flow    *auth.LoginFlow
	Journal *journal.RequestLog
	Logger  *log.Logger
	Output  io.Writer
}

// NewRunner creates a new Runner with the provided configuration
func NewRunner(opts RunnerOpts) *Runner {
	if opts.Config == nil {
		opts.Config = shared.DefaultConfig()
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}

	return &Runner{
		config:  opts.Config,
		backend: opts.Backend,
		store:   opts.Store,
		flow:    opts.Flow,
		journal: opts.Journal,
		logger:  opts.Logger,
		output:  opts.Output,
	}
}

func (r *Runner) register() []*cli.Command {
	commands := []*cli.Command{}
	for _, fn := range [](func(*Runner) *cli.Command){
		setupCommand, loginCommand, getCommand, listenCommand, historyCommand,
	} {
		commands = append(commands, fn(r))
	}

	return commands
}

// engine builds the download engine for this invocation, wiring the history
// store when the database is reachable.
func (r *Runner) engine() *tasks.Engine {
	return tasks.NewEngine(tasks.EngineOpts{
		Backend:     r.backend,
		Quality:     models.ParseAudioQuality(r.config.Download.AudioQuality),
		DownloadDir: r.config.Download.Path,
		History:     r.ensureHistory(),
		Logger:      r.logger,
	})
}

// ensureHistory lazily opens the history database. History is best-effort: a
// missing or broken database disables records but never blocks downloads.
func (r *Runner) ensureHistory() *repositories.HistoryRepository {
	if r.history != nil {
		return r.history
	}
	if r.config.Database.Path == "" {
		return nil
	}

	db, err := shared.NewDatabase(r.config.Database.Path)
	if err != nil {
		r.logger.Warnf("history store unavailable: %v", err)
		return nil
	}

	shared.ConfigureDatabase(db, r.config.Database.MaxOpenConns, r.config.Database.MaxIdleConns)

	if err := shared.RunMigrations(db); err != nil {
		r.logger.Warnf("history migrations failed: %v", err)
		db.Close()
		return nil
	}

	r.db = db
	r.history = repositories.NewHistoryRepository(db)
	return r.history
}

func (r *Runner) writeJSON(data any, pretty bool) error {
	var output []byte
	var err error

	if pretty {
		output, err = json.MarshalIndent(data, "", "  ")
	} else {
		output, err = json.Marshal(data)
	}

	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	if _, err := r.output.Write(output); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}

	if _, err := r.output.Write([]byte("\n")); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}

	return nil
}

func (r *Runner) writePlain(format string, args ...any) error {
	text := fmt.Sprintf(format, args...)
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

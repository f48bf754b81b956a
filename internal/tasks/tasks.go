// package tasks implements download job execution.
//
// The core abstraction is Engine, which runs one download job through the
// backend service with a two-tier quality retry policy and resolves every
// failure path into a structured Outcome. Callers never receive an error: the
// transport layer reports final_code instead.
package tasks

import (
	"context"
	"errors"

	"github.com/charmbracelet/log"
	"github.com/petredig/tidl/internal/journal"
	"github.com/petredig/tidl/internal/models"
	"github.com/petredig/tidl/internal/repositories"
	"github.com/petredig/tidl/internal/services"
	"github.com/petredig/tidl/internal/shared"
)

// Job describes one download request. Created per incoming request and
// discarded after the outcome is produced.
type Job struct {
	ID          string
	URL         string
	BearerToken string // optional per-request override for the stored token
}

// Outcome is the structured result of a job. FinalCode is always 0 or 1.
type Outcome struct {
	Status    string `json:"status"`
	FinalCode int    `json:"final_code"`
	Codec     string `json:"codec"`
	Title     string `json:"title"`
}

// attempt carries the result of a single quality-tier attempt.
type attempt struct {
	ok     bool
	codec  string
	title  string
	stream *models.Stream
	err    error
}

// Runner executes download jobs. Implemented by [Engine]; the listener depends
// on this interface so tests can substitute a stub.
type Runner interface {
	Run(ctx context.Context, job Job) Outcome
}

// Engine implements Runner against a backend [services.Service].
type Engine struct {
	backend     services.Service
	quality     models.AudioQuality
	downloadDir string
	history     *repositories.HistoryRepository // nil disables history records
	logger      *log.Logger
}

// EngineOpts contains configuration options for creating an Engine.
type EngineOpts struct {
	Backend     services.Service
	Quality     models.AudioQuality
	DownloadDir string
	History     *repositories.HistoryRepository
	Logger      *log.Logger
}

// NewEngine creates an Engine with the provided configuration.
func NewEngine(opts EngineOpts) *Engine {
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.DownloadDir == "" {
		opts.DownloadDir = "./download"
	}

	return &Engine{
		backend:     opts.Backend,
		quality:     opts.Quality,
		downloadDir: opts.DownloadDir,
		history:     opts.History,
		logger:      opts.Logger,
	}
}

// Run executes one job: a primary attempt at the configured tier and, iff that
// attempt failed because the tier is unavailable for the stream, exactly one
// fallback attempt at HiFi. The reported outcome is that of whichever attempt
// succeeded; when both fail, codec and title come from the last resolvable
// stream.
func (e *Engine) Run(ctx context.Context, job Job) Outcome {
	primary := e.attempt(ctx, job, e.quality, "primary")
	final := primary
	fellBack := false

	if !primary.ok && e.shouldFallBack(primary.err) {
		fellBack = true
		final = e.attempt(ctx, job, models.QualityHiFi, "fallback")
		if !final.ok && final.codec == "" {
			// keep whatever the primary attempt resolved
			if final.title == "" {
				final.title = primary.title
			}
			final.codec = primary.codec
		}
	}

	outcome := Outcome{Status: "finished", Codec: final.codec, Title: final.title}
	if !final.ok {
		outcome.FinalCode = 1
	}

	e.record(job, outcome, fellBack)
	e.logger.Info(journal.Summary(outcome.Codec, outcome.Title, outcome.FinalCode, job.URL))
	return outcome
}

// shouldFallBack gates the retry on the specific quality-unavailable
// classification; generic transport faults do not trigger it.
func (e *Engine) shouldFallBack(err error) bool {
	if e.quality == models.QualityHiFi {
		return false
	}
	return errors.Is(err, shared.ErrQualityUnavailable)
}

// attempt performs one download attempt at the given tier.
func (e *Engine) attempt(ctx context.Context, job Job, quality models.AudioQuality, label string) attempt {
	logger := shared.WithLogger(e.logger, "job", job.ID, "attempt", label, "quality", quality.String())

	backend := e.backend
	if job.BearerToken != "" {
		backend = backend.WithToken(job.BearerToken)
	}

	track, err := backend.ResolveTrack(ctx, job.URL)
	if err != nil {
		logger.Warnf("track resolution failed: %v", err)
		return attempt{err: err}
	}

	result := attempt{title: track.Title}

	stream, err := backend.GetStream(ctx, track.ID, quality)
	if err != nil {
		logger.Warnf("stream request failed: %v", err)
		result.err = err
		return result
	}

	result.stream = stream
	result.codec = stream.CodecLabel()

	path, err := backend.Fetch(ctx, track, stream, e.downloadDir)
	if err != nil {
		logger.Warnf("fetch failed: %v", err)
		result.err = err
		return result
	}

	logger.Infof("saved %s", path)
	result.ok = true
	return result
}

// record appends the finished job to the history store, best-effort.
func (e *Engine) record(job Job, outcome Outcome, fellBack bool) {
	if e.history == nil {
		return
	}

	quality := e.quality
	if fellBack {
		quality = models.QualityHiFi
	}

	rec := models.NewDownloadRecord(job.URL, outcome.Title, outcome.Codec, quality.String(), outcome.FinalCode, fellBack)
	if err := e.history.Create(rec); err != nil {
		e.logger.Warnf("history write failed: %v", err)
	}
}

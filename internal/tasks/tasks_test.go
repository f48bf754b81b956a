package tasks

import (
	"context"
	"errors"
	"testing"

	"github.com/petredig/tidl/internal/models"
	"github.com/petredig/tidl/internal/shared"
	tu "github.com/petredig/tidl/internal/testing"
)

func TestNewEngine(t *testing.T) {
	t.Run("Defaults", func(t *testing.T) {
		engine := NewEngine(EngineOpts{Backend: &tu.MockService{}})

		if engine.logger == nil {
			t.Error("expected a default logger")
		}
		if engine.downloadDir != "./download" {
			t.Errorf("expected default download dir, got %s", engine.downloadDir)
		}
		if engine.quality != models.QualityNormal {
			t.Errorf("expected zero-value quality Normal, got %v", engine.quality)
		}
	})
}

func TestEngineRun(t *testing.T) {
	ctx := context.Background()
	job := Job{ID: "job-1", URL: "https://tidal.com/track/42"}

	t.Run("Success At Configured Tier", func(t *testing.T) {
		backend := &tu.MockService{
			Track: &models.Track{ID: "42", Title: "Blue Monday"},
			StreamByTier: map[models.AudioQuality]*models.Stream{
				models.QualityHigh: {TrackID: "42", Quality: models.QualityHigh, Codec: "aac"},
			},
		}
		engine := NewEngine(EngineOpts{
			Backend:     backend,
			Quality:     models.QualityHigh,
			DownloadDir: t.TempDir(),
		})

		outcome := engine.Run(ctx, job)

		if outcome.Status != "finished" {
			t.Errorf("expected status finished, got %s", outcome.Status)
		}
		if outcome.FinalCode != 0 {
			t.Errorf("expected final_code 0, got %d", outcome.FinalCode)
		}
		if outcome.Codec != "AAC" {
			t.Errorf("expected codec AAC, got %s", outcome.Codec)
		}
		if outcome.Title != "Blue Monday" {
			t.Errorf("expected title from the track, got %s", outcome.Title)
		}
		if calls := backend.StreamCalls(); len(calls) != 1 || calls[0] != models.QualityHigh {
			t.Errorf("expected a single High attempt, got %v", calls)
		}
	})

	t.Run("Quality Unavailable Falls Back To HiFi", func(t *testing.T) {
		backend := &tu.MockService{
			Track: &models.Track{ID: "42", Title: "Blue Monday"},
			StreamErr: map[models.AudioQuality]error{
				models.QualityMaster: shared.ErrQualityUnavailable,
			},
			StreamByTier: map[models.AudioQuality]*models.Stream{
				models.QualityHiFi: {TrackID: "42", Quality: models.QualityHiFi, Codec: "flac"},
			},
		}
		engine := NewEngine(EngineOpts{
			Backend:     backend,
			Quality:     models.QualityMaster,
			DownloadDir: t.TempDir(),
		})

		outcome := engine.Run(ctx, job)

		if outcome.FinalCode != 0 {
			t.Errorf("expected fallback success, got final_code %d", outcome.FinalCode)
		}
		if outcome.Codec != "FLAC" {
			t.Errorf("expected fallback codec FLAC, got %s", outcome.Codec)
		}

		calls := backend.StreamCalls()
		if len(calls) != 2 || calls[0] != models.QualityMaster || calls[1] != models.QualityHiFi {
			t.Errorf("expected [Master HiFi] attempts, got %v", calls)
		}
	})

	t.Run("Wrapped Quality Error Still Falls Back", func(t *testing.T) {
		backend := &tu.MockService{
			StreamErr: map[models.AudioQuality]error{
				models.QualityMaster: errors.Join(shared.ErrQualityUnavailable, errors.New("subStatus 4005")),
			},
		}
		engine := NewEngine(EngineOpts{
			Backend:     backend,
			Quality:     models.QualityMaster,
			DownloadDir: t.TempDir(),
		})

		engine.Run(ctx, job)

		if calls := backend.StreamCalls(); len(calls) != 2 {
			t.Errorf("expected a fallback attempt, got %v", calls)
		}
	})

	t.Run("Generic Error Does Not Fall Back", func(t *testing.T) {
		backend := &tu.MockService{
			StreamErr: map[models.AudioQuality]error{
				models.QualityMaster: shared.ErrAPIRequest,
			},
		}
		engine := NewEngine(EngineOpts{
			Backend:     backend,
			Quality:     models.QualityMaster,
			DownloadDir: t.TempDir(),
		})

		outcome := engine.Run(ctx, job)

		if outcome.FinalCode != 1 {
			t.Errorf("expected final_code 1, got %d", outcome.FinalCode)
		}
		if calls := backend.StreamCalls(); len(calls) != 1 {
			t.Errorf("generic failure must not retry, got %v", calls)
		}
	})

	t.Run("No Fallback When Already HiFi", func(t *testing.T) {
		backend := &tu.MockService{
			StreamErr: map[models.AudioQuality]error{
				models.QualityHiFi: shared.ErrQualityUnavailable,
			},
		}
		engine := NewEngine(EngineOpts{
			Backend:     backend,
			Quality:     models.QualityHiFi,
			DownloadDir: t.TempDir(),
		})

		outcome := engine.Run(ctx, job)

		if outcome.FinalCode != 1 {
			t.Errorf("expected final_code 1, got %d", outcome.FinalCode)
		}
		if calls := backend.StreamCalls(); len(calls) != 1 {
			t.Errorf("HiFi failure must not retry, got %v", calls)
		}
	})

	t.Run("Fetch Failure After Fallback Keeps Fallback Codec", func(t *testing.T) {
		backend := &tu.MockService{
			Track: &models.Track{ID: "42", Title: "Blue Monday"},
			StreamErr: map[models.AudioQuality]error{
				models.QualityMaster: shared.ErrQualityUnavailable,
			},
			StreamByTier: map[models.AudioQuality]*models.Stream{
				models.QualityHiFi: {TrackID: "42", Quality: models.QualityHiFi, Codec: "flac"},
			},
			FetchErr: shared.ErrDownloadFailed,
		}
		engine := NewEngine(EngineOpts{
			Backend:     backend,
			Quality:     models.QualityMaster,
			DownloadDir: t.TempDir(),
		})

		outcome := engine.Run(ctx, job)

		if outcome.FinalCode != 1 {
			t.Errorf("expected final_code 1, got %d", outcome.FinalCode)
		}
		if outcome.Codec != "FLAC" {
			t.Errorf("expected the fallback stream's codec, got %s", outcome.Codec)
		}
		if outcome.Title != "Blue Monday" {
			t.Errorf("expected resolved title, got %s", outcome.Title)
		}
	})

	t.Run("Both Streams Unavailable Reports Primary Resolution", func(t *testing.T) {
		backend := &tu.MockService{
			Track: &models.Track{ID: "42", Title: "Blue Monday"},
			StreamErr: map[models.AudioQuality]error{
				models.QualityMaster: shared.ErrQualityUnavailable,
				models.QualityHiFi:   shared.ErrAPIRequest,
			},
		}
		engine := NewEngine(EngineOpts{
			Backend:     backend,
			Quality:     models.QualityMaster,
			DownloadDir: t.TempDir(),
		})

		outcome := engine.Run(ctx, job)

		if outcome.FinalCode != 1 {
			t.Errorf("expected final_code 1, got %d", outcome.FinalCode)
		}
		if outcome.Title != "Blue Monday" {
			t.Errorf("expected the resolved title to survive, got %s", outcome.Title)
		}
	})

	t.Run("Resolution Failure Reports Failure", func(t *testing.T) {
		backend := &tu.MockService{ResolveErr: shared.ErrTrackNotFound}
		engine := NewEngine(EngineOpts{Backend: backend, DownloadDir: t.TempDir()})

		outcome := engine.Run(ctx, job)

		if outcome.Status != "finished" {
			t.Errorf("expected status finished, got %s", outcome.Status)
		}
		if outcome.FinalCode != 1 {
			t.Errorf("expected final_code 1, got %d", outcome.FinalCode)
		}
		if outcome.Codec != "" || outcome.Title != "" {
			t.Errorf("nothing resolved, expected empty codec and title: %+v", outcome)
		}
	})

	t.Run("Bearer Token Reaches The Backend", func(t *testing.T) {
		backend := &tu.MockService{}
		engine := NewEngine(EngineOpts{Backend: backend, DownloadDir: t.TempDir()})

		engine.Run(ctx, Job{ID: "job-2", URL: "https://tidal.com/track/7", BearerToken: "tok-abc"})

		tokens := backend.Tokens()
		if len(tokens) != 1 || tokens[0] != "tok-abc" {
			t.Errorf("expected the request token to be applied, got %v", tokens)
		}
	})

	t.Run("No Token Means No Override", func(t *testing.T) {
		backend := &tu.MockService{}
		engine := NewEngine(EngineOpts{Backend: backend, DownloadDir: t.TempDir()})

		engine.Run(ctx, job)

		if tokens := backend.Tokens(); len(tokens) != 0 {
			t.Errorf("expected the stored token path, got overrides %v", tokens)
		}
	})
}

// package services contains clients for the streaming catalog the downloader talks to
package services

import (
	"context"

	"github.com/petredig/tidl/internal/models"
)

// Service defines the download backend operations the engine depends on.
//
// Implementations resolve share URLs to tracks, request playback manifests at a
// quality tier, and fetch the audio artifact to disk.
type Service interface {
	// Name returns the service identifier used in logs.
	Name() string

	// WithToken returns a copy of the service authenticated with the given
	// bearer token. The receiver is not modified; per-request token overrides
	// must not disturb the shared client.
	WithToken(token string) Service

	// ResolveTrack resolves a share URL to track metadata.
	ResolveTrack(ctx context.Context, url string) (*models.Track, error)

	// GetStream requests the playback manifest for a track at the given tier.
	// Returns an error wrapping [shared.ErrQualityUnavailable] when the catalog
	// cannot serve that tier for the stream, as opposed to transport faults.
	GetStream(ctx context.Context, trackID string, quality models.AudioQuality) (*models.Stream, error)

	// Fetch downloads the stream's audio to destDir and returns the file path.
	Fetch(ctx context.Context, track *models.Track, stream *models.Stream, destDir string) (string, error)
}

// TokenProvider supplies the stored access token for authenticated requests.
//
// The login flow persists tokens; the provider refreshes them as needed.
type TokenProvider func(ctx context.Context) (string, error)

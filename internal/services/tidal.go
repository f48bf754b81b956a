// TIDAL implementation of [Service]
//
// Endpoint shapes follow the public openapi surface; only the slices the
// downloader needs are modeled here.
package services

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/petredig/tidl/internal/models"
	"github.com/petredig/tidl/internal/shared"
	"golang.org/x/time/rate"
)

const (
	tidalBaseURL = "https://api.tidal.com"

	// subStatus the catalog returns when the asset cannot be served at the
	// requested quality tier.
	subStatusQualityUnavailable = 4005
)

// trackURLPrefixes are the share URL shapes the service accepts.
var trackURLPrefixes = []string{
	"https://tidal.com/track/",
	"https://www.tidal.com/track/",
	"https://tidal.com/browse/track/",
	"https://www.tidal.com/browse/track/",
	"https://listen.tidal.com/track/",
}

// TidalService implements [Service] against the TIDAL catalog API.
type TidalService struct {
	baseURL     string
	httpClient  *http.Client
	tokens      TokenProvider
	bearer      string // non-empty when scoped via WithToken
	countryCode string
	limiter     *rate.Limiter
}

// NewTidalService creates a catalog client. A nil http client falls back to
// [http.DefaultClient]; a zero delay disables inter-download throttling.
func NewTidalService(baseURL string, client *http.Client, tokens TokenProvider, delay time.Duration) *TidalService {
	if baseURL == "" {
		baseURL = tidalBaseURL
	}
	if client == nil {
		client = http.DefaultClient
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if delay > 0 {
		limiter = rate.NewLimiter(rate.Every(delay), 1)
	}

	return &TidalService{
		baseURL:     baseURL,
		httpClient:  client,
		tokens:      tokens,
		countryCode: "US",
		limiter:     limiter,
	}
}

// Name returns the service identifier used in logs.
func (t *TidalService) Name() string { return "tidal" }

// WithToken returns a shallow copy scoped to the given bearer token.
func (t *TidalService) WithToken(token string) Service {
	scoped := *t
	scoped.bearer = token
	return &scoped
}

// apiError is the error envelope the catalog returns on non-2xx responses.
type apiError struct {
	Status      int    `json:"status"`
	SubStatus   int    `json:"subStatus"`
	UserMessage string `json:"userMessage"`
}

type trackResponse struct {
	ID       json.Number `json:"id"`
	Title    string      `json:"title"`
	Duration int         `json:"duration"`
	Explicit bool        `json:"explicit"`
	Quality  string      `json:"audioQuality"`
	Artist   struct {
		Name string `json:"name"`
	} `json:"artist"`
	Album struct {
		Title string `json:"title"`
	} `json:"album"`
}

type playbackResponse struct {
	TrackID          json.Number `json:"trackId"`
	AudioQuality     string      `json:"audioQuality"`
	ManifestMimeType string      `json:"manifestMimeType"`
	Manifest         string      `json:"manifest"`
}

type manifest struct {
	MimeType string   `json:"mimeType"`
	Codecs   string   `json:"codecs"`
	URLs     []string `json:"urls"`
}

// TrackIDFromURL extracts the numeric track ID from a share URL.
func TrackIDFromURL(rawURL string) (string, error) {
	trimmed := strings.TrimSpace(rawURL)
	for _, prefix := range trackURLPrefixes {
		if !strings.HasPrefix(trimmed, prefix) {
			continue
		}
		rest := strings.TrimPrefix(trimmed, prefix)
		if idx := strings.IndexAny(rest, "?/"); idx >= 0 {
			rest = rest[:idx]
		}
		if rest == "" {
			break
		}
		return rest, nil
	}
	return "", fmt.Errorf("%w: unrecognized track url %q", shared.ErrInvalidArgument, rawURL)
}

// IsTrackURL reports whether the URL matches an accepted share URL shape.
func IsTrackURL(rawURL string) bool {
	_, err := TrackIDFromURL(rawURL)
	return err == nil
}

// ResolveTrack resolves a share URL to track metadata.
func (t *TidalService) ResolveTrack(ctx context.Context, rawURL string) (*models.Track, error) {
	id, err := TrackIDFromURL(rawURL)
	if err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/v1/tracks/%s?countryCode=%s", t.baseURL, url.PathEscape(id), t.countryCode)

	var resp trackResponse
	if err := t.getJSON(ctx, endpoint, &resp); err != nil {
		return nil, err
	}

	return &models.Track{
		ID:       resp.ID.String(),
		Title:    resp.Title,
		Artist:   resp.Artist.Name,
		Album:    resp.Album.Title,
		Duration: resp.Duration,
		Explicit: resp.Explicit,
		Quality:  resp.Quality,
	}, nil
}

// GetStream requests the playback manifest for a track at the given tier.
func (t *TidalService) GetStream(ctx context.Context, trackID string, quality models.AudioQuality) (*models.Stream, error) {
	endpoint := fmt.Sprintf(
		"%s/v1/tracks/%s/playbackinfopostpaywall?audioquality=%s&playbackmode=STREAM&assetpresentation=FULL",
		t.baseURL, url.PathEscape(trackID), quality.Param(),
	)

	var resp playbackResponse
	if err := t.getJSON(ctx, endpoint, &resp); err != nil {
		return nil, err
	}

	decoded, err := base64.StdEncoding.DecodeString(resp.Manifest)
	if err != nil {
		return nil, fmt.Errorf("%w: undecodable manifest: %v", shared.ErrAPIRequest, err)
	}

	var m manifest
	if err := json.Unmarshal(decoded, &m); err != nil {
		return nil, fmt.Errorf("%w: unparsable manifest: %v", shared.ErrAPIRequest, err)
	}
	if len(m.URLs) == 0 {
		return nil, fmt.Errorf("%w: manifest carries no stream urls", shared.ErrAPIRequest)
	}

	return &models.Stream{
		TrackID:  resp.TrackID.String(),
		Quality:  models.QualityFromParam(resp.AudioQuality),
		Codec:    m.Codecs,
		URL:      m.URLs[0],
		MimeType: m.MimeType,
	}, nil
}

// Fetch downloads the stream's audio to destDir and returns the file path.
//
// The artifact is written to a .part file first and renamed once complete.
func (t *TidalService) Fetch(ctx context.Context, track *models.Track, stream *models.Stream, destDir string) (string, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("%w: %v", shared.ErrDownloadFailed, err)
	}

	if err := os.MkdirAll(destDir, 0755); err != nil {
		return "", fmt.Errorf("%w: %v", shared.ErrDownloadFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, stream.URL, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", shared.ErrDownloadFailed, err)
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", shared.ErrDownloadFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: stream returned status %d", shared.ErrDownloadFailed, resp.StatusCode)
	}

	path := filepath.Join(destDir, trackFileName(track, stream))
	part := path + ".part"

	out, err := os.Create(part)
	if err != nil {
		return "", fmt.Errorf("%w: %v", shared.ErrDownloadFailed, err)
	}

	if _, err := io.Copy(out, resp.Body); err != nil {
		out.Close()
		os.Remove(part)
		return "", fmt.Errorf("%w: %v", shared.ErrDownloadFailed, err)
	}
	if err := out.Close(); err != nil {
		os.Remove(part)
		return "", fmt.Errorf("%w: %v", shared.ErrDownloadFailed, err)
	}

	if err := os.Rename(part, path); err != nil {
		return "", fmt.Errorf("%w: %v", shared.ErrDownloadFailed, err)
	}

	return path, nil
}

// getJSON performs an authenticated GET and decodes the JSON response,
// classifying catalog error envelopes into sentinel errors.
func (t *TidalService) getJSON(ctx context.Context, endpoint string, target any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	token, err := t.accessToken(ctx)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", shared.ErrAPIRequest, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: failed to read response: %v", shared.ErrAPIRequest, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return classifyAPIError(resp.StatusCode, body)
	}

	if err := json.Unmarshal(body, target); err != nil {
		return fmt.Errorf("%w: undecodable response: %v", shared.ErrAPIRequest, err)
	}

	return nil
}

// accessToken resolves the effective bearer token: a WithToken override wins
// over the provider-backed stored token.
func (t *TidalService) accessToken(ctx context.Context) (string, error) {
	if t.bearer != "" {
		return t.bearer, nil
	}
	if t.tokens == nil {
		return "", shared.ErrNotAuthenticated
	}
	token, err := t.tokens(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %v", shared.ErrNotAuthenticated, err)
	}
	if token == "" {
		return "", shared.ErrNotAuthenticated
	}
	return token, nil
}

// classifyAPIError maps the catalog's error envelope onto sentinel errors so
// callers can distinguish a quality-tier refusal from transport faults.
func classifyAPIError(status int, body []byte) error {
	var envelope apiError
	_ = json.Unmarshal(body, &envelope)

	switch {
	case envelope.SubStatus == subStatusQualityUnavailable:
		return fmt.Errorf("%w: %s", shared.ErrQualityUnavailable, envelope.UserMessage)
	case status == http.StatusUnauthorized:
		return fmt.Errorf("%w: status %d %s", shared.ErrNotAuthenticated, status, envelope.UserMessage)
	case status == http.StatusNotFound:
		return fmt.Errorf("%w: status %d %s", shared.ErrTrackNotFound, status, envelope.UserMessage)
	default:
		return fmt.Errorf("%w: status %d %s", shared.ErrAPIRequest, status, envelope.UserMessage)
	}
}

// trackFileName builds "Artist - Title.ext", sanitized for the filesystem.
func trackFileName(track *models.Track, stream *models.Stream) string {
	name := "track"
	if track != nil {
		switch {
		case track.Artist != "" && track.Title != "":
			name = track.Artist + " - " + track.Title
		case track.Title != "":
			name = track.Title
		case track.ID != "":
			name = track.ID
		}
	}

	name = sanitizeFileName(name)

	ext := ".m4a"
	if stream != nil && strings.Contains(strings.ToLower(stream.Codec), "flac") {
		ext = ".flac"
	}
	return name + ext
}

// sanitizeFileName replaces path separators and other unsafe characters.
func sanitizeFileName(name string) string {
	replacer := strings.NewReplacer(
		"/", "-", "\\", "-", ":", "-", "*", "", "?", "",
		"\"", "'", "<", "(", ">", ")", "|", "-",
	)
	return strings.TrimSpace(replacer.Replace(name))
}

// package testing contains shared testing utilities
package testing

import (
	"context"
	"net/http"
	"sync"

	"github.com/petredig/tidl/internal/models"
	"github.com/petredig/tidl/internal/services"
)

// MockService is a configurable test double for [services.Service].
//
// Errors can be staged per quality tier to exercise the fallback policy.
type MockService struct {
	Track        *models.Track
	StreamByTier map[models.AudioQuality]*models.Stream
	ResolveErr   error
	StreamErr    map[models.AudioQuality]error
	FetchErr     error
	FetchPath    string
	FetchDelay   func() // invoked inside Fetch, lets tests block a download

	mu          sync.Mutex
	resolved    []string
	streamCalls []models.AudioQuality
	tokens      []string
}

func (m *MockService) Name() string { return "mock" }

func (m *MockService) WithToken(token string) services.Service {
	m.mu.Lock()
	m.tokens = append(m.tokens, token)
	m.mu.Unlock()
	return m
}

func (m *MockService) ResolveTrack(ctx context.Context, url string) (*models.Track, error) {
	m.mu.Lock()
	m.resolved = append(m.resolved, url)
	m.mu.Unlock()

	if m.ResolveErr != nil {
		return nil, m.ResolveErr
	}
	if m.Track != nil {
		return m.Track, nil
	}
	return &models.Track{ID: "1", Title: "Untitled"}, nil
}

func (m *MockService) GetStream(ctx context.Context, trackID string, quality models.AudioQuality) (*models.Stream, error) {
	m.mu.Lock()
	m.streamCalls = append(m.streamCalls, quality)
	m.mu.Unlock()

	if err := m.StreamErr[quality]; err != nil {
		return nil, err
	}
	if stream := m.StreamByTier[quality]; stream != nil {
		return stream, nil
	}
	return &models.Stream{TrackID: trackID, Quality: quality}, nil
}

func (m *MockService) Fetch(ctx context.Context, track *models.Track, stream *models.Stream, destDir string) (string, error) {
	if m.FetchDelay != nil {
		m.FetchDelay()
	}
	if m.FetchErr != nil {
		return "", m.FetchErr
	}
	if m.FetchPath != "" {
		return m.FetchPath, nil
	}
	return destDir + "/mock.flac", nil
}

// ResolvedURLs returns the URLs passed to ResolveTrack, in order.
func (m *MockService) ResolvedURLs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.resolved...)
}

// StreamCalls returns the quality tiers requested, in order.
func (m *MockService) StreamCalls() []models.AudioQuality {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.AudioQuality(nil), m.streamCalls...)
}

// Tokens returns the bearer tokens passed to WithToken, in order.
func (m *MockService) Tokens() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.tokens...)
}

// MockRoundTripper allows custom HTTP responses for testing
type MockRoundTripper struct {
	response *http.Response
	err      error
}

func NewMockRoundTripper(r *http.Response, e error) *MockRoundTripper {
	return &MockRoundTripper{response: r, err: e}
}

func (m *MockRoundTripper) RoundTrip(*http.Request) (*http.Response, error) {
	return m.response, m.err
}

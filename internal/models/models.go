// package models defines the data model for the tidl downloader
package models

import (
	"time"
)

// Model defines the base interface for all persistent models.
type Model interface {
	ID() string           // ID returns the unique identifier for this model
	CreatedAt() time.Time // CreatedAt returns when this model was created
	UpdatedAt() time.Time // UpdatedAt returns when this model was last updated
	Validate() error      // Validate checks if the model's data is valid and returns an error if not
}

// Repository defines the interface for data access operations.
// Implementations handle database interactions for specific model types.
type Repository[T Model] interface {
	Create(model T) error                      // Create inserts a new model into the database
	Get(id string) (T, error)                  // Get retrieves a model by its ID
	Update(model T) error                      // Update modifies an existing model in the database
	Delete(id string) error                    // Delete removes a model from the database by its ID
	List(criteria map[string]any) ([]T, error) // List retrieves all models matching the given criteria
}

// Track represents track metadata resolved from a share URL.
type Track struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Artist   string `json:"artist"`
	Album    string `json:"album"`
	Duration int    `json:"duration"`
	Explicit bool   `json:"explicit"`
	Quality  string `json:"audioQuality"`
}

// Stream represents the playback manifest for a track at a specific quality tier.
type Stream struct {
	TrackID  string       `json:"trackId"`
	Quality  AudioQuality `json:"audioQuality"`
	Codec    string       `json:"codec"`
	URL      string       `json:"url"`
	MimeType string       `json:"mimeType"`
}

// CodecLabel returns the uppercase codec name for display, falling back to the
// quality tier when the manifest omits a codec.
func (s *Stream) CodecLabel() string {
	if s == nil {
		return ""
	}
	if s.Codec != "" {
		return upper(s.Codec)
	}
	return s.Quality.String()
}

func upper(s string) string {
	b := []byte(s)
	for i := range b {
		if b[i] >= 'a' && b[i] <= 'z' {
			b[i] -= 'a' - 'A'
		}
	}
	return string(b)
}

package models

import (
	"fmt"
	"time"
)

// DownloadRecord is a persisted record of a finished download attempt.
//
// One record is written per job regardless of outcome; FinalCode carries 0 or 1
// the same way the listener reports it.
type DownloadRecord struct {
	id        string
	Sequence  int
	URL       string
	Title     string
	Codec     string
	Quality   string
	FinalCode int
	Fallback  bool
	createdAt time.Time
	updatedAt time.Time
	deletedAt *time.Time
}

// NewDownloadRecord creates an unsaved record with timestamps initialized.
func NewDownloadRecord(url, title, codec, quality string, finalCode int, fallback bool) *DownloadRecord {
	now := time.Now().UTC()
	return &DownloadRecord{
		URL:       url,
		Title:     title,
		Codec:     codec,
		Quality:   quality,
		FinalCode: finalCode,
		Fallback:  fallback,
		createdAt: now,
		updatedAt: now,
	}
}

func (d *DownloadRecord) ID() string           { return d.id }
func (d *DownloadRecord) CreatedAt() time.Time { return d.createdAt }
func (d *DownloadRecord) UpdatedAt() time.Time { return d.updatedAt }

// SetID assigns the generated identifier. Called by the repository on insert.
func (d *DownloadRecord) SetID(id string) { d.id = id }

// SetTimestamps restores persisted timestamps when scanning rows.
func (d *DownloadRecord) SetTimestamps(created, updated time.Time, deleted *time.Time) {
	d.createdAt = created
	d.updatedAt = updated
	d.deletedAt = deleted
}

// Touch updates the modification timestamp.
func (d *DownloadRecord) Touch() { d.updatedAt = time.Now().UTC() }

// Deleted reports whether the record is soft-deleted.
func (d *DownloadRecord) Deleted() bool { return d.deletedAt != nil }

// Validate checks if the record's data is valid.
func (d *DownloadRecord) Validate() error {
	if d.URL == "" {
		return fmt.Errorf("download record requires a url")
	}
	if d.FinalCode != 0 && d.FinalCode != 1 {
		return fmt.Errorf("final code must be 0 or 1, got %d", d.FinalCode)
	}
	return nil
}

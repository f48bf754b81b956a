// Package repositories provides the persistence layer for download history.
//
// The HistoryRepository implements models.Repository[*models.DownloadRecord],
// handling CRUD operations, soft deletes, and sequence generation against the
// SQLite history database.
package repositories

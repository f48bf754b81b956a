// Package models defines domain entities and persistence interfaces for the tidl downloader.
//
// The package contains two categories of types:
//
// 1. Data Transfer Objects (DTOs): Lightweight structs representing catalog data
//   - [Track] : Track metadata resolved from a share URL
//   - [Stream] : Playback manifest for a track at a given quality tier
//
// 2. Persistent Entities: Database-backed models with full lifecycle management
//   - [DownloadRecord] : Finished download attempts kept for the history command
//
// Persistent entities implement the Model interface providing ID generation, timestamps,
// validation, and soft delete support. The Repository[T] interface defines standard CRUD
// operations for database access.
//
// [AudioQuality] enumerates the stream quality tiers; [QualityHiFi] is the automatic
// fallback tier when the configured tier is unavailable for a stream.
package models

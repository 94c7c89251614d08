package reader

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"marathon/internal/apperr"
	"marathon/pkg/database"
)

// Counts is how much a reader has read: distinct verses and distinct chapters
// with at least one read verse.
type Counts struct {
	VersesRead   int `json:"verses_read"`
	ChaptersRead int `json:"chapters_read"`
}

// RecomputeCounters rebuilds the cached counters on readers from
// reading_progress. It always counts from scratch, so re-marks and unmarks
// can never make the cache drift.
func RecomputeCounters(ctx context.Context, db database.DBTX, readerID int64) (Counts, error) {
	var c Counts
	err := db.QueryRowContext(ctx, `
		UPDATE readers SET
			total_verses_read = (SELECT COUNT(DISTINCT verse_id) FROM reading_progress WHERE reader_id = ? AND is_read = 1),
			total_chapters_read = (SELECT COUNT(DISTINCT chapter_id) FROM reading_progress WHERE reader_id = ? AND is_read = 1),
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
		RETURNING total_verses_read, total_chapters_read`, readerID, readerID, readerID).
		Scan(&c.VersesRead, &c.ChaptersRead)
	if errors.Is(err, sql.ErrNoRows) {
		return Counts{}, apperr.NotFound("reader.RecomputeCounters", "reader %d not found", readerID)
	}
	if err != nil {
		return Counts{}, fmt.Errorf("recompute counters for reader %d: %w", readerID, err)
	}
	return c, nil
}

// CachedCounts returns the denormalized counters stored on the reader row.
func CachedCounts(ctx context.Context, db database.DBTX, readerID int64) (Counts, error) {
	var c Counts
	err := db.QueryRowContext(ctx, `SELECT total_verses_read, total_chapters_read FROM readers WHERE id = ?`, readerID).
		Scan(&c.VersesRead, &c.ChaptersRead)
	if errors.Is(err, sql.ErrNoRows) {
		return Counts{}, apperr.NotFound("reader.CachedCounts", "reader %d not found", readerID)
	}
	if err != nil {
		return Counts{}, fmt.Errorf("cached counts for reader %d: %w", readerID, err)
	}
	return c, nil
}

// LiveCounts aggregates reading_progress directly. Use it when the answer
// must be authoritative.
func LiveCounts(ctx context.Context, db database.DBTX, readerID int64) (Counts, error) {
	var c Counts
	err := db.QueryRowContext(ctx, `
		SELECT COUNT(DISTINCT verse_id), COUNT(DISTINCT chapter_id)
		FROM reading_progress WHERE reader_id = ? AND is_read = 1`, readerID).
		Scan(&c.VersesRead, &c.ChaptersRead)
	if err != nil {
		return Counts{}, fmt.Errorf("live counts for reader %d: %w", readerID, err)
	}
	return c, nil
}

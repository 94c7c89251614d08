// Package stats computes completion metrics over reading_progress.
//
// A verse counts as read only when some row for it has is_read = 1; rows with
// is_read = 0 are the same as no row at all. Denominators are the verse rows
// actually present in the scope, and Percentage turns a pair into the
// rounded, clamped figure every endpoint reports.
package stats

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"

	"marathon/internal/bible"
	"marathon/pkg/database"
)

// Percentage is read/total*100 rounded to two decimals, clamped to [0, 100],
// and 0 for an empty scope.
func Percentage(read, total int) float64 {
	if total <= 0 || read <= 0 {
		return 0
	}
	p := float64(read) / float64(total) * 100
	if p > 100 {
		p = 100
	}
	return math.Round(p*100) / 100
}

type General struct {
	TotalBooks           int     `json:"total_books"`
	TotalChapters        int     `json:"total_chapters"`
	TotalVerses          int     `json:"total_verses"`
	VersesRead           int     `json:"verses_read"`
	ChaptersStarted      int     `json:"chapters_started"`
	ChaptersCompleted    int     `json:"chapters_completed"`
	TotalReaders         int     `json:"total_readers"`
	ActiveReaders        int     `json:"active_readers"`
	CompletionPercentage float64 `json:"completion_percentage"`
}

type BookStats struct {
	BookID               int64   `json:"book_id"`
	Key                  string  `json:"key"`
	Name                 string  `json:"name"`
	Testament            string  `json:"testament"`
	OrderIndex           int     `json:"order_index"`
	TotalChapters        int     `json:"total_chapters"`
	TotalVerses          int     `json:"total_verses"`
	VersesRead           int     `json:"verses_read"`
	Readers              int     `json:"readers"`
	CompletionPercentage float64 `json:"completion_percentage"`
}

type ChapterStats struct {
	ChapterID            int64   `json:"chapter_id"`
	ChapterNumber        int     `json:"chapter_number"`
	TotalVerses          int     `json:"total_verses"`
	VersesRead           int     `json:"verses_read"`
	Readers              int     `json:"readers"`
	Completed            bool    `json:"completed"`
	CompletionPercentage float64 `json:"completion_percentage"`
}

// ReaderStats are live counts from reading_progress. CachedVersesRead is the
// denormalized counter on the reader row, reported so drift is visible.
type ReaderStats struct {
	ReaderID             int64      `json:"reader_id"`
	UUID                 string     `json:"uuid"`
	Name                 string     `json:"name"`
	AvatarColor          string     `json:"avatar_color"`
	IsActive             bool       `json:"is_active"`
	VersesRead           int        `json:"verses_read"`
	ChaptersRead         int        `json:"chapters_read"`
	ChaptersCompleted    int        `json:"chapters_completed"`
	CachedVersesRead     int        `json:"cached_verses_read"`
	LastReadAt           *time.Time `json:"last_read_at"`
	CompletionPercentage float64    `json:"completion_percentage"`
}

// verse totals per chapter, from the verse rows themselves
const chapterTotals = `SELECT chapter_id, COUNT(*) AS total FROM verses GROUP BY chapter_id`

func GetGeneral(ctx context.Context, db database.DBTX) (General, error) {
	var g General
	err := db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM books),
			(SELECT COUNT(*) FROM chapters),
			(SELECT COUNT(*) FROM verses),
			(SELECT COUNT(DISTINCT verse_id) FROM reading_progress WHERE is_read = 1),
			(SELECT COUNT(DISTINCT chapter_id) FROM reading_progress WHERE is_read = 1),
			(SELECT COUNT(*) FROM (
				SELECT rp.chapter_id
				FROM reading_progress rp
				JOIN (`+chapterTotals+`) vt ON vt.chapter_id = rp.chapter_id
				WHERE rp.is_read = 1
				GROUP BY rp.chapter_id, vt.total
				HAVING COUNT(DISTINCT rp.verse_id) >= vt.total)),
			(SELECT COUNT(*) FROM readers),
			(SELECT COUNT(*) FROM readers WHERE is_active = 1)`).
		Scan(&g.TotalBooks, &g.TotalChapters, &g.TotalVerses, &g.VersesRead, &g.ChaptersStarted,
			&g.ChaptersCompleted, &g.TotalReaders, &g.ActiveReaders)
	if err != nil {
		return General{}, fmt.Errorf("general stats: %w", err)
	}
	g.CompletionPercentage = Percentage(g.VersesRead, g.TotalVerses)
	return g, nil
}

// GetBooks reports per-book completion in canonical order. testament may be
// empty for all books.
func GetBooks(ctx context.Context, db database.DBTX, testament string) ([]BookStats, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT b.id, b.key, b.name, b.testament, b.order_index, b.total_chapters,
		       COALESCE(vt.total, 0), COALESCE(vr.read_count, 0), COALESCE(vr.readers, 0)
		FROM books b
		LEFT JOIN (
			SELECT c.book_id, COUNT(v.id) AS total
			FROM chapters c JOIN verses v ON v.chapter_id = c.id
			GROUP BY c.book_id
		) vt ON vt.book_id = b.id
		LEFT JOIN (
			SELECT book_id, COUNT(DISTINCT verse_id) AS read_count, COUNT(DISTINCT reader_id) AS readers
			FROM reading_progress WHERE is_read = 1
			GROUP BY book_id
		) vr ON vr.book_id = b.id
		WHERE (? = '' OR b.testament = ?)
		ORDER BY b.order_index`, testament, testament)
	if err != nil {
		return nil, fmt.Errorf("book stats: %w", err)
	}
	defer rows.Close()

	res := []BookStats{}
	for rows.Next() {
		var s BookStats
		if err := rows.Scan(&s.BookID, &s.Key, &s.Name, &s.Testament, &s.OrderIndex, &s.TotalChapters,
			&s.TotalVerses, &s.VersesRead, &s.Readers); err != nil {
			return nil, fmt.Errorf("scan book stats: %w", err)
		}
		s.CompletionPercentage = Percentage(s.VersesRead, s.TotalVerses)
		res = append(res, s)
	}
	return res, rows.Err()
}

// GetChapters reports per-chapter completion for one book.
func GetChapters(ctx context.Context, db database.DBTX, bookKey string) ([]ChapterStats, error) {
	book, err := bible.GetBookByKey(ctx, db, bookKey)
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `
		SELECT c.id, c.chapter_number, COALESCE(vt.total, 0),
		       COALESCE(vr.read_count, 0), COALESCE(vr.readers, 0)
		FROM chapters c
		LEFT JOIN (`+chapterTotals+`) vt ON vt.chapter_id = c.id
		LEFT JOIN (
			SELECT chapter_id, COUNT(DISTINCT verse_id) AS read_count, COUNT(DISTINCT reader_id) AS readers
			FROM reading_progress WHERE is_read = 1 AND book_id = ?
			GROUP BY chapter_id
		) vr ON vr.chapter_id = c.id
		WHERE c.book_id = ?
		ORDER BY c.chapter_number`, book.ID, book.ID)
	if err != nil {
		return nil, fmt.Errorf("chapter stats: %w", err)
	}
	defer rows.Close()

	res := []ChapterStats{}
	for rows.Next() {
		var s ChapterStats
		if err := rows.Scan(&s.ChapterID, &s.ChapterNumber, &s.TotalVerses, &s.VersesRead, &s.Readers); err != nil {
			return nil, fmt.Errorf("scan chapter stats: %w", err)
		}
		s.Completed = s.TotalVerses > 0 && s.VersesRead >= s.TotalVerses
		s.CompletionPercentage = Percentage(s.VersesRead, s.TotalVerses)
		res = append(res, s)
	}
	return res, rows.Err()
}

// GetReaders computes every reader's progress with a join over
// reading_progress rather than trusting the cached counters. Ordered by
// verses read, most first.
func GetReaders(ctx context.Context, db database.DBTX) ([]ReaderStats, error) {
	var totalVerses int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM verses`).Scan(&totalVerses); err != nil {
		return nil, fmt.Errorf("count verses: %w", err)
	}

	completed, err := completedChapters(ctx, db)
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `
		SELECT r.id, r.uuid, r.name, r.avatar_color, r.is_active, r.total_verses_read,
		       COUNT(DISTINCT rp.verse_id), COUNT(DISTINCT rp.chapter_id), MAX(rp.read_at)
		FROM readers r
		LEFT JOIN reading_progress rp ON rp.reader_id = r.id AND rp.is_read = 1
		GROUP BY r.id
		ORDER BY COUNT(DISTINCT rp.verse_id) DESC, r.name`)
	if err != nil {
		return nil, fmt.Errorf("reader stats: %w", err)
	}
	defer rows.Close()

	res := []ReaderStats{}
	for rows.Next() {
		var s ReaderStats
		var last sql.NullString
		if err := rows.Scan(&s.ReaderID, &s.UUID, &s.Name, &s.AvatarColor, &s.IsActive, &s.CachedVersesRead,
			&s.VersesRead, &s.ChaptersRead, &last); err != nil {
			return nil, fmt.Errorf("scan reader stats: %w", err)
		}
		if last.Valid {
			t, err := database.ParseTime(last.String)
			if err != nil {
				return nil, fmt.Errorf("reader %d last read: %w", s.ReaderID, err)
			}
			s.LastReadAt = &t
		}
		s.ChaptersCompleted = completed[s.ReaderID]
		s.CompletionPercentage = Percentage(s.VersesRead, totalVerses)
		res = append(res, s)
	}
	return res, rows.Err()
}

// completedChapters counts, per reader, the chapters whose every verse that
// reader has read.
func completedChapters(ctx context.Context, db database.DBTX) (map[int64]int, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT x.reader_id, COUNT(*)
		FROM (
			SELECT reader_id, chapter_id, COUNT(DISTINCT verse_id) AS n
			FROM reading_progress WHERE is_read = 1
			GROUP BY reader_id, chapter_id
		) x
		JOIN (`+chapterTotals+`) vt ON vt.chapter_id = x.chapter_id
		WHERE x.n >= vt.total
		GROUP BY x.reader_id`)
	if err != nil {
		return nil, fmt.Errorf("completed chapters: %w", err)
	}
	defer rows.Close()

	res := make(map[int64]int)
	for rows.Next() {
		var id int64
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, fmt.Errorf("scan completed chapters: %w", err)
		}
		res[id] = n
	}
	return res, rows.Err()
}
